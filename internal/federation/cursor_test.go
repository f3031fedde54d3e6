package federation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	in := Cursor{TS: ts, Offset: 3, Dir: DirNext}

	token := in.Encode()
	out, err := DecodeCursor(token)
	require.NoError(t, err)

	assert.True(t, out.TS.Equal(ts))
	assert.Equal(t, 3, out.Offset)
	assert.Equal(t, DirNext, out.Dir)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"not base64", "???not-base64???"},
		{"not json", "bm90LWpzb24"},
		{"unknown direction", Cursor{TS: time.Now(), Dir: "sideways"}.Encode()},
		{"negative offset", Cursor{TS: time.Now(), Offset: -1, Dir: DirNext}.Encode()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCursor(tt.token)
			assert.ErrorIs(t, err, ErrBadCursor)
		})
	}
}

func TestCursorFlipIsInvolutive(t *testing.T) {
	c := Cursor{TS: time.Now().UTC(), Offset: 7, Dir: DirNext}

	flipped := c.flip()
	assert.Equal(t, DirPrev, flipped.Dir)
	assert.Equal(t, c.TS, flipped.TS)
	assert.Equal(t, c.Offset, flipped.Offset)

	assert.Equal(t, c, flipped.flip())
}
