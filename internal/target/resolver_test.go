package target

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	users map[string]int64
}

func (f *fakeLookup) LookupUser(_ context.Context, name string) (int64, bool, error) {
	id, ok := f.users[name]
	return id, ok, nil
}

func newTestResolver() *Resolver {
	return NewResolver(&fakeLookup{users: map[string]int64{
		"Investigated": 42,
	}}, DefaultRangeLimits())
}

func TestResolveIPv4(t *testing.T) {
	r := newTestResolver()

	p, err := r.Resolve(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, KindIP, p.Kind)
	assert.Equal(t, "01020304", p.Hex)
}

func TestResolveIPv6(t *testing.T) {
	r := newTestResolver()

	p, err := r.Resolve(context.Background(), "::1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, KindIP, p.Kind)
	assert.Len(t, p.Hex, 32)
	assert.Equal(t, "00000000000000000000000000000001", p.Hex)
}

func TestResolveCIDR(t *testing.T) {
	r := newTestResolver()

	p, err := r.Resolve(context.Background(), "10.0.0.0/24")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, KindIPRange, p.Kind)
	assert.Equal(t, "0A000000", p.StartHex)
	assert.Equal(t, "0A0000FF", p.EndHex)
}

func TestResolveCIDRUnaligned(t *testing.T) {
	r := newTestResolver()

	// Parseable even when the address has host bits set; bounds come from
	// the masked network.
	p, err := r.Resolve(context.Background(), "10.0.0.57/24")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "0A000000", p.StartHex)
	assert.Equal(t, "0A0000FF", p.EndHex)
}

func TestResolveCIDRTooWide(t *testing.T) {
	r := newTestResolver()

	p, err := r.Resolve(context.Background(), "10.0.0.0/8")
	require.NoError(t, err)
	assert.Nil(t, p, "ranges wider than the configured cap resolve to nothing")
}

func TestResolveUsername(t *testing.T) {
	r := newTestResolver()

	p, err := r.Resolve(context.Background(), "Investigated")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, KindUser, p.Kind)
	assert.Equal(t, int64(42), p.UserID)
	assert.Equal(t, "Investigated", p.UserText)
}

func TestResolveUnknownIsNil(t *testing.T) {
	r := newTestResolver()

	for _, raw := range []string{"NoSuchUser", "", "   ", "999.1.1.1", "1.2.3.4/99"} {
		p, err := r.Resolve(context.Background(), raw)
		require.NoError(t, err)
		assert.Nil(t, p, "raw=%q", raw)
	}
}
