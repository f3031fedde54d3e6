// Package federation implements cross-site query fan-out, the global
// merge and reversible composite pagination.
package federation

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Direction marks which way a cursor resumes.
type Direction string

const (
	// DirNext resumes below the boundary (older rows).
	DirNext Direction = "next"
	// DirPrev resumes above the boundary (newer rows).
	DirPrev Direction = "prev"
)

// ErrBadCursor is returned for cursors that do not decode.
var ErrBadCursor = errors.New("malformed pagination cursor")

// Cursor is the composite pagination boundary. TS is the boundary
// timestamp; Offset positions the boundary inside the run of rows that
// share TS, counted in global merge order from the newest end. Natural
// row IDs never appear here: they are not comparable across sites, so
// the tie-break is the merge-order index instead.
type Cursor struct {
	TS     time.Time `json:"ts"`
	Offset int       `json:"off"`
	Dir    Direction `json:"dir"`
}

// Encode renders the cursor as an opaque token.
func (c Cursor) Encode() string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses a token produced by Encode.
func DecodeCursor(token string) (*Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	if c.Dir != DirNext && c.Dir != DirPrev {
		return nil, fmt.Errorf("%w: unknown direction %q", ErrBadCursor, c.Dir)
	}
	if c.Offset < 0 {
		return nil, fmt.Errorf("%w: negative offset", ErrBadCursor)
	}
	return &c, nil
}

// flip returns the same boundary facing the other way. The edge between
// two adjacent pages is one point; the cursor back to the previous page
// is the cursor that produced this page, reversed.
func (c Cursor) flip() Cursor {
	out := c
	if c.Dir == DirNext {
		out.Dir = DirPrev
	} else {
		out.Dir = DirNext
	}
	return out
}
