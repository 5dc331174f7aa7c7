// Package reqid carries a per-request identifier through contexts so event
// subscribers can correlate the events of one request.
package reqid

import (
	"context"
	"math/rand/v2"
	"strconv"
)

// Header is the HTTP response header that echoes the request ID.
const Header = "X-Request-Id"

type key struct{}

// NewContext returns a copy of parent with a new random request ID stored.
// It also returns the generated ID.
func NewContext(parent context.Context) (context.Context, int64) {
	id := rand.Int64()
	return WithID(parent, id), id
}

// WithID returns a copy of parent carrying id.
func WithID(parent context.Context, id int64) context.Context {
	return context.WithValue(parent, key{}, id)
}

// FromContext extracts the request ID from ctx.
// It returns the ID and whether it was present.
func FromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(key{}).(int64)
	return id, ok
}

// Format renders id for headers and logs.
func Format(id int64) string { return strconv.FormatInt(id, 16) }
