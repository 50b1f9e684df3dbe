package filter

import (
	"context"
	"io"

	"github.com/vyrodovalexey/filterproxy/internal/config"
)

// Filter ids.
const (
	IDIdentity = "identity"
	IDHTML     = "html"
	IDJSON     = "json"
	IDText     = "text"
)

// ContentFilter transforms one response body. An instance serves exactly
// one response and is never shared.
type ContentFilter interface {
	// Apply returns a reader producing the transformed body. For chunked
	// bodies the returned reader consumes the whole source and yields no
	// bytes; the transformed output is written by End.
	Apply(ctx context.Context, body io.Reader) (io.Reader, error)

	// End writes any output held back by Apply. It must be called after
	// the reader returned by Apply reached EOF.
	End(ctx context.Context, dst io.Writer) error

	// AddSubfilters resolves sub-filter descriptors and appends them to
	// the transform chain in order.
	AddSubfilters(specs []config.SubfilterConfig) error
}

// Named is implemented by filters that report their id.
type Named interface {
	Name() string
}

// NameOf returns the id of f, or "unknown".
func NameOf(f ContentFilter) string {
	if n, ok := f.(Named); ok {
		return n.Name()
	}
	return "unknown"
}
