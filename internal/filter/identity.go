package filter

import (
	"context"
	"io"

	"github.com/vyrodovalexey/filterproxy/internal/config"
)

// identityFilter passes the body through unchanged.
type identityFilter struct{}

// Identity returns the pass-through filter.
func Identity() ContentFilter {
	return identityFilter{}
}

// IsIdentity reports whether f is the pass-through filter.
func IsIdentity(f ContentFilter) bool {
	_, ok := f.(identityFilter)
	return ok
}

func (identityFilter) Apply(_ context.Context, body io.Reader) (io.Reader, error) {
	return body, nil
}

func (identityFilter) End(context.Context, io.Writer) error {
	return nil
}

func (identityFilter) AddSubfilters([]config.SubfilterConfig) error {
	return nil
}

func (identityFilter) Name() string {
	return IDIdentity
}
