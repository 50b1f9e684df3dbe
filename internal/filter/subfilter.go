package filter

import (
	"fmt"
	"strings"

	"github.com/vyrodovalexey/filterproxy/internal/config"
	"github.com/vyrodovalexey/filterproxy/internal/util"
)

// subfilterFactory builds one sub-filter from its descriptor.
type subfilterFactory[T any] func(desc config.SubfilterConfig) (T, error)

// resolveSubfilters builds the sub-filters named by descs, in order.
// Every failure is collected before returning.
func resolveSubfilters[T any](
	filterID string,
	factories map[string]subfilterFactory[T],
	descs []config.SubfilterConfig,
) ([]T, error) {
	var errs util.ConfigurationErrors
	out := make([]T, 0, len(descs))

	for i, desc := range descs {
		field := fmt.Sprintf("subfilters[%d]", i)
		factory, ok := factories[strings.ToLower(strings.TrimSpace(desc.Filter))]
		if !ok {
			errs.Add(field, fmt.Sprintf("unknown %s sub-filter %q", filterID, desc.Filter), util.ErrUnknownFilter)
			continue
		}
		sf, err := factory(desc)
		if err != nil {
			errs.Add(field, fmt.Sprintf("cannot build %s sub-filter %q: %v", filterID, desc.Filter, err), err)
			continue
		}
		out = append(out, sf)
	}

	if errs.HasErrors() {
		return nil, errs
	}
	return out, nil
}
