package filter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/vyrodovalexey/filterproxy/internal/config"
)

// Text sub-filter ids.
const (
	IDTextReplace = "text.replace"
	IDTextUpper   = "text.upper"
	IDTextLower   = "text.lower"
)

// TextSubfilter rewrites a string.
type TextSubfilter func(s string) string

var textSubfilters = map[string]subfilterFactory[TextSubfilter]{
	IDTextReplace: newTextReplace,
	IDTextUpper: func(spec config.SubfilterConfig) (TextSubfilter, error) {
		return newCaseMapper(spec, cases.Upper)
	},
	IDTextLower: func(spec config.SubfilterConfig) (TextSubfilter, error) {
		return newCaseMapper(spec, cases.Lower)
	},
}

// newCaseMapper maps letter case with the rules of the "language"
// parameter (BCP 47, default und). A Caser keeps state, so one is created
// per call.
func newCaseMapper(
	spec config.SubfilterConfig,
	mapper func(language.Tag, ...cases.Option) cases.Caser,
) (TextSubfilter, error) {
	tag := language.Und
	if lang := spec.String("language", ""); lang != "" {
		parsed, err := language.Parse(lang)
		if err != nil {
			return nil, fmt.Errorf("invalid language %q: %w", lang, err)
		}
		tag = parsed
	}
	return func(s string) string {
		return mapper(tag).String(s)
	}, nil
}

// TextFilter applies string sub-filters in sequence.
type TextFilter struct {
	*Base
	subfilters []TextSubfilter
}

// NewTextFilter creates a text filter. Text transforms are cheap and do
// not use the pool.
func NewTextFilter(opts Options) (ContentFilter, error) {
	f := &TextFilter{}
	opts.Pool = nil
	f.Base = NewBase(IDText, opts, f.transform)
	return f, nil
}

// AddSubfilters implements ContentFilter.
func (f *TextFilter) AddSubfilters(specs []config.SubfilterConfig) error {
	subfilters, err := resolveSubfilters(IDText, textSubfilters, specs)
	if err != nil {
		return err
	}
	f.subfilters = append(f.subfilters, subfilters...)
	return nil
}

func (f *TextFilter) transform(_ context.Context, in []byte) ([]byte, error) {
	if len(f.subfilters) == 0 {
		return in, nil
	}
	s := string(in)
	for _, sf := range f.subfilters {
		s = sf(s)
	}
	return []byte(s), nil
}

// newTextReplace replaces every "old" with "new".
func newTextReplace(spec config.SubfilterConfig) (TextSubfilter, error) {
	old := spec.String("old", "")
	if old == "" {
		return nil, errors.New(`parameter "old" is required`)
	}
	repl := spec.String("new", "")
	return func(s string) string {
		return strings.ReplaceAll(s, old, repl)
	}, nil
}
