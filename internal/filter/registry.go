package filter

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vyrodovalexey/filterproxy/internal/config"
	"github.com/vyrodovalexey/filterproxy/internal/util"
)

// Factory builds a filter instance for one response.
type Factory func(opts Options) (ContentFilter, error)

// builtinFactories maps filter ids to their constructors.
var builtinFactories = map[string]Factory{
	IDIdentity: func(Options) (ContentFilter, error) {
		return Identity(), nil
	},
	IDHTML: NewHTMLFilter,
	IDJSON: NewJSONFilter,
	IDText: NewTextFilter,
}

// Rule selects a filter for responses of one MIME type.
type Rule struct {
	MimeType   string
	Path       string
	Regex      bool
	FilterID   string
	Subfilters []config.SubfilterConfig
}

// Matches reports whether the rule applies to the request URL. Path "*"
// matches everything, other paths match case-insensitively. Regex rules
// never match: regex URL matching is not implemented.
func (r Rule) Matches(url string) bool {
	if r.Regex {
		return false
	}
	return r.Path == "*" || strings.EqualFold(r.Path, url)
}

// Registry holds the filter rules loaded from configuration, grouped by
// MIME type in configuration order. It is never modified after
// NewRegistry returns, so it is safe for concurrent use.
type Registry struct {
	rules     map[string][]Rule
	factories map[string]Factory
	count     int
}

// RegistryOption is a functional option for the registry.
type RegistryOption func(*Registry)

// WithFactory registers an additional filter id.
func WithFactory(id string, factory Factory) RegistryOption {
	return func(r *Registry) {
		r.factories[strings.ToLower(id)] = factory
	}
}

// NewRegistry builds a registry from rule configuration. Rules are not
// checked here; call Validate to find unknown ids.
func NewRegistry(rules []config.FilterRuleConfig, opts ...RegistryOption) *Registry {
	r := &Registry{
		rules:     make(map[string][]Rule),
		factories: make(map[string]Factory, len(builtinFactories)),
	}
	for id, factory := range builtinFactories {
		r.factories[id] = factory
	}
	for _, opt := range opts {
		opt(r)
	}

	for i := range rules {
		rc := &rules[i]
		mime := rc.NormalizedMimeType()
		r.rules[mime] = append(r.rules[mime], Rule{
			MimeType:   mime,
			Path:       strings.TrimSpace(rc.Path),
			Regex:      rc.Regex,
			FilterID:   strings.ToLower(strings.TrimSpace(rc.Filter)),
			Subfilters: append([]config.SubfilterConfig(nil), rc.Subfilters...),
		})
		r.count++
	}
	return r
}

// Len returns the number of rules.
func (r *Registry) Len() int {
	return r.count
}

// Rules returns the rules registered for a MIME type, in order.
func (r *Registry) Rules(mimeType string) []Rule {
	rules := r.rules[config.NormalizeMimeType(mimeType)]
	return append([]Rule(nil), rules...)
}

// Lookup returns the first rule for the MIME type that matches url.
func (r *Registry) Lookup(mimeType, url string) (Rule, bool) {
	for _, rule := range r.rules[config.NormalizeMimeType(mimeType)] {
		if rule.Matches(url) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Build instantiates the filter named by rule and attaches its sub-filters.
func (r *Registry) Build(rule Rule, opts Options) (ContentFilter, error) {
	factory, ok := r.factories[rule.FilterID]
	if !ok {
		return nil, util.NewConfigurationErrorWithCause("filter",
			fmt.Sprintf("unknown filter %q", rule.FilterID), util.ErrUnknownFilter)
	}

	f, err := factory(opts)
	if err != nil {
		return nil, util.NewConfigurationErrorWithCause("filter",
			fmt.Sprintf("cannot build filter %q: %v", rule.FilterID, err), err)
	}
	if err := f.AddSubfilters(rule.Subfilters); err != nil {
		return nil, util.NewConfigurationErrorWithCause("subfilters",
			fmt.Sprintf("cannot resolve sub-filters of %q: %v", rule.FilterID, err), err)
	}
	return f, nil
}

// Validate builds every rule once and returns all failures.
func (r *Registry) Validate() error {
	mimes := make([]string, 0, len(r.rules))
	for mime := range r.rules {
		mimes = append(mimes, mime)
	}
	sort.Strings(mimes)

	var errs util.ConfigurationErrors
	for _, mime := range mimes {
		for i, rule := range r.rules[mime] {
			_, err := r.Build(rule, Options{})
			if err == nil {
				continue
			}
			msg := err.Error()
			var ce *util.ConfigurationError
			if errors.As(err, &ce) {
				msg = ce.Message
			}
			errs.Add(fmt.Sprintf("filters[%s][%d]", mime, i), msg, err)
		}
	}
	return errs.ErrorOrNil()
}
