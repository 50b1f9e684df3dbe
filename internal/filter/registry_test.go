package filter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/filterproxy/internal/config"
	"github.com/vyrodovalexey/filterproxy/internal/util"
)

func TestRule_Matches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rule Rule
		url  string
		want bool
	}{
		{name: "wildcard", rule: Rule{Path: "*"}, url: "/anything?q=1", want: true},
		{name: "exact", rule: Rule{Path: "/page.html"}, url: "/page.html", want: true},
		{name: "case insensitive", rule: Rule{Path: "/Page.HTML"}, url: "/page.html", want: true},
		{name: "different", rule: Rule{Path: "/page.html"}, url: "/other.html", want: false},
		{name: "regex never matches", rule: Rule{Path: ".*", Regex: true}, url: "/page.html", want: false},
		{name: "regex wildcard never matches", rule: Rule{Path: "*", Regex: true}, url: "/page.html", want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.rule.Matches(tt.url))
		})
	}
}

func TestRegistry_LookupOrderAndNormalization(t *testing.T) {
	t.Parallel()

	reg := NewRegistry([]config.FilterRuleConfig{
		{MimeType: "text/html", Path: "/special", Filter: "text"},
		{MimeType: "TEXT/HTML; charset=utf-8", Path: "*", Filter: "HTML"},
		{MimeType: "text/html", Path: "/never", Filter: "json"},
		{MimeType: "application/json", Path: "*", Filter: "json"},
	})

	assert.Equal(t, 4, reg.Len())
	assert.Len(t, reg.Rules("text/html"), 3)

	rule, ok := reg.Lookup("text/html; charset=ISO-8859-1", "/special")
	require.True(t, ok)
	assert.Equal(t, IDText, rule.FilterID)

	rule, ok = reg.Lookup("Text/Html", "/never")
	require.True(t, ok)
	assert.Equal(t, IDHTML, rule.FilterID, "earlier wildcard rule wins")

	_, ok = reg.Lookup("image/png", "/logo.png")
	assert.False(t, ok)
}

func TestRegistry_RulesReturnsCopy(t *testing.T) {
	t.Parallel()

	reg := NewRegistry([]config.FilterRuleConfig{{MimeType: "text/plain", Path: "*", Filter: "text"}})
	rules := reg.Rules("text/plain")
	rules[0].FilterID = "changed"

	rule, ok := reg.Lookup("text/plain", "/")
	require.True(t, ok)
	assert.Equal(t, IDText, rule.FilterID)
}

func TestRegistry_Build(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil, WithFactory("broken", func(Options) (ContentFilter, error) {
		return nil, errors.New("boom")
	}))

	f, err := reg.Build(Rule{FilterID: IDHTML, Subfilters: []config.SubfilterConfig{{Filter: IDHTMLDropLinks}}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, IDHTML, NameOf(f))

	_, err = reg.Build(Rule{FilterID: "xml"}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrUnknownFilter)
	assert.ErrorIs(t, err, util.ErrConfigInvalid)

	_, err = reg.Build(Rule{FilterID: "broken"}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	_, err = reg.Build(Rule{FilterID: IDJSON, Subfilters: []config.SubfilterConfig{{Filter: "json.nope"}}}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrUnknownFilter)
}

func TestRegistry_Validate(t *testing.T) {
	t.Parallel()

	valid := NewRegistry([]config.FilterRuleConfig{
		{MimeType: "text/html", Path: "*", Filter: "html", Subfilters: []config.SubfilterConfig{{Filter: IDHTMLDropElements}}},
		{MimeType: "application/json", Path: "*", Filter: "json", Subfilters: []config.SubfilterConfig{
			{Filter: IDJSONElementHandler, Parameters: map[string]interface{}{"action": "mask", "path": []interface{}{"/a"}}},
		}},
	})
	assert.NoError(t, valid.Validate())

	invalid := NewRegistry([]config.FilterRuleConfig{
		{MimeType: "text/html", Path: "*", Filter: "nope"},
		{MimeType: "text/plain", Path: "*", Filter: "text", Subfilters: []config.SubfilterConfig{{Filter: "html.drop_links"}}},
	})
	err := invalid.Validate()
	require.Error(t, err)

	var errs util.ConfigurationErrors
	require.ErrorAs(t, err, &errs)
	assert.Len(t, errs, 2)
	assert.Equal(t, "filters[text/html][0]", errs[0].Field)
	assert.Equal(t, "filters[text/plain][0]", errs[1].Field)
	assert.ErrorIs(t, err, util.ErrUnknownFilter)
}
