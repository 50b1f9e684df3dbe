package filter

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  Path
		str   string
		leaf  string
	}{
		{input: "", want: Path{}, str: "/", leaf: ""},
		{input: "/", want: Path{}, str: "/", leaf: ""},
		{input: "/a", want: Path{{Kind: Literal, Name: "a"}}, str: "/a", leaf: "a"},
		{
			input: "a//*/c/",
			want: Path{
				{Kind: Literal, Name: "a"},
				{Kind: Wildcard},
				{Kind: Literal, Name: "c"},
			},
			str:  "/a/*/c",
			leaf: "c",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			p := ParsePath(tt.input)
			assert.Equal(t, tt.want, p)
			assert.Equal(t, tt.str, p.String())
			assert.Equal(t, tt.leaf, p.Leaf())
		})
	}
}

func TestPath_Visit(t *testing.T) {
	t.Parallel()

	doc := map[string]interface{}{
		"a": map[string]interface{}{
			"b": []interface{}{
				map[string]interface{}{"c": 1},
				map[string]interface{}{"c": 2, "d": 3},
				"scalar",
			},
		},
		"x": map[string]interface{}{
			"y": map[string]interface{}{"c": 4},
			"z": map[string]interface{}{"c": 5},
		},
	}

	collect := func(p string) []interface{} {
		var got []interface{}
		ParsePath(p).Visit(doc, func(parent map[string]interface{}, key string) {
			got = append(got, parent[key])
		})
		sort.Slice(got, func(i, j int) bool {
			return got[i].(int) < got[j].(int)
		})
		return got
	}

	assert.Equal(t, []interface{}{1, 2}, collect("/a/b/c"))
	assert.Equal(t, []interface{}{4, 5}, collect("/x/*/c"))
	assert.Equal(t, []interface{}{3}, collect("/a/b/d"))
	assert.Empty(t, collect("/a/missing/c"))
	assert.Empty(t, collect(""))
}
