package filter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vyrodovalexey/filterproxy/internal/config"
)

// JSON sub-filter ids.
const (
	IDJSONDropElements   = "json.drop_elements"
	IDJSONElementHandler = "json.element_handler"
)

// Element handler actions.
const (
	ActionRemove = "remove"
	ActionClear  = "clear"
	ActionMask   = "mask"
)

// Masking defaults.
const (
	DefaultMaskPattern   = "****"
	DefaultUnmaskedCount = 2
)

var errNoJSONObject = errors.New("no JSON object in body")

// JSONSubfilter edits a decoded JSON object in place.
type JSONSubfilter interface {
	Apply(root map[string]interface{})
}

// JSONSubfilterFunc adapts a function to JSONSubfilter.
type JSONSubfilterFunc func(root map[string]interface{})

// Apply calls f(root).
func (f JSONSubfilterFunc) Apply(root map[string]interface{}) {
	f(root)
}

var jsonSubfilters = map[string]subfilterFactory[JSONSubfilter]{
	IDJSONDropElements:   newJSONDropElements,
	IDJSONElementHandler: newJSONElementHandler,
}

// JSONFilter decodes the body as a JSON object, applies its sub-filters
// and encodes the result. Bytes before the first '{' are dropped.
type JSONFilter struct {
	*Base
	subfilters []JSONSubfilter
}

// NewJSONFilter creates a JSON filter.
func NewJSONFilter(opts Options) (ContentFilter, error) {
	f := &JSONFilter{}
	f.Base = NewBase(IDJSON, opts, f.transform)
	return f, nil
}

// AddSubfilters implements ContentFilter.
func (f *JSONFilter) AddSubfilters(specs []config.SubfilterConfig) error {
	subfilters, err := resolveSubfilters(IDJSON, jsonSubfilters, specs)
	if err != nil {
		return err
	}
	f.subfilters = append(f.subfilters, subfilters...)
	return nil
}

func (f *JSONFilter) transform(_ context.Context, in []byte) ([]byte, error) {
	start := bytes.IndexByte(in, '{')
	if start < 0 {
		return nil, errNoJSONObject
	}

	dec := json.NewDecoder(bytes.NewReader(in[start:]))
	dec.UseNumber()

	var root map[string]interface{}
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decoding JSON body: %w", err)
	}

	for _, sf := range f.subfilters {
		sf.Apply(root)
	}

	return json.Marshal(root)
}

// newJSONDropElements empties the objects and arrays selected by "path".
// Without a path the root object is emptied.
func newJSONDropElements(spec config.SubfilterConfig) (JSONSubfilter, error) {
	path := ParsePath(spec.String("path", ""))
	return JSONSubfilterFunc(func(root map[string]interface{}) {
		if len(path) == 0 {
			clear(root)
			return
		}
		path.Visit(root, func(parent map[string]interface{}, key string) {
			switch parent[key].(type) {
			case map[string]interface{}:
				parent[key] = map[string]interface{}{}
			case []interface{}:
				parent[key] = []interface{}{}
			}
		})
	}), nil
}

// ElementHandler removes, clears or masks the values selected by its paths.
type ElementHandler struct {
	action        string
	paths         []Path
	maskPattern   string
	unmaskedCount int
}

func newJSONElementHandler(spec config.SubfilterConfig) (JSONSubfilter, error) {
	action := strings.ToLower(spec.String("action", ActionRemove))
	switch action {
	case ActionRemove, ActionClear, ActionMask:
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}

	h := &ElementHandler{
		action:        action,
		maskPattern:   spec.String("maskPattern", DefaultMaskPattern),
		unmaskedCount: spec.Int("unmaskedCount", DefaultUnmaskedCount),
	}
	for _, p := range spec.Strings("path") {
		h.paths = append(h.paths, ParsePath(p))
	}
	return h, nil
}

// Apply implements JSONSubfilter.
func (h *ElementHandler) Apply(root map[string]interface{}) {
	if len(h.paths) == 0 {
		clear(root)
		return
	}
	for _, path := range h.paths {
		if len(path) == 0 {
			clear(root)
			continue
		}
		path.Visit(root, h.handle)
	}
}

func (h *ElementHandler) handle(parent map[string]interface{}, key string) {
	switch h.action {
	case ActionRemove:
		delete(parent, key)
	case ActionClear:
		switch parent[key].(type) {
		case map[string]interface{}:
			parent[key] = map[string]interface{}{}
		case []interface{}:
			parent[key] = []interface{}{}
		case string:
			parent[key] = ""
		}
	case ActionMask:
		parent[key] = h.maskValue(parent[key])
	}
}

func (h *ElementHandler) maskValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return h.maskPattern
	case []interface{}:
		masked := make([]interface{}, len(t))
		for i, elem := range t {
			masked[i] = h.maskValue(elem)
		}
		return masked
	case map[string]interface{}:
		return t
	case string:
		return MaskString(t, h.maskPattern, h.unmaskedCount)
	case json.Number:
		return MaskString(t.String(), h.maskPattern, h.unmaskedCount)
	case bool:
		return MaskString(strconv.FormatBool(t), h.maskPattern, h.unmaskedCount)
	default:
		return MaskString(fmt.Sprint(t), h.maskPattern, h.unmaskedCount)
	}
}

// MaskString hides the middle of s behind pattern, keeping unmasked
// characters at each end. Values with an '@' also hide the part around
// the '@'. Values no longer than unmasked are replaced entirely.
func MaskString(s, pattern string, unmasked int) string {
	runes := []rune(s)
	if unmasked < 1 || len(runes) <= unmasked {
		return pattern
	}

	head := string(runes[:unmasked])
	tail := string(runes[len(runes)-unmasked:])
	if strings.ContainsRune(s, '@') {
		return head + pattern + "@" + pattern + tail
	}
	return head + pattern + tail
}
