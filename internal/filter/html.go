package filter

import (
	"bytes"
	"context"
	"strings"

	"golang.org/x/net/html"

	"github.com/vyrodovalexey/filterproxy/internal/config"
)

// HTML sub-filter ids.
const (
	IDHTMLDropElements = "html.drop_elements"
	IDHTMLDropLinks    = "html.drop_links"
)

// HTMLSubfilter edits a parsed document in place.
type HTMLSubfilter interface {
	Apply(doc *html.Node)
}

// HTMLSubfilterFunc adapts a function to HTMLSubfilter.
type HTMLSubfilterFunc func(doc *html.Node)

// Apply calls f(doc).
func (f HTMLSubfilterFunc) Apply(doc *html.Node) {
	f(doc)
}

var htmlSubfilters = map[string]subfilterFactory[HTMLSubfilter]{
	IDHTMLDropElements: newHTMLDropElements,
	IDHTMLDropLinks:    newHTMLDropLinks,
}

// HTMLFilter parses the body as an HTML document, applies its sub-filters
// and renders the result.
type HTMLFilter struct {
	*Base
	subfilters []HTMLSubfilter
}

// NewHTMLFilter creates an HTML filter.
func NewHTMLFilter(opts Options) (ContentFilter, error) {
	f := &HTMLFilter{}
	f.Base = NewBase(IDHTML, opts, f.transform)
	return f, nil
}

// AddSubfilters implements ContentFilter.
func (f *HTMLFilter) AddSubfilters(specs []config.SubfilterConfig) error {
	subfilters, err := resolveSubfilters(IDHTML, htmlSubfilters, specs)
	if err != nil {
		return err
	}
	f.subfilters = append(f.subfilters, subfilters...)
	return nil
}

func (f *HTMLFilter) transform(_ context.Context, in []byte) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(in))
	if err != nil {
		return nil, err
	}

	for _, sf := range f.subfilters {
		sf.Apply(doc)
	}

	var out bytes.Buffer
	if err := html.Render(&out, doc); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// newHTMLDropElements removes every element with the tag given by the
// "name" parameter (default "body").
func newHTMLDropElements(spec config.SubfilterConfig) (HTMLSubfilter, error) {
	name := strings.ToLower(strings.TrimSpace(spec.String("name", "body")))
	if name == "" {
		name = "body"
	}
	return HTMLSubfilterFunc(func(doc *html.Node) {
		for _, n := range findElements(doc, name) {
			if n.Parent != nil {
				n.Parent.RemoveChild(n)
			}
		}
	}), nil
}

// newHTMLDropLinks removes <a> elements when "fullremove" is set and
// otherwise points their href at "#".
func newHTMLDropLinks(spec config.SubfilterConfig) (HTMLSubfilter, error) {
	fullRemove := spec.Bool("fullremove", false)
	return HTMLSubfilterFunc(func(doc *html.Node) {
		for _, n := range findElements(doc, "a") {
			if fullRemove {
				if n.Parent != nil {
					n.Parent.RemoveChild(n)
				}
				continue
			}
			setAttr(n, "href", "#")
		}
	}), nil
}

// findElements returns the elements named tag in document order.
func findElements(root *html.Node, tag string) []*html.Node {
	var found []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			found = append(found, n)
			// Descendants go with their ancestor.
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return found
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
