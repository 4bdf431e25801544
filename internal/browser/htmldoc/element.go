package htmldoc

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/xkilldash9x/pagepilot/internal/browser/dom"
	"golang.org/x/net/html"
)

// Default box size for elements without explicit width and height.
const (
	defaultWidth  = 100
	defaultHeight = 20
)

// Element is a dom.Element backed by a parsed HTML node.
type Element struct {
	doc  *Document
	node *html.Node
}

var _ dom.Element = (*Element)(nil)

// Node exposes the underlying HTML node.
func (e *Element) Node() *html.Node { return e.node }

func (e *Element) TagName() string { return strings.ToLower(e.node.Data) }

func (e *Element) ID() string { return htmlquery.SelectAttr(e.node, "id") }

func (e *Element) ClassName() string { return htmlquery.SelectAttr(e.node, "class") }

func (e *Element) Attribute(name string) (string, bool) {
	for _, a := range e.node.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func (e *Element) Text() string { return htmlquery.InnerText(e.node) }

// Value mirrors the DOM value property for form controls; other elements
// report their value attribute.
func (e *Element) Value() string {
	e.doc.mu.RLock()
	v, set := e.doc.values[e.node]
	e.doc.mu.RUnlock()
	if set {
		return v
	}

	switch e.TagName() {
	case "textarea":
		return htmlquery.InnerText(e.node)
	case "select":
		opts := options(e.node)
		for _, o := range opts {
			if htmlquery.ExistsAttr(o, "selected") {
				return optionValue(o)
			}
		}
		if len(opts) > 0 {
			return optionValue(opts[0])
		}
		return ""
	default:
		return htmlquery.SelectAttr(e.node, "value")
	}
}

func (e *Element) Parent() dom.Element {
	p := e.node.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil
	}
	return e.doc.wrap(p)
}

func (e *Element) SiblingPosition() (int, int) {
	if e.node.Parent == nil {
		return 1, 1
	}
	nth, sameTag := 0, 0
	seen := false
	for c := e.node.Parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if !seen {
			nth++
		}
		if c == e.node {
			seen = true
		}
		if c.Data == e.node.Data {
			sameTag++
		}
	}
	return nth, sameTag
}

func (e *Element) IsSameNode(other dom.Element) bool {
	o, ok := other.(*Element)
	return ok && o.doc == e.doc && o.node == e.node
}

// Rect lays the element out from its styles: explicit left/top/width/height
// in pixels, otherwise a default box stacked by document order. Elements
// that are not rendered have an empty rect. Coordinates are relative to the
// scrolled viewport.
func (e *Element) Rect() dom.Rect {
	if !e.doc.rendered(e.node) {
		return dom.Rect{}
	}
	decls := e.doc.declared(e.node)

	width, height := float64(defaultWidth), float64(defaultHeight)
	if w, ok := pixels(decls["width"]); ok {
		width = w
	}
	if h, ok := pixels(decls["height"]); ok {
		height = h
	}

	e.doc.mu.RLock()
	order := e.doc.order[e.node]
	scrollX, scrollY := e.doc.scrollX, e.doc.scrollY
	e.doc.mu.RUnlock()

	left, top := 0.0, float64(order*defaultHeight)
	if l, ok := pixels(decls["left"]); ok {
		left = l
	}
	if t, ok := pixels(decls["top"]); ok {
		top = t
	}
	return dom.Rect{X: left - float64(scrollX), Y: top - float64(scrollY), Width: width, Height: height}
}

// Style resolves the element's computed display, visibility and opacity.
// visibility inherits, the others do not.
func (e *Element) Style() dom.ComputedStyle {
	decls := e.doc.declared(e.node)
	style := dom.ComputedStyle{
		Display:    decls["display"],
		Visibility: "visible",
		Opacity:    decls["opacity"],
	}
	if style.Display == "" {
		style.Display = defaultDisplay(e.TagName())
	}
	if style.Opacity == "" {
		style.Opacity = "1"
	}
	for n := e.node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if v := e.doc.declared(n)["visibility"]; v != "" && v != "inherit" {
			style.Visibility = v
			break
		}
	}
	return style
}

func defaultDisplay(tag string) string {
	switch tag {
	case "head", "script", "style", "title", "template", "meta", "link", "base", "noscript":
		return "none"
	case "a", "span", "button", "input", "select", "textarea", "label", "img", "b", "i", "em", "strong", "code":
		return "inline"
	default:
		return "block"
	}
}

func options(sel *html.Node) []*html.Node {
	return htmlquery.Find(sel, ".//option")
}

func optionValue(opt *html.Node) string {
	if htmlquery.ExistsAttr(opt, "value") {
		return htmlquery.SelectAttr(opt, "value")
	}
	return strings.TrimSpace(htmlquery.InnerText(opt))
}
