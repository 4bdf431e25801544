package browser

import (
	"github.com/xkilldash9x/pagepilot/internal/browser/dom"
)

type rectRecord struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type styleRecord struct {
	Display    string `json:"display"`
	Visibility string `json:"visibility"`
	Opacity    string `json:"opacity"`
}

// nodeRecord is what the registry reports about one element.
type nodeRecord struct {
	Ref     int64             `json:"ref"`
	Tag     string            `json:"tag"`
	Attrs   map[string]string `json:"attrs"`
	Text    string            `json:"text"`
	Value   string            `json:"value"`
	Nth     int               `json:"nth"`
	SameTag int               `json:"sameTag"`
	Rect    rectRecord        `json:"rect"`
	Style   styleRecord       `json:"style"`
	Parent  int64             `json:"parent"`
}

// Element is a dom.Element read from a live tab. Its fields reflect the page
// when the query that produced it ran; actions go back to the tab by
// reference.
type Element struct {
	tab   string
	rec   *nodeRecord
	nodes map[int64]*nodeRecord
}

var _ dom.Element = (*Element)(nil)

// Ref is the element's registry reference within its tab.
func (e *Element) Ref() int64 { return e.rec.Ref }

func (e *Element) TagName() string   { return e.rec.Tag }
func (e *Element) ID() string        { return e.rec.Attrs["id"] }
func (e *Element) ClassName() string { return e.rec.Attrs["class"] }
func (e *Element) Text() string      { return e.rec.Text }
func (e *Element) Value() string     { return e.rec.Value }

func (e *Element) Attribute(name string) (string, bool) {
	v, ok := e.rec.Attrs[name]
	return v, ok
}

func (e *Element) Parent() dom.Element {
	p, ok := e.nodes[e.rec.Parent]
	if !ok || e.rec.Parent == 0 {
		return nil
	}
	return &Element{tab: e.tab, rec: p, nodes: e.nodes}
}

func (e *Element) SiblingPosition() (int, int) { return e.rec.Nth, e.rec.SameTag }

func (e *Element) Rect() dom.Rect {
	r := e.rec.Rect
	return dom.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
}

func (e *Element) Style() dom.ComputedStyle {
	s := e.rec.Style
	return dom.ComputedStyle{Display: s.Display, Visibility: s.Visibility, Opacity: s.Opacity}
}

func (e *Element) IsSameNode(other dom.Element) bool {
	o, ok := other.(*Element)
	return ok && o != nil && o.tab == e.tab && o.rec.Ref == e.rec.Ref
}

// collection is the registry's answer to a query.
type collection struct {
	Matches []int64      `json:"matches"`
	Nodes   []nodeRecord `json:"nodes"`
	Invalid string       `json:"invalid"`
}

func (c *collection) elements(tab string) []dom.Element {
	nodes := make(map[int64]*nodeRecord, len(c.Nodes))
	for i := range c.Nodes {
		nodes[c.Nodes[i].Ref] = &c.Nodes[i]
	}
	out := make([]dom.Element, 0, len(c.Matches))
	for _, ref := range c.Matches {
		if rec, ok := nodes[ref]; ok {
			out = append(out, &Element{tab: tab, rec: rec, nodes: nodes})
		}
	}
	return out
}
