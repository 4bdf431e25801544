// Package dom defines the page abstraction the automation engine works
// against, together with the provider independent pieces built on top of it:
// visibility rules, selector synthesis and snapshot capture.
package dom

import (
	"context"
	"errors"

	"github.com/xkilldash9x/pagepilot/api/schemas"
)

// ErrInvalidSelector is returned (wrapped) by Document.QueryAll when the
// provider cannot parse the selector.
var ErrInvalidSelector = errors.New("invalid selector")

// Rect is an element's bounding client rectangle.
type Rect struct {
	X, Y, Width, Height float64
}

// ComputedStyle carries the computed properties that decide visibility.
type ComputedStyle struct {
	Display    string
	Visibility string
	Opacity    string
}

// PageInfo describes the document as a whole.
type PageInfo struct {
	URL      string
	Title    string
	Viewport schemas.Viewport
}

// Element is a handle to a node in a Document. Implementations answer from
// the state of the page at the time of the call.
type Element interface {
	// TagName is lower case.
	TagName() string
	ID() string
	ClassName() string
	Attribute(name string) (string, bool)
	// Text is the element's text content.
	Text() string
	Value() string
	// Parent returns nil for the root element.
	Parent() Element
	// SiblingPosition returns the 1-based position of the element among its
	// parent's element children and how many of those share its tag name.
	SiblingPosition() (nth int, sameTag int)
	Rect() Rect
	Style() ComputedStyle
	IsSameNode(other Element) bool
}

// Document is a page (or an iframe's content document) that can be queried
// and mutated. QueryAll returns matches in document order.
type Document interface {
	Info(ctx context.Context) (PageInfo, error)
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	// FindByText returns the element whose trimmed text content equals text,
	// or nil when there is none.
	FindByText(ctx context.Context, text string) (Element, error)

	ScrollIntoView(ctx context.Context, el Element) error
	Click(ctx context.Context, el Element) error
	Focus(ctx context.Context, el Element) error
	SetValue(ctx context.Context, el Element, value string) error
	DispatchEvent(ctx context.Context, el Element, eventType string) error
	ScrollTo(ctx context.Context, x, y int) error
	ScrollBy(ctx context.Context, dx, dy int) error
	Navigate(ctx context.Context, url string) error
}
