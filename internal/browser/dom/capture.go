package dom

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/pagepilot/api/schemas"
)

// InteractiveQuery selects the elements a snapshot describes.
const InteractiveQuery = `a, button, input, textarea, select, [role="button"], [onclick], [tabindex]`

// MaxTextLength bounds ElementDescriptor.Text, in characters.
const MaxTextLength = 100

// now is replaced in tests.
var now = time.Now

// Capture describes the visible interactive elements of doc. Hidden elements
// are dropped and the survivors are indexed in document order. Index is dense
// over that visible subset: it runs 0..len(Elements)-1 with no gaps where
// hidden elements were, so it is a position in Elements and not in the page.
// The page is not modified.
func Capture(ctx context.Context, doc Document) (*schemas.DOMSnapshot, error) {
	info, err := doc.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page info: %w", err)
	}

	elements, err := doc.QueryAll(ctx, InteractiveQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactive elements: %w", err)
	}

	descriptors := make([]schemas.ElementDescriptor, 0, len(elements))
	for _, el := range elements {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rect := el.Rect()
		if !IsVisible(rect, el.Style()) {
			continue
		}
		d := Describe(el, rect)
		d.Index = len(descriptors)
		d.Selector = UniqueSelector(ctx, doc, el)
		descriptors = append(descriptors, d)
	}

	return &schemas.DOMSnapshot{
		URL:       info.URL,
		Title:     info.Title,
		Elements:  descriptors,
		Viewport:  info.Viewport,
		Timestamp: now().UnixMilli(),
	}, nil
}

// Describe fills the descriptor fields that come straight from the element.
// Index and Selector are left for the caller.
func Describe(el Element, rect Rect) schemas.ElementDescriptor {
	attr := func(name string) string {
		v, _ := el.Attribute(name)
		return v
	}
	return schemas.ElementDescriptor{
		TagName:     el.TagName(),
		ID:          el.ID(),
		ClassName:   el.ClassName(),
		Text:        Truncate(strings.TrimSpace(el.Text()), MaxTextLength),
		Value:       el.Value(),
		Type:        attr("type"),
		Name:        attr("name"),
		Href:        attr("href"),
		Placeholder: attr("placeholder"),
		AriaLabel:   attr("aria-label"),
		Role:        attr("role"),
		Visible:     true,
		Position: schemas.Position{
			X:      rect.X,
			Y:      rect.Y,
			Width:  rect.Width,
			Height: rect.Height,
		},
	}
}

// Truncate cuts s to at most n characters.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
