package dom

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// MaxSelectorDepth caps the number of " > " joined segments in a path selector.
const MaxSelectorDepth = 5

// fallbackAttributes are tried, in order, when a path selector is ambiguous.
var fallbackAttributes = []string{"name", "aria-label", "placeholder", "href", "data-testid"}

// SelectorFor derives a CSS selector for el. It never touches the page.
//
// An element with an id is addressed as #id, with the id passed through
// CSSEscape so that any id resolves back to its element: "1st" becomes
// `#\31 st` and "a.b" becomes `#a\.b`. Plain ids come out unchanged.
// Otherwise the selector is a root-to-leaf chain of
// tag[.class...][:nth-child(k)] segments that starts below <body> and holds
// at most MaxSelectorDepth segments. The nth-child qualifier is only added
// when a sibling shares the element's tag.
func SelectorFor(el Element) string {
	if el == nil {
		return ""
	}
	if id := el.ID(); id != "" {
		return "#" + CSSEscape(id)
	}

	var segments []string
	for cur := el; cur != nil && len(segments) < MaxSelectorDepth; cur = cur.Parent() {
		tag := cur.TagName()
		if tag == "body" || tag == "html" {
			break
		}
		segments = append(segments, segmentFor(cur))
	}
	if len(segments) == 0 {
		return el.TagName()
	}

	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return strings.Join(segments, " > ")
}

func segmentFor(el Element) string {
	var sb strings.Builder
	sb.WriteString(el.TagName())
	for _, class := range strings.Fields(el.ClassName()) {
		sb.WriteByte('.')
		sb.WriteString(CSSEscape(class))
	}
	if nth, same := el.SiblingPosition(); same > 1 {
		sb.WriteString(":nth-child(")
		sb.WriteString(strconv.Itoa(nth))
		sb.WriteByte(')')
	}
	return sb.String()
}

// UniqueSelector returns SelectorFor(el) when it resolves to exactly el in
// doc. Otherwise the last segment is qualified with the first identifying
// attribute that makes it unique. When nothing does, the plain selector is
// returned.
func UniqueSelector(ctx context.Context, doc Document, el Element) string {
	base := SelectorFor(el)
	if resolvesTo(ctx, doc, base, el) {
		return base
	}

	for _, attr := range fallbackAttributes {
		if attr == "href" && el.TagName() != "a" {
			continue
		}
		v, ok := el.Attribute(attr)
		if !ok || v == "" {
			continue
		}
		candidate := fmt.Sprintf("%s[%s=%s]", base, attr, QuoteAttributeValue(v))
		if resolvesTo(ctx, doc, candidate, el) {
			return candidate
		}
	}
	return base
}

func resolvesTo(ctx context.Context, doc Document, selector string, el Element) bool {
	matches, err := doc.QueryAll(ctx, selector)
	if err != nil || len(matches) != 1 {
		return false
	}
	return matches[0].IsSameNode(el)
}

// CSSEscape escapes an identifier for use in a selector, following CSS.escape().
func CSSEscape(ident string) string {
	runes := []rune(ident)
	var sb strings.Builder
	for i, r := range runes {
		switch {
		case r == 0:
			sb.WriteRune('\uFFFD')
		case (r >= 0x01 && r <= 0x1f) || r == 0x7f,
			i == 0 && r >= '0' && r <= '9',
			i == 1 && r >= '0' && r <= '9' && runes[0] == '-':
			fmt.Fprintf(&sb, "\\%x ", r)
		case i == 0 && r == '-' && len(runes) == 1:
			sb.WriteString(`\-`)
		case r >= 0x80 || r == '-' || r == '_' ||
			(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			sb.WriteRune(r)
		default:
			sb.WriteByte('\\')
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// QuoteAttributeValue renders v as a double quoted CSS string.
func QuoteAttributeValue(v string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range v {
		switch r {
		case '"', '\\':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case '\n':
			sb.WriteString(`\a `)
		case '\r':
			sb.WriteString(`\d `)
		case 0:
			sb.WriteRune('\uFFFD')
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
