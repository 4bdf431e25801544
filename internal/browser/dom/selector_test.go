package dom_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/pagepilot/internal/browser/dom"
	"github.com/xkilldash9x/pagepilot/internal/browser/htmldoc"
)

func parse(t *testing.T, markup string, opts ...htmldoc.Option) *htmldoc.Document {
	t.Helper()
	doc, err := htmldoc.ParseString(markup, opts...)
	require.NoError(t, err)
	return doc
}

func query(t *testing.T, doc dom.Document, selector string) []dom.Element {
	t.Helper()
	els, err := doc.QueryAll(context.Background(), selector)
	require.NoError(t, err)
	return els
}

func TestSelectorFor(t *testing.T) {
	t.Run("id wins regardless of ancestry", func(t *testing.T) {
		doc := parse(t, `<body><div class="a"><section><button id="submit">Go</button></section></div></body>`)
		el := query(t, doc, "button")[0]
		assert.Equal(t, "#submit", dom.SelectorFor(el))
	})

	t.Run("deterministic", func(t *testing.T) {
		doc := parse(t, `<body><ul><li><a>One</a></li><li><a>Two</a></li></ul></body>`)
		el := query(t, doc, "a")[1]
		assert.Equal(t, dom.SelectorFor(el), dom.SelectorFor(el))
	})

	t.Run("classes and nth-child only for same-tag siblings", func(t *testing.T) {
		doc := parse(t, `<body><div class="list main"><ul><li><a>One</a></li><li><a>Two</a></li></ul></div></body>`)
		el := query(t, doc, "a")[1]
		sel := dom.SelectorFor(el)
		assert.Equal(t, "div.list.main > ul > li:nth-child(2) > a", sel)

		resolved := query(t, doc, sel)
		require.Len(t, resolved, 1)
		assert.True(t, resolved[0].IsSameNode(el))
	})

	t.Run("nth-child counts every element sibling", func(t *testing.T) {
		doc := parse(t, `<body><div><span>x</span><button>A</button><button>B</button></div></body>`)
		el := query(t, doc, "button")[1]
		assert.Equal(t, "div > button:nth-child(3)", dom.SelectorFor(el))
	})

	t.Run("depth is capped", func(t *testing.T) {
		doc := parse(t, `<body><main><div><div><div><div><div><span><a>deep</a></span></div></div></div></div></div></main></body>`)
		el := query(t, doc, "a")[0]
		sel := dom.SelectorFor(el)
		assert.Len(t, strings.Split(sel, " > "), dom.MaxSelectorDepth)
		assert.Equal(t, "div > div > div > span > a", sel)
	})

	t.Run("stops before body", func(t *testing.T) {
		doc := parse(t, `<body><button>Top</button></body>`)
		assert.Equal(t, "button", dom.SelectorFor(query(t, doc, "button")[0]))
	})

	t.Run("escapes special characters", func(t *testing.T) {
		doc := parse(t, `<body><button id="form:submit">A</button><button id="1st">B</button><button id="a.b">D</button><div class="w-1/2"><a>C</a></div></body>`)
		buttons := query(t, doc, "button")
		assert.Equal(t, `#form\:submit`, dom.SelectorFor(buttons[0]))
		assert.Equal(t, `#\31 st`, dom.SelectorFor(buttons[1]))
		assert.Equal(t, `#a\.b`, dom.SelectorFor(buttons[2]), "a dotted id is not read as a class")
		link := query(t, doc, "a")[0]
		assert.Equal(t, `div.w-1\/2 > a`, dom.SelectorFor(link))

		for _, el := range append(buttons, link) {
			resolved := query(t, doc, dom.SelectorFor(el))
			require.Len(t, resolved, 1)
			assert.True(t, resolved[0].IsSameNode(el))
		}
	})

	t.Run("nil element", func(t *testing.T) {
		assert.Equal(t, "", dom.SelectorFor(nil))
	})
}

func TestUniqueSelector(t *testing.T) {
	ctx := context.Background()

	t.Run("unique path is kept", func(t *testing.T) {
		doc := parse(t, `<body><nav><a href="/a">A</a></nav><footer><a href="/b">B</a></footer></body>`)
		el := query(t, doc, "a")[1]
		assert.Equal(t, "footer > a", dom.UniqueSelector(ctx, doc, el))
	})

	t.Run("ambiguous path gains an attribute", func(t *testing.T) {
		doc := parse(t, `<body>
			<section><div><button name="save">Save</button></div></section>
			<div><button name="discard">Discard</button></div>
		</body>`)
		el := query(t, doc, "button")[1]
		require.Equal(t, "div > button", dom.SelectorFor(el))
		assert.Len(t, query(t, doc, "div > button"), 2)

		sel := dom.UniqueSelector(ctx, doc, el)
		assert.Equal(t, `div > button[name="discard"]`, sel)
		resolved := query(t, doc, sel)
		require.Len(t, resolved, 1)
		assert.True(t, resolved[0].IsSameNode(el))
	})

	t.Run("href only qualifies anchors", func(t *testing.T) {
		doc := parse(t, `<body>
			<aside><p><a href="/x">X</a></p></aside>
			<p><a href="/y">Y</a></p>
		</body>`)
		el := query(t, doc, "a")[1]
		assert.Equal(t, `p > a[href="/y"]`, dom.UniqueSelector(ctx, doc, el))
	})

	t.Run("falls back to the path when nothing is unique", func(t *testing.T) {
		doc := parse(t, `<body>
			<section><div><button>Same</button></div></section>
			<div><button>Same</button></div>
		</body>`)
		el := query(t, doc, "button")[1]
		assert.Equal(t, "div > button", dom.UniqueSelector(ctx, doc, el))
	})

	t.Run("duplicate ids", func(t *testing.T) {
		doc := parse(t, `<body><input id="q" name="search"><input id="q" name="filter"></body>`)
		el := query(t, doc, "input")[1]
		assert.Equal(t, `#q[name="filter"]`, dom.UniqueSelector(ctx, doc, el))
	})
}

func TestQuoteAttributeValue(t *testing.T) {
	assert.Equal(t, `"plain"`, dom.QuoteAttributeValue("plain"))
	assert.Equal(t, `"say \"hi\""`, dom.QuoteAttributeValue(`say "hi"`))
	assert.Equal(t, `"a\\b"`, dom.QuoteAttributeValue(`a\b`))
	assert.Equal(t, `"line\a break"`, dom.QuoteAttributeValue("line\nbreak"))
}

func TestCSSEscape(t *testing.T) {
	testCases := map[string]string{
		"simple":  "simple",
		"a.b":     `a\.b`,
		"-":       `\-`,
		"-1x":     `-\31 x`,
		"9lives":  `\39 lives`,
		"ünïcode": "ünïcode",
		"a b":     `a\ b`,
	}
	for in, want := range testCases {
		assert.Equal(t, want, dom.CSSEscape(in), in)
	}
}
