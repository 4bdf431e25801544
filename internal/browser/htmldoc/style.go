package htmldoc

import (
	"sort"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// declarations maps lower case property names to values.
type declarations map[string]string

// styleRule is one selector of a <style> rule set with its declarations.
type styleRule struct {
	sel   cascadia.Sel
	order int
	decls declarations
}

// stylesheet is the author style of a document, ordered by ascending
// specificity and then source order so later rules win when applied in turn.
type stylesheet []styleRule

// parseStylesheets collects the rules of every <style> element under root.
func parseStylesheets(root *html.Node) stylesheet {
	var sheet stylesheet
	for _, n := range cascadia.MustCompile("style").MatchAll(root) {
		var sb strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				sb.WriteString(c.Data)
			}
		}
		sheet = append(sheet, parseRules(sb.String(), len(sheet))...)
	}
	sort.SliceStable(sheet, func(i, j int) bool {
		si, sj := sheet[i].sel.Specificity(), sheet[j].sel.Specificity()
		if si != sj {
			return si.Less(sj)
		}
		return sheet[i].order < sheet[j].order
	})
	return sheet
}

// parseRules reads "selectors { declarations }" blocks. At-rules and rules
// with selectors cascadia cannot parse are skipped.
func parseRules(css string, orderBase int) []styleRule {
	s := &scanner{input: css}
	var rules []styleRule
	for {
		s.skipSpaceAndComments()
		if s.eof() {
			return rules
		}
		if s.current() == '@' {
			s.skipAtRule()
			continue
		}
		start := s.pos
		s.skipTo('{')
		selText := strings.TrimSpace(s.input[start:s.pos])
		if s.eof() {
			return rules
		}
		s.pos++ // '{'
		bodyStart := s.pos
		s.skipTo('}')
		decls := parseDeclarations(s.input[bodyStart:s.pos])
		if !s.eof() {
			s.pos++ // '}'
		}

		group, err := cascadia.ParseGroup(selText)
		if err != nil || len(decls) == 0 {
			continue
		}
		for _, sel := range group {
			rules = append(rules, styleRule{sel: sel, order: orderBase + len(rules), decls: decls})
		}
	}
}

// parseDeclarations parses "prop: value; ..." as found in a style attribute
// or a rule body. !important is accepted and ignored.
func parseDeclarations(input string) declarations {
	s := &scanner{input: input}
	decls := declarations{}
	for {
		s.skipSpaceAndComments()
		if s.eof() {
			return decls
		}
		if s.current() == ';' {
			s.pos++
			continue
		}
		prop := strings.ToLower(s.identifier())
		s.skipSpaceAndComments()
		if prop == "" || s.eof() || s.current() != ':' {
			s.skipTo(';')
			continue
		}
		s.pos++ // ':'
		val := s.value()
		val = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(val), "!important"))
		if val != "" {
			decls[prop] = strings.ToLower(val)
		}
	}
}

// scanner is a byte oriented reader over a CSS fragment.
type scanner struct {
	input string
	pos   int
}

func (s *scanner) eof() bool { return s.pos >= len(s.input) }

func (s *scanner) current() byte {
	if s.eof() {
		return 0
	}
	return s.input[s.pos]
}

func (s *scanner) skipSpaceAndComments() {
	for !s.eof() {
		switch {
		case isSpace(s.current()):
			s.pos++
		case strings.HasPrefix(s.input[s.pos:], "/*"):
			end := strings.Index(s.input[s.pos+2:], "*/")
			if end < 0 {
				s.pos = len(s.input)
			} else {
				s.pos += end + 4
			}
		default:
			return
		}
	}
}

func (s *scanner) skipTo(target byte) {
	for !s.eof() && s.current() != target {
		if q := s.current(); q == '"' || q == '\'' {
			s.skipQuoted(q)
			continue
		}
		s.pos++
	}
}

func (s *scanner) skipQuoted(quote byte) {
	s.pos++
	for !s.eof() {
		ch := s.input[s.pos]
		s.pos++
		if ch == '\\' {
			s.pos++
		} else if ch == quote {
			return
		}
	}
}

func (s *scanner) skipAtRule() {
	for !s.eof() {
		switch s.current() {
		case ';':
			s.pos++
			return
		case '{':
			depth := 0
			for !s.eof() {
				switch s.input[s.pos] {
				case '{':
					depth++
				case '}':
					depth--
				}
				s.pos++
				if depth == 0 {
					return
				}
			}
			return
		}
		s.pos++
	}
}

func (s *scanner) identifier() string {
	start := s.pos
	for !s.eof() && isIdentChar(s.current()) {
		s.pos++
	}
	return s.input[start:s.pos]
}

func (s *scanner) value() string {
	start := s.pos
	depth := 0
	for !s.eof() {
		ch := s.current()
		switch {
		case ch == ';' && depth == 0:
			v := s.input[start:s.pos]
			s.pos++
			return v
		case ch == '"' || ch == '\'':
			s.skipQuoted(ch)
			continue
		case ch == '(':
			depth++
		case ch == ')' && depth > 0:
			depth--
		}
		s.pos++
	}
	return s.input[start:s.pos]
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f'
}

func isIdentChar(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '-' || ch == '_'
}

// pixels parses "12", "12px" or "12.5px". Other units are not supported.
func pixels(v string) (float64, bool) {
	v = strings.TrimSuffix(strings.TrimSpace(v), "px")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
