package links

import (
	"fmt"
	"regexp"
	"strings"
)

// Placeholder is the wire token the generator leaves for an internal link:
//
//	[LINK slug="seo-guide" text="SEO guide"]
type Placeholder struct {
	Slug string
	Text string
}

func (p Placeholder) String() string {
	return fmt.Sprintf(`[LINK slug="%s" text="%s"]`, p.Slug, p.Text)
}

var (
	tokenRe = regexp.MustCompile(`\[LINK((?:\s+\w+="[^"]*")*)\s*\]`)
	attrRe  = regexp.MustCompile(`(\w+)\s*=\s*(?:"([^"]*)"|'([^']*)')`)

	// brokenRe catches anything placeholder-shaped, including unterminated tokens cut off
	// before the next tag.
	brokenRe = regexp.MustCompile(`\[LINK\b[^\]<]*\]?`)

	// looseTextRe recovers the anchor text of a token whose closing quote was lost.
	looseTextRe = regexp.MustCompile(`text\s*=\s*["']([^"'\]]*)`)
)

// parseStrict accepts a token carrying exactly a non-empty slug and a non-empty text attribute.
func parseStrict(token string) (Placeholder, bool) {
	m := tokenRe.FindStringSubmatch(token)
	if m == nil || m[0] != token {
		return Placeholder{}, false
	}
	attrs := parseAttrs(m[1])
	if len(attrs) != 2 || attrs["slug"] == "" || attrs["text"] == "" {
		return Placeholder{}, false
	}
	return Placeholder{Slug: attrs["slug"], Text: attrs["text"]}, true
}

func parseAttrs(s string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrRe.FindAllStringSubmatch(s, -1) {
		v := m[2]
		if v == "" {
			v = m[3]
		}
		attrs[strings.ToLower(m[1])] = strings.TrimSpace(v)
	}
	return attrs
}

// replaceTokens calls fn for every well-formed placeholder in html and splices in its result.
func replaceTokens(html string, fn func(Placeholder) string) string {
	return tokenRe.ReplaceAllStringFunc(html, func(token string) string {
		p, ok := parseStrict(token)
		if !ok {
			return token
		}
		return fn(p)
	})
}

// Placeholders lists the well-formed placeholders in html in document order.
func Placeholders(html string) []Placeholder {
	var out []Placeholder
	for _, token := range tokenRe.FindAllString(html, -1) {
		if p, ok := parseStrict(token); ok {
			out = append(out, p)
		}
	}
	return out
}
