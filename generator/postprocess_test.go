package generator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeHTML(t *testing.T) {
	cases := map[string]string{
		"```html\n<p>hi</p>\n```":                   "<p>hi</p>",
		"```\n<p>hi</p>\n```":                       "<p>hi</p>",
		"Sure! Here is the section:\n<h2>A</h2>":    "<h2>A</h2>",
		"  <p>already clean</p>  ":                  "<p>already clean</p>",
		"":                                          "",
		"   \n ":                                    "",
		"Certainly! ```html\n<p>x</p>\n```":         "<p>x</p>",
		"plain sentence without any markup at all.": "plain sentence without any markup at all.",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeHTML(in), in)
	}
}

func TestSanitizeHTMLKeepsLongPrefix(t *testing.T) {
	prefix := strings.Repeat("Real introductory prose that belongs to the article. ", 3)
	in := prefix + "<p>body</p>"
	assert.Equal(t, strings.TrimSpace(in), SanitizeHTML(in))
}

func TestSanitizeHTMLRendersMarkdown(t *testing.T) {
	out := SanitizeHTML("## Heading\n\nSome **bold** text.\n\n- one\n- two")
	assert.Contains(t, out, "<h2>Heading</h2>")
	assert.Contains(t, out, "<strong>bold</strong>")
	assert.Contains(t, out, "<li>one</li>")
}
