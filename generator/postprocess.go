package generator

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
)

// 前缀短于该长度时视为客套话（"Sure! Here is the section:"）直接丢弃。
const maxBoilerplatePrefix = 100

var (
	leadingFenceRe  = regexp.MustCompile("^```[a-zA-Z]*[ \t]*\r?\n?")
	trailingFenceRe = regexp.MustCompile("\r?\n?```\\s*$")
	markdownLineRe  = regexp.MustCompile(`(?m)^(#{1,6}\s|[-*+]\s|\d+\.\s|>\s)|\*\*[^*]+\*\*`)
)

// SanitizeHTML 去掉模型输出外层的代码块和寒暄前缀，返回 HTML 片段。
// 不会失败：空输入返回 ""，无法安全清理的文本原样保留。
func SanitizeHTML(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	if strings.HasPrefix(s, "```") {
		s = leadingFenceRe.ReplaceAllString(s, "")
	}
	s = strings.TrimSpace(trailingFenceRe.ReplaceAllString(s, ""))

	idx := strings.IndexByte(s, '<')
	if idx < 0 {
		if markdownLineRe.MatchString(s) {
			if html, err := mdToHTML(s); err == nil {
				return strings.TrimSpace(html)
			}
		}
		return s
	}
	if idx > 0 {
		prefix := strings.TrimSpace(s[:idx])
		if prefix != "" && utf8.RuneCountInString(prefix) < maxBoilerplatePrefix {
			s = s[idx:]
		}
	}
	return s
}

func mdToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
