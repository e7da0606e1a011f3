package generator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// JSONExtractionError 表示所有修复手段都无法得到可解析的 JSON。
type JSONExtractionError struct {
	Raw      string
	Attempts []string
}

func (e *JSONExtractionError) Error() string {
	preview := strings.TrimSpace(e.Raw)
	if len(preview) > 120 {
		preview = preview[:120] + "..."
	}
	return fmt.Sprintf("no parseable JSON in model output after %d repair attempts (%s): %q",
		len(e.Attempts), strings.Join(e.Attempts, ", "), preview)
}

var (
	fenceLineRe   = regexp.MustCompile("(?m)^\\s*```[a-zA-Z0-9_-]*\\s*$")
	fenceInlineRe = regexp.MustCompile("```[a-zA-Z0-9_-]*")
)

// ExtractJSON 从模型的自由文本中恢复一个 JSON 值。
// 合法输入原样返回；否则依次处理代码块、尾逗号、前后的说明文字和截断。
func ExtractJSON(raw string) (string, error) {
	var attempts []string

	if json.Valid([]byte(raw)) {
		return raw, nil
	}
	attempts = append(attempts, "verbatim")

	text := stripFences(raw)
	if json.Valid([]byte(text)) {
		return text, nil
	}
	attempts = append(attempts, "strip-fences")

	text = removeTrailingCommas(text)
	if json.Valid([]byte(text)) {
		return text, nil
	}
	attempts = append(attempts, "trailing-commas")

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		attempts = append(attempts, "no-json-start")
		return "", &JSONExtractionError{Raw: raw, Attempts: attempts}
	}

	candidate, fallback := balance(text[start:])
	if json.Valid([]byte(candidate)) {
		return candidate, nil
	}
	attempts = append(attempts, "balance")

	if fixed := removeTrailingCommas(candidate); json.Valid([]byte(fixed)) {
		return fixed, nil
	}
	attempts = append(attempts, "balance+trailing-commas")

	if fallback != "" {
		if fixed := removeTrailingCommas(fallback); json.Valid([]byte(fixed)) {
			return fixed, nil
		}
		attempts = append(attempts, "truncate-last-member")
	}

	return "", &JSONExtractionError{Raw: raw, Attempts: attempts}
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = fenceLineRe.ReplaceAllString(s, "")
	s = fenceInlineRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// removeTrailingCommas 删除紧挨 } 或 ] 的逗号，字符串内部的内容原样保留。
func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var inString, escaped bool
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		switch c {
		case '"':
			inString = true
		case ',':
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

var closerOf = map[byte]byte{'{': '}', '[': ']'}

// balance 从左括号开始扫描 s，返回最短的括号平衡前缀。
// 输入被截断时补上未闭合的字符串和缺失的括号；第二个返回值退回到最后一个完整成员，用于截断在键中间的情况。
func balance(s string) (string, string) {
	var stack, commaStack []byte
	var inString, escaped bool
	lastComma := -1

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 && closerOf[stack[len(stack)-1]] == c {
				stack = stack[:len(stack)-1]
				if len(stack) == 0 {
					return s[:i+1], ""
				}
			}
		case ',':
			lastComma = i
			commaStack = append(commaStack[:0], stack...)
		}
	}

	var b strings.Builder
	body := s
	if escaped {
		body = body[:len(body)-1]
	}
	b.WriteString(strings.TrimRight(body, " \t\r\n"))
	if inString {
		b.WriteByte('"')
	}
	writeClosers(&b, stack)

	fallback := ""
	if lastComma > 0 {
		var fb strings.Builder
		fb.WriteString(s[:lastComma])
		writeClosers(&fb, commaStack)
		fallback = fb.String()
	}
	return b.String(), fallback
}

func writeClosers(b *strings.Builder, stack []byte) {
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(closerOf[stack[i]])
	}
}
