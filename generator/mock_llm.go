package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"auto_seo_article_pipeline/content"
)

// MockLLM 一个简单的占位实现，便于本地调试，不调用外部模型。
// JSON 请求返回固定结构的大纲，HTML 请求返回指定字数的章节。
type MockLLM struct {
	SectionWords int
}

var mockWords = strings.Fields(`teams that publish consistently learn which topics earn links and which ones
quietly fade so the useful habit is to measure every article against a clear goal review the data
each month and refine the plan before writing the next piece`)

func (m MockLLM) Complete(_ context.Context, prompt Prompt) (string, error) {
	topic := promptField(prompt.User, "Topic:")
	if topic == "" {
		topic = promptField(prompt.User, "Article:")
	}
	if topic == "" {
		topic = "Example Topic"
	}

	if prompt.Format == FormatJSON {
		outline := map[string]any{
			"title":            topic,
			"slug":             content.Slugify(topic),
			"metaDescription":  "A practical guide to " + strings.ToLower(topic) + ".",
			"primaryKeyword":   strings.ToLower(topic),
			"semanticKeywords": []string{strings.ToLower(topic) + " guide", strings.ToLower(topic) + " tips"},
			"outline": []map[string]any{
				{"heading": "Introduction", "points": []string{"why it matters"}},
				{"heading": "Core Ideas", "points": []string{"definitions", "examples"}},
				{"heading": "Putting It Into Practice", "points": []string{"workflow"}},
				{"heading": "Mistakes to Avoid", "points": []string{"pitfalls"}},
				{"heading": "Conclusion", "points": []string{"next steps"}},
			},
		}
		data, err := json.MarshalIndent(outline, "", "  ")
		if err != nil {
			return "", err
		}
		// 模拟模型常见的代码块包裹。
		return "```json\n" + string(data) + "\n```", nil
	}

	words := m.SectionWords
	if words <= 0 {
		words = 500
	}
	heading := promptField(prompt.User, "Write section")
	if i := strings.Index(heading, "<h2>"); i >= 0 {
		heading = strings.TrimSuffix(heading[i+len("<h2>"):], "</h2>")
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("<h2>%s</h2>\n", heading))
	const perParagraph = 50
	for written := 0; written < words; {
		n := perParagraph
		if words-written < n {
			n = words - written
		}
		sb.WriteString("<p>")
		for i := 0; i < n; i++ {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(mockWords[(written+i)%len(mockWords)])
		}
		sb.WriteString(".</p>\n")
		written += n
	}
	return sb.String(), nil
}

func promptField(text, prefix string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}
