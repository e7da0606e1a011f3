package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"auto_seo_article_pipeline/content"
	"auto_seo_article_pipeline/logger"
	"auto_seo_article_pipeline/retry"
)

// Agent 负责按阶段调用模型：先出 JSON 大纲，再逐章写 HTML。每次调用都经过限流和重试。
type Agent struct {
	llm     LLMClient
	limiter *rate.Limiter
	retry   retry.Options
	log     logger.Logger
}

// AgentOption 用于定制 Agent。
type AgentOption func(*Agent)

// WithRequestsPerMinute 限制共享同一个 Agent 的所有 worker 每分钟的调用次数。
func WithRequestsPerMinute(rpm int) AgentOption {
	return func(a *Agent) {
		if rpm > 0 {
			a.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
		}
	}
}

func WithRetry(opts retry.Options) AgentOption {
	return func(a *Agent) { a.retry = opts }
}

func WithLogger(l logger.Logger) AgentOption {
	return func(a *Agent) { a.log = l }
}

func NewAgent(llm LLMClient, opts ...AgentOption) (*Agent, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	a := &Agent{
		llm:     llm,
		limiter: rate.NewLimiter(rate.Inf, 1),
		retry:   retry.DefaultOptions(),
		log:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.retry.Logger == nil {
		a.retry.Logger = a.log
	}
	return a, nil
}

// Outline 生成并修复大纲 JSON。JSON 无法恢复时返回 *JSONExtractionError。
func (a *Agent) Outline(ctx context.Context, b Brief) (Outline, error) {
	raw, err := a.complete(ctx, "outline", BuildOutlinePrompt(b))
	if err != nil {
		return Outline{}, fmt.Errorf("outline: %w", err)
	}
	js, err := ExtractJSON(raw)
	if err != nil {
		return Outline{}, fmt.Errorf("outline: %w", err)
	}
	if !gjson.Parse(js).IsObject() {
		// 个别模型会直接返回章节数组。
		js = fmt.Sprintf(`{"outline":%s}`, js)
	}

	meta, notes := content.NormalizeWithNotes(js, b.Topic)
	if len(notes) > 0 {
		a.log.Debug("outline fields defaulted", logger.String("topic", b.Topic), logger.Strings("fields", notes))
	}
	sections := parseSections(js)
	if len(sections) == 0 {
		a.log.Warn("outline had no usable sections, using default structure", logger.String("topic", b.Topic))
		sections = defaultSections(meta.Title, b.Format)
	}
	distributeWords(sections, b.TargetWords)
	return Outline{JSON: js, Meta: meta, Sections: sections}, nil
}

// Section 生成第 idx 个章节的 HTML。
func (a *Agent) Section(ctx context.Context, b Brief, o Outline, idx int) (string, error) {
	if idx < 0 || idx >= len(o.Sections) {
		return "", fmt.Errorf("section index %d out of range", idx)
	}
	raw, err := a.complete(ctx, fmt.Sprintf("section %d", idx+1), BuildSectionPrompt(b, o, idx))
	if err != nil {
		return "", fmt.Errorf("section %d: %w", idx+1, err)
	}
	html := SanitizeHTML(raw)
	if !strings.Contains(strings.ToLower(html), "<h2") {
		html = fmt.Sprintf("<h2>%s</h2>\n%s", o.Sections[idx].Heading, html)
	}
	return html, nil
}

func (a *Agent) complete(ctx context.Context, label string, p Prompt) (string, error) {
	opts := a.retry
	opts.Label = label
	return retry.Do(ctx, opts, func(ctx context.Context) (string, error) {
		if err := a.limiter.Wait(ctx); err != nil {
			return "", err
		}
		return a.llm.Complete(ctx, p)
	})
}

func parseSections(js string) []OutlineSection {
	doc := gjson.Parse(js)
	arr := doc.Get("outline")
	if !arr.IsArray() {
		arr = doc.Get("sections")
	}
	var out []OutlineSection
	for _, it := range arr.Array() {
		var sec OutlineSection
		switch {
		case it.Type == gjson.String:
			sec.Heading = strings.TrimSpace(it.String())
		case it.IsObject():
			sec.Heading = strings.TrimSpace(it.Get("heading").String())
			if sec.Heading == "" {
				sec.Heading = strings.TrimSpace(it.Get("title").String())
			}
			pts := it.Get("points")
			if !pts.Exists() {
				pts = it.Get("keyPoints")
			}
			for _, p := range pts.Array() {
				if s := strings.TrimSpace(p.String()); s != "" {
					sec.Points = append(sec.Points, s)
				}
			}
			sec.Words = int(it.Get("words").Int())
		}
		if sec.Heading != "" {
			out = append(out, sec)
		}
	}
	return out
}

func defaultSections(title string, format content.Format) []OutlineSection {
	headings := []string{
		"Introduction",
		"What " + title + " Means",
		"How It Works in Practice",
		"Common Mistakes to Avoid",
		"Step-by-Step Guide",
		"Frequently Asked Questions",
		"Conclusion",
	}
	if format == content.FormatScientific {
		headings = []string{"Abstract", "Introduction", "Evidence and Methods", "Findings", "Discussion", "Conclusion", "References"}
	}
	out := make([]OutlineSection, len(headings))
	for i, h := range headings {
		out[i] = OutlineSection{Heading: h}
	}
	return out
}

// distributeWords 为没有字数目标的章节补齐目标，使全文达到 total。
func distributeWords(sections []OutlineSection, total int) {
	if total <= 0 || len(sections) == 0 {
		return
	}
	assigned, missing := 0, 0
	for _, s := range sections {
		if s.Words > 0 {
			assigned += s.Words
		} else {
			missing++
		}
	}
	if missing == 0 {
		return
	}
	each := (total - assigned) / missing
	if each < 150 {
		each = 150
	}
	for i := range sections {
		if sections[i].Words <= 0 {
			sections[i].Words = each
		}
	}
}
