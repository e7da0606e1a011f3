// Package links repairs, tops up and resolves internal-link placeholders in generated HTML.
//
// The passes must run in order: Repair, EnforceQuota, Resolve, SanitizeBroken. Process runs
// all four. After SanitizeBroken no placeholder-shaped token remains in the body.
package links

import (
	"html"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"auto_seo_article_pipeline/content"
	"auto_seo_article_pipeline/logger"
)

// Page is a link target from the catalogue.
type Page struct {
	Slug  string
	Title string
	URL   string
}

// UTM holds the tracking parameters appended to resolved links.
type UTM struct {
	Source   string
	Medium   string
	Campaign string
}

// DefaultUTM tags internal links as blog internal-linking traffic.
var DefaultUTM = UTM{Source: "internal", Medium: "blog", Campaign: "internal-linking"}

const minPhraseLen = 10

// Options configures an Engine.
type Options struct {
	MinLinks int
	UTM      UTM
	Logger   logger.Logger
}

// Engine is immutable after construction and safe for concurrent use.
type Engine struct {
	pages    []Page
	bySlug   map[string]Page
	phrases  map[string][]string
	minLinks int
	utm      UTM
	log      logger.Logger
}

// Repair records one rewritten placeholder.
type Repair struct {
	From  string
	To    string
	Text  string
	Score float64
}

// Report summarizes what the passes did. Misses and shortfalls are informational.
type Report struct {
	Repaired  []Repair
	Dropped   []string
	Existing  int
	Injected  []string
	Shortfall int
	Resolved  int
	Degraded  int
	Sanitized int
}

// PagesFromContent converts sitemap pages into link targets, skipping pages without a slug.
func PagesFromContent(pages []content.Page) []Page {
	out := make([]Page, 0, len(pages))
	for _, p := range pages {
		if p.Slug == "" || p.URL == "" {
			continue
		}
		out = append(out, Page{Slug: p.Slug, Title: p.Title, URL: p.URL})
	}
	return out
}

// NewEngine indexes the catalogue. Later duplicates of a slug are ignored.
func NewEngine(pages []Page, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	e := &Engine{
		bySlug:   make(map[string]Page, len(pages)),
		phrases:  make(map[string][]string, len(pages)),
		minLinks: opts.MinLinks,
		utm:      opts.UTM,
		log:      opts.Logger,
	}
	for _, p := range pages {
		if p.Slug == "" {
			continue
		}
		if _, dup := e.bySlug[p.Slug]; dup {
			continue
		}
		e.pages = append(e.pages, p)
		e.bySlug[p.Slug] = p
		e.phrases[p.Slug] = Phrases(p.Title)
	}
	return e
}

// Pages returns the catalogue in insertion order.
func (e *Engine) Pages() []Page {
	return append([]Page(nil), e.pages...)
}

// Process runs every pass in order. selfSlug is never used as a quota target.
func (e *Engine) Process(body, selfSlug string) (string, Report) {
	var r Report
	body = e.Repair(body, &r)
	body = e.EnforceQuota(body, selfSlug, &r)
	body = e.Resolve(body, &r)
	body = e.SanitizeBroken(body, &r)

	if len(r.Dropped) > 0 {
		e.log.Warn("dropped unmatchable link placeholders", logger.Strings("anchors", r.Dropped))
	}
	if r.Shortfall > 0 {
		e.log.Warn("internal link quota not met",
			logger.Int("min_links", e.minLinks),
			logger.Int("existing", r.Existing),
			logger.Int("injected", len(r.Injected)),
			logger.Int("shortfall", r.Shortfall))
	}
	return body, r
}

// Repair rewrites placeholders whose slug is not in the catalogue to the best-scoring page,
// or drops them to plain anchor text when no page scores above the threshold.
func (e *Engine) Repair(body string, r *Report) string {
	r = orDiscard(r)
	return replaceTokens(body, func(p Placeholder) string {
		if _, ok := e.bySlug[p.Slug]; ok {
			return p.String()
		}
		best, score := e.bestMatch(p.Text)
		if score > repairThreshold {
			r.Repaired = append(r.Repaired, Repair{From: p.Slug, To: best.Slug, Text: p.Text, Score: score})
			e.log.Debug("repaired link placeholder",
				logger.String("from", p.Slug), logger.String("to", best.Slug), logger.Float64("score", score))
			return Placeholder{Slug: best.Slug, Text: p.Text}.String()
		}
		r.Dropped = append(r.Dropped, p.Text)
		return p.Text
	})
}

func (e *Engine) bestMatch(anchor string) (Page, float64) {
	var best Page
	bestScore := 0.0
	for _, p := range e.pages {
		if s := Score(anchor, p.Title); s > bestScore {
			best, bestScore = p, s
		}
	}
	return best, bestScore
}

// EnforceQuota injects placeholders around title phrases found in the body until the
// configured minimum is reached. Each page is linked at most once.
func (e *Engine) EnforceQuota(body, selfSlug string, r *Report) string {
	r = orDiscard(r)
	linked := make(map[string]struct{})
	count := 0
	for _, p := range Placeholders(body) {
		if _, ok := e.bySlug[p.Slug]; ok {
			count++
			linked[p.Slug] = struct{}{}
		}
	}
	r.Existing = count

	need := e.minLinks - count
	if need <= 0 {
		return body
	}

	for _, page := range e.pages {
		if need == 0 {
			break
		}
		if _, done := linked[page.Slug]; done || page.Slug == selfSlug {
			continue
		}
		for _, phrase := range e.phrases[page.Slug] {
			start, end, ok := findPhrase(body, phrase)
			if !ok {
				continue
			}
			text := body[start:end]
			body = body[:start] + Placeholder{Slug: page.Slug, Text: text}.String() + body[end:]
			linked[page.Slug] = struct{}{}
			r.Injected = append(r.Injected, page.Slug)
			need--
			break
		}
	}
	r.Shortfall = need
	return body
}

// Resolve turns placeholders into anchors with UTM parameters. Unknown slugs degrade to text.
func (e *Engine) Resolve(body string, r *Report) string {
	r = orDiscard(r)
	return replaceTokens(body, func(p Placeholder) string {
		return e.resolve(p, r)
	})
}

func (e *Engine) resolve(p Placeholder, r *Report) string {
	page, ok := e.bySlug[p.Slug]
	if !ok {
		r.Degraded++
		return p.Text
	}
	r.Resolved++
	return `<a href="` + html.EscapeString(e.trackedURL(page.URL)) + `">` + p.Text + `</a>`
}

// SanitizeBroken removes whatever placeholder-shaped text is left. Tokens that still carry a
// slug and text are resolved; otherwise the anchor text is kept, or the token deleted.
func (e *Engine) SanitizeBroken(body string, r *Report) string {
	r = orDiscard(r)
	return brokenRe.ReplaceAllStringFunc(body, func(token string) string {
		r.Sanitized++
		attrs := parseAttrs(token)
		slug, text := attrs["slug"], attrs["text"]
		if text == "" {
			if m := looseTextRe.FindStringSubmatch(token); m != nil {
				text = strings.TrimSpace(m[1])
			}
		}
		if slug != "" && text != "" {
			return e.resolve(Placeholder{Slug: slug, Text: text}, r)
		}
		return text
	})
}

func (e *Engine) trackedURL(raw string) string {
	var params []string
	add := func(k, v string) {
		if v != "" {
			params = append(params, k+"="+url.QueryEscape(v))
		}
	}
	add("utm_source", e.utm.Source)
	add("utm_medium", e.utm.Medium)
	add("utm_campaign", e.utm.Campaign)
	if len(params) == 0 {
		return raw
	}

	base, fragment := raw, ""
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		base, fragment = raw[:i], raw[i:]
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
		if strings.HasSuffix(base, "?") || strings.HasSuffix(base, "&") {
			sep = ""
		}
	}
	return base + sep + strings.Join(params, "&") + fragment
}

// Phrases derives the literal search phrases for a title: the full title, then sub-phrases
// made by dropping leading or trailing words (titles of four or more words only). Phrases of
// ten characters or fewer are discarded; the result is ordered longest first.
func Phrases(title string) []string {
	var words []string
	for _, w := range strings.Fields(title) {
		w = strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
		})
		if w != "" {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return nil
	}

	var candidates []string
	candidates = append(candidates, strings.Join(words, " "))
	if len(words) >= 4 {
		for k := len(words) - 1; k >= 2; k-- {
			candidates = append(candidates, strings.Join(words[len(words)-k:], " "))
			candidates = append(candidates, strings.Join(words[:k], " "))
		}
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		key := strings.ToLower(c)
		if utf8.RuneCountInString(c) <= minPhraseLen || strings.ContainsRune(c, '"') {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return utf8.RuneCountInString(out[i]) > utf8.RuneCountInString(out[j])
	})
	return out
}

// findPhrase locates the first case-insensitive occurrence of phrase that sits in running
// text: preceded by start, '>', whitespace or '('; followed by end, '<', whitespace or
// terminal punctuation; and not inside a tag, an anchor, a heading or a placeholder.
func findPhrase(body, phrase string) (int, int, bool) {
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(phrase))
	if err != nil {
		return 0, 0, false
	}
	for _, loc := range re.FindAllStringIndex(body, -1) {
		start, end := loc[0], loc[1]
		if !boundaryBefore(body, start) || !boundaryAfter(body, end) {
			continue
		}
		if insideTag(body, start) || insideElement(body, start) || insidePlaceholder(body, start) {
			continue
		}
		return start, end, true
	}
	return 0, 0, false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return r == '>' || r == '(' || unicode.IsSpace(r)
}

func boundaryAfter(s string, i int) bool {
	if i == len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return strings.ContainsRune("<.,;:!?)", r) || unicode.IsSpace(r)
}

func insideTag(s string, i int) bool {
	return strings.LastIndexByte(s[:i], '<') > strings.LastIndexByte(s[:i], '>')
}

var blockedElements = []string{"a", "h1", "h2", "h3", "h4", "h5", "h6", "iframe", "script", "style"}

// insideElement reports whether position i falls between an opening and closing tag of a
// blocked element.
func insideElement(s string, i int) bool {
	before := strings.ToLower(s[:i])
	for _, tag := range blockedElements {
		open := lastOpenTag(before, tag)
		if open < 0 {
			continue
		}
		if strings.LastIndex(before, "</"+tag+">") < open {
			return true
		}
	}
	return false
}

func lastOpenTag(s, tag string) int {
	prefix := "<" + tag
	for idx := len(s); ; {
		idx = strings.LastIndex(s[:idx], prefix)
		if idx < 0 {
			return -1
		}
		next := idx + len(prefix)
		if next == len(s) || s[next] == '>' || s[next] == ' ' || s[next] == '\t' || s[next] == '\n' {
			return idx
		}
	}
}

func insidePlaceholder(s string, i int) bool {
	open := strings.LastIndex(s[:i], "[LINK")
	return open >= 0 && strings.LastIndexByte(s[:i], ']') < open
}

func orDiscard(r *Report) *Report {
	if r == nil {
		return &Report{}
	}
	return r
}
