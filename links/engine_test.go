package links

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auto_seo_article_pipeline/content"
)

var seoGuide = Page{Slug: "seo-guide", Title: "The Ultimate SEO Guide 2025", URL: "https://example.com/blog/seo-guide/"}

func newEngine(minLinks int, pages ...Page) *Engine {
	return NewEngine(pages, Options{MinLinks: minLinks, UTM: DefaultUTM})
}

func TestRepairRewritesHallucinatedSlug(t *testing.T) {
	e := newEngine(0, seoGuide, Page{Slug: "banana-bread", Title: "Easy Banana Bread", URL: "https://example.com/banana-bread"})
	var r Report

	out := e.Repair(`<p>Read the [LINK slug="seo-guide-2025" text="SEO Guide"] first.</p>`, &r)

	assert.Equal(t, `<p>Read the [LINK slug="seo-guide" text="SEO Guide"] first.</p>`, out)
	require.Len(t, r.Repaired, 1)
	assert.Equal(t, "seo-guide-2025", r.Repaired[0].From)
	assert.Equal(t, "seo-guide", r.Repaired[0].To)
	assert.GreaterOrEqual(t, r.Repaired[0].Score, 60.0)
}

func TestRepairDropsUnmatchable(t *testing.T) {
	e := newEngine(0, seoGuide)
	var r Report

	out := e.Repair(`<p>Try [LINK slug="sourdough" text="sourdough starters"] today.</p>`, &r)

	assert.Equal(t, `<p>Try sourdough starters today.</p>`, out)
	assert.Equal(t, []string{"sourdough starters"}, r.Dropped)
}

func TestRepairLeavesKnownSlugs(t *testing.T) {
	e := newEngine(0, seoGuide)
	in := `<p>[LINK slug="seo-guide" text="anything at all"]</p>`
	assert.Equal(t, in, e.Repair(in, nil))
}

func quotaFixture() ([]Page, string) {
	titles := []string{
		"Keyword Research Basics",
		"Technical Audit Checklist",
		"Link Building Outreach",
		"Content Calendar Planning",
		"Schema Markup Essentials",
		"Core Web Vitals",
		"Local Search Ranking",
		"Mobile First Indexing",
		"Crawl Budget Management",
		"Anchor Text Strategy",
	}
	pages := []Page{
		{Slug: "existing-1", Title: "Existing Page One", URL: "https://example.com/existing-1"},
		{Slug: "existing-2", Title: "Existing Page Two", URL: "https://example.com/existing-2"},
		{Slug: "existing-3", Title: "Existing Page Three", URL: "https://example.com/existing-3"},
	}
	var b strings.Builder
	b.WriteString(`<p>Start with [LINK slug="existing-1" text="one"], [LINK slug="existing-2" text="two"] and [LINK slug="existing-3" text="three"].</p>`)
	for i, title := range titles {
		slug := content.Slugify(title)
		pages = append(pages, Page{Slug: slug, Title: title, URL: "https://example.com/" + slug})
		fmt.Fprintf(&b, "<p>Paragraph %d explains %s in detail.</p>\n", i, strings.ToLower(title))
	}
	return pages, b.String()
}

func TestEnforceQuotaAddsExactlyTheShortfall(t *testing.T) {
	pages, body := quotaFixture()
	e := newEngine(8, pages...)
	var r Report

	out := e.EnforceQuota(body, "", &r)

	assert.Equal(t, 3, r.Existing)
	assert.Equal(t, []string{
		"keyword-research-basics",
		"technical-audit-checklist",
		"link-building-outreach",
		"content-calendar-planning",
		"schema-markup-essentials",
	}, r.Injected)
	assert.Zero(t, r.Shortfall)

	placeholders := Placeholders(out)
	require.Len(t, placeholders, 8)
	seen := map[string]bool{}
	for _, p := range placeholders {
		assert.False(t, seen[p.Slug], "duplicate target %s", p.Slug)
		seen[p.Slug] = true
	}
	assert.Contains(t, out, `explains [LINK slug="keyword-research-basics" text="keyword research basics"] in detail.`)
}

func TestEnforceQuotaNoopWhenMet(t *testing.T) {
	pages, body := quotaFixture()
	e := newEngine(3, pages...)
	var r Report
	assert.Equal(t, body, e.EnforceQuota(body, "", &r))
	assert.Empty(t, r.Injected)
}

func TestEnforceQuotaReportsShortfall(t *testing.T) {
	pages, body := quotaFixture()
	e := newEngine(20, pages...)
	var r Report

	out := e.EnforceQuota(body, "", &r)

	assert.Len(t, r.Injected, 10)
	assert.Equal(t, 7, r.Shortfall)
	assert.Len(t, Placeholders(out), 13)
}

func TestEnforceQuotaFollowsCatalogueOrder(t *testing.T) {
	later := Page{Slug: "link-building", Title: "Link Building Tactics", URL: "https://example.com/link-building/"}
	earlier := Page{Slug: "keyword-research", Title: "Keyword Research Basics", URL: "https://example.com/keyword-research/"}
	body := `<p>Start with link building tactics, then keyword research basics.</p>`
	var r Report

	out := newEngine(1, earlier, later).EnforceQuota(body, "", &r)

	assert.Equal(t, []string{"keyword-research"}, r.Injected)
	assert.Contains(t, out, `[LINK slug="keyword-research" text="keyword research basics"]`)
	assert.Contains(t, out, "link building tactics")
}

func TestEnforceQuotaSkipsMarkupAndSelf(t *testing.T) {
	self := Page{Slug: "crawl-budget", Title: "Crawl Budget Management", URL: "https://example.com/crawl-budget"}
	target := Page{Slug: "keyword-research", Title: "Keyword Research Basics", URL: "https://example.com/keyword-research"}
	e := newEngine(2, self, target)
	body := `<h2>Keyword Research Basics</h2>` +
		`<img alt="keyword research basics" src="x.png">` +
		`<p><a href="/x">keyword research basics</a> and crawl budget management.</p>` +
		`<p>Good keyword research basics matter.</p>`
	var r Report

	out := e.EnforceQuota(body, "crawl-budget", &r)

	assert.Equal(t, []string{"keyword-research"}, r.Injected)
	assert.Equal(t, 1, r.Shortfall)
	assert.Contains(t, out, `<p>Good [LINK slug="keyword-research" text="keyword research basics"] matter.</p>`)
	assert.Contains(t, out, `<h2>Keyword Research Basics</h2>`)
	assert.Contains(t, out, `alt="keyword research basics"`)
}

func TestEnforceQuotaRequiresWordBoundaries(t *testing.T) {
	target := Page{Slug: "core-web-vitals", Title: "Core Web Vitals", URL: "https://example.com/cwv"}
	e := newEngine(1, target)
	var r Report

	out := e.EnforceQuota(`<p>hardcore web vitalsish (core web vitals)</p>`, "", &r)
	assert.Equal(t, `<p>hardcore web vitalsish ([LINK slug="core-web-vitals" text="core web vitals"])</p>`, out)
}

func TestResolveAppendsUTM(t *testing.T) {
	withQuery := Page{Slug: "q", Title: "Query Page", URL: "https://example.com/p?id=3#top"}
	e := newEngine(0, seoGuide, withQuery)
	var r Report

	out := e.Resolve(`[LINK slug="seo-guide" text="SEO Guide"] [LINK slug="q" text="Q"] [LINK slug="ghost" text="Ghost"]`, &r)

	assert.Equal(t,
		`<a href="https://example.com/blog/seo-guide/?utm_source=internal&amp;utm_medium=blog&amp;utm_campaign=internal-linking">SEO Guide</a> `+
			`<a href="https://example.com/p?id=3&amp;utm_source=internal&amp;utm_medium=blog&amp;utm_campaign=internal-linking#top">Q</a> `+
			`Ghost`, out)
	assert.Equal(t, 2, r.Resolved)
	assert.Equal(t, 1, r.Degraded)
}

func TestSanitizeBroken(t *testing.T) {
	e := newEngine(0, seoGuide)
	cases := map[string]string{
		`<p>[LINK slug="" text="orphan"]</p>`:         `<p>orphan</p>`,
		`<p>[LINK text="only text"]</p>`:              `<p>only text</p>`,
		`<p>[LINK]</p>`:                               `<p></p>`,
		`<p>[LINK slug="seo-guide"]</p>`:              `<p></p>`,
		`<p>[LINK slug="x" text="cut off</p>`:         `<p>cut off</p>`,
		`<p>[LINK slug="unknown" text="Unknown"]</p>`: `<p>Unknown</p>`,
	}
	for in, want := range cases {
		assert.Equal(t, want, e.SanitizeBroken(in, nil), in)
	}

	out := e.SanitizeBroken(`[LINK slug='seo-guide' text='Guide']`, nil)
	assert.True(t, strings.HasPrefix(out, `<a href="https://example.com/blog/seo-guide/`))
}

func TestProcessLeavesNoPlaceholders(t *testing.T) {
	pages, body := quotaFixture()
	pages = append(pages, seoGuide)
	e := newEngine(8, pages...)
	body += `<p>See [LINK slug="seo-guide-2025" text="SEO Guide"], [LINK slug="nope" text="zzz qqq"], [LINK slug="" text=""] and [LINK slug="half"</p>`

	out, r := e.Process(body, "")

	assert.NotContains(t, out, "[LINK")
	assert.Len(t, r.Repaired, 1)
	assert.Equal(t, []string{"zzz qqq"}, r.Dropped)
	assert.Equal(t, 4, r.Existing)
	assert.Len(t, r.Injected, 4)
	assert.Equal(t, 8, r.Resolved)
	assert.Contains(t, out, `>SEO Guide</a>`)
}

func TestPhrases(t *testing.T) {
	assert.Equal(t, []string{
		"The Ultimate SEO Guide 2025",
		"Ultimate SEO Guide 2025",
		"The Ultimate SEO Guide",
		"The Ultimate SEO",
		"SEO Guide 2025",
		"The Ultimate",
	}, Phrases(seoGuide.Title))

	assert.Equal(t, []string{"Core Web Vitals"}, Phrases("Core Web Vitals"))
	assert.Empty(t, Phrases("Go Tips"))
	assert.Equal(t, []string{"Crème Brûlée Guide"}, Phrases("Crème Brûlée Guide |"))
}

func TestScore(t *testing.T) {
	assert.InDelta(t, 130.0, Score("SEO Guide", seoGuide.Title), 0.001)
	assert.InDelta(t, 310.0, Score("core web vitals", "Core Web Vitals"), 0.001)
	assert.Zero(t, Score("banana", seoGuide.Title))
	assert.Zero(t, Score("", seoGuide.Title))
}

func TestPagesFromContent(t *testing.T) {
	got := PagesFromContent([]content.Page{
		{URL: "https://example.com/a", Slug: "a", Title: "A"},
		{URL: "https://example.com/", Slug: ""},
	})
	assert.Equal(t, []Page{{Slug: "a", Title: "A", URL: "https://example.com/a"}}, got)
}
