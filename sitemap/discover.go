// Package sitemap discovers the site's existing pages: it walks sitemaps and sitemap indexes
// through the fetch layer, dates every page, and optionally crawls pages for their text.
package sitemap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"auto_seo_article_pipeline/config"
	"auto_seo_article_pipeline/content"
	"auto_seo_article_pipeline/fetcher"
	"auto_seo_article_pipeline/logger"
)

const maxIndexDepth = 3

// maxCrawledText caps the text kept per crawled page.
const maxCrawledText = 20000

// ErrEmpty means the sitemap parsed but listed no pages.
var ErrEmpty = errors.New("sitemap lists no pages")

// Getter is the subset of the fetch layer used for sitemap and page reads.
type Getter interface {
	Fetch(ctx context.Context, rawURL string, req fetcher.Request) (*fetcher.Response, error)
}

// Options configures a Discoverer.
type Options struct {
	StaleDays   int
	Crawl       bool
	MaxPages    int
	Concurrency int
	Now         func() time.Time
	Logger      logger.Logger
}

// OptionsFromConfig maps the sitemap config section.
func OptionsFromConfig(cfg config.SitemapConfig, log logger.Logger) Options {
	return Options{
		StaleDays:   cfg.StaleDays,
		Crawl:       cfg.Crawl,
		MaxPages:    cfg.MaxPages,
		Concurrency: cfg.Concurrency,
		Logger:      log,
	}
}

// Discoverer builds the page catalogue.
type Discoverer struct {
	get  Getter
	opts Options
	log  logger.Logger
}

// New returns a Discoverer reading through get.
func New(get Getter, opts Options) *Discoverer {
	if opts.StaleDays <= 0 {
		opts.StaleDays = 365
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Discoverer{get: get, opts: opts, log: opts.Logger}
}

// Discover reads sitemapURL (following indexes), and returns one Page per distinct URL in
// sitemap order. Failure to read the root sitemap is returned as is, so a
// *fetcher.NetworkError keeps its hint; unreadable child sitemaps are skipped.
func (d *Discoverer) Discover(ctx context.Context, sitemapURL string, progress func(string)) ([]content.Page, error) {
	var entries []Entry
	seen := make(map[string]struct{})
	visited := make(map[string]struct{})

	if err := d.walk(ctx, sitemapURL, 0, progress, visited, func(e Entry) bool {
		if _, dup := seen[e.Loc]; dup {
			return true
		}
		seen[e.Loc] = struct{}{}
		entries = append(entries, e)
		return d.opts.MaxPages <= 0 || len(entries) < d.opts.MaxPages
	}); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s: %w", sitemapURL, ErrEmpty)
	}

	now := d.opts.Now()
	pages := make([]content.Page, 0, len(entries))
	for _, e := range entries {
		pages = append(pages, d.page(e, now))
	}
	d.log.Info("sitemap discovered",
		logger.String("sitemap", sitemapURL),
		logger.Int("pages", len(pages)),
		logger.Int("stale", len(Stale(pages))))

	if d.opts.Crawl {
		if err := d.crawl(ctx, pages, progress); err != nil {
			return nil, err
		}
	}
	return pages, nil
}

// walk visits one sitemap document. emit returns false once enough entries were collected.
func (d *Discoverer) walk(ctx context.Context, rawURL string, depth int, progress func(string), visited map[string]struct{}, emit func(Entry) bool) error {
	if _, ok := visited[rawURL]; ok {
		return nil
	}
	visited[rawURL] = struct{}{}

	resp, err := d.get.Fetch(ctx, rawURL, fetcher.Request{Progress: progress})
	if err != nil {
		return err
	}
	body, err := maybeGunzip(resp.Body)
	if err != nil {
		return err
	}

	if IsIndex(body) {
		children, err := ParseIndex(body)
		if err != nil {
			return err
		}
		if depth >= maxIndexDepth {
			d.log.Warn("sitemap index nested too deeply", logger.String("sitemap", rawURL))
			return nil
		}
		for _, child := range children {
			more := true
			err := d.walk(ctx, child, depth+1, progress, visited, func(e Entry) bool {
				more = emit(e)
				return more
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.log.Warn("skipping unreadable child sitemap", logger.String("sitemap", child), logger.Error(err))
				continue
			}
			if !more {
				return nil
			}
		}
		return nil
	}

	entries, err := ParseURLSet(body)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !emit(e) {
			return nil
		}
	}
	return nil
}

func (d *Discoverer) page(e Entry, now time.Time) content.Page {
	slug := content.SlugFromURL(e.Loc)
	p := content.Page{
		URL:     e.Loc,
		Slug:    slug,
		Title:   titleFromSlug(slug),
		LastMod: e.LastMod,
	}
	if e.LastMod != nil {
		p.DaysOld = int(now.Sub(*e.LastMod).Hours() / 24)
		if p.DaysOld < 0 {
			p.DaysOld = 0
		}
		p.IsStale = p.DaysOld > d.opts.StaleDays
	}
	return p
}

// crawl fills Title and CrawledText in place. A page that cannot be read keeps its slug title.
func (d *Discoverer) crawl(ctx context.Context, pages []content.Page, progress func(string)) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)
	for i := range pages {
		g.Go(func() error {
			if progress != nil {
				progress(fmt.Sprintf("Crawling %d/%d: %s", i+1, len(pages), pages[i].URL))
			}
			resp, err := d.get.Fetch(ctx, pages[i].URL, fetcher.Request{})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.log.Warn("page crawl failed", logger.String("url", pages[i].URL), logger.Error(err))
				return nil
			}
			title, text := extract(pages[i].URL, resp.Body)
			if title != "" {
				pages[i].Title = title
			}
			pages[i].CrawledText = text
			return nil
		})
	}
	return g.Wait()
}

// extract pulls the page title with goquery and the main text with readability, falling
// back to the body text when readability finds nothing.
func extract(pageURL string, body []byte) (string, string) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", ""
	}
	title := pageTitle(doc)

	var text string
	if u, err := url.Parse(pageURL); err == nil {
		if article, err := readability.FromReader(bytes.NewReader(body), u); err == nil {
			text = strings.TrimSpace(article.TextContent)
			if title == "" {
				title = strings.TrimSpace(article.Title)
			}
		}
	}
	if text == "" {
		sel := doc.Find("body").First()
		sel.Find("script, style, nav, header, footer").Remove()
		text = strings.TrimSpace(sel.Text())
	}
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > maxCrawledText {
		text = string(r[:maxCrawledText])
	}
	return title, text
}

// pageTitle prefers og:title, then the first h1, then <title> with the site-name suffix removed.
func pageTitle(doc *goquery.Document) string {
	if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	for _, sep := range []string{" | ", " - ", " \u2013 ", " \u2014 "} {
		if i := strings.LastIndex(title, sep); i > 0 {
			title = strings.TrimSpace(title[:i])
			break
		}
	}
	return title
}

func titleFromSlug(slug string) string {
	if slug == "" {
		return ""
	}
	return cases.Title(language.English).String(strings.ReplaceAll(slug, "-", " "))
}

// Stale returns the pages whose lastmod is older than the stale threshold.
func Stale(pages []content.Page) []content.Page {
	var out []content.Page
	for _, p := range pages {
		if p.IsStale {
			out = append(out, p)
		}
	}
	return out
}
