// Package publisher pushes finished articles to a WordPress site as drafts through the REST API.
package publisher

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/yuin/goldmark"

	"auto_seo_article_pipeline/config"
	"auto_seo_article_pipeline/content"
	"auto_seo_article_pipeline/fetcher"
	"auto_seo_article_pipeline/logger"
	"auto_seo_article_pipeline/quality"
	"auto_seo_article_pipeline/retry"
)

const (
	mediaPath = "/wp-json/wp/v2/media"
	postsPath = "/wp-json/wp/v2/posts"

	excerptLimit = 160
)

// Doer sends a request through the fetch layer. *fetcher.Fetcher implements it.
type Doer interface {
	Fetch(ctx context.Context, rawURL string, req fetcher.Request) (*fetcher.Response, error)
}

// Result describes a created post.
type Result struct {
	PostID  int64   `json:"postId"`
	Link    string  `json:"link"`
	Status  string  `json:"status"`
	MediaID []int64 `json:"mediaIds,omitempty"`
}

// Option customizes a Publisher.
type Option func(*Publisher)

func WithRetry(opts retry.Options) Option {
	return func(p *Publisher) { p.retry = opts }
}

func WithLogger(l logger.Logger) Option {
	return func(p *Publisher) { p.log = l }
}

// Publisher uploads images and creates posts.
type Publisher struct {
	doer    Doer
	baseURL string
	auth    string
	status  string
	retry   retry.Options
	log     logger.Logger
}

// New creates a Publisher. Credentials are a WordPress user name and an application password.
func New(cfg config.PublishConfig, doer Doer, opts ...Option) (*Publisher, error) {
	if cfg.BaseURL == "" || cfg.Username == "" || cfg.AppPassword == "" {
		return nil, errors.New("publisher config must include base_url, username and app_password")
	}
	if doer == nil {
		return nil, errors.New("publisher needs a fetcher")
	}
	status := cfg.Status
	if status == "" {
		status = "draft"
	}
	p := &Publisher{
		doer:    doer,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		auth:    "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.Username+":"+cfg.AppPassword)),
		status:  status,
		retry:   retry.DefaultOptions(),
		log:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.retry.Logger == nil {
		p.retry.Logger = p.log
	}
	return p, nil
}

type postPayload struct {
	Title         string `json:"title"`
	Slug          string `json:"slug,omitempty"`
	Content       string `json:"content"`
	Excerpt       string `json:"excerpt,omitempty"`
	Status        string `json:"status"`
	FeaturedMedia int64  `json:"featured_media,omitempty"`
}

// PublishDraft uploads generated images, swaps them in for their placeholders and creates the post.
// Placeholders without an image are removed so they never reach the site.
func (p *Publisher) PublishDraft(ctx context.Context, gc *content.GeneratedContent) (Result, error) {
	if gc == nil || strings.TrimSpace(gc.Title) == "" || strings.TrimSpace(gc.Content) == "" {
		return Result{}, errors.New("article title and content are required")
	}

	body := gc.Content
	if !looksLikeHTML(body) {
		converted, err := mdToHTML(body)
		if err != nil {
			return Result{}, fmt.Errorf("convert markdown: %w", err)
		}
		body = converted
		p.log.Debug("converted markdown body to html", logger.String("slug", gc.Slug))
	}

	var res Result
	for i, img := range gc.ImageDetails {
		if img.Placeholder == "" {
			continue
		}
		if img.GeneratedImage == "" {
			body = removePlaceholder(body, img.Placeholder)
			continue
		}
		mime, data, err := decodeDataURI(img.GeneratedImage)
		if err != nil {
			p.log.Warn("skipping undecodable image", logger.String("placeholder", img.Placeholder), logger.Error(err))
			body = removePlaceholder(body, img.Placeholder)
			continue
		}
		filename := fmt.Sprintf("%s-%d.%s", fallback(gc.Slug, "image"), i+1, extension(mime))
		id, src, err := p.uploadMedia(ctx, filename, mime, data, img)
		if err != nil {
			return res, fmt.Errorf("upload %s: %w", filename, err)
		}
		res.MediaID = append(res.MediaID, id)
		body = strings.ReplaceAll(body, img.Placeholder, figure(src, img))
		p.log.Info("uploaded image", logger.String("file", filename), logger.Any("media_id", id))
	}

	post := postPayload{
		Title:   gc.Title,
		Slug:    gc.Slug,
		Content: body,
		Excerpt: gc.MetaDescription,
		Status:  p.status,
	}
	if post.Excerpt == "" {
		post.Excerpt = defaultDigest(body, excerptLimit)
	}
	if len(res.MediaID) > 0 {
		post.FeaturedMedia = res.MediaID[0]
	}
	payload, err := json.Marshal(post)
	if err != nil {
		return res, err
	}

	resp, err := p.send(ctx, "create post", p.baseURL+postsPath, http.Header{"Content-Type": {"application/json"}}, payload)
	if err != nil {
		return res, fmt.Errorf("create post: %w", err)
	}
	doc := gjson.ParseBytes(resp.Body)
	res.PostID = doc.Get("id").Int()
	res.Link = doc.Get("link").String()
	res.Status = doc.Get("status").String()
	if res.PostID == 0 {
		return res, fmt.Errorf("create post: response has no id: %s", preview(resp.Body))
	}
	p.log.Info("draft created", logger.Any("post_id", res.PostID), logger.String("link", res.Link))
	return res, nil
}

func (p *Publisher) uploadMedia(ctx context.Context, filename, mime string, data []byte, img content.ImageDetail) (int64, string, error) {
	h := http.Header{}
	h.Set("Content-Type", mime)
	h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	resp, err := p.send(ctx, "upload media", p.baseURL+mediaPath, h, data)
	if err != nil {
		return 0, "", err
	}
	doc := gjson.ParseBytes(resp.Body)
	id, src := doc.Get("id").Int(), doc.Get("source_url").String()
	if id == 0 || src == "" {
		return 0, "", fmt.Errorf("media response has no id or source_url: %s", preview(resp.Body))
	}

	if img.AltText != "" || img.Title != "" {
		meta, _ := json.Marshal(map[string]string{"alt_text": img.AltText, "title": img.Title})
		url := fmt.Sprintf("%s%s/%d", p.baseURL, mediaPath, id)
		if _, err := p.send(ctx, "update media", url, http.Header{"Content-Type": {"application/json"}}, meta); err != nil {
			p.log.Warn("failed to set image alt text", logger.Any("media_id", id), logger.Error(err))
		}
	}
	return id, src, nil
}

func (p *Publisher) send(ctx context.Context, label, rawURL string, h http.Header, body []byte) (*fetcher.Response, error) {
	h = h.Clone()
	h.Set("Authorization", p.auth)
	h.Set("Accept", "application/json")
	opts := p.retry
	opts.Label = label
	return retry.Do(ctx, opts, func(ctx context.Context) (*fetcher.Response, error) {
		return p.doer.Fetch(ctx, rawURL, fetcher.Request{
			Method:        http.MethodPost,
			Header:        h,
			Body:          body,
			Authenticated: true,
			Usable:        func(status int) bool { return status >= 200 && status < 300 },
		})
	})
}

var (
	dataURIRe = regexp.MustCompile(`^data:([a-z]+/[a-z0-9.+-]+);base64,`)
	htmlTagRe = regexp.MustCompile(`<(p|h[1-6]|div|ul|ol|figure|section|article|table)\b`)
)

func decodeDataURI(s string) (string, []byte, error) {
	mime := "image/png"
	payload := s
	if m := dataURIRe.FindStringSubmatch(s); m != nil {
		mime = m[1]
		payload = s[len(m[0]):]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", nil, err
	}
	if len(data) == 0 {
		return "", nil, errors.New("empty image")
	}
	return mime, data, nil
}

func extension(mime string) string {
	switch mime {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}

func figure(src string, img content.ImageDetail) string {
	var b strings.Builder
	b.WriteString(`<figure class="wp-block-image"><img src="`)
	b.WriteString(html.EscapeString(src))
	b.WriteString(`" alt="`)
	b.WriteString(html.EscapeString(img.AltText))
	b.WriteString(`"/>`)
	if img.Title != "" {
		b.WriteString("<figcaption>")
		b.WriteString(html.EscapeString(img.Title))
		b.WriteString("</figcaption>")
	}
	b.WriteString("</figure>")
	return b.String()
}

// removePlaceholder drops the token and the blank line the normalizer put around it.
func removePlaceholder(body, placeholder string) string {
	body = strings.ReplaceAll(body, "\n"+placeholder+"\n", "\n")
	return strings.ReplaceAll(body, placeholder, "")
}

func looksLikeHTML(s string) bool {
	return htmlTagRe.MatchString(strings.ToLower(s))
}

func mdToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// defaultDigest returns the first limit characters of the plain text, cut at a word boundary
// when one is close enough.
func defaultDigest(body string, limit int) string {
	joined := quality.StripTags(body)
	runes := []rune(joined)
	if len(runes) <= limit {
		return joined
	}
	cut := string(runes[:limit])
	if i := strings.LastIndexByte(cut, ' '); i > len(cut)/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func preview(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
