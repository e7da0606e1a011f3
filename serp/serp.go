// Package serp collects keyword intelligence (organic results, related questions, video
// candidates) from a Serper-compatible search API, cached per query.
package serp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"auto_seo_article_pipeline/cache"
	"auto_seo_article_pipeline/config"
	"auto_seo_article_pipeline/content"
	"auto_seo_article_pipeline/fetcher"
	"auto_seo_article_pipeline/logger"
	"auto_seo_article_pipeline/retry"
	"auto_seo_article_pipeline/video"
)

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = errors.New("serp: disabled")

// Doer is the subset of the fetch layer the client needs.
type Doer interface {
	Fetch(ctx context.Context, rawURL string, req fetcher.Request) (*fetcher.Response, error)
}

// Client queries the search API. Safe for concurrent use.
type Client struct {
	doer     Doer
	cache    cache.Cache
	endpoint string
	apiKey   string
	country  string
	language string
	results  int
	retry    retry.Options
	log      logger.Logger
	now      func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithRetry overrides the retry policy.
func WithRetry(opts retry.Options) Option {
	return func(c *Client) { c.retry = opts }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock replaces time.Now for FetchedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New builds a client. A nil cache disables caching.
func New(cfg config.SERPConfig, doer Doer, c cache.Cache, opts ...Option) *Client {
	cl := &Client{
		doer:     doer,
		cache:    c,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		country:  cfg.Country,
		language: cfg.Language,
		results:  cfg.Results,
		retry:    retry.DefaultOptions(),
		log:      logger.NewNop(),
		now:      time.Now,
	}
	if cl.results <= 0 {
		cl.results = 10
	}
	for _, opt := range opts {
		opt(cl)
	}
	cl.retry.Label = "serp"
	if cl.retry.Logger == nil {
		cl.retry.Logger = cl.log
	}
	return cl
}

// Enabled reports whether the client has credentials.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != "" && c.doer != nil
}

type query struct {
	Q   string `json:"q"`
	GL  string `json:"gl,omitempty"`
	HL  string `json:"hl,omitempty"`
	Num int    `json:"num,omitempty"`
}

type searchResponse struct {
	Organic []struct {
		Position int    `json:"position"`
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
	} `json:"organic"`
	PeopleAlsoAsk []struct {
		Question string `json:"question"`
	} `json:"peopleAlsoAsk"`
	RelatedSearches []struct {
		Query string `json:"query"`
	} `json:"relatedSearches"`
}

type videosResponse struct {
	Videos []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Channel string `json:"channel"`
	} `json:"videos"`
}

// Search returns the organic landscape for q.
func (c *Client) Search(ctx context.Context, q string) (*content.SerpSnapshot, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	key := "serp:" + normalizeQuery(q)
	if snap, ok := c.cached(ctx, key); ok {
		var out content.SerpSnapshot
		if json.Unmarshal(snap, &out) == nil {
			return &out, nil
		}
	}

	var resp searchResponse
	if err := c.post(ctx, "/search", q, &resp); err != nil {
		return nil, err
	}
	snap := &content.SerpSnapshot{
		Query:     q,
		Results:   make([]content.SerpResult, 0, len(resp.Organic)),
		FetchedAt: c.now().UTC(),
	}
	for i, r := range resp.Organic {
		pos := r.Position
		if pos == 0 {
			pos = i + 1
		}
		snap.Results = append(snap.Results, content.SerpResult{Position: pos, Title: r.Title, Link: r.Link, Snippet: r.Snippet})
	}
	for _, p := range resp.PeopleAlsoAsk {
		if p.Question != "" {
			snap.PeopleAlsoAsk = append(snap.PeopleAlsoAsk, p.Question)
		}
	}
	for _, r := range resp.RelatedSearches {
		if r.Query != "" {
			snap.RelatedSearches = append(snap.RelatedSearches, r.Query)
		}
	}
	c.store(ctx, key, snap)
	return snap, nil
}

// Videos returns video candidates for q in ranking order. IDs are left for video.Select to derive.
func (c *Client) Videos(ctx context.Context, q string) ([]video.Video, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	key := "videos:" + normalizeQuery(q)
	if raw, ok := c.cached(ctx, key); ok {
		var out []video.Video
		if json.Unmarshal(raw, &out) == nil {
			return out, nil
		}
	}

	var resp videosResponse
	if err := c.post(ctx, "/videos", q, &resp); err != nil {
		return nil, err
	}
	out := make([]video.Video, 0, len(resp.Videos))
	for _, v := range resp.Videos {
		out = append(out, video.Video{Title: v.Title, URL: v.Link, Channel: v.Channel})
	}
	c.store(ctx, key, out)
	return out, nil
}

func (c *Client) post(ctx context.Context, path, q string, out any) error {
	body, err := json.Marshal(query{Q: q, GL: c.country, HL: c.language, Num: c.results})
	if err != nil {
		return fmt.Errorf("encode serp query: %w", err)
	}
	header := http.Header{}
	header.Set("X-API-KEY", c.apiKey)
	header.Set("Content-Type", "application/json")

	resp, err := retry.Do(ctx, c.retry, func(ctx context.Context) (*fetcher.Response, error) {
		resp, err := c.doer.Fetch(ctx, c.endpoint+path, fetcher.Request{
			Method:        http.MethodPost,
			Header:        header,
			Body:          body,
			Authenticated: true,
		})
		if err != nil {
			return nil, err
		}
		if !resp.OK() {
			return nil, &fetcher.HTTPError{URL: c.endpoint + path, StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}
		}
		return resp, nil
	})
	if err != nil {
		return fmt.Errorf("serp %s %q: %w", path, q, err)
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode serp %s response: %w", path, err)
	}
	return nil
}

func (c *Client) cached(ctx context.Context, key string) ([]byte, bool) {
	if c.cache == nil {
		return nil, false
	}
	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.Warn("serp cache read failed", logger.String("key", key), logger.Error(err))
		return nil, false
	}
	return raw, ok
}

func (c *Client) store(ctx context.Context, key string, v any) {
	if c.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, c.cache, key, v); err != nil {
		c.log.Warn("serp cache write failed", logger.String("key", key), logger.Error(err))
	}
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}
