package serp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auto_seo_article_pipeline/cache"
	"auto_seo_article_pipeline/config"
	"auto_seo_article_pipeline/fetcher"
	"auto_seo_article_pipeline/retry"
	"auto_seo_article_pipeline/video"
)

const searchBody = `{
	"organic": [
		{"position": 1, "title": "SEO Basics", "link": "https://a.example/seo", "snippet": "Start here"},
		{"title": "SEO Checklist", "link": "https://b.example/list"}
	],
	"peopleAlsoAsk": [{"question": "What is SEO?"}, {"question": ""}],
	"relatedSearches": [{"query": "seo tools"}]
}`

func noSleep() retry.Options {
	o := retry.DefaultOptions()
	o.Sleep = func(context.Context, time.Duration) error { return nil }
	return o
}

func newClient(t *testing.T, srv *httptest.Server, c cache.Cache) *Client {
	t.Helper()
	f, err := fetcher.New(fetcher.Options{DirectTimeout: 2 * time.Second})
	require.NoError(t, err)
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return New(config.SERPConfig{Endpoint: srv.URL + "/", APIKey: "k-123", Country: "us", Language: "en", Results: 5},
		f, c, WithRetry(noSleep()), WithClock(func() time.Time { return fixed }))
}

func TestSearchParsesAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "k-123", r.Header.Get("X-API-KEY"))
		var q query
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.Equal(t, query{Q: "SEO  basics", GL: "us", HL: "en", Num: 5}, q)
		_, _ = w.Write([]byte(searchBody))
	}))
	defer srv.Close()

	c := newClient(t, srv, cache.NewMemory(time.Hour, nil))

	snap, err := c.Search(context.Background(), "SEO  basics")
	require.NoError(t, err)
	require.Len(t, snap.Results, 2)
	assert.Equal(t, 2, snap.Results[1].Position)
	assert.Equal(t, "Start here", snap.Results[0].Snippet)
	assert.Equal(t, []string{"What is SEO?"}, snap.PeopleAlsoAsk)
	assert.Equal(t, []string{"seo tools"}, snap.RelatedSearches)
	assert.Equal(t, 2025, snap.FetchedAt.Year())

	again, err := c.Search(context.Background(), "seo basics")
	require.NoError(t, err)
	assert.Equal(t, snap.Results, again.Results)
	assert.Equal(t, int32(1), hits.Load())
}

func TestSearchRetriesRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(searchBody))
	}))
	defer srv.Close()

	snap, err := newClient(t, srv, nil).Search(context.Background(), "seo")
	require.NoError(t, err)
	assert.Len(t, snap.Results, 2)
	assert.Equal(t, int32(2), hits.Load())
}

func TestSearchUnauthorizedIsTerminal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, `{"message":"Unauthorized."}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newClient(t, srv, nil).Search(context.Background(), "seo")
	require.Error(t, err)
	var te *retry.TerminalError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusUnauthorized, retry.StatusCode(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestVideosFeedSelection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/videos", r.URL.Path)
		_, _ = w.Write([]byte(`{"videos":[
			{"title":"One","link":"https://www.youtube.com/watch?v=aaaaaaaaaaa","channel":"C1"},
			{"title":"Dup","link":"https://youtu.be/aaaaaaaaaaa"},
			{"title":"Two","link":"https://www.youtube.com/watch?v=bbbbbbbbbbb"}
		]}`))
	}))
	defer srv.Close()

	vids, err := newClient(t, srv, nil).Videos(context.Background(), "seo")
	require.NoError(t, err)
	require.Len(t, vids, 3)
	assert.Equal(t, "C1", vids[0].Channel)

	picked := video.Select(vids, 2)
	require.Len(t, picked, 2)
	assert.Equal(t, "aaaaaaaaaaa", picked[0].ID)
	assert.Equal(t, "bbbbbbbbbbb", picked[1].ID)
}

func TestDisabledWithoutKey(t *testing.T) {
	c := New(config.SERPConfig{}, nil, nil)
	assert.False(t, c.Enabled())
	_, err := c.Search(context.Background(), "x")
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = c.Videos(context.Background(), "x")
	assert.ErrorIs(t, err, ErrDisabled)
}
