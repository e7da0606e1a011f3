// Package fetcher performs HTTP requests with a direct-first, proxy-fallback strategy.
package fetcher

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"auto_seo_article_pipeline/logger"
	"auto_seo_article_pipeline/metrics"
)

const (
	// KindForward rewrites the target into a relay URL (prefix + escaped target, or a {url} token).
	KindForward = "forward"
	// KindHTTP routes the request through a standard HTTP proxy.
	KindHTTP = "http"

	directName = "direct"
)

// Transport is one fallback route tried after the direct connection fails.
type Transport struct {
	Name    string
	Kind    string
	URL     string
	Timeout time.Duration
}

// Options controls fetcher construction.
type Options struct {
	UserAgent     string
	DirectTimeout time.Duration
	MaxBodyBytes  int64
	Proxies       []Transport
	// Client overrides the direct HTTP client; its Timeout is ignored in favour of DirectTimeout.
	Client  *http.Client
	Logger  logger.Logger
	Metrics *metrics.Metrics
}

// Request describes a single fetch.
type Request struct {
	Method string
	Header http.Header
	Body   []byte
	// Authenticated requests go direct only; relays strip credential headers.
	Authenticated bool
	// Usable overrides the default acceptance rule for a response status.
	Usable func(status int) bool
	// Progress receives a human-readable line at every transport attempt.
	Progress func(status string)
}

// Response is a fully read HTTP response.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Transport  string
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

type route struct {
	Transport
	client *http.Client
}

// Fetcher is safe for concurrent use.
type Fetcher struct {
	direct        *http.Client
	directTimeout time.Duration
	routes        []route
	userAgent     string
	maxBodyBytes  int64
	log           logger.Logger
	metrics       *metrics.Metrics
}

// New builds a Fetcher. Proxy URLs are validated up front.
func New(opts Options) (*Fetcher, error) {
	if opts.DirectTimeout <= 0 {
		opts.DirectTimeout = 20 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}

	direct := opts.Client
	if direct == nil {
		direct = &http.Client{Transport: newTransport(nil)}
	}

	routes := make([]route, 0, len(opts.Proxies))
	for i, p := range opts.Proxies {
		if p.Name == "" {
			p.Name = fmt.Sprintf("proxy-%d", i+1)
		}
		if p.Timeout <= 0 {
			p.Timeout = opts.DirectTimeout
		}
		r := route{Transport: p, client: direct}
		switch p.Kind {
		case "", KindForward:
			r.Kind = KindForward
			if _, err := url.Parse(p.URL); err != nil {
				return nil, fmt.Errorf("parse relay url %s: %w", p.Name, err)
			}
		case KindHTTP:
			proxyURL, err := url.Parse(p.URL)
			if err != nil {
				return nil, fmt.Errorf("parse proxy url %s: %w", p.Name, err)
			}
			r.client = &http.Client{Transport: newTransport(http.ProxyURL(proxyURL))}
		default:
			return nil, fmt.Errorf("proxy %s: unsupported kind %q", p.Name, p.Kind)
		}
		routes = append(routes, r)
	}

	return &Fetcher{
		direct:        direct,
		directTimeout: opts.DirectTimeout,
		routes:        routes,
		userAgent:     opts.UserAgent,
		maxBodyBytes:  opts.MaxBodyBytes,
		log:           opts.Logger,
		metrics:       opts.Metrics,
	}, nil
}

func newTransport(proxy func(*http.Request) (*url.URL, error)) *http.Transport {
	return &http.Transport{
		Proxy:                 proxy,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// Get fetches rawURL requiring a 2xx response.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Response, error) {
	return f.Fetch(ctx, rawURL, Request{})
}

// Fetch tries the direct connection, then each relay in order, returning the first usable response.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, req Request) (*Response, error) {
	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Authenticated || hasCredential(req.Header) {
		return f.fetchAuthenticated(ctx, rawURL, req)
	}

	usable := req.Usable
	if usable == nil {
		usable = func(status int) bool { return status >= 200 && status < 300 }
	}

	var attempts []string
	progress(req, fmt.Sprintf("Connecting directly to %s...", target.Host))
	resp, lastErr := f.do(ctx, f.direct, rawURL, req, f.directTimeout)
	if lastErr == nil && usable(resp.StatusCode) {
		f.metrics.Fetch(directName, "ok")
		resp.Transport = directName
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	lastErr = f.describeFailure(directName, resp, lastErr)
	lastName := directName
	attempts = append(attempts, fmt.Sprintf("%s: %v", directName, lastErr))

	for i, r := range f.routes {
		progress(req, fmt.Sprintf("Direct connection failed (%v); trying %s (%d/%d)...", lastErr, r.Name, i+1, len(f.routes)))
		via := rawURL
		if r.Kind == KindForward {
			via = relayURL(r.URL, rawURL)
		}
		proxied := req
		proxied.Header = stripHopHeaders(req.Header)
		resp, err := f.do(ctx, r.client, via, proxied, r.Timeout)
		if err == nil && usable(resp.StatusCode) {
			f.metrics.Fetch(r.Name, "ok")
			resp.Transport = r.Name
			resp.URL = rawURL
			f.log.Info("fetched via fallback transport", logger.String("url", rawURL), logger.String("transport", r.Name))
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = f.describeFailure(r.Name, resp, err)
		lastName = r.Name
		attempts = append(attempts, fmt.Sprintf("%s: %v", r.Name, lastErr))
	}

	netErr := &NetworkError{URL: rawURL, Transport: lastName, Attempts: attempts, Err: lastErr}
	f.log.Warn("all transports failed", logger.String("url", rawURL), logger.Strings("attempts", attempts))
	return nil, netErr
}

func (f *Fetcher) fetchAuthenticated(ctx context.Context, rawURL string, req Request) (*Response, error) {
	usable := req.Usable
	if usable == nil {
		usable = func(status int) bool { return status >= 200 && status < 500 }
	}
	progress(req, "Sending authenticated request directly (relays strip credentials)...")
	resp, err := f.do(ctx, f.direct, rawURL, req, f.directTimeout)
	if err != nil {
		f.metrics.Fetch(directName, "error")
		return nil, fmt.Errorf("%s %s: %w", req.Method, redact(rawURL), err)
	}
	resp.Transport = directName
	if !usable(resp.StatusCode) {
		f.metrics.Fetch(directName, "unusable")
		return nil, &HTTPError{URL: redact(rawURL), StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}
	}
	f.metrics.Fetch(directName, "ok")
	return resp, nil
}

func (f *Fetcher) describeFailure(name string, resp *Response, err error) error {
	if err != nil {
		f.metrics.Fetch(name, "error")
		return err
	}
	f.metrics.Fetch(name, "unusable")
	return &HTTPError{URL: resp.URL, StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}
}

func (f *Fetcher) do(ctx context.Context, client *http.Client, rawURL string, req Request, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if f.userAgent != "" {
		httpReq.Header.Set("User-Agent", f.userAgent)
	}
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	data, err := f.readBody(resp)
	if err != nil {
		return nil, err
	}
	return &Response{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}

func (f *Fetcher) readBody(resp *http.Response) ([]byte, error) {
	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	data, err := io.ReadAll(io.LimitReader(reader, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > f.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", f.maxBodyBytes)
	}
	return data, nil
}

func relayURL(prefix, target string) string {
	if strings.Contains(prefix, "{url}") {
		return strings.ReplaceAll(prefix, "{url}", url.QueryEscape(target))
	}
	return prefix + url.QueryEscape(target)
}

var credentialHeaders = []string{"Authorization", "X-Api-Key", "X-Goog-Api-Key", "Api-Key"}

func hasCredential(h http.Header) bool {
	for _, k := range credentialHeaders {
		if h.Get(k) != "" {
			return true
		}
	}
	return false
}

func stripHopHeaders(h http.Header) http.Header {
	if h == nil {
		return nil
	}
	out := h.Clone()
	out.Del("Cookie")
	return out
}

func progress(req Request, msg string) {
	if req.Progress != nil {
		req.Progress(msg)
	}
}

// redact drops query strings, which sometimes carry API keys.
func redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
