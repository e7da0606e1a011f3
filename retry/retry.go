// Package retry wraps provider calls with classification-aware retry and backoff.
//
// Client errors (4xx other than 429), invalid credentials and context-window overflows fail
// immediately. Rate limits honor a provider Retry-After hint; everything else backs off
// exponentially with jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"auto_seo_article_pipeline/logger"
	"auto_seo_article_pipeline/metrics"
)

// ErrRetriesExhausted is wrapped into the error returned once every attempt has failed.
var ErrRetriesExhausted = errors.New("retry attempts exhausted")

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatusCode() int
}

// RetryAfterer is implemented by errors that carry a raw Retry-After header value.
type RetryAfterer interface {
	RetryAfter() string
}

// TerminalError marks a failure for which retrying is pointless.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string {
	return "terminal provider error: " + e.Err.Error()
}

func (e *TerminalError) Unwrap() error { return e.Err }

// Class is the retry classification of an error.
type Class int

const (
	Transient Class = iota
	RateLimited
	Terminal
)

func (c Class) String() string {
	switch c {
	case RateLimited:
		return "rate_limited"
	case Terminal:
		return "terminal"
	default:
		return "transient"
	}
}

var terminalMarkers = []string{
	"invalid api key",
	"invalid_api_key",
	"incorrect api key",
	"api key not valid",
	"invalid x-api-key",
	"invalid authentication",
	"context length",
	"context_length_exceeded",
	"maximum context length",
	"context window",
	"prompt is too long",
	"input is too long",
}

// Classify decides whether err is worth retrying.
func Classify(err error) Class {
	if err == nil {
		return Transient
	}
	var te *TerminalError
	if errors.As(err, &te) {
		return Terminal
	}
	if code := StatusCode(err); code != 0 {
		if code == http.StatusTooManyRequests {
			return RateLimited
		}
		if code >= 400 && code < 500 {
			return Terminal
		}
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range terminalMarkers {
		if strings.Contains(msg, marker) {
			return Terminal
		}
	}
	return Transient
}

// StatusCode extracts an HTTP status from err, or 0.
func StatusCode(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatusCode()
	}
	return 0
}

// ParseRetryAfter understands both delta-seconds and HTTP-date forms.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// Options configures Do. Zero fields take the defaults from DefaultOptions.
type Options struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	RetryAfterBuffer time.Duration
	MaxJitter        time.Duration

	// Sleep waits for d or returns ctx.Err(); replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	// Jitter returns a random duration in [0, max).
	Jitter func(max time.Duration) time.Duration
	Now    func() time.Time

	Label   string
	Logger  logger.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions returns five attempts with a 5s exponential base.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:      5,
		BaseDelay:        5 * time.Second,
		RetryAfterBuffer: time.Second,
		MaxJitter:        time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = def.BaseDelay
	}
	if o.RetryAfterBuffer <= 0 {
		o.RetryAfterBuffer = def.RetryAfterBuffer
	}
	if o.MaxJitter <= 0 {
		o.MaxJitter = def.MaxJitter
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	if o.Jitter == nil {
		o.Jitter = randomJitter
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	return o
}

// Delay computes the wait before the next attempt; attempt is zero-based (0 = first retry).
func (o Options) Delay(attempt int, err error) time.Duration {
	o = o.withDefaults()
	if Classify(err) == RateLimited {
		var ra RetryAfterer
		if errors.As(err, &ra) {
			if d, ok := ParseRetryAfter(ra.RetryAfter(), o.Now()); ok {
				return o.capped(d + o.RetryAfterBuffer)
			}
		}
	}
	backoff := o.BaseDelay << uint(attempt)
	if backoff <= 0 {
		backoff = o.BaseDelay
	}
	return o.capped(backoff + o.Jitter(o.MaxJitter))
}

func (o Options) capped(d time.Duration) time.Duration {
	if o.MaxDelay > 0 && d > o.MaxDelay {
		return o.MaxDelay
	}
	return d
}

// Do runs op until it succeeds, fails terminally, or the attempts are used up.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	opts = opts.withDefaults()
	var zero T
	var lastErr error

	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		res, err := op(ctx)
		if err == nil {
			opts.Metrics.Retry("success")
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, err
		}
		lastErr = err

		class := Classify(err)
		if class == Terminal {
			opts.Metrics.Retry("terminal")
			opts.Logger.Warn("provider call failed terminally",
				logger.String("op", opts.Label), logger.Int("attempt", attempt+1), logger.Error(err))
			var te *TerminalError
			if errors.As(err, &te) {
				return zero, err
			}
			return zero, &TerminalError{Err: err}
		}
		opts.Metrics.Retry("retriable")

		if attempt == opts.MaxAttempts-1 {
			break
		}
		delay := opts.Delay(attempt, err)
		opts.Logger.Info("provider call failed, backing off",
			logger.String("op", opts.Label),
			logger.String("class", class.String()),
			logger.Int("attempt", attempt+1),
			logger.Duration("delay", delay),
			logger.Error(err))
		if err := opts.Sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	opts.Metrics.Retry("exhausted")
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, opts.MaxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
