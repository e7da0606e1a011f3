package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct {
	code       int
	retryAfter string
}

func (e *statusErr) Error() string { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) HTTPStatusCode() int { return e.code }
func (e *statusErr) RetryAfter() string { return e.retryAfter }

type recorder struct {
	sleeps []time.Duration
}

func (r *recorder) opts() Options {
	return Options{
		MaxAttempts: 5,
		BaseDelay:   5 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			r.sleeps = append(r.sleeps, d)
			return nil
		},
		Jitter: func(time.Duration) time.Duration { return 0 },
		Now:    func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func TestUnauthorizedIsNeverRetried(t *testing.T) {
	rec := &recorder{}
	calls := 0
	_, err := Do(context.Background(), rec.opts(), func(context.Context) (string, error) {
		calls++
		return "", &statusErr{code: http.StatusUnauthorized}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.sleeps)
	var te *TerminalError
	assert.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
}

func TestServiceUnavailableRetriesThenSucceeds(t *testing.T) {
	rec := &recorder{}
	calls := 0
	got, err := Do(context.Background(), rec.opts(), func(context.Context) (string, error) {
		calls++
		if calls <= 3 {
			return "", &statusErr{code: http.StatusServiceUnavailable}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}, rec.sleeps)
}

func TestExhaustionIsDistinctFromLastError(t *testing.T) {
	rec := &recorder{}
	last := &statusErr{code: http.StatusBadGateway}
	calls := 0
	_, err := Do(context.Background(), rec.opts(), func(context.Context) (int, error) {
		calls++
		return 0, last
	})

	require.Error(t, err)
	assert.Equal(t, 5, calls)
	assert.Len(t, rec.sleeps, 4)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, last)
	assert.NotEqual(t, last.Error(), err.Error())
}

func TestRateLimitHonorsRetryAfterSeconds(t *testing.T) {
	rec := &recorder{}
	calls := 0
	_, err := Do(context.Background(), rec.opts(), func(context.Context) (bool, error) {
		calls++
		if calls == 1 {
			return false, &statusErr{code: http.StatusTooManyRequests, retryAfter: "7"}
		}
		return true, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{8 * time.Second}, rec.sleeps)
}

func TestRateLimitHonorsRetryAfterDate(t *testing.T) {
	rec := &recorder{}
	o := rec.opts()
	at := o.Now().Add(30 * time.Second).Format(http.TimeFormat)

	d := o.Delay(0, &statusErr{code: http.StatusTooManyRequests, retryAfter: at})
	assert.Equal(t, 31*time.Second, d)
}

func TestRateLimitWithoutHintBacksOffExponentially(t *testing.T) {
	o := (&recorder{}).opts()
	o.Jitter = func(time.Duration) time.Duration { return 250 * time.Millisecond }

	assert.Equal(t, 20*time.Second+250*time.Millisecond, o.Delay(2, &statusErr{code: http.StatusTooManyRequests}))
}

func TestMaxDelayCaps(t *testing.T) {
	o := (&recorder{}).opts()
	o.MaxDelay = 15 * time.Second
	assert.Equal(t, 15*time.Second, o.Delay(3, errors.New("connection reset")))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"bad request", &statusErr{code: 400}, Terminal},
		{"forbidden", &statusErr{code: 403}, Terminal},
		{"rate limit", &statusErr{code: 429}, RateLimited},
		{"server", &statusErr{code: 500}, Transient},
		{"network", errors.New("dial tcp: connection refused"), Transient},
		{"invalid key message", errors.New("API key not valid. Please pass a valid API key."), Terminal},
		{"context overflow", errors.New("This model's maximum context length is 128000 tokens"), Terminal},
		{"wrapped terminal", fmt.Errorf("outline: %w", &TerminalError{Err: errors.New("x")}), Terminal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestCancelledContextStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o := (&recorder{}).opts()
	o.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	calls := 0
	_, err := Do(ctx, o, func(context.Context) (string, error) {
		calls++
		return "", &statusErr{code: 503}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	d, ok := ParseRetryAfter("2.5", now)
	assert.True(t, ok)
	assert.Equal(t, 2500*time.Millisecond, d)

	d, ok = ParseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Zero(t, d)

	_, ok = ParseRetryAfter("soon", now)
	assert.False(t, ok)
	_, ok = ParseRetryAfter("", now)
	assert.False(t, ok)
}
