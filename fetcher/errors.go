package fetcher

import (
	"fmt"
	"net/http"
	"strings"
)

// HTTPError is a response whose status the caller cannot use.
type HTTPError struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *HTTPError) Error() string {
	snippet := strings.TrimSpace(string(e.Body))
	if len(snippet) > 200 {
		snippet = snippet[:200] + "..."
	}
	if snippet == "" {
		return fmt.Sprintf("%s: http %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s: http %d: %s", e.URL, e.StatusCode, snippet)
}

// HTTPStatusCode lets the retry package classify the failure.
func (e *HTTPError) HTTPStatusCode() int { return e.StatusCode }

// RetryAfter returns the raw Retry-After header, if any.
func (e *HTTPError) RetryAfter() string {
	if e.Header == nil {
		return ""
	}
	return e.Header.Get("Retry-After")
}

// NetworkError is returned once the direct connection and every relay have failed.
type NetworkError struct {
	URL       string
	Transport string
	Attempts  []string
	Err       error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch %s: all %d transports failed, last via %s: %v", e.URL, len(e.Attempts), e.Transport, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Hint is the diagnostic shown to an operator.
func (e *NetworkError) Hint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Could not retrieve %s after %d attempt(s).\n", e.URL, len(e.Attempts))
	b.WriteString("Likely causes:\n")
	b.WriteString("  - the site's edge security layer (WAF or bot protection) is blocking automated requests\n")
	b.WriteString("  - the sitemap is private, moved, or misconfigured\n")
	b.WriteString("  - the host is unreachable from this network\n")
	fmt.Fprintf(&b, "Last error (%s): %v", e.Transport, e.Err)
	return b.String()
}
