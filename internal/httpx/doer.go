// Package httpx provides the shared outbound HTTP plumbing: a concurrency
// bounded doer and the HTTPS-only policy applied to every external call.
package httpx

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/frethen/casenotify/internal/faults"
)

// Doer issues outbound requests with a process-wide concurrency bound, so a
// burst of events cannot open unbounded simultaneous connections to any
// external service. A call that cannot acquire a permit waits until the
// request context expires.
type Doer struct {
	HTTPClient *http.Client

	sem *semaphore.Weighted
}

// NewDoer builds a doer allowing at most limit in-flight requests.
func NewDoer(limit int64, timeout time.Duration) *Doer {
	if limit <= 0 {
		limit = 16
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Doer{
		HTTPClient: &http.Client{Timeout: timeout},
		sem:        semaphore.NewWeighted(limit),
	}
}

// Do acquires a permit for the duration of the request exchange. The permit
// is released when Do returns; reading the response body is not covered by
// the bound.
func (d *Doer) Do(req *http.Request) (*http.Response, error) {
	if err := RequireHTTPS(req.URL.String()); err != nil {
		return nil, err
	}
	if err := d.sem.Acquire(req.Context(), 1); err != nil {
		return nil, faults.Wrap(faults.KindTransport, "httpx.acquire", err)
	}
	defer d.sem.Release(1)

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return nil, faults.Wrap(faults.KindTransport, "httpx.do", err)
	}
	return resp, nil
}

// RequireHTTPS rejects any target that is not an absolute https URL before a
// request is ever issued.
func RequireHTTPS(rawURL string) error {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return faults.Wrap(faults.KindBadReference, "httpx.url", err)
	}
	if parsed.Scheme != "https" || parsed.Host == "" {
		return faults.New(faults.KindBadReference, "httpx.url",
			fmt.Sprintf("refusing non-https target %q", rawURL))
	}
	return nil
}
