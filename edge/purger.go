// Package edge controls the HTTP response cache that sits in front of the
// service. The cache exposes a loopback-only purge endpoint per short code.
package edge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Purger evicts the edge cached response for a short code.
type Purger interface {
	Purge(ctx context.Context, shortCode string) error
}

// HTTPPurger calls GET {base}/purge/s/{code} on the edge cache.
type HTTPPurger struct {
	baseURL string
	client  *http.Client
}

func NewHTTPPurger(baseURL string, timeout time.Duration) *HTTPPurger {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPPurger{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Purge succeeds when the edge confirms the eviction or reports that nothing
// was cached (404, 412).
func (p *HTTPPurger) Purge(ctx context.Context, shortCode string) error {
	target := p.baseURL + "/purge/s/" + url.PathEscape(shortCode)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build purge request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("edge purge %s: %w", shortCode, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusPreconditionFailed:
		return nil
	default:
		return fmt.Errorf("edge purge %s: unexpected status %d", shortCode, resp.StatusCode)
	}
}

// Noop is used when no edge cache is configured.
type Noop struct{}

func (Noop) Purge(context.Context, string) error { return nil }

// Chain purges through every member and joins their errors.
type Chain []Purger

func (c Chain) Purge(ctx context.Context, shortCode string) error {
	var errs []error
	for _, p := range c {
		if err := p.Purge(ctx, shortCode); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
