// Package provider wraps the upstream social-data API the proxy endpoints
// charge for. The client is a thin pass-through: responses are relayed as raw
// JSON, and a failed upstream call is reported to the caller so the meter can
// skip the charge. No retries, because a retry would double the upstream cost
// of a single billed request.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/keygate/keygate/internal/telemetry"
)

// ErrUpstream wraps any upstream failure (transport error or non-2xx status).
// Handlers map it to 502 without leaking upstream details to the extension.
var ErrUpstream = errors.New("upstream provider error")

// maxResponseBytes caps how much of an upstream body is read. The provider's
// documented responses are well under this.
const maxResponseBytes = 4 << 20

// Client calls the upstream social-data API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a Client. timeout 0 falls back to 15 seconds.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// GetUser fetches a user profile by screen name and returns the raw JSON body.
func (c *Client) GetUser(ctx context.Context, screenName string) ([]byte, error) {
	q := url.Values{"screenname": {screenName}}
	return c.get(ctx, "user", "/screenname.php", q)
}

// GetUserTweets fetches a user's recent timeline and returns the raw JSON
// body. cursor is optional pagination state from a previous response.
func (c *Client) GetUserTweets(ctx context.Context, screenName, cursor string, count int) ([]byte, error) {
	q := url.Values{"screenname": {screenName}}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if count > 0 {
		q.Set("count", strconv.Itoa(count))
	}
	return c.get(ctx, "tweets", "/timeline.php", q)
}

func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		telemetry.ProviderRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		telemetry.ProviderRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		telemetry.ProviderRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		telemetry.ProviderRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	telemetry.ProviderRequestsTotal.WithLabelValues(endpoint, "ok").Inc()
	return body, nil
}
