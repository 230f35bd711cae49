package fatsecret

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/personaldata/internal/domain"
)

// DefaultBaseURL is the provider's single REST endpoint.
const DefaultBaseURL = "https://platform.fatsecret.com/rest/server.api"

// maxBodyBytes bounds a single response; a month of weights or a day of food entries is far smaller.
const maxBodyBytes = 8 << 20

// Client issues one signed GET per Call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	nonce      func() string
	now        func() time.Time
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithNonce overrides nonce generation.
func WithNonce(fn func() string) ClientOption {
	return func(c *Client) {
		if fn != nil {
			c.nonce = fn
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(fn func() time.Time) ClientOption {
	return func(c *Client) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewClient constructs a client for baseURL. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		nonce:      newNonce,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Call signs params for cred, performs the request and classifies the response body
// against payloadKey. Transport level failures come back as *domain.TransportError.
func (c *Client) Call(ctx context.Context, cred domain.Credential, params map[string]string, payloadKey string) (Envelope, error) {
	query := make(map[string]string, len(params)+1)
	for k, v := range params {
		query[k] = v
	}
	query["format"] = "json"

	signed := NewSignedRequest(http.MethodGet, c.baseURL, query, cred, c.nonce(), c.now().Unix())

	req, err := http.NewRequestWithContext(ctx, signed.Method(), signed.URL(), nil)
	if err != nil {
		return Envelope{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Envelope{}, &domain.TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	requestDuration.WithLabelValues(params["method"]).Observe(time.Since(start).Seconds())
	if err != nil {
		return Envelope{}, &domain.TransportError{Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Envelope{}, &domain.TransportError{Status: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	env, err := Classify(body, payloadKey)
	if err != nil {
		return Envelope{}, &domain.TransportError{Status: resp.StatusCode, Err: err}
	}
	return env, nil
}
