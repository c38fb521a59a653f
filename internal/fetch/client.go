package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

// defaultMaxBody caps how much of a response is read; arrivals for a busy line
// are a few hundred KB. Larger bodies are rejected, not truncated.
const defaultMaxBody = 8 << 20

// Error is a transport failure: the request could not be made, timed out,
// returned a non-2xx status or a body that is not the expected format.
type Error struct {
	Endpoint string
	Status   int // 0 when no response was received
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d: %v", e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Client issues single GET requests against a transit API. It never retries.
type Client struct {
	baseURL    *url.URL
	appID      string
	appKey     string
	expectJSON bool
	maxBody    int64
	httpClient *http.Client
}

type Option func(*Client)

// WithCredentials appends app_id and app_key to every request.
func WithCredentials(appID, appKey string) Option {
	return func(c *Client) {
		c.appID = appID
		c.appKey = appKey
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBinaryBody disables JSON validation and the formatter=JSON parameter,
// for protobuf feeds.
func WithBinaryBody() Option {
	return func(c *Client) { c.expectJSON = false }
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q must be http or https", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	c := &Client{
		baseURL:    u,
		expectJSON: true,
		maxBody:    defaultMaxBody,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL builds the request URL for an endpoint path and extra parameters.
func (c *Client) URL(endpoint string, params map[string]string) string {
	ref, err := url.Parse(strings.TrimPrefix(endpoint, "/"))
	if err != nil {
		ref = &url.URL{Path: strings.TrimPrefix(endpoint, "/")}
	}
	u := c.baseURL.ResolveReference(ref)

	q := u.Query()
	if c.appID != "" {
		q.Set("app_id", c.appID)
	}
	if c.appKey != "" {
		q.Set("app_key", c.appKey)
	}
	if c.expectJSON {
		q.Set("formatter", "JSON")
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, params[k])
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Fetch performs one request and returns the body. On error no body is returned.
func (c *Client) Fetch(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(endpoint, params), nil)
	if err != nil {
		return nil, &Error{Endpoint: endpoint, Err: err}
	}
	if c.expectJSON {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &Error{Endpoint: endpoint, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(body)))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, &Error{Endpoint: endpoint, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > c.maxBody {
		return nil, &Error{Endpoint: endpoint, Status: resp.StatusCode, Err: fmt.Errorf("body exceeds %d bytes", c.maxBody)}
	}
	if c.expectJSON && !json.Valid(body) {
		return nil, &Error{Endpoint: endpoint, Status: resp.StatusCode, Err: fmt.Errorf("malformed JSON body (%d bytes)", len(body))}
	}
	return body, nil
}
