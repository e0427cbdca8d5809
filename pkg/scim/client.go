package scim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// DefaultTimeout bounds both connection establishment and the whole request.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of a downstream body is read.
const maxResponseBytes = 1 << 20

// Result is the outcome of one SCIM HTTP attempt. Transport-level failures
// (DNS, TCP, TLS, timeout, open circuit) carry Status 0 and an ErrorMessage;
// everything else reflects the downstream response.
type Result struct {
	Status       int
	Body         []byte
	ResourceID   string
	ErrorMessage string
}

// Success reports a 2xx downstream response.
func (r Result) Success() bool {
	return r.Status >= 200 && r.Status < 300
}

// Retryable reports whether the attempt may be retried later: transport
// failures, request timeout, throttling, and server errors qualify. Other
// 4xx statuses are permanent.
func (r Result) Retryable() bool {
	if r.Status == 0 {
		return true
	}
	return r.Status == http.StatusRequestTimeout ||
		r.Status == http.StatusTooManyRequests ||
		r.Status >= 500
}

// Request describes one SCIM call to a destination.
type Request struct {
	DestinationID string
	BaseURL       string
	Method        string
	ResourcePath  string
	ResourceID    string
	Token         string
	Body          any
}

// Client performs one-shot SCIM requests. Retry scheduling belongs to the
// delivery engine; the client's only protective behavior is a per-destination
// circuit breaker that short-circuits calls to hosts that keep failing at
// the transport level.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient = newHTTPClient(d)
	}
}

// WithHTTPClient substitutes the underlying *http.Client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = h
	}
}

// NewClient creates a SCIM client with default timeouts.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: newHTTPClient(DefaultTimeout),
		logger:     slog.Default().With("component", "scim_client"),
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:         (&net.Dialer{Timeout: timeout}).DialContext,
			TLSHandshakeTimeout: timeout,
		},
	}
}

// Do performs one request and reflects the outcome as a Result. It never
// returns an error: throws at the HTTP boundary become Status 0 values so
// retry classification stays a pure function of the Result.
func (c *Client) Do(ctx context.Context, req Request) Result {
	endpoint := JoinURL(req.BaseURL, req.ResourcePath, req.ResourceID)

	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return Result{Status: 0, ErrorMessage: fmt.Sprintf("failed to marshal request body: %v", err)}
		}
	}

	breaker := c.breakerFor(req.DestinationID)
	out, err := breaker.Execute(func() (any, error) {
		return c.execute(ctx, req.Method, endpoint, req.Token, payload)
	})
	if err != nil {
		c.logger.WarnContext(ctx, "scim request failed before a response",
			"destination_id", req.DestinationID, "method", req.Method, "url", endpoint, "error", err)
		return Result{Status: 0, ErrorMessage: err.Error()}
	}
	res := out.(Result)

	c.logger.DebugContext(ctx, "scim request completed",
		"destination_id", req.DestinationID, "method", req.Method, "url", endpoint, "status", res.Status)
	return res
}

func (c *Client) execute(ctx context.Context, method, endpoint, token string, payload []byte) (Result, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", MediaType)
	if payload != nil {
		httpReq.Header.Set("Content-Type", MediaType)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("failed to read response body: %w", err)
	}

	res := Result{Status: resp.StatusCode, Body: respBody}
	if res.Success() {
		res.ResourceID = ExtractResourceID(respBody)
	}
	return res, nil
}

// breakerFor returns the destination's circuit breaker, creating it on first
// use. Only transport-level failures count toward tripping: a host answering
// with error statuses is still a host answering.
func (c *Client) breakerFor(destinationID string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.breakers[destinationID]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "scim:" + destinationID,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	c.breakers[destinationID] = b
	return b
}

// JoinURL builds the absolute request URL, insensitive to trailing slashes on
// the base and leading slashes on the path.
func JoinURL(baseURL, resourcePath, resourceID string) string {
	u := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(resourcePath, "/")
	if resourceID != "" {
		u += "/" + resourceID
	}
	return u
}

var resourceIDPattern = regexp.MustCompile(`"id"\s*:\s*"([^"]+)"`)

// ExtractResourceID reads the top-level "id" of a SCIM response body. Bodies
// that fail to parse as JSON fall back to a tolerant regexp scan.
func ExtractResourceID(body []byte) string {
	var doc struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &doc); err == nil && doc.ID != "" {
		return doc.ID
	}
	if m := resourceIDPattern.FindSubmatch(body); m != nil {
		return string(m[1])
	}
	return ""
}
