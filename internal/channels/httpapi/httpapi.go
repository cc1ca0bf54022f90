// Package httpapi is a channel client speaking JSON over HTTP:
//
//	PUT    /products/{id}
//	POST   /products:batch
//	DELETE /products/{id}
//	GET    /health
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ETAnderson/catalogsync/internal/channels"
)

const maxErrorBody = 2048

// EncodeFunc renders a projection into the request body the channel expects.
type EncodeFunc func(productID int64, p channels.Projection) any

type Config struct {
	Name    string
	BaseURL string
	Token   string
	Timeout time.Duration
	// RPS limits outgoing requests; zero disables the limiter.
	RPS   float64
	Burst int

	HTTPClient *http.Client
	Encode     EncodeFunc
}

type Client struct {
	name    string
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
	limiter *rate.Limiter
	encode  EncodeFunc
	now     func() time.Time
}

var _ channels.Client = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("httpapi: base url is required")
	}
	name := cfg.Name
	if name == "" {
		name = "main"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	encode := cfg.Encode
	if encode == nil {
		encode = func(_ int64, p channels.Projection) any { return p }
	}

	c := &Client{
		name:    name,
		baseURL: base,
		token:   cfg.Token,
		timeout: timeout,
		http:    hc,
		encode:  encode,
		now:     time.Now,
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return c, nil
}

func (c *Client) Name() string { return c.name }

type pushResponse struct {
	Accepted *bool `json:"accepted"`
}

func (c *Client) PushOne(ctx context.Context, productID int64, p channels.Projection) (bool, error) {
	body, err := c.call(ctx, http.MethodPut, "/products/"+strconv.FormatInt(productID, 10), c.encode(productID, p))
	if err != nil {
		return false, err
	}
	return accepted(body), nil
}

type batchItem struct {
	ProductID int64 `json:"product_id"`
	Product   any   `json:"product"`
}

type batchRequest struct {
	Items []batchItem `json:"items"`
}

type batchResponse struct {
	Results map[string]bool `json:"results"`
}

// PushBatch sends every projection in one request. Products missing from
// the channel's result map are reported as not accepted.
func (c *Client) PushBatch(ctx context.Context, batch map[int64]channels.Projection) (map[int64]bool, error) {
	out := make(map[int64]bool, len(batch))
	if len(batch) == 0 {
		return out, nil
	}

	req := batchRequest{Items: make([]batchItem, 0, len(batch))}
	for id, p := range batch {
		req.Items = append(req.Items, batchItem{ProductID: id, Product: c.encode(id, p)})
	}

	body, err := c.call(ctx, http.MethodPost, "/products:batch", req)
	if err != nil {
		return nil, err
	}

	var resp batchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}
	for id := range batch {
		out[id] = resp.Results[strconv.FormatInt(id, 10)]
	}
	return out, nil
}

// Delete removes the product from the channel. A product the channel does not
// know is already deleted.
func (c *Client) Delete(ctx context.Context, productID int64) (bool, error) {
	body, err := c.call(ctx, http.MethodDelete, "/products/"+strconv.FormatInt(productID, 10), nil)
	if err != nil {
		var rej *channels.RejectedError
		if errors.As(err, &rej) && rej.Status == http.StatusNotFound {
			return true, nil
		}
		return false, err
	}
	return accepted(body), nil
}

func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	if _, err := c.call(ctx, http.MethodGet, "/health", nil); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) call(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &channels.UnavailableError{Err: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// connect failures, resets and timeouts
		return nil, &channels.UnavailableError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &channels.UnavailableError{Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case Transient(resp.StatusCode):
		return nil, &channels.UnavailableError{
			Status:     resp.StatusCode,
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
		}
	default:
		return nil, &channels.RejectedError{Status: resp.StatusCode, Body: truncate(respBody)}
	}
}

// Transient reports whether status is worth retrying.
func Transient(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// ParseRetryAfter reads a Retry-After header given either as delay seconds
// or as an HTTP date. Unparseable or past values yield zero.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// accepted treats an empty or non-JSON success body as acceptance; only an
// explicit {"accepted": false} refuses.
func accepted(body []byte) bool {
	var r pushResponse
	if len(bytes.TrimSpace(body)) == 0 || json.Unmarshal(body, &r) != nil || r.Accepted == nil {
		return true
	}
	return *r.Accepted
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
