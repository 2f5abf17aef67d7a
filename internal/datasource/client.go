// Package datasource loads listings and media records from pixiv and from a
// local vview server, and drives the id list of a browsing session.
package datasource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bunchhieng/vview/internal/model"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	DefaultAPIHost   = "https://www.pixiv.net"
	DefaultRateLimit = 2.0
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/123.0.0.0 Safari/537.36"
)

var httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vview_http_requests_total",
	Help: "HTTP requests made to data sources, by status class",
}, []string{"status"})

// APIError is a failed request: a non-2xx response or an API-level error
// reported inside a 200 response.
type APIError struct {
	URL     string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.URL, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.URL, e.Status)
}

// Unwrap maps 404 responses to model.ErrNotFound.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return model.ErrNotFound
	}
	return nil
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is prepended to request paths.
	BaseURL string
	// Referer is sent with every request, defaulting to BaseURL + "/".
	Referer    string
	Cookie     string
	UserAgent  string
	RateLimit  float64
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client makes rate-limited JSON requests to one host.
type Client struct {
	base      string
	referer   string
	cookie    string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewClient returns a client for config.BaseURL.
func NewClient(config ClientConfig) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultAPIHost
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Referer == "" {
		config.Referer = config.BaseURL + "/"
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.RateLimit <= 0 {
		config.RateLimit = DefaultRateLimit
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		base:      config.BaseURL,
		referer:   config.Referer,
		cookie:    config.Cookie,
		userAgent: config.UserAgent,
		http:      config.HTTPClient,
		limiter:   rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		logger:    config.Logger.With("component", "client", "host", config.BaseURL),
	}
}

// BaseURL returns the host requests go to.
func (c *Client) BaseURL() string {
	return c.base
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Referer", c.referer)
	req.Header.Set("User-Agent", c.userAgent)
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, model.Cancelled(ctx.Err())
		}
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	c.logger.Debug("request", "method", req.Method, "url", req.URL.String())
	resp, err := c.http.Do(req)
	if err != nil {
		httpRequests.WithLabelValues("error").Inc()
		if ctx.Err() != nil {
			return nil, model.Cancelled(ctx.Err())
		}
		return nil, fmt.Errorf("request %s: %w", req.URL, err)
	}
	httpRequests.WithLabelValues(strconv.Itoa(resp.StatusCode/100) + "xx").Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{
			URL:     req.URL.String(),
			Status:  resp.StatusCode,
			Message: gjson.GetBytes(data, "message").String(),
		}
	}
	return resp, nil
}

func (c *Client) readBody(req *http.Request, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx := req.Context(); ctx.Err() != nil {
			return nil, model.Cancelled(ctx.Err())
		}
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

// GetAjax requests a pixiv ajax endpoint and returns the "body" member of the
// {error, message, body} envelope.
func (c *Client) GetAjax(ctx context.Context, path string, query url.Values) ([]byte, error) {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	data, err := c.readBody(req, resp)
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s: response is not JSON", target)
	}
	if gjson.GetBytes(data, "error").Bool() {
		return nil, &APIError{URL: target, Status: resp.StatusCode, Message: gjson.GetBytes(data, "message").String()}
	}
	return []byte(gjson.GetBytes(data, "body").Raw), nil
}

// PostLocal posts payload as JSON to a local server endpoint and returns the
// whole response, which must carry "success": true.
func (c *Client) PostLocal(ctx context.Context, path string, payload any) ([]byte, error) {
	target := c.base + path
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	data, err := c.readBody(req, resp)
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s: response is not JSON", target)
	}
	if !gjson.GetBytes(data, "success").Bool() {
		reason := gjson.GetBytes(data, "reason").String()
		status := resp.StatusCode
		if reason == "not-found" {
			status = http.StatusNotFound
		}
		return nil, &APIError{URL: target, Status: status, Message: reason}
	}
	return data, nil
}

// Open starts a GET of an absolute URL, such as an image or a frame archive,
// and returns the body and its length (-1 if unknown). The caller closes the
// body.
func (c *Client) Open(ctx context.Context, target string) (io.ReadCloser, int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, 0, err
	}
	return resp.Body, resp.ContentLength, nil
}

// Fetch downloads an absolute URL into memory.
func (c *Client) Fetch(ctx context.Context, target string) ([]byte, error) {
	body, _, err := c.Open(ctx, target)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, model.Cancelled(ctx.Err())
		}
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	return data, nil
}

// IsNotFound reports whether err is a not-found response.
func IsNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
