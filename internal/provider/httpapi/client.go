package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/provider"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// maxErrorBody bounds how much of an error response is read for classification.
const maxErrorBody = 64 << 10

// Client is a JSON REST client that turns every non-2xx response into a
// classified *provider.Error.
type Client struct {
	provider models.Provider
	baseURL  *url.URL
	http     *http.Client
	codes    map[string]provider.Kind
	now      func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP/2 client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithErrorCodes maps provider specific error codes to kinds.
func WithErrorCodes(codes map[string]provider.Kind) Option {
	return func(cl *Client) { cl.codes = codes }
}

func New(p models.Provider, baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid %s base url %q", p, baseURL)
	}
	c := &Client{
		provider: p,
		baseURL:  u,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		hc, err := NewHTTPClient(timeout)
		if err != nil {
			return nil, fmt.Errorf("unable to create http client: %w", err)
		}
		c.http = hc
	}
	return c, nil
}

// NewHTTPClient builds the pooled HTTP/2 capable client shared by adapters.
func NewHTTPClient(timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tr := &http.Transport{
		ResponseHeaderTimeout: timeout,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, err
	}

	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

// Request describes one API call.
type Request struct {
	Op        string
	Method    string
	Path      string
	Query     url.Values
	Header    http.Header
	Body      any
	BasicAuth *BasicAuth
	// Removal marks a delete whose 404 means the resource is already gone.
	Removal   bool
}

// BasicAuth carries basic authentication credentials.
type BasicAuth struct {
	Username string
	Password string
}

// Do performs the request and decodes a 2xx JSON body into out when out is non-nil.
func (c *Client) Do(ctx context.Context, r Request, out any) error {
	target := *c.baseURL
	target.Path = c.baseURL.Path + r.Path
	if len(r.Query) > 0 {
		target.RawQuery = r.Query.Encode()
	}

	var body io.Reader
	if r.Body != nil {
		buf, err := json.Marshal(r.Body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", r.Op, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", r.Op, err)
	}
	req.Header.Set("Accept", "application/json")
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, values := range r.Header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if r.BasicAuth != nil {
		req.SetBasicAuth(r.BasicAuth.Username, r.BasicAuth.Password)
	}

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return provider.Normalize(c.provider, r.Op, err)
	}
	defer resp.Body.Close()

	zap.L().Debug("Provider call completed",
		zap.String("provider", string(c.provider)),
		zap.String("op", r.Op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", c.now().Sub(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.errorFromResponse(r, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return provider.Normalize(c.provider, r.Op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// errorBody covers the error shapes returned by the supported providers.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) errorFromResponse(r Request, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var eb errorBody
	_ = json.Unmarshal(raw, &eb)
	code, message := eb.Code, eb.Message
	if eb.Error != nil {
		if code == "" {
			code = eb.Error.Code
		}
		if message == "" {
			message = eb.Error.Message
		}
	}
	if message == "" {
		message = eb.Detail
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	classify := provider.Classify
	if r.Removal {
		classify = provider.ClassifyRemoval
	}
	perr := &provider.Error{
		Kind:     classify(resp.StatusCode, code, c.codes),
		Provider: c.provider,
		Op:       r.Op,
		Status:   resp.StatusCode,
		Code:     code,
		Message:  message,
	}
	if perr.Kind == provider.KindRateLimited {
		perr.RetryAfter = provider.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now())
	}
	return perr
}
