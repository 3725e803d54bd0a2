package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ResponseInfo carries response details.
type ResponseInfo struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Client wraps HTTP requests for CLI. Each service has its own base URL.
type Client struct {
	mu            sync.RWMutex
	baseURLs      map[string]string
	timeout       time.Duration
	tokenProvider func() string
}

func New(baseURLs map[string]string, timeout time.Duration, tokenProvider func() string) *Client {
	urls := make(map[string]string, len(baseURLs))
	for service, url := range baseURLs {
		urls[service] = strings.TrimRight(url, "/")
	}
	return &Client{
		baseURLs:      urls,
		timeout:       timeout,
		tokenProvider: tokenProvider,
	}
}

func (c *Client) SetBaseURL(service, baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURLs[service] = strings.TrimRight(baseURL, "/")
}

func (c *Client) BaseURL(service string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURLs[service]
}

func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.timeout = timeout
	}
}

func (c *Client) Do(ctx context.Context, service, method, path string, headers map[string]string, body []byte) (ResponseInfo, error) {
	var info ResponseInfo
	baseURL := c.BaseURL(service)
	if baseURL == "" {
		return info, fmt.Errorf("no base url for service %s", service)
	}
	client := &http.Client{Timeout: c.timeout}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return info, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	if c.tokenProvider != nil {
		if token := c.tokenProvider(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	info.Duration = time.Since(start)
	if err != nil {
		return info, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	info.StatusCode = resp.StatusCode
	info.Headers = resp.Header
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return info, fmt.Errorf("read response body failed: %w", err)
	}
	info.Body = bodyBytes
	return info, nil
}
