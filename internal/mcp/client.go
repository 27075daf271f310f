package mcp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// maxResponseSize 单个响应体上限
const maxResponseSize = 32 << 20

// Client 守护进程 HTTP 客户端
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient addr 形如 localhost:8651；timeout 为单次请求超时，反编译大类可能很慢
func NewClient(addr string, timeout time.Duration) *Client {
	return &Client{
		baseURL: "http://" + addr,
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL 守护进程地址
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get 请求 route，返回状态码和原始响应体
func (c *Client) Get(ctx context.Context, route string, query url.Values) (int, []byte, error) {
	u := c.baseURL + "/" + route
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to reach jadx daemon at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
