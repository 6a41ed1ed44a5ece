package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/britannia/offline-hub/internal/cache"
)

// Fetcher 发起一次网络请求并返回完整读取的响应快照；仅在网络层失败时返回 error，
// 任意 HTTP 状态码都视为成功抓取。
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*cache.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *http.Request) (*cache.Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*cache.Response, error) {
	return f(ctx, req)
}

// HTTPFetcher 基于共享 http.Client 实现 Fetcher。
type HTTPFetcher struct {
	client *http.Client
}

// NewFetcher 构造 HTTPFetcher，client 为空时使用 NewClient(nil)。
func NewFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = NewClient(nil)
	}
	return &HTTPFetcher{client: client}
}

// Fetch 复制请求（剔除 hop-by-hop 头）后发往上游，正文一次性读入内存，
// 供缓存写入与返回路径共享。
func (f *HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*cache.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("upstream request required")
	}

	out := req.Clone(ctx)
	out.RequestURI = ""
	out.Host = ""
	out.Header = make(http.Header, len(req.Header))
	CopyHeaders(out.Header, req.Header)

	resp, err := f.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.URL.Redacted(), err)
	}

	header := make(http.Header, len(resp.Header))
	CopyHeaders(header, resp.Header)
	header.Del("Content-Length")

	opaque := false
	if resp.Request != nil && resp.Request.URL != nil {
		opaque = !SameOrigin(resp.Request.URL, req.URL)
	}

	return &cache.Response{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
		Opaque:     opaque,
	}, nil
}

// SameOrigin 比较 scheme、host 与端口（默认端口视为相同）。
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Hostname(), b.Hostname()) &&
		effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		return "80"
	case "https":
		return "443"
	}
	return ""
}
