package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Store 管理缓存分区（namespace）。布局与实现无关，调用方只依赖以下语义：
// Open 幂等创建/打开；Names 列出当前存在的分区；Delete 删除分区及其全部条目。
type Store interface {
	// Open 返回名为 name 的分区，不存在时创建。
	Open(ctx context.Context, name string) (Namespace, error)

	// Names 按名称排序返回现有分区。
	Names(ctx context.Context) ([]string, error)

	// Delete 删除分区，返回该分区此前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Close 释放底层资源。
	Close() error
}

// Namespace 是单个分区内 "请求标识 → 响应快照" 的映射。
type Namespace interface {
	Name() string

	// Put 以完整覆盖的方式写入条目，同 key 最后一次写入生效。
	Put(ctx context.Context, key Key, resp *Response) error

	// Match 返回条目副本，不存在时返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Response, error)
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrNamespaceGone 表示分区已被删除，写入被拒绝而不是悄悄重建。
	ErrNamespaceGone = errors.New("cache namespace deleted")
	// ErrUnsupportedMethod 表示仅 GET 请求可作为缓存键。
	ErrUnsupportedMethod = errors.New("only GET requests can be cached")
)

// Key 唯一定位一个缓存条目：方法 + 去掉 fragment 的绝对 URL。
type Key struct {
	Method string
	URL    string
}

// KeyFor 返回指定 URL 的 GET 键。
func KeyFor(rawURL string) Key {
	return Key{Method: http.MethodGet, URL: stripFragment(rawURL)}
}

// RequestKey 根据请求构造缓存键。
func RequestKey(req *http.Request) Key {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	return Key{Method: method, URL: stripFragment(req.URL.String())}
}

func (k Key) String() string {
	return k.Method + " " + k.URL
}

func (k Key) validate() error {
	if k.Method != http.MethodGet {
		return fmt.Errorf("%w: %s", ErrUnsupportedMethod, k.Method)
	}
	if k.URL == "" {
		return errors.New("cache key url required")
	}
	return nil
}

func stripFragment(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	parsed.Fragment = ""
	parsed.RawFragment = ""
	return parsed.String()
}

// Response 是完全物化的响应快照，正文只读取一次后在缓存写入与返回路径间共享副本。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Opaque 表示响应最终来自其它源（跨源重定向），不可写入缓存。
	Opaque bool
}

// OK 对应 2xx 状态。
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Clone 深拷贝头部与正文。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := &Response{
		StatusCode: r.StatusCode,
		Header:     r.Header.Clone(),
		Opaque:     r.Opaque,
	}
	if cloned.Header == nil {
		cloned.Header = http.Header{}
	}
	if r.Body != nil {
		cloned.Body = append([]byte(nil), r.Body...)
	}
	return cloned
}

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewStore(basePath string) (Store, error) {
	return newFileStore(basePath)
}

// OpenBackend 根据配置选择存储实现：fs / sqlite / memory。
func OpenBackend(backend, basePath string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "fs":
		return newFileStore(basePath)
	case "sqlite":
		return NewSQLiteStore(basePath)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", backend)
	}
}

// validateName 拒绝会逃逸存储根目录的分区名。
func validateName(name string) error {
	if name == "" {
		return errors.New("namespace name required")
	}
	if strings.ContainsAny(name, "/\\") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid namespace name: %q", name)
	}
	return nil
}
