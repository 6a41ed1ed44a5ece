// Package classify assigns every request seen by the hub to exactly one
// handling category.
package classify

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Category 为请求分类结果，仅在分发时使用，不会持久化。
type Category string

const (
	Ignored Category = "ignored"
	Shell   Category = "shell"
	Model   Category = "model"
)

// Classifier 依据方法、来源与路径进行分类，是无副作用的纯函数。
type Classifier struct {
	origin       string
	modelSegment string
}

// New 构造分类器。origin 为应用源地址；modelSegment 为模型资源路径片段（如 "/models/"）。
func New(origin *url.URL, modelSegment string) *Classifier {
	return &Classifier{
		origin:       originOf(origin),
		modelSegment: modelSegment,
	}
}

// Classify 规则依次为：非 GET 忽略；跨源忽略；路径含模型片段为 Model；其余为 Shell。
func (c *Classifier) Classify(req *http.Request) Category {
	if req == nil || req.URL == nil {
		return Ignored
	}
	if req.Method != http.MethodGet {
		return Ignored
	}
	if originOf(req.URL) != c.origin {
		return Ignored
	}
	if c.modelSegment != "" && strings.Contains(req.URL.Path, c.modelSegment) {
		return Model
	}
	return Shell
}

// IsNavigation 判断请求是否为整页导航。
func IsNavigation(req *http.Request) bool {
	if req == nil {
		return false
	}
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	return strings.Contains(strings.ToLower(req.Header.Get("Accept")), "text/html")
}

// originOf 规范化为 scheme://host:port，默认端口补齐，便于直接比较。
func originOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		switch scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	return scheme + "://" + net.JoinHostPort(host, port)
}
