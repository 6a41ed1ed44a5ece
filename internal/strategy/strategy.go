// Package strategy implements the two fetch/cache policies of the hub: the
// cache-first shell strategy with background refresh and the network-first
// model strategy with a staleness-tolerant fallback.
package strategy

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/britannia/offline-hub/internal/cache"
)

// Source 标记响应来源，写入 X-Offline-Hub-Source 与日志。
type Source string

const (
	SourceCache        Source = "cache"
	SourceNetwork      Source = "network"
	SourceFallback     Source = "fallback"
	SourceOfflineShell Source = "offline-shell"
	SourceSynthetic    Source = "synthetic"
)

const (
	// ShellUnavailableBody 是壳资源彻底不可用时的正文。
	ShellUnavailableBody = "Service unavailable"
	// ModelUnavailableBody 是模型资源彻底不可用时的正文。
	ModelUnavailableBody = "Model unavailable"

	staleWarning = `110 - "Response is Stale"`
)

// Result 是策略的处理结果。
type Result struct {
	Response *cache.Response
	Source   Source
	// Stale 仅模型策略使用：返回的缓存副本超过最大年龄。
	Stale bool
}

// Scheduler 承载不阻塞响应的后台任务，调用方可在关闭或测试时等待其完成。
// Go 返回 false 表示任务未被接收（例如进程正在关闭）。
type Scheduler interface {
	Go(func()) bool
}

type inlineScheduler struct{}

func (inlineScheduler) Go(fn func()) bool {
	fn()
	return true
}

// Unavailable 构造 503 纯文本响应。
func Unavailable(body string) *cache.Response {
	return &cache.Response{
		StatusCode: http.StatusServiceUnavailable,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       []byte(body),
	}
}

// match 查询缓存，未命中与读取失败都返回 nil，失败时记录告警。
func match(ctx context.Context, ns cache.Namespace, key cache.Key, logger *logrus.Logger) *cache.Response {
	if ns == nil {
		return nil
	}
	resp, err := ns.Match(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			logger.WithFields(logrus.Fields{
				"action":    "cache_match",
				"namespace": ns.Name(),
				"key":       key.String(),
			}).WithError(err).Warn("cache_read_failed")
		}
		return nil
	}
	return resp
}

// put 写入缓存，失败只记录告警，不影响响应。
func put(ctx context.Context, ns cache.Namespace, key cache.Key, resp *cache.Response, logger *logrus.Logger) {
	if ns == nil {
		return
	}
	if err := ns.Put(ctx, key, resp); err != nil {
		logger.WithFields(logrus.Fields{
			"action":    "cache_put",
			"namespace": ns.Name(),
			"key":       key.String(),
		}).WithError(err).Warn("cache_write_failed")
	}
}
