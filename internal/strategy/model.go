package strategy

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/britannia/offline-hub/internal/cache"
	"github.com/britannia/offline-hub/internal/freshness"
	"github.com/britannia/offline-hub/internal/logging"
	"github.com/britannia/offline-hub/internal/upstream"
)

// ModelOptions 描述模型资源策略依赖。
type ModelOptions struct {
	Namespace cache.Namespace
	Fetcher   upstream.Fetcher
	Stamper   *freshness.Stamper
	MaxAge    time.Duration
	Logger    *logrus.Logger
}

// Model 网络优先：成功则打时间戳写入缓存；失败时回退缓存副本，过期仍返回但给出告警。
type Model struct {
	ns      cache.Namespace
	fetcher upstream.Fetcher
	stamper *freshness.Stamper
	maxAge  time.Duration
	logger  *logrus.Logger
}

// NewModel 构造模型资源策略。
func NewModel(opts ModelOptions) *Model {
	stamper := opts.Stamper
	if stamper == nil {
		stamper = freshness.New(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Model{
		ns:      opts.Namespace,
		fetcher: opts.Fetcher,
		stamper: stamper,
		maxAge:  opts.MaxAge,
		logger:  logger,
	}
}

// Serve 处理一次模型资源请求，总能返回响应。
func (m *Model) Serve(ctx context.Context, req *http.Request) Result {
	key := cache.RequestKey(req)

	resp, err := m.fetcher.Fetch(ctx, req)
	if err == nil {
		if resp.OK() && !resp.Opaque {
			put(ctx, m.ns, key, m.stamper.Stamp(resp), m.logger)
		}
		return Result{Response: resp, Source: SourceNetwork}
	}

	fields := logrus.Fields{"action": "model_fetch", "url": key.URL}
	m.logger.WithFields(fields).WithError(err).Warn("model_fetch_failed")

	cached := match(ctx, m.ns, key, m.logger)
	if cached == nil {
		return Result{Response: Unavailable(ModelUnavailableBody), Source: SourceSynthetic}
	}

	age, known := m.stamper.Age(cached)
	if known && age > m.maxAge {
		m.logger.WithFields(logrus.Fields{
			"action":  "model_fallback",
			"url":     key.URL,
			"age":     age.Round(time.Second).String(),
			"max_age": m.maxAge.String(),
		}).Warn("model_cache_stale")
		cached.Header.Add("Warning", staleWarning)
		return Result{Response: cached, Source: SourceCache, Stale: true}
	}
	return Result{Response: cached, Source: SourceCache}
}
