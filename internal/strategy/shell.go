package strategy

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/britannia/offline-hub/internal/cache"
	"github.com/britannia/offline-hub/internal/classify"
	"github.com/britannia/offline-hub/internal/logging"
	"github.com/britannia/offline-hub/internal/upstream"
)

// ShellOptions 描述壳资源策略依赖。
type ShellOptions struct {
	Namespace cache.Namespace
	Fetcher   upstream.Fetcher
	Scheduler Scheduler
	// RootDocument 为离线导航回退使用的根文档绝对地址。
	RootDocument string
	Logger       *logrus.Logger
}

// Shell 缓存优先：命中立即返回并在后台刷新；未命中同步抓取并写入。
type Shell struct {
	ns        cache.Namespace
	fetcher   upstream.Fetcher
	scheduler Scheduler
	rootKey   cache.Key
	logger    *logrus.Logger
}

// NewShell 构造壳资源策略。Scheduler 为空时后台刷新同步执行。
func NewShell(opts ShellOptions) *Shell {
	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = inlineScheduler{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Shell{
		ns:        opts.Namespace,
		fetcher:   opts.Fetcher,
		scheduler: scheduler,
		rootKey:   cache.KeyFor(opts.RootDocument),
		logger:    logger,
	}
}

// Serve 处理一次壳资源请求，总能返回响应。
func (s *Shell) Serve(ctx context.Context, req *http.Request) Result {
	key := cache.RequestKey(req)

	if cached := match(ctx, s.ns, key, s.logger); cached != nil {
		s.refreshInBackground(ctx, req, key)
		return Result{Response: cached, Source: SourceCache}
	}

	resp, err := s.fetcher.Fetch(ctx, req)
	if err == nil {
		if storable(resp) {
			put(ctx, s.ns, key, resp.Clone(), s.logger)
		}
		return Result{Response: resp, Source: SourceNetwork}
	}

	s.logger.WithFields(logrus.Fields{"action": "shell_fetch", "url": key.URL}).
		WithError(err).Warn("shell_fetch_failed")
	return s.fallback(ctx, req, key)
}

// fallback 依次尝试：同 key 缓存副本 → 导航请求的根文档 → 503。
func (s *Shell) fallback(ctx context.Context, req *http.Request, key cache.Key) Result {
	if cached := match(ctx, s.ns, key, s.logger); cached != nil {
		return Result{Response: cached, Source: SourceFallback}
	}
	if classify.IsNavigation(req) {
		if root := match(ctx, s.ns, s.rootKey, s.logger); root != nil {
			return Result{Response: root, Source: SourceOfflineShell}
		}
	}
	return Result{Response: Unavailable(ShellUnavailableBody), Source: SourceSynthetic}
}

// refreshInBackground 在请求上下文之外重新抓取并覆盖同一个 key，
// 回退用的根文档 key 不会被写入。
func (s *Shell) refreshInBackground(ctx context.Context, req *http.Request, key cache.Key) {
	detached := context.WithoutCancel(ctx)
	refreshReq := req.Clone(detached)
	accepted := s.scheduler.Go(func() {
		resp, err := s.fetcher.Fetch(detached, refreshReq)
		if err != nil {
			s.logger.WithFields(logrus.Fields{"action": "shell_refresh", "url": key.URL}).
				WithError(err).Debug("shell_refresh_failed")
			return
		}
		if !storable(resp) {
			return
		}
		put(detached, s.ns, key, resp, s.logger)
		s.logger.WithFields(logrus.Fields{"action": "shell_refresh", "url": key.URL}).Debug("shell_refreshed")
	})
	if !accepted {
		s.logger.WithFields(logrus.Fields{"action": "shell_refresh", "url": key.URL}).Debug("shell_refresh_skipped")
	}
}

func storable(resp *cache.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusOK && !resp.Opaque
}
