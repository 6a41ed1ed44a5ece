// Package lifecycle orchestrates the hub: warming the shell namespace on
// install, pruning obsolete generations and claiming traffic on activate, and
// dispatching every intercepted request to the matching strategy.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/britannia/offline-hub/internal/cache"
	"github.com/britannia/offline-hub/internal/classify"
	"github.com/britannia/offline-hub/internal/config"
	"github.com/britannia/offline-hub/internal/freshness"
	"github.com/britannia/offline-hub/internal/logging"
	"github.com/britannia/offline-hub/internal/namespace"
	"github.com/britannia/offline-hub/internal/strategy"
	"github.com/britannia/offline-hub/internal/upstream"
)

// Options 显式注入全部依赖，便于测试替换时钟、清单与网络。
type Options struct {
	Config  *config.Config
	Store   cache.Store
	Fetcher upstream.Fetcher
	Clock   freshness.Clock
	Logger  *logrus.Logger
}

// InstallReport 汇总预缓存结果。
type InstallReport struct {
	Namespace string
	Requested int
	Cached    int
	Failed    []string
}

// Outcome 是一次请求的处理结果；Intercepted 为 false 时调用方应直接透传。
type Outcome struct {
	Intercepted bool
	Category    classify.Category
	Result      strategy.Result
}

// Controller 负责 install / activate / 请求分发。
type Controller struct {
	cfg        *config.Config
	registry   *namespace.Registry
	classifier *classify.Classifier
	fetcher    upstream.Fetcher
	stamper    *freshness.Stamper
	lifetime   *Lifetime
	logger     *logrus.Logger

	mu    sync.RWMutex
	shell *strategy.Shell
	model *strategy.Model

	claimed     atomic.Bool
	activatedAt atomic.Int64
}

// New 构造 Controller。
func New(opts Options) (*Controller, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	origin := opts.Config.OriginURL()
	if origin == nil {
		return nil, fmt.Errorf("invalid origin: %s", opts.Config.Global.Origin)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	cc := opts.Config.Cache
	return &Controller{
		cfg:        opts.Config,
		registry:   namespace.NewRegistry(opts.Store, cc.CachePrefix, cc.CacheVersion, logger),
		classifier: classify.New(origin, cc.ModelPathSegment),
		fetcher:    opts.Fetcher,
		stamper:    freshness.New(opts.Clock),
		lifetime:   NewLifetime(logger),
		logger:     logger,
	}, nil
}

// Registry exposes the namespace registry for diagnostics.
func (c *Controller) Registry() *namespace.Registry {
	return c.registry
}

// Claimed reports whether Activate has completed.
func (c *Controller) Claimed() bool {
	return c.claimed.Load()
}

// ActivatedAt 返回激活时间，未激活时为零值。
func (c *Controller) ActivatedAt() time.Time {
	millis := c.activatedAt.Load()
	if millis == 0 {
		return time.Time{}
	}
	return time.UnixMilli(millis)
}

// PendingTasks 返回后台任务数。
func (c *Controller) PendingTasks() int64 {
	return c.lifetime.Pending()
}

// Install 确保壳分区存在并并发预缓存清单中的资源。
// 单个资源失败只记录日志，不会中断安装。
func (c *Controller) Install(ctx context.Context) InstallReport {
	assets := c.cfg.ShellURLs()
	report := InstallReport{
		Namespace: c.registry.Name(namespace.PurposeShell),
		Requested: len(assets),
	}

	ns := c.registry.Ensure(ctx, namespace.PurposeShell)
	if ns == nil {
		report.Failed = append(report.Failed, assets...)
		return report
	}

	p := pool.NewWithResults[precacheResult]().WithMaxGoroutines(c.cfg.Cache.PrecacheConcurrency)
	for _, asset := range assets {
		p.Go(func() precacheResult {
			err := c.precache(ctx, ns, asset)
			if err != nil {
				c.logger.WithFields(logrus.Fields{
					"action":    "install",
					"namespace": ns.Name(),
					"url":       asset,
				}).WithError(err).Warn("precache_failed")
			}
			return precacheResult{asset: asset, err: err}
		})
	}

	for _, res := range p.Wait() {
		if res.err != nil {
			report.Failed = append(report.Failed, res.asset)
			continue
		}
		report.Cached++
	}
	sort.Strings(report.Failed)

	c.logger.WithFields(logrus.Fields{
		"action":    "install",
		"namespace": report.Namespace,
		"requested": report.Requested,
		"cached":    report.Cached,
	}).Info("install_completed")
	return report
}

type precacheResult struct {
	asset string
	err   error
}

func (c *Controller) precache(ctx context.Context, ns cache.Namespace, asset string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset, nil)
	if err != nil {
		return err
	}
	resp, err := c.fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK || resp.Opaque {
		return fmt.Errorf("unexpected upstream status %d", resp.StatusCode)
	}
	return ns.Put(ctx, cache.RequestKey(req), resp)
}

// Activate 打开当前版本的分区、清理旧分区并接管请求，返回被删除的分区名。
func (c *Controller) Activate(ctx context.Context) []string {
	shellNS := c.registry.Ensure(ctx, namespace.PurposeShell)
	modelNS := c.registry.Ensure(ctx, namespace.PurposeModel)
	pruned := c.registry.PruneObsolete(ctx, c.registry.ActiveNames())

	c.mu.Lock()
	c.shell = strategy.NewShell(strategy.ShellOptions{
		Namespace:    shellNS,
		Fetcher:      c.fetcher,
		Scheduler:    c.lifetime,
		RootDocument: c.cfg.ResolveAsset(c.cfg.Cache.RootDocument),
		Logger:       c.logger,
	})
	c.model = strategy.NewModel(strategy.ModelOptions{
		Namespace: modelNS,
		Fetcher:   c.fetcher,
		Stamper:   c.stamper,
		MaxAge:    c.cfg.Cache.MaxModelAge.DurationValue(),
		Logger:    c.logger,
	})
	c.mu.Unlock()

	c.activatedAt.Store(time.Now().UnixMilli())
	c.claimed.Store(true)
	c.logger.WithFields(logrus.Fields{
		"action": "activate",
		"active": c.registry.ActiveNames(),
		"pruned": pruned,
	}).Info("activate_completed")
	return pruned
}

// Handle 分类并分发请求。未激活或被忽略的请求返回 Intercepted=false；
// 拦截路径上的任何 panic 都会转换为 503。
func (c *Controller) Handle(ctx context.Context, req *http.Request) (out Outcome) {
	category := c.classifier.Classify(req)
	if category == classify.Ignored || !c.claimed.Load() {
		return Outcome{Category: category}
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(logrus.Fields{
				"action":   "intercept",
				"category": string(category),
				"url":      req.URL.String(),
			}).WithError(fmt.Errorf("panic: %v", r)).Error("intercept_panic")
			out = Outcome{
				Intercepted: true,
				Category:    category,
				Result: strategy.Result{
					Response: strategy.Unavailable(unavailableBody(category)),
					Source:   strategy.SourceSynthetic,
				},
			}
		}
	}()

	c.mu.RLock()
	shell, model := c.shell, c.model
	c.mu.RUnlock()

	var result strategy.Result
	switch category {
	case classify.Model:
		result = model.Serve(ctx, req)
	default:
		result = shell.Serve(ctx, req)
	}
	if result.Response == nil {
		result = strategy.Result{
			Response: strategy.Unavailable(unavailableBody(category)),
			Source:   strategy.SourceSynthetic,
		}
	}
	return Outcome{Intercepted: true, Category: category, Result: result}
}

// Wait 等待全部后台任务结束。
func (c *Controller) Wait() {
	c.lifetime.Wait()
}

// Shutdown 停止接收新的后台任务并等待已有任务，超出 ctx 期限时返回错误。
// 之后仍在处理的请求照常返回缓存，只是不再触发后台刷新。
func (c *Controller) Shutdown(ctx context.Context) error {
	c.lifetime.Close()
	return c.lifetime.WaitContext(ctx)
}

func unavailableBody(category classify.Category) string {
	if category == classify.Model {
		return strategy.ModelUnavailableBody
	}
	return strategy.ShellUnavailableBody
}
