package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/britannia/offline-hub/internal/logging"
)

// Lifetime 跟踪不阻塞响应的后台任务（如壳资源的后台刷新），
// 关闭进程或测试时可等待它们全部完成。
type Lifetime struct {
	mu      sync.Mutex
	closed  bool
	wg      conc.WaitGroup
	pending atomic.Int64
	logger  *logrus.Logger
}

// NewLifetime 构造 Lifetime。
func NewLifetime(logger *logrus.Logger) *Lifetime {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Lifetime{logger: logger}
}

// Go 启动后台任务；任务 panic 会被记录而不会影响进程。
// Close 之后提交的任务直接丢弃并返回 false。
func (l *Lifetime) Go(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.logger.WithFields(logrus.Fields{"action": "background"}).Debug("background_task_rejected")
		return false
	}
	l.pending.Add(1)
	l.wg.Go(func() {
		defer l.pending.Add(-1)
		var catcher panics.Catcher
		catcher.Try(fn)
		if recovered := catcher.Recovered(); recovered != nil {
			l.logger.WithFields(logrus.Fields{"action": "background"}).
				WithError(recovered.AsError()).Error("background_task_panic")
		}
	})
	return true
}

// Close 停止接收新任务，已启动的任务不受影响。
func (l *Lifetime) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

// Pending 返回尚未结束的后台任务数量。
func (l *Lifetime) Pending() int64 {
	return l.pending.Load()
}

// Wait 阻塞直到全部后台任务结束。
func (l *Lifetime) Wait() {
	l.wg.Wait()
}

// WaitContext 与 Wait 相同，但在 ctx 结束时提前返回 ctx.Err()。
func (l *Lifetime) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
