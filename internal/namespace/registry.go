// Package namespace names the cache generations used by the hub and prunes the
// ones left behind by previous versions.
package namespace

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/britannia/offline-hub/internal/cache"
	"github.com/britannia/offline-hub/internal/logging"
)

// Purpose 区分分区用途，每种用途同一时刻只有一个活跃分区。
type Purpose string

const (
	PurposeShell Purpose = "shell"
	PurposeModel Purpose = "model"
)

// Purposes 按固定顺序返回全部用途。
func Purposes() []Purpose {
	return []Purpose{PurposeShell, PurposeModel}
}

// Registry 负责生成分区名称并维护活跃集合。
type Registry struct {
	store   cache.Store
	prefix  string
	version string
	logger  *logrus.Logger
}

// NewRegistry 构造 Registry，logger 为空时静默。
func NewRegistry(store cache.Store, prefix, version string, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{store: store, prefix: prefix, version: version, logger: logger}
}

// Name 返回 "<prefix>-<purpose>-<version>"。
func (r *Registry) Name(purpose Purpose) string {
	return fmt.Sprintf("%s-%s-%s", r.prefix, purpose, r.version)
}

// ActiveNames 返回当前版本的全部分区名。
func (r *Registry) ActiveNames() []string {
	purposes := Purposes()
	names := make([]string, 0, len(purposes))
	for _, purpose := range purposes {
		names = append(names, r.Name(purpose))
	}
	return names
}

// Ensure 打开（必要时创建）某用途的活跃分区。失败只记录日志并返回 nil，
// 调用方应按"无缓存"处理。
func (r *Registry) Ensure(ctx context.Context, purpose Purpose) cache.Namespace {
	name := r.Name(purpose)
	ns, err := r.store.Open(ctx, name)
	if err != nil {
		r.logger.WithFields(logging.NamespaceFields("ensure", name)).
			WithError(err).Warn("namespace_open_failed")
		return nil
	}
	return ns
}

// PruneObsolete 删除所有不在 active 中的分区并返回被删除的名称。
// 只操作活跃集合之外的分区，可与活跃分区的读写并发执行。
func (r *Registry) PruneObsolete(ctx context.Context, active []string) []string {
	keep := make(map[string]struct{}, len(active))
	for _, name := range active {
		keep[name] = struct{}{}
	}

	names, err := r.store.Names(ctx)
	if err != nil {
		r.logger.WithFields(logrus.Fields{"action": "prune"}).
			WithError(err).Warn("namespace_list_failed")
		return nil
	}

	var deleted []string
	for _, name := range names {
		if _, ok := keep[name]; ok {
			continue
		}
		removed, err := r.store.Delete(ctx, name)
		if err != nil {
			r.logger.WithFields(logging.NamespaceFields("prune", name)).
				WithError(err).Warn("namespace_delete_failed")
			continue
		}
		if removed {
			r.logger.WithFields(logging.NamespaceFields("prune", name)).Info("namespace_pruned")
			deleted = append(deleted, name)
		}
	}
	return deleted
}

// Existing 返回存储中当前存在的全部分区名。
func (r *Registry) Existing(ctx context.Context) ([]string, error) {
	return r.store.Names(ctx)
}
