package namespace

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/britannia/offline-hub/internal/cache"
)

func TestRegistryNames(t *testing.T) {
	reg := NewRegistry(cache.NewMemoryStore(), "britannia", "v3", nil)
	if got := reg.Name(PurposeShell); got != "britannia-shell-v3" {
		t.Fatalf("unexpected shell name %s", got)
	}
	active := reg.ActiveNames()
	if len(active) != 2 || active[0] != "britannia-shell-v3" || active[1] != "britannia-model-v3" {
		t.Fatalf("unexpected active names %v", active)
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	store := cache.NewMemoryStore()
	reg := NewRegistry(store, "britannia", "v1", nil)
	ctx := context.Background()

	first := reg.Ensure(ctx, PurposeModel)
	if first == nil {
		t.Fatalf("expected namespace")
	}
	key := cache.KeyFor("https://britannia.example.com/models/a.bin")
	if err := first.Put(ctx, key, &cache.Response{StatusCode: 200, Body: []byte("a")}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	second := reg.Ensure(ctx, PurposeModel)
	if _, err := second.Match(ctx, key); err != nil {
		t.Fatalf("second ensure lost entries: %v", err)
	}
	names, _ := store.Names(ctx)
	if len(names) != 1 {
		t.Fatalf("unexpected namespaces %v", names)
	}
}

func TestPruneObsoleteKeepsActive(t *testing.T) {
	store := cache.NewMemoryStore()
	ctx := context.Background()
	for _, name := range []string{"britannia-shell-v0", "britannia-model-v0", "other-app-cache"} {
		if _, err := store.Open(ctx, name); err != nil {
			t.Fatalf("open error: %v", err)
		}
	}
	reg := NewRegistry(store, "britannia", "v1", nil)
	reg.Ensure(ctx, PurposeShell)
	reg.Ensure(ctx, PurposeModel)

	deleted := reg.PruneObsolete(ctx, reg.ActiveNames())
	if len(deleted) != 3 {
		t.Fatalf("expected three obsolete namespaces, got %v", deleted)
	}
	names, _ := store.Names(ctx)
	if len(names) != 2 || names[0] != "britannia-model-v1" || names[1] != "britannia-shell-v1" {
		t.Fatalf("unexpected remaining namespaces %v", names)
	}

	again := reg.PruneObsolete(ctx, reg.ActiveNames())
	if len(again) != 0 {
		t.Fatalf("second prune should be a no-op, got %v", again)
	}
}

type failingStore struct {
	cache.Store
}

func (failingStore) Open(context.Context, string) (cache.Namespace, error) {
	return nil, errors.New("disk full")
}

func (failingStore) Names(context.Context) ([]string, error) {
	return nil, errors.New("io error")
}

func TestRegistryLogsStoreFailures(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	reg := NewRegistry(failingStore{}, "britannia", "v1", logger)

	if ns := reg.Ensure(context.Background(), PurposeShell); ns != nil {
		t.Fatalf("expected nil namespace on failure")
	}
	if deleted := reg.PruneObsolete(context.Background(), reg.ActiveNames()); deleted != nil {
		t.Fatalf("expected nothing deleted, got %v", deleted)
	}

	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("expected two warnings, got %d", len(entries))
	}
	if entries[0].Message != "namespace_open_failed" || entries[0].Level != logrus.WarnLevel {
		t.Fatalf("unexpected first entry %s/%s", entries[0].Message, entries[0].Level)
	}
	if entries[1].Message != "namespace_list_failed" {
		t.Fatalf("unexpected second entry %s", entries[1].Message)
	}
}
