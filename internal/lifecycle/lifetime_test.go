package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestLifetimeWaitsForTasks(t *testing.T) {
	lifetime := NewLifetime(nil)
	var done atomic.Int32
	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		lifetime.Go(func() {
			<-release
			done.Add(1)
		})
	}
	if lifetime.Pending() != 3 {
		t.Fatalf("expected 3 pending tasks, got %d", lifetime.Pending())
	}
	close(release)
	lifetime.Wait()
	if done.Load() != 3 || lifetime.Pending() != 0 {
		t.Fatalf("tasks not finished: done=%d pending=%d", done.Load(), lifetime.Pending())
	}
}

func TestLifetimeRecoversPanics(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	lifetime := NewLifetime(logger)
	lifetime.Go(func() { panic("refresh exploded") })
	lifetime.Wait()

	if hook.LastEntry() == nil || hook.LastEntry().Message != "background_task_panic" {
		t.Fatalf("expected panic to be logged")
	}
}

func TestLifetimeWaitContextTimesOut(t *testing.T) {
	lifetime := NewLifetime(nil)
	release := make(chan struct{})
	lifetime.Go(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := lifetime.WaitContext(ctx); err == nil {
		t.Fatalf("expected deadline error")
	}
	close(release)
	if err := lifetime.WaitContext(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLifetimeRejectsTasksAfterClose(t *testing.T) {
	lifetime := NewLifetime(nil)
	release := make(chan struct{})
	if !lifetime.Go(func() { <-release }) {
		t.Fatalf("task before close should be accepted")
	}
	lifetime.Close()

	var ran atomic.Bool
	if lifetime.Go(func() { ran.Store(true) }) {
		t.Fatalf("task after close should be rejected")
	}
	close(release)
	if err := lifetime.WaitContext(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ran.Load() || lifetime.Pending() != 0 {
		t.Fatalf("rejected task ran or left pending: ran=%v pending=%d", ran.Load(), lifetime.Pending())
	}
}

func TestLifetimeGoConcurrentWithShutdown(t *testing.T) {
	lifetime := NewLifetime(nil)
	var started sync.WaitGroup
	for i := 0; i < 8; i++ {
		started.Add(1)
		go func() {
			defer started.Done()
			for j := 0; j < 50; j++ {
				lifetime.Go(func() {})
			}
		}()
	}
	lifetime.Close()
	if err := lifetime.WaitContext(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	started.Wait()
	lifetime.Wait()
	if lifetime.Pending() != 0 {
		t.Fatalf("tasks left pending after shutdown: %d", lifetime.Pending())
	}
}
