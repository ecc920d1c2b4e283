package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/ctxreg/internal/model"
	"github.com/alfredjeanlab/ctxreg/internal/store/memory"
)

// mockDestination records the snapshots it receives.
type mockDestination struct {
	name   string
	writes atomic.Int64
	last   atomic.Pointer[Snapshot]
	err    error
}

func (d *mockDestination) Write(_ context.Context, snap *Snapshot) error {
	d.writes.Add(1)
	d.last.Store(snap)
	return d.err
}

func (d *mockDestination) String() string { return d.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerStartStop(t *testing.T) {
	st := memory.New()
	seed(t, st, 1, model.KindEnvironment, "prod")
	seed(t, st, 2, model.KindCluster, "east")

	dest := &mockDestination{name: "mock"}
	sched := NewScheduler(st, []Destination{dest}, 20*time.Millisecond, discardLogger())
	sched.Start()
	time.Sleep(50 * time.Millisecond)
	sched.Stop()

	// Later ticks see the same digest and skip the destination.
	if writes := dest.writes.Load(); writes != 1 {
		t.Fatalf("expected 1 write, got %d", writes)
	}
	snap := dest.last.Load()
	if snap == nil || len(nonEmptyLines(string(snap.Data))) != 3 {
		t.Fatalf("expected header plus two records, got %+v", snap)
	}
	if snap.Counts[model.KindEnvironment] != 1 || snap.Counts[model.KindCluster] != 1 {
		t.Fatalf("counts = %v", snap.Counts)
	}
}

func TestSchedulerStop_NoStart(t *testing.T) {
	sched := NewScheduler(memory.New(), nil, time.Minute, nil)
	sched.Stop()
}

func TestSyncOnce_SkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	seed(t, st, 1, model.KindEnvironment, "prod")
	dest := &mockDestination{name: "mock"}
	sched := NewScheduler(st, []Destination{dest}, time.Hour, discardLogger())

	res, err := sched.SyncOnce(ctx)
	if err != nil || res.Written != 1 || res.Skipped != 0 {
		t.Fatalf("first sync = %+v, %v", res, err)
	}
	res, err = sched.SyncOnce(ctx)
	if err != nil || res.Written != 0 || res.Skipped != 1 {
		t.Fatalf("unchanged sync = %+v, %v", res, err)
	}

	seed(t, st, 2, model.KindCluster, "east")
	res, err = sched.SyncOnce(ctx)
	if err != nil || res.Written != 1 {
		t.Fatalf("changed sync = %+v, %v", res, err)
	}
	if got := res.Snapshot.Summary(); got != "1 environment, 1 cluster" {
		t.Fatalf("summary = %q", got)
	}
	if dest.writes.Load() != 2 {
		t.Fatalf("expected 2 writes, got %d", dest.writes.Load())
	}
}

func TestSyncOnce_RetriesFailedDestination(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	seed(t, st, 1, model.KindEnvironment, "prod")
	failing := &mockDestination{name: "failing", err: errors.New("bucket gone")}
	healthy := &mockDestination{name: "healthy"}
	sched := NewScheduler(st, []Destination{failing, healthy}, time.Hour, discardLogger())

	res, _ := sched.SyncOnce(ctx)
	if res.Failed != 1 || res.Written != 1 {
		t.Fatalf("first sync = %+v", res)
	}

	failing.err = nil
	res, _ = sched.SyncOnce(ctx)
	if res.Written != 1 || res.Skipped != 1 {
		t.Fatalf("retry sync = %+v, want failing rewritten and healthy skipped", res)
	}
	if failing.writes.Load() != 2 || healthy.writes.Load() != 1 {
		t.Fatalf("writes: failing=%d healthy=%d", failing.writes.Load(), healthy.writes.Load())
	}
}

func TestSyncOnce_ExportFailure(t *testing.T) {
	boom := errors.New("db down")
	src := SourceFunc(func(context.Context, model.Kind) ([]*model.Record, error) {
		return nil, boom
	})
	dest := &mockDestination{name: "mock"}
	sched := NewScheduler(src, []Destination{dest}, time.Hour, discardLogger())

	if _, err := sched.SyncOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if dest.writes.Load() != 0 {
		t.Fatalf("expected no writes after a failed export, got %d", dest.writes.Load())
	}
}
