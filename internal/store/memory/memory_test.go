package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/alfredjeanlab/ctxreg/internal/model"
)

func newRecord(code int64, name string) *model.Record {
	return &model.Record{
		Code:   code,
		Kind:   model.KindEnvironment,
		Name:   name,
		Config: "export A=1",
	}
}

func mustCreate(t *testing.T, s *MemoryStore, r *model.Record) {
	t.Helper()
	if err := s.CreateRecord(context.Background(), r); err != nil {
		t.Fatalf("CreateRecord(%d, %q): %v", r.Code, r.Name, err)
	}
}

func TestCreateAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()
	r := newRecord(1, "env-a")
	r.WorkerGroups = []string{"b", "a", "a"}
	mustCreate(t, s, r)

	got, err := s.GetRecord(ctx, 1)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.Name != "env-a" || !slices.Equal(got.WorkerGroups, []string{"a", "b"}) {
		t.Fatalf("got %+v", got)
	}
	if got.CreatedAt.IsZero() || !got.CreatedAt.Equal(got.UpdatedAt) {
		t.Fatalf("expected CreatedAt == UpdatedAt, got %v / %v", got.CreatedAt, got.UpdatedAt)
	}

	byName, err := s.GetRecordByName(ctx, model.KindEnvironment, "env-a")
	if err != nil || byName.Code != 1 {
		t.Fatalf("GetRecordByName = %+v, %v", byName, err)
	}
	if _, err := s.GetRecordByName(ctx, model.KindCluster, "env-a"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("name lookup should be scoped to kind, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	mustCreate(t, s, newRecord(1, "env-a"))
	got, _ := s.GetRecord(context.Background(), 1)
	got.Name = "mutated"
	again, _ := s.GetRecord(context.Background(), 1)
	if again.Name != "env-a" {
		t.Fatal("caller mutation leaked into the store")
	}
}

func TestCreate_DuplicateName(t *testing.T) {
	s := New()
	mustCreate(t, s, newRecord(1, "env-a"))
	err := s.CreateRecord(context.Background(), newRecord(2, "env-a"))
	if !errors.Is(err, model.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
	all, _ := s.ListAllRecords(context.Background(), model.KindEnvironment)
	if len(all) != 1 {
		t.Fatalf("store changed after failed create: %d records", len(all))
	}

	// Same name in the other kind is fine.
	c := newRecord(3, "env-a")
	c.Kind = model.KindCluster
	mustCreate(t, s, c)
}

func TestCreate_DuplicateAndRetiredCode(t *testing.T) {
	s := New()
	ctx := context.Background()
	mustCreate(t, s, newRecord(1, "env-a"))
	if err := s.CreateRecord(ctx, newRecord(1, "env-b")); !errors.Is(err, model.ErrDuplicateCode) {
		t.Fatalf("expected ErrDuplicateCode, got %v", err)
	}
	if err := s.DeleteRecord(ctx, 1); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if err := s.CreateRecord(ctx, newRecord(1, "env-c")); !errors.Is(err, model.ErrDuplicateCode) {
		t.Fatalf("retired code must not be reused, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	s := New()
	ctx := context.Background()
	mustCreate(t, s, newRecord(1, "env-a"))
	mustCreate(t, s, newRecord(2, "env-b"))
	before, _ := s.GetRecord(ctx, 1)

	tick := before.UpdatedAt.Add(time.Second)
	s.now = func() time.Time { return tick }

	got, err := s.UpdateRecord(ctx, 1, func(r *model.Record) error {
		r.Name = "env-renamed"
		r.Config = "export B=2"
		r.Code = 99
		r.CreatedAt = time.Time{}
		r.WorkerGroups = []string{"gpu"}
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	if got.Code != 1 || !got.CreatedAt.Equal(before.CreatedAt) {
		t.Fatalf("immutable fields changed: %+v", got)
	}
	if !got.UpdatedAt.Equal(tick) {
		t.Fatalf("UpdatedAt = %v, want %v", got.UpdatedAt, tick)
	}
	if _, err := s.GetRecordByName(ctx, model.KindEnvironment, "env-a"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("old name should be released, got %v", err)
	}
	if groups, _ := s.GetWorkerGroups(ctx, 1); !slices.Equal(groups, []string{"gpu"}) {
		t.Fatalf("worker groups = %v", groups)
	}

	// Renaming onto another record's name fails and leaves state untouched.
	_, err = s.UpdateRecord(ctx, 1, func(r *model.Record) error { r.Name = "env-b"; return nil })
	if !errors.Is(err, model.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
	cur, _ := s.GetRecord(ctx, 1)
	if cur.Name != "env-renamed" {
		t.Fatalf("failed update leaked: %+v", cur)
	}

	// Keeping one's own name is not a collision.
	if _, err := s.UpdateRecord(ctx, 1, func(r *model.Record) error { return nil }); err != nil {
		t.Fatalf("self-named update: %v", err)
	}
}

func TestUpdate_MutatorError(t *testing.T) {
	s := New()
	mustCreate(t, s, newRecord(1, "env-a"))
	boom := errors.New("boom")
	_, err := s.UpdateRecord(context.Background(), 1, func(r *model.Record) error {
		r.Name = "changed"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}
	cur, _ := s.GetRecord(context.Background(), 1)
	if cur.Name != "env-a" {
		t.Fatal("mutation applied despite mutator error")
	}
}

func TestUpdateAndDelete_NotFound(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.UpdateRecord(ctx, 42, func(*model.Record) error { return nil }); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("UpdateRecord: expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteRecord(ctx, 42); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("DeleteRecord: expected ErrNotFound, got %v", err)
	}
	if err := s.SetWorkerGroups(ctx, 42, nil); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("SetWorkerGroups: expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetWorkerGroups(ctx, 42); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetWorkerGroups: expected ErrNotFound, got %v", err)
	}
}

func TestSetWorkerGroups_Replaces(t *testing.T) {
	s := New()
	ctx := context.Background()
	r := newRecord(1, "env-a")
	r.WorkerGroups = []string{"A", "B"}
	mustCreate(t, s, r)

	if err := s.SetWorkerGroups(ctx, 1, []string{"B", "C"}); err != nil {
		t.Fatalf("SetWorkerGroups: %v", err)
	}
	got, _ := s.GetWorkerGroups(ctx, 1)
	if !slices.Equal(got, []string{"B", "C"}) {
		t.Fatalf("GetWorkerGroups = %v, want [B C]", got)
	}
}

func TestListRecords(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i, name := range []string{"test", "ENV-b", "prod", "env-a"} {
		mustCreate(t, s, newRecord(int64(10-i), name))
	}

	for _, tc := range []struct {
		name      string
		filter    model.RecordFilter
		wantNames []string
		wantTotal int
	}{
		{"search first page", model.RecordFilter{Kind: model.KindEnvironment, Search: "env", Page: 1, PageSize: 2}, []string{"env-a", "ENV-b"}, 2},
		{"all ordered by code", model.RecordFilter{Kind: model.KindEnvironment, Page: 1, PageSize: 10}, []string{"env-a", "prod", "ENV-b", "test"}, 4},
		{"second page", model.RecordFilter{Kind: model.KindEnvironment, Page: 2, PageSize: 3}, []string{"test"}, 4},
		{"beyond last page", model.RecordFilter{Kind: model.KindEnvironment, Page: 5, PageSize: 3}, nil, 4},
		{"other kind", model.RecordFilter{Kind: model.KindCluster, Page: 1, PageSize: 3}, nil, 0},
		{"max page size", model.RecordFilter{Kind: model.KindEnvironment, Page: 1, PageSize: math.MaxInt}, []string{"env-a", "prod", "ENV-b", "test"}, 4},
		{"offset overflows", model.RecordFilter{Kind: model.KindEnvironment, Page: 2, PageSize: math.MaxInt}, nil, 4},
		{"offset overflows twice", model.RecordFilter{Kind: model.KindEnvironment, Page: 3, PageSize: 1 << 62}, nil, 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			recs, total, err := s.ListRecords(ctx, tc.filter)
			if err != nil {
				t.Fatalf("ListRecords: %v", err)
			}
			var names []string
			for _, r := range recs {
				names = append(names, r.Name)
			}
			if !slices.Equal(names, tc.wantNames) || total != tc.wantTotal {
				t.Fatalf("got %v total=%d, want %v total=%d", names, total, tc.wantNames, tc.wantTotal)
			}
		})
	}
}

func TestConcurrentCreateSameName(t *testing.T) {
	s := New()
	const callers = 16
	var ok, dup atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(code int64) {
			defer wg.Done()
			err := s.CreateRecord(context.Background(), newRecord(code, "shared"))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, model.ErrDuplicateName):
				dup.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(i + 1))
	}
	wg.Wait()
	if ok.Load() != 1 || dup.Load() != callers-1 {
		t.Fatalf("ok=%d dup=%d, want 1/%d", ok.Load(), dup.Load(), callers-1)
	}
}

func TestConcurrentDeleteSameCode(t *testing.T) {
	s := New()
	mustCreate(t, s, newRecord(1, "env-a"))
	var ok, missing atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.DeleteRecord(context.Background(), 1)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, model.ErrNotFound):
				missing.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok.Load() != 1 || missing.Load() != 7 {
		t.Fatalf("ok=%d notfound=%d, want 1/7", ok.Load(), missing.Load())
	}
}

func TestConcurrentUpdatesAreNotInterleaved(t *testing.T) {
	s := New()
	mustCreate(t, s, newRecord(1, "env-a"))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := fmt.Sprintf("v%d", i)
			_, err := s.UpdateRecord(context.Background(), 1, func(r *model.Record) error {
				r.Config = "export V=" + v
				r.Description = v
				r.WorkerGroups = []string{v}
				return nil
			})
			if err != nil {
				t.Errorf("UpdateRecord: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, _ := s.GetRecord(context.Background(), 1)
	v := got.Description
	if got.Config != "export V="+v || !slices.Equal(got.WorkerGroups, []string{v}) {
		t.Fatalf("fields from different updates interleaved: %+v", got)
	}
}

func TestCodeLocksReleased(t *testing.T) {
	s := New()
	mustCreate(t, s, newRecord(1, "env-a"))
	_, _ = s.UpdateRecord(context.Background(), 1, func(*model.Record) error { return nil })
	_ = s.DeleteRecord(context.Background(), 1)
	s.locks.mu.Lock()
	n := len(s.locks.m)
	s.locks.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no code locks held, got %d", n)
	}
}

// TestNameIndexInvariant drives random create/rename/delete sequences and
// checks that the name index always agrees with the records.
func TestNameIndexInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := New()
		ctx := context.Background()
		names := rapid.SampledFrom([]string{"a", "b", "c", "d"})
		var nextCode int64

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				nextCode++
				_ = s.CreateRecord(ctx, newRecord(nextCode, names.Draw(rt, "name")))
			case 1:
				if nextCode == 0 {
					continue
				}
				code := rapid.Int64Range(1, nextCode).Draw(rt, "code")
				name := names.Draw(rt, "rename")
				_, _ = s.UpdateRecord(ctx, code, func(r *model.Record) error { r.Name = name; return nil })
			case 2:
				if nextCode == 0 {
					continue
				}
				_ = s.DeleteRecord(ctx, rapid.Int64Range(1, nextCode).Draw(rt, "delete"))
			}
		}

		all, _ := s.ListAllRecords(ctx, model.KindEnvironment)
		seen := make(map[string]int64)
		for _, r := range all {
			if other, dup := seen[r.Name]; dup {
				rt.Fatalf("name %q held by %d and %d", r.Name, other, r.Code)
			}
			seen[r.Name] = r.Code
			got, err := s.GetRecordByName(ctx, model.KindEnvironment, r.Name)
			if err != nil || got.Code != r.Code {
				rt.Fatalf("index for %q = %v, %v; want %d", r.Name, got, err, r.Code)
			}
		}
		if len(s.names) != len(all) {
			rt.Fatalf("index has %d entries for %d records", len(s.names), len(all))
		}
	})
}
