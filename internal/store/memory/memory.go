// Package memory implements store.Store in process memory. It backs the
// single-instance deployment mode and the registry tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/ctxreg/internal/model"
	"github.com/alfredjeanlab/ctxreg/internal/store"
)

type nameKey struct {
	kind model.Kind
	name string
}

// MemoryStore implements store.Store with maps guarded by a short-lived
// index lock plus one lock per code. Mutations of the same code are
// serialized on the code lock; the index lock is only held while the name
// check and the write are applied together.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int64]*model.Record
	names   map[nameKey]int64
	retired map[int64]struct{}

	locks codeLocks
	now   func() time.Time
}

// Compile-time check that MemoryStore implements store.Store.
var _ store.Store = (*MemoryStore)(nil)

// New returns an empty store.
func New() *MemoryStore {
	return &MemoryStore{
		records: make(map[int64]*model.Record),
		names:   make(map[nameKey]int64),
		retired: make(map[int64]struct{}),
		locks:   codeLocks{m: make(map[int64]*codeLock)},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateRecord(_ context.Context, r *model.Record) error {
	rec := r.Clone()
	rec.WorkerGroups = model.NormalizeWorkerGroups(rec.WorkerGroups)
	rec.References = nil
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.Code]; ok {
		return fmt.Errorf("create record %d: %w", rec.Code, model.ErrDuplicateCode)
	}
	if _, ok := s.retired[rec.Code]; ok {
		return fmt.Errorf("create record %d: code was retired: %w", rec.Code, model.ErrDuplicateCode)
	}
	key := nameKey{rec.Kind, rec.Name}
	if _, ok := s.names[key]; ok {
		return fmt.Errorf("create %s %q: %w", rec.Kind, rec.Name, model.ErrDuplicateName)
	}

	s.records[rec.Code] = rec
	s.names[key] = rec.Code

	r.WorkerGroups = slices.Clone(rec.WorkerGroups)
	r.CreatedAt = rec.CreatedAt
	r.UpdatedAt = rec.UpdatedAt
	return nil
}

func (s *MemoryStore) GetRecord(_ context.Context, code int64) (*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[code]
	if !ok {
		return nil, fmt.Errorf("record %d: %w", code, model.ErrNotFound)
	}
	return r.Clone(), nil
}

func (s *MemoryStore) GetRecordByName(_ context.Context, kind model.Kind, name string) (*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	code, ok := s.names[nameKey{kind, name}]
	if !ok {
		return nil, fmt.Errorf("%s %q: %w", kind, name, model.ErrNotFound)
	}
	return s.records[code].Clone(), nil
}

func (s *MemoryStore) UpdateRecord(_ context.Context, code int64, fn func(r *model.Record) error) (*model.Record, error) {
	unlock := s.locks.lock(code)
	defer unlock()

	s.mu.RLock()
	cur, ok := s.records[code]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("update record %d: %w", code, model.ErrNotFound)
	}

	// cur cannot change underneath us: every writer of this code holds the
	// code lock.
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Code = cur.Code
	next.Kind = cur.Kind
	next.CreatedAt = cur.CreatedAt
	next.WorkerGroups = model.NormalizeWorkerGroups(next.WorkerGroups)
	next.References = nil

	s.mu.Lock()
	defer s.mu.Unlock()

	newKey := nameKey{next.Kind, next.Name}
	if owner, taken := s.names[newKey]; taken && owner != code {
		return nil, fmt.Errorf("update record %d: name %q: %w", code, next.Name, model.ErrDuplicateName)
	}
	next.UpdatedAt = s.touch(cur)
	delete(s.names, nameKey{cur.Kind, cur.Name})
	s.names[newKey] = code
	s.records[code] = next
	return next.Clone(), nil
}

func (s *MemoryStore) DeleteRecord(_ context.Context, code int64) error {
	unlock := s.locks.lock(code)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[code]
	if !ok {
		return fmt.Errorf("delete record %d: %w", code, model.ErrNotFound)
	}
	delete(s.records, code)
	delete(s.names, nameKey{r.Kind, r.Name})
	s.retired[code] = struct{}{}
	return nil
}

func (s *MemoryStore) ListRecords(_ context.Context, filter model.RecordFilter) ([]*model.Record, int, error) {
	matched := s.matching(filter.Kind, filter.Search)
	total := len(matched)

	if filter.PageSize > 0 {
		start := min(filter.Offset(), total)
		end := start + min(filter.PageSize, total-start)
		matched = matched[start:end]
	}
	return matched, total, nil
}

func (s *MemoryStore) ListAllRecords(_ context.Context, kind model.Kind) ([]*model.Record, error) {
	return s.matching(kind, ""), nil
}

func (s *MemoryStore) SetWorkerGroups(_ context.Context, code int64, groups []string) error {
	unlock := s.locks.lock(code)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[code]
	if !ok {
		return fmt.Errorf("set worker groups %d: %w", code, model.ErrNotFound)
	}
	next := cur.Clone()
	next.WorkerGroups = model.NormalizeWorkerGroups(groups)
	next.UpdatedAt = s.touch(cur)
	s.records[code] = next
	return nil
}

func (s *MemoryStore) GetWorkerGroups(_ context.Context, code int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[code]
	if !ok {
		return nil, fmt.Errorf("worker groups %d: %w", code, model.ErrNotFound)
	}
	return slices.Clone(r.WorkerGroups), nil
}

// matching returns clones of the records of kind whose name contains search
// (case-insensitively), ordered by code.
func (s *MemoryStore) matching(kind model.Kind, search string) []*model.Record {
	search = strings.ToLower(search)

	s.mu.RLock()
	out := make([]*model.Record, 0, len(s.records))
	for _, r := range s.records {
		if kind != "" && r.Kind != kind {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(r.Name), search) {
			continue
		}
		out = append(out, r.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *model.Record) int { return cmp.Compare(a.Code, b.Code) })
	return out
}

// touch returns the UpdatedAt for a mutation of cur; it never moves
// backwards.
func (s *MemoryStore) touch(cur *model.Record) time.Time {
	now := s.now()
	if now.Before(cur.UpdatedAt) {
		return cur.UpdatedAt
	}
	return now
}

// codeLocks hands out one mutex per code, dropping it once unused.
type codeLocks struct {
	mu sync.Mutex
	m  map[int64]*codeLock
}

type codeLock struct {
	mu   sync.Mutex
	refs int
}

func (l *codeLocks) lock(code int64) (unlock func()) {
	l.mu.Lock()
	cl, ok := l.m[code]
	if !ok {
		cl = &codeLock{}
		l.m[code] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.m, code)
		}
		l.mu.Unlock()
	}
}
