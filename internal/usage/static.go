package usage

import (
	"context"
	"slices"
	"sync"

	"github.com/alfredjeanlab/ctxreg/internal/model"
)

type refKey struct {
	kind model.Kind
	code int64
}

// Static is an in-memory Index. Deployments without a definition store use
// an empty one; tests add and remove references directly.
type Static struct {
	mu   sync.RWMutex
	refs map[refKey]map[string]struct{}
}

var _ Index = (*Static)(nil)

// NewStatic returns an empty Static index.
func NewStatic() *Static {
	return &Static{refs: make(map[refKey]map[string]struct{})}
}

// Add records that definition refers to the record.
func (s *Static) Add(kind model.Kind, code int64, definition string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := refKey{kind, code}
	if s.refs[k] == nil {
		s.refs[k] = make(map[string]struct{})
	}
	s.refs[k][definition] = struct{}{}
}

// Remove drops a single reference. Removing an unknown reference is a no-op.
func (s *Static) Remove(kind model.Kind, code int64, definition string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := refKey{kind, code}
	delete(s.refs[k], definition)
	if len(s.refs[k]) == 0 {
		delete(s.refs, k)
	}
}

func (s *Static) IsReferenced(_ context.Context, kind model.Kind, code int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.refs[refKey{kind, code}]) > 0, nil
}

func (s *Static) References(_ context.Context, kind model.Kind, code int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.refs[refKey{kind, code}]))
	for name := range s.refs[refKey{kind, code}] {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}
