package model

import (
	"slices"
	"strings"
	"time"
)

// Kind selects which registry a record belongs to.
type Kind string

const (
	KindEnvironment Kind = "environment"
	KindCluster     Kind = "cluster"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// IsValid checks whether the kind is a known value.
func (k Kind) IsValid() bool {
	switch k {
	case KindEnvironment, KindCluster:
		return true
	}
	return false
}

// ParseKind accepts both the singular and plural spellings used in URLs
// ("environment", "environments").
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s"))
	return k, k.IsValid()
}

// Record is a named execution context (an environment or a cluster) that
// workflow definitions reference by Code.
type Record struct {
	Code         int64     `json:"code"`
	Kind         Kind      `json:"kind"`
	Name         string    `json:"name"`
	Config       string    `json:"config"`
	Description  string    `json:"description,omitempty"`
	OperatorID   int64     `json:"operator_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	WorkerGroups []string  `json:"worker_groups"`

	// References holds the names of workflow definitions that use this
	// record. Only populated on single-record reads.
	References []string `json:"references,omitempty"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.WorkerGroups = slices.Clone(r.WorkerGroups)
	c.References = slices.Clone(r.References)
	return &c
}

// NormalizeWorkerGroups trims, drops empties, de-duplicates and sorts a
// worker-group set. The result is never nil.
func NormalizeWorkerGroups(groups []string) []string {
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		g = strings.TrimSpace(g)
		if g != "" {
			out = append(out, g)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
