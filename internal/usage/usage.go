// Package usage answers whether workflow definitions still reference a
// registry record. The registry consults it before deleting.
package usage

import (
	"context"

	"github.com/alfredjeanlab/ctxreg/internal/model"
)

// Index is the read-only view of the workflow-definition store.
type Index interface {
	// IsReferenced reports whether any definition references the record.
	IsReferenced(ctx context.Context, kind model.Kind, code int64) (bool, error)
	// References returns the names of the referencing definitions, sorted.
	References(ctx context.Context, kind model.Kind, code int64) ([]string, error)
}
