// Package store defines the persistence contract for registry records and
// their worker-group associations.
package store

import (
	"context"

	"github.com/alfredjeanlab/ctxreg/internal/model"
)

// Store defines the persistence interface for records.
//
// Every method is atomic on its own. Implementations return errors wrapping
// model.ErrNotFound, model.ErrDuplicateName and model.ErrDuplicateCode.
type Store interface {
	// Record CRUD

	// CreateRecord inserts r together with its worker groups. The name must
	// be free within r.Kind and the code must never have been used.
	CreateRecord(ctx context.Context, r *model.Record) error
	GetRecord(ctx context.Context, code int64) (*model.Record, error)
	GetRecordByName(ctx context.Context, kind model.Kind, name string) (*model.Record, error)
	// UpdateRecord loads the record, applies fn to a copy and writes it back
	// with a fresh UpdatedAt. Updates to the same code are serialized; Code,
	// Kind and CreatedAt are never changed. If fn returns an error nothing is
	// written.
	UpdateRecord(ctx context.Context, code int64, fn func(r *model.Record) error) (*model.Record, error)
	// DeleteRecord removes the record and its associations and retires the
	// code. It performs no usage check.
	DeleteRecord(ctx context.Context, code int64) error
	ListRecords(ctx context.Context, filter model.RecordFilter) ([]*model.Record, int, error) // returns records, total count, error
	ListAllRecords(ctx context.Context, kind model.Kind) ([]*model.Record, error)

	// Worker-group associations
	SetWorkerGroups(ctx context.Context, code int64, groups []string) error
	GetWorkerGroups(ctx context.Context, code int64) ([]string, error)

	// Lifecycle
	Close() error
}
