package postgres

import (
	"database/sql"

	"github.com/alfredjeanlab/ctxreg/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanRecord scans a single row into a model.Record.
// The row must contain columns in the order defined by recordColumns.
func scanRecord(row scannable) (*model.Record, error) {
	var r model.Record
	var description sql.NullString

	err := row.Scan(
		&r.Code,
		&r.Kind,
		&r.Name,
		&r.Config,
		&description,
		&r.OperatorID,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Description = description.String
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	r.WorkerGroups = []string{}
	return &r, nil
}

// scanRecords iterates over rows and scans each into a model.Record.
func scanRecords(rows *sql.Rows) ([]*model.Record, error) {
	var records []*model.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// nullString converts an empty string to sql.NullString{Valid: false}.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
