package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/ctxreg/internal/model"
)

// recordColumns is the column list used for SELECT statements on the records table.
const recordColumns = `code, kind, name, config, description, operator_id, created_at, updated_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queryCreateRecord inserts the record unless its code has been retired, then
// its worker groups. Must run inside a transaction.
func queryCreateRecord(ctx context.Context, db executor, r *model.Record) error {
	groups := model.NormalizeWorkerGroups(r.WorkerGroups)
	res, err := db.ExecContext(ctx, `
		INSERT INTO records (
			code, kind, name, config, description, operator_id, created_at, updated_at
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8
		WHERE NOT EXISTS (SELECT 1 FROM retired_codes WHERE code = $1)`,
		r.Code,
		string(r.Kind),
		r.Name,
		r.Config,
		nullString(r.Description),
		r.OperatorID,
		r.CreatedAt,
		r.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("create record %d: code was retired: %w", r.Code, model.ErrDuplicateCode)
	}

	if err := queryReplaceWorkerGroups(ctx, db, r.Code, groups); err != nil {
		return err
	}
	r.WorkerGroups = groups
	return nil
}

func queryGetRecord(ctx context.Context, db executor, code int64) (*model.Record, error) {
	row := db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE code = $1`, code)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %d: %w", code, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	groups, err := queryWorkerGroups(ctx, db, code)
	if err != nil {
		return nil, err
	}
	r.WorkerGroups = groups
	return r, nil
}

func queryGetRecordByName(ctx context.Context, db executor, kind model.Kind, name string) (*model.Record, error) {
	row := db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE kind = $1 AND name = $2`, string(kind), name)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %q: %w", kind, name, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	groups, err := queryWorkerGroups(ctx, db, r.Code)
	if err != nil {
		return nil, err
	}
	r.WorkerGroups = groups
	return r, nil
}

// queryUpdateRecord locks the row, applies fn and writes the result back.
// Must run inside a transaction.
func queryUpdateRecord(ctx context.Context, db executor, code int64, fn func(r *model.Record) error) (*model.Record, error) {
	row := db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE code = $1 FOR UPDATE`, code)
	cur, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update record %d: %w", code, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if cur.WorkerGroups, err = queryWorkerGroups(ctx, db, code); err != nil {
		return nil, err
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Code = cur.Code
	next.Kind = cur.Kind
	next.CreatedAt = cur.CreatedAt
	next.References = nil
	next.WorkerGroups = model.NormalizeWorkerGroups(next.WorkerGroups)

	err = db.QueryRowContext(ctx, `
		UPDATE records SET
			name = $2,
			config = $3,
			description = $4,
			operator_id = $5,
			updated_at = GREATEST(NOW(), updated_at)
		WHERE code = $1
		RETURNING updated_at`,
		code,
		next.Name,
		next.Config,
		nullString(next.Description),
		next.OperatorID,
	).Scan(&next.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := queryReplaceWorkerGroups(ctx, db, code, next.WorkerGroups); err != nil {
		return nil, err
	}
	return next, nil
}

// queryDeleteRecord removes the record and its associations and retires the
// code. Must run inside a transaction.
func queryDeleteRecord(ctx context.Context, db executor, code int64) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM record_worker_groups WHERE code = $1`, code); err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM records WHERE code = $1`, code)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete record %d: %w", code, model.ErrNotFound)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO retired_codes (code)
		VALUES ($1)
		ON CONFLICT DO NOTHING`,
		code,
	)
	return err
}

func queryListRecords(ctx context.Context, db executor, filter model.RecordFilter) ([]*model.Record, int, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if filter.Kind != "" {
		whereClauses = append(whereClauses, "kind = "+nextArg())
		args = append(args, string(filter.Kind))
	}

	if filter.Search != "" {
		whereClauses = append(whereClauses,
			fmt.Sprintf(`name ILIKE '%%' || %s || '%%' ESCAPE '\'`, nextArg()))
		args = append(args, escapeLike(filter.Search))
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records"+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}
	if total == 0 || filter.Offset() >= total {
		return []*model.Record{}, total, nil
	}

	dataQuery := "SELECT " + recordColumns + " FROM records" + whereSQL + " ORDER BY code ASC"
	if filter.PageSize > 0 {
		dataQuery += " LIMIT " + nextArg()
		args = append(args, filter.PageSize)
	}
	if offset := filter.Offset(); offset > 0 {
		dataQuery += " OFFSET " + nextArg()
		args = append(args, offset)
	}

	records, err := queryRecords(ctx, db, dataQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func queryListAllRecords(ctx context.Context, db executor, kind model.Kind) ([]*model.Record, error) {
	return queryRecords(ctx, db, `SELECT `+recordColumns+` FROM records WHERE kind = $1 ORDER BY code ASC`, string(kind))
}

// queryRecords runs a record SELECT and attaches worker groups with one
// extra query for the whole result set.
func queryRecords(ctx context.Context, db executor, query string, args ...any) ([]*model.Record, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	records, err := scanRecords(rows)
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	if len(records) == 0 {
		return []*model.Record{}, nil
	}

	codes := make([]int64, len(records))
	for i, r := range records {
		codes[i] = r.Code
	}
	groupRows, err := db.QueryContext(ctx, `
		SELECT code, worker_group FROM record_worker_groups
		WHERE code = ANY($1)
		ORDER BY code, worker_group`,
		pq.Array(codes),
	)
	if err != nil {
		return nil, fmt.Errorf("list worker groups: %w", err)
	}
	defer groupRows.Close()

	groupMap := make(map[int64][]string, len(records))
	for groupRows.Next() {
		var (
			code  int64
			group string
		)
		if err := groupRows.Scan(&code, &group); err != nil {
			return nil, fmt.Errorf("scan worker group: %w", err)
		}
		groupMap[code] = append(groupMap[code], group)
	}
	if err := groupRows.Err(); err != nil {
		return nil, fmt.Errorf("worker group rows: %w", err)
	}

	for _, r := range records {
		r.WorkerGroups = model.NormalizeWorkerGroups(groupMap[r.Code])
	}
	return records, nil
}

// querySetWorkerGroups replaces the association set and bumps updated_at.
// Must run inside a transaction.
func querySetWorkerGroups(ctx context.Context, db executor, code int64, groups []string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE records SET updated_at = GREATEST(NOW(), updated_at)
		WHERE code = $1`,
		code,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("set worker groups %d: %w", code, model.ErrNotFound)
	}
	return queryReplaceWorkerGroups(ctx, db, code, model.NormalizeWorkerGroups(groups))
}

func queryGetWorkerGroups(ctx context.Context, db executor, code int64) ([]string, error) {
	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM records WHERE code = $1)`, code).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("worker groups %d: %w", code, model.ErrNotFound)
	}
	return queryWorkerGroups(ctx, db, code)
}

func queryWorkerGroups(ctx context.Context, db executor, code int64) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT worker_group FROM record_worker_groups
		WHERE code = $1
		ORDER BY worker_group`,
		code,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := []string{}
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// queryReplaceWorkerGroups swaps the full association set for code.
func queryReplaceWorkerGroups(ctx context.Context, db executor, code int64, groups []string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM record_worker_groups WHERE code = $1`, code); err != nil {
		return fmt.Errorf("clear worker groups: %w", err)
	}
	if len(groups) == 0 {
		return nil
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO record_worker_groups (code, worker_group)
		SELECT $1, unnest($2::text[])`,
		code, pq.Array(groups),
	)
	if err != nil {
		return fmt.Errorf("insert worker groups: %w", err)
	}
	return nil
}

// escapeLike escapes LIKE metacharacters so the search term matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
