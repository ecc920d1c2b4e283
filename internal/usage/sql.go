package usage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/ctxreg/internal/model"
)

// Table names the definition table and columns that hold references to
// records of one kind.
type Table struct {
	Name       string // e.g. "task_definition"
	CodeColumn string // e.g. "environment_code"
	NameColumn string // e.g. "name"
}

// DefaultTables mirrors the workflow-definition schema of the orchestrator:
// tasks pin an environment and workflows pin a cluster.
var DefaultTables = map[model.Kind]Table{
	model.KindEnvironment: {Name: "task_definition", CodeColumn: "environment_code", NameColumn: "name"},
	model.KindCluster:     {Name: "workflow_definition", CodeColumn: "cluster_code", NameColumn: "name"},
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// SQLIndex queries the definition tables directly. It never writes.
type SQLIndex struct {
	db     *sql.DB
	tables map[model.Kind]Table
}

var _ Index = (*SQLIndex)(nil)

// NewSQLIndex returns an index over db. A nil tables map selects
// DefaultTables. Table and column names are checked to be plain (optionally
// schema-qualified) identifiers since they are interpolated into SQL.
func NewSQLIndex(db *sql.DB, tables map[model.Kind]Table) (*SQLIndex, error) {
	if tables == nil {
		tables = DefaultTables
	}
	for kind, t := range tables {
		for _, ident := range []string{t.Name, t.CodeColumn, t.NameColumn} {
			if !identRe.MatchString(ident) {
				return nil, fmt.Errorf("usage table for %s: bad identifier %q: %w", kind, ident, model.ErrInvalidInput)
			}
		}
	}
	return &SQLIndex{db: db, tables: tables}, nil
}

func (x *SQLIndex) table(kind model.Kind) (Table, error) {
	t, ok := x.tables[kind]
	if !ok {
		return Table{}, fmt.Errorf("no usage table for kind %q: %w", kind, model.ErrInvalidInput)
	}
	return t, nil
}

func (x *SQLIndex) IsReferenced(ctx context.Context, kind model.Kind, code int64) (bool, error) {
	t, err := x.table(kind)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)`,
		quoteIdent(t.Name), pq.QuoteIdentifier(t.CodeColumn))

	var referenced bool
	if err := x.db.QueryRowContext(ctx, query, code).Scan(&referenced); err != nil {
		return false, fmt.Errorf("check %s usage of %d: %w", kind, code, err)
	}
	return referenced, nil
}

func (x *SQLIndex) References(ctx context.Context, kind model.Kind, code int64) ([]string, error) {
	t, err := x.table(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT DISTINCT %s FROM %s WHERE %s = $1 ORDER BY 1`,
		pq.QuoteIdentifier(t.NameColumn), quoteIdent(t.Name), pq.QuoteIdentifier(t.CodeColumn))

	rows, err := x.db.QueryContext(ctx, query, code)
	if err != nil {
		return nil, fmt.Errorf("list %s references of %d: %w", kind, code, err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// quoteIdent quotes a possibly schema-qualified table name.
func quoteIdent(name string) string {
	if schema, table, ok := strings.Cut(name, "."); ok {
		return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
	}
	return pq.QuoteIdentifier(name)
}
