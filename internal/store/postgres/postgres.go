// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/ctxreg/internal/model"
	"github.com/alfredjeanlab/ctxreg/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewWithDB wraps an already-open, already-migrated database.
func NewWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB exposes the connection pool so collaborators sharing the database (the
// sequence generator, the usage index) can reuse it.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateRecord(ctx context.Context, r *model.Record) error {
	return s.inTx(ctx, nil, func(tx *sql.Tx) error {
		return queryCreateRecord(ctx, tx, r)
	})
}

func (s *PostgresStore) GetRecord(ctx context.Context, code int64) (*model.Record, error) {
	r, err := queryGetRecord(ctx, s.db, code)
	return r, classify(err)
}

func (s *PostgresStore) GetRecordByName(ctx context.Context, kind model.Kind, name string) (*model.Record, error) {
	r, err := queryGetRecordByName(ctx, s.db, kind, name)
	return r, classify(err)
}

func (s *PostgresStore) UpdateRecord(ctx context.Context, code int64, fn func(r *model.Record) error) (*model.Record, error) {
	var out *model.Record
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		r, err := queryUpdateRecord(ctx, tx, code, fn)
		out = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) DeleteRecord(ctx context.Context, code int64) error {
	return s.inTx(ctx, nil, func(tx *sql.Tx) error {
		return queryDeleteRecord(ctx, tx, code)
	})
}

// ListRecords runs the count and the page query in one read-only snapshot so
// the total always matches the page.
func (s *PostgresStore) ListRecords(ctx context.Context, filter model.RecordFilter) ([]*model.Record, int, error) {
	var (
		records []*model.Record
		total   int
	)
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	err := s.inTx(ctx, opts, func(tx *sql.Tx) error {
		var err error
		records, total, err = queryListRecords(ctx, tx, filter)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (s *PostgresStore) ListAllRecords(ctx context.Context, kind model.Kind) ([]*model.Record, error) {
	records, err := queryListAllRecords(ctx, s.db, kind)
	return records, classify(err)
}

func (s *PostgresStore) SetWorkerGroups(ctx context.Context, code int64, groups []string) error {
	return s.inTx(ctx, nil, func(tx *sql.Tx) error {
		return querySetWorkerGroups(ctx, tx, code, groups)
	})
}

func (s *PostgresStore) GetWorkerGroups(ctx context.Context, code int64) ([]string, error) {
	groups, err := queryGetWorkerGroups(ctx, s.db, code)
	return groups, classify(err)
}

// inTx begins a database transaction, calls fn, and commits on success or
// rolls back on error. Errors are classified into registry error kinds.
func (s *PostgresStore) inTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return classify(fmt.Errorf("begin transaction: %w", err))
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return classify(err)
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}
