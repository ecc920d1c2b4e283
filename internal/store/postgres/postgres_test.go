package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/alfredjeanlab/ctxreg/internal/model"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

// recordRowColumns is the column list for scanRecord results.
var recordRowColumns = []string{
	"code", "kind", "name", "config", "description", "operator_id", "created_at", "updated_at",
}

func recordRows(now time.Time, recs ...[2]any) *sqlmock.Rows {
	rows := sqlmock.NewRows(recordRowColumns)
	for _, r := range recs {
		rows.AddRow(r[0], "environment", r[1], "export A=1", nil, int64(1), now, now)
	}
	return rows
}

func expectWorkerGroups(mock sqlmock.Sqlmock, code int64, groups ...string) {
	rows := sqlmock.NewRows([]string{"worker_group"})
	for _, g := range groups {
		rows.AddRow(g)
	}
	mock.ExpectQuery("SELECT worker_group FROM record_worker_groups").WithArgs(code).WillReturnRows(rows)
}

func TestScanHelpers(t *testing.T) {
	if nullString("").Valid {
		t.Error("nullString(\"\") should be invalid")
	}
	if ns := nullString("hello"); !ns.Valid || ns.String != "hello" {
		t.Errorf("nullString(\"hello\") = %v", ns)
	}
}

func TestEscapeLike(t *testing.T) {
	for _, tc := range []struct {
		in, want string
	}{
		{"env", "env"},
		{"100%", `100\%`},
		{"a_b", `a\_b`},
		{`c:\tmp`, `c:\\tmp`},
	} {
		if got := escapeLike(tc.in); got != tc.want {
			t.Errorf("escapeLike(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestQueryCreateRecord(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	r := &model.Record{
		Code: 42, Kind: model.KindEnvironment, Name: "env-a", Config: "export A=1",
		OperatorID: 7, CreatedAt: now, UpdatedAt: now, WorkerGroups: []string{"gpu", "default", "gpu"},
	}
	mock.ExpectExec("INSERT INTO records").
		WithArgs(int64(42), "environment", "env-a", "export A=1", sqlmock.AnyArg(), int64(7), now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM record_worker_groups WHERE code = \\$1").WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO record_worker_groups").WithArgs(int64(42), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := queryCreateRecord(context.Background(), db, r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(r.WorkerGroups, []string{"default", "gpu"}) {
		t.Fatalf("worker groups not normalized: %v", r.WorkerGroups)
	}
}

func TestQueryCreateRecord_RetiredCode(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO records").WillReturnResult(sqlmock.NewResult(0, 0))

	err := queryCreateRecord(context.Background(), db, &model.Record{Code: 1, Kind: model.KindEnvironment, Name: "x"})
	if !errors.Is(err, model.ErrDuplicateCode) {
		t.Fatalf("expected ErrDuplicateCode, got %v", err)
	}
}

func TestCreateRecord_DuplicateNameRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO records").
		WillReturnError(&pq.Error{Code: "23505", Constraint: constraintRecordsName, Detail: "Key (kind, name) exists"})
	mock.ExpectRollback()

	err := s.CreateRecord(context.Background(), &model.Record{Code: 1, Kind: model.KindEnvironment, Name: "dup"})
	if !errors.Is(err, model.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestQueryGetRecord(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM records WHERE code = \\$1").WithArgs(int64(7)).
		WillReturnRows(recordRows(now, [2]any{int64(7), "env-a"}))
	expectWorkerGroups(mock, 7, "default", "gpu")

	r, err := queryGetRecord(context.Background(), db, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Code != 7 || r.Name != "env-a" || r.Kind != model.KindEnvironment || r.Description != "" {
		t.Fatalf("got %+v", r)
	}
	if !slices.Equal(r.WorkerGroups, []string{"default", "gpu"}) {
		t.Fatalf("worker groups = %v", r.WorkerGroups)
	}
}

func TestQueryGetRecord_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM records WHERE code = \\$1").WithArgs(int64(404)).WillReturnError(sql.ErrNoRows)

	_, err := queryGetRecord(context.Background(), db, 404)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueryGetRecordByName(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM records WHERE kind = \\$1 AND name = \\$2").
		WithArgs("environment", "env-a").
		WillReturnRows(recordRows(now, [2]any{int64(9), "env-a"}))
	expectWorkerGroups(mock, 9)

	r, err := queryGetRecordByName(context.Background(), db, model.KindEnvironment, "env-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Code != 9 || len(r.WorkerGroups) != 0 {
		t.Fatalf("got %+v", r)
	}
}

func TestUpdateRecord(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	created := time.Now().UTC().Add(-time.Hour)
	updated := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM records WHERE code = \\$1 FOR UPDATE").WithArgs(int64(5)).
		WillReturnRows(recordRows(created, [2]any{int64(5), "env-a"}))
	expectWorkerGroups(mock, 5, "A", "B")
	mock.ExpectQuery("UPDATE records SET").
		WithArgs(int64(5), "env-b", "export B=2", sqlmock.AnyArg(), int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(updated))
	mock.ExpectExec("DELETE FROM record_worker_groups WHERE code = \\$1").WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO record_worker_groups").WithArgs(int64(5), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	r, err := s.UpdateRecord(context.Background(), 5, func(r *model.Record) error {
		if !slices.Equal(r.WorkerGroups, []string{"A", "B"}) {
			return fmt.Errorf("mutator saw worker groups %v", r.WorkerGroups)
		}
		r.Name = "env-b"
		r.Config = "export B=2"
		r.OperatorID = 3
		r.WorkerGroups = []string{"C", "B"}
		r.Code = 100
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Code != 5 || !r.CreatedAt.Equal(created) || !r.UpdatedAt.Equal(updated) {
		t.Fatalf("got %+v", r)
	}
	if !slices.Equal(r.WorkerGroups, []string{"B", "C"}) {
		t.Fatalf("worker groups = %v", r.WorkerGroups)
	}
}

func TestUpdateRecord_DuplicateName(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM records WHERE code = \\$1 FOR UPDATE").WithArgs(int64(5)).
		WillReturnRows(recordRows(now, [2]any{int64(5), "env-a"}))
	expectWorkerGroups(mock, 5)
	mock.ExpectQuery("UPDATE records SET").
		WillReturnError(&pq.Error{Code: "23505", Constraint: constraintRecordsName})
	mock.ExpectRollback()

	_, err := s.UpdateRecord(context.Background(), 5, func(r *model.Record) error {
		r.Name = "taken"
		return nil
	})
	if !errors.Is(err, model.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestUpdateRecord_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM records WHERE code = \\$1 FOR UPDATE").WithArgs(int64(5)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.UpdateRecord(context.Background(), 5, func(*model.Record) error { return nil })
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRecord(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM record_worker_groups WHERE code = \\$1").WithArgs(int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM records WHERE code = \\$1").WithArgs(int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO retired_codes").WithArgs(int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.DeleteRecord(context.Background(), 8); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeleteRecord_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM record_worker_groups WHERE code = \\$1").WithArgs(int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM records WHERE code = \\$1").WithArgs(int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := s.DeleteRecord(context.Background(), 8); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueryListRecords(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM records WHERE kind = \\$1 AND name ILIKE").
		WithArgs("environment", "env").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("SELECT .+ FROM records WHERE kind = \\$1 AND name ILIKE .+ ORDER BY code ASC LIMIT \\$3").
		WithArgs("environment", "env", 2).
		WillReturnRows(recordRows(now, [2]any{int64(1), "env-a"}, [2]any{int64(2), "env-b"}))
	mock.ExpectQuery("SELECT code, worker_group FROM record_worker_groups").WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"code", "worker_group"}).AddRow(int64(2), "gpu"))

	recs, total, err := queryListRecords(context.Background(), db, model.RecordFilter{
		Kind: model.KindEnvironment, Search: "env", Page: 1, PageSize: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(recs) != 2 {
		t.Fatalf("got %d records, total %d", len(recs), total)
	}
	if recs[0].Name != "env-a" || len(recs[0].WorkerGroups) != 0 || !slices.Equal(recs[1].WorkerGroups, []string{"gpu"}) {
		t.Fatalf("unexpected records: %+v %+v", recs[0], recs[1])
	}
}

func TestQueryListRecords_Offset(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM records WHERE kind = \\$1").WithArgs("cluster").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectQuery("ORDER BY code ASC LIMIT \\$2 OFFSET \\$3").WithArgs("cluster", 2, 4).
		WillReturnRows(recordRows(now, [2]any{int64(5), "k8s-e"}))
	mock.ExpectQuery("SELECT code, worker_group FROM record_worker_groups").WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"code", "worker_group"}))

	recs, total, err := queryListRecords(context.Background(), db, model.RecordFilter{
		Kind: model.KindCluster, Page: 3, PageSize: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 5 || len(recs) != 1 {
		t.Fatalf("got %d records, total %d", len(recs), total)
	}
}

func TestQueryListRecords_HugePageIsEmpty(t *testing.T) {
	for _, tc := range []struct {
		page, size int
	}{
		{2, math.MaxInt},
		{3, 1 << 62},
	} {
		t.Run(fmt.Sprintf("%d/%d", tc.page, tc.size), func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM records WHERE kind = \\$1").WithArgs("environment").
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

			recs, total, err := queryListRecords(context.Background(), db, model.RecordFilter{
				Kind: model.KindEnvironment, Page: tc.page, PageSize: tc.size,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if total != 2 || recs == nil || len(recs) != 0 {
				t.Fatalf("got %d records, total %d; want an empty page", len(recs), total)
			}
		})
	}
}

func TestQueryListRecords_BeyondLastPage(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM records").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	recs, total, err := queryListRecords(context.Background(), db, model.RecordFilter{
		Kind: model.KindEnvironment, Page: 9, PageSize: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 4 || recs == nil || len(recs) != 0 {
		t.Fatalf("expected empty page with total 4, got %v / %d", recs, total)
	}
}

func TestListRecords_ReadOnlySnapshot(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM records").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectCommit()

	recs, total, err := s.ListRecords(context.Background(), model.RecordFilter{Kind: model.KindEnvironment, Page: 1, PageSize: 10})
	if err != nil || total != 0 || len(recs) != 0 {
		t.Fatalf("got %v, %d, %v", recs, total, err)
	}
}

func TestSetWorkerGroups(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE records SET updated_at").WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM record_worker_groups WHERE code = \\$1").WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO record_worker_groups").WithArgs(int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	if err := s.SetWorkerGroups(context.Background(), 3, []string{"B", "C"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSetWorkerGroups_EmptySetOnlyClears(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE records SET updated_at").WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM record_worker_groups WHERE code = \\$1").WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	if err := s.SetWorkerGroups(context.Background(), 3, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryGetWorkerGroups_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	if _, err := queryGetWorkerGroups(context.Background(), db, 3); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSequenceGenerator(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT nextval").WithArgs("record_code_seq").
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(1000001)))
	mock.ExpectQuery("SELECT nextval").WithArgs("record_code_seq").
		WillReturnError(&pq.Error{Code: "2200H"})

	g := NewSequenceGenerator(db)
	code, err := g.NextCode(context.Background())
	if err != nil || code != 1000001 {
		t.Fatalf("NextCode() = %d, %v", code, err)
	}
	if _, err := g.NextCode(context.Background()); !errors.Is(err, model.ErrGenerationExhausted) {
		t.Fatalf("expected ErrGenerationExhausted, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want error
	}{
		{"duplicate name", &pq.Error{Code: "23505", Constraint: constraintRecordsName}, model.ErrDuplicateName},
		{"duplicate code", &pq.Error{Code: "23505", Constraint: constraintRecordsPKey}, model.ErrDuplicateCode},
		{"connection failure", &pq.Error{Code: "08006"}, model.ErrTransient},
		{"serialization", &pq.Error{Code: "40001"}, model.ErrTransient},
		{"statement timeout", &pq.Error{Code: "57014"}, model.ErrTransient},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), model.ErrTransient},
		{"bad conn", driver.ErrBadConn, model.ErrTransient},
		{"passthrough", model.ErrNotFound, model.ErrNotFound},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify(tc.err); !errors.Is(got, tc.want) {
				t.Fatalf("classify(%v) = %v, want wrapping %v", tc.err, got, tc.want)
			}
		})
	}
	if classify(nil) != nil {
		t.Fatal("classify(nil) should be nil")
	}
	other := &pq.Error{Code: "23503"}
	if got := classify(other); got != error(other) {
		t.Fatalf("unrecognized pq error should pass through, got %v", got)
	}
}
