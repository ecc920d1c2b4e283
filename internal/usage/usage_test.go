package usage

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/alfredjeanlab/ctxreg/internal/model"
)

func TestStatic(t *testing.T) {
	ctx := context.Background()
	idx := NewStatic()

	if ok, _ := idx.IsReferenced(ctx, model.KindEnvironment, 1); ok {
		t.Fatal("empty index reports a reference")
	}

	idx.Add(model.KindEnvironment, 1, "wf-b")
	idx.Add(model.KindEnvironment, 1, "wf-a")
	idx.Add(model.KindEnvironment, 1, "wf-a")

	if ok, _ := idx.IsReferenced(ctx, model.KindEnvironment, 1); !ok {
		t.Fatal("expected reference")
	}
	if ok, _ := idx.IsReferenced(ctx, model.KindCluster, 1); ok {
		t.Fatal("reference leaked across kinds")
	}
	refs, _ := idx.References(ctx, model.KindEnvironment, 1)
	if !slices.Equal(refs, []string{"wf-a", "wf-b"}) {
		t.Fatalf("References() = %v", refs)
	}

	idx.Remove(model.KindEnvironment, 1, "wf-a")
	idx.Remove(model.KindEnvironment, 1, "wf-b")
	idx.Remove(model.KindEnvironment, 1, "unknown")
	if ok, _ := idx.IsReferenced(ctx, model.KindEnvironment, 1); ok {
		t.Fatal("expected no reference after removal")
	}
	refs, _ = idx.References(ctx, model.KindEnvironment, 1)
	if refs == nil || len(refs) != 0 {
		t.Fatalf("References() = %#v, want empty slice", refs)
	}
}

func newMockDB(t *testing.T) (*SQLIndex, sqlmock.Sqlmock) {
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
	idx, err := NewSQLIndex(db, nil)
	if err != nil {
		t.Fatalf("NewSQLIndex: %v", err)
	}
	return idx, mock
}

func TestSQLIndex_IsReferenced(t *testing.T) {
	for _, tc := range []struct {
		kind  model.Kind
		query string
		want  bool
	}{
		{model.KindEnvironment, `SELECT EXISTS \(SELECT 1 FROM "task_definition" WHERE "environment_code" = \$1\)`, true},
		{model.KindCluster, `SELECT EXISTS \(SELECT 1 FROM "workflow_definition" WHERE "cluster_code" = \$1\)`, false},
	} {
		t.Run(string(tc.kind), func(t *testing.T) {
			idx, mock := newMockDB(t)
			mock.ExpectQuery(tc.query).WithArgs(int64(42)).
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tc.want))

			got, err := idx.IsReferenced(context.Background(), tc.kind, 42)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("IsReferenced() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSQLIndex_References(t *testing.T) {
	idx, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT DISTINCT "name" FROM "task_definition" WHERE "environment_code" = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("nightly").AddRow("ingest"))

	refs, err := idx.References(context.Background(), model.KindEnvironment, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(refs, []string{"nightly", "ingest"}) {
		t.Fatalf("References() = %v", refs)
	}
}

func TestSQLIndex_QueryError(t *testing.T) {
	idx, mock := newMockDB(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery("SELECT EXISTS").WillReturnError(boom)

	if _, err := idx.IsReferenced(context.Background(), model.KindEnvironment, 1); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped driver error, got %v", err)
	}
}

func TestNewSQLIndex_RejectsBadIdentifiers(t *testing.T) {
	for _, tc := range []struct {
		name  string
		table Table
		ok    bool
	}{
		{"plain", Table{Name: "task_definition", CodeColumn: "environment_code", NameColumn: "name"}, true},
		{"schema qualified", Table{Name: "wf.task_definition", CodeColumn: "env", NameColumn: "name"}, true},
		{"injection", Table{Name: "t; DROP TABLE records", CodeColumn: "c", NameColumn: "n"}, false},
		{"empty column", Table{Name: "t", CodeColumn: "", NameColumn: "n"}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSQLIndex(nil, map[model.Kind]Table{model.KindEnvironment: tc.table})
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, model.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestSQLIndex_UnknownKind(t *testing.T) {
	idx, err := NewSQLIndex(nil, map[model.Kind]Table{})
	if err != nil {
		t.Fatalf("NewSQLIndex: %v", err)
	}
	if _, err := idx.IsReferenced(context.Background(), model.KindCluster, 1); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
