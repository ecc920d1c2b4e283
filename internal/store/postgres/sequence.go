package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alfredjeanlab/ctxreg/internal/idgen"
)

// SequenceGenerator hands out record codes from a database sequence shared
// by every service instance.
type SequenceGenerator struct {
	db       *sql.DB
	sequence string
}

// Compile-time check that SequenceGenerator implements idgen.Generator.
var _ idgen.Generator = (*SequenceGenerator)(nil)

// NewSequenceGenerator returns a generator backed by the record_code_seq
// sequence created by the migrations.
func NewSequenceGenerator(db *sql.DB) *SequenceGenerator {
	return &SequenceGenerator{db: db, sequence: "record_code_seq"}
}

func (g *SequenceGenerator) NextCode(ctx context.Context) (int64, error) {
	var code int64
	if err := g.db.QueryRowContext(ctx, `SELECT nextval($1::regclass)`, g.sequence).Scan(&code); err != nil {
		return 0, classify(fmt.Errorf("next code: %w", err))
	}
	return code, nil
}
