package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/ctxreg/internal/model"
)

const (
	constraintRecordsName = "records_kind_name_key"
	constraintRecordsPKey = "records_pkey"

	pqUniqueViolation        = pq.ErrorCode("23505")
	pqSequenceLimitExceeded  = pq.ErrorCode("2200H")
	pqSerializationFailure   = pq.ErrorCode("40001")
	pqDeadlockDetected       = pq.ErrorCode("40P01")
	pqQueryCanceled          = pq.ErrorCode("57014")
	pqAdminShutdown          = pq.ErrorCode("57P01")
	pqClassConnectionFailure = pq.ErrorClass("08")
)

// classify maps driver errors onto registry error kinds. Errors that already
// carry a kind, and errors it does not recognize, are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == pqUniqueViolation && pqErr.Constraint == constraintRecordsName:
			return fmt.Errorf("%w: %s", model.ErrDuplicateName, pqErr.Detail)
		case pqErr.Code == pqUniqueViolation && pqErr.Constraint == constraintRecordsPKey:
			return fmt.Errorf("%w: %s", model.ErrDuplicateCode, pqErr.Detail)
		case pqErr.Code == pqSequenceLimitExceeded:
			return fmt.Errorf("%w: %v", model.ErrGenerationExhausted, err)
		case pqErr.Code.Class() == pqClassConnectionFailure,
			pqErr.Code == pqSerializationFailure,
			pqErr.Code == pqDeadlockDetected,
			pqErr.Code == pqQueryCanceled,
			pqErr.Code == pqAdminShutdown:
			return fmt.Errorf("%w: %w", model.ErrTransient, err)
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %w", model.ErrTransient, err)
	}
	return err
}
