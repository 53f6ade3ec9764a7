// internal/store/errors.go
package store

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/lib/pq"

	"librarium/internal/liberr"
)

var (
	// ErrTxConflict is returned when Postgres aborts a transaction because of
	// concurrent access (serialization failure or deadlock). Safe to retry.
	ErrTxConflict = liberr.New(liberr.KindConflict, "transaction conflict, retry the request")

	// ErrDuplicate is returned on unique constraint violations.
	ErrDuplicate = liberr.New(liberr.KindDuplicate, "duplicate data found")

	// ErrReferenced is returned when a row is still referenced by a foreign key.
	ErrReferenced = liberr.New(liberr.KindInUse, "record is still referenced")

	// ErrConstraint is returned on check constraint violations.
	ErrConstraint = liberr.New(liberr.KindValidation, "data violates a store constraint")

	// ErrUnavailable is returned when the database cannot be reached.
	ErrUnavailable = liberr.New(liberr.KindUnavailable, "server couldn't connect database")
)

const (
	codeUniqueViolation       = "23505"
	codeForeignKeyViolation   = "23503"
	codeCheckViolation        = "23514"
	codeSerializationFailure  = "40001"
	codeDeadlockDetected      = "40P01"
	codeTooManyConnections    = "53300"
	classConnectionException  = "08"
	classOperatorIntervention = "57"
)

// Classify maps driver errors to store sentinels. Errors that already carry a
// kind, and errors it does not recognise, are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var kinded liberr.Kinded
	if errors.As(err, &kinded) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		switch {
		case code == codeUniqueViolation:
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		case code == codeForeignKeyViolation:
			return fmt.Errorf("%w: %w", ErrReferenced, err)
		case code == codeCheckViolation:
			return fmt.Errorf("%w: %w", ErrConstraint, err)
		case code == codeSerializationFailure, code == codeDeadlockDetected:
			return fmt.Errorf("%w: %w", ErrTxConflict, err)
		case code == codeTooManyConnections,
			strings.HasPrefix(code, classConnectionException),
			strings.HasPrefix(code, classOperatorIntervention):
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return err
}

// ConstraintName returns the violated constraint, if err came from Postgres.
func ConstraintName(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}
