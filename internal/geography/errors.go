package geography

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("geography: record not found")

	// ErrStoreClosed is returned by a store that has been shut down.
	ErrStoreClosed = errors.New("geography: store closed")

	// ErrDuplicate is returned when a create collides with an existing key.
	ErrDuplicate = errors.New("geography: duplicate key")
)

// StoreError wraps a failed read or write of a single record.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("geography: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// IsUnreachable reports whether err means the store itself is gone rather
// than one record failing. Such errors end a run instead of being counted.
func IsUnreachable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStoreClosed) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception; 57P0x is operator intervention.
		code := pgErr.Code
		return len(code) == 5 && (code[:2] == "08" || code[:4] == "57P0")
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// isUniqueViolation reports a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
