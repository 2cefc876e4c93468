package swapdb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrSerialization marks transactions that failed because of concurrent
// access and may be retried.
var ErrSerialization = errors.New("db tx serialization failure")

// mapSQLError maps driver specific errors to the errors of this package.
func mapSQLError(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE,
			sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:

			return fmt.Errorf("%w: %v", ErrSwapExists, err)

		case sqlite3.SQLITE_BUSY:
			return fmt.Errorf("%w: %v", ErrSerialization, err)
		}

		return err
	}

	var pqErr *pgconn.PgError
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgerrcode.UniqueViolation:
			return fmt.Errorf("%w: %v", ErrSwapExists, err)

		case pgerrcode.SerializationFailure,
			pgerrcode.InFailedSQLTransaction,
			pgerrcode.DeadlockDetected:

			return fmt.Errorf("%w: %v", ErrSerialization, err)
		}

		return err
	}

	// Unwrapped sqlite busy errors only carry the code in the message.
	if strings.Contains(err.Error(), "SQLITE_BUSY") {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	return err
}
