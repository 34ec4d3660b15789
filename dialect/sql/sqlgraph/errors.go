package sqlgraph

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/syssam/modelkit"
)

// Classify maps a driver error to the modelkit error taxonomy:
//
//   - primary key violations, serialization failures, deadlocks and lock
//     timeouts become modelkit.ErrConflictingWrite;
//   - other unique, foreign key, check and NOT NULL violations become
//     modelkit.ConstraintError;
//   - connectivity failures and timeouts become modelkit.ErrStorageUnavailable.
//
// Other errors are returned wrapped with op. table and pk name the written
// table and its primary key columns, used to recognize primary key violations.
func Classify(op string, err error, table string, pk ...string) error {
	switch {
	case err == nil:
		return nil
	case IsUniqueConstraintError(err) && IsPrimaryKeyError(err, table, pk...):
		return modelkit.ConflictingWrite(op, err)
	case IsConstraintError(err):
		return modelkit.NewConstraintError(err.Error(), err)
	case IsSerializationError(err):
		return modelkit.ConflictingWrite(op, err)
	case IsUnavailableError(err):
		return modelkit.StorageUnavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsConstraintError returns true if the error resulted from a database constraint violation.
func IsConstraintError(err error) bool {
	var e modelkit.ConstraintError
	return errors.As(err, &e) ||
		IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err) ||
		IsCheckConstraintError(err) ||
		IsNotNullConstraintError(err)
}

// errorCoder is an interface for database errors that provide error codes.
type errorCoder interface {
	Code() string
}

// sqlStateError is an interface for errors that provide SQLSTATE codes.
// Implemented by: pq.Error and pgconn.PgError.
type sqlStateError interface {
	SQLState() string
}

// PostgreSQL SQLSTATE codes.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
	pgNotNullViolation     = "23502"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgConnectionClass      = "08"
	pgAdminShutdown        = "57P01"
	pgCannotConnectNow     = "57P03"
	pgQueryCanceled        = "57014"
)

// MySQL error numbers.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
	mysqlBadNull                = 1048
	mysqlLockWaitTimeout        = 1205
	mysqlDeadlock               = 1213
	mysqlServerGone             = 2006
	mysqlServerLost             = 2013
)

// sqlState returns the SQLSTATE code of a Postgres error in the chain.
func sqlState(err error) string {
	var pge *pgconn.PgError
	if errors.As(err, &pge) {
		return pge.Code
	}
	var pqe *pq.Error
	if errors.As(err, &pqe) {
		return string(pqe.Code)
	}
	if e, ok := asError[sqlStateError](err); ok {
		return e.SQLState()
	}
	if e, ok := asError[errorCoder](err); ok {
		return e.Code()
	}
	return ""
}

// mysqlNumber returns the error number of a MySQL error in the chain.
func mysqlNumber(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
// e.g. duplicate value in unique index.
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if sqlState(err) == pgUniqueViolation || mysqlNumber(err) == mysqlDuplicateEntry {
		return true
	}
	// Fallback to string matching for drivers that don't expose codes.
	return containsAny(err.Error(),
		"Error 1062",                 // MySQL (string fallback)
		"violates unique constraint", // Postgres (string fallback)
		"UNIQUE constraint failed",   // SQLite
	)
}

// IsPrimaryKeyError reports if a uniqueness violation is on the primary key
// of the table.
func IsPrimaryKeyError(err error, table string, pk ...string) bool {
	msg := err.Error()
	if containsAny(msg, table+"_pkey", "for key 'PRIMARY'", "for key '"+table+".PRIMARY'") {
		return true
	}
	// SQLite names the violated columns: "UNIQUE constraint failed: t.a, t.b".
	const prefix = "UNIQUE constraint failed: "
	i := strings.Index(msg, prefix)
	if i < 0 || len(pk) == 0 {
		return false
	}
	cols := make([]string, len(pk))
	for j, c := range pk {
		cols[j] = table + "." + c
	}
	rest := msg[i+len(prefix):]
	want := strings.Join(cols, ", ")
	return rest == want || strings.HasPrefix(rest, want+" ")
}

// IsForeignKeyConstraintError reports if the error resulted from a database foreign-key constraint violation.
// e.g. parent row does not exist.
func IsForeignKeyConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if sqlState(err) == pgForeignKeyViolation {
		return true
	}
	if n := mysqlNumber(err); n == mysqlForeignKeyParent || n == mysqlForeignKeyChild {
		return true
	}
	return containsAny(err.Error(),
		"Error 1451",                      // MySQL (Cannot delete or update a parent row)
		"Error 1452",                      // MySQL (Cannot add or update a child row)
		"violates foreign key constraint", // Postgres
		"FOREIGN KEY constraint failed",   // SQLite
	)
}

// IsCheckConstraintError reports if the error resulted from a database check constraint violation.
// e.g. a value does not satisfy a check condition.
func IsCheckConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if sqlState(err) == pgCheckViolation || mysqlNumber(err) == mysqlCheckConstraintViolate {
		return true
	}
	return containsAny(err.Error(),
		"Error 3819",                // MySQL
		"violates check constraint", // Postgres
		"CHECK constraint failed",   // SQLite
	)
}

// IsNotNullConstraintError reports if the error resulted from a NULL written
// to a NOT NULL column.
func IsNotNullConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if sqlState(err) == pgNotNullViolation || mysqlNumber(err) == mysqlBadNull {
		return true
	}
	return containsAny(err.Error(),
		"violates not-null constraint", // Postgres
		"NOT NULL constraint failed",   // SQLite
	)
}

// IsSerializationError reports if the transaction lost a race with a
// concurrent one: serialization failures, deadlocks and lock timeouts.
func IsSerializationError(err error) bool {
	if err == nil {
		return false
	}
	switch sqlState(err) {
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
		return true
	}
	if n := mysqlNumber(err); n == mysqlDeadlock || n == mysqlLockWaitTimeout {
		return true
	}
	return containsAny(err.Error(),
		"could not serialize access", // Postgres
		"database is locked",         // SQLite (SQLITE_BUSY)
		"database table is locked",   // SQLite (SQLITE_LOCKED)
	)
}

// IsUnavailableError reports if the error is a connectivity or timeout failure.
func IsUnavailableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	switch code := sqlState(err); {
	case strings.HasPrefix(code, pgConnectionClass), code == pgAdminShutdown, code == pgCannotConnectNow, code == pgQueryCanceled:
		return true
	}
	if n := mysqlNumber(err); n == mysqlServerGone || n == mysqlServerLost {
		return true
	}
	return containsAny(err.Error(), "connection refused", "broken pipe", "bad connection")
}

// asError attempts to extract an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
