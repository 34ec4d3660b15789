// Package dialect names the storage dialects and defines the driver
// contracts implemented by dialect/sql.
//
// The dialects are:
//
//	dialect.SQLite   = "sqlite"
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.Memory   = "memory"
package dialect

import (
	"context"
	"database/sql/driver"

	"github.com/syssam/modelkit/schema/field"
)

// Dialect names for external usage.
const (
	MySQL    = "mysql"
	SQLite   = "sqlite"
	Postgres = "postgres"
	Memory   = "memory"
)

// ExecQuerier wraps the 2 database operations.
type ExecQuerier interface {
	// Exec executes a query that does not return records. For example, in SQL, INSERT or UPDATE.
	// It scans the result into the pointer v. For SQL drivers, it is dialect/sql.Result.
	Exec(ctx context.Context, query string, args, v any) error
	// Query executes a query that returns rows, typically a SELECT in SQL.
	// It scans the result into the pointer v. For SQL drivers, it is *dialect/sql.Rows.
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the interface that wraps all necessary operations for SQL stores.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	Tx(context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx wraps the Exec and Query operations in transaction.
type Tx interface {
	ExecQuerier
	driver.Tx
}

// ColumnType returns the column type used by the dialect for a field type.
// It is what DDL renders and what introspection reports back, so a column
// created from a field type is recognized as unchanged on the next diff.
func ColumnType(name string, t field.Type) string {
	switch name {
	case Postgres:
		return postgresTypes[t]
	case MySQL:
		return mysqlTypes[t]
	case SQLite:
		return sqliteTypes[t]
	}
	return t.String()
}

var (
	sqliteTypes = map[field.Type]string{
		field.TypeBool:   "bool",
		field.TypeInt:    "integer",
		field.TypeFloat:  "real",
		field.TypeString: "text",
		field.TypeEnum:   "text",
		field.TypeBytes:  "blob",
		field.TypeTime:   "datetime",
		field.TypeUUID:   "uuid",
		field.TypeJSON:   "json",
	}
	postgresTypes = map[field.Type]string{
		field.TypeBool:   "boolean",
		field.TypeInt:    "bigint",
		field.TypeFloat:  "double precision",
		field.TypeString: "character varying",
		field.TypeEnum:   "character varying",
		field.TypeBytes:  "bytea",
		field.TypeTime:   "timestamp with time zone",
		field.TypeUUID:   "uuid",
		field.TypeJSON:   "jsonb",
	}
	mysqlTypes = map[field.Type]string{
		field.TypeBool:   "tinyint(1)",
		field.TypeInt:    "bigint",
		field.TypeFloat:  "double",
		field.TypeString: "varchar(255)",
		field.TypeEnum:   "varchar(255)",
		field.TypeBytes:  "blob",
		field.TypeTime:   "timestamp",
		field.TypeUUID:   "char(36)",
		field.TypeJSON:   "json",
	}
)

// FieldType maps a column type reported by introspection back to a field
// type. It returns TypeInvalid for types the engine does not produce.
func FieldType(name, raw string) field.Type {
	var types map[field.Type]string
	switch name {
	case Postgres:
		types = postgresTypes
	case MySQL:
		types = mysqlTypes
	case SQLite:
		types = sqliteTypes
	default:
		t, _ := field.ParseType(raw)
		return t
	}
	// String and enum share a column type; enum is never inferred.
	for _, t := range []field.Type{field.TypeBool, field.TypeInt, field.TypeFloat, field.TypeString, field.TypeBytes, field.TypeTime, field.TypeUUID, field.TypeJSON} {
		if types[t] == raw {
			return t
		}
	}
	return field.TypeInvalid
}
