// Package sql wraps database/sql (through sqlx) in a dialect.Driver.
//
// It adds transactions with isolation options, session variables that are
// set before every statement, a statistics driver with slow query logging,
// a debug driver, and a Builder that quotes identifiers and numbers
// placeholders per dialect:
//
//	drv, err := sql.Open("pgx", "postgres://localhost/app")
//	if err != nil {
//	    return err
//	}
//	tx, err := drv.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
//
// Driver names are the ones registered by the drivers: "sqlite"
// (modernc.org/sqlite), "postgres" (lib/pq), "pgx" (jackc/pgx) and "mysql".
package sql
