package sqlstore

// Database drivers registered with database/sql. The pgx driver is
// registered as "pgx" and lib/pq as "postgres"; both map to the PostgreSQL
// dialect.
import (
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)
