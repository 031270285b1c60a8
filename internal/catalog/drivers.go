package catalog

// Driver registration for the engines the catalog can point at.
import (
	_ "github.com/duckdb/duckdb-go/v2" // duckdb
	_ "github.com/go-sql-driver/mysql" // mysql
	_ "github.com/lib/pq"              // postgres
	_ "github.com/mattn/go-sqlite3"    // sqlite3
)
