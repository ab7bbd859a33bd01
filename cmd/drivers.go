package main

// database/sql drivers available to datasource descriptors, by driver name:
// sqlite, mysql, postgres, pgx.
import (
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)
