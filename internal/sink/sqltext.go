package sink

import (
	"fmt"
	"strings"
)

// QuoteTable quotes a possibly schema-qualified table name for use in SQL
// text. Each dot-separated part is quoted separately.
func QuoteTable(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = `"` + strings.ReplaceAll(part, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

// InsertSQL returns the single-row insert statement for table.
func InsertSQL(table string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5)", QuoteTable(table), strings.Join(Columns, ", "))
}

// TruncateSQL returns the statement that empties table.
func TruncateSQL(table string) string {
	return "TRUNCATE TABLE " + QuoteTable(table)
}

// StatsSQL returns the read-back query for table. It takes the table name as
// its only parameter and yields threads, inserts, bytes, blocks, start_ts and
// end_ts. An empty table reports the current time for both bounds.
func StatsSQL(table string) string {
	return fmt.Sprintf(`SELECT
	count(DISTINCT run_id),
	count(*),
	pg_total_relation_size($1::regclass),
	pg_total_relation_size($1::regclass) / current_setting('block_size')::bigint,
	coalesce(min(ts), now()),
	coalesce(max(ts), now())
FROM %s`, QuoteTable(table))
}

// CreateTableSQL returns DDL for the target table. It is used by integration
// tests and by operators preparing a fresh database.
func CreateTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	ts timestamptz NOT NULL,
	id uuid NOT NULL,
	scenario text NOT NULL,
	run_id text NOT NULL,
	payload jsonb NOT NULL
)`, QuoteTable(table))
}
