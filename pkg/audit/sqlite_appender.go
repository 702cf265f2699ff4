package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const auditTable = "access_audit"

// SQLiteAppender persists entries to a SQLite database for later querying
// (who accessed what, failed authentications per user, and so on).
type SQLiteAppender struct {
	db     *sql.DB
	insert *sql.Stmt
}

// NewSQLiteAppender opens (or creates) the database at dsn and ensures the
// audit table and its indexes exist. Use ":memory:" in tests.
func NewSQLiteAppender(dsn string) (*SQLiteAppender, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite %q: %w", dsn, err)
	}

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id         TEXT PRIMARY KEY,
			timestamp  TIMESTAMP NOT NULL,
			operation  TEXT NOT NULL,
			status     TEXT NOT NULL,
			user_name  TEXT,
			resource   TEXT,
			detail     TEXT
		)`, auditTable)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create table: %w", err)
	}
	for _, idx := range []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_timestamp ON %s (timestamp)", auditTable, auditTable),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_user ON %s (user_name)", auditTable, auditTable),
	} {
		if _, err := db.Exec(idx); err != nil {
			db.Close()
			return nil, fmt.Errorf("audit: create index: %w", err)
		}
	}

	insert, err := db.Prepare(fmt.Sprintf(
		"INSERT INTO %s (id, timestamp, operation, status, user_name, resource, detail) VALUES (?, ?, ?, ?, ?, ?, ?)",
		auditTable))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: prepare insert: %w", err)
	}

	return &SQLiteAppender{db: db, insert: insert}, nil
}

func (sa *SQLiteAppender) Append(ctx context.Context, entry *Entry) error {
	_, err := sa.insert.ExecContext(ctx,
		entry.ID, entry.Timestamp, string(entry.Operation), string(entry.Status),
		entry.User, entry.Resource, entry.Detail)
	if err != nil {
		return fmt.Errorf("audit: insert entry %s: %w", entry.ID, err)
	}
	return nil
}

func (sa *SQLiteAppender) Close() error {
	_ = sa.insert.Close()
	return sa.db.Close()
}
