package overrides

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the session-local sqlite database holding client-only
// durable state. The canonical conversation store is never persisted
// here; only local visibility overrides survive restarts.
type DB struct {
	*sql.DB
}

// OpenDB creates a sqlite connection with WAL mode and recommended
// pragmas.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open local db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping local db: %w", err)
	}
	return &DB{db}, nil
}
