package config

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"
)

const DatabasePath = "./data/andromirror.db"

const migrations = `
CREATE TABLE IF NOT EXISTS mirroring_sessions (
	id           TEXT PRIMARY KEY,
	serial       TEXT NOT NULL,
	resolution   INTEGER NOT NULL,
	bitrate      INTEGER NOT NULL,
	fps          INTEGER NOT NULL,
	width        INTEGER NOT NULL DEFAULT 0,
	height       INTEGER NOT NULL DEFAULT 0,
	started_at   TIMESTAMP NOT NULL,
	connected_at TIMESTAMP,
	ended_at     TIMESTAMP,
	end_reason   TEXT
);
CREATE INDEX IF NOT EXISTS idx_mirroring_sessions_serial ON mirroring_sessions(serial, started_at);
`

// InitDatabase opens the SQLite database at path and runs migrations.
// ":memory:" is accepted for tests.
func InitDatabase(path string) (*sql.DB, error) {
	if path == "" {
		path = DatabasePath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Infof("Database initialized at %s", path)
	return db, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(migrations)
	return err
}
