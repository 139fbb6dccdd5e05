package history

import (
	"database/sql"
	"fmt"
	"log/slog"
)

const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "processed message log",
		SQL: `
		CREATE TABLE IF NOT EXISTS messages (
			id           TEXT PRIMARY KEY,
			chat_id      TEXT NOT NULL,
			role         TEXT NOT NULL,
			content      TEXT NOT NULL,
			timestamp    INTEGER NOT NULL,
			raw_data     TEXT,
			processed_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, timestamp, id);
		`,
	},
	{
		Version:     2,
		Description: "per-chat counters for status reporting",
		SQL: `
		CREATE TABLE IF NOT EXISTS chats (
			chat_id       TEXT PRIMARY KEY,
			message_count INTEGER NOT NULL DEFAULT 0,
			last_seen     INTEGER NOT NULL DEFAULT 0
		);
		`,
	},
}

// RunMigrations applies pending migrations, each in its own transaction,
// tracking progress in schema_version.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

// GetSchemaVersion returns the highest applied migration, 0 for a fresh db.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}
