package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"csbridge/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.HistoryStore on a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	locks  *KeyedMutex
	logger *slog.Logger
}

var _ domain.HistoryStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := dbPath
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, locks: NewKeyedMutex(), logger: logger}, nil
}

func (s *SQLiteStore) Has(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec domain.ProcessedMessageRecord) (bool, error) {
	rec = normalize(rec)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	unlock := s.locks.Lock(rec.ChatID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (id, chat_id, role, content, timestamp, raw_data)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ChatID, string(rec.Role), rec.Content, rec.Timestamp.UnixMilli(), rec.RawPayload,
	)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chats (chat_id, message_count, last_seen) VALUES (?, 1, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET message_count = message_count + 1, last_seen = excluded.last_seen`,
		rec.ChatID, rec.Timestamp.UnixMilli(),
	); err != nil {
		return false, fmt.Errorf("update chat counter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	s.logger.Debug("message stored", "chat_id", rec.ChatID, "role", rec.Role, "id", rec.ID)
	return true, nil
}

// History returns the newest limit records of a chat, oldest first.
func (s *SQLiteStore) History(ctx context.Context, chatID string, limit int) ([]domain.ProcessedMessageRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, timestamp, raw_data
		 FROM messages WHERE chat_id = ?
		 ORDER BY timestamp DESC, id DESC LIMIT ?`, chatID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProcessedMessageRecord
	for rows.Next() {
		var (
			r    domain.ProcessedMessageRecord
			role string
			ts   int64
			raw  sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ChatID, &role, &r.Content, &ts, &raw); err != nil {
			return nil, err
		}
		r.Role = domain.Role(role)
		r.Timestamp = time.UnixMilli(ts)
		r.RawPayload = raw.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ChatCount returns how many distinct chats have stored messages.
func (s *SQLiteStore) ChatCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM chats`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
