package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// MetaStore holds the small relational state that doesn't belong in the
// history log or the profile snapshot: chat metadata and per-user custom
// instructions.
type MetaStore struct {
	db *sql.DB
}

// ChatMeta describes one chat the bot has seen.
type ChatMeta struct {
	ChatID     string
	Channel    string
	Title      string
	LastActive time.Time
}

// NewMetaStore creates/opens the database at path.
func NewMetaStore(path string) (*MetaStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create meta db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process store. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &MetaStore{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MetaStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *MetaStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS chats (
			chat_id TEXT PRIMARY KEY,
			channel TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			last_active_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS instructions (
			user_id TEXT PRIMARY KEY,
			instruction TEXT NOT NULL DEFAULT '',
			updated_at_ms INTEGER NOT NULL DEFAULT 0
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init meta db: %w", err)
		}
	}
	return nil
}

// TouchChat upserts chat metadata and stamps its last-active time.
func (s *MetaStore) TouchChat(chatID, channel, title string) error {
	_, err := s.db.Exec(`INSERT INTO chats (chat_id, channel, title, last_active_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			channel = excluded.channel,
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE chats.title END,
			last_active_ms = excluded.last_active_ms`,
		chatID, channel, title, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	return nil
}

// ActiveChats returns chats seen within the given window, most recent
// first. Used by the daily-summary scheduler to pick targets.
func (s *MetaStore) ActiveChats(within time.Duration) ([]ChatMeta, error) {
	cutoff := time.Now().Add(-within).UnixMilli()
	rows, err := s.db.Query(`SELECT chat_id, channel, title, last_active_ms
		FROM chats WHERE last_active_ms >= ? ORDER BY last_active_ms DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query active chats: %w", err)
	}
	defer rows.Close()

	var chats []ChatMeta
	for rows.Next() {
		var c ChatMeta
		var lastActiveMS int64
		if err := rows.Scan(&c.ChatID, &c.Channel, &c.Title, &lastActiveMS); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		c.LastActive = time.UnixMilli(lastActiveMS)
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// Instruction returns the user's custom instruction, or "" when unset.
func (s *MetaStore) Instruction(userID string) (string, error) {
	var instruction string
	err := s.db.QueryRow(`SELECT instruction FROM instructions WHERE user_id = ?`, userID).
		Scan(&instruction)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load instruction: %w", err)
	}
	return instruction, nil
}

// SetInstruction stores or replaces the user's custom instruction.
func (s *MetaStore) SetInstruction(userID, instruction string) error {
	_, err := s.db.Exec(`INSERT INTO instructions (user_id, instruction, updated_at_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			instruction = excluded.instruction,
			updated_at_ms = excluded.updated_at_ms`,
		userID, instruction, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save instruction: %w", err)
	}
	return nil
}
