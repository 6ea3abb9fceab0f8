// Package sqlite provides a file-backed core.PreferenceStore using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/neurallink/core"
	"github.com/hupe1980/neurallink/memory"
)

// Store persists preferences and notes in a SQLite database.
type Store struct {
	db *sql.DB
}

var _ core.PreferenceStore = (*Store)(nil)

// Open opens (creating if needed) the database at path. Use ":memory:" for a
// throwaway database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS preferences (
		user_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, key)
	);
	CREATE TABLE IF NOT EXISTS notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_notes_user ON notes(user_id);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Get returns all preferences of the user.
func (s *Store) Get(userID string) (map[string]any, error) {
	rows, err := s.db.Query("SELECT key, value FROM preferences WHERE user_id = ?", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode preference %q: %w", key, err)
		}
		out[key] = v
	}
	return out, rows.Err()
}

// Put upserts each key of delta in one transaction.
func (s *Store) Put(userID string, delta map[string]any) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for k, v := range delta {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode preference %q: %w", k, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO preferences (user_id, key, value) VALUES (?, ?, ?)
			 ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
			userID, k, string(raw),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Search matches notes containing query, ignoring ASCII case, oldest first.
func (s *Store) Search(userID string, query string, limit int) ([]core.SearchResult, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, content, metadata FROM notes
		 WHERE user_id = ? AND instr(lower(content), ?) > 0
		 ORDER BY id LIMIT ?`,
		userID, strings.ToLower(query), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []core.SearchResult{}
	for rows.Next() {
		var (
			id      int64
			content string
			meta    sql.NullString
		)
		if err := rows.Scan(&id, &content, &meta); err != nil {
			return nil, err
		}
		md := map[string]any{}
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &md)
		}
		results = append(results, core.SearchResult{
			ID:       strconv.FormatInt(id, 10),
			Content:  content,
			Score:    1.0,
			Metadata: md,
		})
	}
	return results, rows.Err()
}

// Store appends a note for the user.
func (s *Store) Store(userID string, content string, metadata map[string]any) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.Exec("INSERT INTO notes (user_id, content, metadata) VALUES (?, ?, ?)", userID, content, string(metaJSON))
	return err
}

// Delete removes a note by id.
func (s *Store) Delete(userID string, noteID string) error {
	res, err := s.db.Exec("DELETE FROM notes WHERE user_id = ? AND id = ?", userID, noteID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return memory.ErrNotFound
	}
	return nil
}
