// Package store persists time entries, task lists and settings in a local
// SQLite database. CRUD only; the timer core constructs entries and hands
// them off, it never reads back through this package.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// TimeEntry is one completed timer run. ID is derived from the creation
// timestamp (unix milliseconds) and must be unique.
type TimeEntry struct {
	ID        int64     `json:"id"`
	Task      string    `json:"task"`
	Date      string    `json:"date"` // RFC3339, day the entry belongs to
	Duration  int       `json:"duration"` // Seconds
	CreatedAt time.Time `json:"created_at"`
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the standard database location.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".local", "share", "tempofy", "tempofy.db")
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS time_entries (
			id INTEGER PRIMARY KEY,
			task TEXT NOT NULL,
			date TEXT NOT NULL,
			duration INTEGER NOT NULL,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS custom_tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_name TEXT UNIQUE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS recent_tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_name TEXT UNIQUE NOT NULL,
			last_used INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_time_entries_date ON time_entries(date)`,
		`CREATE INDEX IF NOT EXISTS idx_time_entries_timestamp ON time_entries(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_recent_tasks_last_used ON recent_tasks(last_used DESC)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// SaveEntry inserts a completed time entry and touches the recent-task list.
// A zero ID is assigned from the current time; an ID collision (two entries
// created in the same millisecond) is resolved by bumping.
func (s *Store) SaveEntry(entry TimeEntry) (TimeEntry, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.ID == 0 {
		entry.ID = entry.CreatedAt.UnixMilli()
	}
	if entry.Date == "" {
		entry.Date = entry.CreatedAt.Format(time.RFC3339)
	}

	for {
		_, err := s.db.Exec(
			`INSERT INTO time_entries (id, task, date, duration, timestamp) VALUES (?, ?, ?, ?, ?)`,
			entry.ID, entry.Task, entry.Date, entry.Duration, entry.CreatedAt.UnixMilli(),
		)
		if err == nil {
			break
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			entry.ID++
			continue
		}
		return TimeEntry{}, fmt.Errorf("failed to save entry: %w", err)
	}

	if err := s.TouchRecentTask(entry.Task); err != nil {
		return entry, err
	}
	return entry, nil
}

// Entries returns all time entries, newest first.
func (s *Store) Entries() ([]TimeEntry, error) {
	return s.queryEntries(`SELECT id, task, date, duration, timestamp FROM time_entries ORDER BY timestamp DESC`)
}

// EntriesByDateRange returns entries with start <= date < end, newest first.
// Dates are compared as RFC3339 strings, matching the stored format.
func (s *Store) EntriesByDateRange(start, end time.Time) ([]TimeEntry, error) {
	return s.queryEntries(
		`SELECT id, task, date, duration, timestamp FROM time_entries
		 WHERE date >= ? AND date < ? ORDER BY timestamp DESC`,
		start.Format(time.RFC3339), end.Format(time.RFC3339),
	)
}

func (s *Store) queryEntries(query string, args ...interface{}) ([]TimeEntry, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []TimeEntry
	for rows.Next() {
		var e TimeEntry
		var ts int64
		if err := rows.Scan(&e.ID, &e.Task, &e.Date, &e.Duration, &ts); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateEntry rewrites the mutable fields of an existing entry.
func (s *Store) UpdateEntry(id int64, task, date string, duration int) error {
	res, err := s.db.Exec(
		`UPDATE time_entries SET task = ?, date = ?, duration = ? WHERE id = ?`,
		task, date, duration, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no entry with id %d", id)
	}
	return nil
}

// DeleteEntry removes one entry by ID.
func (s *Store) DeleteEntry(id int64) error {
	_, err := s.db.Exec(`DELETE FROM time_entries WHERE id = ?`, id)
	return err
}

// DeleteEntries removes multiple entries at once.
func (s *Store) DeleteEntries(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.Exec(`DELETE FROM time_entries WHERE id IN (`+placeholders+`)`, args...)
	return err
}

// AddCustomTask registers a user-defined task name. Duplicates are ignored.
func (s *Store) AddCustomTask(name string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO custom_tasks (task_name) VALUES (?)`, name)
	return err
}

// CustomTasks returns all user-defined task names in insertion order.
func (s *Store) CustomTasks() ([]string, error) {
	return s.queryNames(`SELECT task_name FROM custom_tasks ORDER BY id`)
}

// DeleteCustomTask removes a user-defined task name.
func (s *Store) DeleteCustomTask(name string) error {
	_, err := s.db.Exec(`DELETE FROM custom_tasks WHERE task_name = ?`, name)
	return err
}

// TouchRecentTask moves a task to the front of the recent list.
func (s *Store) TouchRecentTask(name string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO recent_tasks (task_name, last_used) VALUES (?, ?)`,
		name, time.Now().UnixMilli(),
	)
	return err
}

// RecentTasks returns the most recently used task names, newest first.
func (s *Store) RecentTasks(limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	return s.queryNames(`SELECT task_name FROM recent_tasks ORDER BY last_used DESC LIMIT ?`, limit)
}

func (s *Store) queryNames(query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// GetSetting reads a JSON-encoded setting into out. Returns false when the
// key does not exist.
func (s *Store) GetSetting(key string, out interface{}) (bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		return false, fmt.Errorf("failed to decode setting %q: %w", key, err)
	}
	return true, nil
}

// SetSetting stores a JSON-encoded setting.
func (s *Store) SetSetting(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, string(data))
	return err
}

// DeleteSetting removes a setting.
func (s *Store) DeleteSetting(key string) error {
	_, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key)
	return err
}

// Stats reports table row counts.
type Stats struct {
	TimeEntries int `json:"time_entries"`
	CustomTasks int `json:"custom_tasks"`
	RecentTasks int `json:"recent_tasks"`
}

// GetStats returns row counts for the main tables.
func (s *Store) GetStats() (Stats, error) {
	var st Stats
	queries := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM time_entries`, &st.TimeEntries},
		{`SELECT COUNT(*) FROM custom_tasks`, &st.CustomTasks},
		{`SELECT COUNT(*) FROM recent_tasks`, &st.RecentTasks},
	}
	for _, q := range queries {
		if err := s.db.QueryRow(q.query).Scan(q.dst); err != nil {
			return Stats{}, err
		}
	}
	return st, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
