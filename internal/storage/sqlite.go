package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ernie/konsole/internal/domain"
)

// ErrNotFound is returned when a looked-up row does not exist
var ErrNotFound = errors.New("not found")

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string
// The Z suffix ensures the Go sqlite driver parses it back as UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

//go:embed schema.sql
var schema string

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Transition history ---

// RecordTransition stores one tracker emission. Values are stored as JSON.
func (s *Store) RecordTransition(ctx context.Context, tracker string, current, previous any, hasPrevious, forced bool, at time.Time) (int64, error) {
	cur, err := json.Marshal(current)
	if err != nil {
		return 0, fmt.Errorf("encoding current value: %w", err)
	}
	var prev sql.NullString
	if hasPrevious {
		b, err := json.Marshal(previous)
		if err != nil {
			return 0, fmt.Errorf("encoding previous value: %w", err)
		}
		prev = sql.NullString{String: string(b), Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO transitions (tracker, current, previous, forced, at)
		VALUES (?, ?, ?, ?, ?)
	`, tracker, string(cur), prev, forced, formatTimestamp(at))
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetTransitions returns the newest transitions first. An empty tracker
// matches every tracker; beforeID pages backwards.
func (s *Store) GetTransitions(ctx context.Context, tracker string, limit int, beforeID *int64) ([]domain.Transition, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, tracker, current, previous, forced, at FROM transitions
		WHERE (? = '' OR tracker = ?)`
	args := []any{tracker, tracker}
	if beforeID != nil {
		query += ` AND id < ?`
		args = append(args, *beforeID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transitions := []domain.Transition{}
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		transitions = append(transitions, *t)
	}
	return transitions, rows.Err()
}

// LastTransition returns the most recent transition of tracker
func (s *Store) LastTransition(ctx context.Context, tracker string) (*domain.Transition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tracker, current, previous, forced, at FROM transitions
		WHERE tracker = ? ORDER BY id DESC LIMIT 1
	`, tracker)
	t, err := scanTransition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// PruneTransitions deletes transitions older than before
func (s *Store) PruneTransitions(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM transitions WHERE at < ?`, formatTimestamp(before))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// --- Action audit ---

// RecordAction appends an action outcome to the audit log
func (s *Store) RecordAction(ctx context.Context, a domain.ActionResult, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actions (action, requested_by, target, ok, error, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.Action, nullString(a.By), nullString(a.Target), a.OK, nullString(a.Error), formatTimestamp(at))
	return err
}

// GetActions returns audited actions newest first, optionally filtered by name
func (s *Store) GetActions(ctx context.Context, action string, limit int) ([]domain.ActionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, requested_by, target, ok, error, at FROM actions
		WHERE (? = '' OR action = ?)
		ORDER BY id DESC LIMIT ?
	`, action, action, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []domain.ActionRecord{}
	for rows.Next() {
		r, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// --- Users ---

// User represents an API user account
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// CreateUser creates a new user account
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string, isAdmin bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, is_admin)
		VALUES (?, ?, ?)
	`, username, passwordHash, isAdmin)
	return err
}

// GetUserByUsername retrieves a user by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, is_admin, created_at, last_login
		FROM users WHERE username = ?
	`, username)
	return scanUser(row)
}

// DeleteUser removes a user by username
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("user not found: %s: %w", username, ErrNotFound)
	}
	return nil
}

// ListUsers returns all users ordered by username
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, is_admin, created_at, last_login
		FROM users ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// UpdateUserLastLogin updates the last login timestamp
func (s *Store) UpdateUserLastLogin(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_login = ? WHERE id = ?
	`, formatTimestamp(time.Now()), userID)
	return err
}

// UpdateUserPassword replaces a user's password hash
func (s *Store) UpdateUserPassword(ctx context.Context, userID int64, newPasswordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = ? WHERE id = ?
	`, newPasswordHash, userID)
	return err
}

// UpdateUserAdmin updates the admin status of a user
func (s *Store) UpdateUserAdmin(ctx context.Context, userID int64, isAdmin bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_admin = ? WHERE id = ?
	`, isAdmin, userID)
	return err
}

// CountAdmins returns how many admin accounts exist
func (s *Store) CountAdmins(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE is_admin = TRUE`).Scan(&n)
	return n, err
}
