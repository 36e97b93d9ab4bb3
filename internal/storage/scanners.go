package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ernie/konsole/internal/domain"
)

// Null scanner helpers - reduce repetitive nil-checking code

func scanNullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func scanNullTime(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// scanUser scans a user row from the database
func scanUser(s scanner) (*User, error) {
	var user User
	var lastLogin sql.NullTime
	err := s.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.IsAdmin,
		&user.CreatedAt, &lastLogin)
	if err != nil {
		return nil, err
	}
	user.LastLogin = scanNullTime(lastLogin)
	return &user, nil
}

// scanTransition scans a transitions row
func scanTransition(s scanner) (*domain.Transition, error) {
	var t domain.Transition
	var current string
	var previous sql.NullString
	if err := s.Scan(&t.ID, &t.Tracker, &current, &previous, &t.Forced, &t.At); err != nil {
		return nil, err
	}
	t.Current = json.RawMessage(current)
	if previous.Valid {
		t.Previous = json.RawMessage(previous.String)
		t.HasPrevious = true
	}
	return &t, nil
}

// scanAction scans an actions row
func scanAction(s scanner) (*domain.ActionRecord, error) {
	var r domain.ActionRecord
	var by, target, errMsg sql.NullString
	if err := s.Scan(&r.ID, &r.Action, &by, &target, &r.OK, &errMsg, &r.At); err != nil {
		return nil, err
	}
	r.By = scanNullStringValue(by)
	r.Target = scanNullStringValue(target)
	r.Error = scanNullStringValue(errMsg)
	return &r, nil
}
