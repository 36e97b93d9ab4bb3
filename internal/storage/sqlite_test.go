package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/konsole/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "konsole.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	_, err := s.RecordTransition(ctx, domain.TrackerServerStatus, domain.StatusOffline, nil, false, false, at)
	require.NoError(t, err)
	_, err = s.RecordTransition(ctx, domain.TrackerServerStatus, domain.StatusOnline, domain.StatusOffline, true, false, at.Add(time.Minute))
	require.NoError(t, err)
	_, err = s.RecordTransition(ctx, domain.TrackerMaintenanceStatus, true, false, true, true, at.Add(2*time.Minute))
	require.NoError(t, err)

	all, err := s.GetTransitions(ctx, "", 10, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, domain.TrackerMaintenanceStatus, all[0].Tracker)
	assert.True(t, all[0].Forced)

	server, err := s.GetTransitions(ctx, domain.TrackerServerStatus, 10, nil)
	require.NoError(t, err)
	require.Len(t, server, 2)
	assert.JSONEq(t, `"online"`, string(server[0].Current))
	assert.JSONEq(t, `"offline"`, string(server[0].Previous))
	assert.True(t, server[0].HasPrevious)
	assert.False(t, server[1].HasPrevious)
	assert.True(t, server[1].At.Equal(at))

	older, err := s.GetTransitions(ctx, "", 10, &all[0].ID)
	require.NoError(t, err)
	assert.Len(t, older, 2)

	last, err := s.LastTransition(ctx, domain.TrackerServerStatus)
	require.NoError(t, err)
	assert.Equal(t, server[0].ID, last.ID)

	_, err = s.LastTransition(ctx, domain.TrackerManagerStatus)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPruneTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	_, err := s.RecordTransition(ctx, domain.TrackerServerStatus, "offline", nil, false, false, old)
	require.NoError(t, err)
	_, err = s.RecordTransition(ctx, domain.TrackerServerStatus, "online", "offline", true, false, time.Now())
	require.NoError(t, err)

	n, err := s.PruneTransitions(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	left, err := s.GetTransitions(ctx, "", 0, nil)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestActions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordAction(ctx, domain.ActionResult{Action: domain.ActionStart, By: "alex", OK: true}, time.Now()))
	require.NoError(t, s.RecordAction(ctx, domain.ActionResult{Action: domain.ActionBackupDelete, Target: "old", Error: "backup not found"}, time.Now()))

	all, err := s.GetActions(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.ActionBackupDelete, all[0].Action)
	assert.False(t, all[0].OK)
	assert.Equal(t, "old", all[0].Target)
	assert.Equal(t, "backup not found", all[0].Error)

	starts, err := s.GetActions(ctx, domain.ActionStart, 10)
	require.NoError(t, err)
	require.Len(t, starts, 1)
	assert.Equal(t, "alex", starts[0].By)
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "alex", "hash1", true))
	require.NoError(t, s.CreateUser(ctx, "sam", "hash2", false))
	assert.Error(t, s.CreateUser(ctx, "sam", "hash3", false))

	u, err := s.GetUserByUsername(ctx, "alex")
	require.NoError(t, err)
	assert.True(t, u.IsAdmin)
	assert.Nil(t, u.LastLogin)

	require.NoError(t, s.UpdateUserPassword(ctx, u.ID, "hash4"))
	require.NoError(t, s.UpdateUserLastLogin(ctx, u.ID))
	u, err = s.GetUserByUsername(ctx, "alex")
	require.NoError(t, err)
	assert.Equal(t, "hash4", u.PasswordHash)
	assert.NotNil(t, u.LastLogin)

	require.NoError(t, s.UpdateUserAdmin(ctx, u.ID, false))

	admins, err := s.CountAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, admins)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alex", users[0].Username)

	require.NoError(t, s.DeleteUser(ctx, "sam"))
	assert.ErrorIs(t, s.DeleteUser(ctx, "sam"), ErrNotFound)
	_, err = s.GetUserByUsername(ctx, "sam")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
