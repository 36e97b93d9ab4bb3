package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/konsole/internal/auth"
	"github.com/ernie/konsole/internal/config"
	"github.com/ernie/konsole/internal/console"
	"github.com/ernie/konsole/internal/domain"
	"github.com/ernie/konsole/internal/manager"
	"github.com/ernie/konsole/internal/storage"
)

const testAddress = "example.aternos.me"

type testServer struct {
	router  *Router
	manager *manager.Manager
	store   *storage.Store
	auth    *auth.Service
	admin   string
	user    string
}

func newTestServer(t *testing.T, start bool) *testServer {
	t.Helper()
	logger := log.New(io.Discard)

	store, err := storage.New(filepath.Join(t.TempDir(), "konsole.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		Console: config.ConsoleConfig{
			Address:       testAddress,
			Username:      "bot",
			Password:      "secret",
			PollInterval:  10 * time.Millisecond,
			ActionTimeout: 5 * time.Second,
		},
		Backups: config.BackupsConfig{Limit: 10, DisableAutomatic: true},
	}
	sim := console.NewSimulator(console.SimulatorConfig{Username: "bot", Password: "secret", Servers: []string{testAddress}})
	mgr, err := manager.New(cfg, sim, manager.Options{Store: store, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(mgr.Stop)
	if start {
		require.NoError(t, mgr.Start(context.Background()))
		require.Eventually(t, func() bool { return mgr.ServerStatus() == domain.StatusOffline }, 3*time.Second, 5*time.Millisecond)
	}

	authService := auth.NewService("jwt-secret", time.Hour)
	ts := &testServer{
		router:  NewRouter(store, mgr, authService, Options{WaitLimit: 10 * time.Second, Logger: logger}),
		manager: mgr,
		store:   store,
		auth:    authService,
	}
	ts.admin = ts.token(t, "root", true)
	ts.user = ts.token(t, "alice", false)
	return ts
}

func (ts *testServer) token(t *testing.T, username string, admin bool) string {
	t.Helper()
	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)
	require.NoError(t, ts.store.CreateUser(context.Background(), username, hash, admin))
	user, err := ts.store.GetUserByUsername(context.Background(), username)
	require.NoError(t, err)
	token, err := ts.auth.GenerateToken(user.ID, username, admin)
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.do(t, "GET", "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ready", body["manager"])
}

func TestStatusByName(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.do(t, "GET", "/api/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snapshot := decode[map[string]any](t, rec)
	assert.Equal(t, "offline", snapshot[domain.TrackerServerStatus])
	assert.Equal(t, false, snapshot[domain.TrackerMaintenanceStatus])

	rec = ts.do(t, "GET", "/api/status/managerStatus", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode[TrackerResponse](t, rec).Value)

	rec = ts.do(t, "GET", "/api/status/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerActionsNeedAuth(t *testing.T) {
	ts := newTestServer(t, true)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, "POST", "/api/server/start", "", "").Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, "POST", "/api/server/stop", ts.user, "").Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, "POST", "/api/server/restart", ts.user, "").Code)
}

func TestStartAndWait(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.do(t, "POST", "/api/server/start?wait=5s", ts.user, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ActionResponse](t, rec)
	assert.True(t, resp.OK)
	assert.Equal(t, domain.StatusOnline, resp.Status)

	rec = ts.do(t, "POST", "/api/server/start", ts.user, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, "GET", "/api/history?tracker=serverStatus&limit=5", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]domain.Transition](t, rec)
	require.NotEmpty(t, history)
	assert.JSONEq(t, `"online"`, string(history[0].Current))

	rec = ts.do(t, "GET", "/api/actions?action=start", ts.admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	actions := decode[[]domain.ActionRecord](t, rec)
	require.Len(t, actions, 2)
	assert.False(t, actions[0].OK)
	assert.Equal(t, "alice", actions[1].By)
}

func TestStopWhenOfflineConflicts(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.do(t, "POST", "/api/server/stop", ts.admin, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "offline")
}

func TestInvalidWait(t *testing.T) {
	ts := newTestServer(t, true)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, "POST", "/api/server/start?wait=soon", ts.user, "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "POST", "/api/server/start?wait=1h", ts.user, "").Code)
}

func TestActionDeferredUntilReady(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, "POST", "/api/server/start", ts.user, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, decode[ActionResponse](t, rec).Deferred)

	require.NoError(t, ts.manager.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return ts.manager.ServerStatus() == domain.StatusOnline
	}, 3*time.Second, 5*time.Millisecond)
}

func TestMaintenance(t *testing.T) {
	ts := newTestServer(t, true)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, "POST", "/api/maintenance", ts.admin, `{}`).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, "POST", "/api/maintenance", ts.user, `{"enabled":true}`).Code)

	rec := ts.do(t, "POST", "/api/maintenance", ts.admin, `{"enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ts.manager.Maintenance())

	rec = ts.do(t, "POST", "/api/server/start", ts.user, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBackups(t *testing.T) {
	ts := newTestServer(t, true)

	assert.Equal(t, http.StatusForbidden, ts.do(t, "POST", "/api/backups", ts.user, `{"name":"b1"}`).Code)

	rec := ts.do(t, "POST", "/api/backups", ts.admin, `{"name":"b1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, "GET", "/api/backups", ts.user, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[domain.BackupList](t, rec)
	require.Len(t, list.Files, 1)
	assert.Equal(t, "b1", list.Files[0].Name)

	rec = ts.do(t, "POST", "/api/backups/prune", ts.admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[map[string][]string](t, rec)["deleted"])

	assert.Equal(t, http.StatusOK, ts.do(t, "DELETE", "/api/backups/b1", ts.admin, "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, "DELETE", "/api/backups/b1", ts.admin, "").Code)
}

func TestLoginAndCheck(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.do(t, "POST", "/api/auth/login", "", `{"username":"alice","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, "POST", "/api/auth/login", "", `{"username":"alice","password":"password123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	login := decode[LoginResponse](t, rec)
	assert.False(t, login.IsAdmin)
	assert.Equal(t, "alice", login.Username)

	rec = ts.do(t, "GET", "/api/auth/check", login.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	check := decode[map[string]any](t, rec)
	assert.Equal(t, true, check["authenticated"])
	assert.Equal(t, "alice", check["username"])
}

func TestUserRoutesAreNotServed(t *testing.T) {
	ts := newTestServer(t, true)

	// accounts are managed locally; the API only authenticates them
	assert.Equal(t, http.StatusNotFound, ts.do(t, "GET", "/api/users", ts.admin, "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, "POST", "/api/users", ts.admin, `{"username":"bob","password":"long enough"}`).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, "POST", "/api/auth/change-password", ts.user, `{}`).Code)
	_, err := ts.store.GetUserByUsername(context.Background(), "bob")
	assert.Error(t, err)
}

func TestWebSocketStreamsEvents(t *testing.T) {
	ts := newTestServer(t, true)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return ts.router.StreamCount() == 1 }, 3*time.Second, 5*time.Millisecond)

	require.Equal(t, http.StatusOK, ts.do(t, "POST", "/api/maintenance", ts.admin, `{"enabled":true}`).Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev struct {
			Type    string `json:"event"`
			Tracker string `json:"tracker"`
			Data    struct {
				Current any `json:"current"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(data, &ev))
		if ev.Type == domain.EventStatusChange && ev.Tracker == domain.TrackerMaintenanceStatus {
			assert.Equal(t, true, ev.Data.Current)
			break
		}
	}

	conn.Close()
	assert.Eventually(t, func() bool { return ts.router.StreamCount() == 0 }, 3*time.Second, 5*time.Millisecond)
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusConflict, errorStatus(&manager.StateError{Action: "stop"}))
	assert.Equal(t, http.StatusServiceUnavailable, errorStatus(manager.ErrNotReady))
	assert.Equal(t, http.StatusBadGateway, errorStatus(&console.Error{Op: "start", Err: console.ErrUnavailable}))
	assert.Equal(t, http.StatusNotFound, errorStatus(&console.Error{Op: "backup_delete", Err: console.ErrBackupNotFound}))
	assert.Equal(t, http.StatusInternalServerError, errorStatus(io.ErrUnexpectedEOF))
}
