package api

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/gzhttp"

	"github.com/ernie/konsole/internal/auth"
	"github.com/ernie/konsole/internal/domain"
	"github.com/ernie/konsole/internal/manager"
	"github.com/ernie/konsole/internal/metrics"
	"github.com/ernie/konsole/internal/storage"
)

// Options carries the optional router settings
type Options struct {
	Metrics *metrics.Recorder
	// WaitLimit caps ?wait= on action endpoints
	WaitLimit time.Duration
	Logger    *log.Logger
}

// Router holds the HTTP routes and dependencies
type Router struct {
	mux       *http.ServeMux
	handler   http.Handler
	store     *storage.Store
	manager   *manager.Manager
	streams   atomic.Int64
	auth      *auth.Service
	metrics   *metrics.Recorder
	waitLimit time.Duration
	logger    *log.Logger
}

// NewRouter creates a new HTTP router
func NewRouter(store *storage.Store, mgr *manager.Manager, authService *auth.Service, opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.WaitLimit <= 0 {
		opts.WaitLimit = 5 * time.Minute
	}
	logger := opts.Logger.WithPrefix("api")

	r := &Router{
		mux:       http.NewServeMux(),
		store:     store,
		manager:   mgr,
		auth:      authService,
		metrics:   opts.Metrics,
		waitLimit: opts.WaitLimit,
		logger:    logger,
	}

	// Tracker routes, by name only
	r.mux.HandleFunc("GET /api/status", r.handleGetStatus)
	r.mux.HandleFunc("GET /api/status/{name}", r.handleGetTracker)
	r.mux.HandleFunc("GET /api/history", r.handleGetHistory)
	r.mux.HandleFunc("GET /api/actions", r.requireAdmin(r.handleGetActions))

	// Server routes
	r.mux.HandleFunc("POST /api/server/start", r.requireAuth(r.handleServerAction(domain.ActionStart)))
	r.mux.HandleFunc("POST /api/server/stop", r.requireAdmin(r.handleServerAction(domain.ActionStop)))
	r.mux.HandleFunc("POST /api/server/restart", r.requireAdmin(r.handleServerAction(domain.ActionRestart)))
	r.mux.HandleFunc("POST /api/maintenance", r.requireAdmin(r.handleSetMaintenance))

	// Backup routes
	r.mux.HandleFunc("GET /api/backups", r.requireAuth(r.handleListBackups))
	r.mux.HandleFunc("POST /api/backups", r.requireAdmin(r.handleCreateBackup))
	r.mux.HandleFunc("POST /api/backups/prune", r.requireAdmin(r.handlePruneBackups))
	r.mux.HandleFunc("DELETE /api/backups/{name}", r.requireAdmin(r.handleDeleteBackup))

	// Auth routes. Accounts are managed locally with `konsole user`.
	r.mux.HandleFunc("POST /api/auth/login", r.handleLogin)
	r.mux.HandleFunc("GET /api/auth/check", r.handleAuthCheck)

	// WebSocket change stream
	r.mux.HandleFunc("GET /ws", r.handleWebSocket)

	// Health check and metrics
	r.mux.HandleFunc("GET /health", r.handleHealth)
	r.mux.Handle("GET /metrics", r.metrics.Handler())

	r.handler = gzhttp.GzipHandler(http.HandlerFunc(r.serve))
	return r
}

// ServeHTTP implements http.Handler. Everything but the WebSocket upgrade
// is gzip-compressed when the client accepts it.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path == "/ws" {
		r.serve(w, req)
		return
	}
	r.handler.ServeHTTP(w, req)
}

func (r *Router) serve(w http.ResponseWriter, req *http.Request) {
	// CORS headers for API
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}
