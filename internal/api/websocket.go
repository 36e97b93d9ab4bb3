package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/ernie/konsole/internal/domain"
)

const (
	streamBuffer = 256
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the stream is read-only status data, so any origin may subscribe
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// eventStream forwards one manager subscription to one WebSocket connection.
// A client that falls behind loses events rather than holding up the manager.
type eventStream struct {
	conn        *websocket.Conn
	events      <-chan domain.Event
	unsubscribe func()
	closed      chan struct{}
	logger      *log.Logger
}

// handleWebSocket upgrades the request and streams every manager event to
// the client as a JSON text frame. The stream ends when the client goes away
// or the manager stops.
func (r *Router) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	events, unsubscribe := r.manager.Subscribe(streamBuffer)
	s := &eventStream{
		conn:        conn,
		events:      events,
		unsubscribe: unsubscribe,
		closed:      make(chan struct{}),
		logger:      r.logger.With("addr", clientIP(req)),
	}

	n := r.streams.Add(1)
	s.logger.Info("websocket client connected", "total", n)
	go func() {
		s.writeLoop()
		s.logger.Info("websocket client disconnected", "total", r.streams.Add(-1))
	}()
	go s.readLoop()
}

// readLoop only services control frames; it closes s.closed once the client
// has gone.
func (s *eventStream) readLoop() {
	defer close(s.closed)

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Warn("websocket error", "err", err)
			}
			return
		}
	}
}

func (s *eventStream) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.unsubscribe()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.closed:
			return
		case ev, ok := <-s.events:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "manager stopped"))
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("failed to marshal event", "event", ev.Type, "err", err)
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// StreamCount returns the number of connected WebSocket clients
func (r *Router) StreamCount() int64 {
	return r.streams.Load()
}
