package relay

import (
	"errors"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedOptions configures the in-process broker
type EmbeddedOptions struct {
	Host string
	Port int // -1 picks a free port
	// JetStream enables the key-value store used for last-value caching.
	JetStream bool
	StoreDir  string
}

// Embedded is an in-process NATS server for single-host deployments where
// the chat bot connects to konsole directly.
type Embedded struct {
	srv *server.Server
}

// StartEmbedded starts a broker and waits until it accepts connections
func StartEmbedded(opts EmbeddedOptions) (*Embedded, error) {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Port == 0 {
		opts.Port = server.RANDOM_PORT
	}
	srv, err := server.NewServer(&server.Options{
		ServerName: "konsole",
		Host:       opts.Host,
		Port:       opts.Port,
		NoLog:      true,
		NoSigs:     true,
		JetStream:  opts.JetStream,
		StoreDir:   opts.StoreDir,
	})
	if err != nil {
		return nil, err
	}
	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		return nil, errors.New("embedded nats server not ready")
	}
	return &Embedded{srv: srv}, nil
}

// ClientURL returns the URL clients should connect to
func (e *Embedded) ClientURL() string {
	return e.srv.ClientURL()
}

// Shutdown stops the broker and waits for it to exit
func (e *Embedded) Shutdown() {
	e.srv.Shutdown()
	e.srv.WaitForShutdown()
}
