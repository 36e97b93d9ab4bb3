// Package relay forwards konsole events to NATS so the chat bot (and any
// other subscriber) can react to status changes without polling the API.
//
// Subjects are <prefix>.<tracker> for status changes and <prefix>.<event>
// for everything else. When a key-value bucket is configured, the latest
// value of every tracker is also kept there for subscribers that start late.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/ernie/konsole/internal/domain"
)

// Options configures a Publisher
type Options struct {
	Prefix   string
	KVBucket string
	Logger   *log.Logger
}

// Publisher publishes domain events to NATS
type Publisher struct {
	conn   *nats.Conn
	kv     jetstream.KeyValue
	prefix string
	logger *log.Logger
}

// Connect dials url and, if requested, opens the key-value bucket
func Connect(ctx context.Context, url string, opts Options) (*Publisher, error) {
	if opts.Prefix == "" {
		opts.Prefix = "konsole"
	}
	if opts.Logger == nil {
		opts.Logger = log.Default().WithPrefix("relay")
	}

	conn, err := nats.Connect(url,
		nats.Name("konsole"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				opts.Logger.Warn("disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			opts.Logger.Info("reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	p := &Publisher{conn: conn, prefix: opts.Prefix, logger: opts.Logger}

	if opts.KVBucket != "" {
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      opts.KVBucket,
			Description: "Latest konsole tracker values",
			History:     1,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to open KV bucket: %w", err)
		}
		p.kv = kv
	}

	opts.Logger.Info("connected", "url", conn.ConnectedUrl(), "prefix", opts.Prefix, "kv_bucket", opts.KVBucket)
	return p, nil
}

// Subject returns the subject ev is published on
func (p *Publisher) Subject(ev domain.Event) string {
	if ev.Type == domain.EventStatusChange && ev.Tracker != "" {
		return p.prefix + "." + ev.Tracker
	}
	return p.prefix + "." + ev.Type
}

// Publish sends ev as JSON. Status changes also update the key-value bucket.
func (p *Publisher) Publish(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(ev), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	if p.kv != nil && ev.Type == domain.EventStatusChange && ev.Tracker != "" {
		if _, err := p.kv.Put(ctx, ev.Tracker, data); err != nil {
			return fmt.Errorf("failed to store latest value: %w", err)
		}
	}
	return nil
}

// Run publishes events until the channel closes or ctx is done
func (p *Publisher) Run(ctx context.Context, events <-chan domain.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := p.Publish(pctx, ev); err != nil {
				p.logger.Error("publish failed", "subject", p.Subject(ev), "err", err)
			}
			cancel()
		}
	}
}

// Flush waits until the server has processed everything published so far
func (p *Publisher) Flush() error {
	return p.conn.Flush()
}

// Close drains the connection
func (p *Publisher) Close() error {
	return p.conn.Drain()
}
