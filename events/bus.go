// Package events fans link mutations out to every node over NATS.
//
// Each node sits behind its own edge cache whose purge endpoint only answers
// loopback callers, so a mutation handled on one node cannot purge the others
// directly. The mutating node publishes an invalidation and every subscriber
// purges its local edge.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"link-redirect-service/edge"

	"github.com/nats-io/nats.go"
)

// SubjectInvalidate carries one Invalidation per mutated short code.
const SubjectInvalidate = "shortlinks.invalidate"

type Invalidation struct {
	ShortCode string    `json:"short_code"`
	At        time.Time `json:"at"`
}

type Bus struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// Connect dials NATS with reconnects enabled.
func Connect(natsURL string, logger *slog.Logger) (*Bus, error) {
	conn, err := nats.Connect(natsURL,
		nats.Name("link-redirect-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewBus(conn, logger), nil
}

func NewBus(conn *nats.Conn, logger *slog.Logger) *Bus {
	return &Bus{conn: conn, logger: logger}
}

// PublishInvalidation announces that shortCode changed.
func (b *Bus) PublishInvalidation(ctx context.Context, shortCode string) error {
	data, err := json.Marshal(Invalidation{ShortCode: shortCode, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode invalidation: %w", err)
	}
	if err := b.conn.Publish(SubjectInvalidate, data); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}

	flushCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(ctx, time.Second)
		defer cancel()
	}
	if err := b.conn.FlushWithContext(flushCtx); err != nil {
		return fmt.Errorf("failed to flush invalidation: %w", err)
	}
	return nil
}

// SubscribeInvalidations calls handler for every invalidation received.
// Undecodable messages are logged and dropped.
func (b *Bus) SubscribeInvalidations(handler func(Invalidation)) (*nats.Subscription, error) {
	sub, err := b.conn.Subscribe(SubjectInvalidate, func(msg *nats.Msg) {
		var inv Invalidation
		if err := json.Unmarshal(msg.Data, &inv); err != nil || inv.ShortCode == "" {
			b.logger.Warn("dropping malformed invalidation", "data", string(msg.Data))
			return
		}
		handler(inv)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", SubjectInvalidate, err)
	}
	return sub, nil
}

// RelayToPurger purges the local edge for every invalidation on the bus.
func (b *Bus) RelayToPurger(purger edge.Purger, timeout time.Duration) (*nats.Subscription, error) {
	return b.SubscribeInvalidations(func(inv Invalidation) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := purger.Purge(ctx, inv.ShortCode); err != nil {
			b.logger.Warn("edge purge failed", "code", inv.ShortCode, "error", err)
		}
	})
}

// Close drains pending messages and closes the connection.
func (b *Bus) Close() error {
	return b.conn.Drain()
}

// BroadcastPurger is an edge.Purger that publishes instead of purging, so
// every node relaying the subject evicts its own edge.
type BroadcastPurger struct {
	Bus *Bus
}

func (p BroadcastPurger) Purge(ctx context.Context, shortCode string) error {
	return p.Bus.PublishInvalidation(ctx, shortCode)
}
