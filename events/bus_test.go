package events

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runServer(t *testing.T) *server.Server {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(4 * time.Second) {
		t.Fatal("nats server failed to start")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func newBus(t *testing.T, ns *server.Server) *Bus {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus, err := Connect(ns.ClientURL(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

type recordingPurger struct {
	mu    sync.Mutex
	codes []string
}

func (p *recordingPurger) Purge(_ context.Context, code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes = append(p.codes, code)
	return nil
}

func (p *recordingPurger) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.codes...)
}

func TestBroadcastReachesEveryNode(t *testing.T) {
	ns := runServer(t)

	publisher := newBus(t, ns)
	nodeA := newBus(t, ns)
	nodeB := newBus(t, ns)

	purgedA := &recordingPurger{}
	purgedB := &recordingPurger{}

	subA, err := nodeA.RelayToPurger(purgedA, time.Second)
	require.NoError(t, err)
	subB, err := nodeB.RelayToPurger(purgedB, time.Second)
	require.NoError(t, err)
	require.NoError(t, nodeA.conn.Flush())
	require.NoError(t, nodeB.conn.Flush())
	defer subA.Unsubscribe()
	defer subB.Unsubscribe()

	purger := BroadcastPurger{Bus: publisher}
	require.NoError(t, purger.Purge(context.Background(), "abc123"))

	require.Eventually(t, func() bool {
		return len(purgedA.seen()) == 1 && len(purgedB.seen()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"abc123"}, purgedA.seen())
	assert.Equal(t, []string{"abc123"}, purgedB.seen())
}

func TestMalformedInvalidationIsDropped(t *testing.T) {
	ns := runServer(t)
	bus := newBus(t, ns)

	var mu sync.Mutex
	var got []Invalidation
	_, err := bus.SubscribeInvalidations(func(inv Invalidation) {
		mu.Lock()
		got = append(got, inv)
		mu.Unlock()
	})
	require.NoError(t, err)
	require.NoError(t, bus.conn.Flush())

	raw, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer raw.Close()

	require.NoError(t, raw.Publish(SubjectInvalidate, []byte("not json")))
	require.NoError(t, raw.Publish(SubjectInvalidate, []byte(`{"short_code":""}`)))
	require.NoError(t, bus.PublishInvalidation(context.Background(), "xyz789"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "xyz789", got[0].ShortCode)
}
