package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/presencekit/relay-server/internal/proto"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func mustFrame(t *testing.T, ev proto.Event) []byte {
	t.Helper()

	raw, err := proto.Encode(ev)
	if err != nil {
		t.Fatalf("encode %s: %v", ev.Kind(), err)
	}
	return raw
}

// recvEvent waits for the next frame of the given kind on a connection's
// outbound queue, skipping frames of other kinds.
func recvEvent(t *testing.T, c *Conn, kind string) proto.Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw := <-c.Outbound:
			ev, err := proto.Decode(raw)
			if err != nil {
				t.Fatalf("decode outbound frame: %v", err)
			}
			if ev.Kind() == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("expected %s event not received", kind)
		}
	}
}

// recvNone asserts that no frame of the given kind is queued.
func recvNone(t *testing.T, c *Conn, kind string) {
	t.Helper()

	for {
		select {
		case raw := <-c.Outbound:
			ev, err := proto.Decode(raw)
			if err != nil {
				t.Fatalf("decode outbound frame: %v", err)
			}
			if ev.Kind() == kind {
				t.Fatalf("unexpected %s event: %+v", kind, ev)
			}
		default:
			return
		}
	}
}

// memAvatars is an in-memory store.AvatarStore for router tests.
type memAvatars struct {
	mu    sync.Mutex
	seeds map[string]string
}

func newMemAvatars() *memAvatars {
	return &memAvatars{seeds: make(map[string]string)}
}

func (m *memAvatars) UpsertAvatar(_ context.Context, identity, seed string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeds[identity] = seed
	return nil
}

func (m *memAvatars) GetAvatar(_ context.Context, identity string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seeds[identity], nil
}

func (m *memAvatars) ListAvatars(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.seeds))
	for k, v := range m.seeds {
		out[k] = v
	}
	return out, nil
}

func (m *memAvatars) Close() error { return nil }
