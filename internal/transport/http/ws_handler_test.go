package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/presencekit/relay-server/internal/config"
	"github.com/presencekit/relay-server/internal/core"
	"github.com/presencekit/relay-server/internal/proto"
)

func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := zerolog.Nop()
	registry := core.NewRegistry()
	presence := core.NewPresence(registry, nil, &logger)
	router := core.NewRouter(registry, presence, nil, &logger)

	server := NewServer(registry, presence, router, nil, config.Config{
		Addr:              ":0",
		ReadHeaderTimeout: time.Second,
		ShutdownTimeout:   time.Second,
	}, &logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return ts
}

func dialWS(t *testing.T, ctx context.Context, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func sendEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, ev proto.Event) {
	t.Helper()

	frame, err := proto.Encode(ev)
	if err != nil {
		t.Fatalf("encode %s: %v", ev.Kind(), err)
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write %s: %v", ev.Kind(), err)
	}
}

// readEvent waits for the next frame of the given kind, skipping others.
func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, kind string) proto.Event {
	t.Helper()

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read waiting for %s: %v", kind, err)
		}
		ev, err := proto.Decode(raw)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if ev.Kind() == kind {
			return ev
		}
	}
}

// waitRegistered polls the presence API until the identity is bound, so
// tests can order registrations across independent connections.
func waitRegistered(t *testing.T, ts *httptest.Server, user string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := ts.Client().Get(ts.URL + "/api/presence")
		if err != nil {
			t.Fatalf("presence request failed: %v", err)
		}
		var body PresenceResponse
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode presence response: %v", err)
		}
		for _, u := range body.Users {
			if u == user {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("identity %q never registered", user)
}

func TestHealthEndpoint(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestRegisterPresenceAndMessageFlow(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dialWS(t, ctx, ts)
	sendEvent(t, ctx, connA, proto.Register{User: "alice"})
	waitRegistered(t, ts, "alice")

	connB := dialWS(t, ctx, ts)
	sendEvent(t, ctx, connB, proto.Register{User: "bob"})

	// Bob gets the pre-registration snapshot, Alice gets the online notice.
	backfill := readEvent(t, ctx, connB, proto.KindOnlineUsers).(proto.OnlineUsers)
	if len(backfill.Users) != 1 || backfill.Users[0] != "alice" {
		t.Fatalf("backfill = %v, want [alice]", backfill.Users)
	}
	online := readEvent(t, ctx, connA, proto.KindUserOnline).(proto.UserOnline)
	if online.User != "bob" {
		t.Fatalf("user_online = %q, want bob", online.User)
	}

	// A message reaches everyone, the sender included.
	msg := proto.Message{ID: "m1", User: "alice", Text: "hi there", Timestamp: "10:42 AM"}
	sendEvent(t, ctx, connA, msg)

	gotB := readEvent(t, ctx, connB, proto.KindMessage).(proto.Message)
	if gotB != msg {
		t.Fatalf("bob received %+v, want %+v", gotB, msg)
	}
	gotA := readEvent(t, ctx, connA, proto.KindMessage).(proto.Message)
	if gotA != msg {
		t.Fatalf("alice echo %+v, want %+v", gotA, msg)
	}
}

func TestDisconnectBroadcastsOffline(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dialWS(t, ctx, ts)
	sendEvent(t, ctx, connA, proto.Register{User: "alice"})
	waitRegistered(t, ts, "alice")

	connB := dialWS(t, ctx, ts)
	sendEvent(t, ctx, connB, proto.Register{User: "bob"})
	readEvent(t, ctx, connB, proto.KindOnlineUsers)

	connB.Close(websocket.StatusNormalClosure, "leaving")

	offline := readEvent(t, ctx, connA, proto.KindUserOffline).(proto.UserOffline)
	if offline.User != "bob" {
		t.Fatalf("user_offline = %q, want bob", offline.User)
	}
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dialWS(t, ctx, ts)
	sendEvent(t, ctx, connA, proto.Register{User: "alice"})
	waitRegistered(t, ts, "alice")

	connB := dialWS(t, ctx, ts)
	sendEvent(t, ctx, connB, proto.Register{User: "bob"})
	readEvent(t, ctx, connB, proto.KindOnlineUsers)

	// Garbage and unknown discriminants are dropped, not fatal.
	if err := connA.Write(ctx, websocket.MessageText, []byte("{{not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := connA.Write(ctx, websocket.MessageText, []byte(`{"event":"reaction"}`)); err != nil {
		t.Fatalf("write unknown: %v", err)
	}

	sendEvent(t, ctx, connA, proto.Typing{User: "alice"})
	typing := readEvent(t, ctx, connB, proto.KindTyping).(proto.Typing)
	if typing.User != "alice" {
		t.Fatalf("typing from %q, want alice", typing.User)
	}
}

func TestPresenceAPI(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts)
	sendEvent(t, ctx, conn, proto.Register{User: "alice"})

	// Registration is applied by the server's read loop; poll the API
	// until it shows up.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := ts.Client().Get(ts.URL + "/api/presence")
		if err != nil {
			t.Fatalf("presence request failed: %v", err)
		}
		var body PresenceResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode presence response: %v", err)
		}
		resp.Body.Close()

		if len(body.Users) == 1 && body.Users[0] == "alice" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("presence = %v, want [alice]", body.Users)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestPingNeverEchoed(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts)
	sendEvent(t, ctx, conn, proto.Register{User: "alice"})
	sendEvent(t, ctx, conn, proto.Ping{})

	// A ping produces no reply; the next frame the client sees must be
	// the echo of its own message.
	msg := proto.Message{ID: "m1", User: "alice", Text: "after ping", Timestamp: "now"}
	sendEvent(t, ctx, conn, msg)

	_, raw, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read after ping: %v", err)
	}
	ev, err := proto.Decode(raw)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if ev.Kind() != proto.KindMessage {
		t.Fatalf("first frame after ping is %s, want message", ev.Kind())
	}
	if got := ev.(proto.Message); got != msg {
		t.Fatalf("echo = %+v, want %+v", got, msg)
	}
}
