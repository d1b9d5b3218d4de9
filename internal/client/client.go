package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/presencekit/relay-server/internal/proto"
)

// ErrNotConnected is returned by intents issued while the channel is down.
var ErrNotConnected = errors.New("not connected")

const sendTimeout = 5 * time.Second

// Client is the engine side of a chat participant: it owns the WebSocket,
// announces the identity, feeds inbound events through the reducer and
// translates UI intents into wire events. Rendering lives elsewhere and
// only consumes the snapshots and the event callback.
type Client struct {
	url  string
	self string
	peer string
	log  *zerolog.Logger

	pingInterval time.Duration
	typingTTL    time.Duration
	onEvent      func(proto.Event)

	reducer *Reducer
	monitor *Monitor

	mu   sync.Mutex
	conn *websocket.Conn
}

// Option customizes a Client.
type Option func(*Client)

// WithPingInterval overrides the keepalive interval.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) { c.pingInterval = d }
}

// WithClientTypingTTL overrides the typing indicator lifetime.
func WithClientTypingTTL(d time.Duration) Option {
	return func(c *Client) { c.typingTTL = d }
}

// WithOnEvent installs a callback invoked after each inbound event has
// been folded into the state. Called on the read loop goroutine.
func WithOnEvent(fn func(proto.Event)) Option {
	return func(c *Client) { c.onEvent = fn }
}

// New builds a client for a two-party conversation between self and peer.
func New(url, self, peer string, logger *zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		url:          url,
		self:         self,
		peer:         peer,
		log:          logger,
		pingInterval: DefaultPingInterval,
		typingTTL:    DefaultTypingTTL,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.reducer = NewReducer(self, peer,
		WithTypingTTL(c.typingTTL),
		WithReadEmitter(c.emitRead),
	)
	c.monitor = NewMonitor(c.pingInterval, c.sendPing, c.redial, logger)
	return c
}

// Connect dials the relay, registers the identity and starts the read
// loop and the liveness monitor. The monitor redials indefinitely after
// any later failure; Connect itself fails fast so the caller can report
// a bad endpoint.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}
	c.monitor.SetOpen()
	go c.monitor.Run(ctx)
	return nil
}

// Close shuts the channel down. It does not stop the monitor; cancel the
// Connect context for that.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "bye")
}

// SendMessage sends a chat message. The local bubble is rendered from the
// relay's echo, so the reducer is not updated here.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	return c.writeEvent(ctx, proto.Message{
		ID:        uuid.NewString(),
		User:      c.self,
		Text:      text,
		Timestamp: time.Now().Format("3:04 PM"),
	})
}

// NotifyTyping signals that the local user is composing.
func (c *Client) NotifyTyping(ctx context.Context) error {
	return c.writeEvent(ctx, proto.Typing{User: c.self})
}

// ChangeAvatar announces a new avatar seed. The broadcast excludes the
// sender, so the local avatar map is updated directly.
func (c *Client) ChangeAvatar(ctx context.Context, seed string) error {
	ev := proto.AvatarChange{User: c.self, AvatarSeed: seed}
	if err := c.writeEvent(ctx, ev); err != nil {
		return err
	}
	c.reducer.Apply(ev)
	return nil
}

// State reports the liveness monitor's channel state.
func (c *Client) State() ConnState { return c.monitor.State() }

// Messages returns the message list snapshot.
func (c *Client) Messages() []Message { return c.reducer.Messages() }

// TypingUsers returns the identities currently typing.
func (c *Client) TypingUsers() []string { return c.reducer.TypingUsers() }

// OnlineUsers returns the identities currently online.
func (c *Client) OnlineUsers() []string { return c.reducer.OnlineUsers() }

// Avatars returns the identity -> avatar-seed snapshot.
func (c *Client) Avatars() map[string]string { return c.reducer.Avatars() }

func (c *Client) dial(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	// Identity is announced on every connect, replacements included.
	if err := c.writeEvent(ctx, proto.Register{User: c.self}); err != nil {
		conn.Close(websocket.StatusInternalError, "register failed")
		return fmt.Errorf("register: %w", err)
	}

	go c.readLoop(ctx, conn)
	return nil
}

// redial discards the stale handle and opens a replacement to the same
// endpoint. Driven only by the monitor's interval timer.
func (c *Client) redial(ctx context.Context) error {
	c.mu.Lock()
	stale := c.conn
	c.conn = nil
	c.mu.Unlock()

	if stale != nil {
		_ = stale.Close(websocket.StatusGoingAway, "stale connection")
	}
	return c.dial(ctx)
}

func (c *Client) sendPing(ctx context.Context) error {
	return c.writeEvent(ctx, proto.Ping{})
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn().Err(err).Msg("read loop ended, channel marked down")
				c.monitor.MarkDown()
			}
			return
		}

		ev, err := proto.Decode(raw)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}

		c.reducer.Apply(ev)
		if c.onEvent != nil {
			c.onEvent(ev)
		}
	}
}

// emitRead is the reducer's level-triggered hook: acknowledge remote
// messages as soon as they land in the local list.
func (c *Client) emitRead(ids []string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := c.writeEvent(ctx, proto.Read{MessageIDs: ids, User: c.self}); err != nil {
		c.log.Warn().Err(err).Msg("send read receipt")
	}
}

func (c *Client) writeEvent(ctx context.Context, ev proto.Event) error {
	frame, err := proto.Encode(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("write %s: %w", ev.Kind(), err)
	}
	return nil
}
