package client

import (
	"sort"
	"sync"
	"time"

	"github.com/presencekit/relay-server/internal/proto"
)

// DefaultTypingTTL is how long a typing indicator stays active without a
// fresh typing event.
const DefaultTypingTTL = 3 * time.Second

// Message is the client-side view of a chat message. The list is
// append-only; only the Read flag ever mutates.
type Message struct {
	ID        string
	User      string
	Text      string
	Timestamp string
	Read      bool
}

type typingToken struct {
	timer *time.Timer
}

// Reducer folds the inbound event stream into client-local state:
// message list, typing expiries, presence map, avatar map and the
// read-tracking set. All inputs, the typing expiry timer included, are
// serialized through one mutex.
type Reducer struct {
	self      string
	typingTTL time.Duration
	emitRead  func(ids []string)

	mu       sync.Mutex
	messages []Message
	typing   map[string]*typingToken
	online   map[string]bool
	avatars  map[string]string
	tracked  map[string]struct{}
}

// ReducerOption customizes a Reducer.
type ReducerOption func(*Reducer)

// WithTypingTTL overrides the typing indicator lifetime.
func WithTypingTTL(ttl time.Duration) ReducerOption {
	return func(r *Reducer) { r.typingTTL = ttl }
}

// WithReadEmitter installs the outbound hook called with ids of
// remote-authored messages that have not been acknowledged yet. Invoked
// after the message list mutation, outside the reducer lock.
func WithReadEmitter(emit func(ids []string)) ReducerOption {
	return func(r *Reducer) { r.emitRead = emit }
}

// NewReducer builds a reducer for the local identity. The avatar map is
// seeded with each participant's own identity as the default seed.
func NewReducer(self, peer string, opts ...ReducerOption) *Reducer {
	r := &Reducer{
		self:      self,
		typingTTL: DefaultTypingTTL,
		typing:    make(map[string]*typingToken),
		online:    make(map[string]bool),
		avatars:   map[string]string{self: self, peer: peer},
		tracked:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply folds one inbound event into the state.
func (r *Reducer) Apply(ev proto.Event) {
	var unread []string

	r.mu.Lock()
	switch ev := ev.(type) {
	case proto.Message:
		// No dedup by id: a replayed frame appears twice, as on the wire.
		r.messages = append(r.messages, Message{
			ID:        ev.ID,
			User:      ev.User,
			Text:      ev.Text,
			Timestamp: ev.Timestamp,
			Read:      ev.Read,
		})
		unread = r.collectUnreadLocked()

	case proto.Typing:
		if ev.User != r.self {
			r.armTypingLocked(ev.User)
		}

	case proto.Read:
		ids := make(map[string]struct{}, len(ev.MessageIDs))
		for _, id := range ev.MessageIDs {
			ids[id] = struct{}{}
		}
		for i := range r.messages {
			if r.messages[i].User != r.self {
				continue
			}
			if _, ok := ids[r.messages[i].ID]; ok {
				r.messages[i].Read = true
			}
		}

	case proto.UserOnline:
		r.online[ev.User] = true

	case proto.UserOffline:
		delete(r.online, ev.User)

	case proto.OnlineUsers:
		for _, user := range ev.Users {
			r.online[user] = true
		}

	case proto.AvatarChange:
		r.avatars[ev.User] = ev.AvatarSeed
	}
	r.mu.Unlock()

	// Level-triggered read receipt: react to the state change, not to a
	// dedicated event.
	if len(unread) > 0 && r.emitRead != nil {
		r.emitRead(unread)
	}
}

// collectUnreadLocked marks untracked remote-authored messages as tracked
// and returns their ids.
func (r *Reducer) collectUnreadLocked() []string {
	var ids []string
	for _, msg := range r.messages {
		if msg.User == r.self || msg.ID == "" {
			continue
		}
		if _, ok := r.tracked[msg.ID]; ok {
			continue
		}
		r.tracked[msg.ID] = struct{}{}
		ids = append(ids, msg.ID)
	}
	return ids
}

// armTypingLocked (re)starts the expiry for a typing user. A fresh event
// cancels the prior token so a stale expiry cannot fire after a renewal.
func (r *Reducer) armTypingLocked(user string) {
	if prev, ok := r.typing[user]; ok {
		prev.timer.Stop()
	}
	tok := &typingToken{}
	tok.timer = time.AfterFunc(r.typingTTL, func() { r.expireTyping(user, tok) })
	r.typing[user] = tok
}

func (r *Reducer) expireTyping(user string, tok *typingToken) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A renewed entry carries a newer token; leave it alone.
	if r.typing[user] == tok {
		delete(r.typing, user)
	}
}

// Messages returns a copy of the message list in arrival order.
func (r *Reducer) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// TypingUsers returns the identities currently typing, sorted.
func (r *Reducer) TypingUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]string, 0, len(r.typing))
	for user := range r.typing {
		users = append(users, user)
	}
	sort.Strings(users)
	return users
}

// OnlineUsers returns the identities currently online, sorted.
func (r *Reducer) OnlineUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]string, 0, len(r.online))
	for user := range r.online {
		users = append(users, user)
	}
	sort.Strings(users)
	return users
}

// Avatars returns a copy of the identity -> avatar-seed map.
func (r *Reducer) Avatars() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.avatars))
	for user, seed := range r.avatars {
		out[user] = seed
	}
	return out
}
