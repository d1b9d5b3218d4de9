package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire discriminants. Every frame is a flat JSON object whose "event"
// field selects the variant; all other fields sit alongside it.
const (
	KindRegister     = "register"
	KindPing         = "ping"
	KindTyping       = "typing"
	KindMessage      = "message"
	KindRead         = "read"
	KindAvatarChange = "avatar_change"
	KindUserOnline   = "user_online"
	KindUserOffline  = "user_offline"
	KindOnlineUsers  = "online_users"
)

var (
	ErrMalformedFrame      = errors.New("malformed frame")
	ErrMissingDiscriminant = errors.New("missing event discriminant")
)

// Event is the decoded wire envelope. The concrete type identifies the
// variant; a frame with an unrecognized discriminant decodes to Unknown.
type Event interface {
	Kind() string
}

// Register announces the identity a connection wants to be known by.
type Register struct {
	User string `json:"user"`
}

// Ping is a client keepalive. Never forwarded, never acknowledged.
type Ping struct{}

// Typing signals that a user is composing a message.
type Typing struct {
	User string `json:"user"`
}

// Message is a chat message. The id is sender-generated and the timestamp
// is a sender-local wall-clock render, not authoritative.
type Message struct {
	ID        string `json:"id"`
	User      string `json:"user"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	Read      bool   `json:"read,omitempty"`
}

// Read is a receipt naming the message ids a reader has seen.
type Read struct {
	MessageIDs []string `json:"messageIds"`
	User       string   `json:"user"`
}

// AvatarChange announces a new avatar seed for an identity.
type AvatarChange struct {
	User       string `json:"user"`
	AvatarSeed string `json:"avatarSeed"`
}

// UserOnline notifies peers that an identity registered.
type UserOnline struct {
	User string `json:"user"`
}

// UserOffline notifies peers that an identity's connection closed.
type UserOffline struct {
	User string `json:"user"`
}

// OnlineUsers backfills the current online set to a new connection.
type OnlineUsers struct {
	Users []string `json:"users"`
}

// Unknown carries a frame whose discriminant this build does not
// recognize. Routers drop it; it is not a decode error.
type Unknown struct {
	Tag string
	Raw json.RawMessage
}

func (Register) Kind() string     { return KindRegister }
func (Ping) Kind() string         { return KindPing }
func (Typing) Kind() string       { return KindTyping }
func (Message) Kind() string      { return KindMessage }
func (Read) Kind() string         { return KindRead }
func (AvatarChange) Kind() string { return KindAvatarChange }
func (UserOnline) Kind() string   { return KindUserOnline }
func (UserOffline) Kind() string  { return KindUserOffline }
func (OnlineUsers) Kind() string  { return KindOnlineUsers }
func (u Unknown) Kind() string    { return u.Tag }

// envelope is the superset of all variant fields plus the discriminant.
type envelope struct {
	Event      string   `json:"event"`
	ID         string   `json:"id,omitempty"`
	User       string   `json:"user,omitempty"`
	Text       string   `json:"text,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty"`
	Read       bool     `json:"read,omitempty"`
	MessageIDs []string `json:"messageIds,omitempty"`
	Users      []string `json:"users,omitempty"`
	AvatarSeed string   `json:"avatarSeed,omitempty"`
}

// Decode parses a wire frame into its event variant. Malformed JSON or a
// missing discriminant is an error; an unrecognized discriminant is not.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Event == "" {
		return nil, ErrMissingDiscriminant
	}

	switch env.Event {
	case KindRegister:
		return Register{User: env.User}, nil
	case KindPing:
		return Ping{}, nil
	case KindTyping:
		return Typing{User: env.User}, nil
	case KindMessage:
		return Message{
			ID:        env.ID,
			User:      env.User,
			Text:      env.Text,
			Timestamp: env.Timestamp,
			Read:      env.Read,
		}, nil
	case KindRead:
		return Read{MessageIDs: env.MessageIDs, User: env.User}, nil
	case KindAvatarChange:
		return AvatarChange{User: env.User, AvatarSeed: env.AvatarSeed}, nil
	case KindUserOnline:
		return UserOnline{User: env.User}, nil
	case KindUserOffline:
		return UserOffline{User: env.User}, nil
	case KindOnlineUsers:
		return OnlineUsers{Users: env.Users}, nil
	default:
		return Unknown{Tag: env.Event, Raw: append([]byte(nil), raw...)}, nil
	}
}

// Encode renders an event back into its wire frame.
func Encode(ev Event) ([]byte, error) {
	env := envelope{Event: ev.Kind()}

	switch ev := ev.(type) {
	case Register:
		env.User = ev.User
	case Ping:
	case Typing:
		env.User = ev.User
	case Message:
		env.ID = ev.ID
		env.User = ev.User
		env.Text = ev.Text
		env.Timestamp = ev.Timestamp
		env.Read = ev.Read
	case Read:
		env.MessageIDs = ev.MessageIDs
		env.User = ev.User
	case AvatarChange:
		env.User = ev.User
		env.AvatarSeed = ev.AvatarSeed
	case UserOnline:
		env.User = ev.User
	case UserOffline:
		env.User = ev.User
	case OnlineUsers:
		env.Users = ev.Users
	case Unknown:
		if len(ev.Raw) > 0 {
			return append([]byte(nil), ev.Raw...), nil
		}
	default:
		return nil, fmt.Errorf("encode: unsupported event type %T", ev)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	return data, nil
}
