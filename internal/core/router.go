package core

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/presencekit/relay-server/internal/proto"
	"github.com/presencekit/relay-server/internal/store"
)

// Router classifies each inbound frame and moves it to its recipients.
// Payloads are relayed verbatim; the router never re-validates or
// rewrites message content.
type Router struct {
	registry *Registry
	presence *Presence
	avatars  store.AvatarStore
	log      *zerolog.Logger
}

// NewRouter builds an event router over the shared registry.
func NewRouter(registry *Registry, presence *Presence, avatars store.AvatarStore, logger *zerolog.Logger) *Router {
	return &Router{
		registry: registry,
		presence: presence,
		avatars:  avatars,
		log:      logger,
	}
}

// Dispatch handles one inbound frame from conn. A decode failure drops
// the frame and leaves the connection open; no dispatch outcome is ever
// surfaced back to the sender.
func (r *Router) Dispatch(ctx context.Context, conn *Conn, raw []byte) {
	ev, err := proto.Decode(raw)
	if err != nil {
		r.log.Warn().Err(err).Str("conn_id", conn.ID).Msg("dropping undecodable frame")
		return
	}

	switch ev := ev.(type) {
	case proto.Register:
		r.presence.ClientRegistered(ctx, conn, ev.User)

	case proto.Ping:
		// Keepalive only. Never forwarded, never acknowledged.

	case proto.Typing:
		r.registry.Broadcast(raw, conn)

	case proto.Message:
		// Echo to the sender too: its client renders the bubble from
		// the same event every peer sees.
		r.registry.Broadcast(raw, nil)

	case proto.Read:
		// Two-party addressing: the recipient is the one registered
		// identity that is not the reader. No recipient, no delivery.
		other, ok := r.registry.OtherIdentity(ev.User)
		if !ok {
			r.log.Debug().Str("user", ev.User).Msg("read receipt dropped, no counterpart registered")
			return
		}
		r.registry.SendTo(other, raw)

	case proto.AvatarChange:
		if r.avatars != nil {
			if err := r.avatars.UpsertAvatar(ctx, ev.User, ev.AvatarSeed); err != nil {
				r.log.Warn().Err(err).Str("user", ev.User).Msg("persist avatar seed")
			}
		}
		r.registry.Broadcast(raw, conn)

	case proto.Unknown:
		r.log.Debug().Str("tag", ev.Tag).Str("conn_id", conn.ID).Msg("ignoring unknown event")

	default:
		// Server-originated kinds arriving from a client are dropped.
		r.log.Debug().Str("kind", ev.Kind()).Str("conn_id", conn.ID).Msg("ignoring inbound server event")
	}
}
