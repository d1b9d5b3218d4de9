package core

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/presencekit/relay-server/internal/proto"
	"github.com/presencekit/relay-server/internal/store"
)

// Presence derives online/offline notifications from registration and
// disconnection and backfills state to newly registered connections.
type Presence struct {
	registry *Registry
	avatars  store.AvatarStore
	log      *zerolog.Logger
}

// NewPresence builds a presence tracker. The avatar store may be nil, in
// which case no avatar backfill is sent.
func NewPresence(registry *Registry, avatars store.AvatarStore, logger *zerolog.Logger) *Presence {
	return &Presence{registry: registry, avatars: avatars, log: logger}
}

// ClientRegistered runs the registration sequence: bind the identity,
// backfill the pre-registration online set (and any stored avatar seeds)
// to the new connection, then announce the identity to everyone else.
func (p *Presence) ClientRegistered(ctx context.Context, c *Conn, identity string) {
	others := p.registry.Register(c, identity)

	if len(others) > 0 {
		if frame, err := proto.Encode(proto.OnlineUsers{Users: others}); err == nil {
			c.TrySend(frame)
		} else {
			p.log.Error().Err(err).Msg("encode online_users")
		}
		p.backfillAvatars(ctx, c, others)
	}

	frame, err := proto.Encode(proto.UserOnline{User: identity})
	if err != nil {
		p.log.Error().Err(err).Msg("encode user_online")
		return
	}
	p.registry.Broadcast(frame, c)

	p.log.Info().Str("conn_id", c.ID).Str("user", identity).Msg("identity registered")
}

// ClientGone removes the connection and, if it still owned an identity,
// broadcasts user_offline to the remaining connections. A connection
// displaced by a later registration under the same identity frees no
// identity and produces no notice.
func (p *Presence) ClientGone(c *Conn) {
	identity, freed := p.registry.Remove(c)
	if !freed {
		p.log.Debug().Str("conn_id", c.ID).Msg("connection removed, no identity freed")
		return
	}

	frame, err := proto.Encode(proto.UserOffline{User: identity})
	if err != nil {
		p.log.Error().Err(err).Msg("encode user_offline")
		return
	}
	p.registry.Broadcast(frame, nil)

	p.log.Info().Str("conn_id", c.ID).Str("user", identity).Msg("identity offline")
}

func (p *Presence) backfillAvatars(ctx context.Context, c *Conn, identities []string) {
	if p.avatars == nil {
		return
	}
	for _, identity := range identities {
		seed, err := p.avatars.GetAvatar(ctx, identity)
		if err != nil {
			p.log.Warn().Err(err).Str("user", identity).Msg("avatar lookup failed")
			continue
		}
		if seed == "" {
			continue
		}
		if frame, err := proto.Encode(proto.AvatarChange{User: identity, AvatarSeed: seed}); err == nil {
			c.TrySend(frame)
		}
	}
}
