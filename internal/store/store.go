package store

import (
	"context"
	"time"
)

// Avatar is a persisted avatar seed for an identity. Seeds survive
// reconnects so a returning peer sees current avatars; chat messages are
// deliberately never persisted.
type Avatar struct {
	Identity  string
	Seed      string
	UpdatedAt time.Time
}

// AvatarStore persists the identity -> avatar-seed registry.
type AvatarStore interface {
	// UpsertAvatar records the latest seed for an identity.
	UpsertAvatar(ctx context.Context, identity, seed string) error
	// GetAvatar returns the stored seed, or "" when none is recorded.
	GetAvatar(ctx context.Context, identity string) (string, error)
	// ListAvatars returns every stored identity -> seed pair.
	ListAvatars(ctx context.Context) (map[string]string, error)
	// Close releases the underlying resources.
	Close() error
}
