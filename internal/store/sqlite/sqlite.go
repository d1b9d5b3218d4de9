package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS avatars (
	identity   TEXT PRIMARY KEY,
	seed       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore implements store.AvatarStore on SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the avatar database at dbPath.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewWithSetup opens a store and runs an extra setup function first.
// Useful for tests that need to seed rows.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	s, err := New(dbPath)
	if err != nil {
		return nil, err
	}
	if setup != nil {
		if err := setup(s.db); err != nil {
			s.db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertAvatar records the latest seed for an identity.
func (s *SQLiteStore) UpsertAvatar(ctx context.Context, identity, seed string) error {
	query := `
		INSERT INTO avatars (identity, seed, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(identity) DO UPDATE SET
			seed = excluded.seed,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, identity, seed); err != nil {
		return fmt.Errorf("upsert avatar: %w", err)
	}
	return nil
}

// GetAvatar returns the stored seed for an identity, "" when absent.
func (s *SQLiteStore) GetAvatar(ctx context.Context, identity string) (string, error) {
	var seed string
	err := s.db.QueryRowContext(ctx,
		`SELECT seed FROM avatars WHERE identity = ?`, identity).Scan(&seed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get avatar: %w", err)
	}
	return seed, nil
}

// ListAvatars returns every stored identity -> seed pair.
func (s *SQLiteStore) ListAvatars(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT identity, seed FROM avatars`)
	if err != nil {
		return nil, fmt.Errorf("list avatars: %w", err)
	}
	defer rows.Close()

	avatars := make(map[string]string)
	for rows.Next() {
		var identity, seed string
		if err := rows.Scan(&identity, &seed); err != nil {
			return nil, fmt.Errorf("scan avatar: %w", err)
		}
		avatars[identity] = seed
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate avatars: %w", err)
	}
	return avatars, nil
}
