package domain

import "context"

// Database defines lifecycle operations for a profile store backend.
// Each implementation (SQLite, Postgres, Redis) owns its own schema
// strategy, so the backend can be swapped through configuration alone.
type Database interface {
	Migrate(ctx context.Context) error
	Close() error
}
