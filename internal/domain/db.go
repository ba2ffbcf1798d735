package domain

import "context"

// Database defines lifecycle operations for the underlying database.
// The backend owns its own migration files and strategy, so the document
// store and identity provider can be swapped together.
type Database interface {
	Migrate(ctx context.Context) error
	Close() error
}
