package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/abdo90-dev/ecole-v2/internal/repository/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle and owns the document store built on it.
type DB struct {
	SqlDB *sql.DB
	docs  *DocumentStore
}

// New opens a SQLite database at the given path and configures it for use.
// It enables WAL mode and foreign keys.
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.ExecContext(context.Background(), "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// One connection serialises writers, which keeps snapshot order equal to
	// commit order.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{SqlDB: db, docs: newDocumentStore(db)}, nil
}

// Migrate applies the embedded schema migrations.
func (d *DB) Migrate(ctx context.Context) error {
	return migrations.Run(ctx, d.SqlDB)
}

// Close stops every live subscription and closes the database.
func (d *DB) Close() error {
	d.docs.close()
	return d.SqlDB.Close()
}

// Documents returns the real-time document store.
func (d *DB) Documents() *DocumentStore {
	return d.docs
}

// Identity returns an identity provider backed by this database.
func (d *DB) Identity(jwtSecret string, bcryptCost int, sessionTTL time.Duration) *IdentityProvider {
	return NewIdentityProvider(d, jwtSecret, bcryptCost, sessionTTL)
}
