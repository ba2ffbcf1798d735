package domain

import (
	"context"
	"encoding/json"
	"strings"
)

// Collection paths in the document store.
const (
	UsersPath       = "users"
	StudentsPath    = "students"
	SpecialtiesPath = "specialties"
)

// Path joins a collection and a document id into a document path.
func Path(collection, id string) string {
	return collection + "/" + id
}

// SplitPath splits a path into its collection and document id. The id is
// empty for a collection path.
func SplitPath(path string) (collection, id string) {
	collection, id, _ = strings.Cut(strings.Trim(path, "/"), "/")
	return collection, id
}

// Snapshot is the full content of a collection: document id to JSON body.
type Snapshot map[string]json.RawMessage

// Subscription is a live registration on a collection path.
type Subscription interface {
	Unsubscribe()
}

// DocumentStore is a key-path addressable real-time document store.
//
// Subscribe delivers an initial snapshot and then a full snapshot after each
// committed write to the collection. Snapshots for one subscription are
// delivered one at a time and never regress; there is no ordering between
// different collections, nor between a write returning and the matching
// snapshot arriving.
type DocumentStore interface {
	Subscribe(ctx context.Context, collection string, onChange func(Snapshot), onError func(error)) (Subscription, error)
	ReadOnce(ctx context.Context, path string) (json.RawMessage, error)
	WriteFull(ctx context.Context, path string, value any) error
	// WriteMerge merges fields into an existing document. It returns
	// ErrNotFound when the document does not exist.
	WriteMerge(ctx context.Context, path string, fields map[string]any) error
	Remove(ctx context.Context, path string) error
	GenerateID(collection string) string
}

// Identity is an authenticated principal as known to the identity provider.
type Identity struct {
	UID   string
	Email string
}

// SessionListener receives the identity after every session change, or nil
// when no session is open. ctx is the context of the triggering call.
type SessionListener func(ctx context.Context, identity *Identity)

// TokenIssuer signs and verifies the bearer tokens HTTP clients present on
// every request.
type TokenIssuer interface {
	IssueToken(identity *Identity) (string, error)
	ValidateToken(token string) (*Identity, error)
}

// IdentityProvider owns credentials and the current session.
type IdentityProvider interface {
	Authenticate(ctx context.Context, email, password string) (*Identity, error)
	Register(ctx context.Context, email, password string) (*Identity, error)
	Unregister(ctx context.Context, uid string) error
	InvalidateSession(ctx context.Context) error
	Restore(ctx context.Context) error
	OnSessionChange(fn SessionListener) (remove func())
}
