package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/abdo90-dev/ecole-v2/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// IdentityProvider implements domain.IdentityProvider and domain.TokenIssuer. Credentials are bcrypt
// hashes; the open session is a signed JWT kept in a single-row table so it
// survives restarts and can be restored.
type IdentityProvider struct {
	db         *sql.DB
	jwtSecret  []byte
	bcryptCost int
	sessionTTL time.Duration
	now        func() time.Time

	mu        sync.Mutex
	listeners []*sessionListener
}

type sessionListener struct {
	fn domain.SessionListener
}

// NewIdentityProvider creates an IdentityProvider on db.
func NewIdentityProvider(db *DB, jwtSecret string, bcryptCost int, sessionTTL time.Duration) *IdentityProvider {
	return &IdentityProvider{
		db:         db.SqlDB,
		jwtSecret:  []byte(jwtSecret),
		bcryptCost: bcryptCost,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// Register creates a credential. It does not open a session.
func (p *IdentityProvider) Register(ctx context.Context, email, password string) (*domain.Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", domain.ErrInvalidInput)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", domain.ErrInvalidInput, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	uid := uuid.NewString()
	_, err = p.db.ExecContext(ctx,
		"INSERT INTO credentials (uid, email, password_hash, created_at) VALUES (?, ?, ?, ?)",
		uid, email, string(hash), p.now().UTC(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, domain.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("insert credential: %w", err)
	}

	return &domain.Identity{UID: uid, Email: email}, nil
}

// Unregister deletes a credential and any session it holds. Listeners are
// notified when that session was the current one. Unknown uids are ignored.
func (p *IdentityProvider) Unregister(ctx context.Context, uid string) error {
	if _, err := p.db.ExecContext(ctx, "DELETE FROM credentials WHERE uid = ?", uid); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}

	res, err := p.db.ExecContext(ctx, "DELETE FROM current_session WHERE uid = ?", uid)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		p.notify(ctx, nil)
	}
	return nil
}

// Authenticate verifies the credentials, opens a session and notifies
// listeners.
func (p *IdentityProvider) Authenticate(ctx context.Context, email, password string) (*domain.Identity, error) {
	var uid, storedEmail, hash string
	err := p.db.QueryRowContext(ctx,
		"SELECT uid, email, password_hash FROM credentials WHERE email = ?", strings.TrimSpace(email),
	).Scan(&uid, &storedEmail, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("query credential: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, domain.ErrUnauthorized
	}

	identity := &domain.Identity{UID: uid, Email: storedEmail}
	token, err := p.IssueToken(identity)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	_, err = p.db.ExecContext(ctx,
		`INSERT INTO current_session (slot, uid, token, created_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT (slot) DO UPDATE SET uid = excluded.uid, token = excluded.token, created_at = excluded.created_at`,
		uid, token, p.now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	p.notify(ctx, identity)
	return identity, nil
}

// InvalidateSession closes the current session and notifies listeners.
func (p *IdentityProvider) InvalidateSession(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, "DELETE FROM current_session"); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	p.notify(ctx, nil)
	return nil
}

// Restore checks the persisted session and notifies listeners with its
// identity, or with nil when there is no valid session. An expired or
// tampered token is discarded.
func (p *IdentityProvider) Restore(ctx context.Context) error {
	var token string
	err := p.db.QueryRowContext(ctx, "SELECT token FROM current_session WHERE slot = 1").Scan(&token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			p.notify(ctx, nil)
			return nil
		}
		return fmt.Errorf("query session: %w", err)
	}

	identity, err := p.ValidateToken(token)
	if err == nil {
		// The credential may have been removed since the token was issued.
		err = p.db.QueryRowContext(ctx,
			"SELECT email FROM credentials WHERE uid = ?", identity.UID,
		).Scan(&identity.Email)
	}
	if err != nil {
		slog.Info("discarding stale session", "error", err)
		if _, delErr := p.db.ExecContext(ctx, "DELETE FROM current_session"); delErr != nil {
			return fmt.Errorf("delete stale session: %w", delErr)
		}
		p.notify(ctx, nil)
		return nil
	}

	p.notify(ctx, identity)
	return nil
}

// OnSessionChange registers fn. Listeners run synchronously in registration
// order on the goroutine that changed the session.
func (p *IdentityProvider) OnSessionChange(fn domain.SessionListener) (remove func()) {
	l := &sessionListener{fn: fn}

	p.mu.Lock()
	p.listeners = append(p.listeners, l)
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, existing := range p.listeners {
			if existing == l {
				p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
				return
			}
		}
	}
}

// ValidateToken parses and validates a session token and returns the
// identity in its claims.
func (p *IdentityProvider) ValidateToken(tokenString string) (*domain.Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.jwtSecret, nil
	}, jwt.WithTimeFunc(p.now))
	if err != nil {
		return nil, domain.ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrUnauthorized
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, domain.ErrUnauthorized
	}
	email, _ := claims["email"].(string)

	return &domain.Identity{UID: sub, Email: email}, nil
}

// IssueToken signs a session token for identity that expires after the
// configured session TTL.
func (p *IdentityProvider) IssueToken(identity *domain.Identity) (string, error) {
	now := p.now()
	claims := jwt.MapClaims{
		"sub":   identity.UID,
		"email": identity.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(p.sessionTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.jwtSecret)
}

func (p *IdentityProvider) notify(ctx context.Context, identity *domain.Identity) {
	p.mu.Lock()
	listeners := make([]*sessionListener, len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	for _, l := range listeners {
		var id *domain.Identity
		if identity != nil {
			c := *identity
			id = &c
		}
		l.fn(ctx, id)
	}
}

// isUniqueConstraintError reports whether err is a SQLite unique constraint
// violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "unique constraint")
}
