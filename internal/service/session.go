package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/abdo90-dev/ecole-v2/internal/domain"
	"github.com/abdo90-dev/ecole-v2/internal/metrics"
)

// SessionState is what consumers gate on. A nil CurrentUser while IsLoading
// is true means unknown, not signed out.
type SessionState struct {
	CurrentUser *domain.User
	IsLoading   bool
}

// SessionManager owns the signed-in operator's lifecycle. The process serves
// one operator, so there is one manager and one current session.
type SessionManager struct {
	idp     domain.IdentityProvider
	store   domain.DocumentStore
	limiter *TokenBucket
	now     func() time.Time

	// transitionMu serialises SignIn, SignUp, SignOut and Start.
	transitionMu sync.Mutex

	mu        sync.Mutex
	state     SessionState
	capture   *resolution
	listeners []*sessionSubscriber
	removeIdP func()

	// notifyMu keeps broadcasts in publication order.
	notifyMu sync.Mutex
}

type sessionSubscriber struct {
	fn func(SessionState)
}

// resolution is the outcome of a session change requested by the manager
// itself, collected by the identity listener.
type resolution struct {
	user *domain.User
	err  error
}

// NewSessionManager creates a manager in the loading state. Call Start to
// restore the persisted session.
func NewSessionManager(idp domain.IdentityProvider, store domain.DocumentStore, limiter *TokenBucket) *SessionManager {
	return &SessionManager{
		idp:     idp,
		store:   store,
		limiter: limiter,
		now:     time.Now,
		state:   SessionState{IsLoading: true},
	}
}

// Start listens to the identity provider and restores the persisted session.
func (m *SessionManager) Start(ctx context.Context) error {
	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	m.mu.Lock()
	if m.removeIdP == nil {
		m.removeIdP = m.idp.OnSessionChange(m.onSessionChange)
	}
	m.mu.Unlock()

	res, err := m.captured(func() error { return m.idp.Restore(ctx) })
	if err == nil {
		err = res.err
	}
	if err != nil {
		m.publish(SessionState{})
		return &domain.AuthError{Op: "restore", Err: err}
	}
	m.publish(SessionState{CurrentUser: res.user})
	return nil
}

// Close stops listening to the identity provider.
func (m *SessionManager) Close() {
	m.mu.Lock()
	remove := m.removeIdP
	m.removeIdP = nil
	m.mu.Unlock()

	if remove != nil {
		remove()
	}
}

// State returns the current session state.
func (m *SessionManager) State() SessionState {
	m.mu.Lock()
	s := m.state
	m.mu.Unlock()

	if s.CurrentUser != nil {
		u := *s.CurrentUser
		s.CurrentUser = &u
	}
	return s
}

// Subscribe registers fn for every state transition. fn runs synchronously
// on the goroutine performing the transition.
func (m *SessionManager) Subscribe(fn func(SessionState)) (unsubscribe func()) {
	s := &sessionSubscriber{fn: fn}

	m.mu.Lock()
	m.listeners = append(m.listeners, s)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.listeners = slices.DeleteFunc(m.listeners, func(existing *sessionSubscriber) bool {
			return existing == s
		})
	}
}

// HasCapability reports whether the current user holds c.
func (m *SessionManager) HasCapability(c domain.Capability) bool {
	return domain.HasCapability(m.State().CurrentUser, c)
}

// SignIn authenticates and publishes the user's profile, creating a minimal
// student profile when none exists. Every failure is an *domain.AuthError.
func (m *SessionManager) SignIn(ctx context.Context, email, password string) (*domain.User, error) {
	if m.limiter != nil && !m.limiter.Allow(strings.ToLower(strings.TrimSpace(email))) {
		return nil, &domain.AuthError{Op: "sign in", Err: domain.ErrRateLimited}
	}

	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	prev := m.State().CurrentUser
	m.publish(SessionState{CurrentUser: prev, IsLoading: true})

	res, err := m.captured(func() error {
		_, err := m.idp.Authenticate(ctx, email, password)
		return err
	})
	if err != nil {
		m.publish(SessionState{CurrentUser: prev})
		return nil, &domain.AuthError{Op: "sign in", Err: err}
	}
	if res.err != nil {
		// The session opened but has no usable profile; close it again.
		m.discardSession(ctx)
		m.publish(SessionState{})
		return nil, &domain.AuthError{Op: "sign in", Err: res.err}
	}

	m.publish(SessionState{CurrentUser: res.user})
	slog.Info("signed in", "uid", res.user.ID, "role", res.user.Role)
	return res.user, nil
}

// SignUp registers a credential, writes the profile and, for students, an
// empty student record keyed by the same id, then signs in. A failed step
// undoes the earlier ones in reverse order.
func (m *SessionManager) SignUp(ctx context.Context, email, password, firstName, lastName string, role domain.Role) (*domain.User, error) {
	if err := validateAccount(firstName, lastName, role); err != nil {
		return nil, &domain.AuthError{Op: "sign up", Err: err}
	}

	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	prev := m.State().CurrentUser
	m.publish(SessionState{CurrentUser: prev, IsLoading: true})

	fail := func(err error) (*domain.User, error) {
		m.publish(SessionState{CurrentUser: prev})
		return nil, authError("sign up", err)
	}

	acct, err := m.provision(ctx, "sign up", email, password, firstName, lastName, role)
	if err != nil {
		return fail(err)
	}

	res, err := m.captured(func() error {
		_, err := m.idp.Authenticate(ctx, email, password)
		return err
	})
	if err == nil {
		err = res.err
	}
	if err != nil {
		m.discardSession(ctx)
		return fail(acct.rollback("session", err))
	}

	m.publish(SessionState{CurrentUser: res.user})
	slog.Info("signed up", "uid", res.user.ID, "role", res.user.Role)
	return res.user, nil
}

// Provision creates an account the way SignUp does but opens no session, so
// the current session and its subscribers are left alone.
func (m *SessionManager) Provision(ctx context.Context, email, password, firstName, lastName string, role domain.Role) (*domain.User, error) {
	if err := validateAccount(firstName, lastName, role); err != nil {
		return nil, &domain.AuthError{Op: "provision", Err: err}
	}

	acct, err := m.provision(ctx, "provision", email, password, firstName, lastName, role)
	if err != nil {
		return nil, authError("provision", err)
	}
	user := acct.profile
	user.SetID(acct.uid)
	return &user, nil
}

func validateAccount(firstName, lastName string, role domain.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, role)
	}
	if strings.TrimSpace(firstName) == "" || strings.TrimSpace(lastName) == "" {
		return fmt.Errorf("%w: first and last name are required", domain.ErrInvalidInput)
	}
	return nil
}

// authError wraps err for op unless it already reports a partial cascade.
func authError(op string, err error) error {
	var partial *domain.PartialCascadeError
	if errors.As(err, &partial) {
		return err
	}
	return &domain.AuthError{Op: op, Err: err}
}

// account records what provision wrote so a later failure can undo it.
type account struct {
	op        string
	uid       string
	profile   domain.User
	completed []string
	undo      []func() error
}

// rollback runs the compensations registered so far, newest first.
func (a *account) rollback(failed string, cause error) error {
	for i := len(a.undo) - 1; i >= 0; i-- {
		if cErr := a.undo[i](); cErr != nil {
			slog.Error(a.op+" compensation failed", "uid", a.uid, "error", cErr)
			return &domain.PartialCascadeError{
				Op:              a.op,
				Completed:       a.completed[:i+1],
				Failed:          failed,
				Err:             cause,
				CompensationErr: cErr,
			}
		}
	}
	return cause
}

// provision registers the credential and writes the profile plus, for
// students, the empty student record.
func (m *SessionManager) provision(ctx context.Context, op, email, password, firstName, lastName string, role domain.Role) (*account, error) {
	identity, err := m.idp.Register(ctx, email, password)
	if err != nil {
		return nil, err
	}

	acct := &account{
		op:        op,
		uid:       identity.UID,
		completed: []string{"credentials/" + identity.UID},
		undo:      []func() error{func() error { return m.idp.Unregister(ctx, identity.UID) }},
	}

	now := m.now().UTC()
	acct.profile = domain.User{
		Email:     identity.Email,
		Role:      role,
		FirstName: firstName,
		LastName:  lastName,
	}
	acct.profile.Stamp(now)
	profilePath := domain.Path(domain.UsersPath, identity.UID)
	if err := m.store.WriteFull(ctx, profilePath, acct.profile); err != nil {
		return nil, acct.rollback(profilePath, fmt.Errorf("write profile: %w", err))
	}
	acct.completed = append(acct.completed, profilePath)
	acct.undo = append(acct.undo, func() error { return m.store.Remove(ctx, profilePath) })

	if role == domain.RoleStudent {
		shell := domain.Student{ProfileID: identity.UID, Status: domain.StudentStatusActive}
		shell.Stamp(now)
		shellPath := domain.Path(domain.StudentsPath, identity.UID)
		if err := m.store.WriteFull(ctx, shellPath, shell); err != nil {
			return nil, acct.rollback(shellPath, fmt.Errorf("write student record: %w", err))
		}
		acct.completed = append(acct.completed, shellPath)
		acct.undo = append(acct.undo, func() error { return m.store.Remove(ctx, shellPath) })
	}
	return acct, nil
}

// SignOut closes the session and publishes no current user.
func (m *SessionManager) SignOut(ctx context.Context) error {
	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	prev := m.State().CurrentUser
	m.publish(SessionState{CurrentUser: prev, IsLoading: true})

	if _, err := m.captured(func() error { return m.idp.InvalidateSession(ctx) }); err != nil {
		m.publish(SessionState{CurrentUser: prev})
		return &domain.AuthError{Op: "sign out", Err: err}
	}

	m.publish(SessionState{})
	return nil
}

// captured runs fn with the identity listener collecting the resolved user
// instead of publishing it.
func (m *SessionManager) captured(fn func() error) (resolution, error) {
	res := &resolution{}
	m.mu.Lock()
	m.capture = res
	m.mu.Unlock()

	err := fn()

	m.mu.Lock()
	m.capture = nil
	m.mu.Unlock()
	return *res, err
}

func (m *SessionManager) discardSession(ctx context.Context) {
	if _, err := m.captured(func() error { return m.idp.InvalidateSession(ctx) }); err != nil {
		slog.Error("invalidate session", "error", err)
	}
}

// onSessionChange resolves the identity to a profile. Changes the manager
// asked for are handed back to the caller; any other change is published
// directly.
func (m *SessionManager) onSessionChange(ctx context.Context, identity *domain.Identity) {
	var user *domain.User
	var err error
	if identity != nil {
		user, err = m.resolveProfile(ctx, identity)
	}

	m.mu.Lock()
	capture := m.capture
	m.mu.Unlock()

	if capture != nil {
		capture.user, capture.err = user, err
		return
	}

	if err != nil {
		slog.Error("resolve profile", "uid", identity.UID, "error", err)
		m.publish(SessionState{})
		return
	}
	m.publish(SessionState{CurrentUser: user})
}

// resolveProfile loads users/{uid}, creating a minimal student profile when
// none exists.
func (m *SessionManager) resolveProfile(ctx context.Context, identity *domain.Identity) (*domain.User, error) {
	path := domain.Path(domain.UsersPath, identity.UID)

	raw, err := m.store.ReadOnce(ctx, path)
	if err == nil {
		return decodeProfile(raw, identity)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}

	user := domain.User{Email: identity.Email, Role: domain.RoleStudent}
	user.Stamp(m.now().UTC())
	if err := m.store.WriteFull(ctx, path, user); err != nil {
		return nil, fmt.Errorf("create profile %s: %w", path, err)
	}
	slog.Info("created missing profile", "uid", identity.UID)
	user.SetID(identity.UID)
	return &user, nil
}

// decodeProfile reads a stored profile for identity. A missing e-mail falls
// back to the identity's and an unknown role to student.
func decodeProfile(raw json.RawMessage, identity *domain.Identity) (*domain.User, error) {
	var user domain.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", domain.Path(domain.UsersPath, identity.UID), err)
	}
	user.SetID(identity.UID)
	if user.Email == "" {
		user.Email = identity.Email
	}
	if !user.Role.Valid() {
		user.Role = domain.RoleStudent
	}
	return &user, nil
}

// publish records s and broadcasts it to every subscriber in order.
func (m *SessionManager) publish(s SessionState) {
	if s.CurrentUser != nil {
		u := *s.CurrentUser
		s.CurrentUser = &u
	}

	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	m.state = s
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	metrics.SessionTransitions.WithLabelValues(stateLabel(s)).Inc()
	for _, l := range listeners {
		st := s
		if st.CurrentUser != nil {
			u := *st.CurrentUser
			st.CurrentUser = &u
		}
		l.fn(st)
	}
}

func stateLabel(s SessionState) string {
	switch {
	case s.IsLoading:
		return "loading"
	case s.CurrentUser == nil:
		return "signed_out"
	}
	return "signed_in"
}
