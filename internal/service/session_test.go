package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abdo90-dev/ecole-v2/internal/domain"
	"github.com/abdo90-dev/ecole-v2/internal/repository/sqlite"
	"github.com/abdo90-dev/ecole-v2/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-secret-key-for-unit-tests-0123456789"

type sessionFixture struct {
	db      *sqlite.DB
	store   *faultyStore
	idp     *sqlite.IdentityProvider
	manager *service.SessionManager
	states  *stateRecorder
}

// stateRecorder keeps every broadcast state in order.
type stateRecorder struct {
	mu     sync.Mutex
	states []service.SessionState
}

func (r *stateRecorder) record(s service.SessionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = nil
}

// summary renders states as "loading:<uid>" / "<uid>" / "none".
func (r *stateRecorder) summary() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.states))
	for _, s := range r.states {
		label := "none"
		if s.CurrentUser != nil {
			label = s.CurrentUser.Email
		}
		if s.IsLoading {
			label = "loading:" + label
		}
		out = append(out, label)
	}
	return out
}

func newSessionFixture(t *testing.T, limiter *service.TokenBucket) *sessionFixture {
	t.Helper()
	db := newTestDB(t)
	store := newFaultyStore(db.Documents())
	// Use cost 4 for fast tests.
	idp := db.Identity(testJWTSecret, 4, time.Hour)

	m := service.NewSessionManager(idp, store, limiter)
	t.Cleanup(m.Close)

	rec := &stateRecorder{}
	m.Subscribe(rec.record)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.reset()

	return &sessionFixture{db: db, store: store, idp: idp, manager: m, states: rec}
}

func TestSessionManager_LoadingUntilStarted(t *testing.T) {
	db := newTestDB(t)
	m := service.NewSessionManager(db.Identity(testJWTSecret, 4, time.Hour), db.Documents(), nil)
	t.Cleanup(m.Close)

	s := m.State()
	if !s.IsLoading || s.CurrentUser != nil {
		t.Fatalf("expected unknown state before Start, got %+v", s)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s = m.State()
	if s.IsLoading || s.CurrentUser != nil {
		t.Fatalf("expected signed-out state after Start, got %+v", s)
	}
}

func TestSessionManager_SignUpStudent(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	user, err := f.manager.SignUp(ctx, "ada@example.com", "password123", "Ada", "Lovelace", domain.RoleStudent)
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	require.NotEmpty(t, user.ID)
	assert.Equal(t, domain.RoleStudent, user.Role)
	assert.Equal(t, "Ada", user.FirstName)

	docs := f.db.Documents()
	assert.True(t, exists(t, docs, domain.Path(domain.UsersPath, user.ID)), "profile written")
	assert.True(t, exists(t, docs, domain.Path(domain.StudentsPath, user.ID)), "student shell written")

	assert.Equal(t, []string{"loading:none", "ada@example.com"}, f.states.summary())

	state := f.manager.State()
	require.NotNil(t, state.CurrentUser)
	assert.Equal(t, user.ID, state.CurrentUser.ID)
	assert.True(t, f.manager.HasCapability(domain.CapViewOwnProfile))
	assert.False(t, f.manager.HasCapability(domain.CapManageStudents))
}

func TestSessionManager_SignUpAdminHasNoStudentShell(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	user, err := f.manager.SignUp(ctx, "root@example.com", "password123", "Root", "Admin", domain.RoleAdmin)
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	assert.False(t, exists(t, f.db.Documents(), domain.Path(domain.StudentsPath, user.ID)))
	assert.True(t, f.manager.HasCapability(domain.CapManageStudents))
	assert.True(t, f.manager.HasCapability(domain.CapViewDashboard))
}

func TestSessionManager_SignUpDuplicateEmail(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	if _, err := f.manager.SignUp(ctx, "dup@example.com", "password123", "A", "B", domain.RoleStudent); err != nil {
		t.Fatalf("first SignUp: %v", err)
	}
	if err := f.manager.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	f.states.reset()

	_, err := f.manager.SignUp(ctx, "dup@example.com", "password456", "C", "D", domain.RoleStudent)

	var authErr *domain.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if !errors.Is(err, domain.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	assert.Equal(t, []string{"loading:none", "none"}, f.states.summary())
}

func TestSessionManager_SignUpInvalidInput(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name      string
		firstName string
		role      domain.Role
	}{
		{"unknown role", "Ada", domain.Role("professor")},
		{"missing name", "", domain.RoleStudent},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.manager.SignUp(ctx, "x@example.com", "password123", tc.firstName, "L", tc.role)
			var authErr *domain.AuthError
			if !errors.As(err, &authErr) || !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected AuthError wrapping ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestSessionManager_SignUpCompensatesCredential(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	f.store.failNext("write", domain.StudentsPath, 1)

	_, err := f.manager.SignUp(ctx, "shell@example.com", "password123", "Ada", "Lovelace", domain.RoleStudent)
	var authErr *domain.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}

	raw, err := f.db.Documents().ReadOnce(ctx, domain.UsersPath)
	if err != nil {
		t.Fatalf("ReadOnce users: %v", err)
	}
	assert.Equal(t, "{}", string(raw), "profile must be removed again")

	if _, err := f.idp.Authenticate(ctx, "shell@example.com", "password123"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected credential to be unregistered, got %v", err)
	}
	assert.Nil(t, f.manager.State().CurrentUser)
}

func TestSessionManager_SignUpPartialCascade(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	f.store.failNext("write", domain.StudentsPath, 1)
	f.store.failNext("remove", domain.UsersPath, 1)

	_, err := f.manager.SignUp(ctx, "stuck@example.com", "password123", "Ada", "Lovelace", domain.RoleStudent)
	var partial *domain.PartialCascadeError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialCascadeError, got %v", err)
	}
	assert.Equal(t, "sign up", partial.Op)
	require.Len(t, partial.Completed, 2)
	assert.Contains(t, partial.Completed[1], domain.UsersPath+"/")
	assert.Contains(t, partial.Failed, domain.StudentsPath+"/")
}

func TestSessionManager_SignIn(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	if _, err := f.manager.SignUp(ctx, "ada@example.com", "password123", "Ada", "Lovelace", domain.RoleAdmin); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if err := f.manager.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	f.states.reset()

	user, err := f.manager.SignIn(ctx, "ada@example.com", "password123")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	assert.Equal(t, domain.RoleAdmin, user.Role)
	assert.Equal(t, "Lovelace", user.LastName)
	assert.Equal(t, []string{"loading:none", "ada@example.com"}, f.states.summary())
}

func TestSessionManager_SignInWrongPassword(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	if _, err := f.manager.SignUp(ctx, "ada@example.com", "password123", "Ada", "Lovelace", domain.RoleStudent); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	f.states.reset()

	_, err := f.manager.SignIn(ctx, "ada@example.com", "wrong-password")
	var authErr *domain.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	assert.Equal(t, "sign in", authErr.Op)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	// The previous user is published again once the attempt fails.
	assert.Equal(t, []string{"loading:ada@example.com", "ada@example.com"}, f.states.summary())
}

func TestSessionManager_SignInCreatesMissingProfile(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	identity, err := f.idp.Register(ctx, "bare@example.com", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	user, err := f.manager.SignIn(ctx, "bare@example.com", "password123")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	assert.Equal(t, identity.UID, user.ID)
	assert.Equal(t, domain.RoleStudent, user.Role)
	assert.True(t, exists(t, f.db.Documents(), domain.Path(domain.UsersPath, identity.UID)))
}

func TestSessionManager_SignInProfileFailureClosesSession(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	if _, err := f.idp.Register(ctx, "bare@example.com", "password123"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	f.store.failNext("read", domain.UsersPath, 1)
	_, err := f.manager.SignIn(ctx, "bare@example.com", "password123")
	if !errors.Is(err, errInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}
	assert.Nil(t, f.manager.State().CurrentUser)
	assert.False(t, f.manager.State().IsLoading)
}

func TestSessionManager_SignInRateLimited(t *testing.T) {
	limiter := service.NewTokenBucket(0, 2)
	t.Cleanup(limiter.Stop)
	f := newSessionFixture(t, limiter)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.manager.SignIn(ctx, "nobody@example.com", "password123"); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("attempt %d: expected ErrUnauthorized, got %v", i+1, err)
		}
	}

	_, err := f.manager.SignIn(ctx, "NOBODY@example.com", "password123")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestSessionManager_SignOut(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	if _, err := f.manager.SignUp(ctx, "ada@example.com", "password123", "Ada", "Lovelace", domain.RoleAdmin); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	f.states.reset()

	if err := f.manager.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	assert.Equal(t, []string{"loading:ada@example.com", "none"}, f.states.summary())
	assert.False(t, f.manager.HasCapability(domain.CapViewDashboard))
}

func TestSessionManager_RestoresAfterRestart(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	user, err := f.manager.SignUp(ctx, "ada@example.com", "password123", "Ada", "Lovelace", domain.RoleAdmin)
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	f.manager.Close()

	restarted := service.NewSessionManager(f.db.Identity(testJWTSecret, 4, time.Hour), f.db.Documents(), nil)
	t.Cleanup(restarted.Close)
	if err := restarted.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	state := restarted.State()
	require.NotNil(t, state.CurrentUser)
	assert.Equal(t, user.ID, state.CurrentUser.ID)
	assert.False(t, state.IsLoading)
}

func TestSessionManager_StateIsACopy(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	if _, err := f.manager.SignUp(ctx, "ada@example.com", "password123", "Ada", "Lovelace", domain.RoleStudent); err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	f.manager.State().CurrentUser.Role = domain.RoleAdmin
	if f.manager.HasCapability(domain.CapManageStudents) {
		t.Fatal("mutating a returned state must not grant capabilities")
	}
}

func TestSessionManager_ProvisionOpensNoSession(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	operator, err := f.manager.SignUp(ctx, "ada@example.com", "password123", "Ada", "Lovelace", domain.RoleAdmin)
	require.NoError(t, err)
	f.states.reset()

	user, err := f.manager.Provision(ctx, "root@example.com", "password123", "Root", "Admin", domain.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, user.Role)
	assert.True(t, exists(t, f.db.Documents(), domain.Path(domain.UsersPath, user.ID)))
	assert.False(t, exists(t, f.db.Documents(), domain.Path(domain.StudentsPath, user.ID)))

	assert.Empty(t, f.states.summary(), "provisioning must not publish")
	require.NotNil(t, f.manager.State().CurrentUser)
	assert.Equal(t, operator.ID, f.manager.State().CurrentUser.ID)

	// The persisted session still belongs to the operator.
	restarted := service.NewSessionManager(f.db.Identity(testJWTSecret, 4, time.Hour), f.db.Documents(), nil)
	t.Cleanup(restarted.Close)
	require.NoError(t, restarted.Start(ctx))
	require.NotNil(t, restarted.State().CurrentUser)
	assert.Equal(t, operator.ID, restarted.State().CurrentUser.ID)

	// The new account signs in normally.
	signedIn, err := f.manager.SignIn(ctx, "root@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, signedIn.ID)
}

func TestSessionManager_ProvisionCompensatesCredential(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	f.store.failNext("write", domain.UsersPath, 1)
	_, err := f.manager.Provision(ctx, "root@example.com", "password123", "Root", "Admin", domain.RoleAdmin)
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "provision", authErr.Op)

	// The e-mail is free again.
	_, err = f.manager.Provision(ctx, "root@example.com", "password123", "Root", "Admin", domain.RoleAdmin)
	assert.NoError(t, err)
}

func TestSessionManager_ProvisionInvalidInput(t *testing.T) {
	f := newSessionFixture(t, nil)

	_, err := f.manager.Provision(context.Background(), "root@example.com", "password123", "", "Admin", domain.RoleAdmin)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
