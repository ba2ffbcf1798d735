package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/abdo90-dev/ecole-v2/internal/domain"
	"github.com/abdo90-dev/ecole-v2/internal/handler"
	"github.com/abdo90-dev/ecole-v2/internal/repository/sqlite"
	"github.com/abdo90-dev/ecole-v2/internal/service"
)

const testJWTSecret = "test-secret-for-handler-tests-0123456789"

type testApp struct {
	deps handler.Deps
	srv  *httptest.Server
}

// newTestApp wires the full stack on a temp database. The session is not
// started; call start.
func newTestApp(t *testing.T, limiter *service.TokenBucket) *testApp {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New DB: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := db.Documents()
	idp := db.Identity(testJWTSecret, 4, time.Hour)
	users := service.OpenUsers(ctx, store)
	specialties := service.NewSpecialtyRepository(ctx, store)
	students := service.NewStudentRepository(ctx, store, users, service.WithCredentials(idp))
	engine := service.NewStatsEngine(students, specialties, users)
	sessions := service.NewSessionManager(idp, store, limiter)
	t.Cleanup(func() {
		sessions.Close()
		engine.Stop()
		students.Close()
		specialties.Close()
		users.Close()
	})

	deps := handler.Deps{
		Sessions:    sessions,
		Auth:        service.NewAuthService(idp, store),
		Specialties: specialties,
		Students:    students,
		Engine:      engine,
		SessionTTL:  time.Hour,
	}
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, deps)
	srv := httptest.NewServer(handler.SecurityHeaders(mux))
	t.Cleanup(srv.Close)

	return &testApp{deps: deps, srv: srv}
}

func (a *testApp) start(t *testing.T) {
	t.Helper()
	if err := a.deps.Sessions.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

// client is an HTTP client with its own cookie jar, so each one carries its
// own auth_token.
type client struct {
	app  *testApp
	http *http.Client
}

func (a *testApp) newClient(t *testing.T) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &client{app: a, http: &http.Client{Jar: jar}}
}

// signInAdmin provisions admin@example.com and returns a client signed in
// over HTTP.
func (a *testApp) signInAdmin(t *testing.T) *client {
	t.Helper()
	if _, err := a.deps.Sessions.Provision(context.Background(), "admin@example.com", "password123", "Ada", "Admin", domain.RoleAdmin); err != nil {
		t.Fatalf("Provision admin: %v", err)
	}
	c := a.newClient(t)
	if code := c.do(t, http.MethodPost, "/api/auth/login", `{"email":"admin@example.com","password":"password123"}`, nil); code != http.StatusOK {
		t.Fatalf("admin login: expected 200, got %d", code)
	}
	return c
}

// registerStudent self-registers a student over HTTP and returns its client
// and uid.
func (a *testApp) registerStudent(t *testing.T, email string) (*client, string) {
	t.Helper()
	c := a.newClient(t)
	body := `{"email":"` + email + `","password":"password123","confirmPassword":"password123","firstName":"Sam","lastName":"Student"}`
	var resp struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if code := c.do(t, http.MethodPost, "/api/auth/register", body, &resp); code != http.StatusCreated {
		t.Fatalf("register %s: expected 201, got %d", email, code)
	}
	return c, resp.User.ID
}

// get sends a GET and returns the open response.
func (c *client) get(t *testing.T, ctx context.Context, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.app.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

// do sends a JSON request and decodes a JSON response into out when out is
// not nil.
func (c *client) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, c.app.srv.URL+path, r)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}
