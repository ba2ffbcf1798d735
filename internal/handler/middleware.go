package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/abdo90-dev/ecole-v2/internal/domain"
	"github.com/abdo90-dev/ecole-v2/internal/service"
	"github.com/abdo90-dev/ecole-v2/internal/view"
)

type contextKey string

const userContextKey contextKey = "user"

// authCookie carries the signed token issued at sign-in.
const authCookie = "auth_token"

// UserFromContext extracts the authenticated user from the request context.
// Returns nil if no user is authenticated.
func UserFromContext(ctx context.Context) *domain.User {
	user, _ := ctx.Value(userContextKey).(*domain.User)
	return user
}

// denyFunc writes a 401 or 403 response.
type denyFunc func(w http.ResponseWriter, r *http.Request, status int)

func denyJSON(w http.ResponseWriter, _ *http.Request, status int) {
	writeError(w, status, http.StatusText(status)+".")
}

func denyPage(w http.ResponseWriter, r *http.Request, status int) {
	title, message := "Accès refusé", "Votre compte ne permet pas d'ouvrir cette page."
	if status == http.StatusUnauthorized {
		title, message = "Connexion requise", "Connectez-vous pour ouvrir cette page."
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := view.ErrorPage(status, title, message).Render(r.Context(), w); err != nil {
		slog.Error("render error page", "error", err)
	}
}

// RequireAuth is middleware that protects routes requiring authentication.
// It reads the auth_token cookie, validates it, loads the user's profile and
// injects it into the request context. Returns 401 for unauthenticated
// requests.
func RequireAuth(auth *service.AuthService, next http.Handler) http.Handler {
	return requireAuth(auth, denyJSON, next)
}

// RequireCapability wraps next in RequireAuth and answers 403 when the
// user's role lacks c.
func RequireCapability(auth *service.AuthService, c domain.Capability, next http.Handler) http.Handler {
	return requireCapability(auth, c, denyJSON, next)
}

// RequirePageCapability is RequireCapability for HTML pages: refusals are
// rendered as an error page.
func RequirePageCapability(auth *service.AuthService, c domain.Capability, next http.Handler) http.Handler {
	return requireCapability(auth, c, denyPage, next)
}

func requireAuth(auth *service.AuthService, deny denyFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := authenticateRequest(r, auth)
		if err != nil {
			deny(w, r, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireCapability(auth *service.AuthService, c domain.Capability, deny denyFunc, next http.Handler) http.Handler {
	return requireAuth(auth, deny, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !domain.HasCapability(UserFromContext(r.Context()), c) {
			deny(w, r, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func authenticateRequest(r *http.Request, auth *service.AuthService) (*domain.User, error) {
	cookie, err := r.Cookie(authCookie)
	if err != nil {
		return nil, err
	}

	user, err := auth.Authenticate(r.Context(), cookie.Value)
	if err != nil {
		if !errors.Is(err, domain.ErrUnauthorized) {
			slog.Error("authenticate request", "error", err)
		}
		return nil, err
	}
	return user, nil
}

// SecurityHeaders sets the response headers shared by every route.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "same-origin")
		h.Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-eval' https://cdn.jsdelivr.net; style-src 'self' 'unsafe-inline'")
		next.ServeHTTP(w, r)
	})
}
