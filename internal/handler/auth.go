package handler

import (
	"net/http"
	"time"

	"github.com/abdo90-dev/ecole-v2/internal/domain"
	"github.com/abdo90-dev/ecole-v2/internal/service"
)

// AuthHandler handles sign-in, registration and sign-out over HTTP. The
// session manager runs the transition; the client keeps its own token in the
// auth_token cookie.
type AuthHandler struct {
	sessions     *service.SessionManager
	auth         *service.AuthService
	cookieSecure bool
	cookieMaxAge int
}

// NewAuthHandler creates a new AuthHandler. Cookies live as long as the
// tokens they carry.
func NewAuthHandler(sessions *service.SessionManager, auth *service.AuthService, cookieSecure bool, sessionTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		sessions:     sessions,
		auth:         auth,
		cookieSecure: cookieSecure,
		cookieMaxAge: int(sessionTTL.Seconds()),
	}
}

// HandleLogin processes a JSON login request.
// POST /api/auth/login
// Request:  {"email":"...","password":"..."}
// Response: {"user": {...}} and the auth_token cookie
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	user, err := h.sessions.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, "sign in", err)
		return
	}
	if !h.setAuthCookie(w, user) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user": toUserDTO(user),
	})
}

// HandleRegister creates a student account and signs it in. Administrators
// are created with the admin command.
// POST /api/auth/register
// Request:  {"email":"...","password":"...","confirmPassword":"...","firstName":"...","lastName":"..."}
// Response: {"user": {...}} and the auth_token cookie
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email           string `json:"email"`
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirmPassword"`
		FirstName       string `json:"firstName"`
		LastName        string `json:"lastName"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if req.Password != req.ConfirmPassword {
		writeError(w, http.StatusUnprocessableEntity, "Passwords do not match.")
		return
	}

	user, err := h.sessions.SignUp(r.Context(), req.Email, req.Password, req.FirstName, req.LastName, domain.RoleStudent)
	if err != nil {
		writeServiceError(w, "sign up", err)
		return
	}
	if !h.setAuthCookie(w, user) {
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"user": toUserDTO(user),
	})
}

// HandleLogout clears the cookie. The process session is closed only when it
// belongs to the caller.
// POST /api/auth/logout
// Response: 204 No Content
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if current := h.sessions.State().CurrentUser; user != nil && current != nil && current.ID == user.ID {
		if err := h.sessions.SignOut(r.Context()); err != nil {
			writeServiceError(w, "sign out", err)
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe returns the authenticated user.
// GET /api/auth/me
// Response: {"user": {...}}
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": toUserDTO(user),
	})
}

// setAuthCookie issues a token for user and sets it on the response. It
// reports false after writing an error response.
func (h *AuthHandler) setAuthCookie(w http.ResponseWriter, user *domain.User) bool {
	token, err := h.auth.IssueToken(user)
	if err != nil {
		writeServiceError(w, "issue token", err)
		return false
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   h.cookieMaxAge,
	})
	return true
}
