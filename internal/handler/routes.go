package handler

import (
	"net/http"
	"time"

	"github.com/abdo90-dev/ecole-v2/internal/domain"
	"github.com/abdo90-dev/ecole-v2/internal/metrics"
	"github.com/abdo90-dev/ecole-v2/internal/service"
)

// Deps carries the services the routes are built on.
type Deps struct {
	Sessions    *service.SessionManager
	Auth        *service.AuthService
	Specialties *service.SpecialtyRepository
	Students    *service.StudentRepository
	Engine      *service.StatsEngine

	// CookieSecure marks the auth cookie Secure; SessionTTL is its lifetime.
	CookieSecure bool
	SessionTTL   time.Duration
}

// RegisterRoutes sets up all HTTP routes on the given mux.
func RegisterRoutes(mux *http.ServeMux, d Deps) {
	mux.HandleFunc("GET /healthz", HandleHealthz)
	mux.Handle("GET /metrics", metrics.Handler())

	auth := NewAuthHandler(d.Sessions, d.Auth, d.CookieSecure, d.SessionTTL)
	mux.HandleFunc("POST /api/auth/login", auth.HandleLogin)
	mux.HandleFunc("POST /api/auth/register", auth.HandleRegister)
	mux.Handle("POST /api/auth/logout", RequireAuth(d.Auth, http.HandlerFunc(auth.HandleLogout)))
	mux.Handle("GET /api/auth/me", RequireCapability(d.Auth, domain.CapViewOwnProfile, http.HandlerFunc(auth.HandleMe)))

	guard := func(c domain.Capability, fn http.HandlerFunc) http.Handler {
		return RequireCapability(d.Auth, c, fn)
	}

	specialties := NewSpecialtyHandler(d.Specialties)
	mux.Handle("GET /api/specialties", guard(domain.CapManageSpecialties, specialties.HandleList))
	mux.Handle("POST /api/specialties", guard(domain.CapManageSpecialties, specialties.HandleCreate))
	mux.Handle("GET /api/specialties/{id}", guard(domain.CapManageSpecialties, specialties.HandleGet))
	mux.Handle("PATCH /api/specialties/{id}", guard(domain.CapManageSpecialties, specialties.HandleUpdate))
	mux.Handle("DELETE /api/specialties/{id}", guard(domain.CapManageSpecialties, specialties.HandleDelete))

	students := NewStudentHandler(d.Students, d.Engine)
	mux.Handle("GET /api/students", guard(domain.CapManageStudents, students.HandleList))
	mux.Handle("POST /api/students", guard(domain.CapManageStudents, students.HandleCreate))
	mux.Handle("GET /api/students/{id}", guard(domain.CapManageStudents, students.HandleGet))
	mux.Handle("PATCH /api/students/{id}", guard(domain.CapManageStudents, students.HandleUpdate))
	mux.Handle("DELETE /api/students/{id}", guard(domain.CapManageStudents, students.HandleDelete))
	mux.Handle("GET /api/me/student", guard(domain.CapViewOwnProfile, students.HandleMine))

	dashboard := NewDashboardHandler(d.Engine)
	mux.Handle("GET /api/dashboard/stats", guard(domain.CapViewDashboard, dashboard.HandleStats))
	mux.Handle("GET /dashboard", RequirePageCapability(d.Auth, domain.CapViewDashboard, http.HandlerFunc(dashboard.HandlePage)))
	mux.Handle("GET /dashboard/stream", guard(domain.CapViewDashboard, dashboard.HandleStream))
}
