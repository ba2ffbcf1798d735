package handler

import (
	"log/slog"
	"net/http"

	"github.com/abdo90-dev/ecole-v2/internal/domain"
	"github.com/abdo90-dev/ecole-v2/internal/service"
	"github.com/abdo90-dev/ecole-v2/internal/view"
	datastar "github.com/starfederation/datastar-go/datastar"
)

// DashboardHandler serves the dashboard stats as JSON, as a page and as a
// live stream of fragments.
type DashboardHandler struct {
	engine *service.StatsEngine
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(engine *service.StatsEngine) *DashboardHandler {
	return &DashboardHandler{engine: engine}
}

// HandleStats returns the latest stats.
// GET /api/dashboard/stats
// Response: {"stats": {...}}
func (h *DashboardHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, ok := h.engine.Stats()
	if !ok {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "Stats are loading.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

// HandlePage renders the dashboard page.
// GET /dashboard
func (h *DashboardHandler) HandlePage(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		denyPage(w, r, http.StatusUnauthorized)
		return
	}

	var current *domain.DashboardStats
	if stats, ok := h.engine.Stats(); ok {
		current = &stats
	}
	if err := view.DashboardPage(user.FullName(), current).Render(r.Context(), w); err != nil {
		slog.Error("render dashboard", "error", err)
	}
}

// HandleStream pushes the stats fragment now and after every change until
// the client goes away. Updates that arrive faster than they can be sent
// are coalesced to the newest.
// GET /dashboard/stream
func (h *DashboardHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	updates := make(chan domain.DashboardStats, 1)
	unsubscribe := h.engine.Subscribe(func(s domain.DashboardStats) {
		for {
			select {
			case updates <- s:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	sse := datastar.NewSSE(w, r)

	if stats, ok := h.engine.Stats(); ok {
		if err := patchStats(sse, stats); err != nil {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case stats := <-updates:
			if err := patchStats(sse, stats); err != nil {
				slog.Debug("dashboard stream closed", "error", err)
				return
			}
		}
	}
}

func patchStats(sse *datastar.ServerSentEventGenerator, stats domain.DashboardStats) error {
	return sse.PatchElementTempl(
		view.StatsFragment(stats),
		datastar.WithSelectorID(view.StatsFragmentID),
	)
}
