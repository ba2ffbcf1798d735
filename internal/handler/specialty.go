package handler

import (
	"net/http"

	"github.com/abdo90-dev/ecole-v2/internal/domain"
	"github.com/abdo90-dev/ecole-v2/internal/service"
)

// SpecialtyHandler serves the specialties collection.
type SpecialtyHandler struct {
	specialties *service.SpecialtyRepository
}

// NewSpecialtyHandler creates a new SpecialtyHandler.
func NewSpecialtyHandler(specialties *service.SpecialtyRepository) *SpecialtyHandler {
	return &SpecialtyHandler{specialties: specialties}
}

// HandleList returns the mirrored specialties in creation order, optionally
// filtered by q on name and code.
// GET /api/specialties?q=...
// Response: {"specialties": [...], "loading": false, "error": "..."}
func (h *SpecialtyHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	state := h.specialties.State()
	resp := map[string]any{
		"specialties": toSpecialtyDTOs(filterSpecialties(state.Items, r.URL.Query().Get("q"))),
		"loading":     state.IsLoading,
	}
	if state.LastError != nil {
		resp["error"] = state.LastError.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleGet reads one specialty from the store.
// GET /api/specialties/{id}
func (h *SpecialtyHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	s, err := h.specialties.Fetch(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "get specialty", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"specialty": toSpecialtyDTO(s)})
}

// HandleCreate creates a specialty.
// POST /api/specialties
// Request:  {"name":"...","code":"...","description":"...","durationYears":3}
// Response: {"id": "..."}
func (h *SpecialtyHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in domain.SpecialtyInput
	if err := readJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	id, err := h.specialties.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, "create specialty", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// HandleUpdate applies a partial update.
// PATCH /api/specialties/{id}
func (h *SpecialtyHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch domain.SpecialtyPatch
	if err := readJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	if err := h.specialties.Update(r.Context(), r.PathValue("id"), patch); err != nil {
		writeServiceError(w, "update specialty", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDelete removes a specialty. Students referring to it are kept and
// count under the unknown specialty.
// DELETE /api/specialties/{id}
func (h *SpecialtyHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.specialties.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, "delete specialty", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
