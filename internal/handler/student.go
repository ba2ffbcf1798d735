package handler

import (
	"net/http"

	"github.com/abdo90-dev/ecole-v2/internal/domain"
	"github.com/abdo90-dev/ecole-v2/internal/service"
)

// StudentHandler serves the students collection. Lists come from the join
// engine so each student carries its profile and specialty.
type StudentHandler struct {
	students *service.StudentRepository
	engine   *service.StatsEngine
}

// NewStudentHandler creates a new StudentHandler.
func NewStudentHandler(students *service.StudentRepository, engine *service.StatsEngine) *StudentHandler {
	return &StudentHandler{students: students, engine: engine}
}

// HandleList returns the enriched students, optionally filtered by q on
// full name, student number and specialty name.
// GET /api/students?q=...
// Response: {"students": [...]}
func (h *StudentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	students, ok := h.engine.Students()
	if !ok {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "Students are loading.")
		return
	}
	students = filterStudents(students, r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, map[string]any{"students": toStudentDTOs(students)})
}

// HandleMine returns the enriched student record linked to the
// authenticated user's profile.
// GET /api/me/student
// Response: {"student": {...}}
func (h *StudentHandler) HandleMine(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized.")
		return
	}

	students, ok := h.engine.Students()
	if !ok {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "Students are loading.")
		return
	}
	for _, s := range students {
		if s.ProfileID == user.ID {
			writeJSON(w, http.StatusOK, map[string]any{"student": toStudentDTO(s)})
			return
		}
	}
	writeError(w, http.StatusNotFound, "No student record for this account.")
}

// HandleGet returns one student, enriched when the engine has it.
// GET /api/students/{id}
func (h *StudentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if students, ok := h.engine.Students(); ok {
		for _, s := range students {
			if s.ID == id {
				writeJSON(w, http.StatusOK, map[string]any{"student": toStudentDTO(s)})
				return
			}
		}
	}

	s, err := h.students.Fetch(r.Context(), id)
	if err != nil {
		writeServiceError(w, "get student", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"student": toStudentDTO(s)})
}

// HandleCreate enrolls a student together with its profile.
// POST /api/students
// Response: {"id": "..."}
func (h *StudentHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in domain.StudentInput
	if err := readJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	id, err := h.students.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, "create student", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// HandleUpdate applies a partial update to the student and its profile.
// PATCH /api/students/{id}
func (h *StudentHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch domain.StudentPatch
	if err := readJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	if err := h.students.Update(r.Context(), r.PathValue("id"), patch); err != nil {
		writeServiceError(w, "update student", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDelete removes the student, its profile and its credential.
// DELETE /api/students/{id}
func (h *StudentHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.students.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, "delete student", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
