package handler

import (
	"strings"

	"github.com/abdo90-dev/ecole-v2/internal/domain"
)

// filterStudents keeps the students whose full name, student number or
// specialty name contains search, ignoring case. An empty search keeps all.
func filterStudents(students []domain.Student, search string) []domain.Student {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return students
	}

	filtered := make([]domain.Student, 0, len(students))
	for _, s := range students {
		if matchesStudent(s, search) {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

func matchesStudent(s domain.Student, search string) bool {
	if strings.Contains(strings.ToLower(s.StudentNumber), search) {
		return true
	}
	if s.Profile != nil && strings.Contains(strings.ToLower(s.Profile.FullName()), search) {
		return true
	}
	return s.Specialty != nil && strings.Contains(strings.ToLower(s.Specialty.Name), search)
}

// filterSpecialties keeps the specialties whose name or code contains
// search, ignoring case.
func filterSpecialties(specialties []domain.Specialty, search string) []domain.Specialty {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return specialties
	}

	filtered := make([]domain.Specialty, 0, len(specialties))
	for _, s := range specialties {
		if strings.Contains(strings.ToLower(s.Name), search) ||
			strings.Contains(strings.ToLower(s.Code), search) {
			filtered = append(filtered, s)
		}
	}
	return filtered
}
