package domain

// DashboardStats is a derived snapshot of enrollment figures. It is
// recomputed from the live mirrors and never stored.
type DashboardStats struct {
	TotalStudents        int              `json:"totalStudents"`
	ActiveStudents       int              `json:"activeStudents"`
	TotalSpecialties     int              `json:"totalSpecialties"`
	NewStudentsThisMonth int              `json:"newStudentsThisMonth"`
	StudentsBySpecialty  []SpecialtyCount `json:"studentsBySpecialty"`
	StudentsByYear       []YearCount      `json:"studentsByYear"`
	StudentsByStatus     []StatusCount    `json:"studentsByStatus"`
}

type SpecialtyCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type YearCount struct {
	Year  int `json:"year"`
	Count int `json:"count"`
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// UnknownSpecialty labels students whose specialty_id resolves to nothing.
const UnknownSpecialty = "Unknown"
