package handler

import (
	"time"

	"github.com/abdo90-dev/ecole-v2/internal/domain"
)

type userDTO struct {
	ID           string              `json:"id"`
	Email        string              `json:"email"`
	Role         domain.Role         `json:"role"`
	FirstName    string              `json:"firstName"`
	LastName     string              `json:"lastName"`
	FullName     string              `json:"fullName"`
	Capabilities []domain.Capability `json:"capabilities"`
	CreatedAt    time.Time           `json:"createdAt"`
}

var allCapabilities = []domain.Capability{
	domain.CapManageStudents,
	domain.CapManageSpecialties,
	domain.CapViewDashboard,
	domain.CapViewOwnProfile,
}

func toUserDTO(u *domain.User) userDTO {
	caps := []domain.Capability{}
	for _, c := range allCapabilities {
		if domain.HasCapability(u, c) {
			caps = append(caps, c)
		}
	}
	return userDTO{
		ID:           u.ID,
		Email:        u.Email,
		Role:         u.Role,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		FullName:     u.FullName(),
		Capabilities: caps,
		CreatedAt:    u.CreatedAt,
	}
}

type specialtyDTO struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Code          string    `json:"code"`
	Description   string    `json:"description"`
	DurationYears int       `json:"durationYears"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toSpecialtyDTO(s domain.Specialty) specialtyDTO {
	return specialtyDTO{
		ID:            s.ID,
		Name:          s.Name,
		Code:          s.Code,
		Description:   s.Description,
		DurationYears: s.DurationYears,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func toSpecialtyDTOs(items []domain.Specialty) []specialtyDTO {
	out := make([]specialtyDTO, len(items))
	for i, s := range items {
		out[i] = toSpecialtyDTO(s)
	}
	return out
}

// studentDTO carries the joined profile and specialty when they resolved.
type studentDTO struct {
	ID            string               `json:"id"`
	ProfileID     string               `json:"profileId"`
	StudentNumber string               `json:"studentNumber"`
	BirthDate     string               `json:"birthDate"`
	Phone         string               `json:"phone"`
	Address       string               `json:"address"`
	SpecialtyID   string               `json:"specialtyId"`
	Year          int                  `json:"year"`
	Status        domain.StudentStatus `json:"status"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
	Profile       *userDTO             `json:"profile"`
	Specialty     *specialtyDTO        `json:"specialty"`
}

func toStudentDTO(s domain.Student) studentDTO {
	dto := studentDTO{
		ID:            s.ID,
		ProfileID:     s.ProfileID,
		StudentNumber: s.StudentNumber,
		BirthDate:     s.BirthDate,
		Phone:         s.Phone,
		Address:       s.Address,
		SpecialtyID:   s.SpecialtyID,
		Year:          s.Year,
		Status:        s.Status,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
	if s.Profile != nil {
		p := toUserDTO(s.Profile)
		dto.Profile = &p
	}
	if s.Specialty != nil {
		sp := toSpecialtyDTO(*s.Specialty)
		dto.Specialty = &sp
	}
	return dto
}

func toStudentDTOs(items []domain.Student) []studentDTO {
	out := make([]studentDTO, len(items))
	for i, s := range items {
		out[i] = toStudentDTO(s)
	}
	return out
}
