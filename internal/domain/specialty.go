package domain

// Specialty is an academic program stored under specialties/{id}.
type Specialty struct {
	ID            string `json:"-"`
	Name          string `json:"name"`
	Code          string `json:"code"`
	Description   string `json:"description"`
	DurationYears int    `json:"duration_years"`
	Timestamps
}

func (s *Specialty) SetID(id string) { s.ID = id }

// SpecialtyInput carries the fields an administrator supplies on creation.
type SpecialtyInput struct {
	Name          string `json:"name" validate:"required,max=120"`
	Code          string `json:"code" validate:"required,max=16"`
	Description   string `json:"description" validate:"max=2000"`
	DurationYears int    `json:"durationYears" validate:"required,min=1,max=10"`
}

// Specialty builds the record to store. Timestamps are stamped by the
// repository.
func (in SpecialtyInput) Specialty() Specialty {
	return Specialty{
		Name:          in.Name,
		Code:          in.Code,
		Description:   in.Description,
		DurationYears: in.DurationYears,
	}
}

// SpecialtyPatch lists the mutable specialty fields. Nil fields are left
// untouched.
type SpecialtyPatch struct {
	Name          *string `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	Code          *string `json:"code,omitempty" validate:"omitempty,min=1,max=16"`
	Description   *string `json:"description,omitempty" validate:"omitempty,max=2000"`
	DurationYears *int    `json:"durationYears,omitempty" validate:"omitempty,min=1,max=10"`
}

// Changes returns the stored field names and values set on the patch.
func (p SpecialtyPatch) Changes() map[string]any {
	changes := make(map[string]any)
	if p.Name != nil {
		changes["name"] = *p.Name
	}
	if p.Code != nil {
		changes["code"] = *p.Code
	}
	if p.Description != nil {
		changes["description"] = *p.Description
	}
	if p.DurationYears != nil {
		changes["duration_years"] = *p.DurationYears
	}
	return changes
}
