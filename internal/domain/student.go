package domain

type StudentStatus string

const (
	StudentStatusActive    StudentStatus = "active"
	StudentStatusInactive  StudentStatus = "inactive"
	StudentStatusGraduated StudentStatus = "graduated"
)

// Student is an enrollment record stored under students/{id}.
//
// ProfileID and SpecialtyID are weak references: nothing guarantees the
// referenced documents exist. Profile and Specialty are filled in by the
// join engine at read time and are never written to the store.
type Student struct {
	ID            string        `json:"-"`
	ProfileID     string        `json:"profile_id"`
	StudentNumber string        `json:"student_number"`
	BirthDate     string        `json:"birth_date"`
	Phone         string        `json:"phone"`
	Address       string        `json:"address"`
	SpecialtyID   string        `json:"specialty_id"`
	Year          int           `json:"year"`
	Status        StudentStatus `json:"status"`
	Timestamps

	Profile   *User      `json:"-"`
	Specialty *Specialty `json:"-"`
}

func (s *Student) SetID(id string) { s.ID = id }

// StudentInput is what an administrator submits to enroll a student. The
// e-mail and names populate the linked profile created alongside it.
type StudentInput struct {
	Email         string        `json:"email" validate:"required,email"`
	FirstName     string        `json:"firstName" validate:"required,max=80"`
	LastName      string        `json:"lastName" validate:"required,max=80"`
	StudentNumber string        `json:"studentNumber" validate:"required,max=32"`
	BirthDate     string        `json:"birthDate" validate:"omitempty,datetime=2006-01-02"`
	Phone         string        `json:"phone" validate:"max=32"`
	Address       string        `json:"address" validate:"max=255"`
	SpecialtyID   string        `json:"specialtyId" validate:"required"`
	Year          int           `json:"year" validate:"required,min=1,max=10"`
	Status        StudentStatus `json:"status" validate:"required,oneof=active inactive graduated"`
}

// Profile builds the linked profile record.
func (in StudentInput) Profile() User {
	return User{
		Email:     in.Email,
		Role:      RoleStudent,
		FirstName: in.FirstName,
		LastName:  in.LastName,
	}
}

// Student builds the student record linked to profileID.
func (in StudentInput) Student(profileID string) Student {
	return Student{
		ProfileID:     profileID,
		StudentNumber: in.StudentNumber,
		BirthDate:     in.BirthDate,
		Phone:         in.Phone,
		Address:       in.Address,
		SpecialtyID:   in.SpecialtyID,
		Year:          in.Year,
		Status:        in.Status,
	}
}

// StudentPatch lists the mutable student fields plus the profile fields that
// are propagated to the linked profile.
type StudentPatch struct {
	BirthDate   *string        `json:"birthDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Phone       *string        `json:"phone,omitempty" validate:"omitempty,max=32"`
	Address     *string        `json:"address,omitempty" validate:"omitempty,max=255"`
	SpecialtyID *string        `json:"specialtyId,omitempty" validate:"omitempty,min=1"`
	Year        *int           `json:"year,omitempty" validate:"omitempty,min=1,max=10"`
	Status      *StudentStatus `json:"status,omitempty" validate:"omitempty,oneof=active inactive graduated"`

	Email     *string `json:"email,omitempty" validate:"omitempty,email"`
	FirstName *string `json:"firstName,omitempty" validate:"omitempty,min=1,max=80"`
	LastName  *string `json:"lastName,omitempty" validate:"omitempty,min=1,max=80"`
}

// Changes returns the student fields set on the patch.
func (p StudentPatch) Changes() map[string]any {
	changes := make(map[string]any)
	if p.BirthDate != nil {
		changes["birth_date"] = *p.BirthDate
	}
	if p.Phone != nil {
		changes["phone"] = *p.Phone
	}
	if p.Address != nil {
		changes["address"] = *p.Address
	}
	if p.SpecialtyID != nil {
		changes["specialty_id"] = *p.SpecialtyID
	}
	if p.Year != nil {
		changes["year"] = *p.Year
	}
	if p.Status != nil {
		changes["status"] = string(*p.Status)
	}
	return changes
}

// ProfileChanges returns the profile fields set on the patch.
func (p StudentPatch) ProfileChanges() map[string]any {
	changes := make(map[string]any)
	if p.Email != nil {
		changes["email"] = *p.Email
	}
	if p.FirstName != nil {
		changes["first_name"] = *p.FirstName
	}
	if p.LastName != nil {
		changes["last_name"] = *p.LastName
	}
	return changes
}
