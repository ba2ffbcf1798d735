package domain

type Capability string

const (
	CapManageStudents    Capability = "manage_students"
	CapManageSpecialties Capability = "manage_specialties"
	CapViewDashboard     Capability = "view_dashboard"
	CapViewOwnProfile    Capability = "view_own_profile"
)

var roleCapabilities = map[Role]map[Capability]bool{
	RoleAdmin: {
		CapManageStudents:    true,
		CapManageSpecialties: true,
		CapViewDashboard:     true,
		CapViewOwnProfile:    true,
	},
	RoleStudent: {
		CapViewOwnProfile: true,
	},
}

// HasCapability reports whether user may perform actions guarded by c.
// A nil user has no capabilities.
func HasCapability(user *User, c Capability) bool {
	if user == nil {
		return false
	}
	return roleCapabilities[user.Role][c]
}
