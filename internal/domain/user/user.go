// Package user models the accounts referenced by prescriptions and uploads.
// Registration and credential storage live outside this service; users are
// read-only here.
package user

// Role gates every operation in the system.
type Role string

const (
	RoleDoctor     Role = "doctor"
	RolePharmacist Role = "pharmacist"
	RolePatient    Role = "patient"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleDoctor, RolePharmacist, RolePatient:
		return true
	}
	return false
}

// User is a referenced account.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      Role   `json:"user_type"`
}
