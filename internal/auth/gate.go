// Package auth centralizes role-based authorization.
//
// Every mutation consults the (role x action) table below before any
// business logic runs, and every read goes through a visibility scope.
// Anything not explicitly granted is denied.
package auth

import (
	"github.com/mediauth/go-rx/internal/domain/errs"
	"github.com/mediauth/go-rx/internal/domain/user"
)

// Action identifies an operation gated by role.
type Action string

const (
	ActionPrescriptionCreate Action = "prescription.create"
	ActionPrescriptionRead   Action = "prescription.read"
	ActionPrescriptionList   Action = "prescription.list"
	ActionPrescriptionUpdate Action = "prescription.update"
	ActionPrescriptionDelete Action = "prescription.delete"
	ActionPrescriptionIssue  Action = "prescription.issue"
	ActionPrescriptionFill   Action = "prescription.fill"
	ActionPrescriptionCancel Action = "prescription.cancel"
	ActionPatientList        Action = "patient.list"

	ActionUploadCreate    Action = "upload.create"
	ActionUploadRead      Action = "upload.read"
	ActionUploadList      Action = "upload.list"
	ActionUploadDelete    Action = "upload.delete"
	ActionUploadReprocess Action = "upload.reprocess"
)

// grants is the full permission table. Ownership checks on top of these
// grants (a doctor may only issue their own prescriptions) live in the
// domain entities.
var grants = map[user.Role]map[Action]bool{
	user.RoleDoctor: {
		ActionPrescriptionCreate: true,
		ActionPrescriptionRead:   true,
		ActionPrescriptionList:   true,
		ActionPrescriptionUpdate: true,
		ActionPrescriptionDelete: true,
		ActionPrescriptionIssue:  true,
		ActionPrescriptionCancel: true,
		ActionPatientList:        true,
	},
	user.RolePatient: {
		ActionPrescriptionRead: true,
		ActionPrescriptionList: true,
		ActionUploadCreate:     true,
		ActionUploadRead:       true,
		ActionUploadList:       true,
		ActionUploadDelete:     true,
		ActionUploadReprocess:  true,
	},
	user.RolePharmacist: {
		ActionPrescriptionRead:   true,
		ActionPrescriptionList:   true,
		ActionPrescriptionUpdate: true,
		ActionPrescriptionFill:   true,
	},
}

// Allowed reports whether the role is granted the action.
func Allowed(role user.Role, action Action) bool {
	return grants[role][action]
}

// Require returns an authorization error unless the actor's role is
// granted the action.
func Require(actor user.User, action Action) error {
	if !Allowed(actor.Role, action) {
		return errs.Newf(errs.KindAuthorization, "%s may not perform %s", actor.Role, action)
	}
	return nil
}

// PrescriptionScope filters prescription visibility for an actor.
// Zero-valued fields are unconstrained; None means an empty result set.
type PrescriptionScope struct {
	DoctorID   int64
	PatientID  int64
	IssuedOnly bool
	None       bool
}

// PrescriptionListScope returns the visibility filter applied to
// prescription listings.
func PrescriptionListScope(actor user.User) PrescriptionScope {
	switch actor.Role {
	case user.RoleDoctor:
		return PrescriptionScope{DoctorID: actor.ID}
	case user.RolePatient:
		return PrescriptionScope{PatientID: actor.ID}
	case user.RolePharmacist:
		return PrescriptionScope{IssuedOnly: true}
	default:
		return PrescriptionScope{None: true}
	}
}

// PrescriptionReadScope returns the visibility filter applied to single
// prescription reads. Pharmacists see every prescription here, not just
// issued ones.
func PrescriptionReadScope(actor user.User) PrescriptionScope {
	switch actor.Role {
	case user.RoleDoctor:
		return PrescriptionScope{DoctorID: actor.ID}
	case user.RolePatient:
		return PrescriptionScope{PatientID: actor.ID}
	case user.RolePharmacist:
		return PrescriptionScope{}
	default:
		return PrescriptionScope{None: true}
	}
}

// Matches reports whether a prescription owned by the given doctor and
// patient, in the given status, is visible under the scope.
func (s PrescriptionScope) Matches(doctorID, patientID int64, issued bool) bool {
	if s.None {
		return false
	}
	if s.DoctorID != 0 && s.DoctorID != doctorID {
		return false
	}
	if s.PatientID != 0 && s.PatientID != patientID {
		return false
	}
	if s.IssuedOnly && !issued {
		return false
	}
	return true
}

// UploadScope filters upload visibility: only the owning patient ever
// sees an upload.
type UploadScope struct {
	PatientID int64
	None      bool
}

// UploadOwnerScope returns the visibility filter for uploads.
func UploadOwnerScope(actor user.User) UploadScope {
	if actor.Role == user.RolePatient {
		return UploadScope{PatientID: actor.ID}
	}
	return UploadScope{None: true}
}
