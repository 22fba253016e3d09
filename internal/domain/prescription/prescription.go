// Package prescription implements the prescription lifecycle: a
// doctor-authored clinical order with line items progressing through
// draft, issued, filled and cancelled.
package prescription

import (
	"fmt"
	"time"

	"github.com/mediauth/go-rx/internal/domain/errs"
	"github.com/mediauth/go-rx/internal/domain/user"
)

// Status represents prescription status.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusIssued    Status = "issued"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusIssued, StatusFilled, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// Item is one medicine line on a prescription.
type Item struct {
	MedicineName string `json:"medicine_name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Quantity     int    `json:"quantity"`
	Instructions string `json:"instructions"`
}

// Prescription is the aggregate root.
type Prescription struct {
	ID         int64      `json:"id"`
	Identifier string     `json:"prescription_id"`
	DoctorID   int64      `json:"doctor_id"`
	PatientID  int64      `json:"patient_id"`
	Diagnosis  string     `json:"diagnosis"`
	Notes      string     `json:"notes"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	IssuedAt   *time.Time `json:"issued_date"`
	FilledByID *int64     `json:"filled_by_id"`
	FilledAt   *time.Time `json:"filled_date"`
	Items      []Item     `json:"items"`
}

// ValidateItems checks the line items a caller supplied.
func ValidateItems(items []Item) error {
	if len(items) == 0 {
		return errs.New(errs.KindValidation, "at least one medicine item is required")
	}
	for i, item := range items {
		if item.MedicineName == "" {
			return errs.Newf(errs.KindValidation, "item %d: medicine name is required", i)
		}
		if item.Quantity < 1 {
			return errs.Newf(errs.KindValidation, "item %d: quantity must be at least 1", i)
		}
	}
	return nil
}

// New creates a draft prescription authored by doctor for patient.
func New(doctor, patient user.User, diagnosis, notes string, items []Item) (*Prescription, error) {
	if doctor.Role != user.RoleDoctor {
		return nil, errs.New(errs.KindAuthorization, "only doctors can create prescriptions")
	}
	if patient.Role != user.RolePatient {
		return nil, errs.Newf(errs.KindValidation, "user %d is not a patient", patient.ID)
	}
	if diagnosis == "" {
		return nil, errs.New(errs.KindValidation, "diagnosis is required")
	}
	if err := ValidateItems(items); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Prescription{
		DoctorID:  doctor.ID,
		PatientID: patient.ID,
		Diagnosis: diagnosis,
		Notes:     notes,
		Status:    StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
		Items:     items,
	}, nil
}

// MakeIdentifier derives the human-readable prescription identifier from
// the creation date and the assigned numeric ID. Generated once at first
// persistence and immutable thereafter.
func MakeIdentifier(createdAt time.Time, id int64) string {
	return fmt.Sprintf("RX%s%03d", createdAt.UTC().Format("20060102"), id)
}

// Issue transitions draft to issued. Only the authoring doctor may issue.
func (p *Prescription) Issue(actor user.User, now time.Time) error {
	if actor.Role != user.RoleDoctor || actor.ID != p.DoctorID {
		return errs.New(errs.KindAuthorization, "only the prescribing doctor can issue this prescription")
	}
	if p.Status != StatusDraft {
		return errs.Newf(errs.KindInvalidState, "only draft prescriptions can be issued, status is %s", p.Status)
	}

	p.Status = StatusIssued
	p.IssuedAt = &now
	p.UpdatedAt = now
	return nil
}

// Fill transitions issued to filled. Any pharmacist may fill.
func (p *Prescription) Fill(actor user.User, now time.Time) error {
	if actor.Role != user.RolePharmacist {
		return errs.New(errs.KindAuthorization, "only pharmacists can fill prescriptions")
	}
	if p.Status != StatusIssued {
		return errs.Newf(errs.KindInvalidState, "only issued prescriptions can be filled, status is %s", p.Status)
	}

	p.Status = StatusFilled
	p.FilledByID = &actor.ID
	p.FilledAt = &now
	p.UpdatedAt = now
	return nil
}

// Cancel transitions draft or issued to cancelled. Only the authoring
// doctor may cancel. No API route reaches this yet; the transition is
// kept so the state machine is complete.
func (p *Prescription) Cancel(actor user.User, now time.Time) error {
	if actor.Role != user.RoleDoctor || actor.ID != p.DoctorID {
		return errs.New(errs.KindAuthorization, "only the prescribing doctor can cancel this prescription")
	}
	if p.Status != StatusDraft && p.Status != StatusIssued {
		return errs.Newf(errs.KindInvalidState, "cannot cancel a %s prescription", p.Status)
	}

	p.Status = StatusCancelled
	p.UpdatedAt = now
	return nil
}
