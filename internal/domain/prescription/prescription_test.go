package prescription

import (
	"testing"
	"time"

	"github.com/mediauth/go-rx/internal/domain/errs"
	"github.com/mediauth/go-rx/internal/domain/user"
)

var (
	doctor     = user.User{ID: 1, Username: "drsmith", Role: user.RoleDoctor}
	otherDoc   = user.User{ID: 2, Username: "drjones", Role: user.RoleDoctor}
	patient    = user.User{ID: 10, Username: "pat", Role: user.RolePatient}
	pharmacist = user.User{ID: 20, Username: "pharm", Role: user.RolePharmacist}
)

func validItems() []Item {
	return []Item{{MedicineName: "Amoxicillin", Dosage: "500mg", Frequency: "3x daily", Quantity: 21}}
}

func newDraft(t *testing.T) *Prescription {
	t.Helper()
	p, err := New(doctor, patient, "bacterial infection", "", validItems())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.ID = 42
	p.Identifier = MakeIdentifier(p.CreatedAt, p.ID)
	return p
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name      string
		doctor    user.User
		patient   user.User
		diagnosis string
		items     []Item
		wantKind  errs.Kind
	}{
		{"patient cannot prescribe", patient, patient, "flu", validItems(), errs.KindAuthorization},
		{"pharmacist cannot prescribe", pharmacist, patient, "flu", validItems(), errs.KindAuthorization},
		{"target must be a patient", doctor, otherDoc, "flu", validItems(), errs.KindValidation},
		{"diagnosis required", doctor, patient, "", validItems(), errs.KindValidation},
		{"items required", doctor, patient, "flu", nil, errs.KindValidation},
		{"item name required", doctor, patient, "flu", []Item{{Quantity: 1}}, errs.KindValidation},
		{"quantity at least one", doctor, patient, "flu", []Item{{MedicineName: "X", Quantity: 0}}, errs.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.doctor, tt.patient, tt.diagnosis, "", tt.items)
			if err == nil {
				t.Fatal("expected error")
			}
			if errs.KindOf(err) != tt.wantKind {
				t.Errorf("kind = %v, want %v", errs.KindOf(err), tt.wantKind)
			}
		})
	}
}

func TestNewStartsDraft(t *testing.T) {
	p := newDraft(t)
	if p.Status != StatusDraft {
		t.Errorf("status = %s, want draft", p.Status)
	}
	if p.DoctorID != doctor.ID || p.PatientID != patient.ID {
		t.Errorf("ownership not recorded: doctor=%d patient=%d", p.DoctorID, p.PatientID)
	}
}

func TestMakeIdentifier(t *testing.T) {
	created := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	got := MakeIdentifier(created, 7)
	if got != "RX20250314007" {
		t.Errorf("identifier = %q, want RX20250314007", got)
	}

	// Deterministic for the same inputs.
	if again := MakeIdentifier(created, 7); again != got {
		t.Errorf("identifier not stable: %q vs %q", again, got)
	}

	// IDs beyond three digits keep their full width.
	if got := MakeIdentifier(created, 12345); got != "RX2025031412345" {
		t.Errorf("identifier = %q, want RX2025031412345", got)
	}

	// Non-UTC creation times normalize to the UTC date.
	est := time.FixedZone("EST", -5*3600)
	late := time.Date(2025, 3, 14, 22, 0, 0, 0, est)
	if got := MakeIdentifier(late, 7); got != "RX20250315007" {
		t.Errorf("identifier = %q, want RX20250315007", got)
	}
}

func TestIssue(t *testing.T) {
	now := time.Now().UTC()

	p := newDraft(t)
	if err := p.Issue(doctor, now); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if p.Status != StatusIssued {
		t.Errorf("status = %s, want issued", p.Status)
	}
	if p.IssuedAt == nil || !p.IssuedAt.Equal(now) {
		t.Errorf("IssuedAt = %v, want %v", p.IssuedAt, now)
	}
}

func TestIssueAuthorization(t *testing.T) {
	now := time.Now().UTC()

	for _, actor := range []user.User{otherDoc, patient, pharmacist} {
		p := newDraft(t)
		err := p.Issue(actor, now)
		if !errs.Is(err, errs.KindAuthorization) {
			t.Errorf("%s: err = %v, want authorization error", actor.Username, err)
		}
		if p.Status != StatusDraft {
			t.Errorf("%s: status changed to %s on denied issue", actor.Username, p.Status)
		}
	}
}

func TestIssueRequiresDraft(t *testing.T) {
	now := time.Now().UTC()

	p := newDraft(t)
	if err := p.Issue(doctor, now); err != nil {
		t.Fatal(err)
	}
	err := p.Issue(doctor, now)
	if !errs.Is(err, errs.KindInvalidState) {
		t.Errorf("second issue: err = %v, want invalid state", err)
	}
}

func TestFill(t *testing.T) {
	now := time.Now().UTC()

	p := newDraft(t)
	if err := p.Issue(doctor, now); err != nil {
		t.Fatal(err)
	}
	if err := p.Fill(pharmacist, now); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	if p.Status != StatusFilled {
		t.Errorf("status = %s, want filled", p.Status)
	}
	if p.FilledByID == nil || *p.FilledByID != pharmacist.ID {
		t.Errorf("FilledByID = %v, want %d", p.FilledByID, pharmacist.ID)
	}
	if p.FilledAt == nil {
		t.Error("FilledAt not set")
	}
}

func TestFillAuthorization(t *testing.T) {
	now := time.Now().UTC()

	p := newDraft(t)
	if err := p.Issue(doctor, now); err != nil {
		t.Fatal(err)
	}

	// Doctors and patients cannot fill, not even the prescriber.
	for _, actor := range []user.User{doctor, patient} {
		err := p.Fill(actor, now)
		if !errs.Is(err, errs.KindAuthorization) {
			t.Errorf("%s: err = %v, want authorization error", actor.Username, err)
		}
	}
}

func TestFillRequiresIssued(t *testing.T) {
	now := time.Now().UTC()

	p := newDraft(t)
	err := p.Fill(pharmacist, now)
	if !errs.Is(err, errs.KindInvalidState) {
		t.Errorf("fill draft: err = %v, want invalid state", err)
	}

	if err := p.Issue(doctor, now); err != nil {
		t.Fatal(err)
	}
	if err := p.Fill(pharmacist, now); err != nil {
		t.Fatal(err)
	}

	// Filled is terminal.
	err = p.Fill(pharmacist, now)
	if !errs.Is(err, errs.KindInvalidState) {
		t.Errorf("double fill: err = %v, want invalid state", err)
	}
}

func TestCancel(t *testing.T) {
	now := time.Now().UTC()

	// Cancellable from draft.
	p := newDraft(t)
	if err := p.Cancel(doctor, now); err != nil {
		t.Fatalf("cancel draft: %v", err)
	}
	if p.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", p.Status)
	}

	// Cancellable from issued.
	p = newDraft(t)
	if err := p.Issue(doctor, now); err != nil {
		t.Fatal(err)
	}
	if err := p.Cancel(doctor, now); err != nil {
		t.Fatalf("cancel issued: %v", err)
	}

	// Terminal states stay terminal.
	err := p.Cancel(doctor, now)
	if !errs.Is(err, errs.KindInvalidState) {
		t.Errorf("cancel cancelled: err = %v, want invalid state", err)
	}

	p = newDraft(t)
	if err := p.Issue(doctor, now); err != nil {
		t.Fatal(err)
	}
	if err := p.Fill(pharmacist, now); err != nil {
		t.Fatal(err)
	}
	err = p.Cancel(doctor, now)
	if !errs.Is(err, errs.KindInvalidState) {
		t.Errorf("cancel filled: err = %v, want invalid state", err)
	}
}

func TestCancelAuthorization(t *testing.T) {
	now := time.Now().UTC()

	p := newDraft(t)
	for _, actor := range []user.User{otherDoc, patient, pharmacist} {
		err := p.Cancel(actor, now)
		if !errs.Is(err, errs.KindAuthorization) {
			t.Errorf("%s: err = %v, want authorization error", actor.Username, err)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusDraft.Terminal() || StatusIssued.Terminal() {
		t.Error("draft and issued must not be terminal")
	}
	if !StatusFilled.Terminal() || !StatusCancelled.Terminal() {
		t.Error("filled and cancelled must be terminal")
	}
}

func TestLifecycleEvent(t *testing.T) {
	now := time.Now().UTC()
	p := newDraft(t)
	if err := p.Issue(doctor, now); err != nil {
		t.Fatal(err)
	}

	event, err := p.LifecycleEvent(EventPrescriptionIssued)
	if err != nil {
		t.Fatalf("LifecycleEvent failed: %v", err)
	}
	if event.ID == "" {
		t.Error("event ID missing")
	}
	if event.EventType != EventPrescriptionIssued {
		t.Errorf("event type = %s", event.EventType)
	}
	if len(event.Payload) == 0 {
		t.Error("payload empty")
	}
}
