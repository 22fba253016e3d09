package prescription

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of lifecycle event published downstream.
type EventType string

const (
	EventPrescriptionCreated   EventType = "PrescriptionCreated"
	EventPrescriptionIssued    EventType = "PrescriptionIssued"
	EventPrescriptionFilled    EventType = "PrescriptionFilled"
	EventPrescriptionCancelled EventType = "PrescriptionCancelled"
)

// Event is a lifecycle event written to the outbox alongside the state
// change it describes.
type Event struct {
	ID         string          `json:"id"`
	EventType  EventType       `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewEvent wraps a payload as a lifecycle event.
func NewEvent(eventType EventType, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:         uuid.New().String(),
		EventType:  eventType,
		Payload:    data,
		OccurredAt: time.Now().UTC(),
	}, nil
}

// LifecyclePayload is the wire payload for every prescription lifecycle
// event. Optional fields stay empty for transitions they don't apply to.
type LifecyclePayload struct {
	PrescriptionID int64      `json:"prescription_id"`
	Identifier     string     `json:"identifier"`
	DoctorID       int64      `json:"doctor_id"`
	PatientID      int64      `json:"patient_id"`
	Status         Status     `json:"status"`
	ItemCount      int        `json:"item_count"`
	IssuedAt       *time.Time `json:"issued_at,omitempty"`
	FilledByID     *int64     `json:"filled_by_id,omitempty"`
	FilledAt       *time.Time `json:"filled_at,omitempty"`
}

// LifecycleEvent builds the event describing the prescription's current
// state under the given event type.
func (p *Prescription) LifecycleEvent(eventType EventType) (*Event, error) {
	return NewEvent(eventType, LifecyclePayload{
		PrescriptionID: p.ID,
		Identifier:     p.Identifier,
		DoctorID:       p.DoctorID,
		PatientID:      p.PatientID,
		Status:         p.Status,
		ItemCount:      len(p.Items),
		IssuedAt:       p.IssuedAt,
		FilledByID:     p.FilledByID,
		FilledAt:       p.FilledAt,
	})
}
