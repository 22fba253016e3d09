// Package vision turns photographed prescriptions into structured medicine
// data by calling a remote vision-language model and normalizing its output.
package vision

import (
	"encoding/json"
	"strings"

	"github.com/mediauth/go-rx/internal/domain/errs"
)

// Medicine is one extracted medicine line. All fields are free text as
// read off the prescription.
type Medicine struct {
	MedicineName string     `json:"medicine_name"`
	Dosage       string     `json:"dosage"`
	Frequency    string     `json:"frequency"`
	Duration     string     `json:"duration"`
	Quantity     looseValue `json:"quantity"`
	Instructions string     `json:"instructions"`
}

// ParsedPrescription is the structured record the remote model is asked
// to produce. Absent fields stay empty; absence is not an error.
type ParsedPrescription struct {
	DoctorName  string     `json:"doctor_name"`
	PatientName string     `json:"patient_name"`
	Date        string     `json:"date"`
	Diagnosis   string     `json:"diagnosis"`
	Medicines   []Medicine `json:"medicines"`
	Notes       string     `json:"notes"`
}

// looseValue accepts either a JSON string or a bare number. Models do
// not reliably quote quantities.
type looseValue string

func (v *looseValue) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = looseValue(s)
		return nil
	}
	if string(data) == "null" {
		*v = ""
		return nil
	}
	*v = looseValue(data)
	return nil
}

func (v looseValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(v))
}

// Normalize parses raw model output into a ParsedPrescription. The model
// may wrap its JSON in ```json or plain ``` fences; either style is
// stripped before parsing, falling back to the trimmed raw text. A parse
// failure is a normalization error; the caller keeps the raw text for
// audit.
func Normalize(raw string) (*ParsedPrescription, error) {
	body := stripFences(raw)

	var parsed ParsedPrescription
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return nil, errs.Wrap(errs.KindNormalization, "malformed model output", err)
	}
	if parsed.Medicines == nil {
		parsed.Medicines = []Medicine{}
	}
	return &parsed, nil
}

// stripFences removes a leading markdown code fence, preferring the
// ```json form over a generic ``` pair.
func stripFences(raw string) string {
	if _, after, found := strings.Cut(raw, "```json"); found {
		body, _, _ := strings.Cut(after, "```")
		return strings.TrimSpace(body)
	}
	if _, after, found := strings.Cut(raw, "```"); found {
		body, _, _ := strings.Cut(after, "```")
		return strings.TrimSpace(body)
	}
	return strings.TrimSpace(raw)
}
