package vision

import (
	"encoding/json"
	"testing"

	"github.com/mediauth/go-rx/internal/domain/errs"
)

const sampleJSON = `{
	"doctor_name": "Dr. Asha Rao",
	"patient_name": "John Doe",
	"date": "2025-03-14",
	"diagnosis": "sinusitis",
	"medicines": [
		{
			"medicine_name": "Amoxicillin",
			"dosage": "500mg",
			"frequency": "three times daily",
			"duration": "7 days",
			"quantity": "21",
			"instructions": "after food"
		}
	],
	"notes": "review in one week"
}`

func TestNormalizeUnfenced(t *testing.T) {
	parsed, err := Normalize(sampleJSON)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if parsed.DoctorName != "Dr. Asha Rao" {
		t.Errorf("doctor = %q", parsed.DoctorName)
	}
	if len(parsed.Medicines) != 1 || parsed.Medicines[0].MedicineName != "Amoxicillin" {
		t.Errorf("medicines = %+v", parsed.Medicines)
	}
}

func TestNormalizeFenceStyles(t *testing.T) {
	fenced := map[string]string{
		"json fence":     "```json\n" + sampleJSON + "\n```",
		"plain fence":    "```\n" + sampleJSON + "\n```",
		"fence preamble": "Here is the extracted data:\n```json\n" + sampleJSON + "\n```\nLet me know if you need more.",
	}

	want, err := Normalize(sampleJSON)
	if err != nil {
		t.Fatal(err)
	}

	for name, raw := range fenced {
		t.Run(name, func(t *testing.T) {
			got, err := Normalize(raw)
			if err != nil {
				t.Fatalf("Normalize failed: %v", err)
			}
			if got.DoctorName != want.DoctorName || got.Diagnosis != want.Diagnosis ||
				len(got.Medicines) != len(want.Medicines) {
				t.Errorf("fenced result differs from unfenced: %+v vs %+v", got, want)
			}
		})
	}
}

func TestNormalizeMalformed(t *testing.T) {
	for _, raw := range []string{
		"The image appears to show a handwritten note, not a prescription.",
		"```json\n{\"doctor_name\": \"Dr\n```",
		`{"doctor_name": `,
		"",
	} {
		_, err := Normalize(raw)
		if err == nil {
			t.Errorf("Normalize(%q) succeeded, want error", raw)
			continue
		}
		if !errs.Is(err, errs.KindNormalization) {
			t.Errorf("Normalize(%q) kind = %v, want normalization", raw, errs.KindOf(err))
		}
	}
}

func TestNormalizeDefaults(t *testing.T) {
	parsed, err := Normalize(`{}`)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if parsed.Medicines == nil {
		t.Error("medicines should default to empty slice, not nil")
	}
	if parsed.DoctorName != "" || parsed.Notes != "" {
		t.Errorf("absent fields should stay empty: %+v", parsed)
	}
}

func TestQuantityToleratesBareNumbers(t *testing.T) {
	raw := `{"medicines": [
		{"medicine_name": "A", "quantity": 30},
		{"medicine_name": "B", "quantity": "1 strip"},
		{"medicine_name": "C", "quantity": null}
	]}`

	parsed, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got := string(parsed.Medicines[0].Quantity); got != "30" {
		t.Errorf("numeric quantity = %q, want 30", got)
	}
	if got := string(parsed.Medicines[1].Quantity); got != "1 strip" {
		t.Errorf("string quantity = %q, want 1 strip", got)
	}
	if got := string(parsed.Medicines[2].Quantity); got != "" {
		t.Errorf("null quantity = %q, want empty", got)
	}
}

func TestQuantityMarshalsAsString(t *testing.T) {
	parsed, err := Normalize(`{"medicines": [{"medicine_name": "A", "quantity": 30}]}`)
	if err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(parsed)
	if err != nil {
		t.Fatal(err)
	}

	var round ParsedPrescription
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("re-unmarshal failed: %v", err)
	}
	if string(round.Medicines[0].Quantity) != "30" {
		t.Errorf("round-tripped quantity = %q", round.Medicines[0].Quantity)
	}
}
