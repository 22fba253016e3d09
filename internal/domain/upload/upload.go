// Package upload tracks patient-submitted prescription images and the
// outcome of running them through the vision extraction pipeline.
package upload

import (
	"encoding/json"
	"time"
)

// Status represents upload processing status.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Upload is a single prescription image and its extraction outcome.
// Invariant: ProcessedAt is set exactly when Status is not processing.
type Upload struct {
	ID               int64           `json:"id"`
	PatientID        int64           `json:"patient_id"`
	ImagePath        string          `json:"image"`
	OriginalFilename string          `json:"original_filename"`
	Status           Status          `json:"status"`
	ExtractedText    string          `json:"extracted_text"`
	ParsedData       json.RawMessage `json:"parsed_data"`
	UploadedAt       time.Time       `json:"uploaded_at"`
	ProcessedAt      *time.Time      `json:"processed_at"`
}

// Outcome is the result of one extraction run, applied atomically to the
// upload record.
type Outcome struct {
	Status        Status
	ExtractedText string
	ParsedData    json.RawMessage
	ProcessedAt   time.Time
}
