package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mediauth/go-rx/internal/auth"
	"github.com/mediauth/go-rx/internal/domain/errs"
	"github.com/mediauth/go-rx/internal/infrastructure/postgres"
	"github.com/mediauth/go-rx/internal/infrastructure/redpanda"
)

// Repository persists uploads in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// Create persists a new upload with status processing.
func (r *Repository) Create(ctx context.Context, up *Upload) error {
	query := `
		INSERT INTO prescription_uploads
		(patient_id, image_path, original_filename, status, extracted_text, parsed_data, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := r.pool.QueryRow(ctx, query,
		up.PatientID, up.ImagePath, up.OriginalFilename, up.Status,
		up.ExtractedText, up.ParsedData, up.UploadedAt,
	).Scan(&up.ID)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

// Get retrieves an upload visible under the scope. An upload outside the
// scope reads as not found.
func (r *Repository) Get(ctx context.Context, id int64, scope auth.UploadScope) (*Upload, error) {
	if scope.None {
		return nil, errs.Newf(errs.KindNotFound, "upload %d not found", id)
	}

	query := `
		SELECT id, patient_id, image_path, original_filename, status,
		       extracted_text, parsed_data, uploaded_at, processed_at
		FROM prescription_uploads
		WHERE id = $1 AND patient_id = $2
	`
	up := &Upload{}
	err := r.pool.QueryRow(ctx, query, id, scope.PatientID).Scan(
		&up.ID, &up.PatientID, &up.ImagePath, &up.OriginalFilename, &up.Status,
		&up.ExtractedText, &up.ParsedData, &up.UploadedAt, &up.ProcessedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.Newf(errs.KindNotFound, "upload %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query upload: %w", err)
	}
	return up, nil
}

// List retrieves uploads visible under the scope, newest first.
func (r *Repository) List(ctx context.Context, scope auth.UploadScope) ([]*Upload, error) {
	if scope.None {
		return []*Upload{}, nil
	}

	query := `
		SELECT id, patient_id, image_path, original_filename, status,
		       extracted_text, parsed_data, uploaded_at, processed_at
		FROM prescription_uploads
		WHERE patient_id = $1
		ORDER BY uploaded_at DESC
	`
	rows, err := r.pool.Query(ctx, query, scope.PatientID)
	if err != nil {
		return nil, fmt.Errorf("query uploads: %w", err)
	}
	defer rows.Close()

	var list []*Upload
	for rows.Next() {
		up := &Upload{}
		err := rows.Scan(
			&up.ID, &up.PatientID, &up.ImagePath, &up.OriginalFilename, &up.Status,
			&up.ExtractedText, &up.ParsedData, &up.UploadedAt, &up.ProcessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		list = append(list, up)
	}
	return list, rows.Err()
}

// MarkProcessing resets an upload to processing before a rerun, clearing
// the processed-at timestamp to keep the status invariant.
func (r *Repository) MarkProcessing(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE prescription_uploads SET status = $1, processed_at = NULL WHERE id = $2`,
		StatusProcessing, id)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.Newf(errs.KindNotFound, "upload %d not found", id)
	}
	return nil
}

// RecordResult applies an extraction outcome atomically and writes the
// extraction event to the outbox. Concurrent reprocess runs race here;
// the last writer wins.
func (r *Repository) RecordResult(ctx context.Context, id int64, outcome Outcome) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	update := `
		UPDATE prescription_uploads
		SET status = $1, extracted_text = $2, parsed_data = $3, processed_at = $4
		WHERE id = $5
		RETURNING patient_id
	`
	var patientID int64
	err = tx.QueryRow(ctx, update,
		outcome.Status, outcome.ExtractedText, outcome.ParsedData, outcome.ProcessedAt, id,
	).Scan(&patientID)
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Newf(errs.KindNotFound, "upload %d not found", id)
	}
	if err != nil {
		return fmt.Errorf("record result: %w", err)
	}

	payload, err := json.Marshal(extractionEventPayload{
		EventID:     uuid.New().String(),
		UploadID:    id,
		PatientID:   patientID,
		Status:      outcome.Status,
		ProcessedAt: outcome.ProcessedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	entry := &postgres.OutboxEntry{
		AggregateID:   strconv.FormatInt(id, 10),
		AggregateType: "PrescriptionUpload",
		EventType:     "UploadProcessed",
		Payload:       payload,
		Topic:         redpanda.TopicUploadExtractions,
		Key:           strconv.FormatInt(id, 10),
	}
	if err := postgres.WriteEntry(ctx, tx, entry); err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Delete removes an upload owned by the scope's patient.
func (r *Repository) Delete(ctx context.Context, id int64, scope auth.UploadScope) error {
	if scope.None {
		return errs.Newf(errs.KindNotFound, "upload %d not found", id)
	}
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM prescription_uploads WHERE id = $1 AND patient_id = $2`,
		id, scope.PatientID)
	if err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.Newf(errs.KindNotFound, "upload %d not found", id)
	}
	return nil
}

type extractionEventPayload struct {
	EventID     string    `json:"event_id"`
	UploadID    int64     `json:"upload_id"`
	PatientID   int64     `json:"patient_id"`
	Status      Status    `json:"status"`
	ProcessedAt time.Time `json:"processed_at"`
}
