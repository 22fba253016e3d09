package prescription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mediauth/go-rx/internal/auth"
	"github.com/mediauth/go-rx/internal/domain/errs"
	"github.com/mediauth/go-rx/internal/infrastructure/postgres"
	"github.com/mediauth/go-rx/internal/infrastructure/redpanda"
)

// Repository persists prescriptions in PostgreSQL. Lifecycle events are
// written to the outbox in the same transaction as the state change.
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

// Create persists a new draft prescription. The identifier is derived
// from the creation date and the assigned row ID inside the transaction,
// so it is unique and never changes afterwards.
func (r *Repository) Create(ctx context.Context, p *Prescription) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO prescriptions (doctor_id, patient_id, diagnosis, notes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err = tx.QueryRow(ctx, insert,
		p.DoctorID, p.PatientID, p.Diagnosis, p.Notes, p.Status, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}

	p.Identifier = MakeIdentifier(p.CreatedAt, p.ID)
	if _, err := tx.Exec(ctx,
		`UPDATE prescriptions SET prescription_uid = $1 WHERE id = $2`,
		p.Identifier, p.ID,
	); err != nil {
		return fmt.Errorf("set identifier: %w", err)
	}

	if err := insertItems(ctx, tx, p.ID, p.Items); err != nil {
		return err
	}

	if err := r.writeEvent(ctx, tx, p, EventPrescriptionCreated); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	r.logger.Info("prescription created",
		zap.Int64("id", p.ID),
		zap.String("identifier", p.Identifier),
		zap.Int64("doctor_id", p.DoctorID),
		zap.Int64("patient_id", p.PatientID))
	return nil
}

// Get retrieves a prescription visible under the scope. A prescription
// outside the scope reads as not found.
func (r *Repository) Get(ctx context.Context, id int64, scope auth.PrescriptionScope) (*Prescription, error) {
	if scope.None {
		return nil, errs.Newf(errs.KindNotFound, "prescription %d not found", id)
	}

	query := `
		SELECT id, prescription_uid, doctor_id, patient_id, diagnosis, notes, status,
		       created_at, updated_at, issued_at, filled_by_id, filled_at
		FROM prescriptions
		WHERE id = $1
	`
	args := []interface{}{id}
	query, args = applyScope(query, args, scope)

	p := &Prescription{}
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&p.ID, &p.Identifier, &p.DoctorID, &p.PatientID, &p.Diagnosis, &p.Notes, &p.Status,
		&p.CreatedAt, &p.UpdatedAt, &p.IssuedAt, &p.FilledByID, &p.FilledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.Newf(errs.KindNotFound, "prescription %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query prescription: %w", err)
	}

	if err := r.loadItems(ctx, []*Prescription{p}); err != nil {
		return nil, err
	}
	return p, nil
}

// List retrieves all prescriptions visible under the scope, newest first.
func (r *Repository) List(ctx context.Context, scope auth.PrescriptionScope) ([]*Prescription, error) {
	if scope.None {
		return []*Prescription{}, nil
	}

	query := `
		SELECT id, prescription_uid, doctor_id, patient_id, diagnosis, notes, status,
		       created_at, updated_at, issued_at, filled_by_id, filled_at
		FROM prescriptions
		WHERE 1 = 1
	`
	var args []interface{}
	query, args = applyScope(query, args, scope)
	query += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query prescriptions: %w", err)
	}
	defer rows.Close()

	var list []*Prescription
	for rows.Next() {
		p := &Prescription{}
		err := rows.Scan(
			&p.ID, &p.Identifier, &p.DoctorID, &p.PatientID, &p.Diagnosis, &p.Notes, &p.Status,
			&p.CreatedAt, &p.UpdatedAt, &p.IssuedAt, &p.FilledByID, &p.FilledAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan prescription: %w", err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadItems(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

// SaveTransition persists a lifecycle transition (issue, fill, cancel)
// and its event atomically. Concurrent transitions race at the storage
// layer; the last writer wins.
func (r *Repository) SaveTransition(ctx context.Context, p *Prescription, eventType EventType) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	update := `
		UPDATE prescriptions
		SET status = $1, issued_at = $2, filled_by_id = $3, filled_at = $4, updated_at = $5
		WHERE id = $6
	`
	tag, err := tx.Exec(ctx, update,
		p.Status, p.IssuedAt, p.FilledByID, p.FilledAt, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("update prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.Newf(errs.KindNotFound, "prescription %d not found", p.ID)
	}

	if err := r.writeEvent(ctx, tx, p, eventType); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	r.logger.Info("prescription transition saved",
		zap.Int64("id", p.ID),
		zap.String("status", string(p.Status)),
		zap.String("event", string(eventType)))
	return nil
}

// Update persists edited fields. When items is non-nil the existing line
// items are discarded and replaced by the supplied set.
func (r *Repository) Update(ctx context.Context, p *Prescription, items []Item) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	update := `
		UPDATE prescriptions
		SET diagnosis = $1, notes = $2, status = $3, issued_at = $4,
		    filled_by_id = $5, filled_at = $6, updated_at = $7
		WHERE id = $8
	`
	tag, err := tx.Exec(ctx, update,
		p.Diagnosis, p.Notes, p.Status, p.IssuedAt, p.FilledByID, p.FilledAt, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("update prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.Newf(errs.KindNotFound, "prescription %d not found", p.ID)
	}

	if items != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM prescription_items WHERE prescription_id = $1`, p.ID); err != nil {
			return fmt.Errorf("clear items: %w", err)
		}
		if err := insertItems(ctx, tx, p.ID, items); err != nil {
			return err
		}
		p.Items = items
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Delete removes a prescription authored by the given doctor. Items
// cascade at the schema level.
func (r *Repository) Delete(ctx context.Context, id, doctorID int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM prescriptions WHERE id = $1 AND doctor_id = $2`, id, doctorID)
	if err != nil {
		return fmt.Errorf("delete prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.Newf(errs.KindNotFound, "prescription %d not found", id)
	}
	return nil
}

func insertItems(ctx context.Context, tx pgx.Tx, prescriptionID int64, items []Item) error {
	query := `
		INSERT INTO prescription_items
		(prescription_id, medicine_name, dosage, frequency, duration, quantity, instructions)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, item := range items {
		if _, err := tx.Exec(ctx, query,
			prescriptionID, item.MedicineName, item.Dosage, item.Frequency,
			item.Duration, item.Quantity, item.Instructions,
		); err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
	}
	return nil
}

func (r *Repository) loadItems(ctx context.Context, list []*Prescription) error {
	if len(list) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(list))
	byID := make(map[int64]*Prescription, len(list))
	for _, p := range list {
		p.Items = []Item{}
		ids = append(ids, p.ID)
		byID[p.ID] = p
	}

	query := `
		SELECT prescription_id, medicine_name, dosage, frequency, duration, quantity, instructions
		FROM prescription_items
		WHERE prescription_id = ANY($1)
		ORDER BY id ASC
	`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pid int64
		var item Item
		err := rows.Scan(&pid, &item.MedicineName, &item.Dosage, &item.Frequency,
			&item.Duration, &item.Quantity, &item.Instructions)
		if err != nil {
			return fmt.Errorf("scan item: %w", err)
		}
		if p, ok := byID[pid]; ok {
			p.Items = append(p.Items, item)
		}
	}
	return rows.Err()
}

func (r *Repository) writeEvent(ctx context.Context, tx pgx.Tx, p *Prescription, eventType EventType) error {
	event, err := p.LifecycleEvent(eventType)
	if err != nil {
		return fmt.Errorf("build event: %w", err)
	}
	// The full envelope goes on the wire so consumers can deduplicate on
	// the event ID.
	envelope, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	entry := &postgres.OutboxEntry{
		AggregateID:   p.Identifier,
		AggregateType: "Prescription",
		EventType:     string(eventType),
		Payload:       envelope,
		Topic:         redpanda.TopicPrescriptionLifecycle,
		Key:           p.Identifier,
	}
	if err := postgres.WriteEntry(ctx, tx, entry); err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}
	return nil
}

// applyScope appends visibility constraints to a query.
func applyScope(query string, args []interface{}, scope auth.PrescriptionScope) (string, []interface{}) {
	if scope.DoctorID != 0 {
		args = append(args, scope.DoctorID)
		query += fmt.Sprintf(" AND doctor_id = $%d", len(args))
	}
	if scope.PatientID != 0 {
		args = append(args, scope.PatientID)
		query += fmt.Sprintf(" AND patient_id = $%d", len(args))
	}
	if scope.IssuedOnly {
		args = append(args, StatusIssued)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	return query, args
}
