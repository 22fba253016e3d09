package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mediauth/go-rx/internal/api/middleware"
	"github.com/mediauth/go-rx/internal/auth"
	"github.com/mediauth/go-rx/internal/domain/errs"
	"github.com/mediauth/go-rx/internal/domain/prescription"
	"github.com/mediauth/go-rx/internal/domain/user"
	"github.com/mediauth/go-rx/internal/observability/metrics"
)

// PrescriptionStore is the persistence surface the handler needs.
type PrescriptionStore interface {
	Create(ctx context.Context, p *prescription.Prescription) error
	Get(ctx context.Context, id int64, scope auth.PrescriptionScope) (*prescription.Prescription, error)
	List(ctx context.Context, scope auth.PrescriptionScope) ([]*prescription.Prescription, error)
	SaveTransition(ctx context.Context, p *prescription.Prescription, eventType prescription.EventType) error
	Update(ctx context.Context, p *prescription.Prescription, items []prescription.Item) error
	Delete(ctx context.Context, id, doctorID int64) error
}

// PatientDirectory resolves and lists patients.
type PatientDirectory interface {
	GetPatient(ctx context.Context, id int64) (user.User, error)
	ListPatients(ctx context.Context) ([]user.User, error)
}

// PrescriptionHandler handles prescription endpoints.
type PrescriptionHandler struct {
	store    PrescriptionStore
	patients PatientDirectory
	metrics  *metrics.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewPrescriptionHandler creates a new handler.
func NewPrescriptionHandler(store PrescriptionStore, patients PatientDirectory, m *metrics.Metrics, logger *zap.Logger) *PrescriptionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionHandler{
		store:    store,
		patients: patients,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("prescription-handler"),
	}
}

// Routes returns the handler routes.
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/issue", h.Issue)
	r.Post("/{id}/fill", h.Fill)
	return r
}

// CreateRequest is the request body for creating a prescription.
type CreateRequest struct {
	PatientID int64               `json:"patient_id"`
	Diagnosis string              `json:"diagnosis"`
	Notes     string              `json:"notes"`
	Items     []prescription.Item `json:"items"`
}

// Create handles POST /prescriptions
func (h *PrescriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "create_prescription")
	defer span.End()

	actor, ok := middleware.GetUser(ctx)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if err := auth.Require(actor, auth.ActionPrescriptionCreate); err != nil {
		writeError(w, err)
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	patient, err := h.patients.GetPatient(ctx, req.PatientID)
	if err != nil {
		writeError(w, err)
		return
	}

	p, err := prescription.New(actor, patient, req.Diagnosis, req.Notes, req.Items)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.store.Create(ctx, p); err != nil {
		h.logger.Error("create failed", zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(ctx)))
		writeError(w, err)
		return
	}
	span.SetAttributes(attribute.String("prescription_id", p.Identifier))
	if h.metrics != nil {
		h.metrics.PrescriptionsCreated.Inc()
	}

	writeJSON(w, http.StatusCreated, p)
}

// List handles GET /prescriptions
func (h *PrescriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := middleware.GetUser(ctx)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if err := auth.Require(actor, auth.ActionPrescriptionList); err != nil {
		writeError(w, err)
		return
	}

	list, err := h.store.List(ctx, auth.PrescriptionListScope(actor))
	if err != nil {
		h.logger.Error("list failed", zap.Error(err))
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*prescription.Prescription{}
	}

	writeJSON(w, http.StatusOK, list)
}

// Get handles GET /prescriptions/{id}
func (h *PrescriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := middleware.GetUser(ctx)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if err := auth.Require(actor, auth.ActionPrescriptionRead); err != nil {
		writeError(w, err)
		return
	}

	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	p, err := h.store.Get(ctx, id, auth.PrescriptionReadScope(actor))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// UpdateRequest is the request body for updating a prescription. Nil
// fields are left unchanged.
type UpdateRequest struct {
	Diagnosis *string             `json:"diagnosis"`
	Notes     *string             `json:"notes"`
	Status    *string             `json:"status"`
	Items     []prescription.Item `json:"items"`
}

// Update handles PUT /prescriptions/{id}. Doctors edit the clinical
// content of their own prescriptions. A pharmacist may only move an
// issued prescription to filled, which is the same transition as
// POST /{id}/fill.
func (h *PrescriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := middleware.GetUser(ctx)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if err := auth.Require(actor, auth.ActionPrescriptionUpdate); err != nil {
		writeError(w, err)
		return
	}

	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	p, err := h.store.Get(ctx, id, auth.PrescriptionReadScope(actor))
	if err != nil {
		writeError(w, err)
		return
	}

	if actor.Role == user.RolePharmacist {
		if req.Status == nil || prescription.Status(*req.Status) != prescription.StatusFilled {
			writeError(w, errs.New(errs.KindAuthorization,
				"pharmacists may only update status to filled"))
			return
		}
		h.fill(ctx, w, actor, p)
		return
	}

	if req.Status != nil && prescription.Status(*req.Status) != p.Status {
		writeError(w, errs.New(errs.KindValidation,
			"status changes go through the issue and fill endpoints"))
		return
	}
	if req.Diagnosis != nil {
		if *req.Diagnosis == "" {
			writeError(w, errs.New(errs.KindValidation, "diagnosis is required"))
			return
		}
		p.Diagnosis = *req.Diagnosis
	}
	if req.Notes != nil {
		p.Notes = *req.Notes
	}
	if req.Items != nil {
		if err := prescription.ValidateItems(req.Items); err != nil {
			writeError(w, err)
			return
		}
	}
	p.UpdatedAt = time.Now().UTC()

	if err := h.store.Update(ctx, p, req.Items); err != nil {
		h.logger.Error("update failed", zap.Error(err), zap.Int64("id", id))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// Delete handles DELETE /prescriptions/{id}
func (h *PrescriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := middleware.GetUser(ctx)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if err := auth.Require(actor, auth.ActionPrescriptionDelete); err != nil {
		writeError(w, err)
		return
	}

	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.store.Delete(ctx, id, actor.ID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Issue handles POST /prescriptions/{id}/issue
func (h *PrescriptionHandler) Issue(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "issue_prescription")
	defer span.End()

	actor, ok := middleware.GetUser(ctx)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if err := auth.Require(actor, auth.ActionPrescriptionIssue); err != nil {
		writeError(w, err)
		return
	}

	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	p, err := h.store.Get(ctx, id, auth.PrescriptionReadScope(actor))
	if err != nil {
		writeError(w, err)
		return
	}

	if err := p.Issue(actor, time.Now().UTC()); err != nil {
		writeError(w, err)
		return
	}

	if err := h.store.SaveTransition(ctx, p, prescription.EventPrescriptionIssued); err != nil {
		h.logger.Error("issue failed", zap.Error(err), zap.Int64("id", id))
		writeError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.PrescriptionsIssued.Inc()
	}

	writeJSON(w, http.StatusOK, p)
}

// Fill handles POST /prescriptions/{id}/fill
func (h *PrescriptionHandler) Fill(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "fill_prescription")
	defer span.End()

	actor, ok := middleware.GetUser(ctx)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if err := auth.Require(actor, auth.ActionPrescriptionFill); err != nil {
		writeError(w, err)
		return
	}

	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	p, err := h.store.Get(ctx, id, auth.PrescriptionReadScope(actor))
	if err != nil {
		writeError(w, err)
		return
	}

	h.fill(ctx, w, actor, p)
}

func (h *PrescriptionHandler) fill(ctx context.Context, w http.ResponseWriter, actor user.User, p *prescription.Prescription) {
	if err := p.Fill(actor, time.Now().UTC()); err != nil {
		writeError(w, err)
		return
	}

	if err := h.store.SaveTransition(ctx, p, prescription.EventPrescriptionFilled); err != nil {
		h.logger.Error("fill failed", zap.Error(err), zap.Int64("id", p.ID))
		writeError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.PrescriptionsFilled.Inc()
	}

	writeJSON(w, http.StatusOK, p)
}

// ListPatients handles GET /patients
func (h *PrescriptionHandler) ListPatients(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := middleware.GetUser(ctx)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if err := auth.Require(actor, auth.ActionPatientList); err != nil {
		writeError(w, err)
		return
	}

	patients, err := h.patients.ListPatients(ctx)
	if err != nil {
		h.logger.Error("patient list failed", zap.Error(err))
		writeError(w, err)
		return
	}
	if patients == nil {
		patients = []user.User{}
	}

	writeJSON(w, http.StatusOK, patients)
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, errs.Newf(errs.KindValidation, "invalid id %q", raw)
	}
	return id, nil
}
