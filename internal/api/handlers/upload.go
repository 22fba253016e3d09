package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mediauth/go-rx/internal/api/middleware"
	"github.com/mediauth/go-rx/internal/auth"
	"github.com/mediauth/go-rx/internal/domain/upload"
	"github.com/mediauth/go-rx/internal/domain/user"
	"github.com/mediauth/go-rx/internal/observability/metrics"
)

// maxUploadBytes caps prescription images at 10 MB.
const maxUploadBytes = 10 << 20

// UploadService is the pipeline surface the handler needs.
type UploadService interface {
	Create(ctx context.Context, patient user.User, filename string, image []byte) (*upload.Upload, error)
	Get(ctx context.Context, actor user.User, id int64) (*upload.Upload, error)
	List(ctx context.Context, actor user.User) ([]*upload.Upload, error)
	Delete(ctx context.Context, actor user.User, id int64) error
	Reprocess(ctx context.Context, actor user.User, id int64) (*upload.Upload, error)
}

// UploadHandler handles prescription image upload endpoints.
type UploadHandler struct {
	service UploadService
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewUploadHandler creates a new handler.
func NewUploadHandler(service UploadService, m *metrics.Metrics, logger *zap.Logger) *UploadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadHandler{service: service, metrics: m, logger: logger}
}

// Routes returns the handler routes.
func (h *UploadHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/reprocess", h.Reprocess)
	return r
}

// Create handles POST /uploads. Expects a multipart form with an "image"
// file field. Extraction runs before the response is written, so the
// returned record already carries the outcome, success or failure.
func (h *UploadHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := middleware.GetUser(ctx)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if err := auth.Require(actor, auth.ActionUploadCreate); err != nil {
		writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		jsonError(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		jsonError(w, "image file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		jsonError(w, "failed to read image", http.StatusBadRequest)
		return
	}

	up, err := h.service.Create(ctx, actor, header.Filename, image)
	if err != nil {
		h.logger.Error("upload create failed", zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(ctx)))
		writeError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.UploadsCreated.Inc()
	}

	writeJSON(w, http.StatusCreated, up)
}

// List handles GET /uploads
func (h *UploadHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := middleware.GetUser(ctx)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if err := auth.Require(actor, auth.ActionUploadList); err != nil {
		writeError(w, err)
		return
	}

	list, err := h.service.List(ctx, actor)
	if err != nil {
		h.logger.Error("upload list failed", zap.Error(err))
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*upload.Upload{}
	}

	writeJSON(w, http.StatusOK, list)
}

// Get handles GET /uploads/{id}
func (h *UploadHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := middleware.GetUser(ctx)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if err := auth.Require(actor, auth.ActionUploadRead); err != nil {
		writeError(w, err)
		return
	}

	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	up, err := h.service.Get(ctx, actor, id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, up)
}

// Delete handles DELETE /uploads/{id}
func (h *UploadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := middleware.GetUser(ctx)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if err := auth.Require(actor, auth.ActionUploadDelete); err != nil {
		writeError(w, err)
		return
	}

	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.service.Delete(ctx, actor, id); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Reprocess handles POST /uploads/{id}/reprocess
func (h *UploadHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := middleware.GetUser(ctx)
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if err := auth.Require(actor, auth.ActionUploadReprocess); err != nil {
		writeError(w, err)
		return
	}

	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	up, err := h.service.Reprocess(ctx, actor, id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, up)
}
