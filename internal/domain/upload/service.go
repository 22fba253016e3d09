package upload

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mediauth/go-rx/internal/auth"
	"github.com/mediauth/go-rx/internal/domain/errs"
	"github.com/mediauth/go-rx/internal/domain/user"
	"github.com/mediauth/go-rx/internal/observability/metrics"
	"github.com/mediauth/go-rx/internal/vision"
)

// Extractor turns image bytes into raw model output.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (string, error)
}

// Store is the persistence surface the service needs.
type Store interface {
	Create(ctx context.Context, up *Upload) error
	Get(ctx context.Context, id int64, scope auth.UploadScope) (*Upload, error)
	List(ctx context.Context, scope auth.UploadScope) ([]*Upload, error)
	MarkProcessing(ctx context.Context, id int64) error
	RecordResult(ctx context.Context, id int64, outcome Outcome) error
	Delete(ctx context.Context, id int64, scope auth.UploadScope) error
}

var emptyParsed = json.RawMessage(`{}`)

// Service runs the upload pipeline: persist the image, call the remote
// model, normalize, record the outcome. Extraction failures are absorbed
// into the record as status=failed; they never fail the request itself.
type Service struct {
	store     Store
	files     FileStore
	extractor Extractor
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewService creates the upload service.
func NewService(store Store, files FileStore, extractor Extractor, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		files:     files,
		extractor: extractor,
		metrics:   m,
		logger:    logger,
		tracer:    otel.Tracer("upload-service"),
	}
}

// Create stores the image, creates the record with status processing and
// runs extraction before returning, so the response already carries the
// outcome.
func (s *Service) Create(ctx context.Context, patient user.User, filename string, image []byte) (*Upload, error) {
	ctx, span := s.tracer.Start(ctx, "upload_create",
		trace.WithAttributes(attribute.Int64("patient_id", patient.ID)))
	defer span.End()

	if len(image) == 0 {
		return nil, errs.New(errs.KindValidation, "image is required")
	}

	path, err := s.files.Save(filename, image)
	if err != nil {
		return nil, err
	}

	up := &Upload{
		PatientID:        patient.ID,
		ImagePath:        path,
		OriginalFilename: filename,
		Status:           StatusProcessing,
		ParsedData:       emptyParsed,
		UploadedAt:       time.Now().UTC(),
	}
	if err := s.store.Create(ctx, up); err != nil {
		return nil, err
	}

	s.process(ctx, up, image)
	return up, nil
}

// Get returns an upload visible to the actor.
func (s *Service) Get(ctx context.Context, actor user.User, id int64) (*Upload, error) {
	return s.store.Get(ctx, id, auth.UploadOwnerScope(actor))
}

// List returns the actor's uploads.
func (s *Service) List(ctx context.Context, actor user.User) ([]*Upload, error) {
	return s.store.List(ctx, auth.UploadOwnerScope(actor))
}

// Delete removes an upload and its stored image.
func (s *Service) Delete(ctx context.Context, actor user.User, id int64) error {
	scope := auth.UploadOwnerScope(actor)
	up, err := s.store.Get(ctx, id, scope)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id, scope); err != nil {
		return err
	}
	if err := s.files.Remove(up.ImagePath); err != nil {
		s.logger.Warn("orphaned image after delete",
			zap.Int64("upload_id", id), zap.Error(err))
	}
	return nil
}

// Reprocess resets the upload to processing and reruns the full
// pipeline, overwriting prior results. Concurrent reprocess calls are
// not ordered; the last writer wins.
func (s *Service) Reprocess(ctx context.Context, actor user.User, id int64) (*Upload, error) {
	ctx, span := s.tracer.Start(ctx, "upload_reprocess",
		trace.WithAttributes(attribute.Int64("upload_id", id)))
	defer span.End()

	up, err := s.store.Get(ctx, id, auth.UploadOwnerScope(actor))
	if err != nil {
		return nil, err
	}

	if err := s.store.MarkProcessing(ctx, up.ID); err != nil {
		return nil, err
	}
	up.Status = StatusProcessing
	up.ProcessedAt = nil

	image, err := s.files.Read(up.ImagePath)
	if err != nil {
		s.record(ctx, up, Outcome{
			Status:        StatusFailed,
			ExtractedText: "reprocessing failed: " + err.Error(),
			ParsedData:    emptyParsed,
			ProcessedAt:   time.Now().UTC(),
		})
		return up, nil
	}

	s.process(ctx, up, image)
	return up, nil
}

// process runs extraction and normalization and records the outcome.
// Every failure path lands in the record with a diagnostic; nothing is
// silently dropped.
func (s *Service) process(ctx context.Context, up *Upload, image []byte) {
	ctx, span := s.tracer.Start(ctx, "upload_process",
		trace.WithAttributes(attribute.Int64("upload_id", up.ID)))
	defer span.End()

	start := time.Now()
	outcome := s.runExtraction(ctx, image)
	if s.metrics != nil {
		s.metrics.ExtractionDuration.Observe(time.Since(start).Seconds())
		s.metrics.UploadsProcessed.WithLabelValues(string(outcome.Status)).Inc()
	}

	s.record(ctx, up, outcome)
}

func (s *Service) runExtraction(ctx context.Context, image []byte) Outcome {
	now := func() time.Time { return time.Now().UTC() }

	raw, err := s.extractor.Extract(ctx, image)
	if err != nil {
		s.logger.Warn("extraction call failed", zap.Error(err))
		return Outcome{
			Status:        StatusFailed,
			ExtractedText: "extraction failed: " + err.Error(),
			ParsedData:    emptyParsed,
			ProcessedAt:   now(),
		}
	}

	parsed, err := vision.Normalize(raw)
	if err != nil {
		// Raw model output is preserved for audit even when malformed.
		s.logger.Warn("normalization failed", zap.Error(err))
		return Outcome{
			Status:        StatusFailed,
			ExtractedText: raw,
			ParsedData:    emptyParsed,
			ProcessedAt:   now(),
		}
	}

	data, err := json.Marshal(parsed)
	if err != nil {
		return Outcome{
			Status:        StatusFailed,
			ExtractedText: raw,
			ParsedData:    emptyParsed,
			ProcessedAt:   now(),
		}
	}

	return Outcome{
		Status:        StatusCompleted,
		ExtractedText: raw,
		ParsedData:    data,
		ProcessedAt:   now(),
	}
}

func (s *Service) record(ctx context.Context, up *Upload, outcome Outcome) {
	if err := s.store.RecordResult(ctx, up.ID, outcome); err != nil {
		s.logger.Error("failed to record extraction outcome",
			zap.Int64("upload_id", up.ID), zap.Error(err))
		return
	}
	up.Status = outcome.Status
	up.ExtractedText = outcome.ExtractedText
	up.ParsedData = outcome.ParsedData
	processedAt := outcome.ProcessedAt
	up.ProcessedAt = &processedAt
}
