package upload

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mediauth/go-rx/internal/auth"
	"github.com/mediauth/go-rx/internal/domain/errs"
	"github.com/mediauth/go-rx/internal/domain/user"
)

var testPatient = user.User{ID: 10, Username: "pat", Role: user.RolePatient}

type fakeStore struct {
	uploads map[int64]*Upload
	nextID  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploads: make(map[int64]*Upload), nextID: 1}
}

func (s *fakeStore) Create(ctx context.Context, up *Upload) error {
	up.ID = s.nextID
	s.nextID++
	clone := *up
	s.uploads[up.ID] = &clone
	return nil
}

func (s *fakeStore) Get(ctx context.Context, id int64, scope auth.UploadScope) (*Upload, error) {
	up, ok := s.uploads[id]
	if !ok || scope.None || up.PatientID != scope.PatientID {
		return nil, errs.Newf(errs.KindNotFound, "upload %d not found", id)
	}
	clone := *up
	return &clone, nil
}

func (s *fakeStore) List(ctx context.Context, scope auth.UploadScope) ([]*Upload, error) {
	if scope.None {
		return []*Upload{}, nil
	}
	var list []*Upload
	for _, up := range s.uploads {
		if up.PatientID == scope.PatientID {
			clone := *up
			list = append(list, &clone)
		}
	}
	return list, nil
}

func (s *fakeStore) MarkProcessing(ctx context.Context, id int64) error {
	up, ok := s.uploads[id]
	if !ok {
		return errs.Newf(errs.KindNotFound, "upload %d not found", id)
	}
	up.Status = StatusProcessing
	up.ProcessedAt = nil
	return nil
}

func (s *fakeStore) RecordResult(ctx context.Context, id int64, outcome Outcome) error {
	up, ok := s.uploads[id]
	if !ok {
		return errs.Newf(errs.KindNotFound, "upload %d not found", id)
	}
	up.Status = outcome.Status
	up.ExtractedText = outcome.ExtractedText
	up.ParsedData = outcome.ParsedData
	processedAt := outcome.ProcessedAt
	up.ProcessedAt = &processedAt
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, id int64, scope auth.UploadScope) error {
	up, ok := s.uploads[id]
	if !ok || scope.None || up.PatientID != scope.PatientID {
		return errs.Newf(errs.KindNotFound, "upload %d not found", id)
	}
	delete(s.uploads, id)
	return nil
}

type fakeFiles struct {
	files   map[string][]byte
	readErr error
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{files: make(map[string][]byte)}
}

func (f *fakeFiles) Save(name string, data []byte) (string, error) {
	path := "mem://" + name
	f.files[path] = data
	return path, nil
}

func (f *fakeFiles) Read(path string) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	data, ok := f.files[path]
	if !ok {
		return nil, errors.New("missing file")
	}
	return data, nil
}

func (f *fakeFiles) Remove(path string) error {
	delete(f.files, path)
	return nil
}

type fakeExtractor struct {
	raw   string
	err   error
	calls int
}

func (e *fakeExtractor) Extract(ctx context.Context, image []byte) (string, error) {
	e.calls++
	if e.err != nil {
		return "", e.err
	}
	return e.raw, nil
}

const goodModelOutput = "```json\n" +
	`{"doctor_name":"Dr. Rao","medicines":[{"medicine_name":"Amoxicillin","quantity":"21"}]}` +
	"\n```"

func newService(store Store, files FileStore, ex Extractor) *Service {
	return NewService(store, files, ex, nil, nil)
}

func TestCreateSuccess(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, newFakeFiles(), &fakeExtractor{raw: goodModelOutput})

	up, err := svc.Create(context.Background(), testPatient, "rx.jpg", []byte("img"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if up.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", up.Status)
	}
	if up.ExtractedText != goodModelOutput {
		t.Errorf("extracted text = %q", up.ExtractedText)
	}
	if up.ProcessedAt == nil {
		t.Error("ProcessedAt not set on completed upload")
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(up.ParsedData, &parsed); err != nil {
		t.Fatalf("parsed data not JSON: %v", err)
	}
	if parsed["doctor_name"] != "Dr. Rao" {
		t.Errorf("parsed data = %v", parsed)
	}
}

func TestCreateEmptyImage(t *testing.T) {
	svc := newService(newFakeStore(), newFakeFiles(), &fakeExtractor{raw: goodModelOutput})

	_, err := svc.Create(context.Background(), testPatient, "rx.jpg", nil)
	if !errs.Is(err, errs.KindValidation) {
		t.Errorf("err = %v, want validation error", err)
	}
}

func TestCreateExtractionFailureIsAbsorbed(t *testing.T) {
	store := newFakeStore()
	ex := &fakeExtractor{err: errs.New(errs.KindRemoteCall, "api unreachable")}
	svc := newService(store, newFakeFiles(), ex)

	up, err := svc.Create(context.Background(), testPatient, "rx.jpg", []byte("img"))
	if err != nil {
		t.Fatalf("Create must not fail on extraction error, got %v", err)
	}

	if up.Status != StatusFailed {
		t.Errorf("status = %s, want failed", up.Status)
	}
	if !strings.Contains(up.ExtractedText, "extraction failed") {
		t.Errorf("diagnostic missing: %q", up.ExtractedText)
	}
	if up.ProcessedAt == nil {
		t.Error("ProcessedAt not set on failed upload")
	}
	if string(up.ParsedData) != "{}" {
		t.Errorf("parsed data = %s, want {}", up.ParsedData)
	}
}

func TestCreateGibberishOutputPreservesRaw(t *testing.T) {
	store := newFakeStore()
	raw := "I cannot read this image clearly."
	svc := newService(store, newFakeFiles(), &fakeExtractor{raw: raw})

	up, err := svc.Create(context.Background(), testPatient, "rx.jpg", []byte("img"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if up.Status != StatusFailed {
		t.Errorf("status = %s, want failed", up.Status)
	}
	// Raw model output kept for audit even though it did not parse.
	if up.ExtractedText != raw {
		t.Errorf("extracted text = %q, want raw output", up.ExtractedText)
	}
	if string(up.ParsedData) != "{}" {
		t.Errorf("parsed data = %s, want {}", up.ParsedData)
	}
}

func TestGetScoping(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, newFakeFiles(), &fakeExtractor{raw: goodModelOutput})

	up, err := svc.Create(context.Background(), testPatient, "rx.jpg", []byte("img"))
	if err != nil {
		t.Fatal(err)
	}

	// The owner sees it.
	if _, err := svc.Get(context.Background(), testPatient, up.ID); err != nil {
		t.Errorf("owner read failed: %v", err)
	}

	// Everyone else reads not-found, never forbidden.
	others := []user.User{
		{ID: 11, Role: user.RolePatient},
		{ID: 1, Role: user.RoleDoctor},
		{ID: 2, Role: user.RolePharmacist},
	}
	for _, actor := range others {
		_, err := svc.Get(context.Background(), actor, up.ID)
		if !errs.Is(err, errs.KindNotFound) {
			t.Errorf("actor %d: err = %v, want not found", actor.ID, err)
		}
	}
}

func TestDeleteRemovesImage(t *testing.T) {
	store := newFakeStore()
	files := newFakeFiles()
	svc := newService(store, files, &fakeExtractor{raw: goodModelOutput})

	up, err := svc.Create(context.Background(), testPatient, "rx.jpg", []byte("img"))
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Delete(context.Background(), testPatient, up.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if len(files.files) != 0 {
		t.Error("image not removed")
	}
	if _, err := svc.Get(context.Background(), testPatient, up.ID); !errs.Is(err, errs.KindNotFound) {
		t.Errorf("deleted upload still readable: %v", err)
	}
}

func TestReprocessOverwritesPriorResult(t *testing.T) {
	store := newFakeStore()
	files := newFakeFiles()
	ex := &fakeExtractor{err: errs.New(errs.KindRemoteCall, "api down")}
	svc := newService(store, files, ex)

	up, err := svc.Create(context.Background(), testPatient, "rx.jpg", []byte("img"))
	if err != nil {
		t.Fatal(err)
	}
	if up.Status != StatusFailed {
		t.Fatalf("setup: status = %s", up.Status)
	}

	// The API recovers; reprocessing succeeds and overwrites.
	ex.err = nil
	ex.raw = goodModelOutput

	up, err = svc.Reprocess(context.Background(), testPatient, up.ID)
	if err != nil {
		t.Fatalf("Reprocess failed: %v", err)
	}
	if up.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", up.Status)
	}
	if ex.calls != 2 {
		t.Errorf("extractor calls = %d, want 2", ex.calls)
	}
}

func TestReprocessMissingImage(t *testing.T) {
	store := newFakeStore()
	files := newFakeFiles()
	svc := newService(store, files, &fakeExtractor{raw: goodModelOutput})

	up, err := svc.Create(context.Background(), testPatient, "rx.jpg", []byte("img"))
	if err != nil {
		t.Fatal(err)
	}

	files.readErr = errors.New("disk gone")

	up, err = svc.Reprocess(context.Background(), testPatient, up.ID)
	if err != nil {
		t.Fatalf("Reprocess must absorb read failures, got %v", err)
	}
	if up.Status != StatusFailed {
		t.Errorf("status = %s, want failed", up.Status)
	}
	if !strings.Contains(up.ExtractedText, "reprocessing failed") {
		t.Errorf("diagnostic missing: %q", up.ExtractedText)
	}
}

func TestReprocessNotOwned(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, newFakeFiles(), &fakeExtractor{raw: goodModelOutput})

	up, err := svc.Create(context.Background(), testPatient, "rx.jpg", []byte("img"))
	if err != nil {
		t.Fatal(err)
	}

	other := user.User{ID: 99, Role: user.RolePatient}
	_, err = svc.Reprocess(context.Background(), other, up.ID)
	if !errs.Is(err, errs.KindNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestProcessedAtInvariant(t *testing.T) {
	store := newFakeStore()
	files := newFakeFiles()
	svc := newService(store, files, &fakeExtractor{raw: goodModelOutput})

	up, err := svc.Create(context.Background(), testPatient, "rx.jpg", []byte("img"))
	if err != nil {
		t.Fatal(err)
	}

	// Terminal record carries a processed timestamp.
	stored := store.uploads[up.ID]
	if stored.Status == StatusProcessing {
		t.Fatalf("unexpected status %s", stored.Status)
	}
	if stored.ProcessedAt == nil {
		t.Error("terminal upload missing ProcessedAt")
	}

	// While reprocessing, MarkProcessing clears the timestamp.
	if err := store.MarkProcessing(context.Background(), up.ID); err != nil {
		t.Fatal(err)
	}
	if stored.Status != StatusProcessing || stored.ProcessedAt != nil {
		t.Errorf("processing upload must have nil ProcessedAt: %+v", stored)
	}
}
