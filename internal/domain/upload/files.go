package upload

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileStore abstracts where uploaded images live. File storage is an
// external collaborator; the disk store below is the default.
type FileStore interface {
	Save(originalFilename string, data []byte) (path string, err error)
	Read(path string) ([]byte, error)
	Remove(path string) error
}

// DiskStore keeps images under a local directory with uuid-based names.
type DiskStore struct {
	dir string
}

// NewDiskStore creates the directory if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

// Save writes the image under a fresh name, keeping the original
// extension for content-type sniffing downstream.
func (s *DiskStore) Save(originalFilename string, data []byte) (string, error) {
	name := uuid.New().String() + filepath.Ext(originalFilename)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return path, nil
}

func (s *DiskStore) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}

func (s *DiskStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}
