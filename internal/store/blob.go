package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrInvalidKey is returned for keys that cannot be used as a file name
var ErrInvalidKey = errors.New("store: invalid key")

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// BlobStore is a string-keyed blob store
type BlobStore interface {
	// Get returns the blob for key; ok is false when the key was never set
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Set(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// FileBlobStore keeps one file per key under a directory
type FileBlobStore struct {
	dir    string
	logger *logrus.Logger
	mu     sync.Mutex
}

// NewFileBlobStore creates the directory if needed
func NewFileBlobStore(dir string, logger *logrus.Logger) (*FileBlobStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}
	return &FileBlobStore{dir: dir, logger: logger}, nil
}

func (s *FileBlobStore) path(key string) (string, error) {
	if !keyPattern.MatchString(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dir, key+".json"), nil
}

func (s *FileBlobStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, true, nil
}

// Set writes through a temp file and rename so readers never see a partial blob
func (s *FileBlobStore) Set(_ context.Context, key string, data []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	s.logger.WithFields(logrus.Fields{"key": key, "bytes": len(data)}).Debug("Blob stored")
	return nil
}

func (s *FileBlobStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// MemoryBlobStore is a BlobStore for tests and dry runs
type MemoryBlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
	// SetErr, when non-nil, is returned by every Set
	SetErr error
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{data: make(map[string][]byte)}
}

func (s *MemoryBlobStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), d...), true, nil
}

func (s *MemoryBlobStore) Set(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetErr != nil {
		return s.SetErr
	}
	s.data[key] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryBlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// BlobPairedDevices stores the paired map as one JSON blob under PairedKey
type BlobPairedDevices struct {
	blobs BlobStore
}

func NewBlobPairedDevices(blobs BlobStore) *BlobPairedDevices {
	return &BlobPairedDevices{blobs: blobs}
}

func (p *BlobPairedDevices) GetPairedDevices(ctx context.Context) (map[string]PairedDeviceRecord, error) {
	data, ok, err := p.blobs.Get(ctx, PairedKey)
	if err != nil {
		return nil, err
	}
	records := make(map[string]PairedDeviceRecord)
	if !ok || len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode paired devices: %w", err)
	}
	return records, nil
}

func (p *BlobPairedDevices) SetPairedDevices(ctx context.Context, records map[string]PairedDeviceRecord) error {
	if records == nil {
		records = map[string]PairedDeviceRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode paired devices: %w", err)
	}
	return p.blobs.Set(ctx, PairedKey, data)
}

var (
	_ BlobStore     = (*FileBlobStore)(nil)
	_ BlobStore     = (*MemoryBlobStore)(nil)
	_ PairedDevices = (*BlobPairedDevices)(nil)
)
