package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// Store persists the serialized queue under a namespace. Load returns
// (nil, nil) when nothing was saved yet.
type Store interface {
	Load(ctx context.Context, namespace string) ([]byte, error)
	Save(ctx context.Context, namespace string, data []byte) error
}

// MemoryStore keeps data in process memory. It survives Queue restarts
// within one process, which is what tests need.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Load(ctx context.Context, namespace string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[namespace]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Save(ctx context.Context, namespace string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[namespace] = append([]byte(nil), data...)
	return nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// FileStore writes one JSON file per namespace under dir. Writes go to a
// temp file that is renamed over the target, so a crash mid-write leaves
// the previous queue intact.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(namespace string) string {
	return filepath.Join(s.dir, unsafeChars.ReplaceAllString(namespace, "_")+".json")
}

func (s *FileStore) Load(ctx context.Context, namespace string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(namespace))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", namespace, err)
	}
	return data, nil
}

func (s *FileStore) Save(ctx context.Context, namespace string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(namespace)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
