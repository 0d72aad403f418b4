package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
)

// ErrNotJSON is returned by FileStore.Put for values that are not valid JSON.
var ErrNotJSON = errors.New("file store values must be JSON")

// FileStore implements domain.StateStore as a single human readable JSON
// object. Writes are atomic (write + rename) and serialized across processes
// with an flock on a sibling lock file, so the CLI can edit state while the
// host runs.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file store at path. The file is created on first Put.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the state file path.
func (s *FileStore) Path() string {
	return s.path
}

// Get returns the value stored under key.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	entries, err := s.readAll()
	if err != nil {
		return nil, err
	}
	v, ok := entries[key]
	if !ok {
		return nil, fmt.Errorf("key %q: %w", key, domain.ErrNotFound)
	}
	return v, nil
}

// Put stores value under key.
func (s *FileStore) Put(_ context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("key %q: %w", key, ErrNotJSON)
	}
	return s.update(func(entries map[string]json.RawMessage) {
		entries[key] = append(json.RawMessage(nil), value...)
	})
}

// Delete removes key.
func (s *FileStore) Delete(_ context.Context, key string) error {
	return s.update(func(entries map[string]json.RawMessage) {
		delete(entries, key)
	})
}

// Close is a no-op; every write is already on disk.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) readAll() (map[string]json.RawMessage, error) {
	entries := make(map[string]json.RawMessage)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode state file: %w", err)
	}
	return entries, nil
}

func (s *FileStore) update(fn func(map[string]json.RawMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockFile, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	entries, err := s.readAll()
	if err != nil {
		return err
	}
	fn(entries)
	return s.atomicWrite(entries)
}

func (s *FileStore) atomicWrite(entries map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	// Temp file unique per process to avoid racing another writer
	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}

// Ensure FileStore implements domain.StateStore.
var _ domain.StateStore = (*FileStore)(nil)
