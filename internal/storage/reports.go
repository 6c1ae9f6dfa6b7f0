package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/toolscout/catalogd/internal/domain"
)

// MemoryReportStore keeps the latest run report per kind in memory.
type MemoryReportStore struct {
	mu      sync.RWMutex
	reports map[domain.JobKind]domain.RunReport
	failErr error
}

// NewMemoryReportStore creates an empty store.
func NewMemoryReportStore() *MemoryReportStore {
	return &MemoryReportStore{reports: make(map[domain.JobKind]domain.RunReport)}
}

// FailWith makes SaveReport return err until called again with nil.
func (s *MemoryReportStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// SaveReport replaces the stored report unless the stored one is newer.
func (s *MemoryReportStore) SaveReport(_ context.Context, r domain.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	if cur, ok := s.reports[r.Kind]; ok && cur.Timestamp.After(r.Timestamp) {
		return nil
	}
	s.reports[r.Kind] = cloneReport(r)
	return nil
}

// LatestReport returns nil, nil when nothing was saved for kind.
func (s *MemoryReportStore) LatestReport(_ context.Context, kind domain.JobKind) (*domain.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[kind]
	if !ok {
		return nil, nil
	}
	c := cloneReport(r)
	return &c, nil
}

// cloneReport deep-copies the slices and maps so callers never share state
// with the store.
func cloneReport(r domain.RunReport) domain.RunReport {
	data, err := json.Marshal(r)
	if err != nil {
		return r
	}
	var out domain.RunReport
	if err := json.Unmarshal(data, &out); err != nil {
		return r
	}
	return out
}

// FileReportStore keeps one JSON file per job kind in a directory. Writes go
// to a temporary file that is renamed over the old one, so a reader sees
// either the previous or the new report in full.
type FileReportStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileReportStore creates dir if needed.
func NewFileReportStore(dir string) (*FileReportStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir %s: %w", dir, err)
	}
	return &FileReportStore{dir: dir}, nil
}

func (s *FileReportStore) path(kind domain.JobKind) string {
	return filepath.Join(s.dir, string(kind)+".json")
}

// SaveReport atomically replaces the kind's report unless the stored one is newer.
func (s *FileReportStore) SaveReport(_ context.Context, r domain.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.read(r.Kind)
	if err != nil {
		return err
	}
	if cur != nil && cur.Timestamp.After(r.Timestamp) {
		return nil
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s report: %w", r.Kind, err)
	}
	tmp, err := os.CreateTemp(s.dir, "."+string(r.Kind)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp report: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp report: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(r.Kind)); err != nil {
		return fmt.Errorf("rename report: %w", err)
	}
	return nil
}

// LatestReport returns nil, nil when no report file exists.
func (s *FileReportStore) LatestReport(_ context.Context, kind domain.JobKind) (*domain.RunReport, error) {
	return s.read(kind)
}

func (s *FileReportStore) read(kind domain.JobKind) (*domain.RunReport, error) {
	data, err := os.ReadFile(s.path(kind))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s report: %w", kind, err)
	}
	var r domain.RunReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode %s report: %w", kind, err)
	}
	return &r, nil
}
