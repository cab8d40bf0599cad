package store

import (
	"context"
	"sync"

	"github.com/testwarden/testwarden/internal/errors"
	"github.com/testwarden/testwarden/internal/testrun"
)

// MemoryStore keeps everything in process memory. Used for tests and for
// one-shot CLI runs where persistence across invocations is not needed.
type MemoryStore struct {
	mu         sync.RWMutex
	runs       map[string]*testrun.TestRun
	raw        map[string]string
	order      []string
	lastFailed map[string][]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		runs:       make(map[string]*testrun.TestRun),
		raw:        make(map[string]string),
		lastFailed: make(map[string][]string),
	}
}

func (s *MemoryStore) Put(_ context.Context, run *testrun.TestRun, rawOutput string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; !exists {
		s.order = append(s.order, run.ID)
	}
	s.runs[run.ID] = run.Clone()
	s.raw[run.ID] = rawOutput
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*testrun.TestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, errors.NewNotFoundError(id)
	}
	return run.Clone(), nil
}

func (s *MemoryStore) GetRaw(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.raw[id]
	if !ok {
		return "", errors.NewNotFoundError(id)
	}
	return raw, nil
}

func (s *MemoryStore) ListIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

func (s *MemoryStore) GetLastFailed(_ context.Context, projectPath string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.lastFailed[projectPath]...), nil
}

func (s *MemoryStore) PutLastFailed(_ context.Context, projectPath string, testIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFailed[projectPath] = append([]string(nil), testIDs...)
	return nil
}

func (s *MemoryStore) Close() {}
