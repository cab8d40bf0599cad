package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/testwarden/testwarden/internal/errors"
	"github.com/testwarden/testwarden/internal/testrun"
)

const stateFileName = "runs.json"

// fileState is the on-disk shape of the file store.
type fileState struct {
	Order      []string                    `json:"order"`
	Runs       map[string]*testrun.TestRun `json:"runs"`
	Raw        map[string]string           `json:"raw"`
	LastFailed map[string][]string         `json:"last_failed"`
}

// FileStore persists runs as a single JSON state file inside a state
// directory. Writes go through a temp file plus rename, so a reader never
// observes a partially written record.
type FileStore struct {
	mu    sync.Mutex
	dir   string
	state *fileState
}

// NewFile opens (or initializes) a file store in the given directory.
func NewFile(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}

	s := &FileStore{
		dir: dir,
		state: &fileState{
			Runs:       make(map[string]*testrun.TestRun),
			Raw:        make(map[string]string),
			LastFailed: make(map[string][]string),
		},
	}

	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if err := json.Unmarshal(data, s.state); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", s.path(), err)
	}
	return s, nil
}

func (s *FileStore) path() string {
	return filepath.Join(s.dir, stateFileName)
}

// save writes the whole state atomically.
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func (s *FileStore) Put(_ context.Context, run *testrun.TestRun, rawOutput string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.state.Runs[run.ID]; !exists {
		s.state.Order = append(s.state.Order, run.ID)
	}
	s.state.Runs[run.ID] = run.Clone()
	s.state.Raw[run.ID] = rawOutput
	return s.save()
}

func (s *FileStore) Get(_ context.Context, id string) (*testrun.TestRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.state.Runs[id]
	if !ok {
		return nil, errors.NewNotFoundError(id)
	}
	return run.Clone(), nil
}

func (s *FileStore) GetRaw(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.state.Raw[id]
	if !ok {
		return "", errors.NewNotFoundError(id)
	}
	return raw, nil
}

func (s *FileStore) ListIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.state.Order...), nil
}

func (s *FileStore) GetLastFailed(_ context.Context, projectPath string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.state.LastFailed[projectPath]...), nil
}

func (s *FileStore) PutLastFailed(_ context.Context, projectPath string, testIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastFailed[projectPath] = append([]string(nil), testIDs...)
	return s.save()
}

func (s *FileStore) Close() {}
