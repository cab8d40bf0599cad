// Package store persists finalized TestRun records and the per-project
// last-failed index. Three backends share one contract: an in-memory map,
// a JSON state file, and PostgreSQL.
package store

import (
	"context"

	"github.com/testwarden/testwarden/internal/testrun"
)

// Store is the Result Store contract. Writes are atomic per record: a reader
// never observes a partially written TestRun.
type Store interface {
	// Put persists a finalized run together with its full raw output.
	Put(ctx context.Context, run *testrun.TestRun, rawOutput string) error

	// Get returns the run with the given id, or a NotFoundError.
	Get(ctx context.Context, id string) (*testrun.TestRun, error)

	// GetRaw returns the full untruncated output captured for a run.
	GetRaw(ctx context.Context, id string) (string, error)

	// ListIDs returns all stored run ids in insertion order.
	ListIDs(ctx context.Context) ([]string, error)

	// GetLastFailed returns the ordered test ids that failed in the most
	// recent completed run for the project. An unknown project yields an
	// empty list, not an error.
	GetLastFailed(ctx context.Context, projectPath string) ([]string, error)

	// PutLastFailed overwrites the last-failed index entry wholesale.
	PutLastFailed(ctx context.Context, projectPath string, testIDs []string) error

	// Close releases backend resources.
	Close()
}
