package storage

import (
	"errors"

	"github.com/cuemby/tapeline/pkg/types"
)

// ErrRunNotFound is returned when a run id is not in the store
var ErrRunNotFound = errors.New("run not found")

// Store persists the summaries of finished runs
type Store interface {
	// Runs
	SaveRun(summary *types.RunSummary) error
	GetRun(id string) (*types.RunSummary, error)
	ListRuns() ([]*types.RunSummary, error)
	DeleteRun(id string) error

	// Utility
	Close() error
}
