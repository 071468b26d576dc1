package holding

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cuemby/tapeline/pkg/types"
)

// Layout decides where holding files live and manages their directories
type Layout interface {
	// Prepare creates the run directory on disk
	Prepare(disk *Disk) error

	// ChunkPath returns the file name for the job's n-th chunk on disk
	ChunkPath(disk *Disk, job *types.DiskJob, n int) string

	// Remove deletes one holding file
	Remove(path string) error

	// Cleanup removes the run directory if it is empty
	Cleanup(disk *Disk) error
}

// LocalLayout keeps one directory per run under every holding disk:
//
//	<holding-path>/<run-id>/<host>.<disk>.<level>[.<chunk>]
type LocalLayout struct {
	runID string
}

// NewLocalLayout creates a layout for runID
func NewLocalLayout(runID string) *LocalLayout {
	return &LocalLayout{runID: runID}
}

// RunDir returns the run directory on disk
func (l *LocalLayout) RunDir(disk *Disk) string {
	return filepath.Join(disk.Path, l.runID)
}

// Prepare creates the run directory
func (l *LocalLayout) Prepare(disk *Disk) error {
	if err := os.MkdirAll(l.RunDir(disk), 0750); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	return nil
}

// ChunkPath returns the holding file name for a chunk
func (l *LocalLayout) ChunkPath(disk *Disk, job *types.DiskJob, n int) string {
	return Filename(l.RunDir(disk), job, n)
}

// Remove deletes a holding file; a missing file is not an error
func (l *LocalLayout) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove holding file: %w", err)
	}
	return nil
}

// Cleanup removes the run directory when nothing was left behind
func (l *LocalLayout) Cleanup(disk *Disk) error {
	dir := l.RunDir(disk)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("%s still holds %d files", dir, len(entries))
	}
	return os.Remove(dir)
}

// Filename derives the holding file name for a job chunk under dir
func Filename(dir string, job *types.DiskJob, n int) string {
	name := SanitizeName(job.Host) + "." + SanitizeName(job.Disk) + "." + strconv.Itoa(job.Level)
	if n > 0 {
		name += "." + strconv.Itoa(n)
	}
	return filepath.Join(dir, name)
}

// SanitizeName makes a host or disk name safe to use as a path element
func SanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}
