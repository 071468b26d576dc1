package holding

import (
	"errors"
	"fmt"

	"github.com/cuemby/tapeline/pkg/config"
	"github.com/cuemby/tapeline/pkg/log"
	"github.com/cuemby/tapeline/pkg/types"
	units "github.com/docker/go-units"
	"github.com/rs/zerolog"
)

var (
	ErrNoSpace      = errors.New("not enough free holding space")
	ErrBelowWritten = errors.New("reservation below bytes already written")
	ErrUnknownJob   = errors.New("job has no holding reservation")
)

// Disk is one configured holding directory
type Disk struct {
	Path     string
	Capacity int64

	reserved     int64
	reservations map[string]int64 // job ID -> bytes
}

// Free returns the unreserved bytes
func (d *Disk) Free() int64 {
	return d.Capacity - d.reserved
}

// Reserved returns the bytes currently reserved by jobs
func (d *Disk) Reserved() int64 {
	return d.reserved
}

// Reservation returns the bytes job holds on this disk
func (d *Disk) Reservation(jobID string) int64 {
	return d.reservations[jobID]
}

func (d *Disk) String() string {
	return fmt.Sprintf("%s (%s/%s)", d.Path, units.BytesSize(float64(d.reserved)), units.BytesSize(float64(d.Capacity)))
}

func (d *Disk) add(jobID string, delta int64) {
	d.reserved += delta
	d.reservations[jobID] += delta
	if d.reservations[jobID] == 0 {
		delete(d.reservations, jobID)
	}
}

// Chunk is one holding file of a job
type Chunk struct {
	Disk  *Disk
	Path  string
	Bytes int64
}

// Pool rations holding-disk space among jobs. It is owned by the scheduler
// and must not be shared between goroutines.
type Pool struct {
	disks    []*Disk
	chunks   map[string][]*Chunk
	layout   Layout
	disabled bool
	logger   zerolog.Logger
}

// NewPool builds the pool and prepares the run directory on every disk
func NewPool(disks []config.HoldingDisk, layout Layout) (*Pool, error) {
	p := &Pool{
		chunks: make(map[string][]*Chunk),
		layout: layout,
		logger: log.WithComponent("holding"),
	}
	for _, hd := range disks {
		d := &Disk{
			Path:         hd.Path,
			Capacity:     int64(hd.Capacity),
			reservations: make(map[string]int64),
		}
		if layout != nil {
			if err := layout.Prepare(d); err != nil {
				return nil, fmt.Errorf("failed to prepare holding disk %s: %w", d.Path, err)
			}
		}
		p.disks = append(p.disks, d)
	}
	return p, nil
}

// Disks returns the configured disks in configuration order
func (p *Pool) Disks() []*Disk {
	return p.disks
}

// Disable stops all further allocation for the run
func (p *Pool) Disable() {
	p.disabled = true
}

// Disabled reports whether allocation was disabled
func (p *Pool) Disabled() bool {
	return p.disabled
}

// FindSpace returns the disk with the most free bytes that can hold bytes,
// or nil when no disk qualifies.
func (p *Pool) FindSpace(bytes int64) *Disk {
	if p.disabled {
		return nil
	}
	var best *Disk
	for _, d := range p.disks {
		if d.Free() < bytes {
			continue
		}
		if best == nil || d.Free() > best.Free() {
			best = d
		}
	}
	return best
}

// CouldFit reports whether some disk is large enough for bytes once empty
func (p *Pool) CouldFit(bytes int64) bool {
	if p.disabled {
		return false
	}
	for _, d := range p.disks {
		if d.Capacity >= bytes {
			return true
		}
	}
	return false
}

// Assign reserves bytes on disk for job as a new chunk and points the job's
// destination at the chunk's file.
func (p *Pool) Assign(job *types.DiskJob, disk *Disk, bytes int64) (string, error) {
	if bytes < 0 {
		return "", fmt.Errorf("negative reservation %d", bytes)
	}
	if disk.Free() < bytes {
		return "", fmt.Errorf("%w: %s wants %d, %d free on %s", ErrNoSpace, job, bytes, disk.Free(), disk.Path)
	}

	id := job.ID()
	n := len(p.chunks[id])
	path := Filename(disk.Path, job, n)
	if p.layout != nil {
		path = p.layout.ChunkPath(disk, job, n)
	}

	p.chunks[id] = append(p.chunks[id], &Chunk{Disk: disk, Path: path, Bytes: bytes})
	disk.add(id, bytes)
	job.DestPath = path

	p.logger.Debug().
		Str("job", id).
		Str("disk", disk.Path).
		Int64("bytes", bytes).
		Int("chunk", n).
		Msg("Reserved holding space")
	return path, nil
}

// Reserved returns the total bytes job holds across all chunks
func (p *Pool) Reserved(job *types.DiskJob) int64 {
	var total int64
	for _, c := range p.chunks[job.ID()] {
		total += c.Bytes
	}
	return total
}

// Chunks returns the job's chunks in allocation order
func (p *Pool) Chunks(job *types.DiskJob) []*Chunk {
	return p.chunks[job.ID()]
}

// Paths returns the job's holding file names
func (p *Pool) Paths(job *types.DiskJob) []string {
	var out []string
	for _, c := range p.chunks[job.ID()] {
		out = append(out, c.Path)
	}
	return out
}

// Adjust changes the job's total reservation to newBytes. Growth is charged
// to the last chunk; shrinking gives back space from the last chunk first.
func (p *Pool) Adjust(job *types.DiskJob, newBytes int64) error {
	id := job.ID()
	chunks := p.chunks[id]
	if len(chunks) == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownJob, job)
	}
	if newBytes < job.Written {
		return fmt.Errorf("%w: %s has %d written, asked for %d", ErrBelowWritten, job, job.Written, newBytes)
	}

	delta := newBytes - p.Reserved(job)
	switch {
	case delta > 0:
		last := chunks[len(chunks)-1]
		if last.Disk.Free() < delta {
			return fmt.Errorf("%w: %s grows by %d, %d free on %s", ErrNoSpace, job, delta, last.Disk.Free(), last.Disk.Path)
		}
		last.Bytes += delta
		last.Disk.add(id, delta)
	case delta < 0:
		for i := len(chunks) - 1; i >= 0 && delta < 0; i-- {
			take := chunks[i].Bytes
			if take > -delta {
				take = -delta
			}
			chunks[i].Bytes -= take
			chunks[i].Disk.add(id, -take)
			delta += take
		}
	}

	p.logger.Debug().Str("job", id).Int64("bytes", newBytes).Msg("Adjusted holding reservation")
	return nil
}

// Release frees every reservation of job and removes its holding files.
// It returns the number of bytes given back.
func (p *Pool) Release(job *types.DiskJob) int64 {
	id := job.ID()
	chunks, ok := p.chunks[id]
	if !ok {
		return 0
	}

	var freed int64
	for _, c := range chunks {
		c.Disk.add(id, -c.Bytes)
		freed += c.Bytes
		if p.layout != nil {
			if err := p.layout.Remove(c.Path); err != nil {
				p.logger.Warn().Err(err).Str("path", c.Path).Msg("Failed to remove holding file")
			}
		}
	}
	delete(p.chunks, id)
	job.Written = 0

	p.logger.Debug().Str("job", id).Int64("bytes", freed).Msg("Released holding space")
	return freed
}

// TotalFree sums free bytes across disks, zero once disabled
func (p *Pool) TotalFree() int64 {
	if p.disabled {
		return 0
	}
	var total int64
	for _, d := range p.disks {
		total += d.Free()
	}
	return total
}

// TotalCapacity sums configured capacity
func (p *Pool) TotalCapacity() int64 {
	var total int64
	for _, d := range p.disks {
		total += d.Capacity
	}
	return total
}

// Cleanup removes empty run directories
func (p *Pool) Cleanup() {
	if p.layout == nil {
		return
	}
	for _, d := range p.disks {
		if err := p.layout.Cleanup(d); err != nil {
			p.logger.Debug().Err(err).Str("disk", d.Path).Msg("Run directory left in place")
		}
	}
}
