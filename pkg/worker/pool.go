package worker

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/cuemby/tapeline/pkg/log"
	"github.com/cuemby/tapeline/pkg/protocol"
	"github.com/cuemby/tapeline/pkg/types"
)

// ErrWorkerDown is returned when talking to a dumper that was marked down
var ErrWorkerDown = errors.New("worker is down")

// Status is the state of one dumper
type Status int

const (
	StatusIdle Status = iota
	StatusBusy
	StatusDown
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	case StatusDown:
		return "down"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Dumper is one dumper process and the job it is running
type Dumper struct {
	Name   string
	Index  int
	Status Status
	Job    *types.DiskJob

	// Aborting is set from ABORT until ABORT-FINISHED; the slot stays busy
	Aborting bool

	proc   *Process
	reader *protocol.LineReader
	logger zerolog.Logger
}

// Pid returns the process id
func (d *Dumper) Pid() int {
	if d.proc == nil {
		return 0
	}
	return d.proc.Pid
}

// Fd returns the reply descriptor to poll, or -1
func (d *Dumper) Fd() int {
	if d.proc == nil {
		return -1
	}
	return d.proc.Fd()
}

func (d *Dumper) String() string {
	return d.Name
}

// Pool is the fixed set of dumpers for a run
type Pool struct {
	dumpers []*Dumper
	byFd    map[int]*Dumper
	serial  int
	logger  zerolog.Logger
}

// NewPool spawns n dumpers named dumper0..dumper<n-1>. If any spawn fails
// the ones already started are killed.
func NewPool(n int, spawner Spawner) (*Pool, error) {
	p := &Pool{
		byFd:   make(map[int]*Dumper),
		logger: log.WithComponent("worker"),
	}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("dumper%d", i)
		proc, err := spawner.Spawn(name)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to spawn %s: %w", name, err)
		}
		d := &Dumper{
			Name:   name,
			Index:  i,
			proc:   proc,
			reader: protocol.NewLineReader(proc.Reader()),
			logger: log.WithWorker(p.logger, name),
		}
		if fd := proc.Fd(); fd >= 0 {
			p.byFd[fd] = d
		}
		p.dumpers = append(p.dumpers, d)
		d.logger.Debug().Int("pid", proc.Pid).Msg("Dumper started")
	}
	return p, nil
}

// Dumpers returns every dumper in index order
func (p *Pool) Dumpers() []*Dumper {
	return p.dumpers
}

// IdleWorker returns the first idle dumper, or nil
func (p *Pool) IdleWorker() *Dumper {
	for _, d := range p.dumpers {
		if d.Status == StatusIdle {
			return d
		}
	}
	return nil
}

// BusyCount returns how many dumpers are running or aborting a job
func (p *Pool) BusyCount() int {
	n := 0
	for _, d := range p.dumpers {
		if d.Status == StatusBusy {
			n++
		}
	}
	return n
}

// UpCount returns how many dumpers are not down
func (p *Pool) UpCount() int {
	n := 0
	for _, d := range p.dumpers {
		if d.Status != StatusDown {
			n++
		}
	}
	return n
}

// Lookup resolves the dumper owning a readable reply descriptor
func (p *Pool) Lookup(fd int) *Dumper {
	return p.byFd[fd]
}

// ForJob returns the dumper currently running job
func (p *Pool) ForJob(job *types.DiskJob) *Dumper {
	for _, d := range p.dumpers {
		if d.Job == job && d.Status == StatusBusy {
			return d
		}
	}
	return nil
}

// Assign makes d busy with job and tags the job with a fresh handle. d must
// be idle and no other dumper may hold job.
func (p *Pool) Assign(d *Dumper, job *types.DiskJob) string {
	if d.Status != StatusIdle {
		panic(fmt.Sprintf("worker: %s assigned %s while %s", d.Name, job, d.Status))
	}
	if other := p.ForJob(job); other != nil {
		panic(fmt.Sprintf("worker: %s assigned to %s, already held by %s", job, d.Name, other.Name))
	}
	p.serial++
	handle := protocol.FormatHandle(d.Index, p.serial)
	d.Status = StatusBusy
	d.Job = job
	d.Aborting = false
	job.Handle = handle
	job.Worker = d.Name
	return handle
}

// Release returns d to idle
func (p *Pool) Release(d *Dumper) {
	if d.Status == StatusDown {
		return
	}
	if d.Job != nil {
		d.Job.Worker = ""
	}
	d.Status = StatusIdle
	d.Job = nil
	d.Aborting = false
}

// Send writes one command line to d
func (p *Pool) Send(d *Dumper, cmd protocol.Command) error {
	if d.Status == StatusDown || d.proc == nil {
		return ErrWorkerDown
	}
	d.logger.Debug().Str("cmd", cmd.Name()).Strs("args", cmd.Args()).Msg("Sending")
	return protocol.Write(d.proc.Writer(), cmd)
}

// Recv reads whatever d has sent and parses it. A non-nil error (io.EOF
// included) comes with any replies read before it.
func (p *Pool) Recv(d *Dumper) ([]protocol.Reply, error) {
	if d.Status == StatusDown {
		return nil, ErrWorkerDown
	}
	lines, err := d.reader.ReadLines()
	replies := make([]protocol.Reply, 0, len(lines))
	for _, line := range lines {
		r := protocol.ParseDumperReply(line)
		d.logger.Debug().Str("line", line).Str("token", string(r.Token)).Msg("Received")
		replies = append(replies, r)
	}
	return replies, err
}

// MarkDown retires d for the rest of the run and returns the job it held
func (p *Pool) MarkDown(d *Dumper, reason string) *types.DiskJob {
	if d.Status == StatusDown {
		return nil
	}
	job := d.Job
	d.logger.Error().Str("reason", reason).Msg("Dumper down")
	delete(p.byFd, d.Fd())
	if d.proc != nil {
		if err := d.proc.Close(); err != nil {
			d.logger.Debug().Err(err).Msg("Failed to close dumper")
		}
	}
	d.Status = StatusDown
	d.Job = nil
	d.Aborting = false
	if job != nil {
		job.Worker = ""
	}
	return job
}

// Shutdown asks every live dumper to quit and closes its command pipe
func (p *Pool) Shutdown() {
	for _, d := range p.dumpers {
		if d.Status == StatusDown || d.proc == nil {
			continue
		}
		if err := p.Send(d, protocol.Quit{}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			d.logger.Debug().Err(err).Msg("Failed to send QUIT")
		}
		if err := d.proc.Detach(); err != nil {
			d.logger.Debug().Err(err).Msg("Failed to close pipes")
		}
		delete(p.byFd, d.Fd())
	}
}

// Close kills every dumper
func (p *Pool) Close() {
	for _, d := range p.dumpers {
		if d.proc != nil {
			d.proc.Close()
		}
	}
	p.byFd = make(map[int]*Dumper)
}
