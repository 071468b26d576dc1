package taper

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/tapeline/pkg/log"
	"github.com/cuemby/tapeline/pkg/protocol"
	"github.com/cuemby/tapeline/pkg/types"
	"github.com/cuemby/tapeline/pkg/worker"
)

var (
	// ErrTaperDown means the taper died and no restarts are left
	ErrTaperDown = errors.New("taper is down")
	// ErrTaperBusy is returned when handing work to a taper that is not idle
	ErrTaperBusy = errors.New("taper is busy")
)

// Coordinator owns the taper process and its single in-flight job
type Coordinator struct {
	spawner worker.Spawner
	runID   string

	proc   *worker.Process
	reader *protocol.LineReader

	ready bool
	down  bool
	busy  bool
	job   *types.DiskJob

	// set from PORT-WRITE until that job's TAPER-OK or TAPE-ERROR
	insideDumpToTape bool

	restarts    int
	maxRestarts int
	restarted   bool

	logger zerolog.Logger
}

// New creates a coordinator. maxRestarts bounds how often a failed taper is
// started again during the run.
func New(spawner worker.Spawner, runID string, maxRestarts int) *Coordinator {
	return &Coordinator{
		spawner:     spawner,
		runID:       runID,
		maxRestarts: maxRestarts,
		logger:      log.WithComponent("taper"),
	}
}

// Start spawns the taper and sends START-TAPER. The taper is ready once its
// bootstrap TAPER-OK has been seen (SetReady).
func (c *Coordinator) Start() error {
	if c.down {
		return ErrTaperDown
	}
	proc, err := c.spawner.Spawn("taper")
	if err != nil {
		return fmt.Errorf("failed to spawn taper: %w", err)
	}
	c.proc = proc
	c.reader = protocol.NewLineReader(proc.Reader())
	c.ready = false
	c.busy = false
	c.job = nil
	c.insideDumpToTape = false

	if err := c.send(protocol.StartTaper{RunID: c.runID}); err != nil {
		c.stop()
		return err
	}
	c.logger.Info().Int("pid", proc.Pid).Msg("Taper started")
	return nil
}

// Fd returns the taper's reply descriptor, or -1
func (c *Coordinator) Fd() int {
	if c.proc == nil {
		return -1
	}
	return c.proc.Fd()
}

// Pid returns the taper's process id
func (c *Coordinator) Pid() int {
	if c.proc == nil {
		return 0
	}
	return c.proc.Pid
}

// SetReady records the bootstrap acknowledgement
func (c *Coordinator) SetReady() {
	c.ready = true
}

// Ready reports whether the taper accepted START-TAPER
func (c *Coordinator) Ready() bool {
	return c.ready && !c.down
}

// Down reports whether the taper is permanently unusable
func (c *Coordinator) Down() bool {
	return c.down
}

// Busy reports whether a write is in flight
func (c *Coordinator) Busy() bool {
	return c.busy
}

// Idle reports whether the taper can accept a new write
func (c *Coordinator) Idle() bool {
	return c.Ready() && !c.busy
}

// Job returns the job being written, or nil
func (c *Coordinator) Job() *types.DiskJob {
	return c.job
}

// InsideDumpToTape reports whether a direct transfer holds the taper
func (c *Coordinator) InsideDumpToTape() bool {
	return c.insideDumpToTape
}

// Restarting reports whether a restarted taper has not yet answered its
// START-TAPER
func (c *Coordinator) Restarting() bool {
	return c.restarted && !c.ready && !c.down
}

// Restarts returns how many restarts were charged so far
func (c *Coordinator) Restarts() int {
	return c.restarts
}

// FileWrite hands a holding-disk image to the taper
func (c *Coordinator) FileWrite(job *types.DiskJob, path string) error {
	if !c.Idle() {
		return ErrTaperBusy
	}
	err := c.send(protocol.FileWrite{
		Handle: job.Handle,
		Path:   path,
		Host:   job.Host,
		Disk:   job.Disk,
		Level:  job.Level,
	})
	if err != nil {
		return err
	}
	c.busy = true
	c.job = job
	return nil
}

// PortWrite asks the taper to listen for a direct transfer of job
func (c *Coordinator) PortWrite(job *types.DiskJob) error {
	if !c.Idle() || c.insideDumpToTape {
		return ErrTaperBusy
	}
	c.insideDumpToTape = true
	err := c.send(protocol.PortWrite{
		Handle: job.Handle,
		Host:   job.Host,
		Disk:   job.Disk,
		Level:  job.Level,
	})
	if err != nil {
		c.insideDumpToTape = false
		return err
	}
	c.busy = true
	c.job = job
	return nil
}

// Finish clears the in-flight state for job after its result arrived
func (c *Coordinator) Finish(job *types.DiskJob) {
	if c.job != job {
		return
	}
	c.busy = false
	c.job = nil
	c.insideDumpToTape = false
}

// Recv reads and parses whatever the taper has sent
func (c *Coordinator) Recv() ([]protocol.Reply, error) {
	if c.reader == nil {
		return nil, ErrTaperDown
	}
	lines, err := c.reader.ReadLines()
	replies := make([]protocol.Reply, 0, len(lines))
	for _, line := range lines {
		r := protocol.ParseTaperReply(line)
		c.logger.Debug().Str("line", line).Str("token", string(r.Token)).Msg("Received")
		replies = append(replies, r)
	}
	return replies, err
}

// Restart kills the current taper and starts a new one. A charged restart
// counts against the budget; once it is spent the taper is down for good.
func (c *Coordinator) Restart(charged bool) error {
	c.stop()
	if c.down {
		return ErrTaperDown
	}
	if charged {
		if c.restarts >= c.maxRestarts {
			c.down = true
			c.logger.Error().Int("restarts", c.restarts).Msg("Taper restart budget exhausted")
			return ErrTaperDown
		}
		c.restarts++
	}
	c.logger.Warn().Int("restarts", c.restarts).Bool("charged", charged).Msg("Restarting taper")
	c.restarted = true
	if err := c.Start(); err != nil {
		c.down = true
		return fmt.Errorf("%w: %v", ErrTaperDown, err)
	}
	return nil
}

// Quit asks the taper to exit
func (c *Coordinator) Quit() {
	if c.proc == nil {
		return
	}
	if err := c.send(protocol.Quit{}); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to send QUIT")
	}
	if err := c.proc.Detach(); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to close pipes")
	}
	c.proc = nil
	c.reader = nil
	c.ready = false
}

// Kill stops the taper without a restart and marks it down
func (c *Coordinator) Kill() {
	c.stop()
	c.down = true
}

func (c *Coordinator) stop() {
	if c.proc != nil {
		if err := c.proc.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to stop taper")
		}
	}
	c.proc = nil
	c.reader = nil
	c.ready = false
	c.busy = false
	c.job = nil
	c.insideDumpToTape = false
}

func (c *Coordinator) send(cmd protocol.Command) error {
	if c.proc == nil {
		return ErrTaperDown
	}
	c.logger.Debug().Str("cmd", cmd.Name()).Strs("args", cmd.Args()).Msg("Sending")
	return protocol.Write(c.proc.Writer(), cmd)
}
