package scheduler

import (
	"errors"
	"fmt"
	"io"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/cuemby/tapeline/pkg/bandwidth"
	"github.com/cuemby/tapeline/pkg/config"
	"github.com/cuemby/tapeline/pkg/events"
	"github.com/cuemby/tapeline/pkg/holding"
	"github.com/cuemby/tapeline/pkg/log"
	"github.com/cuemby/tapeline/pkg/metrics"
	"github.com/cuemby/tapeline/pkg/reactor"
	"github.com/cuemby/tapeline/pkg/taper"
	"github.com/cuemby/tapeline/pkg/types"
	"github.com/cuemby/tapeline/pkg/worker"
)

type abortKind int

const (
	abortRetry abortKind = iota
	abortToDirect
	abortTapeError
	abortInterrupted
)

type abortRequest struct {
	kind   abortKind
	reason string
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock sets the time source for the scheduler and its reactor
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithRunID sets the run id; a random one is used otherwise
func WithRunID(id string) Option {
	return func(s *Scheduler) { s.runID = id }
}

// WithReactor runs the scheduler on an existing reactor
func WithReactor(r *reactor.Reactor) Option {
	return func(s *Scheduler) { s.reactor = r }
}

// WithDumperSpawner replaces the exec based dumper spawner
func WithDumperSpawner(sp worker.Spawner) Option {
	return func(s *Scheduler) { s.dumperSpawner = sp }
}

// WithTaperSpawner replaces the exec based taper spawner
func WithTaperSpawner(sp worker.Spawner) Option {
	return func(s *Scheduler) { s.taperSpawner = sp }
}

// WithLayout replaces the on-disk holding layout
func WithLayout(l holding.Layout) Option {
	return func(s *Scheduler) { s.layout = l }
}

// WithBroker publishes job events on b
func WithBroker(b *events.Broker) Option {
	return func(s *Scheduler) { s.broker = b }
}

// WithComparator overrides the waitq order chosen by dumporder
func WithComparator(c Comparator) Option {
	return func(s *Scheduler) { s.compare = c }
}

// WithPolicy overrides the degraded policy chosen by degraded_policy
func WithPolicy(p DegradedPolicy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// Scheduler drives one backup run. Everything below runs on the reactor's
// goroutine, so none of it is locked.
type Scheduler struct {
	cfg    *config.Config
	runID  string
	clock  clock.Clock
	logger zerolog.Logger

	reactor    *reactor.Reactor
	ownReactor bool
	holding    *holding.Pool
	bandwidth  *bandwidth.Pool
	dumpers    *worker.Pool
	taper      *taper.Coordinator
	broker     *events.Broker

	dumperSpawner worker.Spawner
	taperSpawner  worker.Spawner
	layout        holding.Layout
	compare       Comparator
	policy        DegradedPolicy

	waitq    *Queue
	runq     *Queue
	stoppedq *Queue
	tapeq    *Queue

	handles      map[string]*types.DiskJob
	clientActive map[string]int
	aborts       map[*types.DiskJob]abortRequest
	tapedEarly   map[*types.DiskJob]bool
	outcomes     []types.JobOutcome

	pendingAborts int
	degradedMode  bool
	taperDown     bool
	shuttingDown  bool
	interrupted   bool
	finished      bool

	dumperHandles map[*worker.Dumper]*reactor.Handle
	taperHandle   *reactor.Handle
	otherHandles  []*reactor.Handle

	startedAt time.Time
	summary   *types.RunSummary
}

// New builds a scheduler for cfg. Workers are not started until Start.
func New(cfg *config.Config, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		cfg:           cfg,
		clock:         clock.WallClock,
		handles:       make(map[string]*types.DiskJob),
		clientActive:  make(map[string]int),
		aborts:        make(map[*types.DiskJob]abortRequest),
		tapedEarly:    make(map[*types.DiskJob]bool),
		dumperHandles: make(map[*worker.Dumper]*reactor.Handle),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.runID == "" {
		s.runID = uuid.New().String()
	}
	s.logger = log.WithRunID(s.runID).With().Str("component", "scheduler").Logger()

	if s.dumperSpawner == nil {
		s.dumperSpawner = &worker.ExecSpawner{Command: cfg.DumperCommand}
	}
	if s.taperSpawner == nil {
		s.taperSpawner = &worker.ExecSpawner{Command: cfg.TaperCommand}
	}
	if s.layout == nil {
		s.layout = holding.NewLocalLayout(s.runID)
	}
	if s.compare == nil {
		s.compare = ComparatorFor(cfg.DumpOrder)
	}
	if s.policy == nil {
		s.policy = PolicyFor(cfg.DegradedPolicy)
	}

	if s.reactor == nil {
		r, err := reactor.New(reactor.WithClock(s.clock))
		if err != nil {
			return nil, fmt.Errorf("failed to create reactor: %w", err)
		}
		s.reactor = r
		s.ownReactor = true
	}

	pool, err := holding.NewPool(cfg.HoldingDisks, s.layout)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.holding = pool
	s.bandwidth = bandwidth.NewPool(cfg.Interfaces)

	s.waitq = NewQueue(types.QueueWait, s.compare)
	s.runq = NewQueue(types.QueueRun, nil)
	s.stoppedq = NewQueue(types.QueueStopped, nil)
	s.tapeq = NewQueue(types.QueueTape, FlushOrderFor(cfg.TaperAlgo))

	return s, nil
}

// RunID returns the run id
func (s *Scheduler) RunID() string {
	return s.runID
}

// Summary returns the run report once the run has finished
func (s *Scheduler) Summary() *types.RunSummary {
	return s.summary
}

// Run starts the workers, drives the run to completion and returns its
// summary. Per-job failures are reported in the summary; an error means the
// run could not start or the event loop itself failed.
func (s *Scheduler) Run(jobs []*types.DiskJob) (*types.RunSummary, error) {
	if err := s.Start(jobs); err != nil {
		return nil, err
	}
	if err := s.reactor.Loop(false); err != nil {
		s.logger.Error().Err(err).Msg("Event loop failed, ending run")
		s.finish()
		return s.summary, err
	}
	s.finish()
	return s.summary, nil
}

// Start loads jobs into waitq, starts the taper and the dumpers and
// registers every event source with the reactor. Dumps begin once the taper
// acknowledges START-TAPER.
func (s *Scheduler) Start(jobs []*types.DiskJob) error {
	s.startedAt = s.clock.Now()
	for _, job := range jobs {
		if job.Interface == "" {
			job.Interface = s.cfg.InterfaceFor(job.Host)
		}
		job.Queue = types.QueueNone
		s.waitq.Add(job)
	}

	s.taper = taper.New(s.taperSpawner, s.runID, s.cfg.TaperRestarts)
	if err := s.taper.Start(); err != nil {
		return err
	}
	if err := s.watchTaper(); err != nil {
		s.taper.Kill()
		return err
	}

	pool, err := worker.NewPool(s.cfg.InParallel, s.dumperSpawner)
	if err != nil {
		s.taper.Kill()
		return err
	}
	s.dumpers = pool
	for _, d := range pool.Dumpers() {
		if err := s.watchDumper(d); err != nil {
			s.taper.Kill()
			pool.Close()
			return err
		}
	}

	for _, sig := range []syscall.Signal{syscall.SIGINT, syscall.SIGTERM} {
		if err := s.watch(int(sig), reactor.Signal, s.interrupt); err != nil {
			return err
		}
	}
	if err := s.watch(int(syscall.SIGHUP), reactor.Signal, s.logState); err != nil {
		return err
	}
	if s.cfg.StatusInterval > 0 {
		if err := s.watch(s.cfg.StatusInterval, reactor.Time, s.statusTick); err != nil {
			return err
		}
	}

	s.logger.Info().
		Int("jobs", s.waitq.Len()).
		Int("dumpers", s.cfg.InParallel).
		Int("holding_disks", len(s.holding.Disks())).
		Str("dumporder", s.cfg.DumpOrder).
		Str("degraded_policy", s.policy.Name()).
		Msg("Run started")
	s.updateMetrics()
	return nil
}

// Close releases the reactor if the scheduler created it and kills any
// worker still running.
func (s *Scheduler) Close() error {
	if !s.finished {
		if s.dumpers != nil {
			s.dumpers.Close()
		}
		if s.taper != nil {
			s.taper.Kill()
		}
	}
	if s.ownReactor && s.reactor != nil {
		return s.reactor.Close()
	}
	return nil
}

func (s *Scheduler) watch(datum int, typ reactor.EventType, fn reactor.Callback) error {
	h, err := s.reactor.Register(datum, typ, fn)
	if err != nil {
		return fmt.Errorf("failed to register %s handle: %w", typ, err)
	}
	s.otherHandles = append(s.otherHandles, h)
	return nil
}

func (s *Scheduler) watchDumper(d *worker.Dumper) error {
	fd := d.Fd()
	if fd < 0 {
		return nil
	}
	h, err := s.reactor.Register(fd, reactor.ReadFD, func() { s.dumperReadable(fd) })
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", d.Name, err)
	}
	s.dumperHandles[d] = h
	return nil
}

func (s *Scheduler) unwatchDumper(d *worker.Dumper) {
	if h, ok := s.dumperHandles[d]; ok {
		s.reactor.Release(h)
		delete(s.dumperHandles, d)
	}
}

func (s *Scheduler) watchTaper() error {
	fd := s.taper.Fd()
	if fd < 0 {
		return nil
	}
	h, err := s.reactor.Register(fd, reactor.ReadFD, s.taperReadable)
	if err != nil {
		return fmt.Errorf("failed to watch taper: %w", err)
	}
	s.taperHandle = h
	return nil
}

func (s *Scheduler) unwatchTaper() {
	s.reactor.Release(s.taperHandle)
	s.taperHandle = nil
}

func (s *Scheduler) dumperReadable(fd int) {
	d := s.dumpers.Lookup(fd)
	if d == nil {
		s.logger.Debug().Int("fd", fd).Msg("Readable descriptor has no dumper")
		return
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	replies, err := s.dumpers.Recv(d)
	for _, r := range replies {
		if d.Status == worker.StatusDown {
			break
		}
		s.handleDumperResult(d, r)
	}
	if err != nil && d.Status != worker.StatusDown {
		s.workerDown(d, describeReadError(err))
	}
	s.schedule()
}

func (s *Scheduler) taperReadable() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	pid := s.taper.Pid()
	replies, err := s.taper.Recv()
	for _, r := range replies {
		if s.taper.Pid() != pid {
			// replies from a taper that was restarted meanwhile
			break
		}
		s.handleTaperResult(r)
	}
	if err != nil && s.taper.Pid() == pid && !s.taper.Down() {
		s.taperFailed(s.taper.Job(), describeReadError(err), true)
	}
	s.schedule()
}

func (s *Scheduler) interrupt() {
	if s.finished {
		return
	}
	if s.shuttingDown {
		s.logger.Warn().Msg("Second interrupt, ending run now")
		s.finish()
		return
	}
	s.shuttingDown = true
	s.interrupted = true
	s.logger.Warn().Int("running", s.runq.Len()).Msg("Interrupted, aborting running dumps")
	for _, job := range s.runq.Jobs() {
		if d := s.dumpers.ForJob(job); d != nil && !d.Aborting {
			s.abort(d, job, abortInterrupted, "interrupted")
		}
	}
	s.schedule()
}

func (s *Scheduler) logState() {
	s.logger.Info().Msg("State dump requested\n" + s.dumpState())
}

func (s *Scheduler) statusTick() {
	s.logger.Info().Msg(s.shortDumpState())
	s.logger.Debug().Msg(s.dumpState())
	s.updateMetrics()
}

func (s *Scheduler) jobLogger(job *types.DiskJob) *zerolog.Logger {
	l := log.WithJob(s.logger, job.Host, job.Disk, job.Handle)
	return &l
}

func (s *Scheduler) publish(typ events.EventType, job *types.DiskJob, msg string) {
	if s.broker == nil {
		return
	}
	meta := map[string]string{"run_id": s.runID}
	if job != nil {
		meta["host"] = job.Host
		meta["disk"] = job.Disk
		meta["level"] = fmt.Sprint(job.Level)
		meta["handle"] = job.Handle
	}
	s.broker.Publish(&events.Event{
		Type:      typ,
		Timestamp: s.clock.Now(),
		Message:   msg,
		Metadata:  meta,
	})
}

func describeReadError(err error) string {
	if errors.Is(err, io.EOF) {
		return "unexpected end of stream"
	}
	return err.Error()
}
