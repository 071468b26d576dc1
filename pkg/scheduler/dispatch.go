package scheduler

import (
	"github.com/docker/go-units"

	"github.com/cuemby/tapeline/pkg/events"
	"github.com/cuemby/tapeline/pkg/holding"
	"github.com/cuemby/tapeline/pkg/protocol"
	"github.com/cuemby/tapeline/pkg/types"
	"github.com/cuemby/tapeline/pkg/worker"
)

// schedule runs after every event: hand finished images to the taper, start
// what fits, and end the run when nothing is left to wait for.
func (s *Scheduler) schedule() {
	if s.finished {
		return
	}
	s.startTaperWork()
	s.startSomeDumps()
	s.updateMetrics()
	s.maybeFinish()
}

// startSomeDumps starts waiting jobs in queue order while dumpers are idle.
// The first job refused for a resource blocks that resource for the rest of
// the pass; other jobs may still start on other resources.
func (s *Scheduler) startSomeDumps() {
	if s.shuttingDown || s.taperDown || !s.taper.Ready() {
		return
	}

	holdingBlocked := false
	blockedIfaces := make(map[string]bool)

	for _, job := range s.waitq.Jobs() {
		if s.dumpers.BusyCount() >= s.cfg.InParallel {
			break
		}
		d := s.dumpers.IdleWorker()
		if d == nil {
			break
		}
		if s.clientConstrained(job) {
			continue
		}
		if blockedIfaces[job.Interface] {
			continue
		}

		var disk *holding.Disk
		if s.routeDirect(job) {
			// one direct transfer at a time, and only through an idle taper
			if !s.taper.Idle() || s.taper.InsideDumpToTape() {
				continue
			}
		} else {
			if holdingBlocked {
				continue
			}
			if disk = s.holding.FindSpace(job.EstimatedSize); disk == nil {
				holdingBlocked = true
				continue
			}
		}

		granted, ok := s.bandwidth.Allocate(job.Interface, job.EstimatedKPS)
		if !ok {
			blockedIfaces[job.Interface] = true
			continue
		}
		s.dispatch(d, job, disk, granted)
	}

	if !s.degradedMode && s.waitq.Len() > 0 && s.policy.ShouldDegrade(s.degradeCheck()) {
		s.startDegradedMode()
		s.startSomeDumps()
	}
}

// routeDirect reports whether job bypasses the holding disks
func (s *Scheduler) routeDirect(job *types.DiskJob) bool {
	return s.degradedMode || job.Direct || !s.holding.CouldFit(job.EstimatedSize)
}

func (s *Scheduler) clientConstrained(job *types.DiskJob) bool {
	return s.clientActive[job.Host] >= s.cfg.MaxDumps(job.Host)
}

func (s *Scheduler) degradeCheck() DegradeCheck {
	var c DegradeCheck
	for _, job := range s.waitq.Jobs() {
		if s.routeDirect(job) {
			continue
		}
		c.HoldingBound++
		if s.holding.FindSpace(job.EstimatedSize) != nil {
			c.Fits = true
		}
	}
	for _, job := range s.runq.Jobs() {
		if !job.Direct {
			c.CanFree = true
		}
	}
	if !s.taperDown {
		for _, job := range s.tapeq.Jobs() {
			if !job.Direct {
				c.CanFree = true
			}
		}
	}
	return c
}

// startDegradedMode sends every remaining and future job straight to tape
// and stops all further holding-disk allocation for the run.
func (s *Scheduler) startDegradedMode() {
	s.degradedMode = true
	s.holding.Disable()
	s.logger.Warn().
		Int("waiting", s.waitq.Len()).
		Str("holding_free", units.BytesSize(float64(s.holding.TotalFree()))).
		Msg("Holding space exhausted, entering degraded mode")

	for _, job := range s.waitq.Jobs() {
		if job.Lower() {
			s.jobLogger(job).Info().Int("level", job.Level).Msg("Lowered to degraded level")
			s.publish(events.EventJobDegraded, job, "")
		}
	}
	s.waitq.Sort()
	s.publish(events.EventRunDegraded, nil, "holding space exhausted")
}

// dispatch moves job from waitq to runq on dumper d. A nil disk means the
// job streams directly to tape.
func (s *Scheduler) dispatch(d *worker.Dumper, job *types.DiskJob, disk *holding.Disk, granted int64) {
	s.waitq.Remove(job)
	handle := s.dumpers.Assign(d, job)
	s.handles[handle] = job
	job.GrantedKPS = granted
	job.Attempted = true
	job.AssignedAt = s.clock.Now()
	job.Written = 0
	job.DestPath = ""
	job.DestPort = 0
	s.clientActive[job.Host]++
	s.runq.Add(job)

	logger := s.jobLogger(job)

	if disk == nil {
		job.Direct = true
		if job.Lower() {
			logger.Info().Int("level", job.Level).Msg("Lowered to degraded level")
			s.publish(events.EventJobDegraded, job, "")
		}
		logger.Info().Str("worker", d.Name).Int64("kps", granted).Msg("Dumping directly to tape")
		s.publish(events.EventJobStarted, job, "direct")
		s.dumpToTape(d, job)
		return
	}

	path, err := s.holding.Assign(job, disk, job.EstimatedSize)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to reserve holding space")
		s.unassign(d, job)
		return
	}
	err = s.dumpers.Send(d, protocol.FileDump{
		Handle: handle,
		Host:   job.Host,
		Disk:   job.Disk,
		Level:  job.Level,
		Path:   path,
		Bytes:  job.EstimatedSize,
	})
	if err != nil {
		s.workerDown(d, err.Error())
		return
	}
	logger.Info().
		Str("worker", d.Name).
		Str("path", path).
		Str("estimate", units.BytesSize(float64(job.EstimatedSize))).
		Int64("kps", granted).
		Msg("Dump started")
	s.publish(events.EventJobStarted, job, path)
}

// dumpToTape asks the taper for a port; the dumper gets PORT-DUMP once the
// taper answers with PORT.
func (s *Scheduler) dumpToTape(d *worker.Dumper, job *types.DiskJob) {
	if err := s.taper.PortWrite(job); err != nil {
		s.jobLogger(job).Warn().Err(err).Msg("Taper refused PORT-WRITE")
		s.unassign(d, job)
		s.taperFailed(nil, err.Error(), true)
	}
}

// unassign undoes a dispatch that never reached the dumper
func (s *Scheduler) unassign(d *worker.Dumper, job *types.DiskJob) {
	s.releaseDumper(d, job)
	s.runq.Remove(job)
	s.holding.Release(job)
	s.waitq.Add(job)
}

func (s *Scheduler) releaseDumper(d *worker.Dumper, job *types.DiskJob) {
	s.dumpers.Release(d)
	s.releaseSlot(job)
}

// releaseSlot returns the bandwidth and client slot held by a running job
func (s *Scheduler) releaseSlot(job *types.DiskJob) {
	s.bandwidth.Deallocate(job.Interface, job.GrantedKPS)
	job.GrantedKPS = 0
	if s.clientActive[job.Host] > 0 {
		s.clientActive[job.Host]--
	}
}

// startTaperWork hands the next finished holding image to an idle taper
func (s *Scheduler) startTaperWork() {
	if s.shuttingDown || s.taperDown || !s.taper.Idle() {
		return
	}
	var next *types.DiskJob
	for _, job := range s.tapeq.Jobs() {
		if !job.Direct {
			next = job
			break
		}
	}
	if next == nil {
		return
	}

	paths := s.holding.Paths(next)
	if len(paths) == 0 {
		s.tapeq.Remove(next)
		s.fail(next, "holding image missing")
		return
	}
	if err := s.taper.FileWrite(next, paths[0]); err != nil {
		s.taperFailed(nil, err.Error(), true)
		return
	}
	s.jobLogger(next).Info().
		Str("path", paths[0]).
		Int("chunks", len(paths)).
		Str("size", units.BytesSize(float64(next.ActualSize))).
		Msg("Writing to tape")
}

func (s *Scheduler) abort(d *worker.Dumper, job *types.DiskJob, kind abortKind, reason string) {
	if err := s.dumpers.Send(d, protocol.Abort{Handle: job.Handle}); err != nil {
		s.workerDown(d, err.Error())
		return
	}
	d.Aborting = true
	s.aborts[job] = abortRequest{kind: kind, reason: reason}
	s.pendingAborts++
	s.jobLogger(job).Info().Str("reason", reason).Msg("Abort sent")
}

// maybeFinish ends the run once nothing in flight can make progress
func (s *Scheduler) maybeFinish() {
	if s.finished || s.runq.Len() > 0 || s.pendingAborts > 0 {
		return
	}
	if s.taper.Busy() {
		// a holding flush always completes; an orphaned direct write does not
		if !s.shuttingDown || !s.taper.Job().Direct {
			return
		}
	}
	if !s.shuttingDown && !s.taperDown && !s.taper.Ready() {
		return
	}
	s.finish()
}
