package scheduler

import (
	"fmt"

	"github.com/docker/go-units"

	"github.com/cuemby/tapeline/pkg/events"
	"github.com/cuemby/tapeline/pkg/metrics"
	"github.com/cuemby/tapeline/pkg/protocol"
	"github.com/cuemby/tapeline/pkg/types"
	"github.com/cuemby/tapeline/pkg/worker"
)

// handleDumperResult applies one reply from dumper d
func (s *Scheduler) handleDumperResult(d *worker.Dumper, r protocol.Reply) {
	switch r.Token {
	case protocol.Bogus:
		s.workerDown(d, "malformed reply: "+r.Message)
		return
	case protocol.BadCommand:
		s.workerDown(d, "BAD-COMMAND "+r.Message)
		return
	}

	job := d.Job
	if job == nil || r.Handle != job.Handle {
		s.logger.Warn().Str("worker", d.Name).Str("reply", r.Line).Msg("Ignoring reply for a job the dumper is not running")
		return
	}
	if d.Aborting && r.Token != protocol.AbortFinished {
		s.jobLogger(job).Debug().Str("reply", r.Line).Msg("Ignoring reply while abort is pending")
		return
	}

	switch r.Token {
	case protocol.Done:
		s.dumperDone(d, job, r)
	case protocol.Failed:
		s.dropRunning(d, job)
		s.fail(job, r.Message)
	case protocol.TryAgain, protocol.FailOutput:
		s.dropRunning(d, job)
		s.requeue(job, fmt.Sprintf("%s %s", r.Token, r.Message), true)
	case protocol.FatalTryAgain:
		s.dropRunning(d, job)
		s.stall(job, r.Message)
	case protocol.NoRoom:
		s.dumperNoRoom(d, job, r.Bytes)
	case protocol.AbortFinished:
		s.dumperAborted(d, job)
	}
}

// dropRunning frees everything a running job holds: dumper, bandwidth,
// client slot, any partial holding image and an unfinished taper session.
func (s *Scheduler) dropRunning(d *worker.Dumper, job *types.DiskJob) {
	s.releaseDumper(d, job)
	s.runq.Remove(job)
	s.holding.Release(job)
	delete(s.tapedEarly, job)
	if job.Direct && s.taper.Job() == job {
		s.taperFailed(nil, "direct transfer abandoned", false)
	}
}

func (s *Scheduler) dumperDone(d *worker.Dumper, job *types.DiskJob, r protocol.Reply) {
	job.ActualSize = r.Bytes
	job.DumpTime = r.Duration
	s.releaseDumper(d, job)
	s.runq.Remove(job)

	metrics.DumpDuration.Observe(r.Duration.Seconds())
	metrics.DumpedBytesTotal.Add(float64(r.Bytes))
	s.jobLogger(job).Info().
		Str("size", units.BytesSize(float64(r.Bytes))).
		Dur("duration", r.Duration).
		Bool("direct", job.Direct).
		Msg("Dump finished")
	s.publish(events.EventJobDumped, job, "")

	if job.Direct {
		if s.tapedEarly[job] {
			delete(s.tapedEarly, job)
			s.complete(job)
			return
		}
		// waits in tapeq for the taper's verdict
		s.tapeq.Add(job)
		return
	}

	if err := s.holding.Adjust(job, r.Bytes); err != nil {
		s.jobLogger(job).Warn().Err(err).Msg("Failed to adjust holding reservation to the dump size")
	}
	s.tapeq.Add(job)
}

// dumperNoRoom shrinks the reservation to what was written and tries to
// continue on another chunk; with no space anywhere the dump is aborted and
// retried straight to tape.
func (s *Scheduler) dumperNoRoom(d *worker.Dumper, job *types.DiskJob, written int64) {
	logger := s.jobLogger(job)
	if job.Direct {
		s.workerDown(d, "NO-ROOM for a dump that streams to tape")
		return
	}

	job.Written = written
	if err := s.holding.Adjust(job, written); err != nil {
		logger.Warn().Err(err).Msg("Failed to shrink holding reservation")
	}

	remaining := job.EstimatedSize - written
	if floor := int64(s.cfg.ChunkMinimum); remaining < floor {
		remaining = floor
	}

	if disk := s.holding.FindSpace(remaining); disk != nil {
		path, err := s.holding.Assign(job, disk, remaining)
		if err == nil {
			err = s.dumpers.Send(d, protocol.Continue{Handle: job.Handle, Path: path, Bytes: remaining})
			if err != nil {
				s.workerDown(d, err.Error())
				return
			}
			logger.Info().
				Str("written", units.BytesSize(float64(written))).
				Str("path", path).
				Str("chunk", units.BytesSize(float64(remaining))).
				Msg("Holding disk full, continuing on a new chunk")
			return
		}
		logger.Warn().Err(err).Msg("Failed to reserve continuation chunk")
	}

	logger.Warn().Str("written", units.BytesSize(float64(written))).Msg("No holding space left, retrying directly to tape")
	s.abort(d, job, abortToDirect, "no holding space")
}

func (s *Scheduler) dumperAborted(d *worker.Dumper, job *types.DiskJob) {
	req, ok := s.aborts[job]
	if ok {
		delete(s.aborts, job)
		s.pendingAborts--
	} else {
		req = abortRequest{kind: abortRetry, reason: "aborted by dumper"}
	}
	s.dropRunning(d, job)

	switch req.kind {
	case abortToDirect:
		job.Direct = true
		s.requeue(job, req.reason, false)
	case abortInterrupted:
		job.Reason = req.reason
		s.waitq.Add(job)
	default:
		s.requeue(job, req.reason, true)
	}
}

// workerDown retires dumper d and puts its job back in line
func (s *Scheduler) workerDown(d *worker.Dumper, reason string) {
	job := s.dumpers.MarkDown(d, reason)
	s.unwatchDumper(d)
	s.publish(events.EventWorkerDown, job, d.Name+": "+reason)
	if job == nil {
		return
	}

	req, aborting := s.aborts[job]
	if aborting {
		delete(s.aborts, job)
		s.pendingAborts--
	}
	s.releaseSlot(job)
	s.runq.Remove(job)
	s.holding.Release(job)
	transferLost := job.Direct && s.taper.Job() == job

	switch {
	case s.tapedEarly[job]:
		// the taper already confirmed the image
		delete(s.tapedEarly, job)
		s.complete(job)
	case aborting && req.kind == abortInterrupted:
		job.Reason = req.reason
		s.waitq.Add(job)
	default:
		s.requeue(job, "dumper down: "+reason, true)
	}

	if transferLost {
		s.taperFailed(nil, "direct transfer lost its dumper", false)
	}
}

// handleTaperResult applies one reply from the taper
func (s *Scheduler) handleTaperResult(r protocol.Reply) {
	switch r.Token {
	case protocol.Bogus:
		s.taperFailed(s.taper.Job(), "malformed taper reply: "+r.Message, true)
	case protocol.TaperOK:
		if r.Handle == "" {
			if s.taper.Ready() {
				s.logger.Warn().Msg("Duplicate taper bootstrap acknowledgement")
				return
			}
			s.taper.SetReady()
			s.logger.Info().Int("pid", s.taper.Pid()).Msg("Taper ready")
			return
		}
		s.taperDone(r)
	case protocol.Port:
		s.taperPort(r)
	case protocol.TapeError:
		job := s.taperJob(r.Handle)
		if job == nil {
			job = s.taper.Job()
		}
		s.taperFailed(job, r.Message, true)
	}
}

// taperJob resolves a handle from a taper reply
func (s *Scheduler) taperJob(handle string) *types.DiskJob {
	job := s.handles[handle]
	if job == nil || job.Handle != handle {
		return nil
	}
	return job
}

func (s *Scheduler) taperDone(r protocol.Reply) {
	job := s.taperJob(r.Handle)
	if job == nil || job != s.taper.Job() {
		s.logger.Warn().Str("handle", r.Handle).Msg("TAPER-OK for a job the taper is not writing")
		return
	}
	s.taper.Finish(job)
	job.Label = r.Label
	job.FileNum = r.FileNum

	switch {
	case job.Queue == types.QueueTape:
		s.tapeq.Remove(job)
		if !job.Direct {
			s.holding.Release(job)
		}
		s.complete(job)
	case job.Direct && job.Queue == types.QueueRun:
		// the dumper's DONE completes it
		s.tapedEarly[job] = true
	default:
		s.jobLogger(job).Warn().Str("label", r.Label).Msg("Image written to tape for a dump that was dropped")
	}
}

func (s *Scheduler) taperPort(r protocol.Reply) {
	job := s.taperJob(r.Handle)
	var d *worker.Dumper
	if job != nil && job == s.taper.Job() && job.Direct && job.Queue == types.QueueRun {
		d = s.dumpers.ForJob(job)
	}
	if d == nil || d.Aborting {
		s.logger.Warn().Str("handle", r.Handle).Int("port", r.Port).Msg("PORT for a transfer nobody is waiting for")
		s.taperFailed(nil, "orphaned port", false)
		return
	}

	job.DestPort = r.Port
	err := s.dumpers.Send(d, protocol.PortDump{
		Handle: job.Handle,
		Host:   job.Host,
		Disk:   job.Disk,
		Level:  job.Level,
		Port:   r.Port,
	})
	if err != nil {
		s.workerDown(d, err.Error())
		return
	}
	s.jobLogger(job).Debug().Int("port", r.Port).Msg("Taper listening, dumper streaming")
}

// taperFailed handles a dead taper: the job it was writing is dealt with,
// then the taper is restarted or, with no restarts left, declared down.
func (s *Scheduler) taperFailed(job *types.DiskJob, reason string, charged bool) {
	if cur := s.taper.Job(); cur != nil {
		s.taper.Finish(cur)
	}
	if charged {
		s.logger.Error().Str("reason", reason).Msg("Tape error")
	} else {
		s.logger.Warn().Str("reason", reason).Msg("Resetting taper")
	}

	if job != nil {
		job.TapeErrors++
		delete(s.tapedEarly, job)
		metrics.JobResultsTotal.WithLabelValues("tape_error").Inc()
		switch job.Queue {
		case types.QueueRun:
			if d := s.dumpers.ForJob(job); d != nil && !d.Aborting {
				s.abort(d, job, abortTapeError, "tape error: "+reason)
			}
		case types.QueueTape:
			s.tapeq.Remove(job)
			switch {
			case job.Direct:
				s.requeue(job, "tape error: "+reason, true)
			case job.TapeErrors > s.cfg.MaxRetries:
				s.stall(job, "tape error: "+reason)
			default:
				s.tapeq.Add(job)
			}
		}
	}

	s.unwatchTaper()
	if err := s.taper.Restart(charged); err != nil {
		s.taperDown = true
		s.logger.Error().Err(err).Msg("Taper is down, draining running dumps")
		s.publish(events.EventTaperDown, job, reason)
		for _, j := range s.runq.Jobs() {
			if !j.Direct {
				continue
			}
			if d := s.dumpers.ForJob(j); d != nil && !d.Aborting {
				s.abort(d, j, abortInterrupted, "taper down")
			}
		}
		return
	}
	if charged {
		metrics.TaperRestartsTotal.Inc()
	}
	if err := s.watchTaper(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to watch restarted taper")
		s.taper.Kill()
		s.taperDown = true
	}
}

// requeue sends job back to waitq; a charged retry past max_retries stalls it
func (s *Scheduler) requeue(job *types.DiskJob, reason string, charged bool) {
	job.Reason = reason
	if charged {
		job.Retries++
		if job.Retries > s.cfg.MaxRetries {
			s.stall(job, fmt.Sprintf("gave up after %d attempts: %s", job.Retries, reason))
			return
		}
	}
	s.waitq.Add(job)
	metrics.JobResultsTotal.WithLabelValues("retried").Inc()
	s.publish(events.EventJobRetried, job, reason)
	s.jobLogger(job).Warn().Str("reason", reason).Int("retries", job.Retries).Bool("direct", job.Direct).Msg("Job requeued")
}

// stall parks job in stoppedq for the operator
func (s *Scheduler) stall(job *types.DiskJob, reason string) {
	job.Reason = reason
	s.stoppedq.Add(job)
	metrics.JobResultsTotal.WithLabelValues("stalled").Inc()
	s.publish(events.EventJobStalled, job, reason)
	s.jobLogger(job).Warn().Str("reason", reason).Msg("Job stalled")
}

// fail drops job from the run
func (s *Scheduler) fail(job *types.DiskJob, reason string) {
	job.Reason = reason
	s.outcomes = append(s.outcomes, types.OutcomeFor(job, types.OutcomeFailed))
	metrics.JobResultsTotal.WithLabelValues("failed").Inc()
	s.publish(events.EventJobFailed, job, reason)
	s.jobLogger(job).Error().Str("reason", reason).Msg("Dump failed")
}

// complete records job as durably on tape
func (s *Scheduler) complete(job *types.DiskJob) {
	job.Reason = ""
	s.outcomes = append(s.outcomes, types.OutcomeFor(job, types.OutcomeDone))
	metrics.JobResultsTotal.WithLabelValues("done").Inc()
	s.publish(events.EventJobTaped, job, job.Label)
	s.jobLogger(job).Info().
		Str("label", job.Label).
		Int("filenum", job.FileNum).
		Bool("direct", job.Direct).
		Msg("Dump on tape")
}
