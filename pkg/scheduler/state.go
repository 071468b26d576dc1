package scheduler

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"
	"github.com/dustin/go-humanize"

	"github.com/cuemby/tapeline/pkg/events"
	"github.com/cuemby/tapeline/pkg/metrics"
	"github.com/cuemby/tapeline/pkg/types"
	"github.com/cuemby/tapeline/pkg/worker"
)

// finish stops every worker, releases every reactor handle so the loop
// returns, and builds the run summary.
func (s *Scheduler) finish() {
	if s.finished {
		return
	}
	s.finished = true

	if s.taper != nil {
		s.taper.Quit()
	}
	if s.dumpers != nil {
		s.dumpers.Shutdown()
	}
	for d := range s.dumperHandles {
		s.unwatchDumper(d)
	}
	s.unwatchTaper()
	for _, h := range s.otherHandles {
		s.reactor.Release(h)
	}
	s.otherHandles = nil

	summary := &types.RunSummary{
		RunID:       s.runID,
		StartedAt:   s.startedAt,
		FinishedAt:  s.clock.Now(),
		Degraded:    s.degradedMode,
		TaperDown:   s.taperDown,
		Interrupted: s.interrupted,
	}
	summary.Jobs = append(summary.Jobs, s.outcomes...)

	for _, job := range s.tapeq.Jobs() {
		if job.Direct {
			o := types.OutcomeFor(job, types.OutcomeUnscheduled)
			o.Reason = "never confirmed on tape"
			summary.Jobs = append(summary.Jobs, o)
			continue
		}
		o := types.OutcomeFor(job, types.OutcomeUnflushed)
		o.Holdings = s.holding.Paths(job)
		summary.Jobs = append(summary.Jobs, o)
	}
	for _, job := range s.runq.Jobs() {
		s.holding.Release(job)
		o := types.OutcomeFor(job, types.OutcomeUnscheduled)
		o.Reason = "interrupted"
		summary.Jobs = append(summary.Jobs, o)
	}
	for _, job := range s.waitq.Jobs() {
		summary.Jobs = append(summary.Jobs, types.OutcomeFor(job, types.OutcomeUnscheduled))
	}
	for _, job := range s.stoppedq.Jobs() {
		o := types.OutcomeFor(job, types.OutcomeStalled)
		o.Holdings = s.holding.Paths(job)
		summary.Jobs = append(summary.Jobs, o)
	}

	s.holding.Cleanup()
	s.summary = summary

	s.logger.Info().
		Int("done", summary.Count(types.OutcomeDone)).
		Int("failed", summary.Count(types.OutcomeFailed)).
		Int("stalled", summary.Count(types.OutcomeStalled)).
		Int("unflushed", summary.Count(types.OutcomeUnflushed)).
		Int("unscheduled", summary.Count(types.OutcomeUnscheduled)).
		Bool("degraded", s.degradedMode).
		Bool("taper_down", s.taperDown).
		Str("elapsed", humanize.RelTime(s.startedAt, summary.FinishedAt, "", "")).
		Msg("Run finished")
	s.publish(events.EventRunFinished, nil, "")
	s.updateMetrics()
}

func (s *Scheduler) taperState() string {
	switch {
	case s.taper == nil:
		return "not started"
	case s.taper.Down():
		return "down"
	case !s.taper.Ready():
		return "starting"
	case s.taper.InsideDumpToTape():
		return "direct"
	case s.taper.Busy():
		return "writing"
	default:
		return "idle"
	}
}

// shortDumpState is the one-line status written on every status tick
func (s *Scheduler) shortDumpState() string {
	busy, up := 0, 0
	if s.dumpers != nil {
		busy, up = s.dumpers.BusyCount(), s.dumpers.UpCount()
	}
	return fmt.Sprintf("waitq %d, runq %d, tapeq %d, stoppedq %d; dumpers %d/%d busy; holding %s free of %s; taper %s; pending aborts %d; degraded %t",
		s.waitq.Len(), s.runq.Len(), s.tapeq.Len(), s.stoppedq.Len(),
		busy, up,
		units.BytesSize(float64(s.holding.TotalFree())),
		units.BytesSize(float64(s.holding.TotalCapacity())),
		s.taperState(),
		s.pendingAborts,
		s.degradedMode)
}

// dumpState renders queues and resource use for operators
func (s *Scheduler) dumpState() string {
	now := s.clock.Now()
	var b strings.Builder

	fmt.Fprintf(&b, "run %s: %s\n", s.runID, s.shortDumpState())

	for _, q := range []*Queue{s.waitq, s.runq, s.tapeq, s.stoppedq} {
		fmt.Fprintf(&b, "%s (%d):\n", q.Name(), q.Len())
		for _, job := range q.Jobs() {
			fmt.Fprintf(&b, "  %-30s prio %-3d est %-10s", job.String(), job.Priority, units.BytesSize(float64(job.EstimatedSize)))
			switch q {
			case s.runq:
				dest := job.DestPath
				if job.Direct {
					dest = "tape"
					if job.DestPort > 0 {
						dest = fmt.Sprintf("tape port %d", job.DestPort)
					}
				}
				fmt.Fprintf(&b, " %s %s to %s, started %s", job.Worker, job.Handle, dest,
					humanize.RelTime(job.AssignedAt, now, "ago", "from now"))
			case s.tapeq:
				fmt.Fprintf(&b, " size %s", units.BytesSize(float64(job.ActualSize)))
			}
			if job.Reason != "" {
				fmt.Fprintf(&b, " (%s)", job.Reason)
			}
			b.WriteByte('\n')
			for _, c := range s.holding.Chunks(job) {
				fmt.Fprintf(&b, "    chunk %s %s\n", c.Path, units.BytesSize(float64(c.Bytes)))
			}
		}
	}

	b.WriteString("holding disks:\n")
	for _, d := range s.holding.Disks() {
		pct := 0.0
		if d.Capacity > 0 {
			pct = 100 * float64(d.Reserved()) / float64(d.Capacity)
		}
		fmt.Fprintf(&b, "  %-30s %s reserved of %s (%.0f%%)\n", d.Path,
			units.BytesSize(float64(d.Reserved())), units.BytesSize(float64(d.Capacity)), pct)
	}

	b.WriteString("interfaces:\n")
	for _, i := range s.bandwidth.Interfaces() {
		fmt.Fprintf(&b, "  %-12s %s of %s kps\n", i.Name, humanize.Comma(i.Allocated), humanize.Comma(i.Cap))
	}

	if s.dumpers != nil {
		b.WriteString("dumpers:\n")
		for _, d := range s.dumpers.Dumpers() {
			fmt.Fprintf(&b, "  %-10s %-5s", d.Name, d.Status)
			if d.Job != nil {
				fmt.Fprintf(&b, " %s", d.Job)
				if d.Aborting {
					b.WriteString(" (aborting)")
				}
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func (s *Scheduler) updateMetrics() {
	snap := metrics.Snapshot{
		Queues: map[string]int{
			string(types.QueueWait):    s.waitq.Len(),
			string(types.QueueRun):     s.runq.Len(),
			string(types.QueueTape):    s.tapeq.Len(),
			string(types.QueueStopped): s.stoppedq.Len(),
		},
		Dumpers:         map[string]int{},
		PendingAborts:   s.pendingAborts,
		Degraded:        s.degradedMode,
		TaperUp:         s.taper != nil && !s.taper.Down() && !s.finished,
		TaperRestarting: s.taper != nil && s.taper.Restarting(),
	}
	for _, d := range s.holding.Disks() {
		snap.Disks = append(snap.Disks, metrics.DiskUsage{Path: d.Path, Reserved: d.Reserved(), Capacity: d.Capacity})
	}
	for _, i := range s.bandwidth.Interfaces() {
		snap.Interfaces = append(snap.Interfaces, metrics.InterfaceUsage{Name: i.Name, Allocated: i.Allocated, Cap: i.Cap})
	}
	if s.dumpers != nil {
		for _, st := range []worker.Status{worker.StatusIdle, worker.StatusBusy, worker.StatusDown} {
			snap.Dumpers[st.String()] = 0
		}
		for _, d := range s.dumpers.Dumpers() {
			snap.Dumpers[d.Status.String()]++
		}
	}
	metrics.Collect(snap)
}
