/*
Package scheduler drives a backup run: it decides which planned dump starts
next, on which dumper, against which holding disk and interface, and when a
finished image goes to tape.

# Architecture

Everything happens on the goroutine that calls Run. The reactor reports a
readable dumper or taper pipe, a signal or the status timer; the scheduler
applies the replies and then runs one scheduling pass:

	┌──────────────────────────────────────────────────────────┐
	│                    reactor.Loop                          │
	│   dumper pipes · taper pipe · SIGINT/SIGTERM/SIGHUP · timer│
	└────────────────┬─────────────────────────────────────────┘
	                 │ callback
	                 ▼
	┌──────────────────────────────────────────────────────────┐
	│  handleDumperResult / handleTaperResult                  │
	│  (move jobs between queues, release resources)           │
	└────────────────┬─────────────────────────────────────────┘
	                 │
	                 ▼
	┌──────────────────────────────────────────────────────────┐
	│  schedule                                                │
	│   1. startTaperWork   next holding image to an idle taper │
	│   2. startSomeDumps   waitq jobs onto idle dumpers        │
	│   3. maybeFinish      end the run when nothing can move   │
	└──────────────────────────────────────────────────────────┘

No locks are taken anywhere in the package. A Scheduler must not be used
from more than one goroutine.

# Queues

Every job is in exactly one of four queues, or in none once it has an
outcome:

  - waitq: not started, ordered by the dumporder comparator
  - runq: assigned to a dumper
  - tapeq: dumped, waiting for the taper, ordered by taperalgo
  - stoppedq: stalled, left for the operator

# Starting dumps

startSomeDumps walks waitq in order. A job starts when a dumper is idle,
fewer than inparallel dumpers are busy, its host is below max_dumps, its
interface grants bandwidth and either a holding disk has room for the
estimate or the job is routed straight to tape. The first job refused for a
resource blocks that resource for the rest of the pass; jobs needing other
resources may still start, so a large job at the head of waitq does not
stall small ones on another interface.

A job streams straight to tape when the run is degraded, when an earlier
attempt ran out of holding space, or when its estimate exceeds every holding
disk. Only one such transfer can be in flight and only through an idle
taper.

# Degraded mode

When the DegradedPolicy decides that holding-bound jobs can no longer be
placed, the holding disks are disabled for the rest of the run, every waiting
job switches to its degraded level if the schedule offered one, and all
further dumps go directly to tape. The default policy degrades only when no
waiting job fits and nothing running or queued for tape will free space.

# Failures

	TRY-AGAIN, FAIL-OUTPUT   requeue, charged against max_retries
	FAILED                   job fails, run continues
	FATAL-TRY-AGAIN          job stalls
	NO-ROOM                  continue on another disk, or abort and go direct
	BAD-COMMAND, bogus, EOF  dumper marked down, its job requeued
	TAPE-ERROR, taper EOF    job retried, taper restarted or declared down

With the taper down no new dump starts; running holding dumps drain and the
run ends with everything left over reported in the summary.

# Interrupts

The first SIGINT or SIGTERM aborts every running dump and ends the run once
the dumpers acknowledge. A second one ends the run immediately. SIGHUP logs
the full state.
*/
package scheduler
