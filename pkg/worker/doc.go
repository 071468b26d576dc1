/*
Package worker manages the fixed pool of dumper processes for a backup run.

Each dumper is an external program started once per run and driven over a
pipe pair: the driver writes protocol commands to its stdin and reads reply
lines from its stdout. The pool never reads on its own; the scheduler polls
each dumper's reply descriptor through the reactor and calls Recv when it is
readable, so a Recv never blocks.

# Status

	      Assign                 Release
	idle ────────▶ busy ─────────────────▶ idle
	                │
	                │ MarkDown (BAD-COMMAND, BOGUS, EOF)
	                ▼
	              down

A down dumper is never handed out again during the run, so every failure
permanently reduces the run's parallelism by one.

An aborting dumper (ABORT sent, ABORT-FINISHED not yet seen) stays busy, so
IdleWorker cannot hand its slot to another job.

# Handles

Assign tags each dispatched job with a handle built from the dumper index and
a run-wide serial number (protocol.FormatHandle). Handles are never reused
within a run, which lets the scheduler discard late replies for a job that
was already moved elsewhere.
*/
package worker
