/*
Package types defines the data model shared by every tapeline component.

The central type is DiskJob: one planned backup of one (host, disk) at a
chosen dump level. A job is created when the run's schedule is loaded and is
then moved between the scheduler's queues until it is durably on tape, fails,
stalls, or the run ends without it being attempted:

	          dispatch             DONE              TAPER-OK
	waitq ─────────────▶ runq ────────────▶ tapeq ────────────▶ (done)
	  ▲                   │  │
	  │    TRY-AGAIN      │  │ FATAL-TRY-AGAIN
	  └───────────────────┘  └──────────────▶ stoppedq
	                      │
	                      │ FAILED
	                      └──────────────▶ (failed)

A job is a member of at most one queue at a time; Queue records which.

RunSummary and JobOutcome are the end-of-run report. They are returned by the
scheduler, printed by the CLI and persisted by pkg/storage.
*/
package types
