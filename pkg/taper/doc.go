/*
Package taper coordinates the single tape-writer process of a backup run.

The taper accepts one write at a time. There are two kinds:

  - FILE-WRITE hands over a finished image that sits on a holding disk.
  - PORT-WRITE asks the taper to listen on a port; the scheduler relays the
    port from the taper's PORT reply to the dumper, which then streams the
    image straight to tape.

While a PORT-WRITE is outstanding the coordinator holds the run-wide
inside-dump-to-tape flag. It is cleared only by Finish, which the scheduler
calls when the job's TAPER-OK or TAPE-ERROR arrives, so a holding-disk flush
can never be started against a taper session that a direct transfer is using.

A TAPE-ERROR or unexpected end of stream kills the taper. Restart starts a
fresh one until the configured budget is spent; after that the taper is down
for the rest of the run and the scheduler drains what is still running.

The coordinator does no I/O scheduling of its own. Like the dumper pool it is
driven from the scheduler's reactor callbacks and must not be shared between
goroutines.
*/
package taper
