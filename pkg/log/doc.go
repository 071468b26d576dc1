/*
Package log provides structured logging for tapeline using zerolog.

A single package-level Logger is initialized once by the CLI through Init and
shared by every component. Components derive child loggers that carry their
name, and the scheduler further derives per-job and per-worker loggers so that
every line about a dump can be correlated by host, disk and protocol handle.

# Usage

	log.Init(log.Config{
		Level:      log.ParseLevel("debug"),
		JSONOutput: false,
		Output:     os.Stderr,
	})

	logger := log.WithComponent("scheduler")
	jobLog := log.WithJob(logger, "db1.example.com", "/var", "01-00003")
	jobLog.Info().Int64("bytes", 4096).Msg("Dump finished")

Console output (development):

	2026-10-17T02:00:01Z INF Dump finished bytes=4096 component=scheduler disk=/var handle=01-00003 host=db1.example.com

JSON output (production, --log-json):

	{"level":"info","component":"scheduler","host":"db1.example.com","disk":"/var","handle":"01-00003","bytes":4096,"message":"Dump finished"}

# Levels

  - debug: every queue transition and protocol line
  - info: job outcomes, periodic status lines, run summary
  - warn: retries, stalls, degraded mode, tape errors
  - error: worker deaths, taper permanently down
*/
package log
