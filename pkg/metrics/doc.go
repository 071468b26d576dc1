/*
Package metrics exposes tapeline's Prometheus metrics and health endpoints.

All metrics are package-level collectors registered with the default registry
in init, so any package can update them without plumbing a registry through.

# Metrics

Queues and scheduling:

  - tapeline_queue_jobs{queue}: jobs in waitq, runq, tapeq and stoppedq
  - tapeline_pending_aborts: ABORTs not yet acknowledged by a dumper
  - tapeline_degraded_mode: 1 once the run streams dumps straight to tape
  - tapeline_scheduling_latency_seconds: duration of one scheduling pass

Resources:

  - tapeline_holding_reserved_bytes{disk}, tapeline_holding_capacity_bytes{disk}
  - tapeline_bandwidth_allocated_kps{interface}, tapeline_bandwidth_cap_kps{interface}

Workers and jobs:

  - tapeline_dumpers{status}: idle, busy and down dumpers
  - tapeline_taper_up, tapeline_taper_restarts_total
  - tapeline_job_results_total{result}: done, failed, retried, stalled, tape_error
  - tapeline_dump_duration_seconds, tapeline_dumped_bytes_total

Gauges are refreshed from a Snapshot the scheduler builds after every
scheduling pass and on its status timer:

	metrics.Collect(metrics.Snapshot{
		Queues:  map[string]int{"waitq": 12, "runq": 4},
		Dumpers: map[string]int{"idle": 0, "busy": 4},
		TaperUp: true,
	})

Counters and histograms are updated in place when the event happens:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

# Health

Collect also derives the state of three components from each Snapshot:

	taper    down when unusable, degraded while a restarted taper boots
	dumpers  down when none is left, degraded when some are marked down
	run      degraded once holding disks are disabled

Mux serves:

  - /metrics: Prometheus text exposition
  - /health: 503 when any component is down, 200 when healthy or degraded
  - /ready: 200 once the taper and the dumpers are reported and not down
  - /live: 200 while the process runs

The CLI serves Mux on --metrics-addr during a run.
*/
package metrics
