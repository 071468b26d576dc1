package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	QueueJobs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tapeline_queue_jobs",
			Help: "Number of jobs in each scheduler queue",
		},
		[]string{"queue"},
	)

	PendingAborts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tapeline_pending_aborts",
			Help: "ABORT commands sent to dumpers and not yet acknowledged",
		},
	)

	DegradedMode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tapeline_degraded_mode",
			Help: "Whether the run streams dumps directly to tape (1 = degraded)",
		},
	)

	// Resource metrics
	HoldingReservedBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tapeline_holding_reserved_bytes",
			Help: "Bytes reserved on each holding disk",
		},
		[]string{"disk"},
	)

	HoldingCapacityBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tapeline_holding_capacity_bytes",
			Help: "Configured capacity of each holding disk",
		},
		[]string{"disk"},
	)

	BandwidthAllocatedKPS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tapeline_bandwidth_allocated_kps",
			Help: "Throughput allocated to running dumps per interface in KB/s",
		},
		[]string{"interface"},
	)

	BandwidthCapKPS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tapeline_bandwidth_cap_kps",
			Help: "Configured throughput cap per interface in KB/s",
		},
		[]string{"interface"},
	)

	// Worker metrics
	Dumpers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tapeline_dumpers",
			Help: "Number of dumpers by status",
		},
		[]string{"status"},
	)

	TaperUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tapeline_taper_up",
			Help: "Whether the taper is usable (1 = up, 0 = down)",
		},
	)

	TaperRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tapeline_taper_restarts_total",
			Help: "Total number of taper restarts",
		},
	)

	// Job metrics
	JobResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapeline_job_results_total",
			Help: "Total number of job results by kind",
		},
		[]string{"result"},
	)

	DumpDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tapeline_dump_duration_seconds",
			Help:    "Dump duration reported by dumpers in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	DumpedBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tapeline_dumped_bytes_total",
			Help: "Total number of bytes reported by finished dumps",
		},
	)

	// Scheduler metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tapeline_scheduling_latency_seconds",
			Help:    "Time taken by one scheduling pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(QueueJobs)
	prometheus.MustRegister(PendingAborts)
	prometheus.MustRegister(DegradedMode)
	prometheus.MustRegister(HoldingReservedBytes)
	prometheus.MustRegister(HoldingCapacityBytes)
	prometheus.MustRegister(BandwidthAllocatedKPS)
	prometheus.MustRegister(BandwidthCapKPS)
	prometheus.MustRegister(Dumpers)
	prometheus.MustRegister(TaperUp)
	prometheus.MustRegister(TaperRestartsTotal)
	prometheus.MustRegister(JobResultsTotal)
	prometheus.MustRegister(DumpDuration)
	prometheus.MustRegister(DumpedBytesTotal)
	prometheus.MustRegister(SchedulingLatency)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
