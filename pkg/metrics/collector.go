package metrics

import "fmt"

// DiskUsage is the reservation state of one holding disk
type DiskUsage struct {
	Path     string
	Reserved int64
	Capacity int64
}

// InterfaceUsage is the allocation state of one network interface
type InterfaceUsage struct {
	Name      string
	Allocated int64
	Cap       int64
}

// Snapshot is the scheduler state exported as gauges
type Snapshot struct {
	Queues        map[string]int
	Disks         []DiskUsage
	Interfaces    []InterfaceUsage
	Dumpers       map[string]int
	PendingAborts int
	Degraded        bool
	TaperUp         bool
	TaperRestarting bool
}

// Collect sets every gauge from s. The scheduler calls it from its own
// goroutine, so s never needs to be read concurrently.
func Collect(s Snapshot) {
	for queue, n := range s.Queues {
		QueueJobs.WithLabelValues(queue).Set(float64(n))
	}
	for _, d := range s.Disks {
		HoldingReservedBytes.WithLabelValues(d.Path).Set(float64(d.Reserved))
		HoldingCapacityBytes.WithLabelValues(d.Path).Set(float64(d.Capacity))
	}
	for _, i := range s.Interfaces {
		BandwidthAllocatedKPS.WithLabelValues(i.Name).Set(float64(i.Allocated))
		BandwidthCapKPS.WithLabelValues(i.Name).Set(float64(i.Cap))
	}
	for status, n := range s.Dumpers {
		Dumpers.WithLabelValues(status).Set(float64(n))
	}
	PendingAborts.Set(float64(s.PendingAborts))
	DegradedMode.Set(boolGauge(s.Degraded))
	TaperUp.Set(boolGauge(s.TaperUp))

	for name, c := range componentStates(s) {
		SetComponent(name, c.state, c.message)
	}
}

// componentStates maps a snapshot onto the taper, dumpers and run components
func componentStates(s Snapshot) map[string]component {
	out := map[string]component{
		"taper":   {state: StateUp},
		"dumpers": {state: StateUp},
		"run":     {state: StateUp},
	}

	switch {
	case !s.TaperUp:
		out["taper"] = component{StateDown, "taper down"}
	case s.TaperRestarting:
		out["taper"] = component{StateDegraded, "taper restarting"}
	}

	up := s.Dumpers["idle"] + s.Dumpers["busy"]
	down := s.Dumpers["down"]
	switch {
	case up == 0:
		out["dumpers"] = component{StateDown, "no dumper left"}
	case down > 0:
		out["dumpers"] = component{StateDegraded, fmt.Sprintf("%d of %d dumpers down", down, up+down)}
	}

	if s.Degraded {
		out["run"] = component{StateDegraded, "holding disks disabled, dumping directly to tape"}
	}
	return out
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
