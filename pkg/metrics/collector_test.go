package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollect(t *testing.T) {
	resetHealth(t)

	Collect(Snapshot{
		Queues:        map[string]int{"waitq": 4, "runq": 2},
		Disks:         []DiskUsage{{Path: "/hold1", Reserved: 300, Capacity: 1000}},
		Interfaces:    []InterfaceUsage{{Name: "le0", Allocated: 400, Cap: 1000}},
		Dumpers:       map[string]int{"idle": 1, "busy": 2, "down": 1},
		PendingAborts: 1,
		Degraded:      true,
		TaperUp:       true,
	})

	assert.Equal(t, 4.0, testutil.ToFloat64(QueueJobs.WithLabelValues("waitq")))
	assert.Equal(t, 2.0, testutil.ToFloat64(QueueJobs.WithLabelValues("runq")))
	assert.Equal(t, 300.0, testutil.ToFloat64(HoldingReservedBytes.WithLabelValues("/hold1")))
	assert.Equal(t, 1000.0, testutil.ToFloat64(HoldingCapacityBytes.WithLabelValues("/hold1")))
	assert.Equal(t, 400.0, testutil.ToFloat64(BandwidthAllocatedKPS.WithLabelValues("le0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(Dumpers.WithLabelValues("down")))
	assert.Equal(t, 1.0, testutil.ToFloat64(PendingAborts))
	assert.Equal(t, 1.0, testutil.ToFloat64(DegradedMode))
	assert.Equal(t, StatusReady, GetReadiness().Status)

	Collect(Snapshot{Dumpers: map[string]int{"down": 3}})
	assert.Equal(t, 0.0, testutil.ToFloat64(TaperUp))
	readiness := GetReadiness()
	assert.Equal(t, StatusNotReady, readiness.Status)
	assert.Equal(t, "down: no dumper left", readiness.Components["dumpers"])
}
