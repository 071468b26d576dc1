package scheduler

import (
	"testing"
	"time"

	"github.com/cuemby/tapeline/pkg/config"
	"github.com/cuemby/tapeline/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hosts(jobs []*types.DiskJob) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Host)
	}
	return out
}

func TestComparators(t *testing.T) {
	tests := []struct {
		name  string
		order string
		jobs  []*types.DiskJob
		want  []string
	}{
		{
			name:  "priority then size",
			order: config.DumpOrderPrioritySize,
			jobs: []*types.DiskJob{
				{Host: "small", Priority: 1, EstimatedSize: 10},
				{Host: "big", Priority: 1, EstimatedSize: 100},
				{Host: "urgent", Priority: 9, EstimatedSize: 1},
			},
			want: []string{"urgent", "big", "small"},
		},
		{
			name:  "priority then time",
			order: config.DumpOrderPriorityTime,
			jobs: []*types.DiskJob{
				{Host: "slow", Priority: 1, EstimatedTime: time.Hour},
				{Host: "fast", Priority: 1, EstimatedTime: time.Minute},
				{Host: "urgent", Priority: 2, EstimatedTime: 2 * time.Hour},
			},
			want: []string{"urgent", "fast", "slow"},
		},
		{
			name:  "ties keep arrival order",
			order: config.DumpOrderPrioritySize,
			jobs: []*types.DiskJob{
				{Host: "a", Priority: 3, EstimatedSize: 5},
				{Host: "b", Priority: 3, EstimatedSize: 5},
				{Host: "c", Priority: 3, EstimatedSize: 5},
			},
			want: []string{"a", "b", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQueue(types.QueueWait, ComparatorFor(tt.order))
			for _, j := range tt.jobs {
				q.Add(j)
			}
			assert.Equal(t, tt.want, hosts(q.Jobs()))
			assert.Equal(t, tt.want[0], q.Head().Host)
		})
	}
}

func TestFlushOrder(t *testing.T) {
	jobs := func() []*types.DiskJob {
		return []*types.DiskJob{
			{Host: "a", ActualSize: 10},
			{Host: "b", ActualSize: 30},
			{Host: "c", ActualSize: 20},
		}
	}

	fifo := NewQueue(types.QueueTape, FlushOrderFor(config.TaperAlgoFirst))
	for _, j := range jobs() {
		fifo.Add(j)
	}
	assert.Equal(t, []string{"a", "b", "c"}, hosts(fifo.Jobs()))

	largest := NewQueue(types.QueueTape, FlushOrderFor(config.TaperAlgoLargest))
	for _, j := range jobs() {
		largest.Add(j)
	}
	assert.Equal(t, []string{"b", "c", "a"}, hosts(largest.Jobs()))
}

func TestQueueMembership(t *testing.T) {
	waitq := NewQueue(types.QueueWait, ByPriorityThenSize)
	runq := NewQueue(types.QueueRun, nil)
	job := &types.DiskJob{Host: "h", Disk: "/"}

	waitq.Add(job)
	assert.Equal(t, types.QueueWait, job.Queue)
	assert.Panics(t, func() { runq.Add(job) })

	require.True(t, waitq.Remove(job))
	assert.Equal(t, types.QueueNone, job.Queue)
	assert.False(t, waitq.Remove(job))
	assert.Nil(t, waitq.Head())

	runq.Add(job)
	assert.Equal(t, types.QueueRun, job.Queue)
	assert.Equal(t, 1, runq.Len())
}

func TestQueueSortAfterLowering(t *testing.T) {
	q := NewQueue(types.QueueWait, ByPriorityThenSize)
	a := &types.DiskJob{Host: "a", Priority: 1, EstimatedSize: 100,
		Degraded: &types.DegradedEstimate{Level: 1, EstimatedSize: 1}}
	b := &types.DiskJob{Host: "b", Priority: 1, EstimatedSize: 50}
	q.Add(a)
	q.Add(b)
	assert.Equal(t, []string{"a", "b"}, hosts(q.Jobs()))

	require.True(t, a.Lower())
	q.Sort()
	assert.Equal(t, []string{"b", "a"}, hosts(q.Jobs()))
}

func TestJobsIsACopy(t *testing.T) {
	q := NewQueue(types.QueueRun, nil)
	a := &types.DiskJob{Host: "a"}
	b := &types.DiskJob{Host: "b"}
	q.Add(a)
	q.Add(b)

	for _, j := range q.Jobs() {
		q.Remove(j)
	}
	assert.Zero(t, q.Len())
}
