package scheduler

import (
	"fmt"
	"sort"

	"github.com/cuemby/tapeline/pkg/config"
	"github.com/cuemby/tapeline/pkg/types"
)

// Comparator reports whether a must come before b
type Comparator func(a, b *types.DiskJob) bool

// ByPriorityThenSize orders by priority, larger estimates first on ties
func ByPriorityThenSize(a, b *types.DiskJob) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.EstimatedSize > b.EstimatedSize
}

// ByPriorityThenTime orders by priority, shorter estimated time first on ties
func ByPriorityThenTime(a, b *types.DiskJob) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.EstimatedTime < b.EstimatedTime
}

// LargestFirst orders finished dumps by actual size, used by taperalgo=largest
func LargestFirst(a, b *types.DiskJob) bool {
	return a.ActualSize > b.ActualSize
}

// ComparatorFor maps the dumporder setting to a waitq comparator
func ComparatorFor(order string) Comparator {
	switch order {
	case config.DumpOrderPriorityTime:
		return ByPriorityThenTime
	default:
		return ByPriorityThenSize
	}
}

// FlushOrderFor maps the taperalgo setting to a tapeq comparator. A nil
// comparator keeps arrival order.
func FlushOrderFor(algo string) Comparator {
	switch algo {
	case config.TaperAlgoLargest:
		return LargestFirst
	default:
		return nil
	}
}

// Queue is an ordered set of jobs. Insertion keeps the comparator order and
// is stable, so jobs that compare equal stay in arrival order.
type Queue struct {
	name types.QueueName
	less Comparator
	jobs []*types.DiskJob
}

// NewQueue creates an empty queue; less may be nil for FIFO order
func NewQueue(name types.QueueName, less Comparator) *Queue {
	return &Queue{name: name, less: less}
}

// Name returns the queue name
func (q *Queue) Name() types.QueueName {
	return q.name
}

// Add inserts job. A job can be in one queue only; adding a job that is
// still a member of another queue is a programming error.
func (q *Queue) Add(job *types.DiskJob) {
	if job.Queue != types.QueueNone {
		panic(fmt.Sprintf("scheduler: %s added to %s while in %s", job, q.name, job.Queue))
	}
	i := len(q.jobs)
	if q.less != nil {
		i = sort.Search(len(q.jobs), func(k int) bool { return q.less(job, q.jobs[k]) })
	}
	q.jobs = append(q.jobs, nil)
	copy(q.jobs[i+1:], q.jobs[i:])
	q.jobs[i] = job
	job.Queue = q.name
}

// Remove takes job out of the queue and reports whether it was there
func (q *Queue) Remove(job *types.DiskJob) bool {
	for i, j := range q.jobs {
		if j == job {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			job.Queue = types.QueueNone
			return true
		}
	}
	return false
}

// Head returns the first job, or nil
func (q *Queue) Head() *types.DiskJob {
	if len(q.jobs) == 0 {
		return nil
	}
	return q.jobs[0]
}

// Len returns the number of jobs
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Jobs returns a copy of the queue in order, safe to iterate while the
// queue changes.
func (q *Queue) Jobs() []*types.DiskJob {
	out := make([]*types.DiskJob, len(q.jobs))
	copy(out, q.jobs)
	return out
}

// Sort restores comparator order after estimates changed
func (q *Queue) Sort() {
	if q.less == nil {
		return
	}
	sort.SliceStable(q.jobs, func(i, j int) bool { return q.less(q.jobs[i], q.jobs[j]) })
}
