package types

import (
	"fmt"
	"time"
)

// QueueName identifies which scheduler queue a job currently belongs to
type QueueName string

const (
	QueueNone    QueueName = ""
	QueueWait    QueueName = "waitq"
	QueueRun     QueueName = "runq"
	QueueStopped QueueName = "stoppedq"
	QueueTape    QueueName = "tapeq"
)

// DegradedEstimate is the fallback level a job switches to when it must be
// streamed straight to tape instead of being staged on a holding disk.
type DegradedEstimate struct {
	Level         int
	EstimatedSize int64
	EstimatedTime time.Duration
}

// DiskJob is one planned backup of one (host, disk) pair at a chosen level
type DiskJob struct {
	Host     string
	Disk     string
	Priority int

	// Requested level and estimates from the schedule
	Level         int
	EstimatedSize int64 // bytes
	EstimatedTime time.Duration
	EstimatedKPS  int64

	// Set when the schedule offered a cheaper level for direct-to-tape runs.
	Degraded *DegradedEstimate
	// Lowered is true once Degraded has been applied.
	Lowered bool

	// Runtime state
	Queue      QueueName
	Interface  string
	GrantedKPS int64
	Worker     string
	Handle     string
	Attempted  bool
	AssignedAt time.Time
	Retries    int
	TapeErrors int

	// Destination
	Direct   bool // stream to taper instead of holding disk
	DestPath string
	DestPort int

	// Results
	ActualSize int64
	Written    int64 // bytes already on holding disk when a NO-ROOM was reported
	DumpTime   time.Duration
	Label      string
	FileNum    int
	Reason     string
}

// ID returns the stable identity of the job within a run
func (j *DiskJob) ID() string {
	return j.Host + ":" + j.Disk
}

func (j *DiskJob) String() string {
	return fmt.Sprintf("%s:%s lev %d", j.Host, j.Disk, j.Level)
}

// Lower switches the job to its degraded level, if the schedule offered one.
// It reports whether the level changed.
func (j *DiskJob) Lower() bool {
	if j.Degraded == nil || j.Lowered {
		return false
	}
	j.Level = j.Degraded.Level
	j.EstimatedSize = j.Degraded.EstimatedSize
	if j.Degraded.EstimatedTime > 0 {
		j.EstimatedTime = j.Degraded.EstimatedTime
	}
	j.Lowered = true
	return true
}

// OutcomeStatus is the final disposition of a job at the end of a run
type OutcomeStatus string

const (
	OutcomeDone        OutcomeStatus = "done"
	OutcomeFailed      OutcomeStatus = "failed"
	OutcomeStalled     OutcomeStatus = "stalled"
	OutcomeUnscheduled OutcomeStatus = "unscheduled"
	OutcomeUnflushed   OutcomeStatus = "unflushed" // dumped to holding disk, never reached tape
)

// JobOutcome records what happened to one job
type JobOutcome struct {
	Host     string        `json:"host" yaml:"host"`
	Disk     string        `json:"disk" yaml:"disk"`
	Level    int           `json:"level" yaml:"level"`
	Status   OutcomeStatus `json:"status" yaml:"status"`
	Size     int64         `json:"size,omitempty" yaml:"size,omitempty"`
	Direct   bool          `json:"direct,omitempty" yaml:"direct,omitempty"`
	Label    string        `json:"label,omitempty" yaml:"label,omitempty"`
	FileNum  int           `json:"filenum,omitempty" yaml:"filenum,omitempty"`
	Retries  int           `json:"retries,omitempty" yaml:"retries,omitempty"`
	Reason   string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Holdings []string      `json:"holdings,omitempty" yaml:"holdings,omitempty"`
}

// OutcomeFor snapshots a job into a JobOutcome with the given status
func OutcomeFor(j *DiskJob, status OutcomeStatus) JobOutcome {
	return JobOutcome{
		Host:    j.Host,
		Disk:    j.Disk,
		Level:   j.Level,
		Status:  status,
		Size:    j.ActualSize,
		Direct:  j.Direct,
		Label:   j.Label,
		FileNum: j.FileNum,
		Retries: j.Retries,
		Reason:  j.Reason,
	}
}

// RunSummary is the explicit end-of-run report
type RunSummary struct {
	RunID       string       `json:"run_id" yaml:"run_id"`
	StartedAt   time.Time    `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time    `json:"finished_at" yaml:"finished_at"`
	Degraded    bool         `json:"degraded" yaml:"degraded"`
	TaperDown   bool         `json:"taper_down" yaml:"taper_down"`
	Interrupted bool         `json:"interrupted,omitempty" yaml:"interrupted,omitempty"`
	Jobs        []JobOutcome `json:"jobs" yaml:"jobs"`
}

// Count returns how many jobs ended with the given status
func (s *RunSummary) Count(status OutcomeStatus) int {
	n := 0
	for _, j := range s.Jobs {
		if j.Status == status {
			n++
		}
	}
	return n
}

// Outcome finds the outcome for host:disk
func (s *RunSummary) Outcome(host, disk string) (JobOutcome, bool) {
	for _, j := range s.Jobs {
		if j.Host == host && j.Disk == disk {
			return j, true
		}
	}
	return JobOutcome{}, false
}
