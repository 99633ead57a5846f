// Package indexer indexes workspace files that are not open, on a single
// background worker fed by a bounded FIFO queue.
package indexer

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Reason records why a file was queued.
type Reason string

const (
	ReasonTransitive Reason = "transitive"
	ReasonDiskChange Reason = "disk-change"
	ReasonRequested  Reason = "requested"
)

// Job indexes one file. Depth counts hops from the file that caused the
// job to be queued.
type Job struct {
	ID          string     `json:"id"`
	URI         string     `json:"uri"`
	Depth       int        `json:"depth"`
	Reason      Reason     `json:"reason"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// NewJob creates a queued job for uri.
func NewJob(uri string, depth int, reason Reason) *Job {
	return &Job{
		ID:        uuid.New().String(),
		URI:       uri,
		Depth:     depth,
		Reason:    reason,
		Status:    JobQueued,
		CreatedAt: time.Now().UTC(),
	}
}

// IsTerminal reports whether the job has finished one way or another.
func (j *Job) IsTerminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed || j.Status == JobCancelled
}

func (j *Job) MarkStarted() {
	now := time.Now().UTC()
	j.Status = JobRunning
	j.StartedAt = &now
}

func (j *Job) MarkCompleted() {
	now := time.Now().UTC()
	j.Status = JobCompleted
	j.CompletedAt = &now
}

func (j *Job) MarkFailed(err error) {
	now := time.Now().UTC()
	j.Status = JobFailed
	j.CompletedAt = &now
	if err != nil {
		j.Error = err.Error()
	}
}

func (j *Job) MarkCancelled() {
	now := time.Now().UTC()
	j.Status = JobCancelled
	j.CompletedAt = &now
}

// Duration returns how long the job ran, or has been running.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := time.Now().UTC()
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	return end.Sub(*j.StartedAt)
}
