// Package replication copies object paths from one region's storage
// namespace to others as asynchronous jobs.
//
// State machine:
//
//	pending -> running -> completed
//	                   -> failed
//
// A job is failed when any path or target recorded an error, and completed
// otherwise. Terminal jobs are persisted once under
// /georoute/v1/replication/jobs/<jobId> with a retention TTL and never
// modified again. Partial failure is the normal case: errors accumulate in
// the job record and are never returned to the caller that started the job.
package replication

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidTransition is returned when a state transition is not allowed.
	ErrInvalidTransition = errors.New("replication: invalid state transition")

	// ErrInvalidRequest is returned when a replication request is malformed.
	ErrInvalidRequest = errors.New("replication: invalid request")

	// ErrJobNotFound is returned by Wait for an unknown job id.
	ErrJobNotFound = errors.New("replication: job not found")

	// ErrQueueFull is returned when no queue slot is free for a new job.
	ErrQueueFull = errors.New("replication: queue full")

	// ErrStopped is returned when starting a job on a stopped replicator.
	ErrStopped = errors.New("replication: replicator stopped")
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// validTransitions defines allowed state transitions.
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusRunning},
	StatusRunning:   {StatusCompleted, StatusFailed},
	StatusCompleted: {}, // Terminal state
	StatusFailed:    {}, // Terminal state
}

// Job is one replication request and its progress.
type Job struct {
	ID            string     `json:"id"`
	SourceRegion  string     `json:"sourceRegion"`
	TargetRegions []string   `json:"targetRegions"`
	Paths         []string   `json:"paths"`
	Status        Status     `json:"status"`
	Progress      int        `json:"progress"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	Errors        []string   `json:"errors"`
}

// CanTransitionTo checks if transitioning from the current status to next is valid.
func (j *Job) CanTransitionTo(next Status) bool {
	for _, s := range validTransitions[j.Status] {
		if s == next {
			return true
		}
	}
	return false
}

func (j *Job) transition(next Status) error {
	if !j.CanTransitionTo(next) {
		return fmt.Errorf("%w: job %s cannot go from %s to %s", ErrInvalidTransition, j.ID, j.Status, next)
	}
	j.Status = next
	return nil
}

// clone returns a deep copy safe to hand out while the job keeps running.
func (j *Job) clone() Job {
	c := *j
	c.TargetRegions = append([]string(nil), j.TargetRegions...)
	c.Paths = append([]string(nil), j.Paths...)
	c.Errors = append([]string(nil), j.Errors...)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// progress is round(done/total*100), clamped to [0,100].
func progress(done, total int) int {
	if total <= 0 {
		return 100
	}
	p := int(math.Round(float64(done) / float64(total) * 100))
	return max(0, min(100, p))
}
