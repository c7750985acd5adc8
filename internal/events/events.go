// Package events publishes replication lifecycle events.
//
// Events are informational. A publish failure is logged by the caller and
// never changes the outcome of the job that produced it.
package events

import (
	"context"
	"sync"
	"time"
)

// Type names a lifecycle transition.
type Type string

const (
	JobStarted   Type = "replication.started"
	JobCompleted Type = "replication.completed"
	JobFailed    Type = "replication.failed"
)

// Event describes one replication job transition.
type Event struct {
	Type          Type      `json:"type"`
	JobID         string    `json:"jobId"`
	SourceRegion  string    `json:"sourceRegion"`
	TargetRegions []string  `json:"targetRegions"`
	Paths         int       `json:"paths"`
	Progress      int       `json:"progress"`
	Errors        int       `json:"errors"`
	Time          time.Time `json:"time"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NoopPublisher discards every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }

// MemoryPublisher keeps events in memory. Tests in other packages use it.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

// NewMemoryPublisher creates an empty MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// SetError makes subsequent publishes fail with err (nil to clear).
func (p *MemoryPublisher) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *MemoryPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

// Events returns a copy of the published events in order.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

func (p *MemoryPublisher) Close() error { return nil }
