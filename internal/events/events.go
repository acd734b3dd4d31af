// Package events publishes worker pool lifecycle events to subscribers.
package events

import (
	"time"

	"respool/internal/worker"
)

// EventType represents the type of event
type EventType string

const (
	// EventWorkerStarted is emitted when a worker goroutine starts
	EventWorkerStarted EventType = "worker_started"
	// EventWorkerExited is emitted when a worker retires or the pool stops
	EventWorkerExited EventType = "worker_exited"
	// EventJobStarted is emitted right before a worker invokes a job
	EventJobStarted EventType = "job_started"
	// EventJobFinished is emitted after a job returns
	EventJobFinished EventType = "job_finished"
	// EventResized is emitted when the worker target changes
	EventResized EventType = "resized"
	// EventIdle is emitted when no job is queued or running any more
	EventIdle EventType = "idle"
)

// Event represents a pool lifecycle event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Pool      string    `json:"pool"`
	WorkerID  int       `json:"worker_id"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	Reason     string `json:"reason,omitempty"`
	Elapsed    string `json:"elapsed,omitempty"`
	PrevTarget int    `json:"prev_target,omitempty"`
	NextTarget int    `json:"next_target,omitempty"`
}

func newEvent(t EventType, pool string, workerID int) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now(),
		Pool:      pool,
		WorkerID:  workerID,
	}
}

// NewWorkerStartedEvent creates a worker start event
func NewWorkerStartedEvent(pool string, workerID int) Event {
	return newEvent(EventWorkerStarted, pool, workerID)
}

// NewWorkerExitedEvent creates a worker exit event
func NewWorkerExitedEvent(pool string, workerID int, reason worker.ExitReason) Event {
	e := newEvent(EventWorkerExited, pool, workerID)
	e.Data.Reason = reason.String()
	return e
}

// NewJobStartedEvent creates a job start event
func NewJobStartedEvent(pool string, workerID int) Event {
	return newEvent(EventJobStarted, pool, workerID)
}

// NewJobFinishedEvent creates a job completion event
func NewJobFinishedEvent(pool string, workerID int, elapsed time.Duration) Event {
	e := newEvent(EventJobFinished, pool, workerID)
	e.Data.Elapsed = elapsed.String()
	return e
}

// NewResizedEvent creates a target change event. WorkerID is -1.
func NewResizedEvent(pool string, prev, next int) Event {
	e := newEvent(EventResized, pool, -1)
	e.Data.PrevTarget = prev
	e.Data.NextTarget = next
	return e
}

// NewIdleEvent creates an idle event. WorkerID is -1.
func NewIdleEvent(pool string) Event {
	return newEvent(EventIdle, pool, -1)
}
