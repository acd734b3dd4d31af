package events

import (
	"time"

	"respool/internal/worker"
)

// PoolObserver publishes pool lifecycle callbacks to a Bus.
// Job events are only published when Jobs is true.
type PoolObserver struct {
	Bus  *Bus
	Pool string
	Jobs bool
}

var _ worker.Observer = (*PoolObserver)(nil)

// NewPoolObserver creates an observer tagging events with the pool name
func NewPoolObserver(bus *Bus, pool string) *PoolObserver {
	return &PoolObserver{Bus: bus, Pool: pool, Jobs: true}
}

func (o *PoolObserver) WorkerStarted(id int) {
	o.Bus.Publish(NewWorkerStartedEvent(o.Pool, id))
}

func (o *PoolObserver) WorkerExited(id int, reason worker.ExitReason) {
	o.Bus.Publish(NewWorkerExitedEvent(o.Pool, id, reason))
}

func (o *PoolObserver) JobStarted(id int) {
	if o.Jobs {
		o.Bus.Publish(NewJobStartedEvent(o.Pool, id))
	}
}

func (o *PoolObserver) JobFinished(id int, elapsed time.Duration) {
	if o.Jobs {
		o.Bus.Publish(NewJobFinishedEvent(o.Pool, id, elapsed))
	}
}

func (o *PoolObserver) Resized(prev, next int) {
	o.Bus.Publish(NewResizedEvent(o.Pool, prev, next))
}

func (o *PoolObserver) Idle() {
	o.Bus.Publish(NewIdleEvent(o.Pool))
}
