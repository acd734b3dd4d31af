// Package dispatch provides the unbounded FIFO hand-off between job
// submitters and pool workers.
//
// Any number of goroutines may Send; any number of goroutines may Receive.
// Receivers share a single consuming end under one mutex, so every item is
// delivered to exactly one receiver, in the order it was sent.
//
// # Admission
//
// Receive takes an admission callback that runs under the queue lock once
// an item is available. If it returns false the item stays at the head of
// the queue and Receive returns ErrRejected. The worker pool uses this to
// decide, atomically with the dequeue, whether a worker may start another
// job.
//
// # Closing
//
// After Close, Send fails with ErrClosed. Receivers keep draining pending
// items and get ErrClosed once the queue is empty.
package dispatch
