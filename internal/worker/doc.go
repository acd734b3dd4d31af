// Package worker provides a resizable goroutine pool for concurrent job
// execution.
//
// A Pool runs jobs on a set of worker goroutines fed by one unbounded FIFO
// queue. The number of workers can be changed while the pool is running,
// and callers can block until every submitted job, queued or running, has
// finished.
//
// # Basic Usage
//
//	pool := worker.NewPool(4) // 4 workers
//	defer pool.Stop()
//
//	for i := 0; i < 100; i++ {
//	    pool.Submit(func() {
//	        // do work
//	    })
//	}
//
//	pool.Resize(10) // grow now
//	pool.Wait()     // block until nothing is queued or running
//
// # Resizing
//
// Growing starts the missing workers immediately. Shrinking is lazy: a
// worker only retires when it is about to take its next job and sees that
// the number of running jobs already meets the target. A running job is
// never interrupted. With a target of zero, queued jobs stay queued until
// the pool is grown again.
//
// # Waiting
//
// Wait returns once no job is queued or running. It may be called any
// number of times; each call waits for the current batch of work.
// WaitContext bounds the wait with a context without affecting the jobs.
//
// # Failures
//
// Jobs are not isolated: a panicking job crashes the process like any
// goroutine panic. A counter going negative means the bookkeeping is
// corrupt and panics with ErrCorruptState.
package worker
