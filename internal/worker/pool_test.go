package worker

import (
	"context"
	"errors"
	"io"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"respool/internal/logger"

	"golang.org/x/sync/errgroup"
)

func newTestPool(t *testing.T, n int, obs Observer) *Pool {
	t.Helper()
	p, err := NewPoolWithConfig(PoolConfig{
		NumWorkers: n,
		Name:       "test",
		Observer:   obs,
		Logger:     logger.New(io.Discard, logger.LevelError),
	})
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	t.Cleanup(p.Stop)
	return p
}

// waitFor は条件が満たされるまでポーリングする
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// waitReturns は Wait が制限時間内に戻ることを確認する
func waitReturns(t *testing.T, p *Pool, timeout time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.WaitContext(ctx); err != nil {
		t.Fatalf("Wait did not return: %v", err)
	}
}

func TestNewWorkerPool(t *testing.T) {
	pool := NewPool(4)
	defer pool.Stop()

	if pool.LiveWorkers() != 4 {
		t.Errorf("expected 4 workers, got %d", pool.LiveWorkers())
	}
	if pool.Target() != 4 {
		t.Errorf("expected target 4, got %d", pool.Target())
	}
	if pool.ID() == "" {
		t.Error("expected non-empty pool id")
	}

	// Negative should default to CPU count
	pool2 := NewPool(-1)
	defer pool2.Stop()
	if pool2.LiveWorkers() != runtime.NumCPU() {
		t.Errorf("expected %d workers, got %d", runtime.NumCPU(), pool2.LiveWorkers())
	}

	// Zero is a valid, idle pool
	pool3 := NewPool(0)
	defer pool3.Stop()
	if pool3.LiveWorkers() != 0 || pool3.Target() != 0 {
		t.Errorf("expected empty pool, got live=%d target=%d", pool3.LiveWorkers(), pool3.Target())
	}
}

func TestNewPoolWithConfigInvalid(t *testing.T) {
	_, err := NewPoolWithConfig(PoolConfig{NumWorkers: -3})
	if !errors.Is(err, ErrInvalidSize) {
		t.Errorf("expected ErrInvalidSize, got %v", err)
	}
}

func TestWorkerPoolExactlyOnce(t *testing.T) {
	pool := newTestPool(t, 8, nil)

	const n = 1000
	counts := make([]atomic.Int32, n)
	for i := range n {
		if err := pool.Submit(func() { counts[i].Add(1) }); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}

	waitReturns(t, pool, 5*time.Second)

	for i := range counts {
		if c := counts[i].Load(); c != 1 {
			t.Fatalf("job %d executed %d times", i, c)
		}
	}

	stats := pool.Stats()
	if stats.Queued != 0 || stats.Running != 0 {
		t.Errorf("expected idle pool, got queued=%d running=%d", stats.Queued, stats.Running)
	}
	if stats.Submitted != n || stats.Completed != n {
		t.Errorf("expected %d submitted/completed, got %d/%d", n, stats.Submitted, stats.Completed)
	}
}

func TestWorkerPoolFourWorkersTenJobs(t *testing.T) {
	pool := newTestPool(t, 4, nil)

	gate := make(chan struct{})
	var started atomic.Int32
	var mu sync.Mutex
	var recorded []int

	for i := range 10 {
		_ = pool.Submit(func() {
			started.Add(1)
			<-gate
			mu.Lock()
			recorded = append(recorded, i)
			mu.Unlock()
		})
	}

	waitFor(t, "4 jobs to start", func() bool { return started.Load() == 4 })

	if pool.Running() != 4 {
		t.Errorf("expected running 4, got %d", pool.Running())
	}
	if pool.QueueSize() != 6 {
		t.Errorf("expected queued 6, got %d", pool.QueueSize())
	}

	close(gate)
	waitReturns(t, pool, 2*time.Second)

	slices.Sort(recorded)
	if len(recorded) != 10 {
		t.Fatalf("expected 10 recorded indices, got %v", recorded)
	}
	for i, v := range recorded {
		if v != i {
			t.Fatalf("expected each index once, got %v", recorded)
		}
	}
	if pool.Running() != 0 || pool.QueueSize() != 0 {
		t.Errorf("expected 0/0, got running=%d queued=%d", pool.Running(), pool.QueueSize())
	}
}

func TestWorkerPoolWaitWithoutJobs(t *testing.T) {
	pool := newTestPool(t, 4, nil)

	done := make(chan struct{})
	go func() {
		pool.Wait()
		pool.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked with no outstanding work")
	}
}

func TestWorkerPoolWaitTwice(t *testing.T) {
	pool := newTestPool(t, 2, nil)

	var counter atomic.Int32
	for range 20 {
		_ = pool.Submit(func() {
			time.Sleep(time.Millisecond)
			counter.Add(1)
		})
	}

	waitReturns(t, pool, 2*time.Second)
	// 2 回目はブロックしない
	waitReturns(t, pool, 50*time.Millisecond)

	if counter.Load() != 20 {
		t.Errorf("expected 20 jobs completed, got %d", counter.Load())
	}
}

func TestWorkerPoolWaitNewEpoch(t *testing.T) {
	pool := newTestPool(t, 2, nil)

	_ = pool.Submit(func() {})
	waitReturns(t, pool, time.Second)

	gate := make(chan struct{})
	_ = pool.Submit(func() { <-gate })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := pool.WaitContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected Wait to block for the new batch, got %v", err)
	}

	close(gate)
	waitReturns(t, pool, time.Second)
}

func TestWorkerPoolGrow(t *testing.T) {
	pool := newTestPool(t, 2, nil)

	gate := make(chan struct{})
	var started atomic.Int32
	for range 6 {
		_ = pool.Submit(func() {
			started.Add(1)
			<-gate
		})
	}

	waitFor(t, "initial workers to start", func() bool { return started.Load() == 2 })

	if err := pool.Resize(6); err != nil {
		t.Fatalf("resize failed: %v", err)
	}
	if pool.LiveWorkers() != 6 {
		t.Errorf("expected 6 live workers right after resize, got %d", pool.LiveWorkers())
	}

	// 追加の 4 ジョブが同時に動き出す
	waitFor(t, "grown workers to pick up jobs", func() bool { return started.Load() == 6 })
	if pool.Running() != 6 {
		t.Errorf("expected 6 running, got %d", pool.Running())
	}

	close(gate)
	waitReturns(t, pool, time.Second)
}

func TestWorkerPoolGrowFourToTen(t *testing.T) {
	pool := newTestPool(t, 4, nil)

	const n = 40
	counts := make([]atomic.Int32, n)
	var inflight, peak atomic.Int32

	for i := range n {
		_ = pool.Submit(func() {
			cur := inflight.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			counts[i].Add(1)
			inflight.Add(-1)
		})
	}

	time.Sleep(20 * time.Millisecond)
	if err := pool.Resize(10); err != nil {
		t.Fatalf("resize failed: %v", err)
	}
	if pool.LiveWorkers() != 10 {
		t.Errorf("expected 10 live workers, got %d", pool.LiveWorkers())
	}

	waitReturns(t, pool, 5*time.Second)

	for i := range counts {
		if c := counts[i].Load(); c != 1 {
			t.Fatalf("job %d executed %d times", i, c)
		}
	}
	if peak.Load() <= 4 {
		t.Errorf("expected concurrency above 4 after growth, peak=%d", peak.Load())
	}
	if peak.Load() > 10 {
		t.Errorf("concurrency exceeded target: peak=%d", peak.Load())
	}
}

func TestWorkerPoolShrinkRetiresFinishingWorker(t *testing.T) {
	obs := newRecordingObserver()
	pool := newTestPool(t, 2, obs)

	gate1 := make(chan struct{})
	gate2 := make(chan struct{})
	var started atomic.Int32
	var thirdDone atomic.Bool

	_ = pool.Submit(func() { started.Add(1); <-gate1 })
	_ = pool.Submit(func() { started.Add(1); <-gate2 })
	waitFor(t, "both jobs to start", func() bool { return started.Load() == 2 })
	_ = pool.Submit(func() { thirdDone.Store(true) })

	if err := pool.Resize(1); err != nil {
		t.Fatalf("resize failed: %v", err)
	}
	// 縮小しても実行中のジョブは止めない
	if pool.Running() != 2 || pool.LiveWorkers() != 2 {
		t.Fatalf("shrink must not preempt: running=%d live=%d", pool.Running(), pool.LiveWorkers())
	}

	// 1 つ目が終わったワーカーは running(1) >= target(1) を見て退役する
	close(gate1)
	waitFor(t, "a worker to retire", func() bool { return pool.Stats().Retired == 1 })

	if pool.LiveWorkers() != 1 {
		t.Errorf("expected 1 live worker, got %d", pool.LiveWorkers())
	}
	if pool.QueueSize() != 1 {
		t.Errorf("expected the third job to stay queued, got %d", pool.QueueSize())
	}
	if thirdDone.Load() {
		t.Error("third job must not run while target is saturated")
	}
	waitFor(t, "retired notification", func() bool { return obs.exits(ExitRetired) == 1 })

	close(gate2)
	waitReturns(t, pool, time.Second)
	if !thirdDone.Load() {
		t.Error("expected third job to run after the running job finished")
	}
}

func TestWorkerPoolShrinkWithEmptyQueue(t *testing.T) {
	obs := newRecordingObserver()
	pool := newTestPool(t, 4, obs)

	gates := make([]chan struct{}, 4)
	var started atomic.Int32
	for i := range gates {
		gates[i] = make(chan struct{})
		gate := gates[i]
		_ = pool.Submit(func() {
			started.Add(1)
			<-gate
		})
	}
	waitFor(t, "4 jobs to start", func() bool { return started.Load() == 4 })

	if err := pool.Resize(1); err != nil {
		t.Fatalf("resize failed: %v", err)
	}

	// キューが空でも、ジョブを終えた余剰ワーカーは待機に入らず退役する
	for i, gate := range gates[:3] {
		close(gate)
		want := uint64(i + 1)
		waitFor(t, "a finishing worker to retire", func() bool { return pool.Stats().Retired == want })
	}
	close(gates[3])

	waitReturns(t, pool, time.Second)
	waitFor(t, "one worker to remain", func() bool { return pool.LiveWorkers() == 1 })

	waitFor(t, "3 retired notifications", func() bool { return obs.exits(ExitRetired) == 3 })

	// 残った 1 台で処理は続く
	var ran atomic.Bool
	_ = pool.Submit(func() { ran.Store(true) })
	waitReturns(t, pool, time.Second)
	if !ran.Load() {
		t.Error("expected the surviving worker to keep running jobs")
	}
}

func TestWorkerPoolShrinkWakesIdleWorkers(t *testing.T) {
	pool := newTestPool(t, 4, nil)

	gate := make(chan struct{})
	started := make(chan struct{})
	_ = pool.Submit(func() {
		close(started)
		<-gate
	})
	<-started

	// 1 台が実行中、3 台が空のキューで待機している
	if err := pool.Resize(1); err != nil {
		t.Fatalf("resize failed: %v", err)
	}
	waitFor(t, "idle workers to retire", func() bool { return pool.LiveWorkers() == 1 })

	if pool.Running() != 1 {
		t.Errorf("expected the running job to continue, got running=%d", pool.Running())
	}

	close(gate)
	waitReturns(t, pool, time.Second)
	if pool.LiveWorkers() != 1 {
		t.Errorf("expected 1 live worker after the job, got %d", pool.LiveWorkers())
	}
}

func TestWorkerPoolShrinkNeverPreempts(t *testing.T) {
	pool := newTestPool(t, 4, nil)

	gate := make(chan struct{})
	var started, finished atomic.Int32
	var inflight, latePeak atomic.Int32

	for i := range 8 {
		_ = pool.Submit(func() {
			cur := inflight.Add(1)
			started.Add(1)
			if i < 4 {
				<-gate
			} else {
				for {
					old := latePeak.Load()
					if cur <= old || latePeak.CompareAndSwap(old, cur) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
			}
			inflight.Add(-1)
			finished.Add(1)
		})
	}

	waitFor(t, "4 jobs to start", func() bool { return started.Load() == 4 })
	_ = pool.Resize(1)
	close(gate)

	waitReturns(t, pool, 2*time.Second)

	if finished.Load() != 8 {
		t.Errorf("expected all 8 jobs to finish, got %d", finished.Load())
	}
	if latePeak.Load() > 1 {
		t.Errorf("jobs admitted after shrink ran concurrently: peak=%d", latePeak.Load())
	}
	if pool.LiveWorkers() < 1 {
		t.Error("expected at least one surviving worker")
	}
}

func TestWorkerPoolResizeToZero(t *testing.T) {
	pool := newTestPool(t, 2, nil)
	_ = pool.Resize(0)

	var counter atomic.Int32
	for range 3 {
		_ = pool.Submit(func() { counter.Add(1) })
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := pool.WaitContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected jobs to stay queued at target 0, got %v", err)
	}
	if counter.Load() != 0 {
		t.Errorf("expected no job to run at target 0, got %d", counter.Load())
	}

	_ = pool.Resize(2)
	waitReturns(t, pool, time.Second)
	if counter.Load() != 3 {
		t.Errorf("expected 3 jobs after growing again, got %d", counter.Load())
	}
}

func TestWorkerPoolWaitContextDoesNotLeak(t *testing.T) {
	pool := newTestPool(t, 1, nil)
	_ = pool.Resize(0)
	_ = pool.Submit(func() {})

	// ワーカーの退役を待ってから数える
	waitFor(t, "workers to retire", func() bool { return pool.LiveWorkers() == 0 })
	before := runtime.NumGoroutine()

	for range 20 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		err := pool.WaitContext(ctx)
		cancel()
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	}

	waitFor(t, "goroutines to settle", func() bool { return runtime.NumGoroutine() <= before })
}

func TestWorkerPoolOrdinalsStayUnique(t *testing.T) {
	pool := newTestPool(t, 4, nil)

	// アイドルのワーカーはまだ退役していない
	_ = pool.Resize(1)
	_ = pool.Resize(4)

	ids := pool.Workers()
	if len(ids) != 7 {
		t.Fatalf("expected 7 live workers, got %v", ids)
	}
	for i, id := range ids {
		if id != i {
			t.Fatalf("expected ordinals 0..6, got %v", ids)
		}
	}

	gate := make(chan struct{})
	var started atomic.Int32
	for range 10 {
		_ = pool.Submit(func() {
			started.Add(1)
			<-gate
		})
	}
	waitFor(t, "target jobs to start", func() bool { return started.Load() == 4 })
	time.Sleep(20 * time.Millisecond)

	if pool.Running() != 4 {
		t.Errorf("expected running bounded by target 4, got %d", pool.Running())
	}

	close(gate)
	waitReturns(t, pool, time.Second)
}

func TestWorkerPoolReusesFreedOrdinal(t *testing.T) {
	pool := newTestPool(t, 2, nil)

	gate := make(chan struct{})
	var started atomic.Int32
	_ = pool.Submit(func() { started.Add(1); <-gate })
	_ = pool.Submit(func() { started.Add(1); time.Sleep(10 * time.Millisecond) })
	waitFor(t, "jobs to start", func() bool { return started.Load() == 2 })

	_ = pool.Resize(1)
	_ = pool.Submit(func() {})
	waitFor(t, "a worker to retire", func() bool { return pool.LiveWorkers() == 1 })

	_ = pool.Resize(3)
	ids := pool.Workers()
	if len(ids) != 3 {
		t.Fatalf("expected 3 workers, got %v", ids)
	}
	seen := map[int]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate ordinal in %v", ids)
		}
		seen[id] = true
	}

	close(gate)
	waitReturns(t, pool, time.Second)
}

func TestWorkerPoolErrors(t *testing.T) {
	pool := newTestPool(t, 1, nil)

	if err := pool.Submit(nil); !errors.Is(err, ErrNilJob) {
		t.Errorf("expected ErrNilJob, got %v", err)
	}
	if err := pool.Resize(-1); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("expected ErrInvalidSize, got %v", err)
	}

	pool.Stop()
	// Double stop should be no-op
	pool.Stop()

	if err := pool.Submit(func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed after stop, got %v", err)
	}
	if err := pool.Resize(3); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed on resize after stop, got %v", err)
	}
	if !pool.Stats().Stopped {
		t.Error("expected stats to report stopped")
	}
}

func TestWorkerPoolStopDrainsQueue(t *testing.T) {
	pool := newTestPool(t, 2, nil)

	var counter atomic.Int32
	for range 20 {
		_ = pool.Submit(func() {
			time.Sleep(time.Millisecond)
			counter.Add(1)
		})
	}

	pool.Stop()

	if counter.Load() != 20 {
		t.Errorf("expected stop to drain 20 jobs, got %d", counter.Load())
	}
	if pool.LiveWorkers() != 0 {
		t.Errorf("expected all workers joined, got %d", pool.LiveWorkers())
	}
}

func TestWorkerPoolStopDropsStrandedJobs(t *testing.T) {
	pool := newTestPool(t, 0, nil)

	for range 3 {
		_ = pool.Submit(func() { t.Error("stranded job must not run") })
	}

	waiting := make(chan struct{})
	go func() {
		pool.Wait()
		close(waiting)
	}()

	pool.Stop()

	select {
	case <-waiting:
	case <-time.After(time.Second):
		t.Fatal("Wait should return once stranded jobs are dropped")
	}

	stats := pool.Stats()
	if stats.Dropped != 3 {
		t.Errorf("expected 3 dropped jobs, got %d", stats.Dropped)
	}
	if stats.Queued != 0 {
		t.Errorf("expected queued reset to 0, got %d", stats.Queued)
	}
}

func TestWorkerPoolConcurrentSubmitAndResize(t *testing.T) {
	pool := newTestPool(t, 4, nil)

	var counter atomic.Int32
	const numGoroutines = 10
	const jobsPerGoroutine = 100

	var g errgroup.Group
	for range numGoroutines {
		g.Go(func() error {
			for range jobsPerGoroutine {
				if err := pool.Submit(func() { counter.Add(1) }); err != nil {
					return err
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		for i := range 20 {
			if err := pool.Resize(1 + i%6); err != nil {
				return err
			}
			time.Sleep(time.Millisecond)
		}
		return pool.Resize(4)
	})

	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitReturns(t, pool, 5*time.Second)

	expected := int32(numGoroutines * jobsPerGoroutine)
	if counter.Load() != expected {
		t.Errorf("expected %d jobs completed, got %d", expected, counter.Load())
	}
}

func TestWorkerPoolConcurrentWaiters(t *testing.T) {
	pool := newTestPool(t, 3, nil)

	gate := make(chan struct{})
	for range 6 {
		_ = pool.Submit(func() { <-gate })
	}

	var released atomic.Int32
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Wait()
			released.Add(1)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	if released.Load() != 0 {
		t.Fatal("waiters returned while work was outstanding")
	}

	close(gate)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("only %d of 5 waiters woke up", released.Load())
	}
}

func TestWorkerPoolObserver(t *testing.T) {
	obs := newRecordingObserver()
	pool := newTestPool(t, 3, obs)

	for range 12 {
		_ = pool.Submit(func() {})
	}
	waitReturns(t, pool, time.Second)
	_ = pool.Resize(5)
	pool.Stop()

	obs.mu.Lock()
	defer obs.mu.Unlock()

	if obs.jobsStarted != 12 || obs.jobsFinished != 12 {
		t.Errorf("expected 12 started/finished, got %d/%d", obs.jobsStarted, obs.jobsFinished)
	}
	if obs.workersStarted != 5 {
		t.Errorf("expected 5 worker starts, got %d", obs.workersStarted)
	}
	if obs.exitReasons[ExitClosed] != 5 {
		t.Errorf("expected 5 closed exits, got %d", obs.exitReasons[ExitClosed])
	}
	if obs.idle == 0 {
		t.Error("expected at least one idle notification")
	}
	if len(obs.resizes) != 1 || obs.resizes[0] != [2]int{3, 5} {
		t.Errorf("expected resize 3->5, got %v", obs.resizes)
	}
}

func TestExitReasonString(t *testing.T) {
	tests := []struct {
		reason   ExitReason
		expected string
	}{
		{ExitRetired, "retired"},
		{ExitClosed, "closed"},
		{ExitReason(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.reason.String(); got != tt.expected {
			t.Errorf("ExitReason(%d).String() = %s, want %s", tt.reason, got, tt.expected)
		}
	}
}

type recordingObserver struct {
	mu             sync.Mutex
	workersStarted int
	exitReasons    map[ExitReason]int
	jobsStarted    int
	jobsFinished   int
	resizes        [][2]int
	idle           int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{exitReasons: make(map[ExitReason]int)}
}

func (o *recordingObserver) exits(reason ExitReason) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.exitReasons[reason]
}

func (o *recordingObserver) WorkerStarted(int) {
	o.mu.Lock()
	o.workersStarted++
	o.mu.Unlock()
}

func (o *recordingObserver) WorkerExited(_ int, reason ExitReason) {
	o.mu.Lock()
	o.exitReasons[reason]++
	o.mu.Unlock()
}

func (o *recordingObserver) JobStarted(int) {
	o.mu.Lock()
	o.jobsStarted++
	o.mu.Unlock()
}

func (o *recordingObserver) JobFinished(int, time.Duration) {
	o.mu.Lock()
	o.jobsFinished++
	o.mu.Unlock()
}

func (o *recordingObserver) Resized(prev, next int) {
	o.mu.Lock()
	o.resizes = append(o.resizes, [2]int{prev, next})
	o.mu.Unlock()
}

func (o *recordingObserver) Idle() {
	o.mu.Lock()
	o.idle++
	o.mu.Unlock()
}
