package workload

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"respool/internal/events"
	"respool/internal/logger"
	"respool/internal/metrics"
	"respool/internal/worker"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAlreadyRunning は実行中のエンジンを再実行しようとした場合に返される
	ErrAlreadyRunning = errors.New("workload is already running")
	// ErrNeverFinishes は最終ターゲットが 0 でジョブが残る設定の場合に返される
	ErrNeverFinishes = errors.New("workload ends with a worker target of 0")
)

// ResizeStep は開始からの経過時間で行うリサイズ
type ResizeStep struct {
	After   time.Duration // 開始からの経過時間
	Workers int           // 新しいターゲット
}

// Config はワークロードの設定
type Config struct {
	Name        string        // ワークロード名
	Description string        // 説明
	Workers     int           // 初期ワーカー数
	Jobs        int           // 投入するジョブ数
	JobDuration time.Duration // 各ジョブのスリープ時間
	Submitters  int           // 並行して投入するゴルーチン数
	Resizes     []ResizeStep  // リサイズ予定
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Name:        "default",
		Description: "Default workload",
		Workers:     4,
		Jobs:        10,
		JobDuration: 100 * time.Millisecond,
		Submitters:  1,
	}
}

// FinalTarget はリサイズ予定を適用した後のターゲットを返す
func (c Config) FinalTarget() int {
	target := c.Workers
	for _, step := range c.sortedResizes() {
		target = step.Workers
	}
	return target
}

// Validate は設定を検証する
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative")
	}
	if c.Jobs < 0 {
		return fmt.Errorf("jobs must be non-negative")
	}
	if c.JobDuration < 0 {
		return fmt.Errorf("job duration must be non-negative")
	}
	if c.Submitters < 1 {
		return fmt.Errorf("submitters must be at least 1")
	}
	for i, step := range c.Resizes {
		if step.After < 0 {
			return fmt.Errorf("resize %d: after must be non-negative", i)
		}
		if step.Workers < 0 {
			return fmt.Errorf("resize %d: workers must be non-negative", i)
		}
	}
	if c.Jobs > 0 && c.FinalTarget() == 0 {
		return ErrNeverFinishes
	}
	return nil
}

func (c Config) sortedResizes() []ResizeStep {
	steps := append([]ResizeStep(nil), c.Resizes...)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].After < steps[j].After
	})
	return steps
}

// ResizeRecord は実際に行ったリサイズ
type ResizeRecord struct {
	At   time.Duration
	From int
	To   int
}

// Result はワークロード実行結果
type Result struct {
	RunID        string
	WorkloadName string
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration

	// 実行検証
	Jobs            int
	Executed        int
	Missing         []int
	Duplicates      []int
	PeakConcurrency int

	// リサイズ履歴
	Resizes []ResizeRecord

	// メトリクス
	Metrics metrics.Snapshot

	// 完了直後のプール状態
	FinalStats worker.Stats
}

// OK は全ジョブがちょうど 1 回ずつ実行されたかを返す
func (r *Result) OK() bool {
	return len(r.Missing) == 0 && len(r.Duplicates) == 0
}

// tracker はジョブの実行回数と同時実行数を記録する
type tracker struct {
	counts   []atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
}

func newTracker(n int) *tracker {
	return &tracker{counts: make([]atomic.Int32, n)}
}

func (t *tracker) job(i int, d time.Duration) worker.Job {
	return func() {
		cur := t.inflight.Add(1)
		for {
			old := t.peak.Load()
			if cur <= old || t.peak.CompareAndSwap(old, cur) {
				break
			}
		}
		if d > 0 {
			time.Sleep(d)
		}
		t.counts[i].Add(1)
		t.inflight.Add(-1)
	}
}

// Engine はワークロード実行エンジン
type Engine struct {
	config   Config
	eventBus *events.Bus
	log      *logger.Logger

	mu      sync.RWMutex
	running bool
	pool    *worker.Pool
	metrics *metrics.Metrics
}

// New は新しいEngineを作成する
func New(config Config) *Engine {
	return &Engine{
		config: config,
		log:    logger.Default,
	}
}

// SetEventBus はイベントバスを設定する
func (e *Engine) SetEventBus(bus *events.Bus) {
	e.eventBus = bus
}

// SetLogger はロガーを設定する
func (e *Engine) SetLogger(l *logger.Logger) {
	e.log = l
}

// Config は設定を返す
func (e *Engine) Config() Config {
	return e.config
}

// Run はワークロードを実行する
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if err := e.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workload: %w", err)
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	result := &Result{
		RunID:        uuid.NewString(),
		WorkloadName: e.config.Name,
		Jobs:         e.config.Jobs,
	}

	e.log.Info("", "=== Workload '%s' started (run %s) ===", e.config.Name, result.RunID)
	e.log.Info("", "Description: %s", e.config.Description)

	// セットアップ
	pool, err := e.setup()
	if err != nil {
		return nil, fmt.Errorf("setup failed: %w", err)
	}
	defer pool.Stop()

	tr := newTracker(e.config.Jobs)
	result.StartTime = time.Now()

	// リサイズ予定
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	resizeCh := make(chan []ResizeRecord, 1)
	go func() {
		resizeCh <- e.runResizes(rctx, pool, result.StartTime)
	}()

	// ジョブ投入
	if err := e.submit(ctx, pool, tr); err != nil {
		_ = pool.Resize(0)
		return nil, err
	}

	result.Resizes = <-resizeCh
	if err := pool.WaitContext(ctx); err != nil {
		// 実行中のジョブだけ終わらせ、残りは Stop で破棄する
		_ = pool.Resize(0)
		return nil, fmt.Errorf("waiting for jobs: %w", err)
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.FinalStats = pool.Stats()
	e.collectResults(result, tr)

	e.log.Info("", "=== Workload '%s' completed: %d/%d jobs ===", e.config.Name, result.Executed, result.Jobs)

	return result, nil
}

// setup はプールとメトリクスを用意する
func (e *Engine) setup() (*worker.Pool, error) {
	m := metrics.New()
	observers := worker.MultiObserver{m}
	if e.eventBus != nil {
		observers = append(observers, events.NewPoolObserver(e.eventBus, e.config.Name))
	}

	pool, err := worker.NewPoolWithConfig(worker.PoolConfig{
		NumWorkers: e.config.Workers,
		Name:       e.config.Name,
		Observer:   observers,
		Logger:     e.log,
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.pool = pool
	e.metrics = m
	e.mu.Unlock()

	return pool, nil
}

// submit は投入者ごとにジョブを割り振って並行に投入する
func (e *Engine) submit(ctx context.Context, pool *worker.Pool, tr *tracker) error {
	g, gctx := errgroup.WithContext(ctx)
	submitters := e.config.Submitters

	for s := range submitters {
		g.Go(func() error {
			for i := s; i < e.config.Jobs; i += submitters {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := pool.Submit(tr.job(i, e.config.JobDuration)); err != nil {
					return fmt.Errorf("submit job %d: %w", i, err)
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// runResizes は予定時刻にリサイズを行い、実施した記録を返す
func (e *Engine) runResizes(ctx context.Context, pool *worker.Pool, start time.Time) []ResizeRecord {
	var records []ResizeRecord

	for _, step := range e.config.sortedResizes() {
		wait := time.Until(start.Add(step.After))
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return records
			case <-timer.C:
			}
		}

		from := pool.Target()
		if err := pool.Resize(step.Workers); err != nil {
			e.log.Warn("", "Resize to %d failed: %v", step.Workers, err)
			continue
		}
		records = append(records, ResizeRecord{
			At:   time.Since(start),
			From: from,
			To:   step.Workers,
		})
	}

	return records
}

// collectResults は結果を収集する
func (e *Engine) collectResults(result *Result, tr *tracker) {
	for i := range tr.counts {
		switch n := tr.counts[i].Load(); {
		case n == 0:
			result.Missing = append(result.Missing, i)
		case n > 1:
			result.Duplicates = append(result.Duplicates, i)
			result.Executed++
		default:
			result.Executed++
		}
	}
	result.PeakConcurrency = int(tr.peak.Load())

	e.mu.RLock()
	result.Metrics = e.metrics.Snapshot()
	e.mu.RUnlock()
}

// Report は結果をフォーマットして返す
func (r *Result) Report() string {
	status := "OK"
	if !r.OK() {
		status = "FAILED"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `
================================================================================
                         WORKLOAD REPORT: %s
================================================================================

EXECUTION SUMMARY
-----------------
  Run ID:         %s
  Start Time:     %s
  End Time:       %s
  Duration:       %v

JOB VERIFICATION
----------------
  Submitted:        %d
  Executed:         %d
  Missing:          %d
  Duplicated:       %d
  Peak Concurrency: %d
  Status:           %s

JOB METRICS
-----------
  Completed:        %d
  Throughput:       %.2f jobs/s
  Avg Run Time:     %v
  P99 Run Time:     %v

WORKERS
-------
  Started:          %d
  Retired:          %d
  Final Target:     %d
  Live At Finish:   %d

RESIZES
-------
`,
		r.WorkloadName,
		r.RunID,
		r.StartTime.Format("2006-01-02 15:04:05"),
		r.EndTime.Format("2006-01-02 15:04:05"),
		r.Duration.Round(time.Millisecond),
		r.Jobs,
		r.Executed,
		len(r.Missing),
		len(r.Duplicates),
		r.PeakConcurrency,
		status,
		r.Metrics.CompletedJobs,
		r.Metrics.OverallThroughput,
		r.Metrics.AverageRunTime.Round(time.Microsecond),
		r.Metrics.P99RunTime.Round(time.Microsecond),
		r.Metrics.WorkersStarted,
		r.Metrics.WorkersRetired,
		r.FinalStats.Target,
		r.FinalStats.LiveWorkers,
	)

	if len(r.Resizes) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, rec := range r.Resizes {
		fmt.Fprintf(&b, "  +%-10v %d -> %d\n", rec.At.Round(time.Millisecond), rec.From, rec.To)
	}

	b.WriteString("\n================================================================================")

	return b.String()
}

// IsRunning は実行中かどうかを返す
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stats は実行中（または直近）のプール状態を返す
func (e *Engine) Stats() *worker.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pool == nil {
		return nil
	}
	stats := e.pool.Stats()
	return &stats
}

// Metrics はジョブメトリクスを返す
func (e *Engine) Metrics() *metrics.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.metrics == nil {
		return nil
	}
	snapshot := e.metrics.Snapshot()
	return &snapshot
}
