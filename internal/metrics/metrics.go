package metrics

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"respool/internal/worker"
)

// Config はメトリクスの設定
type Config struct {
	MaxRunTimeSamples int // P99 計算に使う直近ジョブのサンプル数
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{MaxRunTimeSamples: 1000}
}

// Metrics はジョブ実行のメトリクスを収集する
type Metrics struct {
	startedJobs    atomic.Uint64
	completedJobs  atomic.Uint64
	totalRunNs     atomic.Uint64
	workersStarted atomic.Uint64
	workersRetired atomic.Uint64
	workersClosed  atomic.Uint64
	resizes        atomic.Uint64
	idleEpochs     atomic.Uint64

	mu            sync.RWMutex
	startTime     time.Time
	lastResetTime time.Time
	windowJobs    uint64
	runTimes      []time.Duration // 直近 maxSamples 件のリングバッファ
	next          int             // 満杯時に次に上書きする位置
	maxSamples    int
}

var _ worker.Observer = (*Metrics)(nil)

// New は新しいメトリクスを作成する
func New() *Metrics {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig は設定を指定してメトリクスを作成する
func NewWithConfig(config Config) *Metrics {
	if config.MaxRunTimeSamples <= 0 {
		config.MaxRunTimeSamples = DefaultConfig().MaxRunTimeSamples
	}
	now := time.Now()
	return &Metrics{
		startTime:     now,
		lastResetTime: now,
		runTimes:      make([]time.Duration, 0, config.MaxRunTimeSamples),
		maxSamples:    config.MaxRunTimeSamples,
	}
}

// WorkerStarted はワーカーの起動を記録する
func (m *Metrics) WorkerStarted(int) {
	m.workersStarted.Add(1)
}

// WorkerExited はワーカーの終了を理由別に記録する
func (m *Metrics) WorkerExited(_ int, reason worker.ExitReason) {
	if reason == worker.ExitRetired {
		m.workersRetired.Add(1)
		return
	}
	m.workersClosed.Add(1)
}

// JobStarted はジョブの開始を記録する
func (m *Metrics) JobStarted(int) {
	m.startedJobs.Add(1)
}

// JobFinished はジョブの完了と実行時間を記録する
func (m *Metrics) JobFinished(_ int, elapsed time.Duration) {
	m.completedJobs.Add(1)
	m.totalRunNs.Add(uint64(elapsed.Nanoseconds()))

	m.mu.Lock()
	m.windowJobs++
	if len(m.runTimes) < m.maxSamples {
		m.runTimes = append(m.runTimes, elapsed)
	} else {
		m.runTimes[m.next] = elapsed
		m.next = (m.next + 1) % m.maxSamples
	}
	m.mu.Unlock()
}

// Resized はターゲット変更を記録する
func (m *Metrics) Resized(int, int) {
	m.resizes.Add(1)
}

// Idle は完了エポックの終了を記録する
func (m *Metrics) Idle() {
	m.idleEpochs.Add(1)
}

// StartedJobs は開始したジョブ数を返す
func (m *Metrics) StartedJobs() uint64 {
	return m.startedJobs.Load()
}

// CompletedJobs は完了したジョブ数を返す
func (m *Metrics) CompletedJobs() uint64 {
	return m.completedJobs.Load()
}

// Throughput は現在ウィンドウの Jobs Per Second を返す
func (m *Metrics) Throughput() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	elapsed := time.Since(m.lastResetTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.windowJobs) / elapsed
}

// OverallThroughput は開始からの平均 Jobs Per Second を返す
func (m *Metrics) OverallThroughput() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.completedJobs.Load()) / elapsed
}

// AverageRunTime は平均実行時間を返す
func (m *Metrics) AverageRunTime() time.Duration {
	total := m.completedJobs.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.totalRunNs.Load() / total)
}

// P99RunTime は直近のサンプルから P99 実行時間を返す
func (m *Metrics) P99RunTime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.runTimes) == 0 {
		return 0
	}

	sorted := slices.Clone(m.runTimes)
	slices.Sort(sorted)

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Reset はウィンドウメトリクスをリセットする
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.windowJobs = 0
	m.lastResetTime = time.Now()
	m.runTimes = m.runTimes[:0]
	m.next = 0
}

// Snapshot はメトリクスのスナップショット
type Snapshot struct {
	StartedJobs       uint64        `json:"started_jobs"`
	CompletedJobs     uint64        `json:"completed_jobs"`
	Throughput        float64       `json:"throughput"`
	OverallThroughput float64       `json:"overall_throughput"`
	AverageRunTime    time.Duration `json:"average_run_time"`
	P99RunTime        time.Duration `json:"p99_run_time"`
	WorkersStarted    uint64        `json:"workers_started"`
	WorkersRetired    uint64        `json:"workers_retired"`
	WorkersClosed     uint64        `json:"workers_closed"`
	Resizes           uint64        `json:"resizes"`
	IdleEpochs        uint64        `json:"idle_epochs"`
	Elapsed           time.Duration `json:"elapsed"`
}

// Snapshot は現在のメトリクスのスナップショットを返す
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		StartedJobs:       m.StartedJobs(),
		CompletedJobs:     m.CompletedJobs(),
		Throughput:        m.Throughput(),
		OverallThroughput: m.OverallThroughput(),
		AverageRunTime:    m.AverageRunTime(),
		P99RunTime:        m.P99RunTime(),
		WorkersStarted:    m.workersStarted.Load(),
		WorkersRetired:    m.workersRetired.Load(),
		WorkersClosed:     m.workersClosed.Load(),
		Resizes:           m.resizes.Load(),
		IdleEpochs:        m.idleEpochs.Load(),
		Elapsed:           time.Since(m.startTime),
	}
}
