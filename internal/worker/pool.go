package worker

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"respool/internal/dispatch"
	"respool/internal/logger"

	"github.com/google/uuid"
)

// Job はワーカーが実行するジョブを表す
type Job func()

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	NumWorkers int            // 初期ワーカー数（0 可）
	Name       string         // ログに使うプール名
	Observer   Observer       // nil なら通知しない
	Logger     *logger.Logger // nil なら logger.Default
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumWorkers: runtime.NumCPU(),
		Name:       "pool",
	}
}

// Pool はサイズ変更可能なゴルーチンのプール
type Pool struct {
	id       string
	name     string
	queue    *dispatch.Queue[Job]
	state    *state
	observer Observer
	log      *logger.Logger

	mu       sync.Mutex
	live     map[int]struct{}
	wg       sync.WaitGroup
	stopped  bool
	stopping atomic.Bool

	submitted atomic.Uint64
	completed atomic.Uint64
	retired   atomic.Uint64
	dropped   atomic.Uint64
}

// NewPool は numWorkers 個のワーカーで起動したプールを返す。
// numWorkers が負の場合は CPU 数を使用
func NewPool(numWorkers int) *Pool {
	config := DefaultPoolConfig()
	if numWorkers >= 0 {
		config.NumWorkers = numWorkers
	}
	p, _ := NewPoolWithConfig(config)
	return p
}

// NewPoolWithConfig は設定を指定してプールを作成し、ワーカーを起動する
func NewPoolWithConfig(config PoolConfig) (*Pool, error) {
	if config.NumWorkers < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, config.NumWorkers)
	}
	if config.Name == "" {
		config.Name = "pool"
	}
	if config.Observer == nil {
		config.Observer = NopObserver{}
	}
	if config.Logger == nil {
		config.Logger = logger.Default
	}

	p := &Pool{
		id:       uuid.NewString(),
		name:     config.Name,
		queue:    dispatch.New[Job](),
		state:    newState(config.NumWorkers),
		observer: config.Observer,
		log:      config.Logger,
		live:     make(map[int]struct{}, config.NumWorkers),
	}

	p.mu.Lock()
	for range config.NumWorkers {
		p.spawn()
	}
	p.mu.Unlock()

	p.log.Info(p.name, "WorkerPool started with %d workers (id=%s)", config.NumWorkers, p.id)
	return p, nil
}

// Submit はジョブをキューに積む。ブロックしない
func (p *Pool) Submit(job Job) error {
	if job == nil {
		return ErrNilJob
	}
	if p.stopping.Load() {
		return ErrPoolClosed
	}

	p.state.enqueue()
	if err := p.queue.Send(job); err != nil {
		// Stop と競合した場合は加算を取り消す
		if p.state.discard(1) {
			p.notifyIdle()
		}
		return ErrPoolClosed
	}
	p.submitted.Add(1)
	return nil
}

// Resize はワーカーのターゲット数を変更する。
// 増加分はすぐに起動し、縮小は各ワーカーの次のジョブ取得時に反映される
func (p *Pool) Resize(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSize, n)
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	prev := p.state.setTarget(n)
	for range n - prev {
		p.spawn()
	}
	p.mu.Unlock()

	// 縮小時は待機中のワーカーを起こして退役判定をやり直させる
	if n < prev {
		p.queue.Wake()
	}

	p.log.Info(p.name, "Resized worker target %d -> %d", prev, n)
	p.observer.Resized(prev, n)

	if n == 0 {
		if queued := p.queue.Len(); queued > 0 {
			p.log.Warn(p.name, "Worker target is 0 with %d jobs queued; they will wait for a resize", queued)
		}
	}
	return nil
}

// Wait は待機中・実行中のジョブがなくなるまでブロックする
func (p *Pool) Wait() {
	_ = p.state.waitIdle(context.Background())
}

// WaitContext は Wait と同じだが ctx の終了で待機を打ち切る。
// ジョブそのものは取り消さない
func (p *Pool) WaitContext(ctx context.Context) error {
	return p.state.waitIdle(ctx)
}

// Stop はキューを閉じ、ワーカーが取得できるジョブを処理し終えるのを待つ。
// ターゲットが 0 で取り残されたジョブは破棄される
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.stopping.Store(true)
	p.mu.Unlock()

	p.queue.Close()
	p.wg.Wait()

	if dropped := p.queue.Drain(); len(dropped) > 0 {
		p.dropped.Add(uint64(len(dropped)))
		p.log.Warn(p.name, "Dropped %d queued jobs on stop", len(dropped))
		if p.state.discard(len(dropped)) {
			p.notifyIdle()
		}
	}

	p.log.Info(p.name, "WorkerPool stopped")
}

// ID はプールの識別子を返す
func (p *Pool) ID() string {
	return p.id
}

// Name はプール名を返す
func (p *Pool) Name() string {
	return p.name
}

// Target は現在のワーカーターゲット数を返す
func (p *Pool) Target() int {
	_, _, target := p.state.snapshot()
	return target
}

// LiveWorkers は終了していないワーカー数を返す
func (p *Pool) LiveWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Workers は生存中ワーカーの番号を昇順で返す
func (p *Pool) Workers() []int {
	p.mu.Lock()
	ids := make([]int, 0, len(p.live))
	for id := range p.live {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	slices.Sort(ids)
	return ids
}

// QueueSize は未取得のジョブ数を返す
func (p *Pool) QueueSize() int {
	queued, _, _ := p.state.snapshot()
	return queued
}

// Running は実行中のジョブ数を返す
func (p *Pool) Running() int {
	_, running, _ := p.state.snapshot()
	return running
}

// Stats はプールの状態
type Stats struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Queued      int    `json:"queued"`
	Running     int    `json:"running"`
	Target      int    `json:"target"`
	LiveWorkers int    `json:"live_workers"`
	Submitted   uint64 `json:"submitted"`
	Completed   uint64 `json:"completed"`
	Retired     uint64 `json:"retired"`
	Dropped     uint64 `json:"dropped"`
	Stopped     bool   `json:"stopped"`
}

// Stats は現在の状態のスナップショットを返す
func (p *Pool) Stats() Stats {
	queued, running, target := p.state.snapshot()

	p.mu.Lock()
	live := len(p.live)
	stopped := p.stopped
	p.mu.Unlock()

	return Stats{
		ID:          p.id,
		Name:        p.name,
		Queued:      queued,
		Running:     running,
		Target:      target,
		LiveWorkers: live,
		Submitted:   p.submitted.Load(),
		Completed:   p.completed.Load(),
		Retired:     p.retired.Load(),
		Dropped:     p.dropped.Load(),
		Stopped:     stopped,
	}
}

// notifyIdle は完了エポックの終了を通知する
func (p *Pool) notifyIdle() {
	p.observer.Idle()
	p.state.broadcastIdle()
}
