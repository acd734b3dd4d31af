package worker

import "time"

// ExitReason はワーカーが終了した理由
type ExitReason int

const (
	// ExitRetired は縮小後のアドミッションチェックで退役したことを示す
	ExitRetired ExitReason = iota
	// ExitClosed はプールの停止でキューが閉じられたことを示す
	ExitClosed
)

func (r ExitReason) String() string {
	switch r {
	case ExitRetired:
		return "retired"
	case ExitClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Observer はプールのライフサイクルを観測する。
// メソッドはロックを保持せずにワーカーまたは呼び出し側のゴルーチンから呼ばれる
type Observer interface {
	WorkerStarted(id int)
	WorkerExited(id int, reason ExitReason)
	JobStarted(id int)
	JobFinished(id int, elapsed time.Duration)
	Resized(prev, next int)
	Idle()
}

// NopObserver は何もしない Observer
type NopObserver struct{}

func (NopObserver) WorkerStarted(int) {}
func (NopObserver) WorkerExited(int, ExitReason) {}
func (NopObserver) JobStarted(int) {}
func (NopObserver) JobFinished(int, time.Duration) {}
func (NopObserver) Resized(int, int) {}
func (NopObserver) Idle() {}

// MultiObserver は複数の Observer に順に通知する
type MultiObserver []Observer

func (m MultiObserver) WorkerStarted(id int) {
	for _, o := range m {
		o.WorkerStarted(id)
	}
}

func (m MultiObserver) WorkerExited(id int, reason ExitReason) {
	for _, o := range m {
		o.WorkerExited(id, reason)
	}
}

func (m MultiObserver) JobStarted(id int) {
	for _, o := range m {
		o.JobStarted(id)
	}
}

func (m MultiObserver) JobFinished(id int, elapsed time.Duration) {
	for _, o := range m {
		o.JobFinished(id, elapsed)
	}
}

func (m MultiObserver) Resized(prev, next int) {
	for _, o := range m {
		o.Resized(prev, next)
	}
}

func (m MultiObserver) Idle() {
	for _, o := range m {
		o.Idle()
	}
}
