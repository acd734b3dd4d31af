package worker

import (
	"context"
	"fmt"
	"sync"
)

// state は全ワーカーとプールが共有する調停状態
type state struct {
	mu      sync.Mutex
	queued  int // 受け付け済みで未取得のジョブ数
	running int // 実行中のジョブ数
	target  int // 同時にアクティブであるべきワーカー数

	// 完了通知用の条件変数とそのガード
	idleMu sync.Mutex
	idle   *sync.Cond
}

func newState(target int) *state {
	s := &state{target: target}
	s.idle = sync.NewCond(&s.idleMu)
	return s
}

// enqueue は投入時に queued を増やす
func (s *state) enqueue() {
	s.mu.Lock()
	s.queued++
	s.mu.Unlock()
}

// discard は取得されずに終わったジョブを queued から差し引く。
// 差し引いた結果アイドルになったかを返す
func (s *state) discard(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queued -= n
	s.check()
	return s.queued == 0 && s.running == 0
}

// admit はキューのロック下で呼ばれ、次のジョブを実行してよいかを判定する。
// 許可した場合は queued から running へ 1 件移す
func (s *state) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running >= s.target {
		return false
	}
	s.queued--
	s.running++
	s.check()
	return true
}

// shouldRetire は余剰ワーカーかどうかを返す。
// running >= target なら他の実行中ワーカーだけでターゲットを満たしている
func (s *state) shouldRetire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running >= s.target
}

// finish はジョブ完了時に running を減らし、アイドルになったかを返す
func (s *state) finish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running--
	s.check()
	return s.queued == 0 && s.running == 0
}

// setTarget はターゲットを更新し、以前の値を返す
func (s *state) setTarget(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.target
	s.target = n
	return prev
}

// outstanding は未完了の仕事が残っているかを返す
func (s *state) outstanding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued > 0 || s.running > 0
}

func (s *state) snapshot() (queued, running, target int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued, s.running, s.target
}

// check は不変条件を検査する。s.mu を保持して呼ぶこと
func (s *state) check() {
	if s.queued < 0 || s.running < 0 {
		panic(fmt.Errorf("%w: queued=%d running=%d", ErrCorruptState, s.queued, s.running))
	}
}

// waitIdle は queued と running がともに 0 になるか ctx が終わるまでブロックする
func (s *state) waitIdle(ctx context.Context) error {
	// ctx の終了は完了通知と同じ条件変数で待機側を起こす
	stop := context.AfterFunc(ctx, s.broadcastIdle)
	defer stop()

	s.idleMu.Lock()
	defer s.idleMu.Unlock()

	for s.outstanding() {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.idle.Wait()
	}
	return nil
}

// broadcastIdle は待機中の Wait 呼び出しをすべて起こす
func (s *state) broadcastIdle() {
	s.idleMu.Lock()
	s.idle.Broadcast()
	s.idleMu.Unlock()
}
