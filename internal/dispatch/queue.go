package dispatch

import (
	"errors"
	"sync"
)

var (
	// ErrClosed はキューが閉じられていることを示す
	ErrClosed = errors.New("dispatch queue is closed")
	// ErrRejected は受信側のアドミッションチェックで先頭要素が拒否されたことを示す
	ErrRejected = errors.New("dispatch receive rejected")
	// ErrWoken は空のまま Wake で待機が解除されたことを示す
	ErrWoken = errors.New("dispatch receive woken")
)

// Queue は上限なしの FIFO キュー
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	head   int
	closed bool
	wakes  uint64
}

// New は空のキューを作成する
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Send は要素を末尾に追加する。ブロックしない
func (q *Queue[T]) Send(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	q.cond.Signal()
	return nil
}

// Receive は要素が届くまでブロックし、先頭要素を取り出す。
// admit が nil でなければ、取り出す直前にロックを保持したまま呼び出す。
// 空のまま Wake された場合は ErrWoken を返す
func (q *Queue[T]) Receive(admit func() bool) (T, error) {
	var zero T

	q.mu.Lock()
	defer q.mu.Unlock()

	wakes := q.wakes
	for q.pending() == 0 && !q.closed && q.wakes == wakes {
		q.cond.Wait()
	}
	if q.pending() == 0 {
		if q.closed {
			return zero, ErrClosed
		}
		return zero, ErrWoken
	}

	if admit != nil && !admit() {
		return zero, ErrRejected
	}

	return q.pop(), nil
}

// Close は送信を締め切り、待機中の受信側をすべて起こす
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.cond.Broadcast()
}

// Wake は空のキューで待機中の受信側をすべて起こし、ErrWoken を返させる
func (q *Queue[T]) Wake() {
	q.mu.Lock()
	q.wakes++
	q.mu.Unlock()

	q.cond.Broadcast()
}

// Closed は Close 済みかどうかを返す
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len は未取得の要素数を返す
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending()
}

// Drain は未取得の要素をすべて取り除いて返す
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, 0, q.pending())
	for q.pending() > 0 {
		out = append(out, q.pop())
	}
	return out
}

func (q *Queue[T]) pending() int {
	return len(q.items) - q.head
}

// pop は先頭要素を取り出す。呼び出し側がロックを保持していること
func (q *Queue[T]) pop() T {
	var zero T

	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// 消費済み領域が半分を超えたら詰め直す
	if q.head > len(q.items)/2 {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return v
}
