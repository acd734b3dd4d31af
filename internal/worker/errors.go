package worker

import "errors"

var (
	// ErrPoolClosed は Stop 済みのプールへの操作で返される
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrInvalidSize は負のワーカー数が指定された場合に返される
	ErrInvalidSize = errors.New("worker count must be non-negative")
	// ErrNilJob は nil のジョブが投入された場合に返される
	ErrNilJob = errors.New("job is nil")
	// ErrCorruptState はカウンタが負になったときの panic 値に含まれる
	ErrCorruptState = errors.New("worker pool bookkeeping is corrupt")
)
