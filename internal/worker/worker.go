package worker

import (
	"errors"
	"fmt"
	"time"

	"respool/internal/dispatch"
)

// spawn は未使用の最小番号でワーカーを起動する。p.mu を保持して呼ぶこと
func (p *Pool) spawn() {
	id := 0
	for {
		if _, used := p.live[id]; !used {
			break
		}
		id++
	}

	p.live[id] = struct{}{}
	p.wg.Add(1)
	go p.run(id)
}

// run は個々のワーカーゴルーチン
func (p *Pool) run(id int) {
	defer p.wg.Done()

	tag := p.workerTag(id)
	p.log.Debug(tag, "Worker started")
	p.observer.WorkerStarted(id)

	reason := p.loop(id)

	p.mu.Lock()
	delete(p.live, id)
	p.mu.Unlock()

	if reason == ExitRetired {
		p.retired.Add(1)
	}
	p.log.Debug(tag, "Worker exited (%s)", reason)
	p.observer.WorkerExited(id, reason)
}

// loop はジョブを取り出して実行し続け、終了理由を返す
func (p *Pool) loop(id int) ExitReason {
	for {
		// 待機に入る前に running >= target なら退役する
		if p.state.shouldRetire() {
			return ExitRetired
		}

		// 取り出し直前にも同じ条件を確認する
		job, err := p.queue.Receive(p.state.admit)
		switch {
		case errors.Is(err, dispatch.ErrRejected):
			return ExitRetired
		case errors.Is(err, dispatch.ErrWoken):
			continue
		case err != nil:
			return ExitClosed
		}

		p.execute(id, job)
	}
}

// execute はジョブを同期的に実行し、完了時にアイドル通知を行う
func (p *Pool) execute(id int, job Job) {
	p.observer.JobStarted(id)

	start := time.Now()
	job()
	elapsed := time.Since(start)

	p.completed.Add(1)
	p.observer.JobFinished(id, elapsed)

	if p.state.finish() {
		p.notifyIdle()
	}
}

func (p *Pool) workerTag(id int) string {
	return fmt.Sprintf("%s/w%d", p.name, id)
}
