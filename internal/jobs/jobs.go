// Package jobs runs the periodic maintenance loops of the server: floor
// refresh, cache sweeping and token cleanup.
package jobs

import (
	"context"
	"log"
	"sync"
	"time"
)

// Task is one unit of periodic work. The context is cancelled when the
// runner stops or when Timeout elapses.
type Task func(ctx context.Context)

type Runner struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	Timeout time.Duration
}

func NewRunner(parent context.Context) *Runner {
	ctx, cancel := context.WithCancel(parent)
	return &Runner{ctx: ctx, cancel: cancel, Timeout: 2 * time.Minute}
}

// Every runs fn once immediately when runNow is set, then every interval until
// Stop. Runs never overlap for the same job.
func (r *Runner) Every(name string, interval time.Duration, runNow bool, fn Task) {
	if interval <= 0 {
		log.Printf("[jobs] %s 间隔无效 (%v)，未启动", name, interval)
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		if runNow {
			r.run(name, fn)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.ctx.Done():
				log.Printf("[jobs] %s 已停止", name)
				return
			case <-ticker.C:
				r.run(name, fn)
			}
		}
	}()
	log.Printf("[jobs] %s 已启动，间隔 %v", name, interval)
}

func (r *Runner) run(name string, fn Task) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[jobs] %s 执行异常: %v", name, p)
		}
	}()

	ctx, cancel := context.WithTimeout(r.ctx, r.Timeout)
	defer cancel()
	fn(ctx)
}

// Stop cancels every loop and waits for in-flight runs to return.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
}
