package worker

import (
	"context"
	"runtime"
	"sync"

	"gemini-ocr-capture/src/logutil"
	"gemini-ocr-capture/src/session"
)

// ResultCallback is invoked on session completion (from a worker goroutine).
type ResultCallback func(res session.Result, err error)

// Pool is a fixed-size session worker pool with a 1-slot input queue (strict back-pressure).
type Pool struct {
	jobs   chan job
	wg     sync.WaitGroup
	logger logutil.Logger

	closeOnce sync.Once
}

type job struct {
	ctx  context.Context
	opts session.Options
	cb   ResultCallback
}

// New creates a worker pool. Size defaults to NumCPU when size<=0. Queue is 1 slot.
func New(size int, logger logutil.Logger) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &Pool{jobs: make(chan job, 1), logger: logutil.OrNop(logger)}
	p.start(size)
	return p
}

func (p *Pool) start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for j := range p.jobs {
				p.logger.Printf("Worker %d: starting session", id)
				res, err := session.Execute(j.ctx, j.opts)
				p.logger.Printf("Worker %d: session completed, text length=%d, err=%v", id, len(res.Text), err)
				if j.cb != nil {
					j.cb(res, err)
				}
			}
		}(i)
	}
}

// Submit enqueues a session if the single-slot queue is free. Returns false if dropped.
func (p *Pool) Submit(ctx context.Context, opts session.Options, cb ResultCallback) bool {
	select {
	case p.jobs <- job{ctx: ctx, opts: opts, cb: cb}:
		return true
	default:
		p.logger.Printf("Worker: queue full, dropping request")
		return false
	}
}

// Close stops the pool after draining current work. Submit must not be
// called after Close.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.jobs) })
	p.wg.Wait()
}
