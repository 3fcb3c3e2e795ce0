package worker

import (
	"context"
	"fmt"
	"log"
	"sync"

	"region-capture/src/capture"
	"region-capture/src/screenshot"
)

// Capturer runs the capture pipeline for one region.
type Capturer interface {
	Capture(ctx context.Context, region screenshot.Region) (capture.Encoded, bool, error)
}

// Result is the outcome of one capture job.
type Result struct {
	Region  screenshot.Region
	Encoded capture.Encoded
	Empty   bool
	Err     error
}

// ResultCallback is invoked on capture completion (from a worker goroutine).
// The event loop should pass a closure that posts back into the event loop safely.
type ResultCallback func(Result)

// Pool is a fixed-size capture worker pool with a 1-slot input queue (strict back-pressure).
type Pool struct {
	capturer Capturer
	jobs     chan job
	wg       sync.WaitGroup
	once     sync.Once
}

type job struct {
	ctx    context.Context
	region screenshot.Region
	cb     ResultCallback
}

// New creates a worker pool. Size defaults to 1 when size<=0 since captures
// share one display. Queue is 1 slot.
func New(c Capturer, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{capturer: c, jobs: make(chan job, 1)}
	p.start(size)
	return p
}

func (p *Pool) start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				log.Printf("Worker: starting capture for region %+v", j.region)
				res := p.run(j)
				log.Printf("Worker: capture completed, empty=%v bytes=%d err=%v", res.Empty, len(res.Encoded), res.Err)
				j.cb(res)
			}
		}()
	}
}

func (p *Pool) run(j job) (res Result) {
	res.Region = j.region
	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC in capture worker: %v", r)
			res.Encoded, res.Empty = "", false
			res.Err = fmt.Errorf("capture panicked: %v", r)
		}
	}()
	res.Encoded, res.Empty, res.Err = p.capturer.Capture(j.ctx, j.region)
	return res
}

// Submit enqueues a capture job if the single-slot queue is free. Returns false if dropped.
func (p *Pool) Submit(ctx context.Context, region screenshot.Region, cb ResultCallback) bool {
	select {
	case p.jobs <- job{ctx: ctx, region: region, cb: cb}:
		return true
	default:
		return false
	}
}

// Close stops the pool after draining current work. Safe to call more than once.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.jobs) })
	p.wg.Wait()
}
