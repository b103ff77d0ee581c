// Package loop provides the single logical thread that owns all chat state. Timers and
// background work never touch state directly; their continuations are queued onto the
// loop goroutine.
package loop

import (
	"context"
	"sync"
	"time"
)

// Runtime is the scheduling surface the controller depends on.
type Runtime interface {
	// After runs fn on the loop once d has elapsed. Timers are fire-once.
	After(d time.Duration, fn func())
	// Go runs work off the loop and queues the continuation it returns, if any.
	Go(work func() func())
}

// Loop is the production Runtime.
type Loop struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// New creates a loop with a queue of the given size.
func New(size int) *Loop {
	if size <= 0 {
		size = 64
	}
	return &Loop{
		tasks: make(chan func(), size),
		done:  make(chan struct{}),
	}
}

// Post queues fn onto the loop. It reports false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// After implements Runtime.
func (l *Loop) After(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { l.Post(fn) })
}

// Go implements Runtime.
func (l *Loop) Go(work func() func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if next := work(); next != nil {
			l.Post(next)
		}
	}()
}

// Run executes queued tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(fn func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// Wait blocks until background work started with Go has returned.
func (l *Loop) Wait() {
	l.wg.Wait()
}

func (l *Loop) stop() {
	l.once.Do(func() { close(l.done) })
}
