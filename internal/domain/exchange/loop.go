package exchange

import (
	"context"
	"errors"
	"sync"
)

// ErrLoopClosed is returned by Do after Close.
var ErrLoopClosed = errors.New("exchange: loop closed")

type task struct {
	fn   func()
	done chan struct{}
}

// Loop runs tasks one at a time on a single goroutine. All engine calls and
// all access to the active-exchange slot and sequence counter go through it,
// so no two exchanges ever overlap.
type Loop struct {
	tasks     chan *task
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewLoop starts the loop goroutine.
func NewLoop() *Loop {
	l := &Loop{
		tasks: make(chan *task),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case t := <-l.tasks:
			t.fn()
			close(t.done)
		case <-l.quit:
			return
		}
	}
}

// Do runs fn on the loop and waits for it to return. If ctx ends before fn
// is scheduled, fn never runs and ctx.Err() is returned. Once fn has started
// Do always waits for it, since fn may still be writing to the caller's
// connection.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	t := &task{fn: fn, done: make(chan struct{})}
	select {
	case l.tasks <- t:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.quit:
		return ErrLoopClosed
	}
	<-t.done
	return nil
}

// Close stops the loop after the running task, if any, completes.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.quit) })
	<-l.done
}
