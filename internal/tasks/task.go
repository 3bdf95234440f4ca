// Package tasks provides handles for background work so callers that do
// not care can fire and forget, while tests and shutdown paths can wait.
package tasks

import (
	"context"
	"fmt"
	"sync"
)

// Task is a handle to a unit of background work
type Task struct {
	done chan struct{}
	err  error
}

// Go runs fn in a new goroutine. A panic in fn is converted into the
// task's error instead of crashing the process.
func Go(fn func() error) *Task {
	t := &Task{done: make(chan struct{})}
	go t.run(fn)
	return t
}

// Completed returns a task that has already finished with err
func Completed(err error) *Task {
	t := &Task{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *Task) run(fn func() error) {
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	t.err = fn()
}

// Done is closed when the task finishes
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx is done
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the task's error, or nil while it is still running
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Tracker counts outstanding tasks so an owner can wait for all of them.
// Unlike a WaitGroup, tasks may be added while another goroutine waits.
// The zero value is ready to use.
type Tracker struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func (tr *Tracker) add() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.n == 0 {
		tr.idle = make(chan struct{})
	}
	tr.n++
}

func (tr *Tracker) done() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.n--
	if tr.n == 0 {
		close(tr.idle)
		tr.idle = nil
	}
}

// Idle returns a channel closed once no task is outstanding
func (tr *Tracker) Idle() <-chan struct{} {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.n == 0 {
		return closedCh
	}
	return tr.idle
}

// Pending returns the number of outstanding tasks
func (tr *Tracker) Pending() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.n
}

// Go starts fn as a tracked task
func (tr *Tracker) Go(fn func() error) *Task {
	tr.add()
	return Go(func() error {
		defer tr.done()
		return fn()
	})
}

// Wait blocks until every task started so far, and every task those
// tasks started, has finished
func (tr *Tracker) Wait() {
	for {
		<-tr.Idle()
		if tr.Pending() == 0 {
			return
		}
	}
}

// WaitContext is Wait bounded by ctx
func (tr *Tracker) WaitContext(ctx context.Context) error {
	for {
		select {
		case <-tr.Idle():
			if tr.Pending() == 0 {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// All returns a task that finishes when every given task has finished.
// Its error is the first non-nil error in argument order.
func All(ts ...*Task) *Task {
	return Go(func() error {
		var first error
		for _, t := range ts {
			<-t.Done()
			if err := t.Err(); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}
