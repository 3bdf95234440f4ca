package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryQueue delivers messages synchronously to in-process subscribers.
// Subjects follow NATS matching: "*" matches one token, ">" the rest.
type MemoryQueue struct {
	mu       sync.RWMutex
	handlers map[string]MessageHandler
	closed   bool
}

func newMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		handlers: make(map[string]MessageHandler),
	}
}

// Publish hands data to every matching subscriber. A handler error is
// returned after all handlers ran.
func (q *MemoryQueue) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("memory queue closed")
	}
	var matched []MessageHandler
	for pattern, h := range q.handlers {
		if subjectMatches(pattern, subject) {
			matched = append(matched, h)
		}
	}
	q.mu.RUnlock()

	var firstErr error
	for _, h := range matched {
		dataCopy := make([]byte, len(data))
		copy(dataCopy, data)
		if err := h(subject, dataCopy); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Subscribe registers handler for a subject pattern
func (q *MemoryQueue) Subscribe(subject string, handler MessageHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.handlers[subject]; exists {
		return fmt.Errorf("already subscribed to subject: %s", subject)
	}
	q.handlers[subject] = handler
	return nil
}

// Unsubscribe removes the handler for a subject pattern
func (q *MemoryQueue) Unsubscribe(subject string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.handlers[subject]; !exists {
		return fmt.Errorf("not subscribed to subject: %s", subject)
	}
	delete(q.handlers, subject)
	return nil
}

// Close drops all subscriptions
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = make(map[string]MessageHandler)
	q.closed = true
	return nil
}

// subjectMatches reports whether subject matches a NATS style pattern
func subjectMatches(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, tok := range pt {
		if tok == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if tok != "*" && tok != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
