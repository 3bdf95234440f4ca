// Package activity keeps the bounded per-instance event history shown to
// the user and optionally mirrors it to an external feed.
package activity

import (
	"sync"
	"time"

	"github.com/craftstudio/craftstudio/internal/models"
	"github.com/craftstudio/craftstudio/internal/utils"
)

// Log is a fixed capacity ring of events; the oldest is evicted first
type Log struct {
	mu       sync.RWMutex
	entries  []models.ActivityEvent
	start    int
	count    int
	capacity int
}

// NewLog creates a Log. A non-positive capacity uses the default of 50.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = utils.DefaultActivityCapacity
	}
	return &Log{
		entries:  make([]models.ActivityEvent, capacity),
		capacity: capacity,
	}
}

// Append adds an event, evicting the oldest when full
func (l *Log) Append(ev models.ActivityEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count < l.capacity {
		l.entries[(l.start+l.count)%l.capacity] = ev
		l.count++
		return
	}
	l.entries[l.start] = ev
	l.start = (l.start + 1) % l.capacity
}

// Events returns the buffered events, oldest first
func (l *Log) Events() []models.ActivityEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.ActivityEvent, l.count)
	for i := 0; i < l.count; i++ {
		out[i] = l.entries[(l.start+i)%l.capacity]
	}
	return out
}

// Len returns the number of buffered events
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Capacity returns the maximum number of events kept
func (l *Log) Capacity() int {
	return l.capacity
}

// Observer is notified of every appended event
type Observer func(instanceID string, ev models.ActivityEvent)

// Book holds one Log per instance
type Book struct {
	mu        sync.RWMutex
	logs      map[string]*Log
	capacity  int
	observers []Observer
	now       func() time.Time
}

// NewBook creates a Book whose logs hold capacity events each
func NewBook(capacity int) *Book {
	if capacity <= 0 {
		capacity = utils.DefaultActivityCapacity
	}
	return &Book{
		logs:     make(map[string]*Log),
		capacity: capacity,
		now:      time.Now,
	}
}

// Observe registers fn for every event appended after this call
func (b *Book) Observe(fn Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, fn)
}

// Append records an event for an instance and returns it
func (b *Book) Append(instanceID string, level models.ActivityLevel, message string) models.ActivityEvent {
	ev := models.ActivityEvent{
		Timestamp: b.now(),
		Message:   message,
		Level:     level,
	}

	b.mu.Lock()
	log, ok := b.logs[instanceID]
	if !ok {
		log = NewLog(b.capacity)
		b.logs[instanceID] = log
	}
	observers := b.observers
	b.mu.Unlock()

	log.Append(ev)
	for _, fn := range observers {
		fn(instanceID, ev)
	}
	return ev
}

// Events returns an instance's events, oldest first
func (b *Book) Events(instanceID string) []models.ActivityEvent {
	b.mu.RLock()
	log, ok := b.logs[instanceID]
	b.mu.RUnlock()
	if !ok {
		return []models.ActivityEvent{}
	}
	return log.Events()
}

// Clear drops an instance's history
func (b *Book) Clear(instanceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.logs, instanceID)
}

// Has reports whether an instance has any history
func (b *Book) Has(instanceID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.logs[instanceID]
	return ok
}
