package activity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/craftstudio/craftstudio/internal/logging"
	"github.com/craftstudio/craftstudio/internal/models"
	"github.com/craftstudio/craftstudio/internal/queue"
	"github.com/craftstudio/craftstudio/internal/tasks"
	"github.com/craftstudio/craftstudio/internal/utils"
)

// FeedEvent is the message published for every activity event
type FeedEvent struct {
	InstanceID string               `json:"instanceId"`
	Timestamp  time.Time            `json:"timestamp"`
	Level      models.ActivityLevel `json:"level"`
	Message    string               `json:"message"`
}

// Feed mirrors activity events to a queue publisher. Publishing happens in
// the background and failures are only logged.
type Feed struct {
	publisher queue.Publisher
	prefix    string
	timeout   time.Duration
	logger    *logging.Logger
	pending   tasks.Tracker
}

// NewFeed creates a Feed publishing under prefix + "." + instance id
func NewFeed(publisher queue.Publisher, prefix string, logger *logging.Logger) *Feed {
	if prefix == "" {
		prefix = utils.ActivitySubjectPrefix
	}
	if logger == nil {
		logger = logging.Global()
	}
	return &Feed{
		publisher: publisher,
		prefix:    prefix,
		timeout:   5 * time.Second,
		logger:    logger.Component("activity-feed"),
	}
}

// Subject returns the subject an instance's events go to
func (f *Feed) Subject(instanceID string) string {
	return f.prefix + "." + instanceID
}

// Attach makes the feed observe every event appended to book
func (f *Feed) Attach(book *Book) {
	book.Observe(f.Publish)
}

// Publish sends one event in the background
func (f *Feed) Publish(instanceID string, ev models.ActivityEvent) {
	data, err := json.Marshal(FeedEvent{
		InstanceID: instanceID,
		Timestamp:  ev.Timestamp,
		Level:      ev.Level,
		Message:    ev.Message,
	})
	if err != nil {
		f.logger.Warn("Failed to encode activity event", "instance_id", instanceID, "error", err)
		return
	}

	subject := f.Subject(instanceID)
	f.pending.Go(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()
		if err := f.publisher.Publish(ctx, subject, data); err != nil {
			f.logger.Debug("Dropped activity event", "subject", subject, "error", err)
			return err
		}
		return nil
	})
}

// Flush waits for background publishes
func (f *Feed) Flush(ctx context.Context) error {
	return f.pending.WaitContext(ctx)
}

// Close flushes and closes the publisher
func (f *Feed) Close(ctx context.Context) error {
	if err := f.Flush(ctx); err != nil {
		f.logger.Warn("Activity feed did not drain before close", "error", err)
	}
	return f.publisher.Close()
}
