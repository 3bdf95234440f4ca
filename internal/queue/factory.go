package queue

import (
	"fmt"
	"strings"

	"github.com/craftstudio/craftstudio/internal/config"
	"github.com/craftstudio/craftstudio/internal/utils"
)

// NewQueue creates a Queue for the configured feed type. It returns nil
// and no error when the feed is disabled.
func NewQueue(cfg config.FeedConfig) (Queue, error) {
	queueType := utils.QueueType(strings.ToLower(cfg.Type))

	switch queueType {
	case "", utils.QueueTypeNone:
		return nil, nil

	case utils.QueueTypeNATS:
		return newNATSQueue(NATSConfig{
			URL:      cfg.URL,
			Password: cfg.Password,
		})

	case utils.QueueTypeRedis:
		return newRedisQueue(RedisConfig{
			URL:      cfg.URL,
			Password: cfg.Password,
			DB:       cfg.RedisDB,
			Stream:   cfg.RedisStream,
		})

	case utils.QueueTypeKafka:
		return newKafkaQueue(KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
		})

	case utils.QueueTypeMemory:
		return newMemoryQueue(), nil

	default:
		return nil, fmt.Errorf("unsupported feed type: %s (supported: none, nats, redis, kafka, memory)", queueType)
	}
}

// NewPublisher is NewQueue for callers that only publish
func NewPublisher(cfg config.FeedConfig) (Publisher, error) {
	q, err := NewQueue(cfg)
	if err != nil || q == nil {
		return nil, err
	}
	return q, nil
}

// NewSubscriber is NewQueue for callers that only subscribe
func NewSubscriber(cfg config.FeedConfig) (Subscriber, error) {
	q, err := NewQueue(cfg)
	if err != nil || q == nil {
		return nil, err
	}
	return q, nil
}
