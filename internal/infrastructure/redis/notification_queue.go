package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"marketplace/internal/domain"
)

const outboundQueueKey = "outbound_notifications"

// RedisNotificationQueue is the durable outbound notification queue:
// settlement LPUSHes, the worker BRPOPs. Losing redis loses queued
// notifications but never settlement state.
type RedisNotificationQueue struct {
	client *redis.Client
}

func NewRedisNotificationQueue(client *redis.Client) *RedisNotificationQueue {
	return &RedisNotificationQueue{client: client}
}

func (q *RedisNotificationQueue) Enqueue(ctx context.Context, n *domain.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, outboundQueueKey, data).Err()
}

func (q *RedisNotificationQueue) Dequeue(ctx context.Context, timeout time.Duration) (*domain.Notification, error) {
	result, err := q.client.BRPop(ctx, timeout, outboundQueueKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	// BRPop returns [key, value].
	var notification domain.Notification
	if err := json.Unmarshal([]byte(result[1]), &notification); err != nil {
		return nil, err
	}
	return &notification, nil
}
