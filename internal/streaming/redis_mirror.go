package streaming

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisMirror forwards every published event to a capped Redis Stream so
// external consumers can tail task activity with XREAD. Forwarding is
// best-effort: a Redis outage never blocks or fails publishing.
type RedisMirror struct {
	client    *redis.Client
	keyPrefix string
	maxLen    int64
	timeout   time.Duration
	logger    *zap.Logger
}

// NewRedisMirror builds a mirror writing to streams named
// "<prefix>:<task_id>".
func NewRedisMirror(client *redis.Client, keyPrefix string, maxLen int64, logger *zap.Logger) *RedisMirror {
	if keyPrefix == "" {
		keyPrefix = "feedpilot:events"
	}
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &RedisMirror{
		client:    client,
		keyPrefix: keyPrefix,
		maxLen:    maxLen,
		timeout:   2 * time.Second,
		logger:    logger,
	}
}

// Forward appends the event to the task's stream.
func (m *RedisMirror) Forward(evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	err := m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: m.streamKey(evt.TaskID),
		MaxLen: m.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"seq":     evt.Seq,
			"type":    evt.Type,
			"payload": string(evt.Marshal()),
		},
	}).Err()
	if err != nil {
		m.logger.Warn("Failed to mirror event to redis stream",
			zap.String("task_id", evt.TaskID),
			zap.Error(err))
	}
}

// Trim removes a finished task's stream.
func (m *RedisMirror) Trim(ctx context.Context, taskID string) error {
	if err := m.client.Del(ctx, m.streamKey(taskID)).Err(); err != nil {
		return fmt.Errorf("trim event stream for task %s: %w", taskID, err)
	}
	return nil
}

func (m *RedisMirror) streamKey(taskID string) string {
	return m.keyPrefix + ":" + taskID
}
