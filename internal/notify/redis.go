package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink pushes events onto a Redis list for out-of-process consumers
// (live-update gateways, workers).
type RedisSink struct {
	rdb       *redis.Client
	queueName string
	maxLen    int64
}

// NewRedisSink targets the given list. The list is trimmed to maxLen entries
// so a dead consumer cannot grow it without bound; 0 disables trimming.
func NewRedisSink(rdb *redis.Client, queueName string, maxLen int64) *RedisSink {
	return &RedisSink{rdb: rdb, queueName: queueName, maxLen: maxLen}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Send(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, s.queueName, payload)
	if s.maxLen > 0 {
		pipe.LTrim(ctx, s.queueName, 0, s.maxLen-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisSink) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}
