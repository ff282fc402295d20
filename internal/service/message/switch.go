package message

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/messaging/internal/pkg/logger"
)

// Switch is a runtime kill-switch consulted on every send, on top of the
// static Enabled flag.
type Switch interface {
	Enabled(ctx context.Context) bool
}

const switchKey = "messaging:enabled"

// RedisSwitch reads the switch from a Redis key. A missing key means
// enabled; "0", "false" and "off" disable. Redis errors fail open so an
// outage of the flag store does not stop messaging.
type RedisSwitch struct {
	rdb *redis.Client
	log *logger.Logger
}

func NewRedisSwitch(rdb *redis.Client) *RedisSwitch {
	return &RedisSwitch{rdb: rdb, log: logger.Named("switch")}
}

func (s *RedisSwitch) Enabled(ctx context.Context) bool {
	v, err := s.rdb.Get(ctx, switchKey).Result()
	if errors.Is(err, redis.Nil) {
		return true
	}
	if err != nil {
		s.log.Warn("kill-switch read failed", "error", err.Error())
		return true
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "off", "disabled":
		return false
	}
	return true
}

// Set flips the switch for every instance sharing the Redis.
func (s *RedisSwitch) Set(ctx context.Context, enabled bool) error {
	v := "1"
	if !enabled {
		v = "0"
	}
	return s.rdb.Set(ctx, switchKey, v, 0).Err()
}
