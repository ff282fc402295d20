package message

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/messaging/internal/pkg/apperr"
)

func TestRedisSwitch(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sw := NewRedisSwitch(rdb)
	ctx := context.Background()

	assert.True(t, sw.Enabled(ctx), "missing key means enabled")

	require.NoError(t, sw.Set(ctx, false))
	assert.False(t, sw.Enabled(ctx))

	mr.Set(switchKey, "OFF")
	assert.False(t, sw.Enabled(ctx))
	mr.Set(switchKey, "yes")
	assert.True(t, sw.Enabled(ctx))

	require.NoError(t, sw.Set(ctx, true))
	assert.True(t, sw.Enabled(ctx))

	mr.Close()
	assert.True(t, sw.Enabled(ctx), "fails open")
}

func TestSend_RedisSwitchBlocksSends(t *testing.T) {
	mr := miniredis.RunT(t)
	sw := NewRedisSwitch(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	f := newFixture(t, openLimiter{})
	f.svc.Switch = sw
	ctx := context.Background()

	require.NoError(t, sw.Set(ctx, false))
	_, err := f.svc.Send(ctx, alice, input("b@x.com"))
	assert.True(t, errors.Is(err, apperr.ErrUnavailable))

	require.NoError(t, sw.Set(ctx, true))
	_, err = f.svc.Send(ctx, alice, input("b@x.com"))
	assert.NoError(t, err)
}
