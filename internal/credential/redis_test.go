//go:build integration

package credential

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisStore_RoundTrip(t *testing.T) {
	client := newTestRedis(t)
	key := "test:" + t.Name()
	t.Cleanup(func() { client.Del(context.Background(), key) })

	s := NewRedisStore(client, key)
	ctx := context.Background()

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrNoCredential)

	require.NoError(t, s.Save(ctx, NewCredential("shared", time.Now(), time.Minute)))

	c, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "shared", c.AccessToken)

	ttl, err := client.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.InDelta(t, time.Minute.Seconds(), ttl.Seconds(), 2)
}
