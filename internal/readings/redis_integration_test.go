//go:build integration

package readings

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/fieldmesh/internal/infrastructure/config"
)

// Requires a Redis server, by default on 127.0.0.1:6379:
//
//	FIELDMESH_TEST_REDIS_ADDR=127.0.0.1:6379 go test -tags=integration ./internal/readings/...

func redisAddr() string {
	if addr := os.Getenv("FIELDMESH_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	return "127.0.0.1:6379"
}

func TestRedisStore(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: redisAddr()})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable at %s: %v", redisAddr(), err)
	}

	exerciseStore(t, func(t *testing.T) Store {
		prefix := "fieldmesh-test:" + uuid.NewString() + ":"
		s := NewRedisStore(client, prefix, 2*time.Second)
		t.Cleanup(func() {
			client.Del(context.Background(), s.datumKey(), s.timestampKey())
		})
		return s
	})
}

func TestDialRedis(t *testing.T) {
	s, err := DialRedis(context.Background(), config.RedisConfig{
		Addr:      redisAddr(),
		KeyPrefix: "fieldmesh-test:" + uuid.NewString() + ":",
		Timeout:   config.Duration(2 * time.Second),
	})
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
