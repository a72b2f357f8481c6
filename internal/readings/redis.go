package readings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/fieldmesh/internal/datum"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/config"
)

// DefaultKeyPrefix namespaces the store's keys when none is configured.
const DefaultKeyPrefix = "fieldmesh:"

// putScript writes the datum and its timestamp unless the stored
// timestamp sorts after the new one.
//
// KEYS[1] datum hash, KEYS[2] timestamp hash
// ARGV[1] sensor id, ARGV[2] timestamp, ARGV[3] encoded datum
var putScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[2], ARGV[1])
if cur and cur > ARGV[2] then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// RedisStore is a Store backed by two Redis hashes: <prefix>readings maps
// sensor id to the encoded Datum and <prefix>readings:ts to its timestamp.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	owned   bool
}

// NewRedisStore wraps an existing client. Close leaves the client open.
func NewRedisStore(client redis.UniversalClient, keyPrefix string, timeout time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: keyPrefix, timeout: timeout}
}

// DialRedis connects to the configured server and verifies it with a ping.
func DialRedis(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	timeout := cfg.Timeout.Std()
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout(timeout))
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}

	s := NewRedisStore(client, cfg.KeyPrefix, timeout)
	s.owned = true
	return s, nil
}

func pingTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 5 * time.Second
	}
	return timeout
}

func (s *RedisStore) datumKey() string     { return s.prefix + "readings" }
func (s *RedisStore) timestampKey() string { return s.prefix + "readings:ts" }

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, sensorID string, d datum.Datum) error {
	if err := checkPut(sensorID, d); err != nil {
		return err
	}

	encoded, err := d.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding reading for %s: %w", sensorID, err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	keys := []string{s.datumKey(), s.timestampKey()}
	if err := putScript.Run(ctx, s.client, keys, sensorID, formatTimestamp(d.Timestamp()), string(encoded)).Err(); err != nil {
		return fmt.Errorf("storing reading for %s: %w", sensorID, err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, sensorID string) (datum.Datum, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw, err := s.client.HGet(ctx, s.datumKey(), sensorID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return datum.Datum{}, ErrNotFound
		}
		return datum.Datum{}, fmt.Errorf("querying reading for %s: %w", sensorID, err)
	}

	d, err := datum.Parse(raw)
	if err != nil {
		return datum.Datum{}, fmt.Errorf("decoding reading for %s: %w", sensorID, err)
	}
	return d, nil
}

// Latest implements Store.
func (s *RedisStore) Latest(ctx context.Context) ([]Reading, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	all, err := s.client.HGetAll(ctx, s.datumKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}

	out := make([]Reading, 0, len(all))
	for id, raw := range all {
		d, err := datum.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding reading for %s: %w", id, err)
		}
		out = append(out, Reading{SensorID: id, Datum: d})
	}
	sortReadings(out)
	return out, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, sensorID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, s.datumKey(), sensorID)
		p.HDel(ctx, s.timestampKey(), sensorID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting reading for %s: %w", sensorID, err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
