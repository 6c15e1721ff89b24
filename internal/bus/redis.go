package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisConfig holds the Redis connection used by RedisBus.
type RedisConfig struct {
	Address      string        `yaml:"address" envconfig:"ADDRESS"`
	Password     string        `yaml:"password" envconfig:"PASSWORD"`
	Database     int           `yaml:"database" envconfig:"DATABASE"`
	PoolSize     int           `yaml:"poolSize" envconfig:"POOL_SIZE"`
	DialTimeout  time.Duration `yaml:"dialTimeout" envconfig:"DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `yaml:"readTimeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"writeTimeout" envconfig:"WRITE_TIMEOUT"`
	KeyPrefix    string        `yaml:"keyPrefix" envconfig:"KEY_PREFIX"`
	// PollInterval bounds how long a consumer blocks before promoting due
	// delayed messages.
	PollInterval time.Duration `yaml:"pollInterval" envconfig:"POLL_INTERVAL"`
}

// DefaultRedisConfig returns a configuration for a local Redis.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Address:      "localhost:6379",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "sol003:",
		PollInterval: time.Second,
	}
}

// NewRedisClient opens and pings a Redis client.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// promoteScript moves due members of a delayed set onto the topic list.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('RPUSH', KEYS[2], member)
end
return #due
`)

const promoteBatch = 100

// envelope is the stored form of a Message. ID keeps identical delayed
// payloads distinct inside the sorted set.
type envelope struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// RedisBus is a Bus backed by Redis lists, with a sorted set per topic for
// delayed messages.
type RedisBus struct {
	client       redis.UniversalClient
	prefix       string
	pollInterval time.Duration
	log          logr.Logger

	closeOnce sync.Once
	ownClient bool
}

// NewRedisBus wraps an existing client. The client is not closed by Close.
func NewRedisBus(client redis.UniversalClient, cfg RedisConfig, log logr.Logger) *RedisBus {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &RedisBus{
		client:       client,
		prefix:       cfg.KeyPrefix,
		pollInterval: poll,
		log:          log.WithName("redis-bus"),
	}
}

// DialRedisBus connects to Redis and returns a bus owning the connection.
func DialRedisBus(ctx context.Context, cfg RedisConfig, log logr.Logger) (*RedisBus, error) {
	rdb, err := NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b := NewRedisBus(rdb, cfg, log)
	b.ownClient = true
	b.log.Info("Redis bus initialized", "address", cfg.Address, "database", cfg.Database)
	return b, nil
}

func (b *RedisBus) listKey(topic string) string {
	return b.prefix + "topic:" + topic
}

func (b *RedisBus) delayedKey(topic string) string {
	return b.prefix + "delayed:" + topic
}

func encode(key string, value []byte) ([]byte, error) {
	data, err := json.Marshal(envelope{ID: uuid.NewString(), Key: key, Value: value})
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Publish implements Publisher.
func (b *RedisBus) Publish(ctx context.Context, topic, key string, value []byte) error {
	data, err := encode(key, value)
	if err != nil {
		return err
	}
	if err := b.client.RPush(ctx, b.listKey(topic), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// PublishAfter implements Publisher.
func (b *RedisBus) PublishAfter(ctx context.Context, topic, key string, value []byte, delay time.Duration) error {
	if delay <= 0 {
		return b.Publish(ctx, topic, key, value)
	}
	data, err := encode(key, value)
	if err != nil {
		return err
	}
	due := time.Now().Add(delay).UnixMilli()
	if err := b.client.ZAdd(ctx, b.delayedKey(topic), &redis.Z{Score: float64(due), Member: data}).Err(); err != nil {
		return fmt.Errorf("failed to schedule message on %s: %w", topic, err)
	}
	return nil
}

// Consume implements Consumer. Due delayed messages are promoted before
// each blocking pop, so any consumer of the topic delivers them.
func (b *RedisBus) Consume(ctx context.Context, topic string, handler Handler) error {
	list := b.listKey(topic)
	delayed := b.delayedKey(topic)
	b.log.Info("Consuming topic", "topic", topic)

	for {
		if ctx.Err() != nil {
			return nil
		}

		now := strconv.FormatInt(time.Now().UnixMilli(), 10)
		if err := promoteScript.Run(ctx, b.client, []string{delayed, list}, now, promoteBatch).Err(); err != nil && !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil
			}
			b.log.Error(err, "Failed to promote delayed messages", "topic", topic)
		}

		res, err := b.client.BLPop(ctx, b.pollInterval, list).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, redis.ErrClosed) {
				return ErrClosed
			}
			b.log.Error(err, "Failed to read from topic", "topic", topic)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.pollInterval):
			}
			continue
		}

		// BLPOP returns [key, value].
		var env envelope
		if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
			b.log.Error(err, "Discarding undecodable message", "topic", topic)
			continue
		}
		if err := handler(ctx, Message{Topic: topic, Key: env.Key, Value: env.Value}); err != nil {
			b.log.Error(err, "Message handler failed", "topic", topic, "key", env.Key)
		}
	}
}

// Close releases the Redis connection when the bus owns it.
func (b *RedisBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if b.ownClient {
			err = b.client.Close()
		}
	})
	return err
}
