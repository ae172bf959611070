// Package outcome publishes keeper outcomes to Redis so operators can see
// the latest result per account without tailing logs.
package outcome

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/v3-keepers/keepers/internal/chain"
	"github.com/v3-keepers/keepers/internal/keeper"
)

const defaultBuffer = 256

// RedisClient abstracts the Redis operations used by RedisWriter.
// In production this is satisfied by Dial; in tests by a mock.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) error
}

// entry is one pending HSET.
type entry struct {
	key    string
	values []any
}

// RedisWriter persists the latest outcome for every action target using
// the schema:
//
//	Key:    keeper:{service}:{kind}:{target}
//	Fields: status, signature, error, size, ts
//
// Record never blocks: entries are buffered and flushed by Run. When the
// buffer is full the entry is dropped and logged.
type RedisWriter struct {
	client  RedisClient
	buf     chan entry
	log     zerolog.Logger
	nowFunc func() time.Time
}

// NewRedisWriter creates a RedisWriter around client.
func NewRedisWriter(client RedisClient, log zerolog.Logger) *RedisWriter {
	return &RedisWriter{
		client:  client,
		buf:     make(chan entry, defaultBuffer),
		log:     log,
		nowFunc: time.Now,
	}
}

// Key returns the Redis key an outcome is stored under.
func Key(service string, kind keeper.ActionKind, target string) string {
	return fmt.Sprintf("keeper:%s:%s:%s", service, kind, target)
}

// Record implements keeper.Recorder.
func (rw *RedisWriter) Record(_ context.Context, service string, o keeper.Outcome) {
	status, errText := "confirmed", ""
	if !o.Succeeded() {
		status, errText = "failed", o.Err.Error()
	}
	sig := ""
	if o.Signature != (chain.Signature{}) {
		sig = o.Signature.Hex()
	}

	e := entry{
		key: Key(service, o.Kind, o.Target.Hex()),
		values: []any{
			"status", status,
			"signature", sig,
			"error", errText,
			"size", strconv.Itoa(o.Size),
			"ts", strconv.FormatInt(rw.nowFunc().UnixMilli(), 10),
		},
	}

	select {
	case rw.buf <- e:
	default:
		rw.log.Warn().Str("key", e.key).Msg("outcome buffer full, dropping record")
	}
}

// Run flushes buffered entries until ctx is cancelled, then drains what is
// left using a short grace period.
func (rw *RedisWriter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			rw.drain()
			return
		case e := <-rw.buf:
			rw.write(ctx, e)
		}
	}
}

func (rw *RedisWriter) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case e := <-rw.buf:
			rw.write(ctx, e)
		default:
			return
		}
	}
}

func (rw *RedisWriter) write(ctx context.Context, e entry) {
	if err := rw.client.HSet(ctx, e.key, e.values...); err != nil {
		rw.log.Warn().Err(err).Str("key", e.key).Msg("redis HSET failed")
	}
}

// goRedis adapts *redis.Client to RedisClient.
type goRedis struct {
	c *redis.Client
}

func (g goRedis) HSet(ctx context.Context, key string, values ...any) error {
	return g.c.HSet(ctx, key, values...).Err()
}

// Dial connects to Redis and verifies the connection with PING. The
// returned close function releases the connection pool.
func Dial(ctx context.Context, addr, password string, db int) (RedisClient, func() error, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("outcome: ping redis %s: %w", addr, err)
	}
	return goRedis{c: c}, c.Close, nil
}
