package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Broker = (*QueueBroker)(nil)

// QueueBroker keeps each queue as a Redis list (LPUSH in, BRPOP out) and the
// deferred messages of a queue in a sorted set scored by due time.
type QueueBroker struct {
	cli    *redis.Client
	prefix string
	known  map[string]bool
	log    *zerolog.Logger
}

// NewQueueBroker declares the queues the broker accepts.
func NewQueueBroker(c *Client, logger *zerolog.Logger, queues ...string) *QueueBroker {
	l := logger.With().Str("component", "RedisBroker").Logger()
	known := make(map[string]bool, len(queues))
	for _, q := range queues {
		known[q] = true
	}
	return &QueueBroker{cli: c.cli, prefix: "queue:", known: known, log: &l}
}

func (b *QueueBroker) readyKey(queue string) string    { return b.prefix + queue }
func (b *QueueBroker) deferredKey(queue string) string { return b.prefix + queue + ":delayed" }

func (b *QueueBroker) check(queue string) error {
	if !b.known[queue] {
		return fmt.Errorf("%w: %q", domain.ErrUnknownQueue, queue)
	}
	return nil
}

func (b *QueueBroker) Enqueue(ctx context.Context, queue string, msg adapter.Message) error {
	if err := b.check(queue); err != nil {
		return err
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := b.cli.LPush(ctx, b.readyKey(queue), raw).Err(); err != nil {
		return fmt.Errorf("%w: lpush: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (b *QueueBroker) EnqueueAfter(ctx context.Context, queue string, msg adapter.Message, delay time.Duration) error {
	if delay <= 0 {
		return b.Enqueue(ctx, queue, msg)
	}
	if err := b.check(queue); err != nil {
		return err
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	due := time.Now().Add(delay).UnixMilli()
	if err := b.cli.ZAdd(ctx, b.deferredKey(queue), &redis.Z{Score: float64(due), Member: raw}).Err(); err != nil {
		return fmt.Errorf("%w: zadd: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// luaPromote moves due members of the deferred set onto the ready list.
var luaPromote = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, m in ipairs(due) do
	redis.call("ZREM", KEYS[1], m)
	redis.call("LPUSH", KEYS[2], m)
end
return #due`)

func (b *QueueBroker) promote(ctx context.Context, queue string) (int64, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return luaPromote.Run(ctx, b.cli, []string{b.deferredKey(queue), b.readyKey(queue)}, now, 100).Int64()
}

func (b *QueueBroker) Dequeue(ctx context.Context, queue string, wait time.Duration) (*adapter.Message, error) {
	if err := b.check(queue); err != nil {
		return nil, err
	}
	if n, err := b.promote(ctx, queue); err != nil {
		b.log.Warn().Err(err).Str("queue", queue).Msg("promote deferred failed")
	} else if n > 0 {
		b.log.Debug().Int64("count", n).Str("queue", queue).Msg("deferred messages promoted")
	}

	res, err := b.cli.BRPop(ctx, wait, b.readyKey(queue)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrQueueEmpty
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: brpop: %v", domain.ErrStoreUnavailable, err)
	}
	// res = [key, value]
	if len(res) != 2 {
		return nil, domain.ErrQueueEmpty
	}
	var msg adapter.Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		b.log.Error().Err(err).Str("queue", queue).Msg("discarding malformed message")
		return nil, domain.ErrQueueEmpty
	}
	return &msg, nil
}

func (b *QueueBroker) Len(ctx context.Context, queue string) (int64, int64, error) {
	if err := b.check(queue); err != nil {
		return 0, 0, err
	}
	pipe := b.cli.Pipeline()
	ready := pipe.LLen(ctx, b.readyKey(queue))
	deferred := pipe.ZCard(ctx, b.deferredKey(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("%w: len: %v", domain.ErrStoreUnavailable, err)
	}
	return ready.Val(), deferred.Val(), nil
}
