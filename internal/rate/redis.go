package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every Redis backend failure.
var ErrRedisUnavailable = errors.New("rate: redis unavailable")

// KEYS[1]=log KEYS[2]=block ARGV[1]=now ms ARGV[2]=member ARGV[3..]=window ms ascending
const hitScript = `
local now = tonumber(ARGV[1])
local blocked = redis.call("GET", KEYS[2])
if blocked and tonumber(blocked) > now then
  return {-1, tonumber(blocked)}
end
local horizon = tonumber(ARGV[#ARGV])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - horizon)
local out = {0}
for i = 3, #ARGV do
  out[#out + 1] = redis.call("ZCOUNT", KEYS[1], "(" .. (now - tonumber(ARGV[i])), "+inf")
end
redis.call("ZADD", KEYS[1], now, ARGV[2])
redis.call("PEXPIRE", KEYS[1], horizon)
return out
`

var hitLua = redis.NewScript(hitScript)

// Redis shares logs between instances using one sorted set per key scored
// by attempt time in milliseconds. Times come from the caller so an
// injected clock stays authoritative. A log and its block key share a hash
// tag so the hit script stays in one cluster slot.
type Redis struct {
	client  redis.UniversalClient
	timeout time.Duration
}

func NewRedis(client redis.UniversalClient, timeout time.Duration) *Redis {
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return &Redis{client: client, timeout: timeout}
}

func blockKey(key string) string {
	return "rlb" + strings.TrimPrefix(key, "rl")
}

func (r *Redis) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Redis) Hit(ctx context.Context, key string, now time.Time, windows []time.Duration) ([]int, time.Time, error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	args := make([]any, 0, len(windows)+2)
	args = append(args, now.UnixMilli(), uuid.NewString())
	for _, w := range windows {
		args = append(args, w.Milliseconds())
	}
	res, err := hitLua.Run(ctx, r.client, []string{key, blockKey(key)}, args...).Int64Slice()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) == 2 && res[0] == -1 {
		return nil, time.UnixMilli(res[1]), nil
	}
	counts := make([]int, len(windows))
	for i := range counts {
		if i+1 < len(res) {
			counts[i] = int(res[i+1])
		}
	}
	return counts, time.Time{}, nil
}

func (r *Redis) Block(ctx context.Context, key string, now, until time.Time) error {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	ttl := until.Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := r.client.Set(ctx, blockKey(key), until.UnixMilli(), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (r *Redis) Peek(ctx context.Context, key string, now time.Time, horizon time.Duration) ([]time.Time, time.Time, error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	var (
		rangeCmd *redis.ZSliceCmd
		blockCmd *redis.StringCmd
	)
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		rangeCmd = pipe.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
			Min: "(" + strconv.FormatInt(now.Add(-horizon).UnixMilli(), 10),
			Max: "+inf",
		})
		blockCmd = pipe.Get(ctx, blockKey(key))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	zs, err := rangeCmd.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	hits := make([]time.Time, 0, len(zs))
	for _, z := range zs {
		hits = append(hits, time.UnixMilli(int64(z.Score)))
	}

	var until time.Time
	if ms, err := blockCmd.Int64(); err == nil {
		until = time.UnixMilli(ms)
	}
	return hits, until, nil
}

func (r *Redis) Reset(ctx context.Context, key string, prefix bool) (int, error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	var err error
	logs, blocks := []string{key}, []string{blockKey(key)}
	if prefix {
		if logs, err = r.scan(ctx, key); err != nil {
			return 0, err
		}
		if blocks, err = r.scan(ctx, blockKey(key)); err != nil {
			return 0, err
		}
	}
	if len(logs)+len(blocks) == 0 {
		return 0, nil
	}

	var logsDel *redis.IntCmd
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(logs) > 0 {
			logsDel = pipe.Del(ctx, logs...)
		}
		if len(blocks) > 0 {
			pipe.Del(ctx, blocks...)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if logsDel == nil {
		return 0, nil
	}
	return int(logsDel.Val()), nil
}

// Sweep is a no-op: logs carry a PEXPIRE of the largest window and blocks
// expire with their own TTL.
func (r *Redis) Sweep(context.Context, time.Time, time.Duration) (int, error) {
	return 0, nil
}

func (r *Redis) scan(ctx context.Context, prefix string) ([]string, error) {
	keys, err := store.ScanKeys(ctx, r.client, prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return keys, nil
}
