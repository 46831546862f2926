package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTimeout bounds every Redis round trip when no timeout is configured.
const DefaultTimeout = 250 * time.Millisecond

const scanBatch = 1000

// ARGV[1]=expected ARGV[2]=replacement ARGV[3]=ttl millis (<=0 keeps PTTL)
const casScript = `
local cur = redis.call("GET", KEYS[1])
if not cur then
  return 0
end
if cur ~= ARGV[1] then
  return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call("SET", KEYS[1], ARGV[2], "PX", ttl)
  return 1
end
local remaining = redis.call("PTTL", KEYS[1])
if remaining > 0 then
  redis.call("SET", KEYS[1], ARGV[2], "PX", remaining)
else
  redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`

var casLua = redis.NewScript(casScript)

// Redis is a [Store] backed by go-redis. All keys are written under a
// namespace so several deployments can share a database.
type Redis struct {
	client    redis.UniversalClient
	namespace string
	timeout   time.Duration
}

// NewRedis creates a Redis-backed store. namespace defaults to "gg" and
// timeout to [DefaultTimeout].
func NewRedis(client redis.UniversalClient, namespace string, timeout time.Duration) *Redis {
	if namespace == "" {
		namespace = "gg"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Redis{client: client, namespace: namespace + ":", timeout: timeout}
}

func (r *Redis) key(k string) string {
	return r.namespace + k
}

func (r *Redis) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, r.timeout)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (r *Redis) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return data, nil
}

func (r *Redis) Delete(ctx context.Context, key string) (bool, error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	n, err := r.client.Del(ctx, r.key(key)).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n > 0, nil
}

// ScanPrefix walks the keyspace with SCAN and fetches values and remaining
// TTLs in one pipeline. This is O(n) in the namespace and is meant for
// sweeps and admin listings, not request hot paths.
func (r *Redis) ScanPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	keys, err := ScanKeys(ctx, r.client, escapeGlob(r.key(prefix))+"*")
	if err != nil {
		return nil, unavailable(err)
	}
	if len(keys) == 0 {
		return []Entry{}, nil
	}
	sort.Strings(keys)
	keys = dedupeSorted(keys)

	gets := make([]*redis.StringCmd, len(keys))
	ttls := make([]*redis.DurationCmd, len(keys))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			gets[i] = pipe.Get(ctx, k)
			ttls[i] = pipe.PTTL(ctx, k)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}

	now := time.Now()
	out := make([]Entry, 0, len(keys))
	for i, k := range keys {
		data, err := gets[i].Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, unavailable(err)
		}
		e := Entry{Key: strings.TrimPrefix(k, r.namespace), Value: data}
		if d, err := ttls[i].Result(); err == nil && d > 0 {
			e.ExpiresAt = now.Add(d)
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Redis) CompareAndSwap(ctx context.Context, key string, old, new []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	ms := int64(0)
	if ttl > 0 {
		ms = ttl.Milliseconds()
		if ms == 0 {
			ms = 1
		}
	}
	res, err := casLua.Run(ctx, r.client, []string{r.key(key)}, old, new, ms).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return res == 1, nil
}

// Ping reports Redis availability and round-trip latency.
func (r *Redis) Ping(ctx context.Context) (time.Duration, error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	start := time.Now()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return time.Since(start), unavailable(err)
	}
	return time.Since(start), nil
}

// ScanKeys collects every key matching pattern. SCAN only walks the node it
// is sent to, so a cluster client is scanned on each master.
func ScanKeys(ctx context.Context, client redis.UniversalClient, pattern string) ([]string, error) {
	cluster, ok := client.(*redis.ClusterClient)
	if !ok {
		return scanNode(ctx, client, pattern)
	}

	var (
		mu   sync.Mutex
		keys []string
	)
	err := cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
		batch, err := scanNode(ctx, node, pattern)
		if err != nil {
			return err
		}
		mu.Lock()
		keys = append(keys, batch...)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func scanNode(ctx context.Context, node redis.Cmdable, pattern string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := node.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func dedupeSorted(keys []string) []string {
	out := keys[:0]
	for _, k := range keys {
		if len(out) > 0 && out[len(out)-1] == k {
			continue
		}
		out = append(out, k)
	}
	return out
}
