package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps the queue in a sorted set so several API replicas share it.
//
// Keys (prefix defaults to "dialer:queue"):
//   - <prefix>:z   sorted set, member = call id, score = rank*rankScale + seq
//   - <prefix>:e   hash, call id -> "<rank>:<enqueued_unix_ms>"
//   - <prefix>:seq monotonic counter providing FIFO order within a rank
//
// Every mutation is a Lua script, so enqueue/dequeue/remove are serialised by
// Redis itself.
type Redis struct {
	rdb      *redis.Client
	zkey     string
	hkey     string
	seqkey   string
	capacity int

	est *Estimator
	now func() time.Time
}

const (
	DefaultRedisPrefix = "dialer:queue"

	// rankScale leaves 12 digits for the sequence; MaxRedisRank keeps the
	// composite score below 2^53 so it stays exact as a float.
	rankScale    = 1e12
	MaxRedisRank = 9000
)

func NewRedis(rdb *redis.Client, prefix string, capacity int, est *Estimator) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if est == nil {
		est = NewEstimator(0)
	}
	return &Redis{
		rdb:      rdb,
		zkey:     prefix + ":z",
		hkey:     prefix + ":e",
		seqkey:   prefix + ":seq",
		capacity: capacity,
		est:      est,
		now:      time.Now,
	}
}

var enqueueScript = redis.NewScript(`
-- KEYS[1] = zset, KEYS[2] = entry hash, KEYS[3] = seq counter
-- ARGV[1] = call id, ARGV[2] = rank, ARGV[3] = capacity (0 = unbounded), ARGV[4] = enqueued_at ms
--
-- Returns {status, zrank, meta}
--  status 0 = enqueued, 1 = already queued, -1 = full
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  return {1, redis.call('ZRANK', KEYS[1], ARGV[1]), redis.call('HGET', KEYS[2], ARGV[1]) or ''}
end
local cap = tonumber(ARGV[3])
if cap > 0 and redis.call('ZCARD', KEYS[1]) >= cap then
  return {-1, 0, ''}
end
local seq = redis.call('INCR', KEYS[3])
local score = string.format('%.0f', tonumber(ARGV[2]) * 1e12 + seq)
redis.call('ZADD', KEYS[1], score, ARGV[1])
local meta = ARGV[2] .. ':' .. ARGV[4]
redis.call('HSET', KEYS[2], ARGV[1], meta)
return {0, redis.call('ZRANK', KEYS[1], ARGV[1]), meta}
`)

var dequeueScript = redis.NewScript(`
-- KEYS[1] = zset, KEYS[2] = entry hash
-- Returns {call id, meta} or nil when empty.
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
  return false
end
local id = popped[1]
local meta = redis.call('HGET', KEYS[2], id) or ''
redis.call('HDEL', KEYS[2], id)
return {id, meta}
`)

var removeScript = redis.NewScript(`
-- KEYS[1] = zset, KEYS[2] = entry hash, ARGV[1] = call id
local n = redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
return n
`)

var reprioritizeScript = redis.NewScript(`
-- KEYS[1] = zset, KEYS[2] = entry hash, ARGV[1] = call id, ARGV[2] = rank
-- Keeps the original sequence so FIFO order within a rank survives.
local s = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not s then
  return 0
end
local seq = math.fmod(tonumber(s), 1e12)
redis.call('ZADD', KEYS[1], 'XX', string.format('%.0f', tonumber(ARGV[2]) * 1e12 + seq), ARGV[1])
local meta = redis.call('HGET', KEYS[2], ARGV[1]) or ''
local at = string.match(meta, ':(%d+)$') or '0'
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2] .. ':' .. at)
return 1
`)

func clampRank(rank int) int {
	if rank < 0 {
		return 0
	}
	if rank > MaxRedisRank {
		return MaxRedisRank
	}
	return rank
}

func (q *Redis) Enqueue(ctx context.Context, callID string, rank int) (Entry, error) {
	if callID == "" {
		return Entry{}, ErrInvalidCall
	}
	rank = clampRank(rank)
	res, err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.zkey, q.hkey, q.seqkey},
		callID, rank, q.capacity, q.now().UTC().UnixMilli(),
	).Slice()
	if err != nil {
		return Entry{}, fmt.Errorf("queue enqueue: %w", err)
	}
	if len(res) != 3 {
		return Entry{}, fmt.Errorf("queue enqueue: unexpected reply %v", res)
	}
	status, _ := res[0].(int64)
	if status == -1 {
		return Entry{}, ErrQueueFull
	}
	zrank, _ := res[1].(int64)
	meta, _ := res[2].(string)

	e, err := parseMeta(callID, meta)
	if err != nil {
		return Entry{}, err
	}
	e.Position = int(zrank) + 1
	e.EstimatedWait = q.est.Estimate(e.Position)
	return e, nil
}

func (q *Redis) DequeueNext(ctx context.Context) (Entry, bool, error) {
	res, err := dequeueScript.Run(ctx, q.rdb, []string{q.zkey, q.hkey}).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("queue dequeue: %w", err)
	}
	if len(res) != 2 {
		return Entry{}, false, fmt.Errorf("queue dequeue: unexpected reply %v", res)
	}
	e, err := parseMeta(res[0], res[1])
	if err != nil {
		return Entry{}, false, err
	}
	e.Position = 1
	return e, true, nil
}

func (q *Redis) Peek(ctx context.Context, callID string) (Entry, bool, error) {
	pipe := q.rdb.Pipeline()
	rankCmd := pipe.ZRank(ctx, q.zkey, callID)
	metaCmd := pipe.HGet(ctx, q.hkey, callID)
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return Entry{}, false, fmt.Errorf("queue peek: %w", err)
	}

	zrank, err := rankCmd.Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("queue peek: %w", err)
	}
	meta, err := metaCmd.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Entry{}, false, fmt.Errorf("queue peek: %w", err)
	}

	e, err := parseMeta(callID, meta)
	if err != nil {
		return Entry{}, false, err
	}
	e.Position = int(zrank) + 1
	e.EstimatedWait = q.est.Estimate(e.Position)
	return e, true, nil
}

func (q *Redis) Remove(ctx context.Context, callID string) (bool, error) {
	n, err := removeScript.Run(ctx, q.rdb, []string{q.zkey, q.hkey}, callID).Int()
	if err != nil {
		return false, fmt.Errorf("queue remove: %w", err)
	}
	return n == 1, nil
}

func (q *Redis) Reprioritize(ctx context.Context, callID string, rank int) (bool, error) {
	n, err := reprioritizeScript.Run(ctx, q.rdb, []string{q.zkey, q.hkey}, callID, clampRank(rank)).Int()
	if err != nil {
		return false, fmt.Errorf("queue reprioritize: %w", err)
	}
	return n == 1, nil
}

func (q *Redis) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.ZCard(ctx, q.zkey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue len: %w", err)
	}
	return int(n), nil
}

// parseMeta decodes "<rank>:<enqueued_unix_ms>". An empty meta yields an entry
// with only the call id set.
func parseMeta(callID, meta string) (Entry, error) {
	e := Entry{CallID: callID}
	if meta == "" {
		return e, nil
	}
	rankStr, atStr, ok := strings.Cut(meta, ":")
	if !ok {
		return Entry{}, fmt.Errorf("queue: malformed entry %q", meta)
	}
	rank, err := strconv.Atoi(rankStr)
	if err != nil {
		return Entry{}, fmt.Errorf("queue: malformed rank %q", meta)
	}
	ms, err := strconv.ParseInt(atStr, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("queue: malformed timestamp %q", meta)
	}
	e.Rank = rank
	e.EnqueuedAt = time.UnixMilli(ms).UTC()
	return e, nil
}
