package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue stores jobs in a sorted set per key, scored by due time in
// Unix seconds. The member is the RFC 3339 due time so duplicates at the
// same instant collapse.
type RedisQueue struct {
	client redis.Cmdable
	prefix string
}

// NewRedisQueue returns a RedisQueue whose sets are named prefix+key.
func NewRedisQueue(client redis.Cmdable, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "uas:jobs:"
	}
	return &RedisQueue{client: client, prefix: prefix}
}

func (q *RedisQueue) setKey(key string) string {
	return q.prefix + key
}

func (q *RedisQueue) ScheduleOnce(ctx context.Context, key string, at time.Time) error {
	member := at.UTC().Format(time.RFC3339Nano)
	if err := q.client.ZAdd(ctx, q.setKey(key), redis.Z{Score: float64(at.Unix()), Member: member}).Err(); err != nil {
		return fmt.Errorf("schedule job %s: %w", key, err)
	}
	return nil
}

func (q *RedisQueue) CancelAll(ctx context.Context, key string) (int, error) {
	n, err := q.client.ZRemRangeByScore(ctx, q.setKey(key), "-inf", "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("cancel jobs %s: %w", key, err)
	}
	return int(n), nil
}

func (q *RedisQueue) Peek(ctx context.Context, key string) (time.Time, bool, error) {
	members, err := q.client.ZRange(ctx, q.setKey(key), 0, 0).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("peek job %s: %w", key, err)
	}
	if len(members) == 0 {
		return time.Time{}, false, nil
	}
	at, err := time.Parse(time.RFC3339Nano, members[0])
	if err != nil {
		return time.Time{}, false, fmt.Errorf("peek job %s: bad member %q: %w", key, members[0], err)
	}
	return at, true, nil
}

// Claim pops the earliest due member. ZREM decides the winner when several
// instances race for the same job.
func (q *RedisQueue) Claim(ctx context.Context, key string, now time.Time) (time.Time, bool, error) {
	members, err := q.client.ZRangeByScore(ctx, q.setKey(key), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: 1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("claim job %s: %w", key, err)
	}
	if len(members) == 0 {
		return time.Time{}, false, nil
	}

	removed, err := q.client.ZRem(ctx, q.setKey(key), members[0]).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("claim job %s: %w", key, err)
	}
	if removed == 0 {
		return time.Time{}, false, nil
	}

	at, err := time.Parse(time.RFC3339Nano, members[0])
	if err != nil {
		return time.Time{}, true, fmt.Errorf("claim job %s: bad member %q: %w", key, members[0], err)
	}
	return at, true, nil
}
