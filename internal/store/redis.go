package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashureev/interviewd/internal/domain"
)

const (
	redisSessionPrefix = "interviewd:session:"
	redisIndexKey      = "interviewd:sessions"
)

// RedisStore keeps each session as a JSON blob with an idle expiry and tracks
// live ids in a sorted set scored by last update.
type RedisStore struct {
	client *redis.Client
	limits Limits
}

// NewRedis creates a Redis-backed repository and checks connectivity.
func NewRedis(ctx context.Context, addr, password string, db int, limits Limits) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client, limits: limits}, nil
}

func (r *RedisStore) key(id string) string {
	return redisSessionPrefix + id
}

// Get implements Repository.
func (r *RedisStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &session, nil
}

// createScript inserts a session unless the store is full. When full it first
// evicts sessions idle since ARGV[6] (negative disables eviction). It returns 0
// when there is still no room.
//
// KEYS[1] index, KEYS[2] session key.
// ARGV: id, data, expiry ms (0 = none), score, max sessions, idle threshold, key prefix.
var createScript = redis.NewScript(`
local max = tonumber(ARGV[5])
if max > 0 and not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	local n = redis.call('ZCARD', KEYS[1])
	if n >= max and tonumber(ARGV[6]) >= 0 then
		local idle = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[6])
		for _, id in ipairs(idle) do
			redis.call('DEL', ARGV[7] .. id)
			redis.call('ZREM', KEYS[1], id)
		end
		n = redis.call('ZCARD', KEYS[1])
	end
	if n >= max then
		return 0
	end
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[2], ARGV[2])
end
redis.call('ZADD', KEYS[1], ARGV[4], ARGV[1])
return 1
`)

// updateScript replaces a session only while its key exists. It returns 0
// when the session is gone.
//
// KEYS[1] index, KEYS[2] session key. ARGV: id, data, expiry ms, score.
var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[2], ARGV[2])
end
redis.call('ZADD', KEYS[1], ARGV[4], ARGV[1])
return 1
`)

// expiryMillis is the blob's Redis expiry. It outlives the idle TTL so
// DeleteIdle, not Redis expiry, decides eviction.
func (r *RedisStore) expiryMillis() int64 {
	if r.limits.IdleTTL <= 0 {
		return 0
	}
	return (2 * r.limits.IdleTTL).Milliseconds()
}

// Save implements Repository. The capacity check, idle eviction and insert
// run as one script.
func (r *RedisStore) Save(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}

	threshold := int64(-1)
	if r.limits.IdleTTL > 0 {
		threshold = time.Now().Add(-r.limits.IdleTTL).Unix()
	}
	ok, err := createScript.Run(ctx, r.client,
		[]string{redisIndexKey, r.key(session.ID)},
		session.ID, data, r.expiryMillis(), session.UpdatedAt.Unix(),
		r.limits.MaxSessions, threshold, redisSessionPrefix,
	).Int()
	if err != nil {
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}
	if ok == 0 {
		return domain.ErrCapacity
	}
	return nil
}

// Update implements Repository.
func (r *RedisStore) Update(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}
	ok, err := updateScript.Run(ctx, r.client,
		[]string{redisIndexKey, r.key(session.ID)},
		session.ID, data, r.expiryMillis(), session.UpdatedAt.Unix(),
	).Int()
	if err != nil {
		return fmt.Errorf("update session %s: %w", session.ID, err)
	}
	if ok == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete implements Repository.
func (r *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.key(id))
		pipe.ZRem(ctx, redisIndexKey, id)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete session %s: %w", id, err)
	}
	return del.Val() > 0, nil
}

// DeleteIdle implements Repository.
func (r *RedisStore) DeleteIdle(ctx context.Context, ttl time.Duration) ([]string, error) {
	threshold := time.Now().Add(-ttl).Unix()
	ids, err := r.client.ZRangeByScore(ctx, redisIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(threshold, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
		members[i] = id
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, redisIndexKey, members...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete idle sessions: %w", err)
	}
	return ids, nil
}

// Count implements Repository.
func (r *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := r.client.ZCard(ctx, redisIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return int(n), nil
}

// Ping implements Repository.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close implements Repository.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
