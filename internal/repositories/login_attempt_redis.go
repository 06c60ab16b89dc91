package repositories

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/carebridge/accountsec/internal/models"
	"github.com/go-redis/redis/v8"
)

const (
	redisLockoutPrefix = "lockout:"
	// Idle records expire on their own; longer than the longest lockout.
	redisLockoutTTL     = 24 * time.Hour
	redisMaxTxRetries   = 10
	fieldFailureCount   = "failure_count"
	fieldLockoutUntil   = "lockout_until"
	fieldUpdatedAtNanos = "updated_at"
)

// RedisLoginAttemptStore keeps lockout counters in Redis hashes. Updates use
// WATCH/MULTI so concurrent failures for one key never lose an increment.
type RedisLoginAttemptStore struct {
	client *redis.Client
}

func NewRedisLoginAttemptStore(client *redis.Client) *RedisLoginAttemptStore {
	return &RedisLoginAttemptStore{client: client}
}

func redisLockoutKey(key string) string {
	return redisLockoutPrefix + key
}

func (s *RedisLoginAttemptStore) Get(ctx context.Context, key string) (*models.LoginAttemptRecord, error) {
	fields, err := s.client.HGetAll(ctx, redisLockoutKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get login attempts: %w", err)
	}
	if len(fields) == 0 {
		return nil, models.ErrNotFound
	}
	return decodeLockoutHash(key, fields)
}

func (s *RedisLoginAttemptStore) Update(ctx context.Context, key string, fn func(*models.LoginAttemptRecord) error) (*models.LoginAttemptRecord, error) {
	redisKey := redisLockoutKey(key)
	var rec *models.LoginAttemptRecord

	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, redisKey).Result()
		if err != nil {
			return err
		}

		rec = &models.LoginAttemptRecord{IdentityKey: key}
		if len(fields) > 0 {
			if rec, err = decodeLockoutHash(key, fields); err != nil {
				return err
			}
		}

		if err := fn(rec); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, redisKey, encodeLockoutHash(rec))
			if rec.LockoutUntil == nil {
				pipe.HDel(ctx, redisKey, fieldLockoutUntil)
			}
			pipe.Expire(ctx, redisKey, redisLockoutTTL)
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, redisKey)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var rle *models.RateLimitedError
		if errors.As(err, &rle) || errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update login attempts: %w", err)
	}

	return nil, fmt.Errorf("failed to update login attempts: contention on %s", key)
}

func (s *RedisLoginAttemptStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisLockoutKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete login attempts: %w", err)
	}
	return nil
}

// DeleteStale is a no-op: Redis expires idle keys itself.
func (s *RedisLoginAttemptStore) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func encodeLockoutHash(rec *models.LoginAttemptRecord) map[string]interface{} {
	values := map[string]interface{}{
		fieldFailureCount:   rec.FailureCount,
		fieldUpdatedAtNanos: rec.UpdatedAt.UnixNano(),
	}
	if rec.LockoutUntil != nil {
		values[fieldLockoutUntil] = rec.LockoutUntil.UnixNano()
	}
	return values
}

func decodeLockoutHash(key string, fields map[string]string) (*models.LoginAttemptRecord, error) {
	rec := &models.LoginAttemptRecord{IdentityKey: key}

	if v, ok := fields[fieldFailureCount]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("corrupt failure count for %s: %w", key, err)
		}
		rec.FailureCount = n
	}
	if v, ok := fields[fieldLockoutUntil]; ok {
		nanos, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt lockout time for %s: %w", key, err)
		}
		until := time.Unix(0, nanos).UTC()
		rec.LockoutUntil = &until
	}
	if v, ok := fields[fieldUpdatedAtNanos]; ok {
		nanos, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			rec.UpdatedAt = time.Unix(0, nanos).UTC()
		}
	}
	return rec, nil
}
