package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps the daily usage counters when more than one instance serves
// traffic. Counters expire by themselves at the next UTC midnight.
type Redis struct {
	client *redis.Client
}

func NewRedis(addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Redis{client: client}, nil
}

func (r *Redis) Check(ctx context.Context, key string, limit int) (Usage, error) {
	now := time.Now()

	val, err := r.client.Get(ctx, r.countKey(key, now)).Result()
	switch {
	case err == redis.Nil:
		return usageFor(0, limit, now), nil
	case err != nil:
		return Usage{}, fmt.Errorf("check usage: %w", err)
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		return Usage{}, fmt.Errorf("check usage: counter %q is not a number: %w", val, err)
	}

	return usageFor(count, limit, now), nil
}

// Increment uses the atomicity of INCR. A value past the limit means this
// call lost the race for the last slot and is compensated right away.
func (r *Redis) Increment(ctx context.Context, key string, limit int) (Usage, error) {
	now := time.Now()
	ck := r.countKey(key, now)

	count, err := r.client.Incr(ctx, ck).Result()
	if err != nil {
		return Usage{}, fmt.Errorf("increment usage: %w", err)
	}
	if count == 1 {
		if err := r.client.ExpireAt(ctx, ck, NextReset(now)).Err(); err != nil {
			return Usage{}, fmt.Errorf("expire usage counter: %w", err)
		}
	}

	if limit > 0 && count > int64(limit) {
		if err := r.client.Decr(ctx, ck).Err(); err != nil {
			return Usage{}, fmt.Errorf("roll back usage counter: %w", err)
		}

		return usageFor(limit, limit, now), fmt.Errorf("key %s: %w", key, ErrLimitReached)
	}

	return usageFor(int(count), limit, now), nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) countKey(key string, now time.Time) string {
	return fmt.Sprintf("scribe:usage:%s:%s", key, dayKey(now))
}
