package genstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares epochs across processes and survives restarts. An optional
// TTL bounds the life of idle epoch keys; an expired key reads as epoch 0,
// so snapshots of a later epoch are treated as stale and dropped.
type Redis struct {
	rdb redis.UniversalClient
	ttl time.Duration // 0 disables expiry
}

var _ GenStore = (*Redis)(nil)

// NewRedis creates a Redis-backed epoch store. If ttl <= 0, keys do not
// expire.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{rdb: client, ttl: ttl}
}

func key(ns string) string { return "sbepoch:" + ns }

// Snapshot returns the current epoch. A missing key is epoch 0.
func (s *Redis) Snapshot(ctx context.Context, ns string) (uint64, error) {
	res, err := s.rdb.Get(ctx, key(ns)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	u, err := strconv.ParseUint(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis epoch parse: %w", err)
	}
	return u, nil
}

// Bump increments the epoch. With a TTL, INCR and EXPIRE share one
// pipelined round-trip.
func (s *Redis) Bump(ctx context.Context, ns string) (uint64, error) {
	k := key(ns)
	if s.ttl <= 0 {
		v, err := s.rdb.Incr(ctx, k).Result()
		if err != nil {
			return 0, err
		}
		return uint64(v), nil
	}

	var incr *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(incr.Val()), nil
}

// Close closes the underlying client.
func (s *Redis) Close(context.Context) error { return s.rdb.Close() }
