// Package redis shares list snapshots between processes through Redis.
//
// A process that restores from Redis skips the initial full download of every
// list. Snapshots are large values: a full MALWARE list is a few MB.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/sbcache/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

type Config struct {
	Client goredis.UniversalClient

	// KeyPrefix is prepended to every key, e.g. "edge-eu:" to keep several
	// deployments apart in one database.
	KeyPrefix string

	// MaxValueBytes makes Set refuse larger snapshots with ok=false, keeping
	// them out of a memory-capped instance. 0 => no limit.
	MaxValueBytes int

	CloseClient bool // set true only if this store exclusively owns the client
}

type Store struct {
	rdb         goredis.UniversalClient
	prefix      string
	maxValue    int
	closeClient bool
}

var _ pr.Provider = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.MaxValueBytes < 0 {
		return nil, errors.New("redis provider: negative MaxValueBytes")
	}
	return &Store{
		rdb:         cfg.Client,
		prefix:      cfg.KeyPrefix,
		maxValue:    cfg.MaxValueBytes,
		closeClient: cfg.CloseClient,
	}, nil
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if s.maxValue > 0 && len(value) > s.maxValue {
		return false, nil
	}
	if ttl < 0 {
		ttl = 0 // no expiry
	}
	if err := s.rdb.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Del unlinks the key; Redis reclaims the snapshot's memory in the background.
func (s *Store) Del(ctx context.Context, key string) error {
	return s.rdb.Unlink(ctx, s.key(key)).Err()
}

// Close releases the client only when this store owns it. Repeated calls are
// no-ops.
func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
