// Package bigcache stores list snapshots in an in-process allegro/bigcache.
package bigcache

import (
	"context"
	"errors"
	"time"

	bc "github.com/allegro/bigcache/v3"

	pr "github.com/unkn0wn-root/sbcache/provider"
)

// Store adapts BigCache. BigCache has no per-entry TTL; every snapshot lives
// for Config.LifeWindow.
type Store struct {
	c *bc.BigCache
}

var _ pr.Provider = (*Store)(nil)

type Config struct {
	LifeWindow  time.Duration // 0 => 4 weeks, the age at which list data becomes unusable
	CleanWindow time.Duration
	Shards      int // power of two; 0 => 4
	// MaxEntrySize sizes the initial shard buffers (10 entries per shard).
	// Shards grow past it on demand.
	MaxEntrySize       int // 0 => 512KB
	HardMaxCacheSizeMB int // 0 = unlimited
}

const (
	defaultLifeWindow   = 4 * 7 * 24 * time.Hour
	defaultShards       = 4
	defaultMaxEntrySize = 512 << 10
)

func New(ctx context.Context, cfg Config) (*Store, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = defaultLifeWindow
	}
	conf := bc.DefaultConfig(life)
	conf.Shards = defaultShards
	if cfg.Shards > 0 {
		conf.Shards = cfg.Shards
	}
	// few, large entries
	conf.MaxEntriesInWindow = conf.Shards
	conf.MaxEntrySize = defaultMaxEntrySize
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	conf.Verbose = false

	c, err := bc.New(ctx, conf)
	if err != nil {
		return nil, err
	}
	return &Store{c: c}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := s.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	if err := s.c.Set(key, value); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Del(_ context.Context, key string) error {
	if err := s.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return err
	}
	return nil
}

func (s *Store) Close(_ context.Context) error { return s.c.Close() }

// Len returns the number of stored snapshots.
func (s *Store) Len() int { return s.c.Len() }
