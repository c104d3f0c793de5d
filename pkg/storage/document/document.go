// Package document implements a storage.Store backed by Redis, for
// multi-instance deployments (spec.md §4.3, §6 STORE_BACKEND=document) where
// rooms and sessions may be served by more than one process.
package document

import (
	"context"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	internalerrors "github.com/lowroll/dicehall/infrastructure/errors"
	"github.com/lowroll/dicehall/infrastructure/resilience"
	"github.com/lowroll/dicehall/pkg/storage"
)

// retryConfig governs a single Redis round trip: a handful of fast retries
// absorbs a blip without the session/turn tickers (which poll every couple
// of seconds anyway) ever noticing.
var retryConfig = resilience.RetryConfig{
	MaxAttempts:  3,
	InitialDelay: 20 * time.Millisecond,
	MaxDelay:     200 * time.Millisecond,
	Multiplier:   2.0,
	Jitter:       0.2,
}

// Store is a Redis-backed storage.Store. Each (section, key) maps to a
// single Redis string key "{prefix}:{section}:{key}"; ListKeys/Scan use
// SCAN with a MATCH pattern rather than KEYS, so large deployments don't
// block the Redis event loop.
type Store struct {
	client  *redis.Client
	prefix  string
	breaker *resilience.CircuitBreaker
}

var _ storage.Store = (*Store)(nil)

// New wraps an existing Redis client. prefix namespaces every key this
// Store touches (STORE_PREFIX, e.g. "dicehall"), so multiple deployments
// can share a Redis instance safely.
func New(client *redis.Client, prefix string) *Store {
	return &Store{
		client:  client,
		prefix:  prefix,
		breaker: resilience.New(resilience.DefaultConfig()),
	}
}

func (s *Store) Backend() string { return "document" }

func (s *Store) redisKey(section, key string) string {
	return s.prefix + ":" + section + ":" + key
}

func (s *Store) sectionPattern(section, prefix string) string {
	return s.prefix + ":" + section + ":" + prefix + "*"
}

// call runs one Redis round trip behind retry and circuit-breaker
// protection: a sustained outage trips the breaker so callers fail fast
// instead of piling retries against a dead connection.
func (s *Store) call(ctx context.Context, fn func() error) error {
	return s.breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, retryConfig, fn)
	})
}

func (s *Store) Get(ctx context.Context, section, key string) ([]byte, error) {
	var doc []byte
	var notFound bool
	err := s.call(ctx, func() error {
		b, gerr := s.client.Get(ctx, s.redisKey(section, key)).Bytes()
		if gerr == redis.Nil {
			notFound = true
			return nil
		}
		if gerr != nil {
			return gerr
		}
		doc = b
		return nil
	})
	if err != nil {
		return nil, internalerrors.Transient("storage.Get", 1, err)
	}
	if notFound {
		return nil, internalerrors.NotFound(section, key)
	}
	return doc, nil
}

func (s *Store) Put(ctx context.Context, section, key string, doc []byte) error {
	err := s.call(ctx, func() error {
		return s.client.Set(ctx, s.redisKey(section, key), doc, 0).Err()
	})
	if err != nil {
		return internalerrors.Transient("storage.Put", 1, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, section, key string) error {
	err := s.call(ctx, func() error {
		return s.client.Del(ctx, s.redisKey(section, key)).Err()
	})
	if err != nil {
		return internalerrors.Transient("storage.Delete", 1, err)
	}
	return nil
}

// scanKeys walks the keyspace under section via SCAN cursors, returning the
// bare keys (with the "{prefix}:{section}:" header stripped) that match
// keyPrefix.
func (s *Store) scanKeys(ctx context.Context, section, keyPrefix string) ([]string, error) {
	header := s.prefix + ":" + section + ":"
	var keys []string
	var cursor uint64
	for {
		var batch []string
		var next uint64
		err := s.call(ctx, func() error {
			b, n, serr := s.client.Scan(ctx, cursor, s.sectionPattern(section, keyPrefix), 200).Result()
			if serr != nil {
				return serr
			}
			batch, next = b, n
			return nil
		})
		if err != nil {
			return nil, internalerrors.Transient("storage.ListKeys", 1, err)
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, header))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (s *Store) ListKeys(ctx context.Context, section, prefix string) ([]string, error) {
	return s.scanKeys(ctx, section, prefix)
}

func (s *Store) Scan(ctx context.Context, section, prefix string, fn func(key string, doc []byte) bool) error {
	keys, err := s.scanKeys(ctx, section, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		doc, err := s.Get(ctx, section, key)
		if err != nil {
			if internalerrors.Is(err, internalerrors.ErrCodeNotFound) {
				continue // deleted between SCAN and GET
			}
			return err
		}
		if !fn(key, doc) {
			break
		}
	}
	return nil
}

func (s *Store) SectionCounts(ctx context.Context, sections []string) (map[string]int, error) {
	counts := make(map[string]int, len(sections))
	for _, section := range sections {
		keys, err := s.scanKeys(ctx, section, "")
		if err != nil {
			return nil, err
		}
		counts[section] = len(keys)
	}
	return counts, nil
}
