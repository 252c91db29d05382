package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/market-scanner/internal/logging"
	"github.com/market-scanner/internal/types"
)

// Cache key layout. Detail entries persist independently of snapshots and
// are reused across runs until their TTL elapses.
const (
	// KeyDetailPrefix prefixes per-account detail records: detail_<seq>
	KeyDetailPrefix = "detail_"
	// KeyCatalogPrefix prefixes published snapshots: catalog_<kind>
	KeyCatalogPrefix = "catalog_"
	// KeyStatusPrefix prefixes per-kind load status records: load_status_<kind>
	KeyStatusPrefix = "load_status_"
	// KeyStatNames holds the union of stat names discovered across a run
	KeyStatNames = "discovered_stat_names"
)

// DetailKey returns the cache key for one account's detail record
func DetailKey(seq string) string {
	return KeyDetailPrefix + seq
}

// CatalogKey returns the cache key for a published snapshot
func CatalogKey(kind types.CatalogKind) string {
	return KeyCatalogPrefix + string(kind)
}

// StatusKey returns the cache key for a catalog's load status record
func StatusKey(kind types.CatalogKind) string {
	return KeyStatusPrefix + string(kind)
}

// cacheEnvelope wraps every stored payload with its write time and TTL.
// TTL is recorded per entry at write time; Get compares entry age against
// it instead of relying on backend expiry, so entries outlive their TTL on
// disk but are never served stale.
type cacheEnvelope struct {
	Timestamp  time.Time       `json:"timestamp"`
	TTLMinutes float64         `json:"ttlMinutes"`
	Payload    json.RawMessage `json:"payload"`
}

// CacheStore is the durable key-value store for detail records, snapshots
// and status metadata. Writes are atomic (a single backend SET), so a
// reader never observes a partially written entry. Entries that fail to
// deserialize are deleted on read and reported as misses.
type CacheStore struct {
	redis *RedisCache
	log   *logging.Logger

	// now is injectable for TTL tests
	now func() time.Time
}

// NewCacheStore creates a cache store on top of a Redis connection
func NewCacheStore(redis *RedisCache, log *logging.Logger) *CacheStore {
	return &CacheStore{
		redis: redis,
		log:   log.WithField("component", "cache_store"),
		now:   time.Now,
	}
}

// SetNowFunc overrides the store's clock (tests only)
func (s *CacheStore) SetNowFunc(now func() time.Time) {
	s.now = now
}

// Put stores a payload under key with the given TTL. The entry becomes
// visible to readers in one step.
func (s *CacheStore) Put(ctx context.Context, key string, payload interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", key, err)
	}

	env := cacheEnvelope{
		Timestamp:  s.now().UTC(),
		TTLMinutes: ttl.Minutes(),
		Payload:    raw,
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry for %s: %w", key, err)
	}

	// TTL is enforced at read time against the envelope; the backend keeps
	// the entry so expired data can still seed a force-refresh decision.
	if err := s.redis.Set(ctx, key, data, 0); err != nil {
		return fmt.Errorf("failed to write cache entry %s: %w", key, err)
	}

	return nil
}

// Get retrieves a payload by key into dest. Returns (false, nil) on a miss:
// absent key, expired entry, or corrupt entry. Corrupt entries are deleted
// so the next read starts clean; corruption is never surfaced as an error.
func (s *CacheStore) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := s.redis.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}

	var env cacheEnvelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		s.heal(ctx, key, err)
		return false, nil
	}

	age := s.now().UTC().Sub(env.Timestamp)
	if age > time.Duration(env.TTLMinutes*float64(time.Minute)) {
		s.log.WithFields(map[string]interface{}{
			"key":        key,
			"ageMinutes": int(age.Minutes()),
		}).Debug("cache entry expired")
		return false, nil
	}

	if err := json.Unmarshal(env.Payload, dest); err != nil {
		s.heal(ctx, key, err)
		return false, nil
	}

	return true, nil
}

// heal deletes a corrupt entry so subsequent reads are clean misses
func (s *CacheStore) heal(ctx context.Context, key string, cause error) {
	s.log.WithField("key", key).WithError(cause).Warn("deleting corrupt cache entry")
	if err := s.redis.Del(ctx, key); err != nil {
		s.log.WithField("key", key).WithError(err).Warn("failed to delete corrupt cache entry")
	}
}

// Delete removes one or more keys
func (s *CacheStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.redis.Del(ctx, keys...)
}

// ClearPrefix removes all entries whose key starts with prefix.
// Used to force full re-ingestion of detail records.
func (s *CacheStore) ClearPrefix(ctx context.Context, prefix string) error {
	keys, err := s.redis.Keys(ctx, prefix+"*")
	if err != nil {
		return fmt.Errorf("failed to list cache keys for prefix %s: %w", prefix, err)
	}

	if len(keys) == 0 {
		return nil
	}

	if err := s.redis.Del(ctx, keys...); err != nil {
		return fmt.Errorf("failed to clear cache prefix %s: %w", prefix, err)
	}

	s.log.WithFields(map[string]interface{}{
		"prefix":  prefix,
		"deleted": len(keys),
	}).Info("cleared cache entries")

	return nil
}
