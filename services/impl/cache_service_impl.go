package impl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/contextframe/contextframe-go/capabilities"
	"github.com/contextframe/contextframe-go/config"
	"github.com/contextframe/contextframe-go/services"
)

const (
	// cacheKeyPrefix namespaces every engine cache entry in Redis.
	cacheKeyPrefix = "contextframe"

	// defaultCacheTTL bounds how long a search result stays cached.
	defaultCacheTTL = 30 * time.Minute

	// maxCacheTTL is the hard ceiling regardless of caller request.
	maxCacheTTL = 24 * time.Hour
)

// cacheServiceImpl implements CacheService using Redis when reachable and
// an in-memory map otherwise. Entries are keyed by dataset version, so a
// write naturally invalidates without explicit eviction.
type cacheServiceImpl struct {
	memCache map[string]cacheEntry
	mu       sync.RWMutex

	redis *redis.Client

	clock    capabilities.Clock
	enabled  bool
	useRedis bool
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewCacheService connects to Redis from config; when the connection fails
// or cfg is nil it degrades to the in-memory cache, and a disabled config
// turns caching off entirely.
func NewCacheService(cfg *config.RedisConfig, clock capabilities.Clock) (services.CacheService, error) {
	if clock == nil {
		clock = capabilities.SystemClock{}
	}
	if cfg == nil || !cfg.EnableCache {
		return &cacheServiceImpl{enabled: false, clock: clock}, nil
	}
	svc := &cacheServiceImpl{
		memCache: make(map[string]cacheEntry),
		clock:    clock,
		enabled:  true,
	}
	if cfg.Host != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err == nil {
			svc.redis = client
			svc.useRedis = true
		}
	}
	return svc, nil
}

// NewCacheServiceWithClient wires an existing Redis client; tests use this
// with miniredis.
func NewCacheServiceWithClient(client *redis.Client, clock capabilities.Clock) services.CacheService {
	if clock == nil {
		clock = capabilities.SystemClock{}
	}
	return &cacheServiceImpl{
		memCache: make(map[string]cacheEntry),
		redis:    client,
		clock:    clock,
		enabled:  true,
		useRedis: client != nil,
	}
}

func (s *cacheServiceImpl) Enabled() bool { return s.enabled }

func (s *cacheServiceImpl) namespaced(key string) string {
	return cacheKeyPrefix + ":" + key
}

func (s *cacheServiceImpl) Get(ctx context.Context, key string, out any) (bool, error) {
	if !s.enabled {
		return false, nil
	}
	if s.useRedis {
		data, err := s.redis.Get(ctx, s.namespaced(key)).Bytes()
		if err == redis.Nil {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("cache get: %w", err)
		}
		return true, json.Unmarshal(data, out)
	}
	s.mu.RLock()
	entry, ok := s.memCache[key]
	s.mu.RUnlock()
	if !ok || s.clock.Now().After(entry.expiresAt) {
		return false, nil
	}
	return true, json.Unmarshal(entry.data, out)
}

func (s *cacheServiceImpl) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !s.enabled {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if ttl > maxCacheTTL {
		ttl = maxCacheTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	if s.useRedis {
		return s.redis.Set(ctx, s.namespaced(key), data, ttl).Err()
	}
	s.mu.Lock()
	s.memCache[key] = cacheEntry{data: data, expiresAt: s.clock.Now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *cacheServiceImpl) Clear(ctx context.Context) (int, error) {
	if !s.enabled {
		return 0, nil
	}
	if s.useRedis {
		var cleared int
		iter := s.redis.Scan(ctx, 0, cacheKeyPrefix+":*", 0).Iterator()
		for iter.Next(ctx) {
			if err := s.redis.Del(ctx, iter.Val()).Err(); err != nil {
				return cleared, fmt.Errorf("cache clear: %w", err)
			}
			cleared++
		}
		if err := iter.Err(); err != nil {
			return cleared, fmt.Errorf("cache clear: %w", err)
		}
		return cleared, nil
	}
	s.mu.Lock()
	cleared := len(s.memCache)
	s.memCache = make(map[string]cacheEntry)
	s.mu.Unlock()
	return cleared, nil
}

// SearchCacheKey derives a stable cache key from the dataset identity, its
// version, and the serialized request. Keying by version makes every write
// an implicit invalidation.
func SearchCacheKey(datasetURI string, version uint64, req any) string {
	payload, _ := json.Marshal(req)
	h := sha256.Sum256(append([]byte(fmt.Sprintf("%s@%d:", datasetURI, version)), payload...))
	return "search:" + hex.EncodeToString(h[:16])
}
