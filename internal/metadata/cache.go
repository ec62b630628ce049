package metadata

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Yiling-J/theine-go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// entryStore holds resolved metadata keyed by schema and attribute.
type entryStore interface {
	get(key string) (Metadata, bool)
	set(key string, m Metadata)
	reset() error
}

type mapStore struct {
	mu      sync.RWMutex
	entries map[string]Metadata
}

func (s *mapStore) get(key string) (Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.entries[key]
	return m, ok
}

func (s *mapStore) set(key string, m Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = m
}

func (s *mapStore) reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Metadata)
	return nil
}

type theineStore struct {
	mu      sync.RWMutex
	maxSize int64
	cache   *theine.Cache[string, Metadata]
}

func newTheineStore(maxSize int64) (*theineStore, error) {
	c, err := theine.NewBuilder[string, Metadata](maxSize).Build()
	if err != nil {
		return nil, err
	}
	return &theineStore{maxSize: maxSize, cache: c}, nil
}

func (s *theineStore) get(key string) (Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Get(key)
}

func (s *theineStore) set(key string, m Metadata) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.cache.Set(key, m, 1)
}

func (s *theineStore) reset() error {
	c, err := theine.NewBuilder[string, Metadata](s.maxSize).Build()
	if err != nil {
		return err
	}
	s.mu.Lock()
	old := s.cache
	s.cache = c
	s.mu.Unlock()
	old.Close()
	return nil
}

// Cache resolves attribute metadata through a Lookup, fetching each
// schema/attribute pair at most once for as long as the entry is retained.
// It is safe for concurrent use.
type Cache struct {
	lookup       Lookup
	entries      entryStore
	group        singleflight.Group
	fetchTimeout time.Duration
	logger       *zap.Logger
}

// DefaultFetchTimeout bounds a shared fetch once it no longer follows the
// cancellation of the caller that started it.
const DefaultFetchTimeout = time.Minute

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithLogger sets the logger used for fetch diagnostics.
func WithLogger(logger *zap.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithFetchTimeout sets the deadline for a single lookup call.
func WithFetchTimeout(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// NewCache returns an unbounded cache; entries live until Reset. This suits
// a single client session.
func NewCache(lookup Lookup, opts ...CacheOption) *Cache {
	c := &Cache{
		lookup:  lookup,
		entries:      &mapStore{entries: make(map[string]Metadata)},
		fetchTimeout: DefaultFetchTimeout,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewBoundedCache returns a cache that keeps at most maxEntries attributes,
// evicting by frequency and recency. Use it in long-lived processes.
func NewBoundedCache(lookup Lookup, maxEntries int64, opts ...CacheOption) (*Cache, error) {
	store, err := newTheineStore(maxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata cache: %w", err)
	}
	c := NewCache(lookup, opts...)
	c.entries = store
	return c, nil
}

func cacheKey(schema, attribute string) string {
	return schema + "\x00" + attribute
}

// Resolve returns metadata for every distinct attribute, asking the lookup
// only for those not cached yet. Attributes the lookup does not return are
// cached as empty metadata so they are not requested again.
func (c *Cache) Resolve(ctx context.Context, schema string, attributes []string) (map[string]Metadata, error) {
	out := make(map[string]Metadata, len(attributes))
	var missing []string
	for _, a := range attributes {
		if _, seen := out[a]; seen || slices.Contains(missing, a) {
			continue
		}
		if m, ok := c.entries.get(cacheKey(schema, a)); ok {
			out[a] = m
			continue
		}
		missing = append(missing, a)
	}
	if len(missing) == 0 {
		return out, nil
	}

	sorted := slices.Clone(missing)
	slices.Sort(sorted)
	flightKey := schema + "\x00" + strings.Join(sorted, "\x00")

	// The fetch is shared by every caller waiting on flightKey, so it runs
	// detached from the starting caller's cancellation. Each caller still
	// stops waiting when its own ctx is done.
	ch := c.group.DoChan(flightKey, func() (any, error) {
		c.logger.Debug("Fetching attribute metadata",
			zap.String("schema", schema),
			zap.Strings("attributes", sorted))

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		found, err := c.lookup.Lookup(fetchCtx, schema, sorted)
		if err != nil {
			return nil, err
		}
		for _, a := range sorted {
			c.entries.set(cacheKey(schema, a), found[a])
		}
		return found, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to resolve metadata for %s: %w", strings.Join(sorted, ", "), ctx.Err())
	}
	if res.Err != nil {
		return nil, fmt.Errorf("failed to resolve metadata for %s: %w", strings.Join(sorted, ", "), res.Err)
	}
	if res.Shared {
		c.logger.Debug("Shared in-flight metadata fetch", zap.String("schema", schema))
	}
	found := res.Val.(map[string]Metadata)
	for _, a := range missing {
		out[a] = found[a]
	}
	return out, nil
}

// Get resolves a single attribute.
func (c *Cache) Get(ctx context.Context, schema, attribute string) (Metadata, error) {
	all, err := c.Resolve(ctx, schema, []string{attribute})
	if err != nil {
		return Metadata{}, err
	}
	return all[attribute], nil
}

// Reset drops every cached entry.
func (c *Cache) Reset() error {
	return c.entries.reset()
}
