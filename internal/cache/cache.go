// Package cache implements the in-process response cache used by the
// Atlassian client and the user context store.
//
// Entries carry their own TTL and are dropped lazily on read and by a
// background sweep. The store is bounded: once MaxSize entries are held,
// each new key evicts the oldest entry first. Keys can be invalidated one
// by one, by glob pattern, by colon-delimited namespace or by tag.
package cache

import (
	"container/list"
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Policy selects which entry is evicted when the store is full.
type Policy int

const (
	// InsertionOrder evicts the entry that was written least recently.
	// Reads do not change the order.
	InsertionOrder Policy = iota
	// AccessOrder evicts the entry that was written or read least
	// recently (classic LRU).
	AccessOrder
)

// String returns the config name of the policy.
func (p Policy) String() string {
	if p == AccessOrder {
		return "access"
	}
	return "insertion"
}

// ParsePolicy maps a config value to a Policy. Unknown values fall back
// to InsertionOrder.
func ParsePolicy(s string) Policy {
	if strings.EqualFold(strings.TrimSpace(s), "access") {
		return AccessOrder
	}
	return InsertionOrder
}

// Config holds cache sizing and timing.
type Config struct {
	MaxSize       int
	SweepInterval time.Duration
	DefaultTTL    time.Duration
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		MaxSize:       10000,
		SweepInterval: time.Minute,
		DefaultTTL:    5 * time.Minute,
	}
}

const defaultProducerTimeout = 30 * time.Second

// Producer computes a value on a cache miss.
type Producer func(ctx context.Context) (any, error)

// WarmEntry describes one value to preload with Warm.
type WarmEntry struct {
	Key      string
	Producer Producer
	TTL      time.Duration
	Tags     []string
}

// WarmResult reports how a Warm call went.
type WarmResult struct {
	Loaded int `json:"loaded"`
	Failed int `json:"failed"`
}

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	Size    int     `json:"size"`
	Hits    uint64  `json:"hit_count"`
	Misses  uint64  `json:"miss_count"`
	HitRate float64 `json:"hit_rate"`
}

type entry struct {
	key      string
	value    any
	storedAt time.Time
	ttl      time.Duration
}

// expired reports whether the entry is past its TTL. An entry stored with
// a zero TTL is expired immediately.
func (e *entry) expired(now time.Time) bool {
	return !now.Before(e.storedAt.Add(e.ttl))
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the logger used for sweep and warm-up messages.
func WithLogger(l *logrus.Entry) Option {
	return func(s *Store) { s.log = l }
}

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithEvictionPolicy selects insertion-order (default) or access-order eviction.
func WithEvictionPolicy(p Policy) Option {
	return func(s *Store) { s.policy = p }
}

// WithProducerTimeout bounds one GetOrSet producer call.
func WithProducerTimeout(d time.Duration) Option {
	return func(s *Store) { s.producerTimeout = d }
}

// WithWarmConcurrency bounds how many producers Warm runs at once.
func WithWarmConcurrency(n int) Option {
	return func(s *Store) { s.warmLimit = n }
}

// Store is a bounded, expiring key/value cache safe for concurrent use.
type Store struct {
	cfg       Config
	policy    Policy
	now       func() time.Time
	log       *logrus.Entry
	warmLimit int

	producerTimeout time.Duration

	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front = next to evict
	tags    map[string]map[string]struct{}
	keyTags map[string]map[string]struct{}
	hits    uint64
	misses  uint64

	flight singleflight.Group

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Store and, when cfg.SweepInterval > 0, starts the
// background sweep. Call Close to stop it.
func New(cfg Config, opts ...Option) *Store {
	def := DefaultConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}

	s := &Store{
		cfg:       cfg,
		now:       time.Now,
		log:       logrus.NewEntry(logrus.StandardLogger()).WithField("component", "cache"),
		warmLimit: 8,

		producerTimeout: defaultProducerTimeout,
		items:     make(map[string]*list.Element),
		order:     list.New(),
		tags:      make(map[string]map[string]struct{}),
		keyTags:   make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.SweepInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.done = make(chan struct{})
		go s.sweepLoop(ctx, cfg.SweepInterval)
	}
	return s
}

// DefaultTTL is the TTL callers should use when they have no better value.
func (s *Store) DefaultTTL() time.Duration {
	return s.cfg.DefaultTTL
}

// MaxSize is the configured capacity.
func (s *Store) MaxSize() int {
	return s.cfg.MaxSize
}

// Get returns the value stored under key. Unknown and expired keys count
// as misses; expired entries are removed on the spot.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		s.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if e.expired(s.now()) {
		s.removeElement(el)
		s.misses++
		return nil, false
	}

	s.hits++
	if s.policy == AccessOrder {
		s.order.MoveToBack(el)
	}
	return e.value, true
}

// Set stores value under key for ttl. Overwriting a key resets its TTL
// baseline and its eviction position, and drops its previous tags.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, value, ttl)
}

// SetWithTags stores value and associates key with every tag.
func (s *Store) SetWithTags(key string, value any, ttl time.Duration, tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setLocked(key, value, ttl)
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		keys, ok := s.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			s.tags[tag] = keys
		}
		keys[key] = struct{}{}

		owned, ok := s.keyTags[key]
		if !ok {
			owned = make(map[string]struct{})
			s.keyTags[key] = owned
		}
		owned[tag] = struct{}{}
	}
}

func (s *Store) setLocked(key string, value any, ttl time.Duration) {
	if el, ok := s.items[key]; ok {
		s.removeElement(el)
	}
	if s.order.Len() >= s.cfg.MaxSize {
		if oldest := s.order.Front(); oldest != nil {
			s.removeElement(oldest)
		}
	}
	if ttl < 0 {
		ttl = 0
	}
	e := &entry{key: key, value: value, storedAt: s.now(), ttl: ttl}
	s.items[key] = s.order.PushBack(e)
}

// Delete removes key. Deleting a missing key is a no-op.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[key]; ok {
		s.removeElement(el)
	}
}

// removeElement drops an entry and its tag memberships. Caller holds mu.
func (s *Store) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	s.order.Remove(el)
	delete(s.items, e.key)

	for tag := range s.keyTags[e.key] {
		if keys, ok := s.tags[tag]; ok {
			delete(keys, e.key)
			if len(keys) == 0 {
				delete(s.tags, tag)
			}
		}
	}
	delete(s.keyTags, e.key)
}

// InvalidatePattern removes every key matching pattern and returns how
// many were removed. '*' matches any run of characters (including none);
// every other character matches itself, and the pattern must cover the
// whole key.
func (s *Store) InvalidatePattern(pattern string) int {
	re := compileGlob(pattern)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, el := range s.items {
		if re.MatchString(key) {
			s.removeElement(el)
			removed++
		}
	}
	return removed
}

// InvalidateHierarchy removes every key under the colon-delimited
// namespace baseKey: keys below it, keys that embed it as a segment run,
// and everything under its first segment.
func (s *Store) InvalidateHierarchy(baseKey string) int {
	first, _, _ := strings.Cut(baseKey, ":")
	removed := 0
	for _, p := range []string{
		baseKey + ":*",
		"*:" + baseKey + ":*",
		first + ":*",
	} {
		removed += s.InvalidatePattern(p)
	}
	return removed
}

// InvalidateByTag removes every key currently tagged with tag, then the
// tag itself. A second call for the same tag is a no-op.
func (s *Store) InvalidateByTag(tag string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, ok := s.tags[tag]
	if !ok {
		return 0
	}
	victims := make([]string, 0, len(keys))
	for k := range keys {
		victims = append(victims, k)
	}

	removed := 0
	for _, k := range victims {
		if el, ok := s.items[k]; ok {
			s.removeElement(el)
			removed++
		}
	}
	delete(s.tags, tag)
	return removed
}

// GetOrSet returns the cached value for key, or runs producer, stores its
// result for ttl and returns it. Concurrent misses on the same key share
// one producer call. Producer errors are returned and nothing is cached.
//
// The shared producer keeps ctx's values but not its cancellation; it is
// bounded by the producer timeout instead. A caller whose ctx ends stops
// waiting without affecting the others.
func (s *Store) GetOrSet(ctx context.Context, key string, producer Producer, ttl time.Duration) (any, error) {
	if v, ok := s.Get(key); ok {
		return v, nil
	}

	ch := s.flight.DoChan(key, func() (any, error) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.producerTimeout)
		defer cancel()

		value, err := producer(pctx)
		if err != nil {
			return nil, err
		}
		s.Set(key, value, ttl)
		return value, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.Val, r.Err
	}
}

// Stats returns the current size and hit/miss counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Size: s.order.Len(), Hits: s.hits, Misses: s.misses}
	if total := s.hits + s.misses; total > 0 {
		st.HitRate = float64(s.hits) / float64(total)
	}
	return st
}

// Len returns the number of stored entries, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Keys returns the stored keys from next-to-evict to most recent.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key)
	}
	return keys
}

// Tags returns the number of keys held by each tag.
func (s *Store) Tags() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int, len(s.tags))
	for tag, keys := range s.tags {
		out[tag] = len(keys)
	}
	return out
}

// Clear drops every entry and tag and resets the counters.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*list.Element)
	s.order.Init()
	s.tags = make(map[string]map[string]struct{})
	s.keyTags = make(map[string]map[string]struct{})
	s.hits, s.misses = 0, 0
}

// Close stops the background sweep and clears the store. Safe to call
// more than once.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		s.Clear()
	})
}

// compileGlob turns a '*' wildcard pattern into an anchored regexp with
// every other character quoted.
func compileGlob(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}
