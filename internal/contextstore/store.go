// Package contextstore keeps per-user preferences, recently touched issues
// and pages, and a short log of executed tools. From that state it derives
// ranked suggestions that accompany every tool result.
//
// The in-memory copy of a user's context is authoritative for the life of
// the process. After every mutation a JSON snapshot is written to a
// DurableStore (normally the response cache) so a context dropped by the
// inactivity cleanup can be restored while its snapshot is still alive.
//
// Nothing in this package returns an error. Context bookkeeping must never
// block the tool call it accompanies, so backend failures are logged and the
// caller gets a default context instead.
package contextstore

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// SnapshotTag marks context snapshots in the cache.
	SnapshotTag = "context"

	keyPrefix = "context:user:"
	maxRecent = 10
)

// SnapshotKey is the durable key for a user's context.
func SnapshotKey(userID string) string {
	return keyPrefix + userID
}

// Preferences is the per-user state the suggestions are built from.
type Preferences struct {
	DefaultProject   string   `json:"default_project,omitempty"`
	DefaultSpace     string   `json:"default_space,omitempty"`
	FavoriteProjects []string `json:"favorite_projects"`
	FavoriteSpaces   []string `json:"favorite_spaces"`
	RecentIssues     []string `json:"recent_issues"`
	RecentPages      []string `json:"recent_pages"`
}

func (p Preferences) clone() Preferences {
	p.FavoriteProjects = cloneList(p.FavoriteProjects)
	p.FavoriteSpaces = cloneList(p.FavoriteSpaces)
	p.RecentIssues = cloneList(p.RecentIssues)
	p.RecentPages = cloneList(p.RecentPages)
	return p
}

// cloneList copies s and never returns nil, so snapshots always encode
// empty lists as [].
func cloneList(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// UserContext is one user's accumulated state.
type UserContext struct {
	Preferences  Preferences `json:"preferences"`
	LastActivity time.Time   `json:"last_activity"`
}

func (c UserContext) clone() UserContext {
	c.Preferences = c.Preferences.clone()
	return c
}

func newUserContext(now time.Time) UserContext {
	return UserContext{Preferences: Preferences{}.clone(), LastActivity: now}
}

// Update is a partial context update. Fields left nil are kept. A non-nil
// Preferences replaces the whole preferences object.
type Update struct {
	Preferences *Preferences
}

// Config controls snapshot lifetime and the inactivity cleanup.
type Config struct {
	SnapshotTTL     time.Duration
	StoreTimeout    time.Duration
	MaxIdle         time.Duration
	CleanupInterval time.Duration
	MaxHistory      int
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		SnapshotTTL:     24 * time.Hour,
		StoreTimeout:    5 * time.Second,
		MaxIdle:         24 * time.Hour,
		CleanupInterval: time.Hour,
		MaxHistory:      50,
	}
}

// Stats summarizes the store.
type Stats struct {
	ActiveUsers     int     `json:"active_users"`
	TotalContexts   int     `json:"total_contexts"`
	AvgToolsPerUser float64 `json:"avg_tools_per_user"`
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the logger for backend failures and cleanup messages.
func WithLogger(l *logrus.Entry) Option {
	return func(s *Store) { s.log = l }
}

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type userEntry struct {
	mu      sync.Mutex
	ctx     UserContext
	loaded  bool
	evicted bool
}

// Store owns every user's context and tool history.
type Store struct {
	backend DurableStore
	cfg     Config
	log     *logrus.Entry
	now     func() time.Time
	history *History

	mu    sync.Mutex
	users map[string]*userEntry

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Store backed by backend. When cfg.CleanupInterval > 0 a
// background loop drops contexts idle for longer than cfg.MaxIdle; Close
// stops it.
func New(backend DurableStore, cfg Config, opts ...Option) *Store {
	def := DefaultConfig()
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = def.SnapshotTTL
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = def.MaxIdle
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = def.MaxHistory
	}

	s := &Store{
		backend: backend,
		cfg:     cfg,
		log:     logrus.NewEntry(logrus.StandardLogger()).WithField("component", "contextstore"),
		now:     time.Now,
		users:   make(map[string]*userEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.history = NewHistory(cfg.MaxHistory)

	if cfg.CleanupInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.done = make(chan struct{})
		go s.cleanupLoop(ctx, cfg.CleanupInterval)
	}
	return s
}

// Close stops the cleanup loop and drops all in-memory state. Snapshots
// already written stay in the backend until their TTL runs out.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		s.mu.Lock()
		s.users = make(map[string]*userEntry)
		s.mu.Unlock()
		s.history.Reset()
	})
}

func (s *Store) entry(userID string) *userEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.users[userID]
	if !ok {
		e = &userEntry{}
		s.users[userID] = e
	}
	return e
}

// lock returns userID's live entry with its mutex held. An entry that
// CleanupInactive removed while the caller waited for it is skipped.
func (s *Store) lock(userID string) *userEntry {
	for {
		e := s.entry(userID)
		e.mu.Lock()
		if !e.evicted {
			return e
		}
		e.mu.Unlock()
	}
}

// ensureLoaded fills e from the backend or with defaults. Caller holds e.mu.
func (s *Store) ensureLoaded(ctx context.Context, userID string, e *userEntry) {
	if e.loaded {
		return
	}
	uc, ok := s.restore(ctx, userID)
	if !ok {
		uc = newUserContext(s.now())
	}
	e.ctx = uc
	e.loaded = true
}

func (s *Store) restore(ctx context.Context, userID string) (UserContext, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	log := s.log.WithField("user", userID)
	data, ok, err := s.backend.Get(ctx, SnapshotKey(userID))
	if err != nil {
		log.WithError(err).Warn("context restore failed, using defaults")
		return UserContext{}, false
	}
	if !ok {
		return UserContext{}, false
	}

	var uc UserContext
	if err := json.Unmarshal(data, &uc); err != nil {
		log.WithError(err).Warn("context snapshot is corrupt, using defaults")
		return UserContext{}, false
	}
	return uc.clone(), true
}

func (s *Store) persist(ctx context.Context, userID string, uc UserContext) {
	log := s.log.WithField("user", userID)
	data, err := json.Marshal(uc)
	if err != nil {
		log.WithError(err).Warn("context snapshot encode failed")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.backend.Set(ctx, SnapshotKey(userID), data, s.cfg.SnapshotTTL); err != nil {
		log.WithError(err).Warn("context snapshot write failed")
	}
}

// Context returns a copy of the user's context, restoring it from the
// backend or creating it on first use.
func (s *Store) Context(ctx context.Context, userID string) UserContext {
	e := s.lock(userID)
	defer e.mu.Unlock()

	s.ensureLoaded(ctx, userID, e)
	return e.ctx.clone()
}

// Update merges u into the user's context, refreshes LastActivity and
// writes a snapshot.
func (s *Store) Update(ctx context.Context, userID string, u Update) {
	e := s.lock(userID)
	defer e.mu.Unlock()

	s.ensureLoaded(ctx, userID, e)
	s.applyLocked(ctx, userID, e, u)
}

// applyLocked builds the next context from scratch and swaps it in whole,
// so a cancelled write never leaves a half-updated context behind.
func (s *Store) applyLocked(ctx context.Context, userID string, e *userEntry, u Update) {
	next := e.ctx.clone()
	if u.Preferences != nil {
		next.Preferences = u.Preferences.clone()
	}
	next.LastActivity = s.now()
	e.ctx = next
	s.persist(ctx, userID, next)
}

// mutate runs fn on a copy of the preferences and commits it when fn
// reports a change.
func (s *Store) mutate(ctx context.Context, userID string, fn func(p *Preferences) bool) {
	e := s.lock(userID)
	defer e.mu.Unlock()

	s.ensureLoaded(ctx, userID, e)
	prefs := e.ctx.Preferences.clone()
	if !fn(&prefs) {
		return
	}
	s.applyLocked(ctx, userID, e, Update{Preferences: &prefs})
}

// AddRecentIssue moves issueKey to the front of the recent issues.
func (s *Store) AddRecentIssue(ctx context.Context, userID, issueKey string) {
	s.mutate(ctx, userID, func(p *Preferences) bool {
		p.RecentIssues = pushRecent(p.RecentIssues, issueKey)
		return true
	})
}

// AddRecentPage moves pageID to the front of the recent pages.
func (s *Store) AddRecentPage(ctx context.Context, userID, pageID string) {
	s.mutate(ctx, userID, func(p *Preferences) bool {
		p.RecentPages = pushRecent(p.RecentPages, pageID)
		return true
	})
}

// AddFavoriteProject appends projectKey unless it is already a favorite.
func (s *Store) AddFavoriteProject(ctx context.Context, userID, projectKey string) {
	s.mutate(ctx, userID, func(p *Preferences) bool {
		if slices.Contains(p.FavoriteProjects, projectKey) {
			return false
		}
		p.FavoriteProjects = append(p.FavoriteProjects, projectKey)
		return true
	})
}

// AddFavoriteSpace appends spaceKey unless it is already a favorite.
func (s *Store) AddFavoriteSpace(ctx context.Context, userID, spaceKey string) {
	s.mutate(ctx, userID, func(p *Preferences) bool {
		if slices.Contains(p.FavoriteSpaces, spaceKey) {
			return false
		}
		p.FavoriteSpaces = append(p.FavoriteSpaces, spaceKey)
		return true
	})
}

// SetDefaultProject overwrites the default project.
func (s *Store) SetDefaultProject(ctx context.Context, userID, projectKey string) {
	s.mutate(ctx, userID, func(p *Preferences) bool {
		p.DefaultProject = projectKey
		return true
	})
}

// SetDefaultSpace overwrites the default space.
func (s *Store) SetDefaultSpace(ctx context.Context, userID, spaceKey string) {
	s.mutate(ctx, userID, func(p *Preferences) bool {
		p.DefaultSpace = spaceKey
		return true
	})
}

func pushRecent(list []string, item string) []string {
	out := make([]string, 0, maxRecent)
	out = append(out, item)
	for _, v := range list {
		if v == item {
			continue
		}
		if len(out) == maxRecent {
			break
		}
		out = append(out, v)
	}
	return out
}

// RecordToolExecution appends one attempt to today's history for userID.
func (s *Store) RecordToolExecution(userID, toolName string, success bool) {
	s.history.Record(userID, toolName, success, s.now())
}

// ToolHistory returns today's history for userID, oldest first.
func (s *Store) ToolHistory(userID string) []string {
	return s.history.Day(userID, s.now())
}

// CleanupInactive drops in-memory contexts whose last activity is older
// than maxAge, and history from previous days. Snapshots in the backend
// are left to expire on their own. Returns the number of contexts removed.
func (s *Store) CleanupInactive(maxAge time.Duration) int {
	now := s.now()
	cutoff := now.Add(-maxAge)

	s.mu.Lock()
	removed := 0
	for id, e := range s.users {
		// A busy entry is being used right now, so it is not idle.
		if !e.mu.TryLock() {
			continue
		}
		if e.loaded && e.ctx.LastActivity.Before(cutoff) {
			e.evicted = true
			delete(s.users, id)
			removed++
		}
		e.mu.Unlock()
	}
	s.mu.Unlock()

	pruned := s.history.Prune(now)
	s.log.WithFields(logrus.Fields{
		"removed":         removed,
		"history_dropped": pruned,
	}).Info("cleaned up inactive user contexts")
	return removed
}

func (s *Store) cleanupLoop(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanupInactive(s.cfg.MaxIdle)
		}
	}
}

// Stats reports how many contexts are in memory and the average number of
// history entries per active user.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	active := len(s.users)
	s.mu.Unlock()

	st := Stats{ActiveUsers: active, TotalContexts: active}
	if active > 0 {
		st.AvgToolsPerUser = float64(s.history.Total()) / float64(active)
	}
	return st
}
