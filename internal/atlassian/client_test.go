package atlassian

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/atlassian-mcp/internal/cache"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

type recorded struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

// fakeSite serves canned responses per "METHOD path" and records requests.
type fakeSite struct {
	mu       sync.Mutex
	routes   map[string]http.HandlerFunc
	requests []recorded
}

func newFakeSite(t *testing.T) (*fakeSite, *httptest.Server) {
	t.Helper()
	fs := &fakeSite{routes: make(map[string]http.HandlerFunc)}
	srv := httptest.NewServer(http.HandlerFunc(fs.serve))
	t.Cleanup(srv.Close)
	return fs, srv
}

func (f *fakeSite) handle(method, path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = h
}

func (f *fakeSite) json(method, path string, status int, body any) {
	f.handle(method, path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
}

func (f *fakeSite) serve(w http.ResponseWriter, r *http.Request) {
	rec := recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &rec.Body)
	}

	f.mu.Lock()
	f.requests = append(f.requests, rec)
	h, ok := f.routes[r.Method+" "+r.URL.Path]
	f.mu.Unlock()

	if !ok {
		http.Error(w, `{"errorMessages":["no route"]}`, http.StatusNotFound)
		return
	}
	h(w, r)
}

func (f *fakeSite) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (f *fakeSite) last(method, path string) recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if r := f.requests[i]; r.Method == method && r.Path == path {
			return r
		}
	}
	return recorded{}
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestClient(t *testing.T, srv *httptest.Server) (*Client, *cache.Store) {
	t.Helper()
	store := cache.New(cache.Config{MaxSize: 100}, cache.WithLogger(quietLogger()))
	t.Cleanup(store.Close)

	c, err := New(Config{
		BaseURL:    srv.URL + "/",
		Email:      "bot@example.com",
		APIToken:   "secret",
		MaxRetries: 2,
	}, store, WithLogger(quietLogger()), WithRetryDelays(time.Millisecond, 5*time.Millisecond))
	require.NoError(t, err)
	return c, store
}

var bg = context.Background()

// ─── Construction ───────────────────────────────────────────────────────────

func TestNew_RejectsRelativeURL(t *testing.T) {
	_, err := New(Config{BaseURL: "example.atlassian.net"}, nil)
	assert.Error(t, err)
}

func TestClient_BaseAndBrowseURL(t *testing.T) {
	c, err := New(Config{BaseURL: "https://acme.atlassian.net/"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://acme.atlassian.net", c.BaseURL())
	assert.Equal(t, "https://acme.atlassian.net/browse/OPS-1", c.BrowseURL("OPS-1"))
}

// ─── Transport ──────────────────────────────────────────────────────────────

func TestDo_SendsAuthAndHeaders(t *testing.T) {
	fs, srv := newFakeSite(t)
	var gotUser, gotPass, gotUA, gotAccept string
	fs.handle("GET", "/rest/api/3/myself", func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		_, _ = w.Write([]byte(`{"accountId":"1","displayName":"Bot"}`))
	})
	c, _ := newTestClient(t, srv)

	me, err := c.Myself(bg)
	require.NoError(t, err)
	assert.Equal(t, "Bot", me.DisplayName)
	assert.Equal(t, "bot@example.com", gotUser)
	assert.Equal(t, "secret", gotPass)
	assert.Equal(t, userAgent, gotUA)
	assert.Equal(t, "application/json", gotAccept)
}

func TestDo_RetriesOn429(t *testing.T) {
	fs, srv := newFakeSite(t)
	var calls atomic.Int32
	fs.handle("GET", "/rest/api/3/project", func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"1","key":"OPS","name":"Operations"}]`))
	})
	c, _ := newTestClient(t, srv)

	projects, err := c.Projects(bg)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "OPS", projects[0].Key)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	fs, srv := newFakeSite(t)
	fs.handle("GET", "/rest/api/3/project", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c, _ := newTestClient(t, srv)

	_, err := c.Projects(bg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, 3, fs.count("GET", "/rest/api/3/project"))
}

func TestDo_StatusErrors(t *testing.T) {
	tests := []struct {
		status   int
		body     string
		sentinel error
		message  string
	}{
		{http.StatusUnauthorized, `{"message":"Client must be authenticated"}`, ErrUnauthorized, "Client must be authenticated"},
		{http.StatusForbidden, ``, ErrForbidden, ""},
		{http.StatusNotFound, `{"errorMessages":["Issue does not exist"]}`, ErrNotFound, "Issue does not exist"},
		{http.StatusBadRequest, `{"errors":{"summary":"required"}}`, nil, "summary: required"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			fs, srv := newFakeSite(t)
			fs.handle("GET", "/rest/api/3/issue/OPS-1", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			c, _ := newTestClient(t, srv)

			_, err := c.Issue(bg, "OPS-1", "")
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			if tt.sentinel != nil {
				assert.True(t, errors.Is(err, tt.sentinel))
			}
			if tt.message != "" {
				assert.Contains(t, err.Error(), tt.message)
			}
		})
	}
}

// ─── Caching ────────────────────────────────────────────────────────────────

func TestGet_CachesResponses(t *testing.T) {
	fs, srv := newFakeSite(t)
	fs.json("GET", "/rest/api/3/project", 200, []Project{{ID: "1", Key: "OPS"}})
	c, store := newTestClient(t, srv)

	for i := 0; i < 3; i++ {
		_, err := c.Projects(bg)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, fs.count("GET", "/rest/api/3/project"))
	assert.Contains(t, store.Keys(), "jira:project:/rest/api/3/project")
	assert.Equal(t, 1, store.Tags()["jira"])
	assert.Equal(t, 1, store.Tags()[Tag])
}

func TestGet_HealthCheckIsNeverCached(t *testing.T) {
	fs, srv := newFakeSite(t)
	fs.json("GET", "/rest/api/3/myself", 200, User{AccountID: "1", DisplayName: "Bot"})
	c, store := newTestClient(t, srv)

	h1 := c.HealthCheck(bg)
	h2 := c.HealthCheck(bg)

	assert.Equal(t, "healthy", h1.Status)
	assert.Equal(t, "Bot", h2.User)
	assert.Equal(t, 2, fs.count("GET", "/rest/api/3/myself"))
	assert.Equal(t, 0, store.Len())
}

func TestHealthCheck_Unhealthy(t *testing.T) {
	fs, srv := newFakeSite(t)
	fs.json("GET", "/rest/api/3/myself", 401, map[string]string{"message": "nope"})
	c, _ := newTestClient(t, srv)

	h := c.HealthCheck(bg)
	assert.Equal(t, "unhealthy", h.Status)
	assert.NotEmpty(t, h.Error)
}

func TestSend_InvalidatesFamily(t *testing.T) {
	fs, srv := newFakeSite(t)
	fs.json("GET", "/rest/api/3/issue/OPS-1", 200, Issue{Key: "OPS-1", Fields: IssueFields{Summary: "old"}})
	fs.json("GET", "/rest/api/3/project", 200, []Project{{Key: "OPS"}})
	fs.json("GET", "/rest/api/space", 200, map[string]any{"results": []Space{{Key: "DOCS"}}})
	fs.handle("PUT", "/rest/api/3/issue/OPS-1", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c, _ := newTestClient(t, srv)

	_, err := c.Issue(bg, "OPS-1", "")
	require.NoError(t, err)
	_, err = c.Projects(bg)
	require.NoError(t, err)
	_, err = c.ListSpaces(bg, SpaceQuery{})
	require.NoError(t, err)

	require.NoError(t, c.UpdateIssue(bg, "OPS-1", IssueUpdate{Summary: "new"}))

	_, err = c.Issue(bg, "OPS-1", "")
	require.NoError(t, err)
	_, err = c.Projects(bg)
	require.NoError(t, err)
	_, err = c.ListSpaces(bg, SpaceQuery{})
	require.NoError(t, err)

	assert.Equal(t, 2, fs.count("GET", "/rest/api/3/issue/OPS-1"))
	assert.Equal(t, 2, fs.count("GET", "/rest/api/3/project"), "jira namespace is flushed")
	assert.Equal(t, 1, fs.count("GET", "/rest/api/space"), "confluence stays cached")
}

func TestSend_FailureKeepsCache(t *testing.T) {
	fs, srv := newFakeSite(t)
	fs.json("GET", "/rest/api/3/issue/OPS-1", 200, Issue{Key: "OPS-1"})
	fs.json("PUT", "/rest/api/3/issue/OPS-1", 400, map[string]any{"errors": map[string]string{"summary": "too long"}})
	c, _ := newTestClient(t, srv)

	_, err := c.Issue(bg, "OPS-1", "")
	require.NoError(t, err)
	assert.Error(t, c.UpdateIssue(bg, "OPS-1", IssueUpdate{Summary: "x"}))
	_, err = c.Issue(bg, "OPS-1", "")
	require.NoError(t, err)

	assert.Equal(t, 1, fs.count("GET", "/rest/api/3/issue/OPS-1"))
}

func TestTag_CoversEveryResponse(t *testing.T) {
	fs, srv := newFakeSite(t)
	fs.json("GET", "/rest/api/3/project", 200, []Project{{Key: "OPS"}})
	c, store := newTestClient(t, srv)
	store.SetWithTags("context:user:alice", []byte("{}"), time.Hour, "context")

	_, err := c.Projects(bg)
	require.NoError(t, err)

	assert.Equal(t, 1, store.InvalidateByTag(Tag))
	assert.Equal(t, 1, store.Len())
}

func TestNilCache(t *testing.T) {
	fs, srv := newFakeSite(t)
	fs.json("GET", "/rest/api/3/project", 200, []Project{{Key: "OPS"}})
	c, err := New(Config{BaseURL: srv.URL}, nil, WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = c.Projects(bg)
	require.NoError(t, err)
	_, err = c.Projects(bg)
	require.NoError(t, err)

	assert.Equal(t, 2, fs.count("GET", "/rest/api/3/project"))
}

func TestWarmEntries_PrimeClientCache(t *testing.T) {
	fs, srv := newFakeSite(t)
	fs.json("GET", "/rest/api/3/project", 200, []Project{{Key: "OPS"}})
	fs.json("GET", "/rest/api/space", 200, map[string]any{"results": []Space{{Key: "DOCS"}}})
	c, store := newTestClient(t, srv)

	res := store.Warm(bg, c.WarmEntries())
	assert.Equal(t, cache.WarmResult{Loaded: 2}, res)

	projects, err := c.Projects(bg)
	require.NoError(t, err)
	spaces, err := c.ListSpaces(bg, SpaceQuery{})
	require.NoError(t, err)

	assert.Equal(t, "OPS", projects[0].Key)
	assert.Equal(t, "DOCS", spaces[0].Key)
	assert.Equal(t, 1, fs.count("GET", "/rest/api/3/project"))
	assert.Equal(t, 1, fs.count("GET", "/rest/api/space"))
}

type countingObserver struct {
	mu       sync.Mutex
	statuses []int
}

func (o *countingObserver) ObserveRequest(_, _ string, status int, _ time.Duration) {
	o.mu.Lock()
	o.statuses = append(o.statuses, status)
	o.mu.Unlock()
}

func TestObserver_SeesEveryAttempt(t *testing.T) {
	fs, srv := newFakeSite(t)
	var calls atomic.Int32
	fs.handle("GET", "/rest/api/3/myself", func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})
	obs := &countingObserver{}
	c, err := New(Config{BaseURL: srv.URL, MaxRetries: 1}, nil,
		WithLogger(quietLogger()), WithObserver(obs), WithRetryDelays(time.Millisecond, time.Millisecond))
	require.NoError(t, err)

	_, err = c.Myself(bg)
	require.NoError(t, err)
	assert.Equal(t, []int{429, 200}, obs.statuses)
}

func TestRequestID_TagsLogLines(t *testing.T) {
	fs, srv := newFakeSite(t)
	fs.json("GET", "/rest/api/3/project", 200, []Project{{Key: "OPS"}})

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	store := cache.New(cache.Config{MaxSize: 10}, cache.WithLogger(quietLogger()))
	t.Cleanup(store.Close)
	c, err := New(Config{BaseURL: srv.URL}, store, WithLogger(logrus.NewEntry(logger)))
	require.NoError(t, err)

	ctx := WithRequestID(bg, "req-1")
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Empty(t, RequestID(bg))

	_, err = c.Projects(ctx)
	require.NoError(t, err)
	_, err = c.Projects(ctx)
	require.NoError(t, err)

	entries := hook.AllEntries()
	require.Len(t, entries, 2, "one request line, one cache hit line")
	for _, e := range entries {
		assert.Equal(t, "req-1", e.Data["request_id"], e.Message)
	}

	hook.Reset()
	_, err = c.Projects(bg)
	require.NoError(t, err)
	require.Len(t, hook.AllEntries(), 1)
	assert.NotContains(t, hook.LastEntry().Data, "request_id")
}
