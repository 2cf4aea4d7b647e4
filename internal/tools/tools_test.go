package tools

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/atlassian-mcp/internal/atlassian"
	"github.com/HendryAvila/atlassian-mcp/internal/cache"
	"github.com/HendryAvila/atlassian-mcp/internal/contextstore"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

// makeReq builds a CallToolRequest with the given arguments.
func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// allText joins every text block of a result.
func allText(r *mcp.CallToolResult) string {
	var out string
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			out += tc.Text + "\n"
		}
	}
	return out
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// newContexts returns a context store backed by an in-memory cache with
// no background goroutines.
func newContexts(t *testing.T) *contextstore.Store {
	t.Helper()
	c := cache.New(cache.Config{MaxSize: 100}, cache.WithLogger(quietLogger()))
	s := contextstore.New(contextstore.CacheBackend(c), contextstore.Config{}, contextstore.WithLogger(quietLogger()))
	t.Cleanup(func() {
		s.Close()
		c.Close()
	})
	return s
}

func asUser(user string) context.Context {
	return WithUser(context.Background(), user)
}

// ─── Fakes ───────────────────────────────────────────────────────────────────

type fakeJira struct {
	mu sync.Mutex

	projects   []atlassian.Project
	issue      atlassian.Issue
	search     atlassian.SearchResult
	transition atlassian.Transition
	err        error
	failKeys   map[string]bool

	created     []atlassian.IssueInput
	updates     map[string]atlassian.IssueUpdate
	comments    map[string]string
	transitions map[string]string
	queries     []atlassian.SearchQuery
}

func newFakeJira() *fakeJira {
	return &fakeJira{
		updates:     make(map[string]atlassian.IssueUpdate),
		comments:    make(map[string]string),
		transitions: make(map[string]string),
		failKeys:    make(map[string]bool),
	}
}

func (f *fakeJira) Projects(context.Context) ([]atlassian.Project, error) {
	return f.projects, f.err
}

func (f *fakeJira) Issue(_ context.Context, key, _ string) (atlassian.Issue, error) {
	if f.err != nil {
		return atlassian.Issue{}, f.err
	}
	is := f.issue
	if is.Key == "" {
		is.Key = key
	}
	return is, nil
}

func (f *fakeJira) CreateIssue(_ context.Context, in atlassian.IssueInput) (atlassian.IssueRef, error) {
	if f.err != nil {
		return atlassian.IssueRef{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	return atlassian.IssueRef{ID: "10001", Key: fmt.Sprintf("%s-%d", in.Project, len(f.created))}, nil
}

func (f *fakeJira) UpdateIssue(_ context.Context, key string, u atlassian.IssueUpdate) error {
	if f.err != nil {
		return f.err
	}
	if f.failKeys[key] {
		return fmt.Errorf("updating %s: %w", key, atlassian.ErrForbidden)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[key] = u
	return nil
}

func (f *fakeJira) TransitionIssue(_ context.Context, key, transition, _ string) (atlassian.Transition, error) {
	if f.err != nil {
		return atlassian.Transition{}, f.err
	}
	f.transitions[key] = transition
	return f.transition, nil
}

func (f *fakeJira) AddComment(_ context.Context, key, text string) (atlassian.Comment, error) {
	if f.err != nil {
		return atlassian.Comment{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[key] = text
	return atlassian.Comment{ID: "c-1"}, nil
}

func (f *fakeJira) SearchIssues(_ context.Context, q atlassian.SearchQuery) (atlassian.SearchResult, error) {
	if f.err != nil {
		return atlassian.SearchResult{}, f.err
	}
	f.queries = append(f.queries, q)
	return f.search, nil
}

func (f *fakeJira) BrowseURL(key string) string {
	return "https://acme.atlassian.net/browse/" + key
}

type fakeConfluence struct {
	spaces   []atlassian.Space
	page     atlassian.Page
	list     atlassian.PageList
	err      error
	created  []atlassian.PageInput
	updated  map[string]atlassian.PageUpdate
	deleted  []string
	comments map[string]string
	searches []atlassian.PageSearch
	children []atlassian.ChildQuery
	spaceQs  []atlassian.SpaceQuery
}

func newFakeConfluence() *fakeConfluence {
	return &fakeConfluence{
		updated:  make(map[string]atlassian.PageUpdate),
		comments: make(map[string]string),
	}
}

func (f *fakeConfluence) ListSpaces(_ context.Context, q atlassian.SpaceQuery) ([]atlassian.Space, error) {
	f.spaceQs = append(f.spaceQs, q)
	return f.spaces, f.err
}

func (f *fakeConfluence) Page(_ context.Context, id, _ string) (atlassian.Page, error) {
	if f.err != nil {
		return atlassian.Page{}, f.err
	}
	p := f.page
	if p.ID == "" {
		p.ID = id
	}
	return p, nil
}

func (f *fakeConfluence) CreatePage(_ context.Context, in atlassian.PageInput) (atlassian.Page, error) {
	if f.err != nil {
		return atlassian.Page{}, f.err
	}
	f.created = append(f.created, in)
	return atlassian.Page{
		ID:    "555",
		Title: in.Title,
		Links: map[string]any{"webui": "/spaces/" + in.Space + "/pages/555"},
	}, nil
}

func (f *fakeConfluence) UpdatePage(_ context.Context, id string, u atlassian.PageUpdate) (atlassian.Page, error) {
	if f.err != nil {
		return atlassian.Page{}, f.err
	}
	f.updated[id] = u
	return atlassian.Page{ID: id, Title: u.Title, Version: &atlassian.Version{Number: 4}}, nil
}

func (f *fakeConfluence) DeletePage(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeConfluence) AddPageComment(_ context.Context, pageID, text string) (atlassian.Page, error) {
	if f.err != nil {
		return atlassian.Page{}, f.err
	}
	f.comments[pageID] = text
	return atlassian.Page{ID: "777", Type: "comment"}, nil
}

func (f *fakeConfluence) SearchPages(_ context.Context, q atlassian.PageSearch) (atlassian.PageList, error) {
	f.searches = append(f.searches, q)
	return f.list, f.err
}

func (f *fakeConfluence) PageChildren(_ context.Context, _ string, q atlassian.ChildQuery) (atlassian.PageList, error) {
	f.children = append(f.children, q)
	return f.list, f.err
}

func (f *fakeConfluence) PageURL(p atlassian.Page) string {
	web, _ := p.Links["webui"].(string)
	if web == "" {
		return ""
	}
	return "https://acme.atlassian.net/wiki" + web
}

// ─── Shared helpers ──────────────────────────────────────────────────────────

func TestUserContextRoundTrip(t *testing.T) {
	assert.Equal(t, "", UserFrom(context.Background()))
	assert.Equal(t, "alice", UserFrom(WithUser(context.Background(), "alice")))
}

func TestStringsArg(t *testing.T) {
	tests := []struct {
		name string
		args map[string]interface{}
		want []string
	}{
		{"missing", map[string]interface{}{}, nil},
		{"null", map[string]interface{}{"labels": nil}, nil},
		{"array", map[string]interface{}{"labels": []interface{}{"a", " b ", "", 3}}, []string{"a", "b"}},
		{"empty array", map[string]interface{}{"labels": []interface{}{}}, []string{}},
		{"csv", map[string]interface{}{"labels": "x, y,,z"}, []string{"x", "y", "z"}},
		{"wrong type", map[string]interface{}{"labels": 12.0}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stringsArg(makeReq(tt.args), "labels"))
		})
	}
}

func TestIntAndBoolArgs(t *testing.T) {
	req := makeReq(map[string]interface{}{"n": 7.0, "b": true, "s": "9"})
	assert.Equal(t, 7, intArg(req, "n", 1))
	assert.Equal(t, 1, intArg(req, "s", 1))
	assert.True(t, boolArg(req, "b", false))
	assert.False(t, boolArg(req, "missing", false))
}

func TestAPIFailure(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", atlassian.ErrUnauthorized), "authentication failed"},
		{fmt.Errorf("x: %w", atlassian.ErrForbidden), "lacks permission"},
		{fmt.Errorf("x: %w", atlassian.ErrNotFound), "does not exist"},
		{fmt.Errorf("x: %w", atlassian.ErrRateLimited), "rate limiting"},
		{context.DeadlineExceeded, "timed out"},
		{fmt.Errorf("boom"), "reading PROJ-1 failed: boom"},
	}
	for _, tt := range tests {
		r := apiFailure("reading PROJ-1", tt.err)
		require.True(t, r.IsError)
		assert.Contains(t, resultText(r), tt.want)
	}
}

func TestRemember_SkipsAnonymousCalls(t *testing.T) {
	contexts := newContexts(t)
	called := false
	remember(context.Background(), contexts, func(string) { called = true })
	assert.False(t, called)

	remember(asUser("bob"), nil, func(string) { called = true })
	assert.False(t, called)

	remember(asUser("bob"), contexts, func(user string) {
		called = true
		assert.Equal(t, "bob", user)
	})
	assert.True(t, called)
}

var (
	_ Jira       = (*fakeJira)(nil)
	_ Confluence = (*fakeConfluence)(nil)
)
