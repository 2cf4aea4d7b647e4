// Package tools implements the MCP tool handlers for Jira, Confluence and
// the per-user context features.
//
// Each tool is a struct that receives its dependencies through its
// constructor and exposes:
//   - Definition() returning the mcp.Tool schema
//   - Handle() processing a CallToolRequest
//
// Tools depend on the small interfaces declared here, not on the concrete
// Atlassian client, so handlers are tested against in-memory fakes.
package tools

import (
	"context"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/HendryAvila/atlassian-mcp/internal/atlassian"
	"github.com/HendryAvila/atlassian-mcp/internal/cache"
	"github.com/HendryAvila/atlassian-mcp/internal/contextstore"
	"github.com/HendryAvila/atlassian-mcp/internal/memory"
)

// ─── Dependencies ───────────────────────────────────────────────────────────

// Jira is the part of *atlassian.Client the Jira tools use.
type Jira interface {
	Projects(ctx context.Context) ([]atlassian.Project, error)
	Issue(ctx context.Context, key, expand string) (atlassian.Issue, error)
	CreateIssue(ctx context.Context, in atlassian.IssueInput) (atlassian.IssueRef, error)
	UpdateIssue(ctx context.Context, key string, u atlassian.IssueUpdate) error
	TransitionIssue(ctx context.Context, key, transition, comment string) (atlassian.Transition, error)
	AddComment(ctx context.Context, key, text string) (atlassian.Comment, error)
	SearchIssues(ctx context.Context, q atlassian.SearchQuery) (atlassian.SearchResult, error)
	BrowseURL(issueKey string) string
}

// Confluence is the part of *atlassian.Client the Confluence tools use.
type Confluence interface {
	ListSpaces(ctx context.Context, q atlassian.SpaceQuery) ([]atlassian.Space, error)
	Page(ctx context.Context, id, expand string) (atlassian.Page, error)
	CreatePage(ctx context.Context, in atlassian.PageInput) (atlassian.Page, error)
	UpdatePage(ctx context.Context, id string, u atlassian.PageUpdate) (atlassian.Page, error)
	DeletePage(ctx context.Context, id string) error
	AddPageComment(ctx context.Context, pageID, text string) (atlassian.Page, error)
	SearchPages(ctx context.Context, q atlassian.PageSearch) (atlassian.PageList, error)
	PageChildren(ctx context.Context, id string, q atlassian.ChildQuery) (atlassian.PageList, error)
	PageURL(p atlassian.Page) string
}

// HealthChecker reports Atlassian connectivity.
type HealthChecker interface {
	HealthCheck(ctx context.Context) atlassian.Health
}

// CacheAdmin is the cache surface used by the stats and invalidation
// tools. Satisfied by *cache.Store.
type CacheAdmin interface {
	Stats() cache.Stats
	Tags() map[string]int
	MaxSize() int
	InvalidateByTag(tag string) int
	InvalidatePattern(pattern string) int
	InvalidateHierarchy(baseKey string) int
}

// ToolObserver receives one call per tool execution.
type ToolObserver interface {
	ObserveTool(tool string, success bool, d time.Duration)
}

// InvalidationObserver is told how many keys an explicit invalidation
// removed.
type InvalidationObserver interface {
	ObserveInvalidation(kind string, removed int)
}

// SnapshotCounter reports the dedicated context snapshot table, when the
// server keeps one.
type SnapshotCounter interface {
	Stats(ctx context.Context) (memory.Stats, error)
}

var (
	_ Jira            = (*atlassian.Client)(nil)
	_ Confluence      = (*atlassian.Client)(nil)
	_ HealthChecker   = (*atlassian.Client)(nil)
	_ CacheAdmin      = (*cache.Store)(nil)
	_ SnapshotCounter = (*memory.Store)(nil)
)

// Tool is implemented by every handler in this package.
type Tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Register adds tools to s, wrapping each handler with the tracker.
func Register(s *server.MCPServer, tr *Tracker, tools ...Tool) {
	for _, t := range tools {
		def := t.Definition()
		s.AddTool(def, tr.Track(def.Name, t.Handle))
	}
}

// ─── Caller identity ────────────────────────────────────────────────────────

type userKey struct{}

// WithUser returns a context carrying the caller's user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFrom returns the user id set by WithUser, or "" for anonymous calls.
func UserFrom(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

// remember runs fn when the call has an identified user and a context
// store is configured. Anonymous calls leave no trace.
func remember(ctx context.Context, contexts *contextstore.Store, fn func(user string)) {
	if contexts == nil {
		return
	}
	if user := UserFrom(ctx); user != "" {
		fn(user)
	}
}

// preferences returns the caller's preferences, or zero values when the
// call is anonymous.
func preferences(ctx context.Context, contexts *contextstore.Store) contextstore.Preferences {
	user := UserFrom(ctx)
	if contexts == nil || user == "" {
		return contextstore.Preferences{}
	}
	return contexts.Context(ctx, user).Preferences
}

// ─── Request helpers ────────────────────────────────────────────────────────

// intArg extracts an integer argument, returning defaultVal if the key is
// missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// boolArg extracts a boolean argument.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// stringsArg extracts a list of strings. Both a JSON array and a
// comma-separated string are accepted. A missing key returns nil; a present
// but empty value returns an empty, non-nil slice.
func stringsArg(req mcp.CallToolRequest, key string) []string {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return nil
	}
	out := []string{}
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case []string:
		for _, s := range v {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	default:
		return nil
	}
	return out
}

// userParam is the optional caller identity accepted by every tool.
func userParam() mcp.ToolOption {
	return mcp.WithString("user_id",
		mcp.Description("Identifier of the person on whose behalf the call is made. "+
			"Used to remember recent items and to rank suggestions. "+
			"Defaults to the server's configured user."),
	)
}

func labelsParam(desc string) mcp.ToolOption {
	return mcp.WithArray("labels",
		mcp.Description(desc),
		mcp.Items(map[string]any{"type": "string"}),
	)
}
