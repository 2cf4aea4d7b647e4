package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/atlassian-mcp/internal/atlassian"
	"github.com/HendryAvila/atlassian-mcp/internal/contextstore"
)

// ─── server_stats ───────────────────────────────────────────────────────────

// StatsTool handles the server_stats MCP tool.
type StatsTool struct {
	cache     CacheAdmin
	contexts  *contextstore.Store
	snapshots SnapshotCounter
	started   time.Time
}

// NewStatsTool creates a StatsTool. started is the server start time.
func NewStatsTool(cache CacheAdmin, contexts *contextstore.Store, started time.Time) *StatsTool {
	return &StatsTool{cache: cache, contexts: contexts, started: started}
}

// WithSnapshots adds the snapshot table to the report.
func (t *StatsTool) WithSnapshots(s SnapshotCounter) *StatsTool {
	t.snapshots = s
	return t
}

// Definition returns the MCP tool definition for registration.
func (t *StatsTool) Definition() mcp.Tool {
	return mcp.NewTool("server_stats",
		mcp.WithDescription("Report response cache and user context statistics."),
		mcp.WithTitleAnnotation("Server statistics"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)
}

// Handle processes the server_stats tool call.
func (t *StatsTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cs := t.cache.Stats()
	us := t.contexts.Stats()

	var sb strings.Builder
	sb.WriteString("# Server Statistics\n\n")
	fmt.Fprintf(&sb, "**Up since:** %s\n\n", humanize.Time(t.started))

	sb.WriteString("## Cache\n\n")
	fmt.Fprintf(&sb, "| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&sb, "| Entries | %s / %s |\n", humanize.Comma(int64(cs.Size)), humanize.Comma(int64(t.cache.MaxSize())))
	fmt.Fprintf(&sb, "| Hits | %s |\n", humanize.Comma(int64(cs.Hits)))
	fmt.Fprintf(&sb, "| Misses | %s |\n", humanize.Comma(int64(cs.Misses)))
	fmt.Fprintf(&sb, "| Hit rate | %.1f%% |\n", cs.HitRate*100)

	if tags := t.cache.Tags(); len(tags) > 0 {
		names := make([]string, 0, len(tags))
		for name := range tags {
			names = append(names, name)
		}
		sort.Strings(names)
		sb.WriteString("\n**Entries by tag:** ")
		for i, name := range names {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%s", name, humanize.Comma(int64(tags[name])))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\n## User Contexts\n\n")
	fmt.Fprintf(&sb, "| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&sb, "| Active users | %s |\n", humanize.Comma(int64(us.ActiveUsers)))
	fmt.Fprintf(&sb, "| Contexts | %s |\n", humanize.Comma(int64(us.TotalContexts)))
	fmt.Fprintf(&sb, "| Tool calls per user today | %.1f |\n", us.AvgToolsPerUser)

	if t.snapshots != nil {
		sb.WriteString("\n## Snapshot Table\n\n")
		ss, err := t.snapshots.Stats(ctx)
		if err != nil {
			fmt.Fprintf(&sb, "Unavailable: %v\n", err)
		} else {
			fmt.Fprintf(&sb, "| Metric | Value |\n|--------|-------|\n")
			fmt.Fprintf(&sb, "| Snapshots | %s |\n", humanize.Comma(int64(ss.Snapshots)))
			fmt.Fprintf(&sb, "| Expired, awaiting purge | %s |\n", humanize.Comma(int64(ss.Expired)))
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// ─── invalidate_cache ───────────────────────────────────────────────────────

// InvalidateCacheTool handles the invalidate_cache MCP tool.
type InvalidateCacheTool struct {
	cache    CacheAdmin
	observer InvalidationObserver
}

// NewInvalidateCacheTool creates an InvalidateCacheTool. observer may be nil.
func NewInvalidateCacheTool(cache CacheAdmin, observer InvalidationObserver) *InvalidateCacheTool {
	return &InvalidateCacheTool{cache: cache, observer: observer}
}

// Definition returns the MCP tool definition for registration.
func (t *InvalidateCacheTool) Definition() mcp.Tool {
	return mcp.NewTool("invalidate_cache",
		mcp.WithDescription(
			"Drop cached Atlassian responses. scope=tag removes entries carrying a tag (jira, confluence); "+
				"scope=pattern removes keys matching a glob where * matches anything; "+
				"scope=hierarchy removes a key and everything under it (e.g. jira:issue); "+
				"scope=all removes every cached Atlassian response.",
		),
		mcp.WithTitleAnnotation("Invalidate cache"),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
		mcp.WithString("scope", mcp.Required(), mcp.Description("What to invalidate"),
			mcp.Enum("tag", "pattern", "hierarchy", "all")),
		mcp.WithString("value", mcp.Description("Tag, glob pattern or base key. Not used with scope=all.")),
	)
}

// Handle processes the invalidate_cache tool call.
func (t *InvalidateCacheTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope := req.GetString("scope", "")
	value := strings.TrimSpace(req.GetString("value", ""))
	err := validation.Errors{
		"scope": validation.Validate(scope, validation.Required, validation.In("tag", "pattern", "hierarchy", "all")),
		"value": validation.Validate(value, validation.When(scope != "all", validation.Required)),
	}.Filter()
	if err != nil {
		return invalidArgs(err), nil
	}

	var removed int
	switch scope {
	case "tag":
		removed = t.cache.InvalidateByTag(value)
	case "pattern":
		removed = t.cache.InvalidatePattern(value)
	case "hierarchy":
		removed = t.cache.InvalidateHierarchy(value)
	case "all":
		value = atlassian.Tag
		removed = t.cache.InvalidateByTag(atlassian.Tag)
	}
	if t.observer != nil {
		t.observer.ObserveInvalidation(scope, removed)
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"## Cache Invalidated\n\n**Scope:** %s\n**Value:** `%s`\n**Removed:** %s entries\n",
		scope, value, humanize.Comma(int64(removed)),
	)), nil
}

// ─── atlassian_health ───────────────────────────────────────────────────────

// HealthTool handles the atlassian_health MCP tool.
type HealthTool struct {
	checker HealthChecker
	baseURL string
}

// NewHealthTool creates a HealthTool.
func NewHealthTool(checker HealthChecker, baseURL string) *HealthTool {
	return &HealthTool{checker: checker, baseURL: baseURL}
}

// Definition returns the MCP tool definition for registration.
func (t *HealthTool) Definition() mcp.Tool {
	return mcp.NewTool("atlassian_health",
		mcp.WithDescription("Check that the Atlassian site is reachable and the credentials work."),
		mcp.WithTitleAnnotation("Atlassian health"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)
}

// Handle processes the atlassian_health tool call.
func (t *HealthTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h := t.checker.HealthCheck(ctx)

	var sb strings.Builder
	sb.WriteString("## Atlassian Health\n\n")
	fmt.Fprintf(&sb, "**Site:** %s\n", t.baseURL)
	fmt.Fprintf(&sb, "**Status:** %s\n", h.Status)
	fmt.Fprintf(&sb, "**Checked:** %s\n", h.Timestamp.Format(time.RFC3339))
	if h.User != "" {
		fmt.Fprintf(&sb, "**Authenticated as:** %s\n", h.User)
	}
	if h.Status != "healthy" {
		fmt.Fprintf(&sb, "**Error:** %s\n", h.Error)
		return mcp.NewToolResultError(sb.String()), nil
	}
	return mcp.NewToolResultText(sb.String()), nil
}
