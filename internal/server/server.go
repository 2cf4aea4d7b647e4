// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it creates the concrete cache, context
// store, Atlassian client and metrics, and injects them into the tools,
// prompts and resources that depend on abstractions. No business logic
// lives here, only wiring.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/HendryAvila/atlassian-mcp/internal/atlassian"
	"github.com/HendryAvila/atlassian-mcp/internal/cache"
	"github.com/HendryAvila/atlassian-mcp/internal/config"
	"github.com/HendryAvila/atlassian-mcp/internal/contextstore"
	"github.com/HendryAvila/atlassian-mcp/internal/memory"
	"github.com/HendryAvila/atlassian-mcp/internal/metrics"
	"github.com/HendryAvila/atlassian-mcp/internal/prompts"
	"github.com/HendryAvila/atlassian-mcp/internal/resources"
	"github.com/HendryAvila/atlassian-mcp/internal/tools"
)

// Version is set at build time via ldflags.
var Version = "dev"

const warmTimeout = 30 * time.Second

// Server bundles the MCP server with the metrics it reports into.
type Server struct {
	MCP     *server.MCPServer
	Metrics *metrics.Metrics
}

// New creates and configures the MCP server with all tools, prompts,
// and resources registered. This is the single place where all
// dependencies are resolved.
//
// The returned cleanup function stops background work and closes the
// stores. It is always non-nil and must be called on shutdown.
func New(cfg config.Config, logger *logrus.Logger) (*Server, func(), error) {
	started := time.Now()
	log := func(component string) *logrus.Entry {
		return logger.WithField("component", component)
	}

	// --- Create shared dependencies ---

	responses := cache.New(cache.Config{
		MaxSize:       cfg.Cache.MaxSize,
		SweepInterval: cfg.Cache.SweepInterval,
		DefaultTTL:    cfg.Cache.DefaultTTL,
	},
		cache.WithLogger(log("cache")),
		cache.WithEvictionPolicy(cache.ParsePolicy(cfg.Cache.Eviction)),
	)

	backend, snapshots, closeBackend, err := contextBackend(cfg.Context, responses, log("memory"))
	if err != nil {
		responses.Close()
		return nil, noop, err
	}

	contexts := contextstore.New(backend, contextstore.Config{
		SnapshotTTL:     cfg.Context.TTL,
		MaxIdle:         cfg.Context.MaxIdle,
		CleanupInterval: cfg.Context.CleanupInterval,
	}, contextstore.WithLogger(log("contexts")))

	m := metrics.New()
	m.WatchCache(responses)
	m.WatchContexts(contexts)

	client, err := atlassian.New(atlassian.Config{
		BaseURL:           cfg.Atlassian.BaseURL,
		Email:             cfg.Atlassian.Email,
		APIToken:          cfg.Atlassian.APIToken,
		Timeout:           cfg.Atlassian.Timeout,
		RequestsPerSecond: cfg.Atlassian.RequestsPerSecond,
		MaxRetries:        cfg.Atlassian.MaxRetries,
	}, responses,
		atlassian.WithLogger(log("atlassian")),
		atlassian.WithObserver(m),
	)
	if err != nil {
		contexts.Close()
		closeBackend()
		responses.Close()
		return nil, noop, fmt.Errorf("creating atlassian client: %w", err)
	}

	bg, cancel := context.WithCancel(context.Background())
	cleanup := func() {
		cancel()
		contexts.Close()
		closeBackend()
		responses.Close()
	}

	// --- Create the MCP server ---

	s := server.NewMCPServer(
		"atlassian-mcp",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions(cfg.Context.DefaultUser)),
	)

	// --- Stats surfaces ---

	stats := tools.NewStatsTool(responses, contexts, started)
	resourceHandler := resources.NewHandler(responses, contexts, started)
	if snapshots != nil {
		stats.WithSnapshots(snapshots)
		resourceHandler.WithSnapshots(snapshots)
	}

	// --- Register tools ---
	//
	// Every tool goes through the tracker: it resolves the caller,
	// records history, feeds metrics and appends suggestions.

	tracker := tools.NewTracker(contexts, cfg.Context.DefaultUser,
		tools.WithTrackerLogger(log("tools")),
		tools.WithToolObserver(m),
	)

	tools.Register(s, tracker,
		// Jira
		tools.NewCreateIssueTool(client, contexts),
		tools.NewGetIssueTool(client, contexts),
		tools.NewUpdateIssueTool(client, contexts),
		tools.NewTransitionIssueTool(client, contexts),
		tools.NewCommentIssueTool(client, contexts),
		tools.NewSearchIssuesTool(client, contexts),
		tools.NewListProjectsTool(client, contexts),
		tools.NewBulkUpdateTool(client),

		// Confluence
		tools.NewCreatePageTool(client, contexts),
		tools.NewGetPageTool(client, contexts),
		tools.NewUpdatePageTool(client, contexts),
		tools.NewDeletePageTool(client),
		tools.NewAddPageCommentTool(client, contexts),
		tools.NewListSpacesTool(client),
		tools.NewSearchPagesTool(client),
		tools.NewPageChildrenTool(client),

		// Context
		tools.NewUserContextTool(contexts),
		tools.NewSetPreferencesTool(contexts),
		tools.NewSuggestionsTool(contexts),
		tools.NewAutocompleteTool(contexts),

		// Admin
		stats,
		tools.NewInvalidateCacheTool(responses, m),
		tools.NewHealthTool(client, client.BaseURL()),
	)

	// --- Register prompts ---

	nextSteps := prompts.NewNextStepsPrompt(contexts, cfg.Context.DefaultUser)
	s.AddPrompt(nextSteps.Definition(), nextSteps.Handle)

	triage := prompts.NewTriagePrompt(contexts, cfg.Context.DefaultUser)
	s.AddPrompt(triage.Definition(), triage.Handle)

	// --- Register resources ---

	s.AddResource(resourceHandler.StatsResource(), resourceHandler.HandleStats)

	// --- Background work ---

	if cfg.Server.WarmCache {
		go warm(bg, responses, client.WarmEntries())
	}
	if cfg.Server.StatsInterval > 0 {
		go logStats(bg, log("stats"), cfg.Server.StatsInterval, responses, contexts)
	}

	return &Server{MCP: s, Metrics: m}, cleanup, nil
}

// noop is the cleanup returned when construction fails.
func noop() {}

// contextBackend picks where user context snapshots are kept. The
// snapshot table is nil unless the sqlite backend is selected. The
// returned close function is always non-nil.
func contextBackend(cfg config.ContextConfig, responses *cache.Store, log *logrus.Entry) (contextstore.DurableStore, *memory.Store, func(), error) {
	if cfg.Backend != "sqlite" {
		return contextstore.CacheBackend(responses), nil, noop, nil
	}

	store, err := memory.New()
	if err != nil {
		return nil, nil, noop, fmt.Errorf("opening context database: %w", err)
	}
	log.Info("context snapshots kept in sqlite")

	return store, store, func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("closing context database failed")
		}
	}, nil
}

// warm preloads the reference data most sessions start with. Failures
// are logged by the cache and never block startup.
func warm(ctx context.Context, c *cache.Store, entries []cache.WarmEntry) {
	ctx, cancel := context.WithTimeout(ctx, warmTimeout)
	defer cancel()
	c.Warm(ctx, entries)
}

// logStats periodically logs cache and context statistics until ctx is
// done.
func logStats(ctx context.Context, log *logrus.Entry, every time.Duration, c *cache.Store, contexts *contextstore.Store) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			cs := c.Stats()
			ctxs := contexts.Stats()
			log.WithFields(logrus.Fields{
				"cache_size":      humanize.Comma(int64(cs.Size)),
				"cache_hit_rate":  fmt.Sprintf("%.1f%%", cs.HitRate*100),
				"active_users":    ctxs.ActiveUsers,
				"avg_tools_today": fmt.Sprintf("%.1f", ctxs.AvgToolsPerUser),
			}).Info("stats")
		}
	}
}

func serverInstructions(defaultUser string) string {
	identity := "Pass user_id on every call so the server can remember your defaults and history."
	if defaultUser != "" {
		identity = fmt.Sprintf("Calls without user_id are attributed to %q.", defaultUser)
	}

	return `You have access to an Atlassian MCP server for Jira Cloud and Confluence.

## IDENTITY

` + identity + `

## HOW TO WORK

- Start a session with get_user_context to learn the user's default project and space.
- Jira and Confluence tools fall back to those defaults when project or space is omitted.
- Successful results end with a Suggestions block. Offer the top suggestion to the
  user; do not act on it without asking.
- Prefer search_jira_issues and search_confluence_pages over fetching items one by one.
- Preview bulk_update_issues with dry_run=true before applying it.

## CACHING

Read results are cached briefly. Writes invalidate the affected data automatically.
If the user says something changed outside this session, call invalidate_cache.

## TROUBLESHOOTING

Run atlassian_health when calls fail with authentication or permission errors.
server_stats shows cache effectiveness and how many users are active.`
}
