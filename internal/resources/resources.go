// Package resources implements MCP resource handlers for the Atlassian
// server.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (atlassian://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/atlassian-mcp/internal/cache"
	"github.com/HendryAvila/atlassian-mcp/internal/contextstore"
	"github.com/HendryAvila/atlassian-mcp/internal/memory"
)

// StatsURI addresses the server statistics resource.
const StatsURI = "atlassian://stats"

// CacheInfo is satisfied by *cache.Store.
type CacheInfo interface {
	Stats() cache.Stats
	Tags() map[string]int
	MaxSize() int
}

// ContextInfo is satisfied by *contextstore.Store.
type ContextInfo interface {
	Stats() contextstore.Stats
}

// SnapshotInfo is satisfied by *memory.Store.
type SnapshotInfo interface {
	Stats(ctx context.Context) (memory.Stats, error)
}

// Handler manages the server's resource endpoints.
type Handler struct {
	cache     CacheInfo
	contexts  ContextInfo
	snapshots SnapshotInfo
	started   time.Time
	now       func() time.Time
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(c CacheInfo, contexts ContextInfo, started time.Time) *Handler {
	return &Handler{cache: c, contexts: contexts, started: started, now: time.Now}
}

// WithSnapshots includes the snapshot table in the stats resource.
func (h *Handler) WithSnapshots(s SnapshotInfo) *Handler {
	h.snapshots = s
	return h
}

// Snapshot is the JSON body of the stats resource. Snapshots is only set
// when context snapshots have their own table.
type Snapshot struct {
	UptimeSeconds int64              `json:"uptime_seconds"`
	Cache         CacheSnapshot      `json:"cache"`
	Contexts      contextstore.Stats `json:"contexts"`
	Snapshots     *memory.Stats      `json:"snapshots,omitempty"`
}

// CacheSnapshot extends cache.Stats with capacity and tag counts.
type CacheSnapshot struct {
	cache.Stats
	MaxSize int            `json:"max_size"`
	Tags    map[string]int `json:"tags"`
}

// StatsResource returns the MCP resource definition for server statistics.
func (h *Handler) StatsResource() mcp.Resource {
	return mcp.NewResource(
		StatsURI,
		"Atlassian MCP Statistics",
		mcp.WithResourceDescription("Response cache and user context statistics"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleStats returns the current statistics as JSON.
func (h *Handler) HandleStats(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	snap := Snapshot{
		UptimeSeconds: int64(h.now().Sub(h.started).Seconds()),
		Cache: CacheSnapshot{
			Stats:   h.cache.Stats(),
			MaxSize: h.cache.MaxSize(),
			Tags:    h.cache.Tags(),
		},
		Contexts: h.contexts.Stats(),
	}
	if h.snapshots != nil {
		ss, err := h.snapshots.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading snapshot stats: %w", err)
		}
		snap.Snapshots = &ss
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling stats: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
