package resources

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/atlassian-mcp/internal/cache"
	"github.com/HendryAvila/atlassian-mcp/internal/contextstore"
	"github.com/HendryAvila/atlassian-mcp/internal/memory"
)

type fakeContexts struct{ st contextstore.Stats }

func (f fakeContexts) Stats() contextstore.Stats { return f.st }

type fakeSnapshots struct {
	st  memory.Stats
	err error
}

func (f fakeSnapshots) Stats(context.Context) (memory.Stats, error) { return f.st, f.err }

func readStats(t *testing.T, h *Handler) (mcp.TextResourceContents, error) {
	t.Helper()
	req := mcp.ReadResourceRequest{}
	req.Params.URI = StatsURI
	contents, err := h.HandleStats(context.Background(), req)
	if err != nil {
		return mcp.TextResourceContents{}, err
	}
	require.Len(t, contents, 1)
	tc, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	return tc, nil
}

func TestHandleStats(t *testing.T) {
	c := cache.New(cache.Config{MaxSize: 10})
	t.Cleanup(c.Close)
	c.SetWithTags("jira:issue:/a", "x", time.Minute, "atlassian", "jira")
	c.Get("jira:issue:/a")
	c.Get("nope")

	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHandler(c, fakeContexts{contextstore.Stats{ActiveUsers: 2, TotalContexts: 2, AvgToolsPerUser: 1.5}}, started)
	h.now = func() time.Time { return started.Add(90 * time.Second) }

	res := h.StatsResource()
	assert.Equal(t, StatsURI, res.URI)
	assert.Equal(t, "application/json", res.MIMEType)

	req := mcp.ReadResourceRequest{}
	req.Params.URI = StatsURI
	contents, err := h.HandleStats(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, contents, 1)

	tc, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, StatsURI, tc.URI)

	var snap Snapshot
	require.NoError(t, json.Unmarshal([]byte(tc.Text), &snap))
	assert.Equal(t, int64(90), snap.UptimeSeconds)
	assert.Equal(t, 1, snap.Cache.Size)
	assert.Equal(t, 10, snap.Cache.MaxSize)
	assert.InDelta(t, 0.5, snap.Cache.HitRate, 1e-9)
	assert.Equal(t, map[string]int{"atlassian": 1, "jira": 1}, snap.Cache.Tags)
	assert.Equal(t, 2, snap.Contexts.ActiveUsers)

	assert.Contains(t, tc.Text, `"hit_count": 1`)
	assert.Nil(t, snap.Snapshots)
	assert.NotContains(t, tc.Text, `"snapshots"`)
}

func TestHandleStats_Snapshots(t *testing.T) {
	c := cache.New(cache.Config{MaxSize: 10})
	t.Cleanup(c.Close)
	contexts := fakeContexts{}

	h := NewHandler(c, contexts, time.Now()).WithSnapshots(fakeSnapshots{st: memory.Stats{Snapshots: 4, Expired: 1}})
	tc, err := readStats(t, h)
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal([]byte(tc.Text), &snap))
	require.NotNil(t, snap.Snapshots)
	assert.Equal(t, memory.Stats{Snapshots: 4, Expired: 1}, *snap.Snapshots)

	h = NewHandler(c, contexts, time.Now()).WithSnapshots(fakeSnapshots{err: errors.New("database is closed")})
	_, err = readStats(t, h)
	assert.ErrorContains(t, err, "database is closed")
}
