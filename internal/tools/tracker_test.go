package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/atlassian-mcp/internal/atlassian"
	"github.com/HendryAvila/atlassian-mcp/internal/contextstore"
)

type observedCall struct {
	tool    string
	success bool
}

type fakeToolObserver struct{ calls []observedCall }

func (f *fakeToolObserver) ObserveTool(tool string, success bool, _ time.Duration) {
	f.calls = append(f.calls, observedCall{tool, success})
}

func okHandler(text string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(text), nil
	}
}

func newTestTracker(contexts *contextstore.Store, defaultUser string, obs ToolObserver) *Tracker {
	return NewTracker(contexts, defaultUser, WithTrackerLogger(quietLogger()), WithToolObserver(obs))
}

func TestTracker_RecordsHistoryForNamedUser(t *testing.T) {
	contexts := newContexts(t)
	obs := &fakeToolObserver{}
	tr := newTestTracker(contexts, "", obs)

	var seen string
	h := tr.Track("get_jira_issue", func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		seen = UserFrom(ctx)
		return mcp.NewToolResultText("ok"), nil
	})

	_, err := h(context.Background(), makeReq(map[string]interface{}{"user_id": "alice"}))
	require.NoError(t, err)

	assert.Equal(t, "alice", seen)
	history := contexts.ToolHistory("alice")
	require.Len(t, history, 1)
	assert.Equal(t, "get_jira_issue", contextstore.EntryTool(history[0]))
	assert.Contains(t, history[0], ":success:")
	assert.Equal(t, []observedCall{{"get_jira_issue", true}}, obs.calls)
}

func TestTracker_RecordsFailures(t *testing.T) {
	contexts := newContexts(t)
	obs := &fakeToolObserver{}
	tr := newTestTracker(contexts, "svc", obs)

	failing := tr.Track("create_jira_issue", func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("nope"), nil
	})
	r, err := failing(context.Background(), makeReq(nil))
	require.NoError(t, err)
	assert.Len(t, r.Content, 1, "no hints on failures")

	broken := tr.Track("get_jira_issue", func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return nil, errors.New("boom")
	})
	_, err = broken(context.Background(), makeReq(nil))
	require.Error(t, err)

	history := contexts.ToolHistory("svc")
	require.Len(t, history, 2)
	assert.Contains(t, history[0], ":failure:")
	assert.Contains(t, history[1], ":failure:")
	assert.Equal(t, []observedCall{{"create_jira_issue", false}, {"get_jira_issue", false}}, obs.calls)
}

func TestTracker_AnonymousCallsAreNotTracked(t *testing.T) {
	contexts := newContexts(t)
	obs := &fakeToolObserver{}
	tr := newTestTracker(contexts, "", obs)

	r, err := tr.Track("create_jira_issue", okHandler("done"))(context.Background(), makeReq(nil))
	require.NoError(t, err)

	assert.Len(t, r.Content, 1)
	assert.Equal(t, 0, contexts.Stats().ActiveUsers)
	assert.Len(t, obs.calls, 1, "metrics still see anonymous calls")
}

func TestTracker_AppendsHints(t *testing.T) {
	contexts := newContexts(t)
	ctx := asUser("alice")
	contexts.SetDefaultProject(ctx, "alice", "PROJ")
	tr := newTestTracker(contexts, "alice", nil)

	r, err := tr.Track("create_jira_issue", okHandler("## Issue Created"))(context.Background(), makeReq(nil))
	require.NoError(t, err)
	require.Len(t, r.Content, 2)

	assert.Equal(t, "## Issue Created", resultText(r))
	hints := allText(r)
	assert.Contains(t, hints, "**Suggestions**")
	assert.Contains(t, hints, "Use default project (90%)")
	assert.Contains(t, hints, "Add a comment (70%)")
	assert.Contains(t, hints, "**Related actions:** comment_jira_issue, transition_jira_issue, search_jira_issues")
}

func TestTracker_KeepsTopThreeSuggestions(t *testing.T) {
	contexts := newContexts(t)
	ctx := asUser("alice")
	contexts.SetDefaultProject(ctx, "alice", "PROJ")
	contexts.AddRecentIssue(ctx, "alice", "PROJ-1")
	tr := newTestTracker(contexts, "alice", nil)

	r, err := tr.Track("create_jira_issue", okHandler("ok"))(context.Background(), makeReq(nil))
	require.NoError(t, err)

	// default project 0.9, recent issues 0.8, comment 0.7, documentation 0.6
	hints := allText(r)
	assert.Contains(t, hints, "Use default project")
	assert.Contains(t, hints, "Recent issues")
	assert.Contains(t, hints, "Add a comment")
	assert.NotContains(t, hints, "Create documentation")
}

func TestTracker_HintlessTools(t *testing.T) {
	contexts := newContexts(t)
	contexts.SetDefaultProject(asUser("alice"), "alice", "PROJ")
	tr := newTestTracker(contexts, "alice", nil)

	r, err := tr.Track("get_user_context", okHandler("ctx"))(context.Background(), makeReq(nil))
	require.NoError(t, err)
	assert.Len(t, r.Content, 1)
	assert.Len(t, contexts.ToolHistory("alice"), 1, "still recorded")
}

func TestTracker_NoHintsWhenNothingToSay(t *testing.T) {
	tr := newTestTracker(newContexts(t), "alice", nil)

	r, err := tr.Track("list_confluence_spaces", okHandler("spaces"))(context.Background(), makeReq(nil))
	require.NoError(t, err)
	assert.Len(t, r.Content, 1)
}

func TestTracker_UserArgumentOverridesDefault(t *testing.T) {
	contexts := newContexts(t)
	tr := newTestTracker(contexts, "svc", nil)

	_, err := tr.Track("list_jira_projects", okHandler("x"))(context.Background(), makeReq(map[string]interface{}{"user_id": "bob"}))
	require.NoError(t, err)
	assert.Len(t, contexts.ToolHistory("bob"), 1)
	assert.Empty(t, contexts.ToolHistory("svc"))
}

func TestTracker_RequestIDReachesHandlerAndLog(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tr := NewTracker(newContexts(t), "alice", WithTrackerLogger(logrus.NewEntry(logger)))

	var seen []string
	h := tr.Track("get_jira_issue", func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		seen = append(seen, atlassian.RequestID(ctx))
		return mcp.NewToolResultText("ok"), nil
	})

	for i := 0; i < 2; i++ {
		_, err := h(context.Background(), makeReq(nil))
		require.NoError(t, err)
	}

	require.Len(t, seen, 2)
	_, err := uuid.Parse(seen[0])
	require.NoError(t, err)
	assert.NotEqual(t, seen[0], seen[1], "one id per call")

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, seen[0], entries[0].Data["request_id"])
	assert.Equal(t, seen[1], entries[1].Data["request_id"])
}
