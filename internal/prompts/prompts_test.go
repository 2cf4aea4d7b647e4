package prompts

import (
	"context"
	"io"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/atlassian-mcp/internal/cache"
	"github.com/HendryAvila/atlassian-mcp/internal/contextstore"
)

func newContexts(t *testing.T) *contextstore.Store {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)
	log := logrus.NewEntry(l)

	c := cache.New(cache.Config{MaxSize: 100}, cache.WithLogger(log))
	s := contextstore.New(contextstore.CacheBackend(c), contextstore.Config{}, contextstore.WithLogger(log))
	t.Cleanup(func() {
		s.Close()
		c.Close()
	})
	return s
}

func promptReq(args map[string]string) mcp.GetPromptRequest {
	req := mcp.GetPromptRequest{}
	req.Params.Arguments = args
	return req
}

func promptText(t *testing.T, r *mcp.GetPromptResult) string {
	t.Helper()
	require.Len(t, r.Messages, 1)
	assert.Equal(t, mcp.RoleUser, r.Messages[0].Role)
	tc, ok := r.Messages[0].Content.(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestNextStepsPrompt(t *testing.T) {
	contexts := newContexts(t)
	ctx := context.Background()
	contexts.SetDefaultProject(ctx, "alice", "PROJ")
	contexts.AddRecentIssue(ctx, "alice", "PROJ-7")

	p := NewNextStepsPrompt(contexts, "")
	assert.Equal(t, "atlassian-next-steps", p.Definition().Name)

	r, err := p.Handle(ctx, promptReq(map[string]string{"user_id": "alice"}))
	require.NoError(t, err)
	assert.Equal(t, "Next steps for alice", r.Description)

	text := promptText(t, r)
	assert.Contains(t, text, "Recent issues: PROJ-7")
	assert.Contains(t, text, "Use default project (90%)")
	assert.Contains(t, text, `user_id="alice"`)
}

func TestNextStepsPrompt_DefaultUser(t *testing.T) {
	p := NewNextStepsPrompt(newContexts(t), "svc")
	r, err := p.Handle(context.Background(), promptReq(nil))
	require.NoError(t, err)
	assert.Equal(t, "Next steps for svc", r.Description)
	assert.NotContains(t, promptText(t, r), "The server suggests")

	_, err = NewNextStepsPrompt(newContexts(t), "").Handle(context.Background(), promptReq(nil))
	assert.Error(t, err)
}

func TestTriagePrompt(t *testing.T) {
	contexts := newContexts(t)
	contexts.SetDefaultProject(context.Background(), "alice", "OPS")
	p := NewTriagePrompt(contexts, "alice")

	r, err := p.Handle(context.Background(), promptReq(map[string]string{"project": "PROJ"}))
	require.NoError(t, err)
	assert.Equal(t, "Triage PROJ", r.Description)
	assert.Contains(t, promptText(t, r), "project = PROJ AND resolution = Unresolved")

	r, err = p.Handle(context.Background(), promptReq(nil))
	require.NoError(t, err)
	assert.Equal(t, "Triage OPS", r.Description)

	_, err = NewTriagePrompt(contexts, "").Handle(context.Background(), promptReq(nil))
	assert.Error(t, err)
}
