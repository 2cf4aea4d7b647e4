package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/atlassian-mcp/internal/contextstore"
)

// TriagePrompt handles the atlassian-triage MCP prompt.
// It walks the AI through triaging the open backlog of one project.
type TriagePrompt struct {
	contexts    *contextstore.Store
	defaultUser string
}

// NewTriagePrompt creates a TriagePrompt.
func NewTriagePrompt(contexts *contextstore.Store, defaultUser string) *TriagePrompt {
	return &TriagePrompt{contexts: contexts, defaultUser: defaultUser}
}

// Definition returns the MCP prompt definition for registration.
func (p *TriagePrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("atlassian-triage",
		mcp.WithPromptDescription(
			"Triage the unresolved issues of a Jira project: review, prioritize "+
				"and document the outcome in Confluence.",
		),
		mcp.WithArgument("project",
			mcp.ArgumentDescription("Project key. Defaults to your default project."),
		),
		mcp.WithArgument("user_id",
			mcp.ArgumentDescription("Whose defaults to use"),
		),
	)
}

// Handle processes the atlassian-triage prompt request.
func (p *TriagePrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	project := ""
	if args := req.Params.Arguments; args != nil {
		project = args["project"]
	}
	if project == "" {
		if user := userArg(req, p.defaultUser); user != "" {
			project = p.contexts.Context(ctx, user).Preferences.DefaultProject
		}
	}
	if project == "" {
		return nil, fmt.Errorf("project is required: no default project is set")
	}

	jql := fmt.Sprintf("project = %s AND resolution = Unresolved ORDER BY priority DESC, updated ASC", project)

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Triage %s", project),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want to triage the open backlog of %s.\n\n"+
						"Please:\n"+
						"1. Run `search_jira_issues` with jql=%q\n"+
						"2. Group the results by theme and flag anything stale or mis-prioritized\n"+
						"3. Propose priority changes and preview them with `bulk_update_issues` dry_run=true\n"+
						"4. After I confirm, apply them and summarize the session in a Confluence page "+
						"with `create_confluence_page`",
					project, jql,
				)),
			},
		},
	}, nil
}
