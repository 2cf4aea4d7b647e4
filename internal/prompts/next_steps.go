// Package prompts implements MCP prompt handlers for the Atlassian server.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/atlassian-mcp/internal/contextstore"
)

// userArg resolves the user_id argument, falling back to defaultUser.
func userArg(req mcp.GetPromptRequest, defaultUser string) string {
	if args := req.Params.Arguments; args != nil {
		if u, ok := args["user_id"]; ok && u != "" {
			return u
		}
	}
	return defaultUser
}

// NextStepsPrompt handles the atlassian-next-steps MCP prompt.
// It hands the AI the caller's current suggestions and asks it to act on
// the most useful one.
type NextStepsPrompt struct {
	contexts    *contextstore.Store
	defaultUser string
}

// NewNextStepsPrompt creates a NextStepsPrompt.
func NewNextStepsPrompt(contexts *contextstore.Store, defaultUser string) *NextStepsPrompt {
	return &NextStepsPrompt{contexts: contexts, defaultUser: defaultUser}
}

// Definition returns the MCP prompt definition for registration.
func (p *NextStepsPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("atlassian-next-steps",
		mcp.WithPromptDescription(
			"Pick up where you left off in Jira and Confluence. "+
				"Reviews your recent issues, pages and tool history and proposes what to do next.",
		),
		mcp.WithArgument("user_id",
			mcp.ArgumentDescription("Whose context to use. Defaults to the server's configured user."),
		),
	)
}

// Handle processes the atlassian-next-steps prompt request.
func (p *NextStepsPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	user := userArg(req, p.defaultUser)
	if user == "" {
		return nil, fmt.Errorf("user_id is required: no default user is configured")
	}

	uc := p.contexts.Context(ctx, user)
	suggestions := p.contexts.Suggestions(ctx, user, "")

	var sb strings.Builder
	fmt.Fprintf(&sb, "I'm %s and I want to continue my Atlassian work.\n\n", user)

	prefs := uc.Preferences
	if len(prefs.RecentIssues) > 0 {
		fmt.Fprintf(&sb, "Recent issues: %s\n", strings.Join(prefs.RecentIssues, ", "))
	}
	if len(prefs.RecentPages) > 0 {
		fmt.Fprintf(&sb, "Recent pages: %s\n", strings.Join(prefs.RecentPages, ", "))
	}
	if len(suggestions) > 0 {
		sb.WriteString("\nThe server suggests:\n")
		for _, s := range suggestions {
			fmt.Fprintf(&sb, "- %s (%.0f%%): %s\n", s.Title, s.Confidence*100, s.Description)
		}
	}

	sb.WriteString("\nPlease:\n" +
		"1. Run `get_user_context` to see my defaults and favorites\n" +
		"2. Check the state of my recent issues with `get_jira_issue`\n" +
		"3. Tell me which suggestion is worth doing first and why\n" +
		"4. Ask before changing anything in Jira or Confluence",
	)
	fmt.Fprintf(&sb, "\n\nPass user_id=%q to every tool.", user)

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Next steps for %s", user),
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.NewTextContent(sb.String()),
			},
		},
	}, nil
}
