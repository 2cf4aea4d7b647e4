package tools

import (
	"context"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/atlassian-mcp/internal/atlassian"
	"github.com/HendryAvila/atlassian-mcp/internal/contextstore"
)

// ─── create_jira_issue ──────────────────────────────────────────────────────

// CreateIssueTool handles the create_jira_issue MCP tool.
type CreateIssueTool struct {
	jira     Jira
	contexts *contextstore.Store
}

// NewCreateIssueTool creates a CreateIssueTool with its dependencies.
func NewCreateIssueTool(jira Jira, contexts *contextstore.Store) *CreateIssueTool {
	return &CreateIssueTool{jira: jira, contexts: contexts}
}

type createIssueArgs struct {
	Project   string `json:"project"`
	Summary   string `json:"summary"`
	IssueType string `json:"issue_type"`
	Priority  string `json:"priority"`
}

func (a createIssueArgs) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Project, validation.Required.Error("is required (or set a default project)"), projectKeyRule),
		validation.Field(&a.Summary, validation.Required, validation.Length(1, 255)),
		validation.Field(&a.IssueType, validation.Length(0, 64)),
		validation.Field(&a.Priority, priorityRule),
	)
}

// Definition returns the MCP tool definition for registration.
func (t *CreateIssueTool) Definition() mcp.Tool {
	return mcp.NewTool("create_jira_issue",
		mcp.WithDescription(
			"Create a Jira issue. When no project is given the caller's default project is used. "+
				"The issue and its project are remembered for later suggestions.",
		),
		mcp.WithTitleAnnotation("Create Jira issue"),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
		mcp.WithString("project", mcp.Description("Project key, e.g. PROJ")),
		mcp.WithString("summary", mcp.Required(), mcp.Description("One-line summary")),
		mcp.WithString("description", mcp.Description("Plain-text description. Blank lines separate paragraphs.")),
		mcp.WithString("issue_type", mcp.Description("Issue type name"), mcp.DefaultString("Task")),
		mcp.WithString("priority", mcp.Description("Priority name"),
			mcp.Enum("Highest", "High", "Medium", "Low", "Lowest")),
		mcp.WithString("assignee", mcp.Description("Assignee account id")),
		labelsParam("Labels to set on the issue"),
		userParam(),
	)
}

// Handle processes the create_jira_issue tool call.
func (t *CreateIssueTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := strings.TrimSpace(req.GetString("project", ""))
	if project == "" {
		project = preferences(ctx, t.contexts).DefaultProject
	}
	args := createIssueArgs{
		Project:   project,
		Summary:   strings.TrimSpace(req.GetString("summary", "")),
		IssueType: req.GetString("issue_type", "Task"),
		Priority:  req.GetString("priority", ""),
	}
	if err := args.Validate(); err != nil {
		return invalidArgs(err), nil
	}

	ref, err := t.jira.CreateIssue(ctx, atlassian.IssueInput{
		Project:     args.Project,
		Summary:     args.Summary,
		Description: req.GetString("description", ""),
		IssueType:   args.IssueType,
		Priority:    args.Priority,
		Assignee:    req.GetString("assignee", ""),
		Labels:      stringsArg(req, "labels"),
	})
	if err != nil {
		return apiFailure("creating issue", err), nil
	}

	remember(ctx, t.contexts, func(user string) {
		t.contexts.AddRecentIssue(ctx, user, ref.Key)
		t.contexts.AddFavoriteProject(ctx, user, args.Project)
	})

	var sb strings.Builder
	sb.WriteString("## Issue Created\n\n")
	fmt.Fprintf(&sb, "**Key:** %s\n", ref.Key)
	fmt.Fprintf(&sb, "**Summary:** %s\n", args.Summary)
	fmt.Fprintf(&sb, "**Project:** %s\n", args.Project)
	fmt.Fprintf(&sb, "**URL:** %s\n", t.jira.BrowseURL(ref.Key))
	return mcp.NewToolResultText(sb.String()), nil
}

// ─── get_jira_issue ─────────────────────────────────────────────────────────

// GetIssueTool handles the get_jira_issue MCP tool.
type GetIssueTool struct {
	jira     Jira
	contexts *contextstore.Store
}

// NewGetIssueTool creates a GetIssueTool with its dependencies.
func NewGetIssueTool(jira Jira, contexts *contextstore.Store) *GetIssueTool {
	return &GetIssueTool{jira: jira, contexts: contexts}
}

// Definition returns the MCP tool definition for registration.
func (t *GetIssueTool) Definition() mcp.Tool {
	return mcp.NewTool("get_jira_issue",
		mcp.WithDescription("Read a Jira issue: summary, status, assignee, labels and description."),
		mcp.WithTitleAnnotation("Get Jira issue"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
		mcp.WithString("issue_key", mcp.Required(), mcp.Description("Issue key, e.g. PROJ-123")),
		mcp.WithString("expand", mcp.Description("Comma-separated Jira expand values, e.g. changelog")),
		userParam(),
	)
}

// Handle processes the get_jira_issue tool call.
func (t *GetIssueTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := strings.TrimSpace(req.GetString("issue_key", ""))
	if err := validation.Validate(key, validation.Required, issueKeyRule); err != nil {
		return invalidArgs(fmt.Errorf("issue_key: %w", err)), nil
	}

	issue, err := t.jira.Issue(ctx, key, req.GetString("expand", ""))
	if err != nil {
		return apiFailure("reading "+key, err), nil
	}

	remember(ctx, t.contexts, func(user string) {
		t.contexts.AddRecentIssue(ctx, user, issue.Key)
	})

	return mcp.NewToolResultText(formatIssue(issue, t.jira.BrowseURL(issue.Key))), nil
}

func formatIssue(issue atlassian.Issue, url string) string {
	f := issue.Fields
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s: %s\n\n", issue.Key, f.Summary)
	fmt.Fprintf(&sb, "| Field | Value |\n|-------|-------|\n")
	fmt.Fprintf(&sb, "| Status | %s |\n", namedOr(f.Status, "-"))
	fmt.Fprintf(&sb, "| Type | %s |\n", namedOr(f.IssueType, "-"))
	fmt.Fprintf(&sb, "| Priority | %s |\n", namedOr(f.Priority, "-"))
	assignee := "Unassigned"
	if f.Assignee != nil {
		assignee = f.Assignee.DisplayName
	}
	fmt.Fprintf(&sb, "| Assignee | %s |\n", assignee)
	if len(f.Labels) > 0 {
		fmt.Fprintf(&sb, "| Labels | %s |\n", strings.Join(f.Labels, ", "))
	}
	if f.Created != "" {
		fmt.Fprintf(&sb, "| Created | %s |\n", f.Created)
	}
	if f.Updated != "" {
		fmt.Fprintf(&sb, "| Updated | %s |\n", f.Updated)
	}
	fmt.Fprintf(&sb, "\n**URL:** %s\n", url)

	if desc := atlassian.ADFText(f.Description); desc != "" {
		sb.WriteString("\n### Description\n\n")
		sb.WriteString(desc)
		sb.WriteString("\n")
	}
	return sb.String()
}

func namedOr(n *atlassian.Named, fallback string) string {
	if n == nil || n.Name == "" {
		return fallback
	}
	return n.Name
}

// ─── update_jira_issue ──────────────────────────────────────────────────────

// UpdateIssueTool handles the update_jira_issue MCP tool.
type UpdateIssueTool struct {
	jira     Jira
	contexts *contextstore.Store
}

// NewUpdateIssueTool creates an UpdateIssueTool with its dependencies.
func NewUpdateIssueTool(jira Jira, contexts *contextstore.Store) *UpdateIssueTool {
	return &UpdateIssueTool{jira: jira, contexts: contexts}
}

// Definition returns the MCP tool definition for registration.
func (t *UpdateIssueTool) Definition() mcp.Tool {
	return mcp.NewTool("update_jira_issue",
		mcp.WithDescription("Change fields of a Jira issue. Only the fields given are touched; "+
			"labels, when given, replace the existing set."),
		mcp.WithTitleAnnotation("Update Jira issue"),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
		mcp.WithString("issue_key", mcp.Required(), mcp.Description("Issue key, e.g. PROJ-123")),
		mcp.WithString("summary", mcp.Description("New summary")),
		mcp.WithString("description", mcp.Description("New plain-text description")),
		mcp.WithString("priority", mcp.Description("New priority"),
			mcp.Enum("Highest", "High", "Medium", "Low", "Lowest")),
		mcp.WithString("assignee", mcp.Description("New assignee account id")),
		labelsParam("Replacement label set"),
		userParam(),
	)
}

type updateIssueArgs struct {
	Key      string `json:"issue_key"`
	Summary  string `json:"summary"`
	Priority string `json:"priority"`
}

func (a updateIssueArgs) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Key, validation.Required, issueKeyRule),
		validation.Field(&a.Summary, validation.Length(0, 255)),
		validation.Field(&a.Priority, priorityRule),
	)
}

// Handle processes the update_jira_issue tool call.
func (t *UpdateIssueTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := updateIssueArgs{
		Key:      strings.TrimSpace(req.GetString("issue_key", "")),
		Summary:  strings.TrimSpace(req.GetString("summary", "")),
		Priority: req.GetString("priority", ""),
	}
	if err := args.Validate(); err != nil {
		return invalidArgs(err), nil
	}

	u := atlassian.IssueUpdate{
		Summary:     args.Summary,
		Description: req.GetString("description", ""),
		Priority:    args.Priority,
		Assignee:    req.GetString("assignee", ""),
		Labels:      stringsArg(req, "labels"),
	}
	if u.Empty() {
		return mcp.NewToolResultError("nothing to update: give at least one of summary, description, priority, assignee, labels"), nil
	}

	if err := t.jira.UpdateIssue(ctx, args.Key, u); err != nil {
		return apiFailure("updating "+args.Key, err), nil
	}

	remember(ctx, t.contexts, func(user string) {
		t.contexts.AddRecentIssue(ctx, user, args.Key)
	})

	var sb strings.Builder
	sb.WriteString("## Issue Updated\n\n")
	fmt.Fprintf(&sb, "**Key:** %s\n", args.Key)
	fmt.Fprintf(&sb, "**Changed:** %s\n", strings.Join(changedFields(u), ", "))
	fmt.Fprintf(&sb, "**URL:** %s\n", t.jira.BrowseURL(args.Key))
	return mcp.NewToolResultText(sb.String()), nil
}

func changedFields(u atlassian.IssueUpdate) []string {
	var out []string
	if u.Summary != "" {
		out = append(out, "summary")
	}
	if u.Description != "" {
		out = append(out, "description")
	}
	if u.Priority != "" {
		out = append(out, "priority")
	}
	if u.Assignee != "" {
		out = append(out, "assignee")
	}
	if u.Labels != nil {
		out = append(out, "labels")
	}
	return out
}

// ─── transition_jira_issue ──────────────────────────────────────────────────

// TransitionIssueTool handles the transition_jira_issue MCP tool.
type TransitionIssueTool struct {
	jira     Jira
	contexts *contextstore.Store
}

// NewTransitionIssueTool creates a TransitionIssueTool with its dependencies.
func NewTransitionIssueTool(jira Jira, contexts *contextstore.Store) *TransitionIssueTool {
	return &TransitionIssueTool{jira: jira, contexts: contexts}
}

// Definition returns the MCP tool definition for registration.
func (t *TransitionIssueTool) Definition() mcp.Tool {
	return mcp.NewTool("transition_jira_issue",
		mcp.WithDescription("Move a Jira issue through its workflow. The transition may be given "+
			"by id, by transition name or by the name of the target status."),
		mcp.WithTitleAnnotation("Transition Jira issue"),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
		mcp.WithString("issue_key", mcp.Required(), mcp.Description("Issue key, e.g. PROJ-123")),
		mcp.WithString("transition", mcp.Required(), mcp.Description("Transition id or name, or target status, e.g. Done")),
		mcp.WithString("comment", mcp.Description("Optional comment added with the transition")),
		userParam(),
	)
}

// Handle processes the transition_jira_issue tool call.
func (t *TransitionIssueTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := strings.TrimSpace(req.GetString("issue_key", ""))
	transition := strings.TrimSpace(req.GetString("transition", ""))
	err := validation.Errors{
		"issue_key":  validation.Validate(key, validation.Required, issueKeyRule),
		"transition": validation.Validate(transition, validation.Required),
	}.Filter()
	if err != nil {
		return invalidArgs(err), nil
	}

	tr, err := t.jira.TransitionIssue(ctx, key, transition, req.GetString("comment", ""))
	if err != nil {
		return apiFailure("transitioning "+key, err), nil
	}

	remember(ctx, t.contexts, func(user string) {
		t.contexts.AddRecentIssue(ctx, user, key)
	})

	target := tr.To.Name
	if target == "" {
		target = tr.Name
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"## Issue Transitioned\n\n%s moved to **%s** via %q.\n\n**URL:** %s\n",
		key, target, tr.Name, t.jira.BrowseURL(key),
	)), nil
}

// ─── comment_jira_issue ─────────────────────────────────────────────────────

// CommentIssueTool handles the comment_jira_issue MCP tool.
type CommentIssueTool struct {
	jira     Jira
	contexts *contextstore.Store
}

// NewCommentIssueTool creates a CommentIssueTool with its dependencies.
func NewCommentIssueTool(jira Jira, contexts *contextstore.Store) *CommentIssueTool {
	return &CommentIssueTool{jira: jira, contexts: contexts}
}

// Definition returns the MCP tool definition for registration.
func (t *CommentIssueTool) Definition() mcp.Tool {
	return mcp.NewTool("comment_jira_issue",
		mcp.WithDescription("Add a plain-text comment to a Jira issue."),
		mcp.WithTitleAnnotation("Comment on Jira issue"),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
		mcp.WithString("issue_key", mcp.Required(), mcp.Description("Issue key, e.g. PROJ-123")),
		mcp.WithString("comment", mcp.Required(), mcp.Description("Comment text")),
		userParam(),
	)
}

// Handle processes the comment_jira_issue tool call.
func (t *CommentIssueTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := strings.TrimSpace(req.GetString("issue_key", ""))
	text := req.GetString("comment", "")
	err := validation.Errors{
		"issue_key": validation.Validate(key, validation.Required, issueKeyRule),
		"comment":   validation.Validate(strings.TrimSpace(text), validation.Required),
	}.Filter()
	if err != nil {
		return invalidArgs(err), nil
	}

	c, err := t.jira.AddComment(ctx, key, text)
	if err != nil {
		return apiFailure("commenting on "+key, err), nil
	}

	remember(ctx, t.contexts, func(user string) {
		t.contexts.AddRecentIssue(ctx, user, key)
	})

	return mcp.NewToolResultText(fmt.Sprintf(
		"## Comment Added\n\n**Issue:** %s\n**Comment ID:** %s\n**URL:** %s\n",
		key, c.ID, t.jira.BrowseURL(key),
	)), nil
}

// ─── search_jira_issues ─────────────────────────────────────────────────────

// SearchIssuesTool handles the search_jira_issues MCP tool.
type SearchIssuesTool struct {
	jira     Jira
	contexts *contextstore.Store
}

// NewSearchIssuesTool creates a SearchIssuesTool with its dependencies.
func NewSearchIssuesTool(jira Jira, contexts *contextstore.Store) *SearchIssuesTool {
	return &SearchIssuesTool{jira: jira, contexts: contexts}
}

// Definition returns the MCP tool definition for registration.
func (t *SearchIssuesTool) Definition() mcp.Tool {
	return mcp.NewTool("search_jira_issues",
		mcp.WithDescription("Search Jira with JQL. Without a query the caller's default project "+
			"is listed, most recently updated first."),
		mcp.WithTitleAnnotation("Search Jira issues"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
		mcp.WithString("jql", mcp.Description("JQL query, e.g. project = PROJ AND status = \"In Progress\"")),
		mcp.WithNumber("max_results", mcp.Description("Page size, 1-100 (default 50)")),
		mcp.WithNumber("start_at", mcp.Description("Offset of the first result (default 0)")),
		userParam(),
	)
}

// Handle processes the search_jira_issues tool call.
func (t *SearchIssuesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jql := strings.TrimSpace(req.GetString("jql", ""))
	if jql == "" {
		project := preferences(ctx, t.contexts).DefaultProject
		if project == "" {
			return mcp.NewToolResultError("jql is required when no default project is set"), nil
		}
		jql = fmt.Sprintf("project = %s ORDER BY updated DESC", project)
	}
	limit := intArg(req, "max_results", 50)
	start := intArg(req, "start_at", 0)
	err := validation.Errors{
		"max_results": validation.Validate(limit, validation.Min(1), validation.Max(100)),
		"start_at":    validation.Validate(start, validation.Min(0)),
	}.Filter()
	if err != nil {
		return invalidArgs(err), nil
	}

	res, err := t.jira.SearchIssues(ctx, atlassian.SearchQuery{JQL: jql, StartAt: start, MaxResults: limit})
	if err != nil {
		return apiFailure("searching issues", err), nil
	}

	var sb strings.Builder
	sb.WriteString("## Jira Search\n\n")
	fmt.Fprintf(&sb, "**JQL:** `%s`\n", jql)
	fmt.Fprintf(&sb, "**Showing:** %d of %d (from %d)\n\n", len(res.Issues), res.Total, res.StartAt)
	if len(res.Issues) == 0 {
		sb.WriteString("_No issues match._\n")
		return mcp.NewToolResultText(sb.String()), nil
	}
	sb.WriteString("| Key | Summary | Status | Assignee |\n|-----|---------|--------|----------|\n")
	for _, is := range res.Issues {
		assignee := "Unassigned"
		if is.Fields.Assignee != nil {
			assignee = is.Fields.Assignee.DisplayName
		}
		fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n",
			is.Key, escapeCell(is.Fields.Summary), namedOr(is.Fields.Status, "-"), assignee)
	}
	if next := res.StartAt + len(res.Issues); next < res.Total {
		fmt.Fprintf(&sb, "\n_More results available: use start_at=%d._\n", next)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func escapeCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}

// ─── list_jira_projects ─────────────────────────────────────────────────────

const favoriteProjectsFromListing = 5

// ListProjectsTool handles the list_jira_projects MCP tool.
type ListProjectsTool struct {
	jira     Jira
	contexts *contextstore.Store
}

// NewListProjectsTool creates a ListProjectsTool with its dependencies.
func NewListProjectsTool(jira Jira, contexts *contextstore.Store) *ListProjectsTool {
	return &ListProjectsTool{jira: jira, contexts: contexts}
}

// Definition returns the MCP tool definition for registration.
func (t *ListProjectsTool) Definition() mcp.Tool {
	return mcp.NewTool("list_jira_projects",
		mcp.WithDescription("List the Jira projects visible to the account. "+
			"The first few are remembered as favorites for autocomplete."),
		mcp.WithTitleAnnotation("List Jira projects"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
		userParam(),
	)
}

// Handle processes the list_jira_projects tool call.
func (t *ListProjectsTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := t.jira.Projects(ctx)
	if err != nil {
		return apiFailure("listing projects", err), nil
	}

	remember(ctx, t.contexts, func(user string) {
		for i, p := range projects {
			if i == favoriteProjectsFromListing {
				break
			}
			t.contexts.AddFavoriteProject(ctx, user, p.Key)
		}
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Jira Projects (%d)\n\n", len(projects))
	if len(projects) == 0 {
		sb.WriteString("_No projects visible to this account._\n")
		return mcp.NewToolResultText(sb.String()), nil
	}
	sb.WriteString("| Key | Name | Type |\n|-----|------|------|\n")
	for _, p := range projects {
		fmt.Fprintf(&sb, "| %s | %s | %s |\n", p.Key, escapeCell(p.Name), p.ProjectTypeKey)
	}
	return mcp.NewToolResultText(sb.String()), nil
}
