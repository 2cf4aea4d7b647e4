package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/atlassian-mcp/internal/atlassian"
)

const (
	defaultBulkIssues = 50
	maxBulkIssues     = 100
	bulkConcurrency   = 5
)

// BulkUpdateTool handles the bulk_update_issues MCP tool. It applies the
// same change to every issue a JQL query returns.
type BulkUpdateTool struct {
	jira Jira
}

// NewBulkUpdateTool creates a BulkUpdateTool with its dependencies.
func NewBulkUpdateTool(jira Jira) *BulkUpdateTool {
	return &BulkUpdateTool{jira: jira}
}

// Definition returns the MCP tool definition for registration.
func (t *BulkUpdateTool) Definition() mcp.Tool {
	return mcp.NewTool("bulk_update_issues",
		mcp.WithDescription(
			"Apply one change to every issue matched by a JQL query: priority, assignee, "+
				"labels and/or a comment. Use dry_run to preview the affected issues first.",
		),
		mcp.WithTitleAnnotation("Bulk update Jira issues"),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
		mcp.WithString("jql", mcp.Required(), mcp.Description("JQL selecting the issues to change")),
		mcp.WithString("priority", mcp.Description("New priority"),
			mcp.Enum("Highest", "High", "Medium", "Low", "Lowest")),
		mcp.WithString("assignee", mcp.Description("New assignee account id")),
		labelsParam("Replacement label set"),
		mcp.WithString("comment", mcp.Description("Comment added to every issue")),
		mcp.WithNumber("max_issues", mcp.Description("Upper bound on issues touched, 1-100 (default 50)")),
		mcp.WithBoolean("dry_run", mcp.Description("List the matched issues without changing them")),
		userParam(),
	)
}

type bulkArgs struct {
	JQL       string `json:"jql"`
	Priority  string `json:"priority"`
	MaxIssues int    `json:"max_issues"`
}

func (a bulkArgs) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.JQL, validation.Required),
		validation.Field(&a.Priority, priorityRule),
		validation.Field(&a.MaxIssues, validation.Min(1), validation.Max(maxBulkIssues)),
	)
}

// bulkOutcome is the result for one issue.
type bulkOutcome struct {
	key string
	err error
}

// Handle processes the bulk_update_issues tool call.
func (t *BulkUpdateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := bulkArgs{
		JQL:       strings.TrimSpace(req.GetString("jql", "")),
		Priority:  req.GetString("priority", ""),
		MaxIssues: intArg(req, "max_issues", defaultBulkIssues),
	}
	if err := args.Validate(); err != nil {
		return invalidArgs(err), nil
	}

	update := atlassian.IssueUpdate{
		Priority: args.Priority,
		Assignee: req.GetString("assignee", ""),
		Labels:   stringsArg(req, "labels"),
	}
	comment := strings.TrimSpace(req.GetString("comment", ""))
	if update.Empty() && comment == "" {
		return mcp.NewToolResultError("nothing to update: give at least one of priority, assignee, labels, comment"), nil
	}

	res, err := t.jira.SearchIssues(ctx, atlassian.SearchQuery{
		JQL:        args.JQL,
		MaxResults: args.MaxIssues,
		Fields:     []string{"summary"},
	})
	if err != nil {
		return apiFailure("searching issues", err), nil
	}

	var sb strings.Builder
	if len(res.Issues) == 0 {
		fmt.Fprintf(&sb, "## Bulk Update\n\nNo issues match `%s`.\n", args.JQL)
		return mcp.NewToolResultText(sb.String()), nil
	}

	if boolArg(req, "dry_run", false) {
		fmt.Fprintf(&sb, "## Bulk Update (dry run)\n\n%d issue(s) would change", len(res.Issues))
		if res.Total > len(res.Issues) {
			fmt.Fprintf(&sb, " (%d match, capped at %d)", res.Total, args.MaxIssues)
		}
		sb.WriteString(":\n\n")
		for _, is := range res.Issues {
			fmt.Fprintf(&sb, "- %s: %s\n", is.Key, is.Fields.Summary)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}

	outcomes := t.apply(ctx, res.Issues, update, comment)

	var failed []bulkOutcome
	for _, o := range outcomes {
		if o.err != nil {
			failed = append(failed, o)
		}
	}

	sb.WriteString("## Bulk Update\n\n")
	fmt.Fprintf(&sb, "**Updated:** %d of %d\n", len(outcomes)-len(failed), len(outcomes))
	if res.Total > len(res.Issues) {
		fmt.Fprintf(&sb, "**Not touched:** %d more issue(s) match; raise max_issues or narrow the query\n", res.Total-len(res.Issues))
	}
	if len(failed) > 0 {
		sb.WriteString("\n### Failures\n\n")
		for _, o := range failed {
			fmt.Fprintf(&sb, "- %s: %v\n", o.key, o.err)
		}
	}
	if len(failed) == len(outcomes) {
		return mcp.NewToolResultError(sb.String()), nil
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// apply updates every issue with at most bulkConcurrency requests in
// flight. One failing issue does not stop the others.
func (t *BulkUpdateTool) apply(ctx context.Context, issues []atlassian.Issue, update atlassian.IssueUpdate, comment string) []bulkOutcome {
	var (
		mu       sync.Mutex
		outcomes = make([]bulkOutcome, 0, len(issues))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkConcurrency)
	for _, is := range issues {
		key := is.Key
		g.Go(func() error {
			err := t.updateOne(gctx, key, update, comment)
			mu.Lock()
			outcomes = append(outcomes, bulkOutcome{key: key, err: err})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].key < outcomes[j].key })
	return outcomes
}

func (t *BulkUpdateTool) updateOne(ctx context.Context, key string, update atlassian.IssueUpdate, comment string) error {
	if !update.Empty() {
		if err := t.jira.UpdateIssue(ctx, key, update); err != nil {
			return err
		}
	}
	if comment != "" {
		if _, err := t.jira.AddComment(ctx, key, comment); err != nil {
			return fmt.Errorf("comment: %w", err)
		}
	}
	return nil
}
