package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/atlassian-mcp/internal/contextstore"
)

// requireUser returns the caller or a tool error when the call is
// anonymous and no default user is configured.
func requireUser(ctx context.Context) (string, *mcp.CallToolResult) {
	user := UserFrom(ctx)
	if user == "" {
		return "", mcp.NewToolResultError("user_id is required: no default user is configured")
	}
	return user, nil
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "_none_"
	}
	return strings.Join(items, ", ")
}

// ─── get_user_context ───────────────────────────────────────────────────────

// UserContextTool handles the get_user_context MCP tool.
type UserContextTool struct {
	contexts *contextstore.Store
}

// NewUserContextTool creates a UserContextTool.
func NewUserContextTool(contexts *contextstore.Store) *UserContextTool {
	return &UserContextTool{contexts: contexts}
}

// Definition returns the MCP tool definition for registration.
func (t *UserContextTool) Definition() mcp.Tool {
	return mcp.NewTool("get_user_context",
		mcp.WithDescription("Show what the server remembers about the caller: defaults, favorites, "+
			"recent issues and pages, and today's activity."),
		mcp.WithTitleAnnotation("Get user context"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
		userParam(),
	)
}

// Handle processes the get_user_context tool call.
func (t *UserContextTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, errRes := requireUser(ctx)
	if errRes != nil {
		return errRes, nil
	}

	uc := t.contexts.Context(ctx, user)
	p := uc.Preferences

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Context: %s\n\n", user)
	fmt.Fprintf(&sb, "**Last activity:** %s\n", humanize.Time(uc.LastActivity))
	fmt.Fprintf(&sb, "**Tool calls today:** %d\n\n", len(t.contexts.ToolHistory(user)))

	sb.WriteString("## Defaults\n\n")
	fmt.Fprintf(&sb, "- Project: %s\n", valueOr(p.DefaultProject, "_not set_"))
	fmt.Fprintf(&sb, "- Space: %s\n\n", valueOr(p.DefaultSpace, "_not set_"))

	sb.WriteString("## Favorites\n\n")
	fmt.Fprintf(&sb, "- Projects: %s\n", listOrNone(p.FavoriteProjects))
	fmt.Fprintf(&sb, "- Spaces: %s\n\n", listOrNone(p.FavoriteSpaces))

	sb.WriteString("## Recent\n\n")
	fmt.Fprintf(&sb, "- Issues: %s\n", listOrNone(p.RecentIssues))
	fmt.Fprintf(&sb, "- Pages: %s\n", listOrNone(p.RecentPages))
	return mcp.NewToolResultText(sb.String()), nil
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// ─── set_user_preferences ───────────────────────────────────────────────────

// SetPreferencesTool handles the set_user_preferences MCP tool.
type SetPreferencesTool struct {
	contexts *contextstore.Store
}

// NewSetPreferencesTool creates a SetPreferencesTool.
func NewSetPreferencesTool(contexts *contextstore.Store) *SetPreferencesTool {
	return &SetPreferencesTool{contexts: contexts}
}

// Definition returns the MCP tool definition for registration.
func (t *SetPreferencesTool) Definition() mcp.Tool {
	return mcp.NewTool("set_user_preferences",
		mcp.WithDescription("Set the caller's default project and space, or add favorites. "+
			"Defaults are used when a Jira or Confluence tool is called without one."),
		mcp.WithTitleAnnotation("Set user preferences"),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
		mcp.WithString("default_project", mcp.Description("Project key used when none is given")),
		mcp.WithString("default_space", mcp.Description("Space key used when none is given")),
		mcp.WithString("favorite_project", mcp.Description("Project key to add to favorites")),
		mcp.WithString("favorite_space", mcp.Description("Space key to add to favorites")),
		userParam(),
	)
}

type preferenceArgs struct {
	DefaultProject  string `json:"default_project"`
	DefaultSpace    string `json:"default_space"`
	FavoriteProject string `json:"favorite_project"`
	FavoriteSpace   string `json:"favorite_space"`
}

func (a preferenceArgs) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.DefaultProject, projectKeyRule),
		validation.Field(&a.DefaultSpace, spaceKeyRule),
		validation.Field(&a.FavoriteProject, projectKeyRule),
		validation.Field(&a.FavoriteSpace, spaceKeyRule),
	)
}

func (a preferenceArgs) empty() bool {
	return a == preferenceArgs{}
}

// Handle processes the set_user_preferences tool call.
func (t *SetPreferencesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, errRes := requireUser(ctx)
	if errRes != nil {
		return errRes, nil
	}

	args := preferenceArgs{
		DefaultProject:  strings.TrimSpace(req.GetString("default_project", "")),
		DefaultSpace:    strings.TrimSpace(req.GetString("default_space", "")),
		FavoriteProject: strings.TrimSpace(req.GetString("favorite_project", "")),
		FavoriteSpace:   strings.TrimSpace(req.GetString("favorite_space", "")),
	}
	if args.empty() {
		return mcp.NewToolResultError("nothing to set: give at least one preference"), nil
	}
	if err := args.Validate(); err != nil {
		return invalidArgs(err), nil
	}

	var changed []string
	if args.DefaultProject != "" {
		t.contexts.SetDefaultProject(ctx, user, args.DefaultProject)
		changed = append(changed, "default project = "+args.DefaultProject)
	}
	if args.DefaultSpace != "" {
		t.contexts.SetDefaultSpace(ctx, user, args.DefaultSpace)
		changed = append(changed, "default space = "+args.DefaultSpace)
	}
	if args.FavoriteProject != "" {
		t.contexts.AddFavoriteProject(ctx, user, args.FavoriteProject)
		changed = append(changed, "favorite project + "+args.FavoriteProject)
	}
	if args.FavoriteSpace != "" {
		t.contexts.AddFavoriteSpace(ctx, user, args.FavoriteSpace)
		changed = append(changed, "favorite space + "+args.FavoriteSpace)
	}

	var sb strings.Builder
	sb.WriteString("## Preferences Saved\n\n")
	for _, c := range changed {
		fmt.Fprintf(&sb, "- %s\n", c)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// ─── get_suggestions ────────────────────────────────────────────────────────

// SuggestionsTool handles the get_suggestions MCP tool.
type SuggestionsTool struct {
	contexts *contextstore.Store
}

// NewSuggestionsTool creates a SuggestionsTool.
func NewSuggestionsTool(contexts *contextstore.Store) *SuggestionsTool {
	return &SuggestionsTool{contexts: contexts}
}

// Definition returns the MCP tool definition for registration.
func (t *SuggestionsTool) Definition() mcp.Tool {
	return mcp.NewTool("get_suggestions",
		mcp.WithDescription("Rank likely next steps for the caller from their preferences, "+
			"recent items and today's tool history."),
		mcp.WithTitleAnnotation("Get suggestions"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
		mcp.WithString("current_tool", mcp.Description("Tool the caller is about to use, e.g. create_jira_issue")),
		userParam(),
	)
}

// suggestionsResponse is the structured payload of get_suggestions.
type suggestionsResponse struct {
	User        string                    `json:"user"`
	Suggestions []contextstore.Suggestion `json:"suggestions"`
	Patterns    []string                  `json:"patterns"`
}

// Handle processes the get_suggestions tool call.
func (t *SuggestionsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, errRes := requireUser(ctx)
	if errRes != nil {
		return errRes, nil
	}

	resp := suggestionsResponse{
		User:        user,
		Suggestions: t.contexts.Suggestions(ctx, user, req.GetString("current_tool", "")),
		Patterns:    contextstore.AnalyzeToolPatterns(t.contexts.ToolHistory(user)),
	}
	if resp.Patterns == nil {
		resp.Patterns = []string{}
	}

	var sb strings.Builder
	sb.WriteString("## Suggestions\n\n")
	if len(resp.Suggestions) == 0 {
		sb.WriteString("_Nothing to suggest yet. Use a few tools first._\n")
	}
	for i, s := range resp.Suggestions {
		fmt.Fprintf(&sb, "%d. **%s** [%s, %.0f%%]: %s\n", i+1, s.Title, s.Kind, s.Confidence*100, s.Description)
	}
	if len(resp.Patterns) > 0 {
		sb.WriteString("\n### Frequent sequences\n\n")
		for _, p := range resp.Patterns {
			fmt.Fprintf(&sb, "- %s\n", p)
		}
	}
	return mcp.NewToolResultStructured(resp, sb.String()), nil
}

// ─── get_autocomplete ───────────────────────────────────────────────────────

// AutocompleteTool handles the get_autocomplete MCP tool.
type AutocompleteTool struct {
	contexts *contextstore.Store
}

// NewAutocompleteTool creates an AutocompleteTool.
func NewAutocompleteTool(contexts *contextstore.Store) *AutocompleteTool {
	return &AutocompleteTool{contexts: contexts}
}

// Definition returns the MCP tool definition for registration.
func (t *AutocompleteTool) Definition() mcp.Tool {
	return mcp.NewTool("get_autocomplete",
		mcp.WithDescription("Complete a field value from the caller's favorites and recent items."),
		mcp.WithTitleAnnotation("Autocomplete"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
		mcp.WithString("field", mcp.Required(), mcp.Description("Field to complete"),
			mcp.Enum("project", "space", "issue", "page")),
		mcp.WithString("prefix", mcp.Description("Only values starting with this text (case-insensitive)")),
		userParam(),
	)
}

// Handle processes the get_autocomplete tool call.
func (t *AutocompleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, errRes := requireUser(ctx)
	if errRes != nil {
		return errRes, nil
	}
	field := req.GetString("field", "")
	if err := validation.Validate(field, validation.Required, validation.In("project", "space", "issue", "page")); err != nil {
		return invalidArgs(fmt.Errorf("field: %w", err)), nil
	}

	prefix := strings.ToLower(strings.TrimSpace(req.GetString("prefix", "")))
	values := []string{}
	for _, v := range t.contexts.AutoComplete(ctx, user, field) {
		if strings.HasPrefix(strings.ToLower(v), prefix) {
			values = append(values, v)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Autocomplete: %s\n\n", field)
	if len(values) == 0 {
		sb.WriteString("_No known values._\n")
	}
	for _, v := range values {
		fmt.Fprintf(&sb, "- %s\n", v)
	}
	return mcp.NewToolResultText(sb.String()), nil
}
