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

// ─── create_confluence_page ─────────────────────────────────────────────────

// CreatePageTool handles the create_confluence_page MCP tool.
type CreatePageTool struct {
	wiki     Confluence
	contexts *contextstore.Store
}

// NewCreatePageTool creates a CreatePageTool with its dependencies.
func NewCreatePageTool(wiki Confluence, contexts *contextstore.Store) *CreatePageTool {
	return &CreatePageTool{wiki: wiki, contexts: contexts}
}

// Definition returns the MCP tool definition for registration.
func (t *CreatePageTool) Definition() mcp.Tool {
	return mcp.NewTool("create_confluence_page",
		mcp.WithDescription(
			"Create a Confluence page or blog post. Content is Confluence storage format (XHTML). "+
				"When no space is given the caller's default space is used.",
		),
		mcp.WithTitleAnnotation("Create Confluence page"),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
		mcp.WithString("space", mcp.Description("Space key, e.g. ENG")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Page title")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Body in storage format, e.g. <p>Hello</p>")),
		mcp.WithString("parent_id", mcp.Description("Id of the parent page")),
		mcp.WithString("type", mcp.Description("Content type"), mcp.Enum("page", "blogpost"), mcp.DefaultString("page")),
		userParam(),
	)
}

type createPageArgs struct {
	Space    string `json:"space"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	ParentID string `json:"parent_id"`
}

func (a createPageArgs) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Space, validation.Required.Error("is required (or set a default space)"), spaceKeyRule),
		validation.Field(&a.Title, validation.Required, validation.Length(1, 255)),
		validation.Field(&a.Content, validation.Required),
		validation.Field(&a.ParentID, pageIDRule),
	)
}

// Handle processes the create_confluence_page tool call.
func (t *CreatePageTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	space := strings.TrimSpace(req.GetString("space", ""))
	if space == "" {
		space = preferences(ctx, t.contexts).DefaultSpace
	}
	args := createPageArgs{
		Space:    space,
		Title:    strings.TrimSpace(req.GetString("title", "")),
		Content:  req.GetString("content", ""),
		ParentID: strings.TrimSpace(req.GetString("parent_id", "")),
	}
	if err := args.Validate(); err != nil {
		return invalidArgs(err), nil
	}

	page, err := t.wiki.CreatePage(ctx, atlassian.PageInput{
		Space:    args.Space,
		Title:    args.Title,
		Content:  args.Content,
		ParentID: args.ParentID,
		Type:     req.GetString("type", "page"),
	})
	if err != nil {
		return apiFailure("creating page", err), nil
	}

	remember(ctx, t.contexts, func(user string) {
		t.contexts.AddRecentPage(ctx, user, page.ID)
		t.contexts.AddFavoriteSpace(ctx, user, args.Space)
	})

	var sb strings.Builder
	sb.WriteString("## Page Created\n\n")
	fmt.Fprintf(&sb, "**ID:** %s\n", page.ID)
	fmt.Fprintf(&sb, "**Title:** %s\n", page.Title)
	fmt.Fprintf(&sb, "**Space:** %s\n", args.Space)
	fmt.Fprintf(&sb, "**URL:** %s\n", t.wiki.PageURL(page))
	return mcp.NewToolResultText(sb.String()), nil
}

// ─── get_confluence_page ────────────────────────────────────────────────────

// GetPageTool handles the get_confluence_page MCP tool.
type GetPageTool struct {
	wiki     Confluence
	contexts *contextstore.Store
}

// NewGetPageTool creates a GetPageTool with its dependencies.
func NewGetPageTool(wiki Confluence, contexts *contextstore.Store) *GetPageTool {
	return &GetPageTool{wiki: wiki, contexts: contexts}
}

// Definition returns the MCP tool definition for registration.
func (t *GetPageTool) Definition() mcp.Tool {
	return mcp.NewTool("get_confluence_page",
		mcp.WithDescription("Read a Confluence page: title, space, version and storage-format body."),
		mcp.WithTitleAnnotation("Get Confluence page"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
		mcp.WithString("page_id", mcp.Required(), mcp.Description("Numeric page id")),
		mcp.WithString("expand", mcp.Description("Confluence expand list (default body.storage,version,space)")),
		mcp.WithBoolean("include_content", mcp.Description("Include the page body (default true)")),
		userParam(),
	)
}

// Handle processes the get_confluence_page tool call.
func (t *GetPageTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("page_id", ""))
	if err := validation.Validate(id, validation.Required, pageIDRule); err != nil {
		return invalidArgs(fmt.Errorf("page_id: %w", err)), nil
	}

	page, err := t.wiki.Page(ctx, id, req.GetString("expand", ""))
	if err != nil {
		return apiFailure("reading page "+id, err), nil
	}

	remember(ctx, t.contexts, func(user string) {
		t.contexts.AddRecentPage(ctx, user, page.ID)
		if page.Space != nil && page.Space.Key != "" {
			t.contexts.AddFavoriteSpace(ctx, user, page.Space.Key)
		}
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\n\n", page.Title)
	fmt.Fprintf(&sb, "**ID:** %s\n", page.ID)
	if page.Space != nil {
		fmt.Fprintf(&sb, "**Space:** %s (%s)\n", page.Space.Name, page.Space.Key)
	}
	if page.Version != nil {
		fmt.Fprintf(&sb, "**Version:** %d\n", page.Version.Number)
	}
	fmt.Fprintf(&sb, "**URL:** %s\n", t.wiki.PageURL(page))
	if boolArg(req, "include_content", true) {
		if body := page.Content(); body != "" {
			sb.WriteString("\n### Content\n\n")
			sb.WriteString(body)
			sb.WriteString("\n")
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// ─── update_confluence_page ─────────────────────────────────────────────────

// UpdatePageTool handles the update_confluence_page MCP tool.
type UpdatePageTool struct {
	wiki     Confluence
	contexts *contextstore.Store
}

// NewUpdatePageTool creates an UpdatePageTool with its dependencies.
func NewUpdatePageTool(wiki Confluence, contexts *contextstore.Store) *UpdatePageTool {
	return &UpdatePageTool{wiki: wiki, contexts: contexts}
}

// Definition returns the MCP tool definition for registration.
func (t *UpdatePageTool) Definition() mcp.Tool {
	return mcp.NewTool("update_confluence_page",
		mcp.WithDescription(
			"Replace the title and/or body of a Confluence page. The version number is "+
				"bumped automatically; pass version only to guard against concurrent edits.",
		),
		mcp.WithTitleAnnotation("Update Confluence page"),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
		mcp.WithString("page_id", mcp.Required(), mcp.Description("Numeric page id")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("content", mcp.Description("New body in storage format")),
		mcp.WithNumber("version", mcp.Description("Version the edit is based on")),
		userParam(),
	)
}

// Handle processes the update_confluence_page tool call.
func (t *UpdatePageTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("page_id", ""))
	title := strings.TrimSpace(req.GetString("title", ""))
	content := req.GetString("content", "")
	version := intArg(req, "version", 0)
	err := validation.Errors{
		"page_id": validation.Validate(id, validation.Required, pageIDRule),
		"title":   validation.Validate(title, validation.Length(0, 255)),
		"version": validation.Validate(version, validation.Min(0)),
	}.Filter()
	if err != nil {
		return invalidArgs(err), nil
	}
	if title == "" && content == "" {
		return mcp.NewToolResultError("nothing to update: give a title, content or both"), nil
	}

	page, err := t.wiki.UpdatePage(ctx, id, atlassian.PageUpdate{Title: title, Content: content, Version: version})
	if err != nil {
		return apiFailure("updating page "+id, err), nil
	}

	remember(ctx, t.contexts, func(user string) {
		t.contexts.AddRecentPage(ctx, user, page.ID)
	})

	var sb strings.Builder
	sb.WriteString("## Page Updated\n\n")
	fmt.Fprintf(&sb, "**ID:** %s\n", page.ID)
	fmt.Fprintf(&sb, "**Title:** %s\n", page.Title)
	if page.Version != nil {
		fmt.Fprintf(&sb, "**Version:** %d\n", page.Version.Number)
	}
	fmt.Fprintf(&sb, "**URL:** %s\n", t.wiki.PageURL(page))
	return mcp.NewToolResultText(sb.String()), nil
}

// ─── delete_confluence_page ─────────────────────────────────────────────────

// DeletePageTool handles the delete_confluence_page MCP tool.
type DeletePageTool struct {
	wiki Confluence
}

// NewDeletePageTool creates a DeletePageTool.
func NewDeletePageTool(wiki Confluence) *DeletePageTool {
	return &DeletePageTool{wiki: wiki}
}

// Definition returns the MCP tool definition for registration.
func (t *DeletePageTool) Definition() mcp.Tool {
	return mcp.NewTool("delete_confluence_page",
		mcp.WithDescription("Move a Confluence page to the trash."),
		mcp.WithTitleAnnotation("Delete Confluence page"),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
		mcp.WithString("page_id", mcp.Required(), mcp.Description("Numeric page id")),
		userParam(),
	)
}

// Handle processes the delete_confluence_page tool call.
func (t *DeletePageTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("page_id", ""))
	if err := validation.Validate(id, validation.Required, pageIDRule); err != nil {
		return invalidArgs(fmt.Errorf("page_id: %w", err)), nil
	}
	if err := t.wiki.DeletePage(ctx, id); err != nil {
		return apiFailure("deleting page "+id, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("## Page Deleted\n\nPage %s was moved to the trash.\n", id)), nil
}

// ─── add_confluence_comment ─────────────────────────────────────────────────

// AddPageCommentTool handles the add_confluence_comment MCP tool.
type AddPageCommentTool struct {
	wiki     Confluence
	contexts *contextstore.Store
}

// NewAddPageCommentTool creates an AddPageCommentTool with its dependencies.
func NewAddPageCommentTool(wiki Confluence, contexts *contextstore.Store) *AddPageCommentTool {
	return &AddPageCommentTool{wiki: wiki, contexts: contexts}
}

// Definition returns the MCP tool definition for registration.
func (t *AddPageCommentTool) Definition() mcp.Tool {
	return mcp.NewTool("add_confluence_comment",
		mcp.WithDescription("Add a footer comment to a Confluence page."),
		mcp.WithTitleAnnotation("Comment on Confluence page"),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
		mcp.WithString("page_id", mcp.Required(), mcp.Description("Numeric page id")),
		mcp.WithString("comment", mcp.Required(), mcp.Description("Comment body in storage format")),
		userParam(),
	)
}

// Handle processes the add_confluence_comment tool call.
func (t *AddPageCommentTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("page_id", ""))
	text := req.GetString("comment", "")
	err := validation.Errors{
		"page_id": validation.Validate(id, validation.Required, pageIDRule),
		"comment": validation.Validate(strings.TrimSpace(text), validation.Required),
	}.Filter()
	if err != nil {
		return invalidArgs(err), nil
	}

	c, err := t.wiki.AddPageComment(ctx, id, text)
	if err != nil {
		return apiFailure("commenting on page "+id, err), nil
	}

	remember(ctx, t.contexts, func(user string) {
		t.contexts.AddRecentPage(ctx, user, id)
	})

	return mcp.NewToolResultText(fmt.Sprintf(
		"## Comment Added\n\n**Page:** %s\n**Comment ID:** %s\n", id, c.ID,
	)), nil
}

// ─── list_confluence_spaces ─────────────────────────────────────────────────

// ListSpacesTool handles the list_confluence_spaces MCP tool.
type ListSpacesTool struct {
	wiki Confluence
}

// NewListSpacesTool creates a ListSpacesTool.
func NewListSpacesTool(wiki Confluence) *ListSpacesTool {
	return &ListSpacesTool{wiki: wiki}
}

// Definition returns the MCP tool definition for registration.
func (t *ListSpacesTool) Definition() mcp.Tool {
	return mcp.NewTool("list_confluence_spaces",
		mcp.WithDescription("List Confluence spaces."),
		mcp.WithTitleAnnotation("List Confluence spaces"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
		mcp.WithString("type", mcp.Description("Space type"), mcp.Enum("global", "personal"), mcp.DefaultString("global")),
		mcp.WithString("status", mcp.Description("Space status"), mcp.Enum("current", "archived"), mcp.DefaultString("current")),
		mcp.WithNumber("limit", mcp.Description("Page size, 1-200 (default 25)")),
		mcp.WithNumber("start", mcp.Description("Offset of the first result")),
		userParam(),
	)
}

// Handle processes the list_confluence_spaces tool call.
func (t *ListSpacesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := atlassian.SpaceQuery{
		Type:   req.GetString("type", "global"),
		Status: req.GetString("status", "current"),
		Limit:  intArg(req, "limit", 25),
		Start:  intArg(req, "start", 0),
	}
	err := validation.Errors{
		"type":   validation.Validate(q.Type, validation.In("global", "personal")),
		"status": validation.Validate(q.Status, validation.In("current", "archived")),
		"limit":  validation.Validate(q.Limit, validation.Min(1), validation.Max(200)),
		"start":  validation.Validate(q.Start, validation.Min(0)),
	}.Filter()
	if err != nil {
		return invalidArgs(err), nil
	}

	spaces, err := t.wiki.ListSpaces(ctx, q)
	if err != nil {
		return apiFailure("listing spaces", err), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Confluence Spaces (%d)\n\n", len(spaces))
	if len(spaces) == 0 {
		sb.WriteString("_No spaces found._\n")
		return mcp.NewToolResultText(sb.String()), nil
	}
	sb.WriteString("| Key | Name | Type |\n|-----|------|------|\n")
	for _, s := range spaces {
		fmt.Fprintf(&sb, "| %s | %s | %s |\n", s.Key, escapeCell(s.Name), s.Type)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// ─── search_confluence_pages ────────────────────────────────────────────────

// SearchPagesTool handles the search_confluence_pages MCP tool.
type SearchPagesTool struct {
	wiki Confluence
}

// NewSearchPagesTool creates a SearchPagesTool.
func NewSearchPagesTool(wiki Confluence) *SearchPagesTool {
	return &SearchPagesTool{wiki: wiki}
}

// Definition returns the MCP tool definition for registration.
func (t *SearchPagesTool) Definition() mcp.Tool {
	return mcp.NewTool("search_confluence_pages",
		mcp.WithDescription(
			"Search Confluence. Give raw CQL, or any of query, title and space to have one built.",
		),
		mcp.WithTitleAnnotation("Search Confluence"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
		mcp.WithString("cql", mcp.Description("Raw CQL; overrides the other filters")),
		mcp.WithString("query", mcp.Description("Full-text search terms")),
		mcp.WithString("title", mcp.Description("Title contains")),
		mcp.WithString("space", mcp.Description("Restrict to a space key")),
		mcp.WithString("type", mcp.Description("Content type"), mcp.Enum("page", "blogpost"), mcp.DefaultString("page")),
		mcp.WithNumber("limit", mcp.Description("Page size, 1-200 (default 25)")),
		mcp.WithNumber("start", mcp.Description("Offset of the first result")),
		userParam(),
	)
}

// Handle processes the search_confluence_pages tool call.
func (t *SearchPagesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := atlassian.PageSearch{
		CQL:   strings.TrimSpace(req.GetString("cql", "")),
		Text:  strings.TrimSpace(req.GetString("query", "")),
		Title: strings.TrimSpace(req.GetString("title", "")),
		Space: strings.TrimSpace(req.GetString("space", "")),
		Type:  req.GetString("type", "page"),
		Limit: intArg(req, "limit", 25),
		Start: intArg(req, "start", 0),
	}
	if q.CQL == "" && q.Text == "" && q.Title == "" && q.Space == "" {
		return mcp.NewToolResultError("give cql, or at least one of query, title, space"), nil
	}
	err := validation.Errors{
		"space": validation.Validate(q.Space, spaceKeyRule),
		"limit": validation.Validate(q.Limit, validation.Min(1), validation.Max(200)),
		"start": validation.Validate(q.Start, validation.Min(0)),
	}.Filter()
	if err != nil {
		return invalidArgs(err), nil
	}

	list, err := t.wiki.SearchPages(ctx, q)
	if err != nil {
		return apiFailure("searching pages", err), nil
	}

	var sb strings.Builder
	sb.WriteString("## Confluence Search\n\n")
	fmt.Fprintf(&sb, "**CQL:** `%s`\n", q.BuildCQL())
	fmt.Fprintf(&sb, "**Results:** %d\n\n", len(list.Results))
	writePageTable(&sb, t.wiki, list.Results)
	return mcp.NewToolResultText(sb.String()), nil
}

func writePageTable(sb *strings.Builder, wiki Confluence, pages []atlassian.Page) {
	if len(pages) == 0 {
		sb.WriteString("_No pages found._\n")
		return
	}
	sb.WriteString("| ID | Title | Space | URL |\n|----|-------|-------|-----|\n")
	for _, p := range pages {
		space := "-"
		if p.Space != nil {
			space = p.Space.Key
		}
		fmt.Fprintf(sb, "| %s | %s | %s | %s |\n", p.ID, escapeCell(p.Title), space, wiki.PageURL(p))
	}
}

// ─── get_confluence_page_children ───────────────────────────────────────────

// PageChildrenTool handles the get_confluence_page_children MCP tool.
type PageChildrenTool struct {
	wiki Confluence
}

// NewPageChildrenTool creates a PageChildrenTool.
func NewPageChildrenTool(wiki Confluence) *PageChildrenTool {
	return &PageChildrenTool{wiki: wiki}
}

// Definition returns the MCP tool definition for registration.
func (t *PageChildrenTool) Definition() mcp.Tool {
	return mcp.NewTool("get_confluence_page_children",
		mcp.WithDescription("List the direct children of a Confluence page."),
		mcp.WithTitleAnnotation("Get page children"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
		mcp.WithString("page_id", mcp.Required(), mcp.Description("Numeric id of the parent page")),
		mcp.WithString("type", mcp.Description("Child type"), mcp.Enum("page", "comment", "attachment"), mcp.DefaultString("page")),
		mcp.WithNumber("limit", mcp.Description("Page size, 1-200 (default 25)")),
		mcp.WithNumber("start", mcp.Description("Offset of the first result")),
		userParam(),
	)
}

// Handle processes the get_confluence_page_children tool call.
func (t *PageChildrenTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("page_id", ""))
	q := atlassian.ChildQuery{
		Type:  req.GetString("type", "page"),
		Limit: intArg(req, "limit", 25),
		Start: intArg(req, "start", 0),
	}
	err := validation.Errors{
		"page_id": validation.Validate(id, validation.Required, pageIDRule),
		"type":    validation.Validate(q.Type, validation.In("page", "comment", "attachment")),
		"limit":   validation.Validate(q.Limit, validation.Min(1), validation.Max(200)),
	}.Filter()
	if err != nil {
		return invalidArgs(err), nil
	}

	list, err := t.wiki.PageChildren(ctx, id, q)
	if err != nil {
		return apiFailure("listing children of page "+id, err), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Children of %s (%d)\n\n", id, len(list.Results))
	writePageTable(&sb, t.wiki, list.Results)
	return mcp.NewToolResultText(sb.String()), nil
}
