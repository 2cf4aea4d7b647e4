package tools

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/atlassian-mcp/internal/atlassian"
)

var (
	issueKeyRe   = regexp.MustCompile(`^[A-Z][A-Z0-9_]+-\d+$`)
	projectKeyRe = regexp.MustCompile(`^[A-Z][A-Z0-9_]+$`)
	spaceKeyRe   = regexp.MustCompile(`^~?[A-Za-z0-9_]+$`)
	pageIDRe     = regexp.MustCompile(`^\d+$`)
)

// priorities are the names Jira Cloud ships with.
var priorities = []any{"Highest", "High", "Medium", "Low", "Lowest"}

var (
	issueKeyRule   = validation.Match(issueKeyRe).Error("must look like PROJ-123")
	projectKeyRule = validation.Match(projectKeyRe).Error("must be an upper-case project key")
	spaceKeyRule   = validation.Match(spaceKeyRe).Error("must be a Confluence space key")
	pageIDRule     = validation.Match(pageIDRe).Error("must be a numeric page id")
	priorityRule   = validation.In(priorities...).Error("must be one of Highest, High, Medium, Low, Lowest")
)

// invalidArgs turns a validation failure into a tool error.
func invalidArgs(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError("invalid arguments: " + err.Error())
}

// apiFailure turns an Atlassian failure into a tool error with a hint the
// caller can act on.
func apiFailure(action string, err error) *mcp.CallToolResult {
	var hint string
	switch {
	case errors.Is(err, atlassian.ErrUnauthorized):
		hint = "authentication failed, check the configured email and API token"
	case errors.Is(err, atlassian.ErrForbidden):
		hint = "the account lacks permission for this operation"
	case errors.Is(err, atlassian.ErrNotFound):
		hint = "the item does not exist or is not visible to this account"
	case errors.Is(err, atlassian.ErrRateLimited):
		hint = "Atlassian is rate limiting requests, try again shortly"
	case errors.Is(err, context.DeadlineExceeded):
		hint = "the request timed out"
	case errors.Is(err, context.Canceled):
		hint = "the request was cancelled"
	}
	if hint == "" {
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", action, err))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s failed: %s (%v)", action, hint, err))
}
