package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/HendryAvila/atlassian-mcp/internal/atlassian"
	"github.com/HendryAvila/atlassian-mcp/internal/contextstore"
)

const maxHints = 3

// relatedActions lists the tools that usually follow a successful call.
var relatedActions = map[string][]string{
	"create_jira_issue":      {"comment_jira_issue", "transition_jira_issue", "search_jira_issues"},
	"get_jira_issue":         {"update_jira_issue", "comment_jira_issue", "create_confluence_page"},
	"search_jira_issues":     {"bulk_update_issues", "get_jira_issue"},
	"create_confluence_page": {"add_confluence_comment", "update_confluence_page", "get_confluence_page_children"},
	"get_confluence_page":    {"update_confluence_page", "add_confluence_comment", "get_confluence_page_children"},
}

// hintless tools answer questions about the server or the caller; hints
// on top of them are noise.
var hintless = map[string]bool{
	"get_user_context":     true,
	"set_user_preferences": true,
	"get_suggestions":      true,
	"get_autocomplete":     true,
	"server_stats":         true,
	"invalidate_cache":     true,
	"atlassian_health":     true,
}

// TrackerOption customizes a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerLogger sets the logger used for per-call log lines.
func WithTrackerLogger(l *logrus.Entry) TrackerOption {
	return func(t *Tracker) { t.log = l }
}

// WithToolObserver reports every call to o.
func WithToolObserver(o ToolObserver) TrackerOption {
	return func(t *Tracker) { t.observer = o }
}

// Tracker wraps tool handlers. It resolves the caller, records the call in
// the user's history, reports metrics and appends suggestions to
// successful results.
type Tracker struct {
	contexts    *contextstore.Store
	defaultUser string
	log         *logrus.Entry
	observer    ToolObserver
	now         func() time.Time
}

// NewTracker creates a Tracker. defaultUser is used when a call carries no
// user_id; leave it empty to keep anonymous calls untracked.
func NewTracker(contexts *contextstore.Store, defaultUser string, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		contexts:    contexts,
		defaultUser: defaultUser,
		log:         logrus.NewEntry(logrus.StandardLogger()).WithField("component", "tools"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track wraps next.
func (t *Tracker) Track(name string, next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user := req.GetString("user_id", "")
		if user == "" {
			user = t.defaultUser
		}
		requestID := uuid.NewString()
		ctx = WithUser(ctx, user)
		ctx = atlassian.WithRequestID(ctx, requestID)

		start := t.now()
		res, err := next(ctx, req)
		elapsed := t.now().Sub(start)
		success := err == nil && res != nil && !res.IsError

		if t.observer != nil {
			t.observer.ObserveTool(name, success, elapsed)
		}
		if t.contexts != nil && user != "" {
			t.contexts.RecordToolExecution(user, name, success)
		}

		log := t.log.WithFields(logrus.Fields{
			"tool":       name,
			"user":       user,
			"request_id": requestID,
			"duration":   elapsed,
		})
		switch {
		case err != nil:
			log.WithError(err).Error("tool call failed")
		case !success:
			log.Warn("tool returned an error")
		default:
			log.Info("tool call")
		}

		if success && user != "" && !hintless[name] {
			if hints := t.hints(ctx, user, name); hints != "" {
				res.Content = append(res.Content, mcp.NewTextContent(hints))
			}
		}
		return res, err
	}
}

// hints renders the top suggestions and related actions for a result.
func (t *Tracker) hints(ctx context.Context, user, tool string) string {
	var suggestions []contextstore.Suggestion
	if t.contexts != nil {
		suggestions = t.contexts.Suggestions(ctx, user, tool)
	}
	if len(suggestions) > maxHints {
		suggestions = suggestions[:maxHints]
	}
	related := relatedActions[tool]
	if len(suggestions) == 0 && len(related) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("---\n\n")
	if len(suggestions) > 0 {
		sb.WriteString("**Suggestions**\n\n")
		for _, s := range suggestions {
			fmt.Fprintf(&sb, "- %s (%.0f%%): %s\n", s.Title, s.Confidence*100, s.Description)
		}
	}
	if len(related) > 0 {
		if len(suggestions) > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "**Related actions:** %s\n", strings.Join(related, ", "))
	}
	return sb.String()
}
