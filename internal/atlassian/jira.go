package atlassian

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ─── Types ──────────────────────────────────────────────────────────────────

// Project is a Jira project.
type Project struct {
	ID             string `json:"id"`
	Key            string `json:"key"`
	Name           string `json:"name"`
	ProjectTypeKey string `json:"projectTypeKey,omitempty"`
}

// Named is the {id, name} shape Jira uses for status, priority and type.
type Named struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// User is a Jira account.
type User struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress,omitempty"`
}

// IssueFields holds the fields this server reads. Everything else Jira
// returns is ignored.
type IssueFields struct {
	Summary     string          `json:"summary"`
	Description json.RawMessage `json:"description,omitempty"`
	Status      *Named          `json:"status,omitempty"`
	IssueType   *Named          `json:"issuetype,omitempty"`
	Priority    *Named          `json:"priority,omitempty"`
	Assignee    *User           `json:"assignee,omitempty"`
	Project     *Project        `json:"project,omitempty"`
	Labels      []string        `json:"labels,omitempty"`
	Created     string          `json:"created,omitempty"`
	Updated     string          `json:"updated,omitempty"`
}

// Issue is a Jira issue.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Self   string      `json:"self"`
	Fields IssueFields `json:"fields"`
}

// IssueRef is what Jira returns after creating an issue.
type IssueRef struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

// Transition is one workflow move available on an issue.
type Transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   Named  `json:"to"`
}

// Comment is a Jira comment.
type Comment struct {
	ID      string `json:"id"`
	Self    string `json:"self"`
	Created string `json:"created"`
	Author  *User  `json:"author,omitempty"`
}

// SearchResult is one page of a JQL search.
type SearchResult struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// IssueInput describes a new issue. IssueType defaults to Task.
type IssueInput struct {
	Project     string
	Summary     string
	Description string
	IssueType   string
	Priority    string
	Assignee    string
	Labels      []string
}

// IssueUpdate lists the fields to change. Empty strings and a nil Labels
// leave the field alone.
type IssueUpdate struct {
	Summary     string
	Description string
	Priority    string
	Assignee    string
	Labels      []string
}

// Empty reports whether the update changes nothing.
func (u IssueUpdate) Empty() bool {
	return u.Summary == "" && u.Description == "" && u.Priority == "" &&
		u.Assignee == "" && u.Labels == nil
}

// SearchQuery is a JQL search request.
type SearchQuery struct {
	JQL        string
	StartAt    int
	MaxResults int
	Fields     []string
	Expand     []string
}

var defaultSearchFields = []string{"summary", "status", "assignee", "created", "updated"}

// ─── Jira API ───────────────────────────────────────────────────────────────

// Projects lists every project the account can see.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var out []Project
	if err := c.get(ctx, jiraProject, "/rest/api/3/project", nil, ttlProjects, &out); err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	return out, nil
}

// Issue fetches one issue. expand is passed through when non-empty.
func (c *Client) Issue(ctx context.Context, key, expand string) (Issue, error) {
	var q url.Values
	if expand != "" {
		q = url.Values{"expand": {expand}}
	}
	var out Issue
	if err := c.get(ctx, jiraIssue, "/rest/api/3/issue/"+key, q, ttlIssue, &out); err != nil {
		return Issue{}, fmt.Errorf("getting issue %s: %w", key, err)
	}
	return out, nil
}

// CreateIssue creates an issue and returns its key.
func (c *Client) CreateIssue(ctx context.Context, in IssueInput) (IssueRef, error) {
	issueType := in.IssueType
	if issueType == "" {
		issueType = "Task"
	}
	description := in.Description
	if description == "" {
		description = in.Summary
	}

	fields := map[string]any{
		"project":     map[string]string{"key": in.Project},
		"summary":     in.Summary,
		"description": PlainADF(description),
		"issuetype":   map[string]string{"name": issueType},
	}
	if in.Priority != "" {
		fields["priority"] = map[string]string{"name": in.Priority}
	}
	if in.Assignee != "" {
		fields["assignee"] = map[string]string{"accountId": in.Assignee}
	}
	if len(in.Labels) > 0 {
		fields["labels"] = in.Labels
	}

	var out IssueRef
	body := map[string]any{"fields": fields}
	if err := c.send(ctx, http.MethodPost, jiraIssue, "/rest/api/3/issue", body, &out); err != nil {
		return IssueRef{}, fmt.Errorf("creating issue in %s: %w", in.Project, err)
	}
	return out, nil
}

// UpdateIssue edits the given fields of an issue.
func (c *Client) UpdateIssue(ctx context.Context, key string, u IssueUpdate) error {
	fields := map[string]any{}
	if u.Summary != "" {
		fields["summary"] = u.Summary
	}
	if u.Description != "" {
		fields["description"] = PlainADF(u.Description)
	}
	if u.Priority != "" {
		fields["priority"] = map[string]string{"name": u.Priority}
	}
	if u.Assignee != "" {
		fields["assignee"] = map[string]string{"accountId": u.Assignee}
	}
	if u.Labels != nil {
		fields["labels"] = u.Labels
	}

	body := map[string]any{"fields": fields}
	if err := c.send(ctx, http.MethodPut, jiraIssue, "/rest/api/3/issue/"+key, body, nil); err != nil {
		return fmt.Errorf("updating issue %s: %w", key, err)
	}
	return nil
}

// Transitions lists the workflow moves available on an issue.
func (c *Client) Transitions(ctx context.Context, key string) ([]Transition, error) {
	var out struct {
		Transitions []Transition `json:"transitions"`
	}
	path := "/rest/api/3/issue/" + key + "/transitions"
	if err := c.get(ctx, jiraIssue, path, nil, ttlTransitions, &out); err != nil {
		return nil, fmt.Errorf("listing transitions of %s: %w", key, err)
	}
	return out.Transitions, nil
}

// TransitionIssue moves an issue through the transition whose id or name
// (case-insensitive) matches transition, optionally adding a comment.
func (c *Client) TransitionIssue(ctx context.Context, key, transition, comment string) (Transition, error) {
	available, err := c.Transitions(ctx, key)
	if err != nil {
		return Transition{}, err
	}

	var chosen *Transition
	for i := range available {
		t := &available[i]
		if t.ID == transition || strings.EqualFold(t.Name, transition) || strings.EqualFold(t.To.Name, transition) {
			chosen = t
			break
		}
	}
	if chosen == nil {
		names := make([]string, len(available))
		for i, t := range available {
			names[i] = t.Name
		}
		return Transition{}, fmt.Errorf("issue %s has no transition %q (available: %s)", key, transition, strings.Join(names, ", "))
	}

	body := map[string]any{"transition": map[string]string{"id": chosen.ID}}
	if comment != "" {
		body["update"] = map[string]any{
			"comment": []any{map[string]any{"add": map[string]any{"body": PlainADF(comment)}}},
		}
	}
	path := "/rest/api/3/issue/" + key + "/transitions"
	if err := c.send(ctx, http.MethodPost, jiraIssue, path, body, nil); err != nil {
		return Transition{}, fmt.Errorf("transitioning %s: %w", key, err)
	}
	return *chosen, nil
}

// AddComment adds a plain-text comment to an issue.
func (c *Client) AddComment(ctx context.Context, key, text string) (Comment, error) {
	var out Comment
	body := map[string]any{"body": PlainADF(text)}
	if err := c.send(ctx, http.MethodPost, jiraIssue, "/rest/api/3/issue/"+key+"/comment", body, &out); err != nil {
		return Comment{}, fmt.Errorf("commenting on %s: %w", key, err)
	}
	return out, nil
}

// SearchIssues runs a JQL query. MaxResults defaults to 50 and is capped
// at 100.
func (c *Client) SearchIssues(ctx context.Context, q SearchQuery) (SearchResult, error) {
	if q.MaxResults <= 0 {
		q.MaxResults = 50
	}
	q.MaxResults = min(q.MaxResults, 100)
	fields := q.Fields
	if len(fields) == 0 {
		fields = defaultSearchFields
	}

	params := url.Values{
		"jql":        {q.JQL},
		"startAt":    {strconv.Itoa(q.StartAt)},
		"maxResults": {strconv.Itoa(q.MaxResults)},
		"fields":     {strings.Join(fields, ",")},
	}
	if len(q.Expand) > 0 {
		params.Set("expand", strings.Join(q.Expand, ","))
	}

	var out SearchResult
	if err := c.get(ctx, jiraSearch, "/rest/api/3/search", params, ttlSearch, &out); err != nil {
		return SearchResult{}, fmt.Errorf("searching issues: %w", err)
	}
	return out, nil
}

// Myself returns the authenticated account. Never cached.
func (c *Client) Myself(ctx context.Context) (User, error) {
	var out User
	if err := c.get(ctx, jiraUser, "/rest/api/3/myself", nil, 0, &out); err != nil {
		return User{}, fmt.Errorf("checking credentials: %w", err)
	}
	return out, nil
}

// Health is the result of a connectivity check.
type Health struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// HealthCheck calls /myself and reports healthy or unhealthy. It never
// returns an error.
func (c *Client) HealthCheck(ctx context.Context) Health {
	h := Health{Timestamp: time.Now().UTC()}
	me, err := c.Myself(ctx)
	if err != nil {
		h.Status = "unhealthy"
		h.Error = err.Error()
		return h
	}
	h.Status = "healthy"
	h.User = me.DisplayName
	return h
}
