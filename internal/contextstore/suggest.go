package contextstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ─── Types ──────────────────────────────────────────────────────────────────

// Kind classifies a suggestion.
type Kind string

const (
	KindAutocomplete Kind = "autocomplete"
	KindNextAction   Kind = "next-action"
	KindTemplate     Kind = "template"
	KindOptimization Kind = "optimization"
)

// Suggestion is a ranked hint returned alongside a tool result. Confidence
// is a ranking heuristic in [0,1], not a probability.
type Suggestion struct {
	Kind        Kind           `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Confidence  float64        `json:"confidence"`
	Payload     map[string]any `json:"data,omitempty"`
}

type nextAction struct {
	tool        string
	title       string
	description string
	confidence  float64
}

// nextActions maps the last executed tool to the usual follow-ups.
var nextActions = map[string][]nextAction{
	"create_jira_issue": {
		{"comment_jira_issue", "Add a comment", "Add details or context to the issue you just created", 0.7},
		{"create_confluence_page", "Create documentation", "Document the new issue in Confluence", 0.6},
	},
	"search_jira_issues": {
		{"bulk_update_issues", "Bulk update", "Update every issue the search returned in one call", 0.7},
	},
	"get_jira_issue": {
		{"transition_jira_issue", "Move the issue", "Transition the issue to its next workflow status", 0.6},
	},
	"create_confluence_page": {
		{"add_confluence_comment", "Add a comment", "Start the discussion on the new page", 0.6},
	},
	"search_confluence_pages": {
		{"get_confluence_page", "Open a page", "Read the full content of one of the results", 0.6},
	},
}

const (
	maxTemplateItems = 5
	maxPatterns      = 3
)

// ─── Suggestions ────────────────────────────────────────────────────────────

// Suggestions builds the ranked suggestions for userID about to run (or
// having just run) currentTool. The result is sorted by confidence,
// highest first; equal confidences keep the order they were produced in.
func (s *Store) Suggestions(ctx context.Context, userID, currentTool string) []Suggestion {
	prefs := s.Context(ctx, userID).Preferences
	history := s.ToolHistory(userID)
	tool := strings.ToLower(currentTool)

	var out []Suggestion

	if prefs.DefaultProject != "" && !hasSegment(tool, "project") {
		out = append(out, Suggestion{
			Kind:        KindAutocomplete,
			Title:       "Use default project",
			Description: fmt.Sprintf("Use %s as the project", prefs.DefaultProject),
			Confidence:  0.9,
			Payload:     map[string]any{"field": "project", "value": prefs.DefaultProject},
		})
	}

	if prefs.DefaultSpace != "" && strings.Contains(tool, "confluence") {
		out = append(out, Suggestion{
			Kind:        KindAutocomplete,
			Title:       "Use default space",
			Description: fmt.Sprintf("Use %s as the space", prefs.DefaultSpace),
			Confidence:  0.9,
			Payload:     map[string]any{"field": "space", "value": prefs.DefaultSpace},
		})
	}

	if len(prefs.RecentIssues) > 0 && strings.Contains(tool, "jira") {
		issues := head(prefs.RecentIssues, maxTemplateItems)
		out = append(out, Suggestion{
			Kind:        KindTemplate,
			Title:       "Recent issues",
			Description: "Issues you worked on recently: " + strings.Join(issues, ", "),
			Confidence:  0.8,
			Payload:     map[string]any{"issues": issues},
		})
	}

	if len(prefs.RecentPages) > 0 && strings.Contains(tool, "confluence") {
		pages := head(prefs.RecentPages, maxTemplateItems)
		out = append(out, Suggestion{
			Kind:        KindTemplate,
			Title:       "Recent pages",
			Description: "Pages you worked on recently: " + strings.Join(pages, ", "),
			Confidence:  0.8,
			Payload:     map[string]any{"pages": pages},
		})
	}

	if len(history) > 0 {
		last := EntryTool(history[len(history)-1])
		for _, a := range nextActions[last] {
			out = append(out, Suggestion{
				Kind:        KindNextAction,
				Title:       a.title,
				Description: a.description,
				Confidence:  a.confidence,
				Payload:     map[string]any{"tool": a.tool},
			})
		}
	}

	if patterns := AnalyzeToolPatterns(history); len(patterns) > 0 {
		out = append(out, Suggestion{
			Kind:        KindOptimization,
			Title:       "Repeated workflow",
			Description: "You often run " + patterns[0] + ". Consider a bulk operation.",
			Confidence:  0.8,
			Payload:     map[string]any{"patterns": patterns},
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// AnalyzeToolPatterns finds adjacent tool pairs that occur more than once
// in history and returns up to three of them as "toolA → toolB", most
// frequent first. Ties keep first-seen order.
func AnalyzeToolPatterns(history []string) []string {
	if len(history) < 2 {
		return nil
	}

	type pair struct {
		label string
		count int
	}
	var pairs []*pair
	index := make(map[string]*pair)

	prev := EntryTool(history[0])
	for _, e := range history[1:] {
		cur := EntryTool(e)
		label := prev + " → " + cur
		p, ok := index[label]
		if !ok {
			p = &pair{label: label}
			index[label] = p
			pairs = append(pairs, p)
		}
		p.count++
		prev = cur
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].count > pairs[j].count
	})

	var out []string
	for _, p := range pairs {
		if p.count < 2 || len(out) == maxPatterns {
			break
		}
		out = append(out, p.label)
	}
	return out
}

// AutoComplete returns the stored values for field: "project", "space",
// "issue" or "page". Any other field yields an empty list.
func (s *Store) AutoComplete(ctx context.Context, userID, field string) []string {
	prefs := s.Context(ctx, userID).Preferences
	switch field {
	case "project":
		return prefs.FavoriteProjects
	case "space":
		return prefs.FavoriteSpaces
	case "issue":
		return prefs.RecentIssues
	case "page":
		return prefs.RecentPages
	default:
		return []string{}
	}
}

// hasSegment reports whether one of the underscore-separated words of
// tool is exactly word, so "get_project_roles" matches "project" and
// "list_jira_projects" does not.
func hasSegment(tool, word string) bool {
	for _, seg := range strings.Split(tool, "_") {
		if seg == word {
			return true
		}
	}
	return false
}

func head(s []string, n int) []string {
	if len(s) > n {
		s = s[:n]
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
