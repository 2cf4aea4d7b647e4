package atlassian

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Sentinel errors matched with errors.Is against an *APIError.
var (
	ErrUnauthorized = errors.New("atlassian authentication failed, check the email and API token")
	ErrForbidden    = errors.New("insufficient permissions for this Atlassian operation")
	ErrNotFound     = errors.New("atlassian resource not found")
	ErrRateLimited  = errors.New("atlassian rate limit exceeded")
)

// APIError is a non-2xx response from Jira or Confluence.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	// Messages holds whatever the API said about the failure, flattened.
	Messages []string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	if len(e.Messages) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Messages, "; "))
	}
	return b.String()
}

// Unwrap maps well-known status codes to the package sentinels.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

// errorBody covers both error shapes: Jira uses errorMessages/errors,
// Confluence uses message.
type errorBody struct {
	ErrorMessages []string          `json:"errorMessages"`
	Errors        map[string]string `json:"errors"`
	Message       string            `json:"message"`
}

func newAPIError(method, path string, status int, body []byte) *APIError {
	e := &APIError{Method: method, Path: path, StatusCode: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		if s := strings.TrimSpace(string(body)); s != "" && len(s) <= 200 {
			e.Messages = []string{s}
		}
		return e
	}

	e.Messages = append(e.Messages, eb.ErrorMessages...)
	fields := make([]string, 0, len(eb.Errors))
	for f := range eb.Errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		e.Messages = append(e.Messages, f+": "+eb.Errors[f])
	}
	if eb.Message != "" {
		e.Messages = append(e.Messages, eb.Message)
	}
	return e
}
