package atlassian

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/HendryAvila/atlassian-mcp/internal/cache"
)

// WarmEntries returns cache preloads for the project and space lists, the
// two listings almost every session starts with. Keys and values match
// what Projects and ListSpaces would cache themselves.
func (c *Client) WarmEntries() []cache.WarmEntry {
	spaces := url.Values{
		"type":   {"global"},
		"status": {"current"},
		"limit":  {"25"},
		"start":  {"0"},
	}
	return []cache.WarmEntry{
		c.warmEntry(jiraProject, "/rest/api/3/project", nil, ttlProjects),
		c.warmEntry(confluenceSpace, "/rest/api/space", spaces, ttlSpaces),
	}
}

func (c *Client) warmEntry(r resource, path string, query url.Values, ttl time.Duration) cache.WarmEntry {
	return cache.WarmEntry{
		Key: cacheKey(r, path, query),
		Producer: func(ctx context.Context) (any, error) {
			return c.do(ctx, http.MethodGet, r, path, query, nil)
		},
		TTL:  ttl,
		Tags: []string{Tag, r.product},
	}
}
