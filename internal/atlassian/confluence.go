package atlassian

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Space is a Confluence space.
type Space struct {
	ID     int64  `json:"id"`
	Key    string `json:"key"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status string `json:"status,omitempty"`
}

// Storage is page content in Confluence storage format (XHTML).
type Storage struct {
	Value          string `json:"value"`
	Representation string `json:"representation"`
}

// PageBody wraps the storage representation.
type PageBody struct {
	Storage *Storage `json:"storage,omitempty"`
}

// Version is a content version.
type Version struct {
	Number int `json:"number"`
}

// Page is a Confluence page, blog post or comment.
type Page struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Status  string         `json:"status,omitempty"`
	Title   string         `json:"title"`
	Space   *Space         `json:"space,omitempty"`
	Version *Version       `json:"version,omitempty"`
	Body    *PageBody      `json:"body,omitempty"`
	Links   map[string]any `json:"_links,omitempty"`
}

// Content returns the storage-format body or "".
func (p Page) Content() string {
	if p.Body == nil || p.Body.Storage == nil {
		return ""
	}
	return p.Body.Storage.Value
}

// PageList is one page of content results.
type PageList struct {
	Results []Page `json:"results"`
	Start   int    `json:"start"`
	Limit   int    `json:"limit"`
	Size    int    `json:"size"`
}

// SpaceQuery filters ListSpaces.
type SpaceQuery struct {
	Type   string
	Status string
	Limit  int
	Start  int
}

// PageInput describes a new page. Type defaults to "page".
type PageInput struct {
	Space    string
	Title    string
	Content  string
	ParentID string
	Type     string
}

// PageUpdate changes a page. A zero Version means "current version"; an
// empty Title or Content keeps the existing value.
type PageUpdate struct {
	Title   string
	Content string
	Version int
}

// PageSearch is a content search. When CQL is empty one is built from the
// other fields.
type PageSearch struct {
	CQL   string
	Text  string
	Title string
	Space string
	Type  string
	Limit int
	Start int
}

// BuildCQL assembles the query used when no raw CQL was given.
func (q PageSearch) BuildCQL() string {
	if q.CQL != "" {
		return q.CQL
	}
	typ := q.Type
	if typ == "" {
		typ = "page"
	}
	clauses := []string{"type = " + quoteCQL(typ)}
	if q.Space != "" {
		clauses = append(clauses, "space = "+quoteCQL(q.Space))
	}
	if q.Title != "" {
		clauses = append(clauses, "title ~ "+quoteCQL(q.Title))
	}
	if q.Text != "" {
		clauses = append(clauses, "text ~ "+quoteCQL(q.Text))
	}
	return strings.Join(clauses, " AND ")
}

func quoteCQL(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// ChildQuery selects the children listed by PageChildren.
type ChildQuery struct {
	Type  string
	Limit int
	Start int
}

const defaultPageExpand = "body.storage,version,space"

func pageLimit(n int) int {
	if n <= 0 {
		return 25
	}
	return min(n, 200)
}

// ListSpaces lists spaces. Type defaults to global and Status to current.
func (c *Client) ListSpaces(ctx context.Context, q SpaceQuery) ([]Space, error) {
	if q.Type == "" {
		q.Type = "global"
	}
	if q.Status == "" {
		q.Status = "current"
	}
	params := url.Values{
		"type":   {q.Type},
		"status": {q.Status},
		"limit":  {strconv.Itoa(pageLimit(q.Limit))},
		"start":  {strconv.Itoa(q.Start)},
	}

	var out struct {
		Results []Space `json:"results"`
	}
	if err := c.get(ctx, confluenceSpace, "/rest/api/space", params, ttlSpaces, &out); err != nil {
		return nil, fmt.Errorf("listing spaces: %w", err)
	}
	return out.Results, nil
}

// Page fetches one piece of content. expand defaults to body, version and
// space.
func (c *Client) Page(ctx context.Context, id, expand string) (Page, error) {
	return c.page(ctx, id, expand, ttlPage)
}

func (c *Client) page(ctx context.Context, id, expand string, ttl time.Duration) (Page, error) {
	if expand == "" {
		expand = defaultPageExpand
	}
	var out Page
	q := url.Values{"expand": {expand}}
	if err := c.get(ctx, confluenceContent, "/rest/api/content/"+id, q, ttl, &out); err != nil {
		return Page{}, fmt.Errorf("getting page %s: %w", id, err)
	}
	return out, nil
}

// CreatePage creates a page or blog post.
func (c *Client) CreatePage(ctx context.Context, in PageInput) (Page, error) {
	typ := in.Type
	if typ == "" {
		typ = "page"
	}
	body := map[string]any{
		"type":  typ,
		"title": in.Title,
		"space": map[string]string{"key": in.Space},
		"body":  storageBody(in.Content),
	}
	if in.ParentID != "" {
		body["ancestors"] = []map[string]string{{"id": in.ParentID}}
	}

	var out Page
	if err := c.send(ctx, http.MethodPost, confluenceContent, "/rest/api/content", body, &out); err != nil {
		return Page{}, fmt.Errorf("creating page in %s: %w", in.Space, err)
	}
	return out, nil
}

// UpdatePage writes a new version of a page. The current page is always
// read fresh so the version bump is based on the latest number.
func (c *Client) UpdatePage(ctx context.Context, id string, u PageUpdate) (Page, error) {
	current, err := c.page(ctx, id, defaultPageExpand, 0)
	if err != nil {
		return Page{}, err
	}

	version := u.Version
	if version <= 0 && current.Version != nil {
		version = current.Version.Number
	}
	title := u.Title
	if title == "" {
		title = current.Title
	}
	content := u.Content
	if content == "" {
		content = current.Content()
	}

	body := map[string]any{
		"id":      id,
		"type":    current.Type,
		"title":   title,
		"version": map[string]int{"number": version + 1},
		"body":    storageBody(content),
	}
	var out Page
	if err := c.send(ctx, http.MethodPut, confluenceContent, "/rest/api/content/"+id, body, &out); err != nil {
		return Page{}, fmt.Errorf("updating page %s: %w", id, err)
	}
	return out, nil
}

// DeletePage moves a page to the trash.
func (c *Client) DeletePage(ctx context.Context, id string) error {
	if err := c.send(ctx, http.MethodDelete, confluenceContent, "/rest/api/content/"+id, nil, nil); err != nil {
		return fmt.Errorf("deleting page %s: %w", id, err)
	}
	return nil
}

// AddPageComment adds a storage-format comment to a page.
func (c *Client) AddPageComment(ctx context.Context, pageID, text string) (Page, error) {
	body := map[string]any{
		"type":      "comment",
		"container": map[string]string{"id": pageID, "type": "page"},
		"body":      storageBody(text),
	}
	var out Page
	if err := c.send(ctx, http.MethodPost, confluenceContent, "/rest/api/content", body, &out); err != nil {
		return Page{}, fmt.Errorf("commenting on page %s: %w", pageID, err)
	}
	return out, nil
}

// SearchPages runs a CQL content search.
func (c *Client) SearchPages(ctx context.Context, q PageSearch) (PageList, error) {
	params := url.Values{
		"cql":   {q.BuildCQL()},
		"limit": {strconv.Itoa(pageLimit(q.Limit))},
		"start": {strconv.Itoa(q.Start)},
	}
	var out PageList
	if err := c.get(ctx, confluenceSearch, "/rest/api/content/search", params, ttlSearch, &out); err != nil {
		return PageList{}, fmt.Errorf("searching pages: %w", err)
	}
	return out, nil
}

// PageChildren lists the children of a page. Type defaults to "page".
func (c *Client) PageChildren(ctx context.Context, id string, q ChildQuery) (PageList, error) {
	typ := q.Type
	if typ == "" {
		typ = "page"
	}
	params := url.Values{
		"limit":  {strconv.Itoa(pageLimit(q.Limit))},
		"start":  {strconv.Itoa(q.Start)},
		"expand": {"version,space"},
	}
	var out PageList
	path := "/rest/api/content/" + id + "/child/" + typ
	if err := c.get(ctx, confluenceContent, path, params, ttlChildren, &out); err != nil {
		return PageList{}, fmt.Errorf("listing children of %s: %w", id, err)
	}
	return out, nil
}

// PageURL links to a page in the web UI when Confluence returned one.
func (c *Client) PageURL(p Page) string {
	if p.Links == nil {
		return ""
	}
	web, _ := p.Links["webui"].(string)
	if web == "" {
		return ""
	}
	if base, _ := p.Links["base"].(string); base != "" {
		return base + web
	}
	return c.BaseURL() + web
}

func storageBody(content string) map[string]any {
	return map[string]any{
		"storage": Storage{Value: content, Representation: "storage"},
	}
}
