package atlassian

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

type Page struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	Space *struct {
		Key string `json:"key"`
	} `json:"space,omitempty"`
	Version *struct {
		Number int `json:"number"`
	} `json:"version,omitempty"`
	Body *struct {
		Storage *struct {
			Value string `json:"value"`
		} `json:"storage,omitempty"`
	} `json:"body,omitempty"`
	Ancestors []struct {
		ID string `json:"id"`
	} `json:"ancestors,omitempty"`
	Links struct {
		WebUI string `json:"webui"`
	} `json:"_links"`
}

func (p Page) SpaceKey() string {
	if p.Space == nil {
		return ""
	}
	return p.Space.Key
}

func (p Page) VersionNumber() int {
	if p.Version == nil {
		return 0
	}
	return p.Version.Number
}

func (p Page) StorageBody() string {
	if p.Body == nil || p.Body.Storage == nil {
		return ""
	}
	return p.Body.Storage.Value
}

// PageURL is the human-facing URL of a page.
func (c *Client) PageURL(p Page) string {
	if p.Links.WebUI != "" {
		return c.BaseURL() + "/wiki" + p.Links.WebUI
	}
	return c.BaseURL() + "/wiki/spaces/" + p.SpaceKey() + "/pages/" + p.ID
}

func pagePath(id string) string {
	return "/wiki/rest/api/content/" + url.PathEscape(strings.TrimSpace(id))
}

func (c *Client) GetPage(ctx context.Context, id string) (*Page, error) {
	q := url.Values{"expand": {"body.storage,version,space,ancestors"}}
	var p Page
	if err := c.do(ctx, "get page", http.MethodGet, pagePath(id), q, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

type CreatePageInput struct {
	SpaceKey string
	Title    string
	Body     string
	ParentID string
}

func (c *Client) CreatePage(ctx context.Context, in CreatePageInput) (*Page, error) {
	body := map[string]any{
		"type":  "page",
		"title": in.Title,
		"space": map[string]string{"key": in.SpaceKey},
		"body": map[string]any{
			"storage": map[string]string{"value": TextToStorage(in.Body), "representation": "storage"},
		},
	}
	if in.ParentID != "" {
		body["ancestors"] = []map[string]string{{"id": in.ParentID}}
	}
	var p Page
	if err := c.do(ctx, "create page", http.MethodPost, "/wiki/rest/api/content", nil, body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePage replaces the title and/or body of a page. Confluence requires
// the next version number, so the current page is fetched first.
func (c *Client) UpdatePage(ctx context.Context, id string, title, bodyText *string) (*Page, error) {
	cur, err := c.GetPage(ctx, id)
	if err != nil {
		return nil, err
	}
	newTitle := cur.Title
	if title != nil && strings.TrimSpace(*title) != "" {
		newTitle = strings.TrimSpace(*title)
	}
	storage := cur.StorageBody()
	if bodyText != nil {
		storage = TextToStorage(*bodyText)
	}
	body := map[string]any{
		"id":      cur.ID,
		"type":    "page",
		"title":   newTitle,
		"version": map[string]int{"number": cur.VersionNumber() + 1},
		"body": map[string]any{
			"storage": map[string]string{"value": storage, "representation": "storage"},
		},
	}
	var p Page
	if err := c.do(ctx, "update page", http.MethodPut, pagePath(id), nil, body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) DeletePage(ctx context.Context, id string) error {
	return c.do(ctx, "delete page", http.MethodDelete, pagePath(id), nil, nil, nil)
}

// SearchPages runs a CQL text search over pages, optionally within a space.
func (c *Client) SearchPages(ctx context.Context, query, spaceKey string, limit int) ([]Page, error) {
	cql := `type = page AND text ~ "` + cqlEscape(query) + `"`
	if spaceKey != "" {
		cql += ` AND space = "` + cqlEscape(spaceKey) + `"`
	}
	q := url.Values{
		"cql":    {cql},
		"limit":  {strconv.Itoa(limit)},
		"expand": {"space,version,body.storage"},
	}
	var out struct {
		Results []Page `json:"results"`
	}
	if err := c.do(ctx, "search pages", http.MethodGet, "/wiki/rest/api/content/search", q, nil, &out); err != nil {
		return nil, err
	}
	if out.Results == nil {
		out.Results = []Page{}
	}
	return out.Results, nil
}

func cqlEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
