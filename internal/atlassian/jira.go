package atlassian

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

var issueFields = []string{"summary", "status", "assignee", "issuetype", "project", "description"}

type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

type IssueFields struct {
	Summary     string          `json:"summary"`
	Description json.RawMessage `json:"description,omitempty"`
	Status      *struct {
		Name string `json:"name"`
	} `json:"status,omitempty"`
	Assignee *User `json:"assignee,omitempty"`
	IssueType *struct {
		Name string `json:"name"`
	} `json:"issuetype,omitempty"`
	Project *struct {
		Key string `json:"key"`
	} `json:"project,omitempty"`
}

type User struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
}

func (i Issue) StatusName() string {
	if i.Fields.Status == nil {
		return ""
	}
	return i.Fields.Status.Name
}

func (i Issue) AssigneeName() string {
	if i.Fields.Assignee == nil || i.Fields.Assignee.DisplayName == "" {
		return "Unassigned"
	}
	return i.Fields.Assignee.DisplayName
}

func (i Issue) IssueTypeName() string {
	if i.Fields.IssueType == nil {
		return ""
	}
	return i.Fields.IssueType.Name
}

func (i Issue) ProjectKey() string {
	if i.Fields.Project != nil {
		return i.Fields.Project.Key
	}
	if idx := strings.LastIndex(i.Key, "-"); idx > 0 {
		return i.Key[:idx]
	}
	return ""
}

func (i Issue) DescriptionText() string {
	return ADFToText(i.Fields.Description)
}

// BrowseURL is the human-facing URL of an issue.
func (c *Client) BrowseURL(key string) string {
	return c.BaseURL() + "/browse/" + key
}

func issuePath(key string) string {
	return "/rest/api/3/issue/" + url.PathEscape(strings.TrimSpace(key))
}

func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	q := url.Values{"fields": {strings.Join(issueFields, ",")}}
	var issue Issue
	if err := c.do(ctx, "get issue", http.MethodGet, issuePath(key), q, nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

type CreateIssueInput struct {
	ProjectKey        string
	Summary           string
	Description       string
	IssueType         string
	AssigneeAccountID string
}

type CreatedIssue struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

func (c *Client) CreateIssue(ctx context.Context, in CreateIssueInput) (*CreatedIssue, error) {
	fields := map[string]any{
		"project":     map[string]string{"key": in.ProjectKey},
		"summary":     in.Summary,
		"description": TextToADF(in.Description),
		"issuetype":   map[string]string{"name": in.IssueType},
	}
	if in.AssigneeAccountID != "" {
		fields["assignee"] = map[string]string{"accountId": in.AssigneeAccountID}
	}
	var created CreatedIssue
	if err := c.do(ctx, "create issue", http.MethodPost, "/rest/api/3/issue", nil, map[string]any{"fields": fields}, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateIssueInput is a partial update; nil fields are left unchanged.
// An empty AssigneeAccountID unassigns the issue.
type UpdateIssueInput struct {
	Summary           *string
	Description       *string
	AssigneeAccountID *string
}

func (in UpdateIssueInput) empty() bool {
	return in.Summary == nil && in.Description == nil && in.AssigneeAccountID == nil
}

func (c *Client) UpdateIssue(ctx context.Context, key string, in UpdateIssueInput) error {
	if in.empty() {
		return nil
	}
	fields := map[string]any{}
	if in.Summary != nil {
		fields["summary"] = *in.Summary
	}
	if in.Description != nil {
		fields["description"] = TextToADF(*in.Description)
	}
	if in.AssigneeAccountID != nil {
		if *in.AssigneeAccountID == "" {
			fields["assignee"] = nil
		} else {
			fields["assignee"] = map[string]string{"accountId": *in.AssigneeAccountID}
		}
	}
	return c.do(ctx, "update issue", http.MethodPut, issuePath(key), nil, map[string]any{"fields": fields}, nil)
}

type transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   struct {
		Name string `json:"name"`
	} `json:"to"`
}

// TransitionIssue moves an issue to the named status. Jira does not allow
// setting status directly; the matching workflow transition is applied.
func (c *Client) TransitionIssue(ctx context.Context, key, status string) error {
	var list struct {
		Transitions []transition `json:"transitions"`
	}
	if err := c.do(ctx, "list transitions", http.MethodGet, issuePath(key)+"/transitions", nil, nil, &list); err != nil {
		return err
	}
	var chosen *transition
	available := make([]string, 0, len(list.Transitions))
	for i := range list.Transitions {
		t := &list.Transitions[i]
		available = append(available, t.To.Name)
		if chosen == nil && (strings.EqualFold(t.To.Name, status) || strings.EqualFold(t.Name, status)) {
			chosen = t
		}
	}
	if chosen == nil {
		return fmt.Errorf("no transition to status %q for %s (available: %s)", status, key, strings.Join(available, ", "))
	}
	body := map[string]any{"transition": map[string]string{"id": chosen.ID}}
	return c.do(ctx, "transition issue", http.MethodPost, issuePath(key)+"/transitions", nil, body, nil)
}

func (c *Client) DeleteIssue(ctx context.Context, key string) error {
	return c.do(ctx, "delete issue", http.MethodDelete, issuePath(key), nil, nil, nil)
}

func (c *Client) SearchIssues(ctx context.Context, jql string, maxResults int) ([]Issue, error) {
	q := url.Values{
		"jql":        {jql},
		"maxResults": {strconv.Itoa(maxResults)},
		"fields":     {strings.Join(issueFields, ",")},
	}
	var out struct {
		Issues []Issue `json:"issues"`
	}
	if err := c.do(ctx, "search issues", http.MethodGet, "/rest/api/3/search/jql", q, nil, &out); err != nil {
		return nil, err
	}
	if out.Issues == nil {
		out.Issues = []Issue{}
	}
	return out.Issues, nil
}

// FindUser resolves a display name, email or account id to an account id.
func (c *Client) FindUser(ctx context.Context, query string) (*User, error) {
	var users []User
	q := url.Values{"query": {query}, "maxResults": {"2"}}
	if err := c.do(ctx, "find user", http.MethodGet, "/rest/api/3/user/search", q, nil, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("no Jira user matches %q", query)
	}
	return &users[0], nil
}
