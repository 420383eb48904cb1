package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/atlasbridge/atlasbridge/internal/atlassian"
	"github.com/atlasbridge/atlasbridge/internal/core"
)

type liveBackend struct {
	client *atlassian.Client
}

// NewLiveBackend serves every tool from the Atlassian site behind client.
func NewLiveBackend(client *atlassian.Client) Backend {
	return &liveBackend{client: client}
}

func (l *liveBackend) Mode() Mode { return ModeLive }

func (l *liveBackend) issueEntity(i atlassian.Issue) core.Entity {
	return core.Entity{
		Kind:   core.KindTicket,
		ID:     i.Key,
		Title:  i.Fields.Summary,
		Status: i.StatusName(),
		URL:    l.client.BrowseURL(i.Key),
		Extra: map[string]string{
			"assignee":    i.AssigneeName(),
			"issue_type":  i.IssueTypeName(),
			"project_key": i.ProjectKey(),
			"description": i.DescriptionText(),
		},
	}
}

func (l *liveBackend) pageEntity(p atlassian.Page, withBody bool) core.Entity {
	text := atlassian.StorageToText(p.StorageBody())
	e := core.Entity{
		Kind:   core.KindPage,
		ID:     p.ID,
		Title:  p.Title,
		Status: "current",
		URL:    l.client.PageURL(p),
		Extra: map[string]string{
			"space_key": p.SpaceKey(),
			"version":   strconv.Itoa(p.VersionNumber()),
			"snippet":   snippet(text),
		},
	}
	if withBody {
		e.Extra["body"] = text
	}
	return e
}

func ticketNotFound(key string, err error) error {
	if atlassian.IsNotFound(err) {
		return &core.NotFoundError{Kind: core.KindTicket, ID: key}
	}
	return err
}

func pageNotFound(id string, err error) error {
	if atlassian.IsNotFound(err) {
		return &core.NotFoundError{Kind: core.KindPage, ID: id}
	}
	return err
}

func (l *liveBackend) GetTicket(ctx context.Context, key string) (core.Entity, error) {
	issue, err := l.client.GetIssue(ctx, key)
	if err != nil {
		return core.Entity{}, ticketNotFound(key, err)
	}
	return l.issueEntity(*issue), nil
}

// accountID maps a user reference to a Jira account id. Values that already
// look like account ids are used as given.
func (l *liveBackend) accountID(ctx context.Context, who string) (string, error) {
	if looksLikeAccountID(who) {
		return who, nil
	}
	u, err := l.client.FindUser(ctx, who)
	if err != nil {
		return "", err
	}
	return u.AccountID, nil
}

func looksLikeAccountID(s string) bool {
	if strings.ContainsAny(s, " @") {
		return false
	}
	return strings.Contains(s, ":") || len(s) >= 24
}

func (l *liveBackend) CreateTicket(ctx context.Context, in TicketCreate) (core.Ack, error) {
	if err := core.ValidateTicketInput(in.Summary, in.Description, true); err != nil {
		return core.Ack{}, err
	}
	issueType := in.IssueType
	if issueType == "" {
		issueType = "Task"
	}
	input := atlassian.CreateIssueInput{
		ProjectKey:  strings.ToUpper(in.ProjectKey),
		Summary:     in.Summary,
		Description: in.Description,
		IssueType:   issueType,
	}
	if in.Assignee != "" {
		id, err := l.accountID(ctx, in.Assignee)
		if err != nil {
			return core.Ack{}, err
		}
		input.AssigneeAccountID = id
	}
	created, err := l.client.CreateIssue(ctx, input)
	if err != nil {
		return core.Ack{}, err
	}
	return core.Ack{
		Action:  "created",
		Kind:    core.KindTicket,
		ID:      created.Key,
		URL:     l.client.BrowseURL(created.Key),
		Message: fmt.Sprintf("Created %s %s: %s", issueType, created.Key, in.Summary),
	}, nil
}

func (l *liveBackend) UpdateTicket(ctx context.Context, key string, in TicketUpdate) (core.Ack, error) {
	summary, description := "", ""
	if in.Summary != nil {
		summary = *in.Summary
	}
	if in.Description != nil {
		description = *in.Description
	}
	if err := core.ValidateTicketInput(summary, description, false); err != nil {
		return core.Ack{}, err
	}

	upd := atlassian.UpdateIssueInput{Summary: in.Summary, Description: in.Description}
	if in.Assignee != nil {
		id := ""
		if !strings.EqualFold(*in.Assignee, "unassigned") {
			var err error
			if id, err = l.accountID(ctx, *in.Assignee); err != nil {
				return core.Ack{}, err
			}
		}
		upd.AssigneeAccountID = &id
	}
	if err := l.client.UpdateIssue(ctx, key, upd); err != nil {
		return core.Ack{}, ticketNotFound(key, err)
	}
	changed := []string{}
	if in.Summary != nil {
		changed = append(changed, "summary")
	}
	if in.Description != nil {
		changed = append(changed, "description")
	}
	if in.Assignee != nil {
		changed = append(changed, "assignee")
	}
	if in.Status != nil {
		if err := l.client.TransitionIssue(ctx, key, *in.Status); err != nil {
			return core.Ack{}, ticketNotFound(key, err)
		}
		changed = append(changed, "status")
	}
	return core.Ack{
		Action:  "updated",
		Kind:    core.KindTicket,
		ID:      key,
		URL:     l.client.BrowseURL(key),
		Message: fmt.Sprintf("Updated %s: %s", key, strings.Join(changed, ", ")),
	}, nil
}

func (l *liveBackend) DeleteTicket(ctx context.Context, key string) (core.Ack, error) {
	err := l.client.DeleteIssue(ctx, key)
	if err != nil && !atlassian.IsNotFound(err) {
		return core.Ack{}, err
	}
	return deleteAck(core.KindTicket, key, err == nil), nil
}

func (l *liveBackend) SearchTickets(ctx context.Context, jql string, maxResults int) ([]core.Entity, error) {
	issues, err := l.client.SearchIssues(ctx, jql, maxResults)
	if err != nil {
		return nil, err
	}
	out := make([]core.Entity, 0, len(issues))
	for _, i := range issues {
		out = append(out, l.issueEntity(i))
	}
	return out, nil
}

func (l *liveBackend) GetPage(ctx context.Context, id string) (core.Entity, error) {
	p, err := l.client.GetPage(ctx, id)
	if err != nil {
		return core.Entity{}, pageNotFound(id, err)
	}
	return l.pageEntity(*p, true), nil
}

func (l *liveBackend) CreatePage(ctx context.Context, in PageCreate) (core.Ack, error) {
	if err := core.ValidatePageInput(in.Title, in.Body, true); err != nil {
		return core.Ack{}, err
	}
	p, err := l.client.CreatePage(ctx, atlassian.CreatePageInput{
		SpaceKey: strings.ToUpper(in.SpaceKey),
		Title:    in.Title,
		Body:     in.Body,
		ParentID: in.ParentID,
	})
	if err != nil {
		return core.Ack{}, err
	}
	return core.Ack{
		Action:  "created",
		Kind:    core.KindPage,
		ID:      p.ID,
		URL:     l.client.PageURL(*p),
		Message: fmt.Sprintf("Created page %q in %s", p.Title, strings.ToUpper(in.SpaceKey)),
	}, nil
}

func (l *liveBackend) UpdatePage(ctx context.Context, id string, in PageUpdate) (core.Ack, error) {
	title, body := "", ""
	if in.Title != nil {
		title = *in.Title
	}
	if in.Body != nil {
		body = *in.Body
	}
	if err := core.ValidatePageInput(title, body, false); err != nil {
		return core.Ack{}, err
	}
	p, err := l.client.UpdatePage(ctx, id, in.Title, in.Body)
	if err != nil {
		return core.Ack{}, pageNotFound(id, err)
	}
	return core.Ack{
		Action:  "updated",
		Kind:    core.KindPage,
		ID:      p.ID,
		URL:     l.client.PageURL(*p),
		Message: fmt.Sprintf("Updated page %q to version %d", p.Title, p.VersionNumber()),
	}, nil
}

func (l *liveBackend) DeletePage(ctx context.Context, id string) (core.Ack, error) {
	err := l.client.DeletePage(ctx, id)
	if err != nil && !atlassian.IsNotFound(err) {
		return core.Ack{}, err
	}
	return deleteAck(core.KindPage, id, err == nil), nil
}

func (l *liveBackend) SearchPages(ctx context.Context, query, spaceKey string, maxResults int) ([]core.Entity, error) {
	pages, err := l.client.SearchPages(ctx, query, strings.ToUpper(spaceKey), maxResults)
	if err != nil {
		return nil, err
	}
	out := make([]core.Entity, 0, len(pages))
	for _, p := range pages {
		out = append(out, l.pageEntity(p, false))
	}
	return out, nil
}
