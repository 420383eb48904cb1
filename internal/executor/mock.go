package executor

import (
	"context"
	"fmt"
	"strconv"

	"github.com/atlasbridge/atlasbridge/internal/core"
	"github.com/atlasbridge/atlasbridge/internal/mockstore"
)

const snippetLen = 160

type mockBackend struct {
	store *mockstore.Store
}

// NewMockBackend serves every tool from store.
func NewMockBackend(store *mockstore.Store) Backend {
	return &mockBackend{store: store}
}

func (m *mockBackend) Mode() Mode { return ModeMock }

func (m *mockBackend) ticketEntity(t mockstore.Ticket) core.Entity {
	return core.Entity{
		Kind:   core.KindTicket,
		ID:     t.Key,
		Title:  t.Summary,
		Status: t.Status,
		URL:    m.store.TicketURL(t.Key),
		Extra: map[string]string{
			"assignee":    t.Assignee,
			"issue_type":  t.IssueType,
			"project_key": t.Project,
			"description": t.Description,
		},
	}
}

func (m *mockBackend) pageEntity(p mockstore.Page, withBody bool) core.Entity {
	e := core.Entity{
		Kind:   core.KindPage,
		ID:     p.ID,
		Title:  p.Title,
		Status: "current",
		URL:    m.store.PageURL(p),
		Extra: map[string]string{
			"space_key": p.SpaceKey,
			"version":   strconv.Itoa(p.Version),
			"snippet":   snippet(p.Body),
		},
	}
	if withBody {
		e.Extra["body"] = p.Body
	}
	if p.ParentID != "" {
		e.Extra["parent_id"] = p.ParentID
	}
	return e
}

func (m *mockBackend) GetTicket(_ context.Context, key string) (core.Entity, error) {
	t, err := m.store.GetTicket(key)
	if err != nil {
		return core.Entity{}, err
	}
	return m.ticketEntity(t), nil
}

func (m *mockBackend) CreateTicket(_ context.Context, in TicketCreate) (core.Ack, error) {
	t, err := m.store.CreateTicket(mockstore.TicketInput{
		Project:     in.ProjectKey,
		Summary:     in.Summary,
		Description: in.Description,
		IssueType:   in.IssueType,
		Assignee:    in.Assignee,
	})
	if err != nil {
		return core.Ack{}, err
	}
	return core.Ack{
		Action:  "created",
		Kind:    core.KindTicket,
		ID:      t.Key,
		URL:     m.store.TicketURL(t.Key),
		Message: fmt.Sprintf("Created %s %s: %s", t.IssueType, t.Key, t.Summary),
	}, nil
}

func (m *mockBackend) UpdateTicket(_ context.Context, key string, in TicketUpdate) (core.Ack, error) {
	t, err := m.store.UpdateTicket(key, mockstore.TicketPatch{
		Summary:     in.Summary,
		Description: in.Description,
		Status:      in.Status,
		Assignee:    in.Assignee,
	})
	if err != nil {
		return core.Ack{}, err
	}
	return core.Ack{
		Action:  "updated",
		Kind:    core.KindTicket,
		ID:      t.Key,
		URL:     m.store.TicketURL(t.Key),
		Message: fmt.Sprintf("Updated %s (status %s, assignee %s)", t.Key, t.Status, t.Assignee),
	}, nil
}

func (m *mockBackend) DeleteTicket(_ context.Context, key string) (core.Ack, error) {
	existed, err := m.store.DeleteTicket(key)
	if err != nil {
		return core.Ack{}, err
	}
	return deleteAck(core.KindTicket, key, existed), nil
}

func (m *mockBackend) SearchTickets(_ context.Context, jql string, maxResults int) ([]core.Entity, error) {
	found, err := m.store.SearchTickets(jql, maxResults)
	if err != nil {
		return nil, err
	}
	out := make([]core.Entity, 0, len(found))
	for _, t := range found {
		out = append(out, m.ticketEntity(t))
	}
	return out, nil
}

func (m *mockBackend) GetPage(_ context.Context, id string) (core.Entity, error) {
	p, err := m.store.GetPage(id)
	if err != nil {
		return core.Entity{}, err
	}
	return m.pageEntity(p, true), nil
}

func (m *mockBackend) CreatePage(_ context.Context, in PageCreate) (core.Ack, error) {
	p, err := m.store.CreatePage(mockstore.PageInput{
		SpaceKey: in.SpaceKey,
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
		URL:     m.store.PageURL(p),
		Message: fmt.Sprintf("Created page %q in %s", p.Title, p.SpaceKey),
	}, nil
}

func (m *mockBackend) UpdatePage(_ context.Context, id string, in PageUpdate) (core.Ack, error) {
	p, err := m.store.UpdatePage(id, mockstore.PagePatch{Title: in.Title, Body: in.Body})
	if err != nil {
		return core.Ack{}, err
	}
	return core.Ack{
		Action:  "updated",
		Kind:    core.KindPage,
		ID:      p.ID,
		URL:     m.store.PageURL(p),
		Message: fmt.Sprintf("Updated page %q to version %d", p.Title, p.Version),
	}, nil
}

func (m *mockBackend) DeletePage(_ context.Context, id string) (core.Ack, error) {
	existed, err := m.store.DeletePage(id)
	if err != nil {
		return core.Ack{}, err
	}
	return deleteAck(core.KindPage, id, existed), nil
}

func (m *mockBackend) SearchPages(_ context.Context, query, spaceKey string, maxResults int) ([]core.Entity, error) {
	found, err := m.store.SearchPages(query, spaceKey, maxResults)
	if err != nil {
		return nil, err
	}
	out := make([]core.Entity, 0, len(found))
	for _, p := range found {
		out = append(out, m.pageEntity(p, false))
	}
	return out, nil
}

func deleteAck(kind core.EntityKind, id string, existed bool) core.Ack {
	label := "Ticket"
	if kind == core.KindPage {
		label = "Page"
	}
	msg := fmt.Sprintf("%s %s deleted.", label, id)
	if !existed {
		msg = fmt.Sprintf("%s %s was already deleted.", label, id)
	}
	return core.Ack{Action: "deleted", Kind: kind, ID: id, Message: msg}
}

func snippet(text string) string {
	r := []rune(text)
	if len(r) <= snippetLen {
		return text
	}
	return string(r[:snippetLen]) + "..."
}
