// Package mockstore is the synthetic Jira/Confluence dataset used when no
// Atlassian credentials are configured.
//
// A Store is safe for concurrent use. With a state file (OpenFile) every
// operation reloads the file under an exclusive advisory lock and writes it
// back after a mutation, so executors started in separate processes see one
// dataset and never hand out the same id twice.
package mockstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/atlasbridge/atlasbridge/internal/core"
)

const (
	DefaultJiraURL       = "https://mock-jira.com"
	DefaultConfluenceURL = "https://mock-confluence.com"
	unassigned           = "Unassigned"
	notFoundHint         = "in mock data"
	firstPageID          = 3000
)

type Ticket struct {
	Key         string    `json:"key"`
	Project     string    `json:"project"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Assignee    string    `json:"assignee"`
	IssueType   string    `json:"issue_type"`
	Deleted     bool      `json:"deleted,omitempty"`
	Seq         int       `json:"seq"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Page struct {
	ID        string    `json:"id"`
	SpaceKey  string    `json:"space_key"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	ParentID  string    `json:"parent_id,omitempty"`
	Version   int       `json:"version"`
	Deleted   bool      `json:"deleted,omitempty"`
	Seq       int       `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TicketInput carries the fields for CreateTicket.
type TicketInput struct {
	Project     string
	Summary     string
	Description string
	IssueType   string
	Assignee    string
}

// TicketPatch carries an update; nil fields are left unchanged.
type TicketPatch struct {
	Summary     *string
	Description *string
	Status      *string
	Assignee    *string
}

type PageInput struct {
	SpaceKey string
	Title    string
	Body     string
	ParentID string
}

type PagePatch struct {
	Title *string
	Body  *string
}

// state is the whole dataset; it is what the state file holds.
type state struct {
	Tickets    map[string]*Ticket `json:"tickets"`
	Pages      map[string]*Page   `json:"pages"`
	Counters   map[string]int     `json:"counters"`
	NextPageID int                `json:"next_page_id"`
	Seq        int                `json:"seq"`
}

type Store struct {
	mu            sync.Mutex
	st            *state
	path          string
	jiraURL       string
	confluenceURL string
	now           func() time.Time
}

// New returns an in-memory store holding the seed dataset.
func New() *Store {
	return &Store{
		st:            seed(time.Now().UTC()),
		jiraURL:       DefaultJiraURL,
		confluenceURL: DefaultConfluenceURL,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// OpenFile returns a store backed by the JSON state file at path. A missing
// file is created from the seed dataset on the first mutation.
func OpenFile(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("open mock state: %w", err)
	}
	s := New()
	s.path = path
	if err := s.withState(false, func(*state) error { return nil }); err != nil {
		return nil, fmt.Errorf("open mock state: %w", err)
	}
	return s, nil
}

// SetBaseURLs overrides the hosts used to build entity URLs.
func (s *Store) SetBaseURLs(jiraURL, confluenceURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if jiraURL != "" {
		s.jiraURL = strings.TrimRight(jiraURL, "/")
	}
	if confluenceURL != "" {
		s.confluenceURL = strings.TrimRight(confluenceURL, "/")
	}
}

func (s *Store) TicketURL(key string) string {
	return s.jiraURL + "/browse/" + key
}

func (s *Store) PageURL(p Page) string {
	return fmt.Sprintf("%s/wiki/spaces/%s/pages/%s", s.confluenceURL, p.SpaceKey, p.ID)
}

// withState runs fn against the current dataset while holding the store
// mutex and, for file-backed stores, the file lock. The file is rewritten
// when mutate is true and fn succeeds.
func (s *Store) withState(mutate bool, fn func(*state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return fn(s.st)
	}

	unlock, err := lockFile(s.path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()

	loaded, err := loadState(s.path)
	if err != nil {
		return err
	}
	if loaded != nil {
		s.st = loaded
	}
	if err := fn(s.st); err != nil {
		return err
	}
	if !mutate {
		return nil
	}
	return saveState(s.path, s.st)
}

func (s *Store) GetTicket(key string) (Ticket, error) {
	key = normalizeKey(key)
	var out Ticket
	err := s.withState(false, func(st *state) error {
		t, ok := st.Tickets[key]
		if !ok || t.Deleted {
			return &core.NotFoundError{Kind: core.KindTicket, ID: key, Hint: notFoundHint}
		}
		out = *t
		return nil
	})
	return out, err
}

func (s *Store) CreateTicket(in TicketInput) (Ticket, error) {
	project := strings.ToUpper(strings.TrimSpace(in.Project))
	if project == "" {
		return Ticket{}, fmt.Errorf("project_key is required")
	}
	if err := core.ValidateTicketInput(in.Summary, in.Description, true); err != nil {
		return Ticket{}, err
	}
	issueType := strings.TrimSpace(in.IssueType)
	if issueType == "" {
		issueType = "Task"
	}
	assignee := strings.TrimSpace(in.Assignee)
	if assignee == "" {
		assignee = unassigned
	}

	var out Ticket
	err := s.withState(true, func(st *state) error {
		st.Counters[project]++
		st.Seq++
		now := s.now()
		t := &Ticket{
			Key:         fmt.Sprintf("%s-%d", project, st.Counters[project]),
			Project:     project,
			Summary:     strings.TrimSpace(in.Summary),
			Description: in.Description,
			Status:      "To Do",
			Assignee:    assignee,
			IssueType:   issueType,
			Seq:         st.Seq,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		st.Tickets[t.Key] = t
		out = *t
		return nil
	})
	return out, err
}

func (s *Store) UpdateTicket(key string, patch TicketPatch) (Ticket, error) {
	key = normalizeKey(key)
	summary := ""
	if patch.Summary != nil {
		summary = *patch.Summary
	}
	description := ""
	if patch.Description != nil {
		description = *patch.Description
	}
	if err := core.ValidateTicketInput(summary, description, false); err != nil {
		return Ticket{}, err
	}

	var out Ticket
	err := s.withState(true, func(st *state) error {
		t, ok := st.Tickets[key]
		if !ok || t.Deleted {
			return &core.NotFoundError{Kind: core.KindTicket, ID: key, Hint: notFoundHint}
		}
		if patch.Summary != nil && strings.TrimSpace(*patch.Summary) != "" {
			t.Summary = strings.TrimSpace(*patch.Summary)
		}
		if patch.Description != nil {
			t.Description = *patch.Description
		}
		if patch.Status != nil && strings.TrimSpace(*patch.Status) != "" {
			t.Status = strings.TrimSpace(*patch.Status)
		}
		if patch.Assignee != nil {
			a := strings.TrimSpace(*patch.Assignee)
			if a == "" {
				a = unassigned
			}
			t.Assignee = a
		}
		t.UpdatedAt = s.now()
		out = *t
		return nil
	})
	return out, err
}

// DeleteTicket marks a ticket removed. It reports whether the ticket was
// live before the call; deleting a removed or unknown ticket is not an error.
func (s *Store) DeleteTicket(key string) (bool, error) {
	key = normalizeKey(key)
	existed := false
	err := s.withState(true, func(st *state) error {
		t, ok := st.Tickets[key]
		if !ok || t.Deleted {
			return nil
		}
		t.Deleted = true
		t.UpdatedAt = s.now()
		existed = true
		return nil
	})
	return existed, err
}

// SearchTickets filters live tickets with a JQL subset. A query the subset
// cannot parse is matched as free text against key, summary and description.
func (s *Store) SearchTickets(jql string, maxResults int) ([]Ticket, error) {
	match, err := CompileJQL(jql)
	if err != nil {
		match = freeTextMatcher(jql)
	}
	var out []Ticket
	err = s.withState(false, func(st *state) error {
		for _, t := range st.Tickets {
			if t.Deleted || !match(t) {
				continue
			}
			out = append(out, *t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	return limit(out, maxResults), nil
}

func (s *Store) GetPage(id string) (Page, error) {
	id = strings.TrimSpace(id)
	var out Page
	err := s.withState(false, func(st *state) error {
		p, ok := st.Pages[id]
		if !ok || p.Deleted {
			return &core.NotFoundError{Kind: core.KindPage, ID: id, Hint: notFoundHint}
		}
		out = *p
		return nil
	})
	return out, err
}

func (s *Store) CreatePage(in PageInput) (Page, error) {
	space := strings.ToUpper(strings.TrimSpace(in.SpaceKey))
	if space == "" {
		return Page{}, fmt.Errorf("space_key is required")
	}
	if err := core.ValidatePageInput(in.Title, in.Body, true); err != nil {
		return Page{}, err
	}

	var out Page
	err := s.withState(true, func(st *state) error {
		parent := strings.TrimSpace(in.ParentID)
		if parent != "" {
			if pp, ok := st.Pages[parent]; !ok || pp.Deleted {
				return &core.NotFoundError{Kind: core.KindPage, ID: parent, Hint: notFoundHint}
			}
		}
		title := strings.TrimSpace(in.Title)
		for _, p := range st.Pages {
			if !p.Deleted && p.SpaceKey == space && strings.EqualFold(p.Title, title) {
				return fmt.Errorf("a page titled %q already exists in space %s", title, space)
			}
		}
		st.NextPageID++
		st.Seq++
		now := s.now()
		p := &Page{
			ID:        strconv.Itoa(st.NextPageID),
			SpaceKey:  space,
			Title:     title,
			Body:      in.Body,
			ParentID:  parent,
			Version:   1,
			Seq:       st.Seq,
			CreatedAt: now,
			UpdatedAt: now,
		}
		st.Pages[p.ID] = p
		out = *p
		return nil
	})
	return out, err
}

func (s *Store) UpdatePage(id string, patch PagePatch) (Page, error) {
	id = strings.TrimSpace(id)
	title, body := "", ""
	if patch.Title != nil {
		title = *patch.Title
	}
	if patch.Body != nil {
		body = *patch.Body
	}
	if err := core.ValidatePageInput(title, body, false); err != nil {
		return Page{}, err
	}

	var out Page
	err := s.withState(true, func(st *state) error {
		p, ok := st.Pages[id]
		if !ok || p.Deleted {
			return &core.NotFoundError{Kind: core.KindPage, ID: id, Hint: notFoundHint}
		}
		if patch.Title != nil && strings.TrimSpace(*patch.Title) != "" {
			p.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Body != nil {
			p.Body = *patch.Body
		}
		p.Version++
		p.UpdatedAt = s.now()
		out = *p
		return nil
	})
	return out, err
}

// DeletePage marks a page removed; see DeleteTicket.
func (s *Store) DeletePage(id string) (bool, error) {
	id = strings.TrimSpace(id)
	existed := false
	err := s.withState(true, func(st *state) error {
		p, ok := st.Pages[id]
		if !ok || p.Deleted {
			return nil
		}
		p.Deleted = true
		p.UpdatedAt = s.now()
		existed = true
		return nil
	})
	return existed, err
}

// SearchPages matches query case-insensitively against title and body,
// optionally restricted to one space.
func (s *Store) SearchPages(query, spaceKey string, maxResults int) ([]Page, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	space := strings.ToUpper(strings.TrimSpace(spaceKey))
	var out []Page
	err := s.withState(false, func(st *state) error {
		for _, p := range st.Pages {
			if p.Deleted {
				continue
			}
			if space != "" && p.SpaceKey != space {
				continue
			}
			if q != "" && !strings.Contains(strings.ToLower(p.Title+"\n"+p.Body), q) {
				continue
			}
			out = append(out, *p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	return limit(out, maxResults), nil
}

func normalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

func limit[T any](in []T, n int) []T {
	if n <= 0 {
		n = core.DefaultMaxResults
	}
	if len(in) > n {
		return in[:n]
	}
	if in == nil {
		return []T{}
	}
	return in
}
