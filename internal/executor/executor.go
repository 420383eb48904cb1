// Package executor performs one Jira or Confluence operation per call and
// always answers with a core.ResultEnvelope. It never panics into or returns
// an error to its caller.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/atlasbridge/atlasbridge/internal/core"
	"github.com/atlasbridge/atlasbridge/internal/registry"
	"github.com/atlasbridge/atlasbridge/internal/telemetry"
)

// Mode names the backend an executor was started with.
type Mode string

const (
	ModeMock Mode = "mock"
	ModeLive Mode = "live"
)

type TicketCreate struct {
	ProjectKey  string
	Summary     string
	Description string
	IssueType   string
	Assignee    string
}

// TicketUpdate is a partial update; nil fields are left unchanged.
type TicketUpdate struct {
	Summary     *string
	Description *string
	Status      *string
	Assignee    *string
}

func (u TicketUpdate) empty() bool {
	return u.Summary == nil && u.Description == nil && u.Status == nil && u.Assignee == nil
}

type PageCreate struct {
	SpaceKey string
	Title    string
	Body     string
	ParentID string
}

type PageUpdate struct {
	Title *string
	Body  *string
}

// Backend is one way of reaching Jira and Confluence. Lookups of absent
// entities return *core.NotFoundError; deletes of absent entities succeed.
type Backend interface {
	Mode() Mode
	GetTicket(ctx context.Context, key string) (core.Entity, error)
	CreateTicket(ctx context.Context, in TicketCreate) (core.Ack, error)
	UpdateTicket(ctx context.Context, key string, in TicketUpdate) (core.Ack, error)
	DeleteTicket(ctx context.Context, key string) (core.Ack, error)
	SearchTickets(ctx context.Context, jql string, maxResults int) ([]core.Entity, error)
	GetPage(ctx context.Context, id string) (core.Entity, error)
	CreatePage(ctx context.Context, in PageCreate) (core.Ack, error)
	UpdatePage(ctx context.Context, id string, in PageUpdate) (core.Ack, error)
	DeletePage(ctx context.Context, id string) (core.Ack, error)
	SearchPages(ctx context.Context, query, spaceKey string, maxResults int) ([]core.Entity, error)
}

type Executor struct {
	backend Backend
	logger  *slog.Logger
	schemas map[string]*jsonschema.Schema
	policy  *core.Policy
}

// New compiles the argument schema of every registered tool and returns an
// executor over backend.
func New(backend Backend, logger *slog.Logger) (*Executor, error) {
	if backend == nil {
		return nil, fmt.Errorf("executor backend is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	return &Executor{backend: backend, logger: logger, schemas: schemas}, nil
}

func (e *Executor) Mode() Mode {
	return e.backend.Mode()
}

// SetPolicy confines ticket searches and page-id operations to the policy's
// project allowlist. Callers still run policy.Check on the call itself.
func (e *Executor) SetPolicy(p *core.Policy) {
	e.policy = p
}

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	out := make(map[string]*jsonschema.Schema)
	for _, spec := range registry.List() {
		raw, err := json.Marshal(registry.InputSchema(spec))
		if err != nil {
			return nil, fmt.Errorf("marshal schema for %s: %w", spec.Name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema for %s: %w", spec.Name, err)
		}
		c := jsonschema.NewCompiler()
		res := spec.Name + ".json"
		if err := c.AddResource(res, doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", spec.Name, err)
		}
		schema, err := c.Compile(res)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", spec.Name, err)
		}
		out[spec.Name] = schema
	}
	return out, nil
}

// Execute runs call against the backend.
func (e *Executor) Execute(ctx context.Context, call core.ToolCall) (env core.ResultEnvelope) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool call panicked", "tool_name", call.Tool, "panic", fmt.Sprint(r))
			env = core.Failure(core.CodeExecutionFailure, fmt.Sprintf("internal error while running %s", call.Tool))
		}
		status := "ok"
		if !env.Success {
			status = "fail"
		}
		telemetry.IncToolCall(call.Tool, status)
		telemetry.ObserveToolDuration(call.Tool, time.Since(start))
		e.logger.Info("tool call completed",
			"tool_name", call.Tool,
			"mode", string(e.backend.Mode()),
			"success", env.Success,
			"code", env.Code,
			"duration", time.Since(start),
		)
	}()

	if err := e.validate(call); err != nil {
		return core.Failure(core.CodeValidationFailure, err.Error())
	}
	if e.policy != nil {
		call = e.policy.Scope(call)
		if err := e.checkPageSpace(ctx, call); err != nil {
			return failure(err)
		}
	}
	return e.dispatch(ctx, call)
}

// checkPageSpace looks up the page a call addresses by id and applies the
// project allowlist to its space. Absent pages are left to the operation.
func (e *Executor) checkPageSpace(ctx context.Context, call core.ToolCall) error {
	var id string
	switch call.Tool {
	case "get_confluence_page", "update_confluence_page", "delete_confluence_page":
		id = call.Arg("page_id")
	case "create_confluence_page":
		id = call.Arg("parent_id")
	}
	if id == "" || !e.policy.Restricted() {
		return nil
	}
	page, err := e.backend.GetPage(ctx, id)
	if err != nil {
		var nf *core.NotFoundError
		if errors.As(err, &nf) {
			return nil
		}
		return err
	}
	space := page.Extra["space_key"]
	if space == "" {
		return &core.PolicyError{Detail: fmt.Sprintf("page %s has no space to check against the allowlist", id)}
	}
	return e.policy.CheckProject(space)
}

func (e *Executor) validate(call core.ToolCall) error {
	if err := registry.Validate(call); err != nil {
		return err
	}
	schema, ok := e.schemas[call.Tool]
	if !ok {
		return &core.ValidationError{Tool: call.Tool, Detail: "no argument schema"}
	}
	instance := make(map[string]any, len(call.Arguments))
	for k, v := range call.Arguments {
		instance[k] = v
	}
	if err := schema.Validate(instance); err != nil {
		return &core.ValidationError{Tool: call.Tool, Detail: schemaDetail(err)}
	}
	return nil
}

func (e *Executor) dispatch(ctx context.Context, call core.ToolCall) core.ResultEnvelope {
	b := e.backend
	switch call.Tool {
	case "get_jira_ticket":
		return single(b.GetTicket(ctx, call.Arg("ticket_id")))
	case "create_jira_ticket":
		return ack(b.CreateTicket(ctx, TicketCreate{
			ProjectKey:  call.Arg("project_key"),
			Summary:     call.Arg("summary"),
			Description: call.Arg("description"),
			IssueType:   call.Arg("issue_type"),
			Assignee:    call.Arg("assignee"),
		}))
	case "update_jira_ticket":
		upd := TicketUpdate{
			Summary:     optional(call, "summary"),
			Description: optional(call, "description"),
			Status:      optional(call, "status"),
			Assignee:    optional(call, "assignee"),
		}
		if upd.empty() {
			return core.Failure(core.CodeValidationFailure, "update_jira_ticket needs at least one of summary, description, status, assignee")
		}
		return ack(b.UpdateTicket(ctx, call.Arg("ticket_id"), upd))
	case "delete_jira_ticket":
		return ack(b.DeleteTicket(ctx, call.Arg("ticket_id")))
	case "search_jira_tickets":
		return list(b.SearchTickets(ctx, call.Arg("jql_query"), core.ParseMaxResults(call.Arg("max_results"))))
	case "get_confluence_page":
		return single(b.GetPage(ctx, call.Arg("page_id")))
	case "create_confluence_page":
		return ack(b.CreatePage(ctx, PageCreate{
			SpaceKey: call.Arg("space_key"),
			Title:    call.Arg("title"),
			Body:     call.Arguments["body"],
			ParentID: call.Arg("parent_id"),
		}))
	case "update_confluence_page":
		upd := PageUpdate{Title: optional(call, "title")}
		if v, ok := call.Arguments["body"]; ok && strings.TrimSpace(v) != "" {
			upd.Body = &v
		}
		if upd.Title == nil && upd.Body == nil {
			return core.Failure(core.CodeValidationFailure, "update_confluence_page needs a title or body")
		}
		return ack(b.UpdatePage(ctx, call.Arg("page_id"), upd))
	case "delete_confluence_page":
		return ack(b.DeletePage(ctx, call.Arg("page_id")))
	case "search_confluence_pages":
		return list(b.SearchPages(ctx, call.Arg("query"), call.Arg("space_key"), core.ParseMaxResults(call.Arg("max_results"))))
	}
	return core.Failure(core.CodeValidationFailure, fmt.Sprintf("unknown tool %q", call.Tool))
}

func optional(call core.ToolCall, name string) *string {
	v := call.Arg(name)
	if v == "" {
		return nil
	}
	return &v
}

func single(e core.Entity, err error) core.ResultEnvelope {
	if err != nil {
		return failure(err)
	}
	return core.SingleResult(e)
}

func ack(a core.Ack, err error) core.ResultEnvelope {
	if err != nil {
		return failure(err)
	}
	return core.AckResult(a)
}

func list(es []core.Entity, err error) core.ResultEnvelope {
	if err != nil {
		return failure(err)
	}
	return core.ListResult(es)
}

func failure(err error) core.ResultEnvelope {
	info := core.MapError(err, 502)
	return core.Failure(info.Code, info.Message)
}

// schemaDetail drops the schema location header from a jsonschema error and
// joins the remaining causes on one line.
func schemaDetail(err error) string {
	var parts []string
	for _, line := range strings.Split(err.Error(), "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
		if line == "" || strings.HasPrefix(line, "jsonschema") {
			continue
		}
		parts = append(parts, line)
	}
	if len(parts) == 0 {
		return err.Error()
	}
	return strings.Join(parts, "; ")
}
