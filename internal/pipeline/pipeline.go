// Package pipeline answers one chat command end to end: resolve the text,
// run the call through the executor bridge, and format the reply.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/atlasbridge/atlasbridge/internal/core"
	"github.com/atlasbridge/atlasbridge/internal/db"
	"github.com/atlasbridge/atlasbridge/internal/format"
	"github.com/atlasbridge/atlasbridge/internal/registry"
	"github.com/atlasbridge/atlasbridge/internal/resolver"
	"github.com/atlasbridge/atlasbridge/internal/telemetry"
)

// Resolver maps text to a tool call. *resolver.Resolver satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, text string) resolver.Resolution
}

// Invoker runs a tool call and returns the executor's reply text.
// *bridge.Bridge satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, call core.ToolCall) string
}

type Command struct {
	Text    string `json:"text"`
	EventID string `json:"event_id,omitempty"`
	User    string `json:"user,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// Reply is the answer to one command. Text is never empty.
type Reply struct {
	Text      string `json:"reply"`
	Tool      string `json:"tool,omitempty"`
	Success   bool   `json:"success"`
	Outcome   string `json:"outcome"`
	Code      string `json:"code,omitempty"`
	CommandID string `json:"command_id,omitempty"`
	Replayed  bool   `json:"replayed,omitempty"`
}

type Options struct {
	// Timeout bounds a whole command; zero means no extra deadline.
	Timeout time.Duration
}

type Service struct {
	resolver Resolver
	invoker  Invoker
	audit    *core.AuditService
	policy   *core.Policy
	logger   *slog.Logger
	timeout  time.Duration
	inflight singleflight.Group
}

// New wires a pipeline. audit and policy may be nil.
func New(res Resolver, inv Invoker, audit *core.AuditService, policy *core.Policy, logger *slog.Logger, opts Options) *Service {
	if audit == nil {
		audit = core.NewAuditService(nil)
	}
	if policy == nil {
		policy = core.NewPolicy("", "")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		resolver: res,
		invoker:  inv,
		audit:    audit,
		policy:   policy,
		logger:   logger,
		timeout:  opts.Timeout,
	}
}

var mentionPattern = regexp.MustCompile(`<@[A-Za-z0-9_|.-]+>`)

// StripMentions removes chat mention tokens such as <@U123ABC> and trims the
// result.
func StripMentions(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}

// Handle answers cmd. A redelivered event (same event id and channel) gets
// the stored reply instead of running the call again; concurrent deliveries
// of one event share a single execution.
func (s *Service) Handle(ctx context.Context, cmd Command) Reply {
	text := StripMentions(cmd.Text)
	if cmd.EventID == "" {
		return s.run(ctx, cmd, text, "")
	}
	key, err := core.MakeEventKey(cmd.EventID, cmd.Channel)
	if err != nil {
		return s.run(ctx, cmd, text, "")
	}
	v, _, _ := s.inflight.Do(key, func() (any, error) {
		if reply, ok := s.replay(ctx, key, text); ok {
			return reply, nil
		}
		return s.run(ctx, cmd, text, key), nil
	})
	return v.(Reply)
}

func (s *Service) replay(ctx context.Context, key, text string) (Reply, bool) {
	rec, ok, err := s.audit.Replay(ctx, key, text)
	if err != nil {
		var conflict *core.IdempotencyConflictError
		if errors.As(err, &conflict) {
			return Reply{
				Text:    ":x: " + conflict.Error(),
				Outcome: db.OutcomeFail,
				Code:    conflict.ErrorCode(),
			}, true
		}
		s.logger.Warn("event replay lookup failed", "err", err)
		return Reply{}, false
	}
	if !ok {
		return Reply{}, false
	}
	telemetry.IncEventReplay()
	s.logger.Info("event replayed", "command_id", rec.CommandID, "tool_name", rec.ToolName)
	return Reply{
		Text:      rec.Reply,
		Tool:      rec.ToolName,
		Success:   rec.Outcome == db.OutcomeOK || rec.Outcome == db.OutcomeHelp,
		Outcome:   rec.Outcome,
		Code:      rec.ErrorCode,
		CommandID: rec.CommandID,
		Replayed:  true,
	}, true
}

func (s *Service) run(ctx context.Context, cmd Command, text, eventKey string) Reply {
	start := time.Now()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	reply, call := s.answer(ctx, text)
	duration := time.Since(start)
	telemetry.IncCommand(reply.Outcome)

	rec, err := s.audit.Record(context.WithoutCancel(ctx), core.RecordInput{
		EventKey:  eventKey,
		UserID:    cmd.User,
		Channel:   cmd.Channel,
		Text:      text,
		Outcome:   reply.Outcome,
		Call:      call,
		ErrorCode: reply.Code,
		Reply:     reply.Text,
		Duration:  duration,
	})
	if err != nil {
		s.logger.Warn("audit record failed", "err", err)
	} else {
		reply.CommandID = rec.CommandID
	}

	s.logger.Info("command handled",
		"command_id", reply.CommandID,
		"user", cmd.User,
		"channel", cmd.Channel,
		"tool_name", reply.Tool,
		"outcome", reply.Outcome,
		"code", reply.Code,
		"duration", duration,
	)
	return reply
}

func (s *Service) answer(ctx context.Context, text string) (Reply, *core.ToolCall) {
	if err := core.ValidateCommandText(text); err != nil {
		return Reply{Text: format.NoMatch(err.Error()), Outcome: db.OutcomeNoMatch, Code: core.CodeParseFailure}, nil
	}

	res := s.resolver.Resolve(ctx, text)
	switch res.Kind {
	case resolver.KindHelp:
		return Reply{Text: format.Help(), Success: true, Outcome: db.OutcomeHelp}, nil
	case resolver.KindCall:
	default:
		return Reply{Text: format.NoMatch(res.Reason), Outcome: db.OutcomeNoMatch, Code: res.Code}, nil
	}

	call := res.Call
	if err := s.policy.Check(call, registry.IsMutating(call.Tool)); err != nil {
		env := core.FailureFromError(err)
		return Reply{
			Text:    format.RenderEnvelope(call.Tool, env),
			Tool:    call.Tool,
			Outcome: db.OutcomeFail,
			Code:    env.Code,
		}, &call
	}

	raw := s.invoker.Invoke(ctx, call)
	reply := Reply{Text: format.Render(call.Tool, raw), Tool: call.Tool, Outcome: db.OutcomeFail}
	if env, err := core.DecodeEnvelope(raw); err == nil {
		reply.Success = env.Success
		reply.Code = env.Code
		if env.Success {
			reply.Outcome = db.OutcomeOK
		}
	}
	return reply, &call
}
