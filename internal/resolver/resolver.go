// Package resolver maps free chat text to a validated tool call. Text goes
// through a help fast path, then the direct command syntax, then a language
// model whose reply is treated as untrusted.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/atlasbridge/atlasbridge/internal/core"
	"github.com/atlasbridge/atlasbridge/internal/registry"
	"github.com/atlasbridge/atlasbridge/internal/telemetry"
)

type Kind string

const (
	KindCall    Kind = "call"
	KindHelp    Kind = "help"
	KindNoMatch Kind = "no_match"
)

// Path names the route that produced a Resolution.
const (
	PathHelp   = "help"
	PathDirect = "direct"
	PathModel  = "model"
)

// Resolution is the outcome of resolving one message. Call is set only for
// KindCall; Reason and Code only for KindNoMatch.
type Resolution struct {
	Kind   Kind
	Call   core.ToolCall
	Path   string
	Reason string
	Code   string
}

// Completer returns a model completion for a prompt.
type Completer interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Config struct {
	DefaultProject string
	DefaultSpace   string
	Examples       []Example
	// Timeout bounds the model path. Zero leaves it to the completer.
	Timeout time.Duration
}

type Resolver struct {
	completer Completer
	cfg       Config
	logger    *slog.Logger
}

// New returns a resolver. completer may be nil, in which case only the help
// and direct paths can succeed.
func New(completer Completer, cfg Config, logger *slog.Logger) *Resolver {
	if len(cfg.Examples) == 0 {
		cfg.Examples = DefaultExamples()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{completer: completer, cfg: cfg, logger: logger}
}

var helpPattern = regexp.MustCompile(`(?i)^\s*(help|\?|what tools( do you have)?|list tools|which tools|what can you do|commands|show commands)\s*[?.!]*\s*$`)

// IsHelp reports whether text is a request for the tool listing.
func IsHelp(text string) bool {
	return helpPattern.MatchString(text)
}

// Resolve never returns a call that the registry rejects.
func (r *Resolver) Resolve(ctx context.Context, text string) Resolution {
	res := r.resolve(ctx, text)
	telemetry.IncResolverOutcome(res.Path, string(res.Kind))
	if res.Kind == KindNoMatch {
		r.logger.Info("command not resolved", "path", res.Path, "code", res.Code, "reason", res.Reason)
	} else {
		r.logger.Debug("command resolved", "path", res.Path, "kind", string(res.Kind), "tool_name", res.Call.Tool)
	}
	return res
}

func (r *Resolver) resolve(ctx context.Context, text string) Resolution {
	text = strings.TrimSpace(text)
	if text == "" {
		return noMatch(PathDirect, core.CodeParseFailure, "empty message")
	}
	if IsHelp(text) {
		return Resolution{Kind: KindHelp, Path: PathHelp}
	}

	call, ok, err := ParseDirect(text)
	if ok {
		if err != nil {
			return noMatchErr(PathDirect, err)
		}
		return Resolution{Kind: KindCall, Call: call, Path: PathDirect}
	}

	return r.resolveWithModel(ctx, text)
}

func (r *Resolver) resolveWithModel(ctx context.Context, text string) Resolution {
	if r.completer == nil {
		return noMatch(PathModel, core.CodeCompletionFailure, "no completion endpoint configured")
	}
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	reply, err := r.completer.Generate(ctx, BuildPrompt(text, r.cfg))
	if err != nil {
		return noMatch(PathModel, core.CodeCompletionFailure, err.Error())
	}
	call, dropped, err := parseReply(reply, r.cfg)
	if len(dropped) > 0 {
		r.logger.Debug("dropped unsupported model arguments", "tool_name", call.Tool, "arguments", dropped)
	}
	if err != nil {
		return noMatchErr(PathModel, err)
	}
	return Resolution{Kind: KindCall, Call: call, Path: PathModel}
}

// errNone marks a model reply that explicitly declined to pick a tool.
var errNone = errors.New("model chose no tool")

// ParseReply turns an untrusted model reply into a registry-validated call.
// Arguments the tool does not accept are dropped.
func ParseReply(reply string) (core.ToolCall, error) {
	call, _, err := parseReply(reply, Config{})
	return call, err
}

// parseReply also fills a missing required project_key or space_key from the
// configured defaults before validation.
func parseReply(reply string, cfg Config) (core.ToolCall, []string, error) {
	obj, ok := ExtractObject(reply)
	if !ok {
		return core.ToolCall{}, nil, &core.ParseError{Detail: "no JSON object in model reply"}
	}
	call, dropped, err := DecodeCall(obj)
	if err != nil {
		return core.ToolCall{}, nil, err
	}
	if spec, err := registry.Resolve(call.Tool); err == nil {
		fillDefault(call, spec, "project_key", cfg.DefaultProject)
		fillDefault(call, spec, "space_key", cfg.DefaultSpace)
	}
	if err := registry.Validate(call); err != nil {
		return core.ToolCall{Tool: call.Tool}, dropped, err
	}
	return call, dropped, nil
}

func fillDefault(call core.ToolCall, spec registry.ToolSpec, name, value string) {
	if value == "" || call.Arg(name) != "" || !slices.Contains(spec.Required, name) {
		return
	}
	call.Arguments[name] = value
}

func noMatch(path, code, reason string) Resolution {
	return Resolution{Kind: KindNoMatch, Path: path, Code: code, Reason: reason}
}

func noMatchErr(path string, err error) Resolution {
	if errors.Is(err, errNone) {
		return noMatch(path, core.CodeParseFailure, err.Error())
	}
	info := core.MapError(err, 400)
	code := info.Code
	if code != core.CodeValidationFailure {
		code = core.CodeParseFailure
	}
	return noMatch(path, code, err.Error())
}
