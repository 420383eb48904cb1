// Package mcp serves the tool registry over newline-delimited JSON-RPC 2.0,
// either on a process's stdin/stdout or on a TCP listener.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/atlasbridge/atlasbridge/internal/core"
	"github.com/atlasbridge/atlasbridge/internal/executor"
	"github.com/atlasbridge/atlasbridge/internal/registry"
)

type ctxKey string

const ctxKeyTraceID ctxKey = "trace_id"

const (
	ProtocolVersion = "2024-11-05"
	maxLineBytes    = 1024 * 1024
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

type Server struct {
	exec    *executor.Executor
	policy  *core.Policy
	addr    string
	version string
	logger  *slog.Logger

	ln     net.Listener
	mu     sync.Mutex
	closed bool
}

// NewServer returns a server that runs tool calls on exec. policy may be nil.
func NewServer(addr string, exec *executor.Executor, policy *core.Policy, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}
	return &Server{
		exec:    exec,
		policy:  policy,
		addr:    addr,
		version: version,
		logger:  logger,
	}
}

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// notification reports whether the request carries no id and expects no reply.
func (r jsonRPCRequest) notification() bool {
	return len(r.ID) == 0 || bytes.Equal(r.ID, []byte("null"))
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Serve reads requests from r and writes responses to w until r reaches EOF
// or ctx is cancelled. It is used for the stdio transport.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req jsonRPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, jsonRPCResponse{
				JSONRPC: "2.0",
				ID:      json.RawMessage("null"),
				Error:   &rpcError{Code: codeParseError, Message: "parse error"},
			})
			continue
		}

		traceID := uuid.New().String()
		reqCtx := context.WithValue(ctx, ctxKeyTraceID, traceID)
		resp, reply := s.dispatch(reqCtx, req)
		if reply {
			s.writeResponse(w, resp)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	return nil
}

func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("mcp server starting", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			s.logger.Error("mcp accept error", "err", err)
			continue
		}
		go s.handleConn(conn)
	}
}

// Addr returns the bound listener address once ListenAndServe is running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	if err := s.Serve(context.Background(), conn, conn); err != nil {
		s.logger.Warn("mcp connection closed", "remote", conn.RemoteAddr().String(), "err", err)
	}
}

func (s *Server) writeResponse(w io.Writer, resp jsonRPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("encode response", "err", err)
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("write response", "err", err)
	}
}

func (s *Server) dispatch(ctx context.Context, req jsonRPCRequest) (jsonRPCResponse, bool) {
	base := jsonRPCResponse{JSONRPC: "2.0", ID: req.ID}
	if req.notification() {
		s.logger.Debug("mcp notification", "method", req.Method)
		return base, false
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		base.Error = &rpcError{Code: codeInvalidRequest, Message: "invalid request"}
		return base, true
	}

	switch req.Method {
	case "initialize":
		base.Result = map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{"listChanged": false}},
			"serverInfo": map[string]any{
				"name":    "atlasbridge-executor",
				"version": s.version,
				"mode":    string(s.exec.Mode()),
			},
		}
	case "ping":
		base.Result = map[string]any{}
	case "tools/list":
		base.Result = map[string]any{"tools": registry.ToolDefinitions()}
	case "tools/call":
		return s.handleToolCall(ctx, req, base), true
	default:
		base.Error = &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}
	return base, true
}

type toolCallParams struct {
	Name      string                     `json:"name"`
	Arguments map[string]json.RawMessage `json:"arguments"`
}

func (s *Server) handleToolCall(ctx context.Context, req jsonRPCRequest, base jsonRPCResponse) jsonRPCResponse {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		base.Error = &rpcError{Code: codeInvalidParams, Message: "invalid params: " + err.Error()}
		return base
	}
	if params.Name == "" {
		base.Error = &rpcError{Code: codeInvalidParams, Message: "invalid params: name is required"}
		return base
	}
	args, err := stringArguments(params.Arguments)
	if err != nil {
		base.Error = &rpcError{Code: codeInvalidParams, Message: "invalid params: " + err.Error()}
		return base
	}
	call := core.ToolCall{Tool: params.Name, Arguments: args}

	var env core.ResultEnvelope
	if err := s.checkPolicy(call); err != nil {
		env = core.FailureFromError(err)
	} else {
		env = s.exec.Execute(ctx, call)
	}

	traceID, _ := ctx.Value(ctxKeyTraceID).(string)
	s.logger.Debug("tools/call answered", "trace_id", traceID, "tool_name", call.Tool, "success", env.Success)

	base.Result = toolResult(env)
	return base
}

func (s *Server) checkPolicy(call core.ToolCall) error {
	if s.policy == nil {
		return nil
	}
	return s.policy.Check(call, registry.IsMutating(call.Tool))
}

// stringArguments flattens the arguments object to strings. Numbers and
// booleans keep their JSON spelling; null is dropped; objects and arrays are
// rejected.
func stringArguments(raw map[string]json.RawMessage) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		switch {
		case len(v) == 0 || bytes.Equal(v, []byte("null")):
			continue
		case v[0] == '"':
			var str string
			if err := json.Unmarshal(v, &str); err != nil {
				return nil, fmt.Errorf("argument %s: %w", k, err)
			}
			out[k] = str
		case v[0] == '{' || v[0] == '[':
			return nil, fmt.Errorf("argument %s must be a string", k)
		default:
			if _, err := strconv.ParseFloat(string(v), 64); err != nil && string(v) != "true" && string(v) != "false" {
				return nil, fmt.Errorf("argument %s has invalid value %s", k, v)
			}
			out[k] = string(v)
		}
	}
	return out, nil
}

func toolResult(env core.ResultEnvelope) map[string]any {
	return map[string]any{
		"content": []map[string]string{
			{"type": "text", "text": env.Marshal()},
		},
		"isError": !env.Success,
	}
}
