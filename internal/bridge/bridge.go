// Package bridge runs one tool call per executor process over the MCP stdio
// transport: start, initialize, tools/call, read one reply, tear down.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/atlasbridge/atlasbridge/internal/core"
	"github.com/atlasbridge/atlasbridge/internal/telemetry"
)

const (
	ProtocolVersion = "2024-11-05"

	StageStart      = "start"
	StageInitialize = "initialize"
	StageCall       = "call"
	StageDecode     = "decode"

	maxLineBytes = 1024 * 1024
)

var errExited = errors.New("executor exited before replying")

type Config struct {
	Command        string
	Args           []string
	Env            []string
	Dir            string
	InitTimeout    time.Duration
	CallTimeout    time.Duration
	MaxStderrBytes int
	ClientVersion  string
}

type Bridge struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Bridge, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("executor command is required")
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = 10 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	if cfg.MaxStderrBytes <= 0 {
		cfg.MaxStderrBytes = 16 * 1024
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "dev"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{cfg: cfg, logger: logger}, nil
}

// Invoke runs call and returns the executor's reply text. Every failure is
// folded into a serialized failure envelope, so the result is never empty.
func (b *Bridge) Invoke(ctx context.Context, call core.ToolCall) string {
	text, err := b.Call(ctx, call)
	if err != nil {
		return core.FailureFromError(err).Marshal()
	}
	return text
}

// Call runs call in a fresh executor process. The returned text is the first
// text content item of the tools/call result, normally a ResultEnvelope.
// Errors are *core.TransportError.
func (b *Bridge) Call(ctx context.Context, call core.ToolCall) (string, error) {
	start := time.Now()
	s, err := b.start(ctx)
	if err != nil {
		return "", b.fail(StageStart, err, nil)
	}
	defer func() {
		s.close()
		b.logger.Debug("executor process finished",
			"tool_name", call.Tool,
			"duration", time.Since(start),
			"stderr", s.stderr.String(),
		)
	}()

	initParams := map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "atlasbridge", "version": b.cfg.ClientVersion},
	}
	if _, err := s.roundTrip(ctx, 1, "initialize", initParams, b.cfg.InitTimeout); err != nil {
		return "", b.fail(StageInitialize, err, s)
	}
	if err := s.notify("notifications/initialized"); err != nil {
		return "", b.fail(StageInitialize, err, s)
	}

	args := call.Arguments
	if args == nil {
		args = map[string]string{}
	}
	result, err := s.roundTrip(ctx, 2, "tools/call", map[string]any{"name": call.Tool, "arguments": args}, b.cfg.CallTimeout)
	if errors.Is(err, bufio.ErrTooLong) {
		return "", b.fail(StageDecode, err, s)
	}
	if err != nil {
		return "", b.fail(StageCall, err, s)
	}
	text, err := resultText(result)
	if err != nil {
		return "", b.fail(StageDecode, err, s)
	}
	return text, nil
}

func (b *Bridge) fail(stage string, err error, s *session) error {
	telemetry.IncBridgeFailure(stage)
	attrs := []any{"stage", stage, "err", err}
	if s != nil {
		if tail := strings.TrimSpace(s.stderr.String()); tail != "" {
			attrs = append(attrs, "stderr", tail)
		}
	}
	b.logger.Warn("executor bridge failure", attrs...)
	return &core.TransportError{Stage: stage, Err: err}
}

type session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan []byte
	done   chan struct{}
	reader sync.WaitGroup
	stderr *limitedBuffer
	once   sync.Once

	// readErr is set by readLoop before lines is closed.
	readErr error
}

func (b *Bridge) start(ctx context.Context) (*session, error) {
	cmd := exec.CommandContext(ctx, b.cfg.Command, b.cfg.Args...)
	cmd.Dir = b.cfg.Dir
	if len(b.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), b.cfg.Env...)
	}
	cmd.WaitDelay = time.Second
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr := &limitedBuffer{max: b.cfg.MaxStderrBytes}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	s := &session{
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan []byte),
		done:   make(chan struct{}),
		stderr: stderr,
	}
	s.reader.Add(1)
	go s.readLoop(stdout)
	return s, nil
}

func (s *session) readLoop(stdout io.Reader) {
	defer s.reader.Done()
	defer close(s.lines)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		cp := append([]byte(nil), line...)
		select {
		case s.lines <- cp:
		case <-s.done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			err = fmt.Errorf("reply line exceeds %d bytes: %w", maxLineBytes, err)
		}
		s.readErr = err
	}
}

// close tears the process down: stdin is closed, the process killed and
// reaped, and the reader goroutine drained.
func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.stdin.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
		s.reader.Wait()
	})
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

func (s *session) write(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = s.stdin.Write(data)
	return err
}

func (s *session) notify(method string) error {
	return s.write(rpcRequest{JSONRPC: "2.0", Method: method})
}

// roundTrip sends one request and waits up to timeout for the response with
// the same id. Responses to other ids are skipped.
func (s *session) roundTrip(ctx context.Context, id int, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if err := s.write(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return nil, fmt.Errorf("write %s: %w", method, err)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	want := strconv.Itoa(id)

	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				if s.readErr != nil {
					return nil, s.readErr
				}
				return nil, errExited
			}
			var resp rpcResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				return nil, fmt.Errorf("malformed reply to %s: %w", method, err)
			}
			if string(resp.ID) != want {
				continue
			}
			if resp.Error != nil {
				return nil, resp.Error
			}
			if len(resp.Result) == 0 || bytes.Equal(resp.Result, []byte("null")) {
				return nil, fmt.Errorf("empty result for %s", method)
			}
			return resp.Result, nil
		case <-timer.C:
			return nil, fmt.Errorf("no reply to %s within %s: %w", method, timeout, context.DeadlineExceeded)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

type toolsCallResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

func resultText(raw json.RawMessage) (string, error) {
	var res toolsCallResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("decode tools/call result: %w", err)
	}
	for _, c := range res.Content {
		if c.Type == "text" && strings.TrimSpace(c.Text) != "" {
			return c.Text, nil
		}
	}
	return "", fmt.Errorf("tools/call result has no text content")
}

// limitedBuffer keeps the first max bytes written to it and discards the rest.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	room := l.max - l.buf.Len()
	if room <= 0 {
		l.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		l.buf.Write(p[:room])
		l.truncated = true
		return len(p), nil
	}
	l.buf.Write(p)
	return len(p), nil
}

func (l *limitedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.truncated {
		return l.buf.String() + "\n...[truncated]"
	}
	return l.buf.String()
}
