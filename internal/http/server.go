package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/atlasbridge/atlasbridge/internal/core"
	"github.com/atlasbridge/atlasbridge/internal/db"
	"github.com/atlasbridge/atlasbridge/internal/pipeline"
	"github.com/atlasbridge/atlasbridge/internal/registry"
	"github.com/atlasbridge/atlasbridge/internal/telemetry"
)

// CommandHandler answers one chat command. *pipeline.Service satisfies it.
type CommandHandler interface {
	Handle(ctx context.Context, cmd pipeline.Command) pipeline.Reply
}

type BuildInfo struct {
	Version   string
	GitCommit string
	BuildTime string
}

type Server struct {
	commands CommandHandler
	audit    *core.AuditService
	srv      *http.Server
	logger   *slog.Logger
	build    BuildInfo
}

const (
	maxRequestBodyBytes = 1 << 20
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

func NewServer(addr string, commands CommandHandler, audit *core.AuditService, logger *slog.Logger, build BuildInfo) *Server {
	s := &Server{
		commands: commands,
		audit:    audit,
		logger:   logger,
		build:    build,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/v1/tools", s.handleListTools)
	mux.HandleFunc("POST /api/v1/commands", s.handleCommand)
	mux.HandleFunc("GET /api/v1/commands", s.handleListCommands)
	mux.HandleFunc("GET /api/v1/commands/{commandID}", s.handleGetCommand)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      withLogging(logger, mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("http server starting", "addr", s.srv.Addr)
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.srv.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    s.build.Version,
		"git_commit": s.build.GitCommit,
		"build_time": s.build.BuildTime,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, telemetry.RenderPrometheus())
}

type toolView struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Mutating    bool           `json:"mutating"`
	Domain      string         `json:"domain"`
	Usage       string         `json:"usage"`
	InputSchema map[string]any `json:"input_schema"`
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools := registry.List()
	out := make([]toolView, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolView{
			Name:        t.Name,
			Description: t.Description,
			Mutating:    t.Mutating,
			Domain:      string(t.Domain),
			Usage:       registry.Usage(t),
			InputSchema: registry.InputSchema(t),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

type commandBody struct {
	Text    string `json:"text"`
	EventID string `json:"event_id"`
	User    string `json:"user"`
	Channel string `json:"channel"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		writeErr(w, http.StatusServiceUnavailable, "command pipeline not configured")
		return
	}
	var body commandBody
	if err := decodeJSONBody(w, r, &body); err != nil {
		writeMappedErr(w, fmt.Errorf("invalid JSON body: %w", err), http.StatusBadRequest)
		return
	}
	if err := core.ValidateCommandText(body.Text); err != nil {
		writeMappedErr(w, err, http.StatusBadRequest)
		return
	}

	reply := s.commands.Handle(r.Context(), pipeline.Command{
		Text:    body.Text,
		EventID: body.EventID,
		User:    body.User,
		Channel: body.Channel,
	})
	writeJSON(w, http.StatusOK, reply)
}

type commandView struct {
	CommandID  string          `json:"command_id"`
	UserID     string          `json:"user,omitempty"`
	Channel    string          `json:"channel,omitempty"`
	Text       string          `json:"text"`
	Outcome    string          `json:"outcome"`
	ToolName   string          `json:"tool,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	ErrorCode  string          `json:"code,omitempty"`
	Reply      string          `json:"reply"`
	DurationMS int64           `json:"duration_ms"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeErr(w, http.StatusServiceUnavailable, "audit store not configured")
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	recs, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		writeMappedErr(w, err, http.StatusInternalServerError)
		return
	}
	out := make([]commandView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, newCommandView(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": out})
}

func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeErr(w, http.StatusServiceUnavailable, "audit store not configured")
		return
	}
	rec, err := s.audit.Get(r.Context(), r.PathValue("commandID"))
	if err != nil {
		writeMappedErr(w, err, http.StatusInternalServerError)
		return
	}
	if rec == nil {
		writeErr(w, http.StatusNotFound, "command not found")
		return
	}
	writeJSON(w, http.StatusOK, newCommandView(rec))
}

func newCommandView(rec *db.CommandRecord) commandView {
	return commandView{
		CommandID:  rec.CommandID,
		UserID:     rec.UserID,
		Channel:    rec.Channel,
		Text:       rec.Text,
		Outcome:    rec.Outcome,
		ToolName:   rec.ToolName,
		Arguments:  json.RawMessage(rec.Arguments),
		ErrorCode:  rec.ErrorCode,
		Reply:      rec.Reply,
		DurationMS: rec.DurationMS,
		CreatedAt:  rec.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeMappedErr(w http.ResponseWriter, err error, fallback int) {
	info := core.MapError(err, fallback)
	writeJSON(w, info.HTTPStatus, map[string]string{"error": info.Message, "code": info.Code})
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		traceID := r.Header.Get("X-Request-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", traceID)
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		logger.Info("http request",
			"trace_id", traceID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", fmt.Sprintf("%dms", time.Since(start).Milliseconds()),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
