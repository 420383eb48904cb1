package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpsvr "github.com/atlasbridge/atlasbridge/internal/http"
	mcpsvr "github.com/atlasbridge/atlasbridge/internal/mcp"
)

const shutdownTimeout = 15 * time.Second

var (
	serveAddr string
	serveMCP  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP command endpoint",
	Long: `Runs the HTTP surface:

  POST /api/v1/commands   answer one chat command
  GET  /api/v1/commands   recent command history
  GET  /api/v1/tools      tool catalogue
  GET  /healthz, /version, /metrics

With --mcp the executor is also exposed as a shared MCP server over TCP.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "listen", "", "HTTP listen address (overrides ATLASBRIDGE_HTTP_LISTEN)")
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", false, "also serve the executor over TCP on ATLASBRIDGE_MCP_LISTEN")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.HTTPAddr = serveAddr
	}
	logger := newLogger(os.Stdout, cfg.LogLevel)
	logger.Info("profile loaded", "profile", cfg.Profile.Name)

	a, err := buildApp(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		return err
	}
	defer a.close()

	httpServer := httpsvr.NewServer(cfg.HTTPAddr, a.pipeline, a.audit, logger, httpsvr.BuildInfo{
		Version:   version,
		GitCommit: gitCommit,
		BuildTime: buildTime,
	})

	var mcpServer *mcpsvr.Server
	if serveMCP {
		ex, err := buildExecutor(cfg, logger)
		if err != nil {
			logger.Error("executor init failed", "err", err)
			return err
		}
		mcpServer = mcpsvr.NewServer(cfg.MCPAddr, ex, newPolicy(cfg), logger, orUnknown(version))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if mcpServer != nil {
		g.Go(mcpServer.ListenAndServe)
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		if mcpServer != nil {
			err = errors.Join(err, mcpServer.Shutdown(shutdownCtx))
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
