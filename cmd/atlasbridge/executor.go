package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	mcpsvr "github.com/atlasbridge/atlasbridge/internal/mcp"
)

var executorListen string

var executorCmd = &cobra.Command{
	Use:   "executor",
	Short: "Run the tool executor as an MCP server",
	Long: `Runs the tool executor. By default it speaks MCP JSON-RPC on stdin and
stdout, which is how the bridge starts it for each command. Logs go to
stderr. With --listen it accepts TCP connections instead.

The backend is live when ATLASSIAN_URL and a credential set are present and
mock otherwise.`,
	Args: cobra.NoArgs,
	RunE: runExecutor,
}

func init() {
	executorCmd.Flags().StringVar(&executorListen, "listen", "", "serve MCP over TCP on this address instead of stdio")
}

func runExecutor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, cfg.LogLevel)

	ex, err := buildExecutor(cfg, logger)
	if err != nil {
		logger.Error("executor init failed", "err", err)
		return err
	}
	logger.Debug("executor ready", "mode", string(ex.Mode()))

	if executorListen == "" {
		srv := mcpsvr.NewServer("", ex, newPolicy(cfg), logger, orUnknown(version))
		return srv.Serve(cmd.Context(), os.Stdin, os.Stdout)
	}

	srv := mcpsvr.NewServer(executorListen, ex, newPolicy(cfg), logger, orUnknown(version))
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	return srv.ListenAndServe()
}
