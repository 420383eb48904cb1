package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atlasbridge/atlasbridge/internal/config"
)

var (
	version   = ""
	gitCommit = ""
	buildTime = ""
)

var (
	configPath  string
	profileName string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "atlasbridge",
	Short: "Chat commands for Jira and Confluence",
	Long: `atlasbridge turns chat text into Jira and Confluence operations.

Each command is resolved to a tool call (directly or with a local language
model), executed by a short-lived executor process in mock or live mode, and
answered with a readable reply.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (overrides ATLASBRIDGE_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "profile: dev, staging or prod (overrides ATLASBRIDGE_PROFILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	rootCmd.AddCommand(serveCmd, executorCmd, askCmd, replCmd, toolsCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// flagEnv maps explicitly set global flags onto the environment variables
// they override. The same pairs are handed to executor child processes.
func flagEnv() map[string]string {
	out := map[string]string{}
	if configPath != "" {
		out["ATLASBRIDGE_CONFIG"] = configPath
	}
	if profileName != "" {
		out["ATLASBRIDGE_PROFILE"] = profileName
	}
	if logLevel != "" {
		out["LOG_LEVEL"] = logLevel
	}
	return out
}

func loadConfig() (*config.Config, error) {
	overrides := flagEnv()
	return config.Load(func(key string) string {
		if v, ok := overrides[key]; ok {
			return v
		}
		return os.Getenv(key)
	})
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "atlasbridge %s (commit %s, built %s)\n",
			orUnknown(version), orUnknown(gitCommit), orUnknown(buildTime))
	},
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
