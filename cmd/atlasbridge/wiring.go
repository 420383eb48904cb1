package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/atlasbridge/atlasbridge/internal/atlassian"
	"github.com/atlasbridge/atlasbridge/internal/bridge"
	"github.com/atlasbridge/atlasbridge/internal/config"
	"github.com/atlasbridge/atlasbridge/internal/core"
	"github.com/atlasbridge/atlasbridge/internal/db"
	"github.com/atlasbridge/atlasbridge/internal/executor"
	"github.com/atlasbridge/atlasbridge/internal/mockstore"
	"github.com/atlasbridge/atlasbridge/internal/ollama"
	"github.com/atlasbridge/atlasbridge/internal/pipeline"
	"github.com/atlasbridge/atlasbridge/internal/resolver"
)

type app struct {
	pipeline *pipeline.Service
	audit    *core.AuditService
	close    func()
}

func newPolicy(cfg *config.Config) *core.Policy {
	policy := core.NewPolicy(cfg.ToolAllowlist, cfg.ProjectAllowlist)
	policy.SetReadOnly(cfg.ReadOnly)
	return policy
}

// buildApp wires the resolver, the executor bridge and the audit store into
// a pipeline.
func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	closeFn := func() {}

	var store core.AuditStore
	if cfg.DatabaseURL != "" {
		database, err := db.New(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		store = database
		closeFn = func() { database.Close() }
	}
	audit := core.NewAuditService(store)

	completer, err := ollama.NewClient(ollama.Config{
		Endpoint:      cfg.Completion.Endpoint,
		Model:         cfg.Completion.Model,
		Timeout:       cfg.Completion.Timeout,
		RatePerMinute: cfg.Completion.RatePerMinute,
	})
	if err != nil {
		closeFn()
		return nil, err
	}
	res := resolver.New(completer, resolver.Config{
		DefaultProject: cfg.DefaultProject,
		DefaultSpace:   cfg.DefaultSpace,
		Examples:       cfg.Examples,
		Timeout:        cfg.Completion.Timeout,
	}, logger)

	br, err := newBridge(cfg, logger)
	if err != nil {
		closeFn()
		return nil, err
	}

	svc := pipeline.New(res, br, audit, newPolicy(cfg), logger, pipeline.Options{Timeout: cfg.CommandTimeout})
	logger.Info("pipeline ready",
		"profile", cfg.Profile.Name,
		"mode", modeName(cfg),
		"model", completer.Model(),
		"read_only", cfg.ReadOnly,
		"audit_store", auditStoreName(cfg),
	)
	return &app{pipeline: svc, audit: audit, close: closeFn}, nil
}

// newBridge runs this binary's executor subcommand unless an explicit
// executor command line is configured.
func newBridge(cfg *config.Config, logger *slog.Logger) (*bridge.Bridge, error) {
	command := cfg.Bridge.Command
	if len(command) == 0 {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		command = []string{self, "executor"}
	}

	overrides := flagEnv()
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}

	return bridge.New(bridge.Config{
		Command:       command[0],
		Args:          command[1:],
		Env:           env,
		InitTimeout:   cfg.Bridge.InitTimeout,
		CallTimeout:   cfg.Bridge.CallTimeout,
		ClientVersion: orUnknown(version),
	}, logger)
}

// buildExecutor selects the live backend when a base URL and credentials are
// configured, and the mock store otherwise.
func buildExecutor(cfg *config.Config, logger *slog.Logger) (*executor.Executor, error) {
	backend, err := buildBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	ex, err := executor.New(backend, logger)
	if err != nil {
		return nil, err
	}
	ex.SetPolicy(newPolicy(cfg))
	return ex, nil
}

func buildBackend(cfg *config.Config, logger *slog.Logger) (executor.Backend, error) {
	if cfg.Atlassian.Live() {
		client, err := atlassian.NewClient(atlassian.Config{
			BaseURL:       cfg.Atlassian.BaseURL,
			Credentials:   cfg.Atlassian.Credentials(),
			RatePerSecond: cfg.Atlassian.RatePerSecond,
		})
		if err != nil {
			return nil, fmt.Errorf("atlassian client init failed: %w", err)
		}
		logger.Debug("live backend selected", "base_url", cfg.Atlassian.BaseURL, "auth", client.AuthKind())
		return executor.NewLiveBackend(client), nil
	}

	store := mockstore.New()
	if path := cfg.Atlassian.MockStatePath; path != "" {
		var err error
		if store, err = mockstore.OpenFile(path); err != nil {
			return nil, err
		}
	}
	if jira, confluence := cfg.Atlassian.MockJiraURL, cfg.Atlassian.MockConfluenceURL; jira != "" || confluence != "" {
		store.SetBaseURLs(jira, confluence)
	}
	logger.Debug("mock backend selected", "state_file", cfg.Atlassian.MockStatePath)
	return executor.NewMockBackend(store), nil
}

func modeName(cfg *config.Config) string {
	if cfg.Atlassian.Live() {
		return string(executor.ModeLive)
	}
	return string(executor.ModeMock)
}

func auditStoreName(cfg *config.Config) string {
	if cfg.DatabaseURL != "" {
		return "postgres"
	}
	return "memory"
}
