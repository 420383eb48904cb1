// Package config assembles runtime settings from profile defaults, an
// optional YAML file and environment variables, in increasing precedence.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/atlasbridge/atlasbridge/internal/atlassian"
	"github.com/atlasbridge/atlasbridge/internal/core"
	"github.com/atlasbridge/atlasbridge/internal/resolver"
)

type Atlassian struct {
	BaseURL             string
	Email               string
	APIToken            string
	PersonalAccessToken string
	ConnectAppKey       string
	ConnectSharedSecret string
	RatePerSecond       float64

	// MockStatePath is the file the mock backend keeps its state in, shared
	// by every executor process. Empty keeps state in memory per process.
	MockStatePath     string
	MockJiraURL       string
	MockConfluenceURL string
}

func (a Atlassian) Credentials() atlassian.Credentials {
	return atlassian.Credentials{
		Email:               a.Email,
		APIToken:            a.APIToken,
		PersonalAccessToken: a.PersonalAccessToken,
		ConnectAppKey:       a.ConnectAppKey,
		ConnectSharedSecret: a.ConnectSharedSecret,
	}
}

// Live reports whether a base URL and one complete credential set are
// present. Anything less selects mock mode.
func (a Atlassian) Live() bool {
	return strings.TrimSpace(a.BaseURL) != "" && a.Credentials().Kind() != ""
}

type Completion struct {
	Endpoint      string
	Model         string
	Timeout       time.Duration
	RatePerMinute int
}

type Bridge struct {
	// Command overrides the executor command line; empty means this binary
	// with the "executor" subcommand.
	Command     []string
	InitTimeout time.Duration
	CallTimeout time.Duration
}

type Config struct {
	Profile          *core.ProfileDefaults
	LogLevel         slog.Level
	HTTPAddr         string
	MCPAddr          string
	DatabaseURL      string
	ToolAllowlist    string
	ProjectAllowlist string
	ReadOnly         bool
	CommandTimeout   time.Duration

	Atlassian      Atlassian
	Completion     Completion
	Bridge         Bridge
	DefaultProject string
	DefaultSpace   string
	Examples       []resolver.Example
}

// fileConfig is the YAML file layout.
type fileConfig struct {
	Model struct {
		Endpoint       string `yaml:"endpoint"`
		Name           string `yaml:"name"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		RatePerMinute  int    `yaml:"rate_per_minute"`
	} `yaml:"model"`
	Defaults struct {
		ProjectKey string `yaml:"project_key"`
		SpaceKey   string `yaml:"space_key"`
	} `yaml:"defaults"`
	Examples []resolver.Example `yaml:"examples"`
	Executor struct {
		Command   []string `yaml:"command"`
		MockState string   `yaml:"mock_state"`
	} `yaml:"executor"`
}

// FromEnv loads configuration from the process environment.
func FromEnv() (*Config, error) {
	return Load(os.Getenv)
}

// Load builds a Config using getenv for variable lookups.
func Load(getenv func(string) string) (*Config, error) {
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }

	profile, err := core.LoadProfile(env("ATLASBRIDGE_PROFILE"))
	if err != nil {
		return nil, fmt.Errorf("invalid ATLASBRIDGE_PROFILE: %w", err)
	}

	cfg := &Config{
		Profile:          profile,
		HTTPAddr:         "0.0.0.0:8080",
		MCPAddr:          "127.0.0.1:8090",
		ReadOnly:         profile.ReadOnly,
		CommandTimeout:   seconds(profile.CommandTimeoutSeconds),
		ToolAllowlist:    env("TOOL_ALLOWLIST"),
		ProjectAllowlist: env("PROJECT_ALLOWLIST"),
		DatabaseURL:      env("DATABASE_URL"),
		Completion: Completion{
			Timeout:       seconds(profile.CompletionTimeoutSeconds),
			RatePerMinute: profile.CompletionRatePerMinute,
		},
		Bridge: Bridge{
			InitTimeout: seconds(profile.BridgeInitTimeoutSeconds),
			CallTimeout: seconds(profile.BridgeCallTimeoutSeconds),
		},
	}
	if cfg.LogLevel, err = parseLevel(profile.LogLevel); err != nil {
		return nil, err
	}

	if path := env("ATLASBRIDGE_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.HTTPAddr = orDefault(env("ATLASBRIDGE_HTTP_LISTEN"), cfg.HTTPAddr)
	cfg.MCPAddr = orDefault(env("ATLASBRIDGE_MCP_LISTEN"), cfg.MCPAddr)
	cfg.Completion.Endpoint = orDefault(env("OLLAMA_URL"), cfg.Completion.Endpoint)
	cfg.Completion.Model = orDefault(env("OLLAMA_MODEL"), cfg.Completion.Model)
	cfg.DefaultProject = orDefault(env("DEFAULT_PROJECT_KEY"), cfg.DefaultProject)
	cfg.DefaultSpace = orDefault(env("DEFAULT_SPACE_KEY"), cfg.DefaultSpace)

	if raw := env("LOG_LEVEL"); raw != "" {
		if cfg.LogLevel, err = parseLevel(raw); err != nil {
			return nil, err
		}
	}
	if raw := env("ATLASBRIDGE_READ_ONLY"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid ATLASBRIDGE_READ_ONLY %q", raw)
		}
		cfg.ReadOnly = v
	}
	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"COMPLETION_TIMEOUT_SECONDS", &cfg.Completion.Timeout},
		{"BRIDGE_INIT_TIMEOUT_SECONDS", &cfg.Bridge.InitTimeout},
		{"BRIDGE_CALL_TIMEOUT_SECONDS", &cfg.Bridge.CallTimeout},
		{"COMMAND_TIMEOUT_SECONDS", &cfg.CommandTimeout},
	} {
		if raw := env(d.key); raw != "" {
			secs, err := strconv.Atoi(raw)
			if err != nil || secs <= 0 {
				return nil, fmt.Errorf("invalid %s %q", d.key, raw)
			}
			*d.dst = seconds(secs)
		}
	}
	if raw := env("COMPLETION_RATE_PER_MINUTE"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid COMPLETION_RATE_PER_MINUTE %q", raw)
		}
		cfg.Completion.RatePerMinute = n
	}
	if raw := env("ATLASBRIDGE_EXECUTOR_CMD"); raw != "" {
		cfg.Bridge.Command = strings.Fields(raw)
	}

	cfg.Atlassian = Atlassian{
		BaseURL:             env("ATLASSIAN_URL"),
		Email:               env("ATLASSIAN_EMAIL"),
		APIToken:            env("ATLASSIAN_TOKEN"),
		PersonalAccessToken: env("ATLASSIAN_PAT"),
		ConnectAppKey:       env("ATLASSIAN_CONNECT_KEY"),
		ConnectSharedSecret: env("ATLASSIAN_CONNECT_SECRET"),
		MockStatePath:       orDefault(env("ATLASSIAN_MOCK_STATE"), cfg.Atlassian.MockStatePath),
		MockJiraURL:         env("ATLASSIAN_MOCK_JIRA_URL"),
		MockConfluenceURL:   env("ATLASSIAN_MOCK_CONFLUENCE_URL"),
	}
	switch strings.ToLower(cfg.Atlassian.MockStatePath) {
	case "off", "none", "memory":
		cfg.Atlassian.MockStatePath = ""
	case "":
		if !cfg.Atlassian.Live() {
			cfg.Atlassian.MockStatePath = DefaultMockStatePath()
		}
	}
	if raw := env("ATLASSIAN_RATE_PER_SECOND"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid ATLASSIAN_RATE_PER_SECOND %q", raw)
		}
		cfg.Atlassian.RatePerSecond = v
	}
	return cfg, nil
}

// DefaultMockStatePath is the per-user state file used in mock mode when
// none is configured.
func DefaultMockStatePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "atlasbridge", "mock-state.json")
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	for i, ex := range fc.Examples {
		if strings.TrimSpace(ex.Text) == "" || strings.TrimSpace(ex.Tool) == "" {
			return fmt.Errorf("config file %s: example %d needs text and tool", path, i+1)
		}
	}

	c.Completion.Endpoint = orDefault(fc.Model.Endpoint, c.Completion.Endpoint)
	c.Completion.Model = orDefault(fc.Model.Name, c.Completion.Model)
	if fc.Model.TimeoutSeconds > 0 {
		c.Completion.Timeout = seconds(fc.Model.TimeoutSeconds)
	}
	if fc.Model.RatePerMinute > 0 {
		c.Completion.RatePerMinute = fc.Model.RatePerMinute
	}
	c.DefaultProject = orDefault(fc.Defaults.ProjectKey, c.DefaultProject)
	c.DefaultSpace = orDefault(fc.Defaults.SpaceKey, c.DefaultSpace)
	if len(fc.Examples) > 0 {
		c.Examples = fc.Examples
	}
	if len(fc.Executor.Command) > 0 {
		c.Bridge.Command = fc.Executor.Command
	}
	c.Atlassian.MockStatePath = orDefault(fc.Executor.MockState, c.Atlassian.MockStatePath)
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}
