package core

import (
	"fmt"
	"strings"
)

// ProfileDefaults holds environment-specific default configuration values.
// Profiles provide defaults only; explicit env vars and flags always override.
type ProfileDefaults struct {
	Name                     string
	CompletionTimeoutSeconds int
	BridgeInitTimeoutSeconds int
	BridgeCallTimeoutSeconds int
	CommandTimeoutSeconds    int
	ReadOnly                 bool
	LogLevel                 string
	// CompletionRatePerMinute caps calls to the local model endpoint.
	CompletionRatePerMinute int
}

var profiles = map[string]*ProfileDefaults{
	"dev": {
		Name:                     "dev",
		CompletionTimeoutSeconds: 120,
		BridgeInitTimeoutSeconds: 10,
		BridgeCallTimeoutSeconds: 60,
		CommandTimeoutSeconds:    180,
		ReadOnly:                 false,
		LogLevel:                 "debug",
		CompletionRatePerMinute:  120,
	},
	"staging": {
		Name:                     "staging",
		CompletionTimeoutSeconds: 60,
		BridgeInitTimeoutSeconds: 10,
		BridgeCallTimeoutSeconds: 60,
		CommandTimeoutSeconds:    120,
		ReadOnly:                 false,
		LogLevel:                 "info",
		CompletionRatePerMinute:  60,
	},
	"prod": {
		Name:                     "prod",
		CompletionTimeoutSeconds: 45,
		BridgeInitTimeoutSeconds: 5,
		BridgeCallTimeoutSeconds: 30,
		CommandTimeoutSeconds:    90,
		ReadOnly:                 true,
		LogLevel:                 "info",
		CompletionRatePerMinute:  30,
	},
}

// LoadProfile returns profile defaults for the given name.
// Empty name defaults to "dev". Unknown names return an error.
func LoadProfile(name string) (*ProfileDefaults, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		name = "dev"
	}
	p, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q (valid: dev, staging, prod)", name)
	}
	copy := *p
	return &copy, nil
}
