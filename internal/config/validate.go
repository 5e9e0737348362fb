package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	oneOf := func(path, value string, valid []string) {
		if value != "" && !slices.Contains(valid, value) {
			issues = append(issues, ValidationIssue{
				Path:    path,
				Message: fmt.Sprintf("must be one of %v, got %q", valid, value),
			})
		}
	}

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}
	oneOf("gateway.bind", cfg.Gateway.Bind, []string{"auto", "lan", "loopback", "custom"})
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.customBindHost",
			Message: "required when bind is custom",
		})
	}
	oneOf("gateway.auth.mode", cfg.Gateway.Auth.Mode, []string{"none", "token", "password"})
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.tls",
			Message: "certPath and keyPath are required when TLS is enabled",
		})
	}
	if cfg.Gateway.RateLimit.MessagesPerSecond < 0 || cfg.Gateway.RateLimit.Burst < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.rateLimit",
			Message: "rate and burst must not be negative",
		})
	}

	// Logging validation
	oneOf("logging.level", cfg.Logging.Level, []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"})
	oneOf("logging.consoleStyle", cfg.Logging.ConsoleStyle, []string{"pretty", "json"})

	// Session validation
	oneOf("session.store", cfg.Session.Store, []string{"memory", "sqlite"})
	if cfg.Session.KeepRecentTurns < 0 || cfg.Session.CompactAfterTurns < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "session.compactAfterTurns",
			Message: "turn counts must not be negative",
		})
	} else if cfg.Session.CompactAfterTurns > 0 && cfg.Session.KeepRecentTurns >= cfg.Session.CompactAfterTurns {
		issues = append(issues, ValidationIssue{
			Path:    "session.keepRecentTurns",
			Message: fmt.Sprintf("must be below compactAfterTurns (%d), got %d", cfg.Session.CompactAfterTurns, cfg.Session.KeepRecentTurns),
		})
	}

	// Run timing validation
	if cfg.Runs.GracePeriodMs < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "runs.gracePeriodMs",
			Message: fmt.Sprintf("must not be negative, got %d", cfg.Runs.GracePeriodMs),
		})
	}
	if cfg.Runs.RunTimeoutMs < 0 || cfg.Runs.StageTimeoutMs < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "runs",
			Message: "timeouts must not be negative",
		})
	}

	// LLM validation
	oneOf("llm.provider", cfg.LLM.Provider, []string{"mock", "ollama"})
	if cfg.LLM.Provider == "ollama" && cfg.LLM.Model == "" {
		issues = append(issues, ValidationIssue{
			Path:    "llm.model",
			Message: "required when provider is ollama",
		})
	}

	if cfg.Search.FailureRate < 0 || cfg.Search.FailureRate > 1 {
		issues = append(issues, ValidationIssue{
			Path:    "search.failureRate",
			Message: fmt.Sprintf("must be between 0 and 1, got %v", cfg.Search.FailureRate),
		})
	}

	return issues
}
