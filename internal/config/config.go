package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	defaultPort              = 18790
	defaultGracePeriodMs     = 2000
	defaultRunTimeoutMs      = 120000
	defaultStageTimeoutMs    = 30000
	defaultCompactAfterTurns = 10
	defaultKeepRecentTurns   = 6
	defaultSubscriberBuffer  = 64
	defaultSearchLatencyMs   = 400
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: defaultPort,
			Bind: "loopback",
			Auth: GatewayAuth{
				Mode: "none",
			},
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		Session: SessionConfig{
			Store:             "memory",
			CompactAfterTurns: defaultCompactAfterTurns,
			KeepRecentTurns:   defaultKeepRecentTurns,
			SubscriberBuffer:  defaultSubscriberBuffer,
		},
		Runs: RunsConfig{
			GracePeriodMs:  defaultGracePeriodMs,
			RunTimeoutMs:   defaultRunTimeoutMs,
			StageTimeoutMs: defaultStageTimeoutMs,
		},
		LLM: LLMConfig{
			Provider: "mock",
		},
		Search: SearchConfig{
			LatencyMs: defaultSearchLatencyMs,
		},
	}
}

// GracePeriod is how long a superseded run is given to stop on its own.
func (r RunsConfig) GracePeriod() time.Duration {
	return time.Duration(r.GracePeriodMs) * time.Millisecond
}

// RunTimeout bounds a single run end to end.
func (r RunsConfig) RunTimeout() time.Duration {
	return time.Duration(r.RunTimeoutMs) * time.Millisecond
}

// StageTimeout bounds each collaborator call within a run.
func (r RunsConfig) StageTimeout() time.Duration {
	return time.Duration(r.StageTimeoutMs) * time.Millisecond
}

// Latency is the simulated search delay.
func (s SearchConfig) Latency() time.Duration {
	return time.Duration(s.LatencyMs) * time.Millisecond
}
