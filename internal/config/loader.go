package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields lets tokens, passwords and API keys be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
	cfg.LLM.APIKey = expandEnvVars(cfg.LLM.APIKey)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields left empty by a partial config file.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = d.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = d.Gateway.Bind
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = d.Gateway.Auth.Mode
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = d.Logging.ConsoleStyle
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = d.Session.Store
	}
	if cfg.Session.CompactAfterTurns == 0 {
		cfg.Session.CompactAfterTurns = d.Session.CompactAfterTurns
	}
	if cfg.Session.KeepRecentTurns == 0 {
		cfg.Session.KeepRecentTurns = d.Session.KeepRecentTurns
	}
	if cfg.Session.SubscriberBuffer == 0 {
		cfg.Session.SubscriberBuffer = d.Session.SubscriberBuffer
	}
	if cfg.Runs.GracePeriodMs == 0 {
		cfg.Runs.GracePeriodMs = d.Runs.GracePeriodMs
	}
	if cfg.Runs.RunTimeoutMs == 0 {
		cfg.Runs.RunTimeoutMs = d.Runs.RunTimeoutMs
	}
	if cfg.Runs.StageTimeoutMs == 0 {
		cfg.Runs.StageTimeoutMs = d.Runs.StageTimeoutMs
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = d.LLM.Provider
	}
}

// applyEnvOverrides reads WAYFARER_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WAYFARER_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("WAYFARER_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("WAYFARER_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Token = v
	}
	if v := os.Getenv("WAYFARER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("WAYFARER_SESSION_STORE"); v != "" {
		cfg.Session.Store = strings.ToLower(v)
	}
	if v := os.Getenv("WAYFARER_GRACE_PERIOD_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Runs.GracePeriodMs = ms
		}
	}
	if v := os.Getenv("WAYFARER_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("WAYFARER_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("WAYFARER_LLM_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}
}
