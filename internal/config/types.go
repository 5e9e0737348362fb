package config

// Config is the root configuration for Wayfarer.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
	Session SessionConfig `yaml:"session,omitempty"`
	Runs    RunsConfig    `yaml:"runs,omitempty"`
	LLM     LLMConfig     `yaml:"llm,omitempty"`
	Search  SearchConfig  `yaml:"search,omitempty"`
	Hooks   HooksConfig   `yaml:"hooks,omitempty"`
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int             `yaml:"port,omitempty"`
	Bind           string          `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string          `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth     `yaml:"auth,omitempty"`
	TLS            GatewayTLS      `yaml:"tls,omitempty"`
	AllowedOrigins []string        `yaml:"allowedOrigins,omitempty"`
	RateLimit      RateLimitConfig `yaml:"rateLimit,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "none" | "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// RateLimitConfig bounds how fast a single session may submit messages.
// Zero values disable the limiter.
type RateLimitConfig struct {
	MessagesPerSecond float64 `yaml:"messagesPerSecond,omitempty"`
	Burst             int     `yaml:"burst,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// SessionConfig defines session state behavior.
type SessionConfig struct {
	Store             string `yaml:"store,omitempty"` // "memory" | "sqlite"
	CompactAfterTurns int    `yaml:"compactAfterTurns,omitempty"`
	KeepRecentTurns   int    `yaml:"keepRecentTurns,omitempty"`
	SubscriberBuffer  int    `yaml:"subscriberBuffer,omitempty"`
}

// RunsConfig controls run cancellation and stage deadlines. Durations are milliseconds.
type RunsConfig struct {
	GracePeriodMs  int `yaml:"gracePeriodMs,omitempty"`
	RunTimeoutMs   int `yaml:"runTimeoutMs,omitempty"`
	StageTimeoutMs int `yaml:"stageTimeoutMs,omitempty"`
}

// LLMConfig selects the language model provider used for classification and replies.
type LLMConfig struct {
	Provider    string   `yaml:"provider,omitempty"` // "mock" | "ollama"
	Model       string   `yaml:"model,omitempty"`
	Fallbacks   []string `yaml:"fallbacks,omitempty"` // tried in order when the model fails
	Endpoint    string   `yaml:"endpoint,omitempty"`
	APIKey      string   `yaml:"apiKey,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"maxTokens,omitempty"`
}

// SearchConfig tunes the simulated flight and hotel search backends.
type SearchConfig struct {
	LatencyMs   int     `yaml:"latencyMs,omitempty"`
	FailureRate float64 `yaml:"failureRate,omitempty"`
	Seed        int64   `yaml:"seed,omitempty"`
}

// HooksConfig defines event hooks.
type HooksConfig struct {
	RunStarted      []HookEntry `yaml:"runStarted,omitempty"`
	RunCompleted    []HookEntry `yaml:"runCompleted,omitempty"`
	RunCancelled    []HookEntry `yaml:"runCancelled,omitempty"`
	BookingRecorded []HookEntry `yaml:"bookingRecorded,omitempty"`
	GatewayStart    []HookEntry `yaml:"gatewayStart,omitempty"`
	GatewayStop     []HookEntry `yaml:"gatewayStop,omitempty"`
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"` // milliseconds
}
