package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

// Speech provider names.
const (
	STTLoopback = "loopback"
	STTCartesia = "cartesia"

	TTSTone     = "tone"
	TTSCartesia = "cartesia"
	TTSNone     = "none"
)

// FileEnv names the environment variable holding an optional YAML config
// file. Environment variables override values from the file.
const FileEnv = "VAI_VOICE_CONFIG"

type Config struct {
	Addr string `yaml:"addr"`

	AuthMode AuthMode            `yaml:"auth_mode"`
	APIKeys  map[string]struct{} `yaml:"-"`

	// If true, client identity may be derived from X-Forwarded-For. Only
	// enable behind a trusted proxy/LB.
	TrustProxyHeaders bool  `yaml:"trust_proxy_headers"`
	MaxBodyBytes      int64 `yaml:"max_body_bytes"`

	CORSAllowedOrigins map[string]struct{} `yaml:"-"` // empty => disabled

	// Sessions
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	ContextMaxTurns     int           `yaml:"context_max_turns"`
	ContextMaxTokens    int           `yaml:"context_max_tokens"`
	InactivityPrompt    time.Duration `yaml:"inactivity_prompt"`
	InactivityTimeout   time.Duration `yaml:"inactivity_timeout"`
	MaxSessionDuration  time.Duration `yaml:"max_session_duration"`
	SessionRetention    time.Duration `yaml:"session_retention"`
	ReapInterval        time.Duration `yaml:"reap_interval"`
	TaskQueueDepth      int           `yaml:"task_queue_depth"`
	TaskMaxConcurrent   int           `yaml:"task_max_concurrent"`
	ToolLatency         time.Duration `yaml:"tool_latency"`

	// Resilience
	BreakerConsecutiveFailures int           `yaml:"breaker_consecutive_failures"`
	BreakerFailureRate         float64       `yaml:"breaker_failure_rate"`
	BreakerWindow              time.Duration `yaml:"breaker_window"`
	BreakerMinRequests         int           `yaml:"breaker_min_requests"`
	BreakerCooldown            time.Duration `yaml:"breaker_cooldown"`
	RetryMax                   int           `yaml:"retry_max"`
	RetryBaseDelay             time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay              time.Duration `yaml:"retry_max_delay"`

	// Live WebSocket mode (/v1/live).
	LiveWSPingInterval           time.Duration `yaml:"live_ws_ping_interval"`
	LiveWSWriteTimeout           time.Duration `yaml:"live_ws_write_timeout"`
	LiveWSReadTimeout            time.Duration `yaml:"live_ws_read_timeout"`
	LiveMaxMessageBytes          int64         `yaml:"live_max_message_bytes"`
	LiveMaxInboundFPS            int           `yaml:"live_max_inbound_fps"`
	LiveMaxInboundBytesPerSecond int64         `yaml:"live_max_inbound_bps"`
	LiveInboundBurstSeconds      int           `yaml:"live_inbound_burst_seconds"`
	LiveQueueSize                int           `yaml:"live_queue_size"`

	// Speech providers
	STTProvider    string `yaml:"stt_provider"`
	STTModel       string `yaml:"stt_model"`
	STTLanguage    string `yaml:"stt_language"`
	STTFormat      string `yaml:"stt_format"`
	STTSampleRate  int    `yaml:"stt_sample_rate"`
	TTSProvider    string `yaml:"tts_provider"`
	TTSVoice       string `yaml:"tts_voice"`
	TTSSampleRate  int    `yaml:"tts_sample_rate"`
	CartesiaAPIKey string `yaml:"cartesia_api_key"`

	// Agents
	AgentRulesFile string `yaml:"agent_rules_file"`
	GeminiAPIKey   string `yaml:"gemini_api_key"`
	GeminiModel    string `yaml:"gemini_model"`

	// Per-principal HTTP limits.
	LimitRPS                   float64 `yaml:"rate_limit_rps"`
	LimitBurst                 int     `yaml:"rate_limit_burst"`
	LimitMaxConcurrentRequests int     `yaml:"max_concurrent_requests"`
	LimitMaxConcurrentStreams  int     `yaml:"max_streams_per_principal"`

	ReadHeaderTimeout   time.Duration `yaml:"read_header_timeout"`
	ReadTimeout         time.Duration `yaml:"read_timeout"`
	HandlerTimeout      time.Duration `yaml:"handler_timeout"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`
}

// fileConfig is the YAML shape. Set-valued options are plain lists.
type fileConfig struct {
	Config      `yaml:",inline"`
	APIKeys     []string `yaml:"api_keys"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Addr:               ":8080",
		AuthMode:           AuthModeRequired,
		APIKeys:            make(map[string]struct{}),
		MaxBodyBytes:       1 << 20,
		CORSAllowedOrigins: make(map[string]struct{}),

		ConfidenceThreshold: 0.75,
		ContextMaxTurns:     50,
		InactivityPrompt:    60 * time.Second,
		InactivityTimeout:   2 * time.Minute,
		MaxSessionDuration:  30 * time.Minute,
		SessionRetention:    5 * time.Minute,
		ReapInterval:        time.Minute,
		TaskQueueDepth:      5,
		TaskMaxConcurrent:   2,

		BreakerConsecutiveFailures: 5,
		BreakerFailureRate:         0.5,
		BreakerWindow:              60 * time.Second,
		BreakerMinRequests:         10,
		BreakerCooldown:            30 * time.Second,
		RetryMax:                   2,
		RetryBaseDelay:             time.Second,
		RetryMaxDelay:              60 * time.Second,

		LiveWSPingInterval:           20 * time.Second,
		LiveWSWriteTimeout:           5 * time.Second,
		LiveMaxMessageBytes:          1 << 20,
		LiveMaxInboundFPS:            120,
		LiveMaxInboundBytesPerSecond: 256 * 1024,
		LiveInboundBurstSeconds:      2,
		LiveQueueSize:                256,

		STTProvider:   STTLoopback,
		STTLanguage:   "en",
		STTSampleRate: 16000,
		TTSProvider:   TTSTone,
		TTSSampleRate: 16000,
		GeminiModel:   "gemini-2.5-flash",

		LimitRPS:                   2.0,
		LimitBurst:                 4,
		LimitMaxConcurrentRequests: 20,
		LimitMaxConcurrentStreams:  4,

		ReadHeaderTimeout:   10 * time.Second,
		ReadTimeout:         30 * time.Second,
		HandlerTimeout:      30 * time.Second,
		ShutdownGracePeriod: 30 * time.Second,
	}
}

// LoadFromEnv loads the file named by VAI_VOICE_CONFIG, if any, then
// applies VAI_VOICE_* overrides.
func LoadFromEnv() (Config, error) {
	return Load(os.Getenv(FileEnv))
}

// Load reads path (optional) and applies environment overrides on top.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path = strings.TrimSpace(path); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	fc := fileConfig{Config: *c}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	*c = fc.Config
	c.APIKeys = make(map[string]struct{})
	for _, k := range fc.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			c.APIKeys[k] = struct{}{}
		}
	}
	c.CORSAllowedOrigins = make(map[string]struct{})
	for _, o := range fc.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			c.CORSAllowedOrigins[o] = struct{}{}
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Addr = envOr("VAI_VOICE_ADDR", c.Addr)
	c.AuthMode = AuthMode(strings.ToLower(envOr("VAI_VOICE_AUTH_MODE", string(c.AuthMode))))
	c.TrustProxyHeaders = envBoolOr("VAI_VOICE_TRUST_PROXY_HEADERS", c.TrustProxyHeaders)
	c.MaxBodyBytes = envInt64Or("VAI_VOICE_MAX_BODY_BYTES", c.MaxBodyBytes)
	if keys := splitCSV(os.Getenv("VAI_VOICE_API_KEYS")); len(keys) > 0 {
		c.APIKeys = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			c.APIKeys[k] = struct{}{}
		}
	}
	if origins := splitCSV(os.Getenv("VAI_VOICE_CORS_ORIGINS")); len(origins) > 0 {
		c.CORSAllowedOrigins = make(map[string]struct{}, len(origins))
		for _, o := range origins {
			c.CORSAllowedOrigins[o] = struct{}{}
		}
	}

	c.ConfidenceThreshold = envFloat64Or("VAI_VOICE_CONFIDENCE_THRESHOLD", c.ConfidenceThreshold)
	c.ContextMaxTurns = envIntOr("VAI_VOICE_CONTEXT_MAX_TURNS", c.ContextMaxTurns)
	c.ContextMaxTokens = envIntOr("VAI_VOICE_CONTEXT_MAX_TOKENS", c.ContextMaxTokens)
	c.InactivityPrompt = envDurationOr("VAI_VOICE_INACTIVITY_PROMPT", c.InactivityPrompt)
	c.InactivityTimeout = envDurationOr("VAI_VOICE_INACTIVITY_TIMEOUT", c.InactivityTimeout)
	c.MaxSessionDuration = envDurationOr("VAI_VOICE_MAX_SESSION_DURATION", c.MaxSessionDuration)
	c.SessionRetention = envDurationOr("VAI_VOICE_SESSION_RETENTION", c.SessionRetention)
	c.ReapInterval = envDurationOr("VAI_VOICE_REAP_INTERVAL", c.ReapInterval)
	c.TaskQueueDepth = envIntOr("VAI_VOICE_TASK_QUEUE_DEPTH", c.TaskQueueDepth)
	c.TaskMaxConcurrent = envIntOr("VAI_VOICE_TASK_MAX_CONCURRENT", c.TaskMaxConcurrent)
	c.ToolLatency = envDurationOr("VAI_VOICE_TOOL_LATENCY", c.ToolLatency)

	c.BreakerConsecutiveFailures = envIntOr("VAI_VOICE_BREAKER_CONSECUTIVE_FAILURES", c.BreakerConsecutiveFailures)
	c.BreakerFailureRate = envFloat64Or("VAI_VOICE_BREAKER_FAILURE_RATE", c.BreakerFailureRate)
	c.BreakerWindow = envDurationOr("VAI_VOICE_BREAKER_WINDOW", c.BreakerWindow)
	c.BreakerMinRequests = envIntOr("VAI_VOICE_BREAKER_MIN_REQUESTS", c.BreakerMinRequests)
	c.BreakerCooldown = envDurationOr("VAI_VOICE_BREAKER_COOLDOWN", c.BreakerCooldown)
	c.RetryMax = envIntOr("VAI_VOICE_RETRY_MAX", c.RetryMax)
	c.RetryBaseDelay = envDurationOr("VAI_VOICE_RETRY_BASE_DELAY", c.RetryBaseDelay)
	c.RetryMaxDelay = envDurationOr("VAI_VOICE_RETRY_MAX_DELAY", c.RetryMaxDelay)

	c.LiveWSPingInterval = envDurationOr("VAI_VOICE_LIVE_WS_PING_INTERVAL", c.LiveWSPingInterval)
	c.LiveWSWriteTimeout = envDurationOr("VAI_VOICE_LIVE_WS_WRITE_TIMEOUT", c.LiveWSWriteTimeout)
	c.LiveWSReadTimeout = envDurationOr("VAI_VOICE_LIVE_WS_READ_TIMEOUT", c.LiveWSReadTimeout)
	c.LiveMaxMessageBytes = envInt64Or("VAI_VOICE_LIVE_MAX_MESSAGE_BYTES", c.LiveMaxMessageBytes)
	c.LiveMaxInboundFPS = envIntOr("VAI_VOICE_LIVE_MAX_INBOUND_FPS", c.LiveMaxInboundFPS)
	c.LiveMaxInboundBytesPerSecond = envInt64Or("VAI_VOICE_LIVE_MAX_INBOUND_BPS", c.LiveMaxInboundBytesPerSecond)
	c.LiveInboundBurstSeconds = envIntOr("VAI_VOICE_LIVE_INBOUND_BURST_SECONDS", c.LiveInboundBurstSeconds)
	c.LiveQueueSize = envIntOr("VAI_VOICE_LIVE_QUEUE_SIZE", c.LiveQueueSize)

	c.STTProvider = strings.ToLower(envOr("VAI_VOICE_STT_PROVIDER", c.STTProvider))
	c.STTModel = envOr("VAI_VOICE_STT_MODEL", c.STTModel)
	c.STTLanguage = envOr("VAI_VOICE_STT_LANGUAGE", c.STTLanguage)
	c.STTFormat = envOr("VAI_VOICE_STT_FORMAT", c.STTFormat)
	c.STTSampleRate = envIntOr("VAI_VOICE_STT_SAMPLE_RATE", c.STTSampleRate)
	c.TTSProvider = strings.ToLower(envOr("VAI_VOICE_TTS_PROVIDER", c.TTSProvider))
	c.TTSVoice = envOr("VAI_VOICE_TTS_VOICE", c.TTSVoice)
	c.TTSSampleRate = envIntOr("VAI_VOICE_TTS_SAMPLE_RATE", c.TTSSampleRate)
	c.CartesiaAPIKey = envOr("VAI_VOICE_CARTESIA_API_KEY", envOr("CARTESIA_API_KEY", c.CartesiaAPIKey))

	c.AgentRulesFile = envOr("VAI_VOICE_AGENT_RULES_FILE", c.AgentRulesFile)
	c.GeminiAPIKey = envOr("VAI_VOICE_GEMINI_API_KEY", envOr("GEMINI_API_KEY", c.GeminiAPIKey))
	c.GeminiModel = envOr("VAI_VOICE_GEMINI_MODEL", c.GeminiModel)

	c.LimitRPS = envFloat64Or("VAI_VOICE_RATE_LIMIT_RPS", c.LimitRPS)
	c.LimitBurst = envIntOr("VAI_VOICE_RATE_LIMIT_BURST", c.LimitBurst)
	c.LimitMaxConcurrentRequests = envIntOr("VAI_VOICE_MAX_CONCURRENT_REQUESTS", c.LimitMaxConcurrentRequests)
	c.LimitMaxConcurrentStreams = envIntOr("VAI_VOICE_MAX_STREAMS_PER_PRINCIPAL", c.LimitMaxConcurrentStreams)

	c.ReadHeaderTimeout = envDurationOr("VAI_VOICE_READ_HEADER_TIMEOUT", c.ReadHeaderTimeout)
	c.ReadTimeout = envDurationOr("VAI_VOICE_READ_TIMEOUT", c.ReadTimeout)
	c.HandlerTimeout = envDurationOr("VAI_VOICE_HANDLER_TIMEOUT", c.HandlerTimeout)
	c.ShutdownGracePeriod = envDurationOr("VAI_VOICE_SHUTDOWN_GRACE_PERIOD", c.ShutdownGracePeriod)
}

// Validate reports the first invalid setting, named by its env variable.
func (c Config) Validate() error {
	switch c.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return fmt.Errorf("VAI_VOICE_AUTH_MODE must be one of required|optional|disabled")
	}
	if c.AuthMode == AuthModeRequired && len(c.APIKeys) == 0 {
		return fmt.Errorf("VAI_VOICE_API_KEYS must be set when VAI_VOICE_AUTH_MODE=required")
	}
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("VAI_VOICE_ADDR must not be empty")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("VAI_VOICE_MAX_BODY_BYTES must be > 0")
	}

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("VAI_VOICE_CONFIDENCE_THRESHOLD must be in [0, 1]")
	}
	if c.ContextMaxTurns <= 0 {
		return fmt.Errorf("VAI_VOICE_CONTEXT_MAX_TURNS must be > 0")
	}
	if c.ContextMaxTokens < 0 {
		return fmt.Errorf("VAI_VOICE_CONTEXT_MAX_TOKENS must be >= 0")
	}
	if c.InactivityPrompt <= 0 {
		return fmt.Errorf("VAI_VOICE_INACTIVITY_PROMPT must be > 0")
	}
	if c.InactivityTimeout < c.InactivityPrompt {
		return fmt.Errorf("VAI_VOICE_INACTIVITY_TIMEOUT must be >= VAI_VOICE_INACTIVITY_PROMPT")
	}
	if c.MaxSessionDuration <= 0 {
		return fmt.Errorf("VAI_VOICE_MAX_SESSION_DURATION must be > 0")
	}
	if c.SessionRetention <= 0 {
		return fmt.Errorf("VAI_VOICE_SESSION_RETENTION must be > 0")
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("VAI_VOICE_REAP_INTERVAL must be > 0")
	}
	if c.TaskQueueDepth <= 0 {
		return fmt.Errorf("VAI_VOICE_TASK_QUEUE_DEPTH must be > 0")
	}
	if c.TaskMaxConcurrent <= 0 {
		return fmt.Errorf("VAI_VOICE_TASK_MAX_CONCURRENT must be > 0")
	}
	if c.ToolLatency < 0 {
		return fmt.Errorf("VAI_VOICE_TOOL_LATENCY must be >= 0")
	}

	if c.BreakerConsecutiveFailures <= 0 {
		return fmt.Errorf("VAI_VOICE_BREAKER_CONSECUTIVE_FAILURES must be > 0")
	}
	if c.BreakerFailureRate <= 0 || c.BreakerFailureRate > 1 {
		return fmt.Errorf("VAI_VOICE_BREAKER_FAILURE_RATE must be in (0, 1]")
	}
	if c.BreakerWindow <= 0 {
		return fmt.Errorf("VAI_VOICE_BREAKER_WINDOW must be > 0")
	}
	if c.BreakerMinRequests <= 0 {
		return fmt.Errorf("VAI_VOICE_BREAKER_MIN_REQUESTS must be > 0")
	}
	if c.BreakerCooldown <= 0 {
		return fmt.Errorf("VAI_VOICE_BREAKER_COOLDOWN must be > 0")
	}
	if c.RetryMax < 0 {
		return fmt.Errorf("VAI_VOICE_RETRY_MAX must be >= 0")
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("VAI_VOICE_RETRY_BASE_DELAY must be > 0")
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("VAI_VOICE_RETRY_MAX_DELAY must be >= VAI_VOICE_RETRY_BASE_DELAY")
	}

	if c.LiveWSPingInterval <= 0 {
		return fmt.Errorf("VAI_VOICE_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if c.LiveWSWriteTimeout <= 0 {
		return fmt.Errorf("VAI_VOICE_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if c.LiveWSReadTimeout < 0 {
		return fmt.Errorf("VAI_VOICE_LIVE_WS_READ_TIMEOUT must be >= 0")
	}
	if c.LiveMaxMessageBytes <= 0 {
		return fmt.Errorf("VAI_VOICE_LIVE_MAX_MESSAGE_BYTES must be > 0")
	}
	if c.LiveMaxInboundFPS < 0 {
		return fmt.Errorf("VAI_VOICE_LIVE_MAX_INBOUND_FPS must be >= 0")
	}
	if c.LiveMaxInboundBytesPerSecond < 0 {
		return fmt.Errorf("VAI_VOICE_LIVE_MAX_INBOUND_BPS must be >= 0")
	}
	if (c.LiveMaxInboundFPS > 0 || c.LiveMaxInboundBytesPerSecond > 0) && c.LiveInboundBurstSeconds < 1 {
		return fmt.Errorf("VAI_VOICE_LIVE_INBOUND_BURST_SECONDS must be >= 1 when inbound limits are enabled")
	}
	if c.LiveQueueSize <= 0 {
		return fmt.Errorf("VAI_VOICE_LIVE_QUEUE_SIZE must be > 0")
	}

	switch c.STTProvider {
	case STTLoopback:
	case STTCartesia:
		if c.CartesiaAPIKey == "" {
			return fmt.Errorf("VAI_VOICE_CARTESIA_API_KEY must be set when VAI_VOICE_STT_PROVIDER=cartesia")
		}
	default:
		return fmt.Errorf("VAI_VOICE_STT_PROVIDER must be one of loopback|cartesia")
	}
	switch c.TTSProvider {
	case TTSTone, TTSNone:
	case TTSCartesia:
		if c.CartesiaAPIKey == "" {
			return fmt.Errorf("VAI_VOICE_CARTESIA_API_KEY must be set when VAI_VOICE_TTS_PROVIDER=cartesia")
		}
	default:
		return fmt.Errorf("VAI_VOICE_TTS_PROVIDER must be one of tone|cartesia|none")
	}
	if c.STTSampleRate <= 0 {
		return fmt.Errorf("VAI_VOICE_STT_SAMPLE_RATE must be > 0")
	}
	if c.TTSSampleRate <= 0 {
		return fmt.Errorf("VAI_VOICE_TTS_SAMPLE_RATE must be > 0")
	}

	if c.LimitRPS < 0 {
		return fmt.Errorf("VAI_VOICE_RATE_LIMIT_RPS must be >= 0")
	}
	if c.LimitBurst < 0 {
		return fmt.Errorf("VAI_VOICE_RATE_LIMIT_BURST must be >= 0")
	}
	if c.LimitMaxConcurrentRequests < 0 {
		return fmt.Errorf("VAI_VOICE_MAX_CONCURRENT_REQUESTS must be >= 0")
	}
	if c.LimitMaxConcurrentStreams < 0 {
		return fmt.Errorf("VAI_VOICE_MAX_STREAMS_PER_PRINCIPAL must be >= 0")
	}

	if c.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("VAI_VOICE_READ_HEADER_TIMEOUT must be > 0")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("VAI_VOICE_READ_TIMEOUT must be > 0")
	}
	if c.HandlerTimeout <= 0 {
		return fmt.Errorf("VAI_VOICE_HANDLER_TIMEOUT must be > 0")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("VAI_VOICE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	return nil
}

// STTStreamFormat is the audio encoding sessions accept. The loopback
// recognizer only understands text frames.
func (c Config) STTStreamFormat() string {
	if c.STTFormat != "" {
		return c.STTFormat
	}
	if c.STTProvider == STTLoopback {
		return "text"
	}
	return "pcm_s16le"
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
