// Package common provides shared utilities for the gateway.
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the gateway.
type Config struct {
	Environment string         `toml:"environment"`
	StateDir    string         `toml:"state_dir"`
	PublicURL   string         `toml:"public_url"`
	Server      ServerConfig   `toml:"server"`
	Worker      WorkerConfig   `toml:"worker"`
	Stream      StreamConfig   `toml:"stream"`
	Watchdog    WatchdogConfig `toml:"watchdog"`
	Approval    ApprovalConfig `toml:"approval"`
	Baileys     BaileysConfig  `toml:"baileys"`
	Logging     LoggingConfig  `toml:"logging"`
	Clients     ClientsConfig  `toml:"clients"`
	Auth        AuthConfig     `toml:"auth"`
}

// AuthConfig configures the optional bearer-auth middleware guarding the
// admin/run/stream HTTP surface. An empty JWTSecret disables the check.
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// WorkerConfig holds worker pool and dispatcher polling configuration.
type WorkerConfig struct {
	Count              int `toml:"count"`
	PollMS             int `toml:"poll_ms"`
	NotificationPollMS int `toml:"notification_poll_ms"`
	ReminderPollMS     int `toml:"reminder_poll_ms"`
}

// StreamConfig holds conversation-event-log retention configuration.
type StreamConfig struct {
	MaxEvents      int `toml:"max_events"`
	RetentionDays  int `toml:"retention_days"`
	DedupeWindowMS int `toml:"dedupe_window_ms"`
}

// WatchdogConfig holds job-recovery timeout configuration.
type WatchdogConfig struct {
	RunningTimeoutMS    int `toml:"running_timeout_ms"`
	CancellingTimeoutMS int `toml:"cancelling_timeout_ms"`
}

// ApprovalConfig holds approval-token TTL configuration.
type ApprovalConfig struct {
	TTLMS int `toml:"ttl_ms"`
}

// BaileysConfig holds the WhatsApp-style webhook inbound token.
type BaileysConfig struct {
	InboundToken string `toml:"inbound_token"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string   `toml:"level"`
	Outputs  []string `toml:"outputs"`
	FilePath string   `toml:"file_path"`
}

// ClientsConfig holds optional external collaborator configuration.
type ClientsConfig struct {
	Gemini GeminiConfig `toml:"gemini"`
	Slack  SlackConfig  `toml:"slack"`
}

// GeminiConfig configures the optional genai-backed LLMService adapter.
type GeminiConfig struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// SlackConfig configures the optional Slack ChannelAdapter.
type SlackConfig struct {
	BotToken string `toml:"bot_token"`
}

// NewDefaultConfig returns a Config with the defaults named in spec.md §6.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		StateDir:    "./state",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Worker: WorkerConfig{
			Count:              4,
			PollMS:             250,
			NotificationPollMS: 500,
			ReminderPollMS:     1000,
		},
		Stream: StreamConfig{
			MaxEvents:      5000,
			RetentionDays:  14,
			DedupeWindowMS: 2500,
		},
		Watchdog: WatchdogConfig{
			RunningTimeoutMS:    10 * 60 * 1000,
			CancellingTimeoutMS: 90 * 1000,
		},
		Approval: ApprovalConfig{
			TTLMS: 10 * 60 * 1000,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Outputs: []string{"console"},
		},
	}
}

// LoadConfig loads configuration from TOML files (later files override earlier ones),
// then layers environment-variable overrides on top.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	clampConfig(config)

	return config, nil
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("STATE_DIR"); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
		c.PublicURL = v
	}
	if v := os.Getenv("WORKER_POLL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Worker.PollMS = n
		}
	}
	if v := os.Getenv("NOTIFICATION_POLL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Worker.NotificationPollMS = n
		}
	}
	if v := os.Getenv("REMINDER_POLL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Worker.ReminderPollMS = n
		}
	}
	if v := os.Getenv("STREAM_MAX_EVENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Stream.MaxEvents = n
		}
	}
	if v := os.Getenv("STREAM_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Stream.RetentionDays = n
		}
	}
	if v := os.Getenv("STREAM_DEDUPE_WINDOW_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Stream.DedupeWindowMS = n
		}
	}
	if v := os.Getenv("WATCHDOG_RUNNING_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Watchdog.RunningTimeoutMS = n
		}
	}
	if v := os.Getenv("WATCHDOG_CANCELLING_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Watchdog.CancellingTimeoutMS = n
		}
	}
	if v := os.Getenv("WHATSAPP_BAILEYS_INBOUND_TOKEN"); v != "" {
		c.Baileys.InboundToken = v
	}
	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Clients.Gemini.APIKey = v
	}
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		c.Clients.Slack.BotToken = v
	}
	if v := os.Getenv("GATEWAY_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
}

// clampConfig enforces the bounds named in spec.md §6/§8.
func clampConfig(c *Config) {
	c.Worker.PollMS = clampInt(c.Worker.PollMS, 25, 60000)
	c.Watchdog.RunningTimeoutMS = clampInt(c.Watchdog.RunningTimeoutMS, 30000, 24*60*60*1000)
	c.Watchdog.CancellingTimeoutMS = clampInt(c.Watchdog.CancellingTimeoutMS, 10000, 24*60*60*1000)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// RunningTimeout returns the watchdog running-job timeout as a Duration.
func (c *Config) RunningTimeout() time.Duration {
	return time.Duration(c.Watchdog.RunningTimeoutMS) * time.Millisecond
}

// CancellingTimeout returns the watchdog cancelling-job timeout as a Duration.
func (c *Config) CancellingTimeout() time.Duration {
	return time.Duration(c.Watchdog.CancellingTimeoutMS) * time.Millisecond
}

// ApprovalTTL returns the default approval-token TTL as a Duration.
func (c *Config) ApprovalTTL() time.Duration {
	if c.Approval.TTLMS <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Approval.TTLMS) * time.Millisecond
}
