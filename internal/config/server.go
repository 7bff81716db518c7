package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultLiveURL is the Gemini Live BidiGenerateContent WebSocket endpoint.
const DefaultLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// DefaultSystemInstruction is used when a client connects without one.
const DefaultSystemInstruction = "You are a helpful assistant that can see and analyze images of the user's screen. " +
	"When you receive images, describe precisely what you see and answer the user's question concisely."

// ServerConfig holds configuration for the relay server.
type ServerConfig struct {
	Port                int           `yaml:"port"`
	MetricsAddr         string        `yaml:"metrics_addr"`
	LogLevel            string        `yaml:"log_level"`
	ConfigFile          string        `yaml:"-"`
	APIKey              string        `yaml:"api_key"`
	Model               string        `yaml:"model"`
	LiveURL             string        `yaml:"live_url"`
	SystemInstruction   string        `yaml:"system_instruction"`
	Transcriptions      bool          `yaml:"transcriptions"`
	MaxPayloadBytes     int64         `yaml:"max_frame_size"`
	MaxFramesPerRequest int           `yaml:"max_frames_per_request"`
	TurnTimeout         time.Duration `yaml:"turn_timeout"`
	DialTimeout         time.Duration `yaml:"dial_timeout"`
	DrainTimeout        time.Duration `yaml:"drain_timeout"`
	AllowedOrigins      []string      `yaml:"allowed_origins"`
	WSPath              string        `yaml:"ws_path"`
	RedisAddr           string        `yaml:"redis_addr"`
}

// SetDefaults initializes c with built-in defaults.
func (c *ServerConfig) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Port == 0 {
		c.Port = 5000
	}
	if c.Model == "" {
		c.Model = "gemini-live-2.5-flash-preview"
	}
	if c.LiveURL == "" {
		c.LiveURL = DefaultLiveURL
	}
	if c.SystemInstruction == "" {
		c.SystemInstruction = DefaultSystemInstruction
	}
	// bools have no unset value; SetDefaults runs before file, env and flags
	c.Transcriptions = true
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = 15 * 1024 * 1024
	}
	if c.MaxFramesPerRequest == 0 {
		c.MaxFramesPerRequest = 30
	}
	if c.TurnTimeout == 0 {
		c.TurnTimeout = 120 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 30 * time.Second
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.WSPath == "" {
		c.WSPath = "/ws"
	}
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigPath("server.yaml")
	}
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *ServerConfig) ApplyEnv() {
	if v := GetEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := GetEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := GetEnv("PORT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := GetEnv("METRICS_PORT", ""); v != "" {
		if strings.Contains(v, ":") {
			c.MetricsAddr = v
		} else {
			c.MetricsAddr = ":" + v
		}
	}
	if v := GetEnv("GEMINI_API_KEY", ""); v != "" {
		c.APIKey = v
	}
	if v := GetEnv("GEMINI_MODEL", ""); v != "" {
		c.Model = v
	}
	if v := GetEnv("GEMINI_LIVE_URL", ""); v != "" {
		c.LiveURL = v
	}
	if v := GetEnv("SYSTEM_INSTRUCTION", ""); v != "" {
		c.SystemInstruction = v
	}
	if v := GetEnv("TRANSCRIPTIONS", ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Transcriptions = b
		}
	}
	if v := GetEnv("MAX_FRAME_SIZE", ""); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxPayloadBytes = n
		}
	}
	if v := GetEnv("MAX_FRAMES_PER_REQUEST", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxFramesPerRequest = n
		}
	}
	if v := GetEnv("TURN_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.TurnTimeout = d
		}
	}
	if v := GetEnv("DIAL_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DialTimeout = d
		}
	}
	if v := GetEnv("DRAIN_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DrainTimeout = d
		}
	}
	if v := GetEnv("ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitComma(v)
	}
	if v := GetEnv("WS_PATH", ""); v != "" {
		c.WSPath = v
	}
	if v := GetEnv("REDIS_ADDR", ""); v != "" {
		c.RedisAddr = v
	}
}

// BindFlagsFromCurrent binds command line flags using the current config values as defaults.
func (c *ServerConfig) BindFlagsFromCurrent(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "server config file path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.IntVar(&c.Port, "port", c.Port, "HTTP listen port")
	fs.StringVar(&c.MetricsAddr, "metrics-port", c.MetricsAddr, "Prometheus metrics listen address or port; defaults to the value of --port")
	fs.StringVar(&c.APIKey, "api-key", c.APIKey, "Gemini API key")
	fs.StringVar(&c.Model, "model", c.Model, "Gemini Live model name")
	fs.StringVar(&c.LiveURL, "live-url", c.LiveURL, "Gemini Live WebSocket endpoint")
	fs.StringVar(&c.SystemInstruction, "system-instruction", c.SystemInstruction, "system instruction used when the client sends none")
	fs.BoolVar(&c.Transcriptions, "transcriptions", c.Transcriptions, "request input and output speech transcripts from Gemini Live")
	fs.Int64Var(&c.MaxPayloadBytes, "max-frame-size", c.MaxPayloadBytes, "maximum total frame bytes per turn before frames are dropped")
	fs.IntVar(&c.MaxFramesPerRequest, "max-frames-per-request", c.MaxFramesPerRequest, "maximum frames forwarded per turn; oldest are dropped")
	fs.DurationVar(&c.TurnTimeout, "turn-timeout", c.TurnTimeout, "time to wait for turn completion before reporting an error (0 disables)")
	fs.DurationVar(&c.DialTimeout, "dial-timeout", c.DialTimeout, "time allowed to open the upstream session")
	fs.DurationVar(&c.DrainTimeout, "drain-timeout", c.DrainTimeout, "time to wait for open connections on shutdown (negative waits indefinitely, 0 exits immediately)")
	fs.StringVar(&c.WSPath, "ws-path", c.WSPath, "path clients use to open the relay WebSocket")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis connection URL for server state")
	fs.Func("allowed-origins", "comma separated list of allowed CORS and WebSocket origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
}

// SharedMetrics reports whether /metrics is served by the main listener.
func (c *ServerConfig) SharedMetrics() bool {
	return c.MetricsAddr == "" || c.MetricsAddr == fmt.Sprintf(":%d", c.Port)
}

// LoadFile populates the config from a YAML file.
func (c *ServerConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}
