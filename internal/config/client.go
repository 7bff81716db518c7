package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientConfig holds configuration for the terminal client.
type ClientConfig struct {
	ServerURL         string        `yaml:"server_url"`
	LogLevel          string        `yaml:"log_level"`
	ConfigFile        string        `yaml:"-"`
	SystemInstruction string        `yaml:"system_instruction"`
	CaptureSource     string        `yaml:"capture_source"`
	CaptureInterval   time.Duration `yaml:"capture_interval"`
	FrameQuality      float64       `yaml:"frame_quality"`
	MaxFrames         int           `yaml:"max_frames"`
	AutoConnect       bool          `yaml:"auto_connect"`
}

// SetDefaults initializes c with built-in defaults.
func (c *ClientConfig) SetDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = "ws://localhost:5000/ws"
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.CaptureInterval == 0 {
		c.CaptureInterval = time.Second
	}
	if c.FrameQuality == 0 {
		c.FrameQuality = 0.7
	}
	if c.MaxFrames == 0 {
		c.MaxFrames = 30
	}
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigPath("client.yaml")
	}
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *ClientConfig) ApplyEnv() {
	if v := GetEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := GetEnv("SERVER_URL", ""); v != "" {
		c.ServerURL = v
	}
	if v := GetEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := GetEnv("SYSTEM_INSTRUCTION", ""); v != "" {
		c.SystemInstruction = v
	}
	if v := GetEnv("CAPTURE_SOURCE", ""); v != "" {
		c.CaptureSource = v
	}
	if v := GetEnv("CAPTURE_INTERVAL", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.CaptureInterval = d
		}
	}
	if v := GetEnv("FRAME_QUALITY", ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.FrameQuality = f
		}
	}
	if v := GetEnv("MAX_FRAMES", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxFrames = n
		}
	}
	if v := GetEnv("AUTO_CONNECT", ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.AutoConnect = b
		}
	}
}

// BindFlagsFromCurrent binds command line flags using the current config values as defaults.
func (c *ClientConfig) BindFlagsFromCurrent(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "client config file path")
	fs.StringVar(&c.ServerURL, "server-url", c.ServerURL, "relay server websocket url")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.StringVar(&c.SystemInstruction, "system-instruction", c.SystemInstruction, "system instruction sent when opening the upstream session")
	fs.StringVar(&c.CaptureSource, "capture-source", c.CaptureSource, "image file sampled as the shared screen")
	fs.DurationVar(&c.CaptureInterval, "capture-interval", c.CaptureInterval, "frame sampling period (1s-10s)")
	fs.Float64Var(&c.FrameQuality, "frame-quality", c.FrameQuality, "JPEG quality between 0 and 1")
	fs.IntVar(&c.MaxFrames, "max-frames", c.MaxFrames, "frames kept in the capture buffer")
	fs.BoolVar(&c.AutoConnect, "auto-connect", c.AutoConnect, "open the upstream session on start")
}

// LoadFile populates the config from a YAML file.
func (c *ClientConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}
