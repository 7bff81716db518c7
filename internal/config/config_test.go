package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		name        string
		goos        string
		home        string
		programData string
		want        string
	}{
		{name: "linux", goos: "linux", home: "/home/user", want: "/etc/liverelay/server.yaml"},
		{name: "darwin", goos: "darwin", home: "/Users/test", want: "/Users/test/Library/Application Support/liverelay/server.yaml"},
		{name: "windows", goos: "windows", programData: "C:\\ProgramData\\", want: "C:/ProgramData/liverelay/server.yaml"},
		{name: "windows default ProgramData", goos: "windows", want: "C:/ProgramData/liverelay/server.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.ReplaceAll(ResolveConfigPath(tt.goos, tt.home, tt.programData, "server.yaml"), "\\", "/")
			if got != tt.want {
				t.Errorf("got %q want %q", got, tt.want)
			}
		})
	}
}

func TestServerConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	yml := "port: 7000\nmodel: file-model\nmax_frame_size: 1024\nturn_timeout: 45s\nallowed_origins:\n  - https://a.example\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var cfg ServerConfig
	cfg.SetDefaults()
	if cfg.Port != 5000 || cfg.MaxPayloadBytes != 15*1024*1024 || cfg.MaxFramesPerRequest != 30 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.Port != 7000 || cfg.Model != "file-model" || cfg.MaxPayloadBytes != 1024 || cfg.TurnTimeout != 45*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}

	t.Setenv("GEMINI_MODEL", "env-model")
	t.Setenv("METRICS_PORT", "9100")
	cfg.ApplyEnv()
	if cfg.Model != "env-model" {
		t.Fatalf("env model not applied: %q", cfg.Model)
	}
	if cfg.MetricsAddr != ":9100" || cfg.SharedMetrics() {
		t.Fatalf("metrics addr = %q", cfg.MetricsAddr)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.BindFlagsFromCurrent(fs)
	if err := fs.Parse([]string{"--model", "flag-model", "--allowed-origins", "https://b.example, https://c.example"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if cfg.Model != "flag-model" {
		t.Fatalf("flag model not applied: %q", cfg.Model)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://c.example" {
		t.Fatalf("allowed origins = %v", cfg.AllowedOrigins)
	}
	if cfg.Port != 7000 {
		t.Fatalf("port lost across layers: %d", cfg.Port)
	}
}

func TestSharedMetricsDefault(t *testing.T) {
	var cfg ServerConfig
	cfg.SetDefaults()
	t.Setenv("PORT", "6001")
	cfg.ApplyEnv()
	if !cfg.SharedMetrics() {
		t.Fatalf("metrics should share the main port by default")
	}
}

func TestTranscriptionsSetting(t *testing.T) {
	var cfg ServerConfig
	cfg.SetDefaults()
	if !cfg.Transcriptions {
		t.Fatalf("transcriptions should default on")
	}
	t.Setenv("TRANSCRIPTIONS", "false")
	cfg.ApplyEnv()
	if cfg.Transcriptions {
		t.Fatalf("env did not disable transcriptions")
	}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.BindFlagsFromCurrent(fs)
	if err := fs.Parse([]string{"--transcriptions=true"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if !cfg.Transcriptions {
		t.Fatalf("flag did not enable transcriptions")
	}
}

func TestClientConfigEnv(t *testing.T) {
	var cfg ClientConfig
	cfg.SetDefaults()
	t.Setenv("SERVER_URL", "ws://relay:9000/ws")
	t.Setenv("FRAME_QUALITY", "0.5")
	t.Setenv("CAPTURE_INTERVAL", "3s")
	t.Setenv("AUTO_CONNECT", "true")
	cfg.ApplyEnv()
	if cfg.ServerURL != "ws://relay:9000/ws" || cfg.FrameQuality != 0.5 || cfg.CaptureInterval != 3*time.Second || !cfg.AutoConnect {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.MaxFrames != 30 {
		t.Fatalf("max frames default = %d", cfg.MaxFrames)
	}
}

func TestConfigFlag(t *testing.T) {
	if p, ok := ConfigFlag([]string{"--port", "1", "--config", "/tmp/x.yaml"}); !ok || p != "/tmp/x.yaml" {
		t.Fatalf("got %q %v", p, ok)
	}
	if p, ok := ConfigFlag([]string{"--config=/tmp/y.yaml"}); !ok || p != "/tmp/y.yaml" {
		t.Fatalf("got %q %v", p, ok)
	}
	if _, ok := ConfigFlag([]string{"--port", "1"}); ok {
		t.Fatalf("unexpected config flag")
	}
}
