package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 8000 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Terminal.Cols != 80 || cfg.Terminal.Rows != 24 || cfg.Terminal.BinaryFrames {
		t.Errorf("terminal = %+v", cfg.Terminal)
	}
	if cfg.Input.MaxPerSecond != 50 || cfg.Input.MaxPerMinute != 1000 || cfg.Input.ScreenCacheSecs != 30 {
		t.Errorf("input = %+v", cfg.Input)
	}
	if cfg.Files.MaxFileSizeKB != 10240 {
		t.Errorf("files = %+v", cfg.Files)
	}
	if cfg.Discovery.FrontendPort != 3000 || cfg.Discovery.EditorPort != 8080 || !cfg.Discovery.Watch {
		t.Errorf("discovery = %+v", cfg.Discovery)
	}
	if cfg.Security.AccessToken != "" {
		t.Errorf("expected no access token by default")
	}
	if cfg.Pairing.Scheme != "https" || cfg.Pairing.UIPort != 5000 {
		t.Errorf("pairing = %+v", cfg.Pairing)
	}
	if !cfg.Audit.Enabled || !strings.HasSuffix(cfg.Audit.Path, filepath.Join(".touchcore", "audit.db")) {
		t.Errorf("audit = %+v", cfg.Audit)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "console" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Client.ServerURL != "http://localhost:8000" || cfg.Client.QueueSize != 256 {
		t.Errorf("client = %+v", cfg.Client)
	}
}

func TestLoad_File(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	path := writeConfig(t, `
server:
  port: 9000
  external_url: https://desk.example.com
terminal:
  binary_frames: true
  cols: 120
files:
  root: `+root+`
security:
  access_token: s3cret
  allowed_origins: ["*.ts.net"]
logging:
  level: DEBUG
  format: json
audit:
  enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Server.ExternalURL != "https://desk.example.com" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if !cfg.Terminal.BinaryFrames || cfg.Terminal.Cols != 120 || cfg.Terminal.Rows != 24 {
		t.Errorf("terminal = %+v", cfg.Terminal)
	}
	if cfg.Files.Root != root {
		t.Errorf("files.root = %q", cfg.Files.Root)
	}
	if cfg.Security.AccessToken != "s3cret" || len(cfg.Security.AllowedOrigins) != 1 {
		t.Errorf("security = %+v", cfg.Security)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level not normalised: %q", cfg.Logging.Level)
	}
	if cfg.Audit.Enabled || cfg.Audit.Path != "" {
		t.Errorf("audit = %+v", cfg.Audit)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TOUCHCORE_SERVER_PORT", "8123")
	t.Setenv("TOUCHCORE_SECURITY_ACCESS_TOKEN", "from-env")
	t.Setenv("STATIK_FRONTEND_PORT", "3100")
	t.Setenv("STATIK_VSCODE_PORT", "8180")

	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8123 {
		t.Errorf("server.port = %d, want 8123", cfg.Server.Port)
	}
	if cfg.Security.AccessToken != "from-env" {
		t.Errorf("access_token = %q", cfg.Security.AccessToken)
	}
	if cfg.Discovery.FrontendPort != 3100 || cfg.Discovery.EditorPort != 8180 {
		t.Errorf("discovery ports = %d, %d", cfg.Discovery.FrontendPort, cfg.Discovery.EditorPort)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if _, err := Load(writeConfig(t, "server: [broken")); err == nil {
		t.Error("expected parse error")
	}
	if _, err := Load(writeConfig(t, "server:\n  port: 0\n")); err == nil || !strings.Contains(err.Error(), "server.port") {
		t.Errorf("expected server.port error, got %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for explicit missing file")
	}
}

func TestClientConfig_TerminalURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8000":    "ws://localhost:8000/terminal",
		"https://desk.example.com/": "wss://desk.example.com/terminal",
		"ws://10.0.0.2:8000":       "ws://10.0.0.2:8000/terminal",
	}
	for in, want := range tests {
		if got := (ClientConfig{ServerURL: in}).TerminalURL(); got != want {
			t.Errorf("TerminalURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 8000 || cfg.Input.MaxPerSecond != 50 {
		t.Errorf("Default() = %+v", cfg)
	}
}
