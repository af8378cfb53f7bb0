// Package config handles configuration management for touchcore.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/brianly1003/touchcore/internal/pathutil"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Terminal  TerminalConfig  `mapstructure:"terminal" yaml:"terminal"`
	Input     InputConfig     `mapstructure:"input" yaml:"input"`
	Files     FilesConfig     `mapstructure:"files" yaml:"files"`
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
	Security  SecurityConfig  `mapstructure:"security" yaml:"security"`
	Pairing   PairingConfig   `mapstructure:"pairing" yaml:"pairing"`
	Audit     AuditConfig     `mapstructure:"audit" yaml:"audit"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Client    ClientConfig    `mapstructure:"client" yaml:"client"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Host                string `mapstructure:"host" yaml:"host"`
	Port                int    `mapstructure:"port" yaml:"port"`
	ExternalURL         string `mapstructure:"external_url" yaml:"external_url"` // Optional: public UI URL advertised in the pairing QR
	ShutdownTimeoutSecs int    `mapstructure:"shutdown_timeout_secs" yaml:"shutdown_timeout_secs"`
}

// TerminalConfig holds the remote shell configuration.
type TerminalConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Shell        string   `mapstructure:"shell" yaml:"shell"` // Empty means $SHELL, then /bin/bash
	Args         []string `mapstructure:"args" yaml:"args"`
	WorkDir      string   `mapstructure:"work_dir" yaml:"work_dir"`
	Cols         int      `mapstructure:"cols" yaml:"cols"`
	Rows         int      `mapstructure:"rows" yaml:"rows"`
	BinaryFrames bool     `mapstructure:"binary_frames" yaml:"binary_frames"`
}

// InputConfig holds desktop pointer configuration.
type InputConfig struct {
	Enabled          bool   `mapstructure:"enabled" yaml:"enabled"`
	Display          string `mapstructure:"display" yaml:"display"`
	MaxPerSecond     int    `mapstructure:"max_per_second" yaml:"max_per_second"`
	MaxPerMinute     int    `mapstructure:"max_per_minute" yaml:"max_per_minute"`
	ScreenCacheSecs  int    `mapstructure:"screen_cache_secs" yaml:"screen_cache_secs"`
	CommandTimeoutMS int    `mapstructure:"command_timeout_ms" yaml:"command_timeout_ms"`
}

// FilesConfig holds file operation configuration.
type FilesConfig struct {
	Root          string `mapstructure:"root" yaml:"root"` // Empty means unconfined
	MaxFileSizeKB int    `mapstructure:"max_file_size_kb" yaml:"max_file_size_kb"`
}

// DiscoveryConfig holds runtime discovery configuration.
type DiscoveryConfig struct {
	Home         string `mapstructure:"home" yaml:"home"` // Empty means $HOME/.statik-server
	FrontendPort int    `mapstructure:"frontend_port" yaml:"frontend_port"`
	EditorPort   int    `mapstructure:"editor_port" yaml:"editor_port"`
	Watch        bool   `mapstructure:"watch" yaml:"watch"`
}

// SecurityConfig holds the request gates.
type SecurityConfig struct {
	AccessToken       string   `mapstructure:"access_token" yaml:"access_token"`
	AllowedOrigins    []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	BindLocalhostOnly bool     `mapstructure:"bind_localhost_only" yaml:"bind_localhost_only"`
	TrustedProxies    []string `mapstructure:"trusted_proxies" yaml:"trusted_proxies"`
}

// PairingConfig holds pairing/QR code configuration.
type PairingConfig struct {
	Scheme           string `mapstructure:"scheme" yaml:"scheme"`
	UIPort           int    `mapstructure:"ui_port" yaml:"ui_port"`
	QRSize           int    `mapstructure:"qr_size" yaml:"qr_size"`
	ShowQRInTerminal bool   `mapstructure:"show_qr_in_terminal" yaml:"show_qr_in_terminal"`
}

// AuditConfig holds the audit log configuration.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"` // Empty means ~/.touchcore/audit.db
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ClientConfig holds settings for the client-side commands (attach, gesture).
type ClientConfig struct {
	ServerURL     string  `mapstructure:"server_url" yaml:"server_url"`
	Token         string  `mapstructure:"token" yaml:"token"`
	Scale         float64 `mapstructure:"scale" yaml:"scale"` // <= 0 means the device pixel ratio
	QueueSize     int     `mapstructure:"queue_size" yaml:"queue_size"`
	SendTimeoutMS int     `mapstructure:"send_timeout_ms" yaml:"send_timeout_ms"`
}

// TerminalURL derives the websocket endpoint from ServerURL.
func (c ClientConfig) TerminalURL() string {
	base := strings.TrimRight(c.ServerURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/terminal"
}

// Load loads configuration from files and environment.
func Load(configPath string) (*Config, error) {
	cfg, _, err := LoadWithViper(configPath)
	return cfg, err
}

// LoadWithViper is Load that also returns the viper instance, so callers can
// report which file was used.
func LoadWithViper(configPath string) (*Config, *viper.Viper, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.touchcore")
		v.AddConfigPath("/etc/touchcore")
	}

	// Environment variable prefix
	v.SetEnvPrefix("TOUCHCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Ports shared with the rest of the stack keep their established names.
	_ = v.BindEnv("discovery.frontend_port", "TOUCHCORE_DISCOVERY_FRONTEND_PORT", "STATIK_FRONTEND_PORT")
	_ = v.BindEnv("discovery.editor_port", "TOUCHCORE_DISCOVERY_EDITOR_PORT", "STATIK_VSCODE_PORT")

	setDefaults(v)

	// Read config file (optional - not an error if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := postProcess(&cfg); err != nil {
		return nil, nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, nil, err
	}

	return &cfg, v, nil
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.external_url", "")
	v.SetDefault("server.shutdown_timeout_secs", 5)

	// Terminal defaults
	v.SetDefault("terminal.enabled", true)
	v.SetDefault("terminal.shell", "")
	v.SetDefault("terminal.args", []string{})
	v.SetDefault("terminal.work_dir", "")
	v.SetDefault("terminal.cols", 80)
	v.SetDefault("terminal.rows", 24)
	v.SetDefault("terminal.binary_frames", false)

	// Input defaults
	v.SetDefault("input.enabled", true)
	v.SetDefault("input.display", "")
	v.SetDefault("input.max_per_second", 50)
	v.SetDefault("input.max_per_minute", 1000)
	v.SetDefault("input.screen_cache_secs", 30)
	v.SetDefault("input.command_timeout_ms", 2000)

	// Files defaults
	v.SetDefault("files.root", "")
	v.SetDefault("files.max_file_size_kb", 10240)

	// Discovery defaults
	v.SetDefault("discovery.home", "")
	v.SetDefault("discovery.frontend_port", 3000)
	v.SetDefault("discovery.editor_port", 8080)
	v.SetDefault("discovery.watch", true)

	// Security defaults
	v.SetDefault("security.access_token", "")
	v.SetDefault("security.allowed_origins", []string{})
	v.SetDefault("security.bind_localhost_only", false)
	v.SetDefault("security.trusted_proxies", []string{})

	// Pairing defaults
	v.SetDefault("pairing.scheme", "https")
	v.SetDefault("pairing.ui_port", 5000)
	v.SetDefault("pairing.qr_size", 256)
	v.SetDefault("pairing.show_qr_in_terminal", false)

	// Audit defaults
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.path", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	// Client defaults
	v.SetDefault("client.server_url", "http://localhost:8000")
	v.SetDefault("client.token", "")
	v.SetDefault("client.scale", 0)
	v.SetDefault("client.queue_size", 256)
	v.SetDefault("client.send_timeout_ms", 2000)
}

// postProcess fills derived values.
func postProcess(cfg *Config) error {
	if cfg.Audit.Enabled && cfg.Audit.Path == "" {
		dir, err := GetConfigDir()
		if err != nil {
			return fmt.Errorf("failed to resolve audit path: %w", err)
		}
		cfg.Audit.Path = filepath.Join(dir, "audit.db")
	}

	if cfg.Files.Root != "" {
		root, err := pathutil.ExpandHome(cfg.Files.Root)
		if err != nil {
			return fmt.Errorf("failed to resolve files.root: %w", err)
		}
		cfg.Files.Root = root
	}

	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	return nil
}

// GetConfigDir returns the user config directory for touchcore.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".touchcore"), nil
}
