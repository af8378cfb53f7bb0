package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
)

// Validate validates the configuration.
func Validate(cfg *Config) error {
	validators := []func(*Config) error{
		func(c *Config) error { return validateServer(&c.Server) },
		func(c *Config) error { return validateTerminal(&c.Terminal) },
		func(c *Config) error { return validateInput(&c.Input) },
		func(c *Config) error { return validateFiles(&c.Files) },
		func(c *Config) error { return validateDiscovery(&c.Discovery) },
		func(c *Config) error { return validateSecurity(&c.Security) },
		func(c *Config) error { return validatePairing(&c.Pairing) },
		func(c *Config) error { return validateLogging(&c.Logging) },
		func(c *Config) error { return validateClient(&c.Client) },
	}
	for _, validate := range validators {
		if err := validate(cfg); err != nil {
			return err
		}
	}
	return nil
}

func validatePort(port int, field string) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535", field)
	}
	return nil
}

func validateServer(cfg *ServerConfig) error {
	if err := validatePort(cfg.Port, "server.port"); err != nil {
		return err
	}
	if cfg.Host == "" {
		return fmt.Errorf("server.host cannot be empty")
	}
	if cfg.ExternalURL != "" {
		if err := validateExternalURL(cfg.ExternalURL, "server.external_url", []string{"http", "https"}); err != nil {
			return err
		}
	}
	if cfg.ShutdownTimeoutSecs < 0 {
		return fmt.Errorf("server.shutdown_timeout_secs cannot be negative")
	}
	return nil
}

// validateExternalURL validates that a URL is well-formed and uses an allowed scheme.
func validateExternalURL(rawURL, fieldName string, allowedSchemes []string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", fieldName, err)
	}

	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", fieldName)
	}

	for _, scheme := range allowedSchemes {
		if strings.EqualFold(parsed.Scheme, scheme) {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of these schemes: %s", fieldName, strings.Join(allowedSchemes, ", "))
}

func validateTerminal(cfg *TerminalConfig) error {
	if cfg.Cols < 1 || cfg.Cols > 1000 {
		return fmt.Errorf("terminal.cols must be between 1 and 1000")
	}
	if cfg.Rows < 1 || cfg.Rows > 1000 {
		return fmt.Errorf("terminal.rows must be between 1 and 1000")
	}
	if cfg.WorkDir != "" {
		info, err := os.Stat(cfg.WorkDir)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("terminal.work_dir does not exist: %s", cfg.WorkDir)
			}
			return fmt.Errorf("error accessing terminal.work_dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("terminal.work_dir is not a directory: %s", cfg.WorkDir)
		}
	}
	return nil
}

func validateInput(cfg *InputConfig) error {
	if cfg.MaxPerSecond < 1 {
		return fmt.Errorf("input.max_per_second must be at least 1")
	}
	if cfg.MaxPerMinute < cfg.MaxPerSecond {
		return fmt.Errorf("input.max_per_minute cannot be lower than input.max_per_second")
	}
	if cfg.ScreenCacheSecs < 1 {
		return fmt.Errorf("input.screen_cache_secs must be at least 1")
	}
	if cfg.CommandTimeoutMS < 100 || cfg.CommandTimeoutMS > 60000 {
		return fmt.Errorf("input.command_timeout_ms must be between 100 and 60000")
	}
	return nil
}

func validateFiles(cfg *FilesConfig) error {
	if cfg.MaxFileSizeKB < 1 {
		return fmt.Errorf("files.max_file_size_kb must be at least 1")
	}
	if cfg.MaxFileSizeKB > 102400 { // 100MB max
		return fmt.Errorf("files.max_file_size_kb cannot exceed 102400 (100MB)")
	}
	if cfg.Root != "" {
		info, err := os.Stat(cfg.Root)
		if err != nil {
			return fmt.Errorf("files.root is not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("files.root is not a directory: %s", cfg.Root)
		}
	}
	return nil
}

func validateDiscovery(cfg *DiscoveryConfig) error {
	if err := validatePort(cfg.FrontendPort, "discovery.frontend_port"); err != nil {
		return err
	}
	return validatePort(cfg.EditorPort, "discovery.editor_port")
}

func validateSecurity(cfg *SecurityConfig) error {
	for _, proxy := range cfg.TrustedProxies {
		trimmed := strings.TrimSpace(proxy)
		if trimmed == "" {
			return fmt.Errorf("security.trusted_proxies contains an empty value")
		}
		if net.ParseIP(trimmed) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(trimmed); err != nil {
			return fmt.Errorf("security.trusted_proxies has invalid CIDR/IP value: %s", trimmed)
		}
	}
	for _, origin := range cfg.AllowedOrigins {
		if strings.TrimSpace(origin) == "" {
			return fmt.Errorf("security.allowed_origins contains an empty value")
		}
	}
	return nil
}

func validatePairing(cfg *PairingConfig) error {
	if cfg.Scheme != "http" && cfg.Scheme != "https" {
		return fmt.Errorf("pairing.scheme must be http or https")
	}
	if err := validatePort(cfg.UIPort, "pairing.ui_port"); err != nil {
		return err
	}
	if cfg.QRSize < 64 || cfg.QRSize > 2048 {
		return fmt.Errorf("pairing.qr_size must be between 64 and 2048")
	}
	return nil
}

func validateLogging(cfg *LoggingConfig) error {
	switch cfg.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of trace, debug, info, warn, error")
	}
	switch cfg.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json")
	}
	return nil
}

func validateClient(cfg *ClientConfig) error {
	if cfg.ServerURL != "" {
		if err := validateExternalURL(cfg.ServerURL, "client.server_url", []string{"http", "https"}); err != nil {
			return err
		}
	}
	if cfg.Scale < 0 {
		return fmt.Errorf("client.scale cannot be negative")
	}
	if cfg.QueueSize < 1 {
		return fmt.Errorf("client.queue_size must be at least 1")
	}
	if cfg.SendTimeoutMS < 1 {
		return fmt.Errorf("client.send_timeout_ms must be at least 1")
	}
	return nil
}
