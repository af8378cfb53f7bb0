package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/brianly1003/touchcore/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "********"

// configCmd displays configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Display configuration",
	Long: `Display touchcore configuration.

Without subcommands, shows the current effective configuration as YAML.
Tokens are masked.

Examples:
  touchcore config              # Show current config
  touchcore config path         # Show config file location
  touchcore config get <key>    # Get a config value`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return printConfig(cmd.OutOrStdout(), cfg)
	},
}

// configPathCmd shows config file location.
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file location",
	RunE:  runConfigPath,
}

// configGetCmd gets a config value.
var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Long: `Get a configuration value by key.

Keys use dot notation to access nested values.

Examples:
  touchcore config get server.port
  touchcore config get input.max_per_second`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

func init() {
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configGetCmd)
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configDir, err := config.GetConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config dir: %w", err)
	}

	out := cmd.OutOrStdout()
	if cfgFile != "" {
		fmt.Fprintf(out, "Config file (--config): %s (%s)\n", cfgFile, fileState(cfgFile))
		return nil
	}

	locations := []string{
		"./config.yaml",
		filepath.Join(configDir, "config.yaml"),
		"/etc/touchcore/config.yaml",
	}

	fmt.Fprintln(out, "Config search paths (in order):")
	for i, loc := range locations {
		fmt.Fprintf(out, "  %d. %s (%s)\n", i+1, loc, fileState(loc))
	}
	fmt.Fprintf(out, "\nConfig directory: %s\n", configDir)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	value, err := getConfigValue(cfg, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func fileState(path string) string {
	if _, err := os.Stat(path); err == nil {
		return "exists"
	}
	return "not found"
}

// printConfig writes cfg as YAML with secrets masked.
func printConfig(w io.Writer, cfg *config.Config) error {
	tree, err := configTree(cfg)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(tree); err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	return enc.Close()
}

// getConfigValue looks up a dotted key such as "server.port". Sections
// are rendered as YAML.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	tree, err := configTree(cfg)
	if err != nil {
		return "", err
	}

	var current any = tree
	for _, part := range strings.Split(key, ".") {
		section, ok := current.(map[string]any)
		if !ok {
			return "", fmt.Errorf("unknown config key: %s", key)
		}
		if current, ok = section[part]; !ok {
			return "", fmt.Errorf("unknown config key: %s", key)
		}
	}

	switch v := current.(type) {
	case map[string]any, []any:
		data, err := yaml.Marshal(v)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(data), "\n"), nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(v), nil
	}
}

// configTree converts cfg into nested maps keyed by the YAML field names.
func configTree(cfg *config.Config) (map[string]any, error) {
	masked := *cfg
	if masked.Security.AccessToken != "" {
		masked.Security.AccessToken = redacted
	}
	if masked.Client.Token != "" {
		masked.Client.Token = redacted
	}

	data, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return tree, nil
}
