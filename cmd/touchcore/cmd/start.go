package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/brianly1003/touchcore/internal/app"
	"github.com/brianly1003/touchcore/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	port        int
	host        string
	externalURL string
	showQR      bool
)

// startCmd represents the start command.
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the touchcore server",
	Long: `Start the touchcore server on this host.

The server accepts pointer commands on /mouse, serves a shell over the
/terminal websocket, and exposes file browsing and runtime discovery for the
companion UI.

Example:
  touchcore start                      # Listen on 0.0.0.0:8000
  touchcore start --port 9000
  touchcore start --show-qr            # Print a pairing QR code
  touchcore start --external-url https://desk.tailnet.ts.net:5000`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().IntVar(&port, "port", 0, "server port (default: 8000)")
	startCmd.Flags().StringVar(&host, "host", "", "bind address (default: 0.0.0.0)")
	startCmd.Flags().StringVar(&externalURL, "external-url", "", "UI URL advertised in the pairing QR code")
	startCmd.Flags().BoolVar(&showQR, "show-qr", false, "print the pairing QR code on startup")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if port != 0 {
		cfg.Server.Port = port
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if externalURL != "" {
		cfg.Server.ExternalURL = externalURL
	}
	if showQR {
		cfg.Pairing.ShowQRInTerminal = true
	}

	// Re-validate after overrides
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogging(cfg)

	log.Info().
		Str("version", version).
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Bool("terminal", cfg.Terminal.Enabled).
		Bool("input", cfg.Input.Enabled).
		Msg("starting touchcore")

	application, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	log.Info().Msg("touchcore stopped")
	return nil
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Logging.Format == "console" || verbose {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
