// Package app orchestrates all components of touchcore.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/brianly1003/touchcore/internal/audit"
	"github.com/brianly1003/touchcore/internal/config"
	"github.com/brianly1003/touchcore/internal/discovery"
	"github.com/brianly1003/touchcore/internal/files"
	"github.com/brianly1003/touchcore/internal/input"
	"github.com/brianly1003/touchcore/internal/pairing"
	"github.com/brianly1003/touchcore/internal/security"
	httpserver "github.com/brianly1003/touchcore/internal/server/http"
	terminalws "github.com/brianly1003/touchcore/internal/server/websocket"
	"github.com/brianly1003/touchcore/internal/terminal"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// App is the main application struct that orchestrates all components.
type App struct {
	cfg     *config.Config
	version string
	out     io.Writer

	// Core components
	audit          audit.Log
	files          *files.Service
	mouse          *input.Controller
	terminalServer *terminalws.Server
	discovery      *discovery.Store
	qrGenerator    *pairing.QRGenerator
	httpServer     *httpserver.Server

	// Session info
	sessionID string
	startTime time.Time
	ready     chan struct{}
	readyOnce sync.Once

	// Lifecycle
	mu      sync.RWMutex
	running bool
}

// New creates a new App instance and wires its components.
func New(cfg *config.Config, version string) (*App, error) {
	a := &App{
		cfg:       cfg,
		version:   version,
		out:       os.Stdout,
		sessionID: uuid.New().String(),
		ready:     make(chan struct{}),
	}

	if err := a.openAudit(); err != nil {
		return nil, err
	}

	svc, err := files.New(files.Config{
		Root:        cfg.Files.Root,
		MaxFileSize: int64(cfg.Files.MaxFileSizeKB) * 1024,
	})
	if err != nil {
		_ = a.audit.Close()
		return nil, fmt.Errorf("failed to initialize file service: %w", err)
	}
	a.files = svc

	resolver, err := security.NewClientResolver(cfg.Security.TrustedProxies)
	if err != nil {
		_ = a.audit.Close()
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	originChecker := security.NewOriginChecker(cfg.Security.AllowedOrigins, cfg.Security.BindLocalhostOnly)

	if cfg.Input.Enabled {
		injector := input.NewXdotool(
			input.WithDisplay(cfg.Input.Display),
			input.WithCommandTimeout(time.Duration(cfg.Input.CommandTimeoutMS)*time.Millisecond),
			input.WithScreenCacheTTL(time.Duration(cfg.Input.ScreenCacheSecs)*time.Second),
		)
		if !injector.Available() {
			log.Warn().Msg("xdotool not found on PATH, mouse input will fail")
		}
		a.mouse = input.NewController(injector, input.ControllerConfig{
			MaxPerSecond: cfg.Input.MaxPerSecond,
			MaxPerMinute: cfg.Input.MaxPerMinute,
		}, a.audit)
	}

	if cfg.Terminal.Enabled {
		a.terminalServer = terminalws.NewServer(terminalws.Config{
			Shell: terminal.ShellConfig{
				Command: cfg.Terminal.Shell,
				Args:    cfg.Terminal.Args,
				Dir:     cfg.Terminal.WorkDir,
				Cols:    uint16(cfg.Terminal.Cols),
				Rows:    uint16(cfg.Terminal.Rows),
			},
			BinaryFrames: cfg.Terminal.BinaryFrames,
		}, originChecker)
		a.terminalServer.SetAudit(a.audit)
	}

	a.discovery = discovery.NewStore(discovery.Config{
		Home:         cfg.Discovery.Home,
		FrontendPort: cfg.Discovery.FrontendPort,
		EditorPort:   cfg.Discovery.EditorPort,
	})

	a.qrGenerator = pairing.NewQRGenerator(pairing.Config{
		ExternalURL: cfg.Server.ExternalURL,
		Scheme:      cfg.Pairing.Scheme,
		UIPort:      cfg.Pairing.UIPort,
		Size:        cfg.Pairing.QRSize,
	})

	host := cfg.Server.Host
	if cfg.Security.BindLocalhostOnly {
		host = "127.0.0.1"
	}
	a.httpServer = httpserver.New(host, cfg.Server.Port, version)
	a.httpServer.SetFiles(a.files)
	a.httpServer.SetDiscovery(a.discovery)
	a.httpServer.SetPairing(a.qrGenerator)
	a.httpServer.SetAudit(a.audit)
	a.httpServer.SetOriginChecker(originChecker)
	a.httpServer.SetTokenGate(security.NewTokenGate(cfg.Security.AccessToken))
	a.httpServer.SetClientResolver(resolver)
	if a.mouse != nil {
		a.httpServer.SetMouse(a.mouse)
	}
	if a.terminalServer != nil {
		a.httpServer.SetTerminal(a.terminalServer)
	}

	return a, nil
}

// openAudit opens the persistent audit store, or an in-memory one when
// auditing is disabled.
func (a *App) openAudit() error {
	if !a.cfg.Audit.Enabled {
		a.audit = audit.NewMemory(audit.DefaultRecent)
		return nil
	}
	store, err := audit.Open(a.cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	a.audit = store
	return nil
}

// SetOutput redirects the connection banner.
func (a *App) SetOutput(w io.Writer) {
	a.out = w
}

// Start starts the application and blocks until context is cancelled.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("application is already running")
	}
	a.running = true
	a.startTime = time.Now()
	a.mu.Unlock()

	log.Info().
		Str("session_id", a.sessionID).
		Str("version", a.version).
		Msg("starting touchcore")

	if a.cfg.Discovery.Watch {
		if err := a.discovery.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to watch discovery descriptors, caching disabled")
		}
	}

	if err := a.httpServer.Start(); err != nil {
		_ = a.shutdown()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := a.audit.Record(ctx, "server", "server started", map[string]any{
		"session_id": a.sessionID,
		"addr":       a.httpServer.Addr(),
	}); err != nil {
		log.Debug().Err(err).Msg("failed to record server start")
	}

	a.printConnectionInfo()
	a.readyOnce.Do(func() { close(a.ready) })

	// Wait for context cancellation
	<-ctx.Done()

	// Graceful shutdown
	return a.shutdown()
}

// Ready is closed once the HTTP server is listening.
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// HTTPAddr returns the address the API listens on.
func (a *App) HTTPAddr() string {
	return a.httpServer.Addr()
}

// shutdown performs graceful shutdown of all components.
func (a *App) shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}
	a.running = false

	log.Info().Msg("shutting down...")

	timeout := time.Duration(a.cfg.Server.ShutdownTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	// Stop terminal sessions first; HTTP shutdown does not wait for hijacked connections
	if a.terminalServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := a.terminalServer.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("error stopping terminal sessions")
		}
		cancel()
	}

	// Stop HTTP server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error stopping HTTP server")
	}
	cancel()

	if err := a.discovery.Stop(); err != nil {
		log.Error().Err(err).Msg("error stopping discovery watcher")
	}

	uptime := int64(time.Since(a.startTime).Seconds())
	if err := a.audit.Record(context.Background(), "server", "server stopped", map[string]any{
		"session_id":     a.sessionID,
		"uptime_seconds": uptime,
	}); err != nil {
		log.Debug().Err(err).Msg("failed to record server stop")
	}
	if err := a.audit.Close(); err != nil {
		log.Error().Err(err).Msg("error closing audit log")
	}

	return nil
}

// printConnectionInfo prints connection information to the console.
func (a *App) printConnectionInfo() {
	apiURL := "http://" + a.httpServer.Addr()
	terminalURL := "ws://" + a.httpServer.Addr() + "/terminal"
	uiURL := a.qrGenerator.URL()

	auth := "disabled"
	if a.cfg.Security.AccessToken != "" {
		auth = "shared token"
	}

	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "╔════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(a.out, "║                     touchcore ready                        ║")
	fmt.Fprintln(a.out, "╠════════════════════════════════════════════════════════════╣")
	fmt.Fprintf(a.out, "║  Session ID: %-46s ║\n", a.sessionID[:8]+"...")
	fmt.Fprintf(a.out, "║  API:        %-46s ║\n", truncateString(apiURL, 46))
	fmt.Fprintf(a.out, "║  Terminal:   %-46s ║\n", truncateString(terminalURL, 46))
	fmt.Fprintf(a.out, "║  UI:         %-46s ║\n", truncateString(uiURL, 46))
	fmt.Fprintf(a.out, "║  Auth:       %-46s ║\n", auth)
	fmt.Fprintln(a.out, "╚════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(a.out)

	if a.cfg.Pairing.ShowQRInTerminal {
		a.qrGenerator.PrintToTerminal(a.out)
	}
}

// GetSessionID returns the current session ID.
func (a *App) GetSessionID() string {
	return a.sessionID
}

// GetConfig returns the configuration.
func (a *App) GetConfig() *config.Config {
	return a.cfg
}

// UptimeSeconds returns how long the app has been running.
func (a *App) UptimeSeconds() int64 {
	return int64(time.Since(a.startTime).Seconds())
}

// truncateString truncates a string to maxLen characters.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
