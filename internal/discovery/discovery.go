// Package discovery serves the runtime and tunnel descriptors a client uses
// to locate the other services running next to touchcore.
//
// Both descriptors are plain JSON files under the discovery home:
//
//	<home>/config/runtime.json
//	<home>/tunnel-config.json
//
// When a file is absent a default descriptor is synthesized. File contents
// are cached and invalidated by an fsnotify watch on the two directories.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Default ports advertised when no runtime descriptor exists.
const (
	DefaultFrontendPort = 3000
	DefaultEditorPort   = 8080
)

const (
	runtimeFile = "runtime.json"
	tunnelFile  = "tunnel-config.json"
)

// ErrMalformed is returned when a descriptor file is not valid JSON.
var ErrMalformed = errors.New("malformed descriptor")

// Config locates the descriptors.
type Config struct {
	// Home defaults to $HOME/.statik-server.
	Home string

	FrontendPort int
	EditorPort   int
}

// DefaultHome returns $HOME/.statik-server, or /tmp/.statik-server when no
// home directory is known.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.TempDir()
	}
	return filepath.Join(home, ".statik-server")
}

// Store reads and caches the descriptors.
type Store struct {
	home         string
	frontendPort int
	editorPort   int

	readFile func(string) ([]byte, error)

	mu      sync.Mutex
	cache   map[string][]byte
	watched map[string]bool
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc

	// Bumped by every invalidation so a read that raced one is not cached.
	gen   map[string]uint64
	epoch uint64
}

// NewStore creates a store. Call Start to enable caching.
func NewStore(cfg Config) *Store {
	if cfg.Home == "" {
		cfg.Home = DefaultHome()
	}
	if cfg.FrontendPort <= 0 {
		cfg.FrontendPort = DefaultFrontendPort
	}
	if cfg.EditorPort <= 0 {
		cfg.EditorPort = DefaultEditorPort
	}
	return &Store{
		home:         cfg.Home,
		frontendPort: cfg.FrontendPort,
		editorPort:   cfg.EditorPort,
		readFile:     os.ReadFile,
		cache:        make(map[string][]byte),
		watched:      make(map[string]bool),
		gen:          make(map[string]uint64),
	}
}

// Home returns the discovery home directory.
func (s *Store) Home() string {
	return s.home
}

// RuntimePath returns the runtime descriptor location.
func (s *Store) RuntimePath() string {
	return filepath.Join(s.home, "config", runtimeFile)
}

// TunnelPath returns the tunnel descriptor location.
func (s *Store) TunnelPath() string {
	return filepath.Join(s.home, tunnelFile)
}

// RuntimeConfig returns the runtime descriptor verbatim, or the default
// descriptor with service URLs on host.
func (s *Store) RuntimeConfig(host string) (json.RawMessage, error) {
	data, ok, err := s.load(s.RuntimePath())
	if err != nil {
		return nil, err
	}
	if ok {
		return data, nil
	}
	return json.Marshal(s.defaultRuntime(host))
}

// TunnelStatus returns the tunnel descriptor verbatim, or the inactive
// default.
func (s *Store) TunnelStatus() (json.RawMessage, error) {
	data, ok, err := s.load(s.TunnelPath())
	if err != nil {
		return nil, err
	}
	if ok {
		return data, nil
	}
	return json.Marshal(DefaultTunnelStatus())
}

// load returns a file's contents, whether it exists, and any read or
// syntax error. Contents are cached only while the directory is watched.
func (s *Store) load(path string) ([]byte, bool, error) {
	s.mu.Lock()
	if data, ok := s.cache[path]; ok {
		s.mu.Unlock()
		return data, true, nil
	}
	gen, epoch := s.gen[path], s.epoch
	s.mu.Unlock()

	data, err := s.readFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	if !json.Valid(data) {
		return nil, false, fmt.Errorf("%w: %s", ErrMalformed, path)
	}

	s.mu.Lock()
	if s.watched[filepath.Dir(path)] && s.gen[path] == gen && s.epoch == epoch {
		s.cache[path] = data
	}
	s.mu.Unlock()
	return data, true, nil
}

// Start watches the descriptor directories that exist. Directories created
// later are not picked up; their files are simply read on every request.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	for _, dir := range []string{s.home, filepath.Join(s.home, "config")} {
		if err := watcher.Add(dir); err != nil {
			log.Debug().Err(err).Str("dir", dir).Msg("discovery directory not watched")
			continue
		}
		s.watched[dir] = true
	}

	watchCtx, cancel := context.WithCancel(ctx)
	s.watcher = watcher
	s.cancel = cancel
	go s.eventLoop(watchCtx, watcher)

	log.Info().Str("home", s.home).Int("watched", len(s.watched)).Msg("discovery watcher started")
	return nil
}

// Stop ends the watch and drops the cache.
func (s *Store) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	s.cancel()
	err := s.watcher.Close()
	s.watcher = nil
	s.watched = make(map[string]bool)
	s.cache = make(map[string][]byte)
	return err
}

func (s *Store) eventLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			s.invalidate(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("discovery watcher error")
			s.invalidateAll()
		}
	}
}

func (s *Store) invalidate(path string) {
	path = filepath.Clean(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen[path]++
	if _, ok := s.cache[path]; ok {
		delete(s.cache, path)
		log.Debug().Str("path", path).Msg("discovery cache invalidated")
	}
	// A replaced config directory invalidates the runtime descriptor too.
	if path == filepath.Join(s.home, "config") {
		s.gen[s.RuntimePath()]++
		delete(s.cache, s.RuntimePath())
	}
}

func (s *Store) invalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.cache = make(map[string][]byte)
}

// RuntimeDescriptor is the default /config/runtime payload.
type RuntimeDescriptor struct {
	Mode       string     `json:"mode"`
	Tunneling  Tunneling  `json:"tunneling"`
	Services   Services   `json:"services"`
	Navigation Navigation `json:"navigation"`
}

// Tunneling describes tunnel provisioning.
type Tunneling struct {
	Enabled  bool   `json:"enabled"`
	Provider string `json:"provider"`
}

// Services lists the advertised services.
type Services struct {
	Frontend Service `json:"frontend"`
	VSCode   Service `json:"vscode"`
}

// Service is one advertised service endpoint.
type Service struct {
	URL          string `json:"url"`
	Port         int    `json:"port"`
	TunnelActive bool   `json:"tunnel_active"`
	IframeSrc    string `json:"iframe_src,omitempty"`
}

// Navigation holds client navigation defaults.
type Navigation struct {
	DefaultPage       string `json:"default_page"`
	VSCodeIntegration string `json:"vscode_integration"`
}

// TunnelDescriptor is the default /tunnel/status payload.
type TunnelDescriptor struct {
	TailscaleIP *string     `json:"tailscale_ip"`
	Frontend    TunnelState `json:"frontend"`
	VSCode      TunnelState `json:"vscode"`
}

// TunnelState reports whether a service is tunneled.
type TunnelState struct {
	TunnelActive bool `json:"tunnel_active"`
}

// DefaultTunnelStatus returns the descriptor for "no tunnel".
func DefaultTunnelStatus() TunnelDescriptor {
	return TunnelDescriptor{}
}

func (s *Store) defaultRuntime(host string) RuntimeDescriptor {
	hostname := hostOnly(host)
	return RuntimeDescriptor{
		Mode:      "development",
		Tunneling: Tunneling{Enabled: false, Provider: "none"},
		Services: Services{
			Frontend: Service{
				URL:  serviceURL(hostname, s.frontendPort),
				Port: s.frontendPort,
			},
			VSCode: Service{
				URL:       serviceURL(hostname, s.editorPort),
				Port:      s.editorPort,
				IframeSrc: "/",
			},
		},
		Navigation: Navigation{
			DefaultPage:       "frontend",
			VSCodeIntegration: "embedded_iframe",
		},
	}
}

// hostOnly strips any port from a Host header value.
func hostOnly(host string) string {
	if host == "" {
		return "localhost"
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.Trim(host, "[]")
}

func serviceURL(host string, port int) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}
