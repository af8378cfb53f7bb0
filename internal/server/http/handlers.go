package http

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/brianly1003/touchcore/internal/audit"
	"github.com/brianly1003/touchcore/internal/files"
	"github.com/brianly1003/touchcore/internal/input"
	"github.com/rs/zerolog/log"
)

const (
	// maxBodyBytes bounds JSON request bodies, file contents included.
	maxBodyBytes = 64 << 20

	// maxLogEntries caps GET /log?limit=.
	maxLogEntries = 1000
)

// IndexResponse is the GET / payload.
type IndexResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UI      string `json:"ui"`
}

type readRequest struct {
	Path string `json:"path"`
}

type writeRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// handleIndex handles GET /
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ui := ""
	if s.pairing != nil {
		ui = s.pairing.URL()
	}
	writeJSON(w, http.StatusOK, IndexResponse{
		Status:  "TouchCore Online",
		Version: s.version,
		UI:      ui,
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if s.terminal != nil {
		resp["terminal_sessions"] = s.terminal.SessionCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListFiles handles GET /files?path=
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	if s.files == nil {
		writeJSONError(w, "File access not available", http.StatusServiceUnavailable)
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		path = "."
	}

	listing, err := s.files.List(path)
	if err != nil {
		writeFileError(w, err, "Failed to list files")
		return
	}
	log.Info().Str("path", listing.Path).Int("count", len(listing.Items)).Msg("files listed")
	writeJSON(w, http.StatusOK, listing)
}

// handleReadFile handles POST /read
func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	if s.files == nil {
		writeJSONError(w, "File access not available", http.StatusServiceUnavailable)
		return
	}

	var req readRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeJSONError(w, "path is required", http.StatusBadRequest)
		return
	}

	content, err := s.files.Read(req.Path)
	if err != nil {
		writeFileError(w, err, "Failed to read file")
		return
	}
	writeJSON(w, http.StatusOK, content)
}

// handleWriteFile handles POST /write
func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	if s.files == nil {
		writeJSONError(w, "File access not available", http.StatusServiceUnavailable)
		return
	}

	var req writeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeJSONError(w, "path is required", http.StatusBadRequest)
		return
	}

	result, err := s.files.Write(req.Path, req.Content)
	if err != nil {
		writeFileError(w, err, "Failed to write file")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleMouse handles POST /mouse
func (s *Server) handleMouse(w http.ResponseWriter, r *http.Request) {
	if s.mouse == nil {
		writeJSONError(w, "Mouse input not available", http.StatusServiceUnavailable)
		return
	}

	var action input.Action
	if !decodeBody(w, r, &action) {
		return
	}

	result, err := s.mouse.Apply(r.Context(), action)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, input.ErrRateLimited):
		w.Header().Set("Retry-After", "1")
		writeJSONError(w, "Rate limit exceeded", http.StatusTooManyRequests)
	case errors.Is(err, input.ErrInvalidButton):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	default:
		log.Error().Err(err).Msg("mouse action failed")
		writeJSONError(w, "Mouse input failed", http.StatusInternalServerError)
	}
}

// handleMouseStats handles GET /mouse/stats
func (s *Server) handleMouseStats(w http.ResponseWriter, r *http.Request) {
	if s.mouse == nil {
		writeJSONError(w, "Mouse input not available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.mouse.Stats(r.Context()))
}

// handleTerminal handles the /terminal websocket upgrade.
func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	if s.terminal == nil {
		writeJSONError(w, "Terminal not available", http.StatusServiceUnavailable)
		return
	}
	log.Info().
		Str("client_ip", s.resolver.ClientIP(r)).
		Str("origin", r.Header.Get("Origin")).
		Msg("terminal upgrade request received")
	s.terminal.HandleTerminal(w, r)
}

// handleTerminalSessions handles GET /terminal/sessions
func (s *Server) handleTerminalSessions(w http.ResponseWriter, r *http.Request) {
	if s.terminal == nil {
		writeJSONError(w, "Terminal not available", http.StatusServiceUnavailable)
		return
	}
	sessions := s.terminal.Sessions()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleQR handles GET /qr
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	if s.pairing == nil {
		writeJSONError(w, "Pairing not available", http.StatusServiceUnavailable)
		return
	}
	qr, err := s.pairing.Generate(s.pairing.URL())
	if err != nil {
		log.Error().Err(err).Msg("failed to generate qr code")
		writeJSONError(w, "Failed to generate QR code", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, qr)
}

// handleLog handles GET /log?limit=
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"log": []audit.Event{}})
		return
	}

	limit := parseIntParam(r, "limit", audit.DefaultRecent)
	if limit <= 0 {
		limit = audit.DefaultRecent
	}
	if limit > maxLogEntries {
		limit = maxLogEntries
	}

	events, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to query audit log")
		writeJSONError(w, "Failed to load log", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"log": events})
}

// handleRuntimeConfig handles GET /config/runtime
func (s *Server) handleRuntimeConfig(w http.ResponseWriter, r *http.Request) {
	if s.discovery == nil {
		writeJSONError(w, "Failed to load configuration", http.StatusInternalServerError)
		return
	}
	raw, err := s.discovery.RuntimeConfig(s.resolver.Host(r))
	if err != nil {
		log.Error().Err(err).Msg("failed to load runtime configuration")
		writeJSONError(w, "Failed to load configuration", http.StatusInternalServerError)
		return
	}
	writeRawJSON(w, http.StatusOK, raw)
}

// handleTunnelStatus handles GET /tunnel/status
func (s *Server) handleTunnelStatus(w http.ResponseWriter, r *http.Request) {
	if s.discovery == nil {
		writeJSONError(w, "Failed to load tunnel status", http.StatusInternalServerError)
		return
	}
	raw, err := s.discovery.TunnelStatus()
	if err != nil {
		log.Error().Err(err).Msg("failed to load tunnel status")
		writeJSONError(w, "Failed to load tunnel status", http.StatusInternalServerError)
		return
	}
	writeRawJSON(w, http.StatusOK, raw)
}

// decodeBody decodes a JSON body into v, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		writeJSONError(w, "Invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeFileError maps file service errors to status codes.
func writeFileError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, files.ErrPathOutsideRoot):
		writeJSONError(w, "Path outside allowed root", http.StatusForbidden)
	case errors.Is(err, files.ErrFileTooLarge):
		writeJSONError(w, "File too large", http.StatusRequestEntityTooLarge)
	case errors.Is(err, files.ErrNotDirectory):
		writeJSONError(w, "Not a directory", http.StatusBadRequest)
	case errors.Is(err, files.ErrNotFile):
		writeJSONError(w, "Not a file", http.StatusBadRequest)
	case errors.Is(err, fs.ErrNotExist):
		writeJSONError(w, "Path not found", http.StatusNotFound)
	default:
		log.Error().Err(err).Msg(fallback)
		writeJSONError(w, fallback, http.StatusInternalServerError)
	}
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
