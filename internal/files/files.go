// Package files implements the browse, read and write operations behind the
// /files, /read and /write endpoints.
package files

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/brianly1003/touchcore/internal/pathutil"
	"github.com/rs/zerolog/log"
)

// DefaultMaxFileSize caps reads when no limit is configured.
const DefaultMaxFileSize = 10 * 1024 * 1024

var (
	// ErrPathOutsideRoot is returned when a path resolves outside the root.
	ErrPathOutsideRoot = errors.New("path outside allowed root")

	// ErrFileTooLarge is returned when a file exceeds the read limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrNotDirectory is returned when listing a file.
	ErrNotDirectory = errors.New("path is not a directory")

	// ErrNotFile is returned when reading a directory.
	ErrNotFile = errors.New("path is not a file")
)

// Entry is one item of a directory listing.
type Entry struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Type     string    `json:"type"`
	Size     *int64    `json:"size,omitempty"`
	Modified time.Time `json:"modified"`
}

// Listing is the result of List.
type Listing struct {
	Path  string  `json:"path"`
	Items []Entry `json:"items"`
}

// Content is the result of Read. Non UTF-8 files are hex encoded.
type Content struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	Size     int64  `json:"size"`
}

// WriteResult is the result of Write.
type WriteResult struct {
	Status string `json:"status"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
}

// Config controls where the service may operate.
type Config struct {
	// Root confines every operation when set.
	Root string

	// MaxFileSize in bytes; <= 0 means DefaultMaxFileSize.
	MaxFileSize int64
}

// Service performs file operations on the host. Relative paths are taken
// from the root when one is configured.
type Service struct {
	root    string
	maxSize int64
}

// New creates a Service. The root, if any, is resolved once up front.
func New(cfg Config) (*Service, error) {
	s := &Service{maxSize: cfg.MaxFileSize}
	if s.maxSize <= 0 {
		s.maxSize = DefaultMaxFileSize
	}
	if cfg.Root != "" {
		root, err := pathutil.Resolve(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("resolve files root: %w", err)
		}
		s.root = root
	}
	return s, nil
}

// Root returns the resolved root, or "" when unconfined.
func (s *Service) Root() string {
	return s.root
}

// List returns the entries of a directory, directories first, each group
// sorted case-insensitively by name. An empty path lists the root (or the
// working directory when unconfined).
func (s *Service) List(path string) (*Listing, error) {
	dir, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	items := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		fi, err := de.Info()
		if err != nil {
			log.Debug().Err(err).Str("name", de.Name()).Msg("skipping unreadable entry")
			continue
		}
		e := Entry{
			Name:     de.Name(),
			Path:     filepath.Join(dir, de.Name()),
			Type:     "file",
			Modified: fi.ModTime(),
		}
		if de.IsDir() {
			e.Type = "dir"
		} else {
			size := fi.Size()
			e.Size = &size
		}
		items = append(items, e)
	}

	sort.Slice(items, func(i, j int) bool {
		if (items[i].Type == "dir") != (items[j].Type == "dir") {
			return items[i].Type == "dir"
		}
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})

	log.Debug().Str("path", dir).Int("items", len(items)).Msg("listed directory")
	return &Listing{Path: dir, Items: items}, nil
}

// Read returns the file's contents.
func (s *Service) Read(path string) (*Content, error) {
	file, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(file)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", file, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFile, file)
	}
	if info.Size() > s.maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, info.Size(), s.maxSize)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}

	c := &Content{Path: file, Size: int64(len(data)), Encoding: "utf-8"}
	if utf8.Valid(data) {
		c.Content = string(data)
	} else {
		c.Content = hex.EncodeToString(data)
		c.Encoding = "binary"
	}
	return c, nil
}

// Write replaces the file's contents atomically, creating parent
// directories as needed.
func (s *Service) Write(path, content string) (*WriteResult, error) {
	file, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(file); err == nil && info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFile, file)
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directory: %w", err)
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(file); err == nil {
		mode = info.Mode().Perm()
	}

	tempPath := file + ".tmp"
	if err := os.WriteFile(tempPath, []byte(content), mode); err != nil {
		_ = os.Remove(tempPath)
		return nil, fmt.Errorf("write %s: %w", file, err)
	}
	if err := os.Rename(tempPath, file); err != nil {
		_ = os.Remove(tempPath)
		return nil, fmt.Errorf("replace %s: %w", file, err)
	}

	log.Info().Str("path", file).Int("size", len(content)).Msg("file written")
	return &WriteResult{Status: "success", Path: file, Size: int64(len(content))}, nil
}

func (s *Service) resolve(path string) (string, error) {
	if path == "" {
		path = "."
		if s.root != "" {
			path = s.root
		}
	}
	if s.root != "" && !filepath.IsAbs(path) && !strings.HasPrefix(path, "~") {
		path = filepath.Join(s.root, path)
	}
	resolved, err := pathutil.Resolve(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	if s.root != "" && !pathutil.Within(s.root, resolved) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, path)
	}
	return resolved, nil
}
