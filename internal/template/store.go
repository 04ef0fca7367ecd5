// Package template loads the engine session template and the system
// instructions from disk and caches them until the files change.
package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/agentplexus/voicerelay/relay"
)

var _ relay.SessionSource = (*Store)(nil)

// ErrNotFound is returned when the template or instructions file is missing.
var ErrNotFound = errors.New("file not found")

// Store serves the session template and instructions. Both are read on
// first use and kept until Invalidate is called or Watch sees the file
// change.
type Store struct {
	templatePath     string
	instructionsPath string
	logger           *slog.Logger

	mu           sync.RWMutex
	template     map[string]any
	instructions *string

	watcher *fsnotify.Watcher
}

// New creates a Store for the two files.
func New(templatePath, instructionsPath string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		templatePath:     filepath.Clean(templatePath),
		instructionsPath: filepath.Clean(instructionsPath),
		logger:           logger,
	}
}

// SessionTemplate returns the session template. Callers must not modify
// the returned map.
func (s *Store) SessionTemplate(ctx context.Context) (map[string]any, error) {
	s.mu.RLock()
	cached := s.template
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tmpl, err := loadTemplate(s.templatePath)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.template = tmpl
	s.mu.Unlock()
	s.logger.Debug("session template loaded", "path", s.templatePath, "keys", len(tmpl))
	return tmpl, nil
}

// Instructions returns the system instructions.
func (s *Store) Instructions(ctx context.Context) (string, error) {
	s.mu.RLock()
	cached := s.instructions
	s.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := readFile(s.instructionsPath)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(data))

	s.mu.Lock()
	s.instructions = &text
	s.mu.Unlock()
	s.logger.Debug("instructions loaded", "path", s.instructionsPath, "bytes", len(text))
	return text, nil
}

// Invalidate drops both cached files.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.template = nil
	s.instructions = nil
	s.mu.Unlock()
}

func (s *Store) invalidatePath(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch filepath.Clean(path) {
	case s.templatePath:
		s.template = nil
	case s.instructionsPath:
		s.instructions = nil
	default:
		return false
	}
	return true
}

// Watch invalidates the cache whenever either file is written, replaced or
// removed. It returns once the watcher is running; watching stops when ctx
// ends.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	dirs := map[string]bool{
		filepath.Dir(s.templatePath):     true,
		filepath.Dir(s.instructionsPath): true,
	}
	for dir := range dirs {
		// Watch directories so editors that replace files are seen.
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	go s.watchLoop(ctx, watcher)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer func() { _ = watcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if s.invalidatePath(event.Name) {
				s.logger.Info("config file changed, reloading on next call", "path", event.Name, "op", event.Op.String())
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("config watch error", "error", err)
		}
	}
}

// Close stops the watcher, if any.
func (s *Store) Close() error {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	return w.Close()
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// loadTemplate decodes a JSON or YAML object. The extension picks the
// format; other extensions try JSON first.
func loadTemplate(path string) (map[string]any, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	var tmpl map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &tmpl)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &tmpl)
	default:
		if err = json.Unmarshal(data, &tmpl); err != nil {
			err = yaml.Unmarshal(data, &tmpl)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("parse session template %s: %w", path, err)
	}
	if tmpl == nil {
		return nil, fmt.Errorf("parse session template %s: not an object", path)
	}
	return tmpl, nil
}
