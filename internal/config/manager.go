package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler is called with the freshly loaded configuration after the
// file changes on disk.
type ChangeHandler func(cfg Config)

// Manager watches one configuration file and hot-reloads it. A reload
// that fails to parse or validate keeps the previous configuration.
type Manager struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	stopCh  chan struct{}

	mu       sync.RWMutex
	current  Config
	handlers []ChangeHandler
	started  bool
}

// NewManager loads the file once and prepares the watcher. The initial
// load must succeed.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Manager{
		path:    path,
		watcher: watcher,
		logger:  logger,
		stopCh:  make(chan struct{}),
		current: cfg,
	}, nil
}

// Current returns the last successfully loaded configuration.
func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers a handler invoked after each successful reload.
func (m *Manager) OnChange(h ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Start begins watching the config file's directory. Editors replace
// files on save, so the directory is watched rather than the file itself.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started || m.path == "" {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	if err := m.watcher.Add(filepath.Dir(m.path)); err != nil {
		return fmt.Errorf("watch config directory: %w", err)
	}
	go m.watchLoop()
	m.logger.Info("Configuration watcher started", zap.String("path", m.path))
	return nil
}

// Stop shuts the watcher down.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	m.started = false
	close(m.stopCh)
	return m.watcher.Close()
}

func (m *Manager) watchLoop() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Config watch loop panicked", zap.Any("panic", r))
		}
	}()

	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Editors emit bursts of writes on save.
			time.Sleep(50 * time.Millisecond)
			m.reload()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("Config watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) reload() {
	cfg, err := Load(m.path)
	if err != nil {
		m.logger.Error("Config reload failed, keeping previous configuration", zap.Error(err))
		return
	}

	m.mu.Lock()
	m.current = cfg
	handlers := make([]ChangeHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	m.logger.Info("Configuration reloaded", zap.String("path", m.path))
	for _, h := range handlers {
		h(cfg)
	}
}
