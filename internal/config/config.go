// Package config loads the mediator's YAML configuration file and watches
// it for changes. Deliberately small, covering only this system's field
// set: listen address, CDP launch/debugger_url, self_target_id, logging,
// preload-script source directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/bidicdp/mediator/internal/logging"
)

// BrowserConfig describes how to obtain a debuggable browser instance.
type BrowserConfig struct {
	// DebuggerURL, when set, is used directly and no browser is launched.
	DebuggerURL string   `yaml:"debugger_url"`
	Launch      []string `yaml:"launch"`
	Headless    bool     `yaml:"headless"`
}

// LoggingConfig controls internal/logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
	StateDir   string          `yaml:"state_dir"`
}

// Config is the mediator's full configuration.
type Config struct {
	ListenAddr   string        `yaml:"listen_addr"`
	SelfTargetID string        `yaml:"self_target_id"`
	PreloadDir   string        `yaml:"preload_dir"`
	Browser      BrowserConfig `yaml:"browser"`
	Logging      LoggingConfig `yaml:"logging"`
}

// Default returns a Config with reasonable defaults for local development.
func Default() *Config {
	return &Config{
		ListenAddr: "127.0.0.1:9222",
		Browser:    BrowserConfig{Headless: true},
		Logging:    LoggingConfig{Level: "info", StateDir: ".bidimediator"},
	}
}

// Load reads and parses the YAML config file at path, falling back to
// Default() field values for anything unset.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the loaded config is internally consistent.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
		// Not an error: the launcher resolves a system browser with no args.
		return nil
	}
	return nil
}

// Watcher hot-reloads a config file, debouncing rapid successive writes
// via fsnotify (watcher + debounce timer + stop/done channels).
type Watcher struct {
	path        string
	watcher     *fsnotify.Watcher
	debounce    time.Duration
	onReload    func(*Config)

	mu          sync.Mutex
	lastEventAt time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher starts watching path for changes, invoking onReload with the
// freshly parsed Config after each debounced write.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		path:     path,
		watcher:  fw,
		debounce: 200 * time.Millisecond,
		onReload: onReload,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			w.debouncedReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.BootWarn("config watcher error: %v", err)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) debouncedReload() {
	w.mu.Lock()
	now := time.Now()
	if now.Sub(w.lastEventAt) < w.debounce {
		w.lastEventAt = now
		w.mu.Unlock()
		return
	}
	w.lastEventAt = now
	w.mu.Unlock()

	time.AfterFunc(w.debounce, func() {
		cfg, err := Load(w.path)
		if err != nil {
			logging.BootWarn("config reload failed: %v", err)
			return
		}
		logging.Boot("config reloaded from %s", w.path)
		w.onReload(cfg)
	})
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stopCh)
	err := w.watcher.Close()
	<-w.doneCh
	return err
}
