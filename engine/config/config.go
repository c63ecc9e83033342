// Package config loads and hot-reloads the bench's YAML configuration: a
// mutex-protected current config, YAML load/save, and an fsnotify watcher
// that pushes validated reloads down a channel.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/aefi-lab/scanctl/engine/models"
)

// Bench holds the static parameters of one imaging bench: motion limits, the
// default motion profile used when a scan config omits one, and telemetry
// toggles. It mirrors the fields of models.MotionProfile plus process-level
// concerns the aggregate/executors don't need to know about.
type Bench struct {
	AxisLimitXMM float64 `yaml:"axis_limit_x_mm"`
	AxisLimitYMM float64 `yaml:"axis_limit_y_mm"`

	DefaultProfile models.MotionProfile `yaml:"default_profile"`

	TracingEnabled bool   `yaml:"tracing_enabled"`
	MetricsAddr    string `yaml:"metrics_addr"`
	LogLevel       string `yaml:"log_level"`
}

// Validate checks the bounds a loaded Bench must satisfy before it can be
// used to construct ports and services.
func (b Bench) Validate() error {
	if b.AxisLimitXMM <= 0 || b.AxisLimitYMM <= 0 {
		return fmt.Errorf("%w: axis limits must be positive", models.ErrConfigInvalid)
	}
	if err := b.DefaultProfile.Validate(); err != nil {
		return fmt.Errorf("%w: default_profile: %v", models.ErrConfigInvalid, err)
	}
	switch b.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log_level %q", models.ErrConfigInvalid, b.LogLevel)
	}
	return nil
}

// Manager owns the current Bench configuration, loaded from a YAML file on
// disk, and optionally watches that file for changes.
type Manager struct {
	path string

	mu      sync.RWMutex
	current Bench
}

// NewManager constructs a Manager for the file at path. Call Load before
// Current returns a usable value.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Load reads and validates the config file, replacing the current value only
// if both succeed.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var cfg Bench
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()
	return nil
}

// Save validates and writes cfg to the manager's file, then adopts it as the
// current config.
func (m *Manager) Save(cfg Bench) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()
	return nil
}

// Current returns the last successfully loaded or saved Bench.
func (m *Manager) Current() Bench {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Watch starts an fsnotify watcher on the config file's directory and pushes
// a freshly loaded, validated Bench down the returned channel each time the
// file is rewritten. Invalid rewrites are reported on the error channel and
// do not update Current. The watcher stops and both channels close when ctx
// is cancelled.
func (m *Manager) Watch(ctx context.Context) (<-chan Bench, <-chan error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("create file watcher: %w", err)
	}
	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("watch dir %s: %w", dir, err)
	}

	changes := make(chan Bench, 4)
	errs := make(chan error, 4)

	go func() {
		defer watcher.Close()
		defer close(changes)
		defer close(errs)
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(m.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				debounce.Reset(50 * time.Millisecond)
			case <-debounce.C:
				if err := m.Load(); err != nil {
					select {
					case errs <- err:
					case <-ctx.Done():
						return
					}
					continue
				}
				select {
				case changes <- m.Current():
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				select {
				case errs <- err:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return changes, errs, nil
}
