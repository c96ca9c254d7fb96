// Package config provides configuration loading and hot reload.
package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// watchDebounce collapses the burst of events an editor save produces into
// one reload.
const watchDebounce = 100 * time.Millisecond

// Holder owns the active configuration. Reloads go through the registered
// checks first; a config that fails any of them never becomes active.
type Holder struct {
	path   string
	logger zerolog.Logger

	mu       sync.RWMutex
	current  *Config
	checks   []func(*Config) error
	onChange []func(*Config)
	onReload []func(error)

	reloadMu sync.Mutex // one reload at a time, so listeners see configs in order
	watcher  *fsnotify.Watcher
	stop     chan struct{}
	stopOnce sync.Once
}

// NewHolder loads the config at path.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	cfg, err := Load(abs)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return &Holder{
		path:    abs,
		logger:  logger.With().Str("component", "config").Logger(),
		current: cfg,
		stop:    make(chan struct{}),
	}, nil
}

// Get returns the active configuration.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Path returns the absolute path of the config file.
func (h *Holder) Path() string {
	return h.path
}

// AddCheck registers a validation that every reloaded config must pass
// before it replaces the active one.
func (h *Holder) AddCheck(fn func(*Config) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, fn)
}

// OnChange registers a callback run with each newly activated config.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// OnReload registers a callback run after every reload attempt with its
// result.
func (h *Holder) OnReload(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onReload = append(h.onReload, fn)
}

// Reload re-reads the config file. On any error the active config is kept.
func (h *Holder) Reload() error {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	err := h.swap()

	h.mu.RLock()
	observers := slices.Clone(h.onReload)
	h.mu.RUnlock()
	for _, fn := range observers {
		fn(err)
	}
	return err
}

func (h *Holder) swap() error {
	next, err := Load(h.path)
	if err == nil {
		err = h.runChecks(next)
	}
	if err != nil {
		h.logger.Error().Err(err).Str("path", h.path).Msg("config reload rejected, keeping active config")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	prev := h.current
	h.current = next
	listeners := slices.Clone(h.onChange)
	h.mu.Unlock()

	h.logDiff(prev, next)
	for _, fn := range listeners {
		fn(next)
	}
	return nil
}

func (h *Holder) runChecks(cfg *Config) error {
	h.mu.RLock()
	checks := slices.Clone(h.checks)
	h.mu.RUnlock()

	for _, fn := range checks {
		if err := fn(cfg); err != nil {
			return err
		}
	}
	return nil
}

// WatchFile reloads whenever the config file is written. The directory is
// watched so editors that save by rename are seen too.
func (h *Holder) WatchFile() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(h.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(h.path), err)
	}
	h.watcher = w

	go h.watch(w)
	h.logger.Info().Str("path", h.path).Msg("watching config file")
	return nil
}

func (h *Holder) watch(w *fsnotify.Watcher) {
	name := filepath.Base(h.path)

	// Armed on the first event of a burst; fires once the file goes quiet.
	var pending <-chan time.Time
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			h.logger.Debug().Str("op", ev.Op.String()).Msg("config file event")
			pending = time.After(watchDebounce)

		case <-pending:
			pending = nil
			if err := h.Reload(); err != nil {
				h.logger.Warn().Err(err).Msg("reload after file change failed")
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("config watcher error")

		case <-h.stop:
			return
		}
	}
}

// WatchSignals reloads on SIGHUP until Stop.
func (h *Holder) WatchSignals() {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-hup:
				h.logger.Info().Msg("SIGHUP received")
				if err := h.Reload(); err != nil {
					h.logger.Warn().Err(err).Msg("reload on SIGHUP failed")
				}
			case <-h.stop:
				return
			}
		}
	}()
}

// Stop ends file and signal watching. Safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) logDiff(prev, next *Config) {
	added, removed := streamDiff(prev, next)
	h.logger.Info().
		Int("streams", len(next.Streams)).
		Int("types", len(next.Types)).
		Int("serializers", len(next.Serializers)).
		Strs("streams_added", added).
		Strs("streams_removed", removed).
		Msg("configuration reloaded")

	if prev.Logging.Level != next.Logging.Level {
		h.logger.Info().Str("old", prev.Logging.Level).Str("new", next.Logging.Level).Msg("log level changed")
	}
	for _, s := range next.Streams {
		if old, ok := prev.Stream(s.Name); ok && old.Store != s.Store {
			h.logger.Warn().
				Str("stream", s.Name).
				Str("old", old.Store).
				Str("new", s.Store).
				Msg("stream store changed; records are not migrated")
		}
	}
	if ignored := RestartRequired(prev, next); len(ignored) > 0 {
		h.logger.Warn().Strs("settings", ignored).Msg("changed settings take effect after restart")
	}
}

func streamDiff(prev, next *Config) (added, removed []string) {
	for _, s := range next.Streams {
		if _, ok := prev.Stream(s.Name); !ok {
			added = append(added, s.Name)
		}
	}
	for _, s := range prev.Streams {
		if _, ok := next.Stream(s.Name); !ok {
			removed = append(removed, s.Name)
		}
	}
	return added, removed
}

// RestartRequired lists the settings that differ between prev and next
// but are only read at startup. Types, streams, identity, serializers,
// records and the log level apply on reload.
func RestartRequired(prev, next *Config) []string {
	var out []string
	diff := func(name string, changed bool) {
		if changed {
			out = append(out, name)
		}
	}
	diff("server.host", prev.Server.Host != next.Server.Host)
	diff("server.port", prev.Server.Port != next.Server.Port)
	diff("server.read_timeout", prev.Server.ReadTimeout != next.Server.ReadTimeout)
	diff("server.write_timeout", prev.Server.WriteTimeout != next.Server.WriteTimeout)
	diff("database.driver", prev.Database.Driver != next.Database.Driver)
	diff("database.dsn", prev.Database.DSN != next.Database.DSN)
	diff("database.audit", prev.Database.Audit != next.Database.Audit)
	diff("logging.format", prev.Logging.Format != next.Logging.Format)
	diff("metrics.enabled", prev.Metrics.Enabled != next.Metrics.Enabled)
	diff("metrics.path", prev.Metrics.Path != next.Metrics.Path)
	return out
}
