// Package config loads termgate's runtime configuration from a YAML file,
// applies environment overrides, and keeps a live copy behind an atomic
// pointer that is refreshed when the file changes, without a daemon
// restart. Readers that call Watcher.Get at use time see edits; values
// copied out once at startup do not change.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/termgate/internal/logger"
)

// Config holds every tunable named in the pool/breaker/gateway knob list.
// Durations are stored as plain seconds/milliseconds in YAML for a readable
// file, converted to time.Duration by the accessor methods below.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	Shell      string `yaml:"shell"`
	SSHKeyPath string `yaml:"ssh_key_path"`

	PoolMaxPerHost        int `yaml:"pool_max_per_host"`
	PoolIdleTimeoutSec    int `yaml:"pool_idle_timeout_sec"`
	PoolConnectTimeoutSec int `yaml:"pool_connect_timeout_sec"`

	BreakerFailureThreshold int `yaml:"breaker_failure_threshold"`
	BreakerSuccessThreshold int `yaml:"breaker_success_threshold"`
	BreakerTimeoutSec       int `yaml:"breaker_timeout_sec"`

	ReaderPollIntervalMs int `yaml:"reader_poll_interval_ms"`
	RemoteExecTimeoutSec int `yaml:"remote_exec_timeout_sec"`
	MaxStreamedOutputKiB int `yaml:"max_streamed_output_kib"`
}

// Defaults returns the configuration with every value spec.md §6 documents
// as the default, before any file or environment override is applied.
func Defaults() *Config {
	sshKeyPath, _ := DefaultSSHKeyPath()

	return &Config{
		ListenAddr: ":7722",
		Shell:      "",
		SSHKeyPath: sshKeyPath,

		PoolMaxPerHost:        10,
		PoolIdleTimeoutSec:    300,
		PoolConnectTimeoutSec: 10,

		BreakerFailureThreshold: 5,
		BreakerSuccessThreshold: 2,
		BreakerTimeoutSec:       60,

		ReaderPollIntervalMs: 50,
		RemoteExecTimeoutSec: 30,
		MaxStreamedOutputKiB: 1024,
	}
}

func (c *Config) PoolIdleTimeout() time.Duration {
	return time.Duration(c.PoolIdleTimeoutSec) * time.Second
}

func (c *Config) PoolConnectTimeout() time.Duration {
	return time.Duration(c.PoolConnectTimeoutSec) * time.Second
}

func (c *Config) BreakerTimeout() time.Duration {
	return time.Duration(c.BreakerTimeoutSec) * time.Second
}

func (c *Config) ReaderPollInterval() time.Duration {
	return time.Duration(c.ReaderPollIntervalMs) * time.Millisecond
}

func (c *Config) RemoteExecTimeout() time.Duration {
	return time.Duration(c.RemoteExecTimeoutSec) * time.Second
}

func (c *Config) MaxStreamedOutputBytes() int64 {
	return int64(c.MaxStreamedOutputKiB) * 1024
}

// Clone returns a shallow copy, safe for a caller to mutate before handing
// it to Watcher.Set (Config has no reference fields, so a value copy
// suffices).
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

// load reads the YAML file at path into a fresh copy of defaults, tolerating
// a missing file (defaults apply), then layers environment overrides on top.
func load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.ListenAddr, "TERMGATE_ADDR")
	setString(&cfg.Shell, "TERMGATE_SHELL")
	setString(&cfg.SSHKeyPath, "TERMGATE_SSH_KEY")

	setInt(&cfg.PoolMaxPerHost, "TERMGATE_POOL_MAX")
	setInt(&cfg.PoolIdleTimeoutSec, "TERMGATE_POOL_IDLE_TIMEOUT_SEC")
	setInt(&cfg.PoolConnectTimeoutSec, "TERMGATE_POOL_CONNECT_TIMEOUT_SEC")

	setInt(&cfg.BreakerFailureThreshold, "TERMGATE_BREAKER_FAILURE_THRESHOLD")
	setInt(&cfg.BreakerSuccessThreshold, "TERMGATE_BREAKER_SUCCESS_THRESHOLD")
	setInt(&cfg.BreakerTimeoutSec, "TERMGATE_BREAKER_TIMEOUT_SEC")

	setInt(&cfg.ReaderPollIntervalMs, "TERMGATE_READER_POLL_INTERVAL_MS")
	setInt(&cfg.RemoteExecTimeoutSec, "TERMGATE_REMOTE_EXEC_TIMEOUT_SEC")
	setInt(&cfg.MaxStreamedOutputKiB, "TERMGATE_MAX_STREAMED_OUTPUT_KIB")
}

func setString(dst *string, envVar string) {
	if v := os.Getenv(envVar); v != "" {
		*dst = v
	}
}

func setInt(dst *int, envVar string) {
	v := os.Getenv(envVar)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn("config: ignoring malformed env override", "var", envVar, "value", v)
		return
	}
	*dst = n
}

// Watcher holds a live Config behind an atomic pointer, refreshed whenever
// its backing file changes on disk.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	watcher *fsnotify.Watcher
}

// NewWatcher loads path once and, if its directory exists, starts watching
// it for writes. A directory that doesn't exist yet is tolerated (the
// in-memory config is simply never refreshed from disk).
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{path: path}
	w.current.Store(cfg)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new fsnotify watcher: %w", err)
	}
	w.watcher = fw

	if err := fw.Add(filepath.Dir(path)); err != nil {
		logger.Warn("config: not watching config directory (will not hot-reload)", "path", path, "err", err)
	} else {
		go w.watchLoop()
	}

	return w, nil
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := load(w.path)
			if err != nil {
				logger.Warn("config: reload failed, keeping previous config", "err", err)
				continue
			}
			w.current.Store(cfg)
			logger.Info("config: reloaded", "path", w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config: watch error", "err", err)
		}
	}
}

// Get returns the currently active configuration. Safe for concurrent use;
// callers should treat the returned value as immutable.
func (w *Watcher) Get() *Config {
	return w.current.Load()
}

// Set installs cfg as the current configuration, overriding whatever file
// or environment override produced it. Used to fold CLI flags on top at
// startup (spec.md §6's flag > env > file > default precedence); a later
// on-disk change still wins over it once the watch loop fires.
func (w *Watcher) Set(cfg *Config) {
	w.current.Store(cfg)
}

func (w *Watcher) Close() error {
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}
