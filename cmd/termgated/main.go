package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/termgate/internal/config"
	"github.com/ehrlich-b/termgate/internal/gateway"
	"github.com/ehrlich-b/termgate/internal/logger"
)

func main() {
	root := &cobra.Command{
		Use:   "termgated",
		Short: "termgate gateway server",
		RunE:  run,
	}

	root.Flags().String("addr", "", "listen address (overrides config and TERMGATE_ADDR)")
	root.Flags().String("config", "", "path to config file (default ~/.config/termgate/config.yaml)")
	root.Flags().String("shell", "", "shell to spawn for new sessions (overrides config and TERMGATE_SHELL)")
	root.Flags().String("ssh-key", "", "private key used for outbound remote connections")
	root.Flags().String("log-file", "", "also write logs to this file (logs always go to stdout)")
	root.Flags().String("log-level", "info", "log level: debug, info, warn, error")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logFile, _ := cmd.Flags().GetString("log-file")
	if err := logger.Init(logLevel, logFile); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		p, err := config.DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("resolve config path: %w", err)
		}
		configPath = p
	}

	// Ensure the config directory exists so fsnotify has something to watch
	// and an operator dropping in a config.yaml later doesn't need to
	// pre-create the directory by hand.
	if err := config.EnsureConfigDir(filepath.Dir(configPath)); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}

	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer watcher.Close()

	applyFlagOverrides(cmd, watcher)

	gw := gateway.New(watcher)

	addr := watcher.Get().ListenAddr
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("termgated listening", "addr", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("termgated shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// applyFlagOverrides folds explicit CLI flags on top of whatever the config
// file and environment already produced, one level above env in spec.md
// §6's precedence (flag > env > file > default).
func applyFlagOverrides(cmd *cobra.Command, watcher *config.Watcher) {
	c := watcher.Get().Clone()
	changed := false

	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		c.ListenAddr = v
		changed = true
	}
	if v, _ := cmd.Flags().GetString("shell"); v != "" {
		c.Shell = v
		changed = true
	}
	if v, _ := cmd.Flags().GetString("ssh-key"); v != "" {
		c.SSHKeyPath = v
		changed = true
	}

	if changed {
		watcher.Set(c)
	}
}
