// Command bidimediator runs the WebDriver BiDi <-> CDP mediator daemon: a
// cobra root command building a zap logger in PersistentPreRunE, graceful
// shutdown on SIGINT/SIGTERM, and subcommands for config validation and
// version reporting.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bidicdp/mediator/internal/config"
	"github.com/bidicdp/mediator/internal/logging"
	"github.com/bidicdp/mediator/internal/mediator"
)

const version = "0.1.0"

var (
	logger     *zap.Logger
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "bidimediator",
	Short: "WebDriver BiDi to Chrome DevTools Protocol mediator",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level.SetLevel(zap.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
	RunE: runMediator,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the bidimediator version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(version)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the config file and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger.Info("config valid", zap.String("path", configPath))
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config file operations",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(versionCmd, configCmd)
}

func runMediator(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := logging.Configure(cfg.Logging.StateDir, cfg.Logging.DebugMode, cfg.Logging.Categories, cfg.Logging.Level, cfg.Logging.JSONFormat); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	if err := logging.InitAudit(); err != nil {
		return fmt.Errorf("init audit log: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	var watcher *config.Watcher
	m := mediator.New(cfg)
	if configPath != "" {
		var err error
		watcher, err = config.NewWatcher(configPath, func(newCfg *config.Config) {
			logger.Info("config hot-reload is observed but not yet applied to a running mediator instance")
		})
		if err != nil {
			logger.Warn("failed to start config watcher", zap.Error(err))
		}
	}
	defer func() {
		if watcher != nil {
			watcher.Close()
		}
	}()

	logger.Info("starting bidimediator", zap.String("version", version), zap.String("listen_addr", cfg.ListenAddr))
	if err := m.Run(ctx); err != nil {
		logger.Error("mediator exited with error", zap.Error(err))
		m.Close()
		return err
	}
	m.Close()
	logger.Info("bidimediator shut down cleanly")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
