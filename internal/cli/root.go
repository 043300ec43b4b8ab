// Package cli implements the command-line interface for apkdb.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kilupskalvis/apkdb/internal/config"
	"github.com/kilupskalvis/apkdb/internal/core"
	"github.com/kilupskalvis/apkdb/internal/metrics"
	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/kilupskalvis/apkdb/internal/txn"
	"github.com/spf13/cobra"
)

var (
	rootFlag        string
	logLevelFlag    string
	logFormatFlag   string
	metricsTextfile string
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	DB       *core.Database
	Runner   *txn.Runner
	Notifier *txn.WebhookNotifier
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.Runner != nil {
		c.Runner.Close()
	}
	c.Notifier.Wait()
	if c.Metrics != nil && metricsTextfile != "" {
		if s, err := c.DB.Stats(); err == nil {
			c.Metrics.SetPackageCounts(s.Installed, s.Available, s.World)
		}
		if err := c.Metrics.WriteTextfile(metricsTextfile); err != nil {
			c.Logger.Warn("failed to write metrics", "path", metricsTextfile, "error", err)
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}
}

// initContext opens the database read-only
func initContext() *cmdContext {
	return openContext(models.OpenReadOnly)
}

// initWriteContext opens the database read-write and starts a transaction runner
func initWriteContext() *cmdContext {
	c := openContext(models.OpenReadWrite)
	c.Metrics = metrics.NewRecorder(metricsTextfile != "")
	opts := []txn.Option{
		txn.WithHistory(c.DB),
		txn.WithMetrics(c.Metrics),
		txn.WithLogger(c.Logger),
	}
	if c.Notifier = txn.NewWebhookNotifier(c.DB.Config().Webhooks, c.Logger); c.Notifier != nil {
		opts = append(opts, txn.WithNotifier(c.Notifier))
	}
	c.Runner = txn.NewRunner(c.DB, opts...)
	return c
}

func openContext(flags models.OpenFlags) *cmdContext {
	root := config.ResolveRoot(rootFlag)
	logger := newLogger(root)

	db := core.New(core.WithRoot(root), core.WithLogger(logger))
	if err := db.Open(flags); err != nil {
		exitError("failed to open database at %s: %v", root, err)
	}
	return &cmdContext{DB: db, Logger: logger}
}

// newLogger builds the logger from --log-level and --log-format, falling back
// to the level in the root's config.
func newLogger(root string) *slog.Logger {
	levelName := logLevelFlag
	if levelName == "" {
		if cfg, err := config.Load(root); err == nil {
			levelName = cfg.LogLevel
		}
	}

	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if logFormatFlag == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// signalContext is canceled on SIGINT or SIGTERM. A commit in progress stops
// after the current package.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var rootCmd = &cobra.Command{
	Use:   "apkdb",
	Short: "APK package database",
	Long: `apkdb manages the package database of a root filesystem: the world
(the packages you asked for), the installed set and the repository indexes.
Every change is planned by the solver and committed package by package.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "Root directory (default $"+config.EnvRoot+" or /)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&metricsTextfile, "metrics-textfile", "", "Write transaction metrics to this file after mutations")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(delCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(worldCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reposCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(historyCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// shortID returns first 8 characters of an ID
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
