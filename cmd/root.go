// Package cmd implements the jc command-line surface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jcflow/jc/internal/config"
	"github.com/jcflow/jc/internal/infrastructure/sqlite"
	"github.com/jcflow/jc/internal/log"
	"github.com/jcflow/jc/internal/tracing"
)

// Exit codes surfaced by Execute.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitValidation = 2
	ExitCancelled  = 130
)

var (
	version = "dev"
	cfgFile string
	debug   bool
	cfg     config.Config
)

// exitError carries an explicit process exit code up to Execute.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func validationErr(err error) error {
	return &exitError{code: ExitValidation, err: err}
}

func failureErr(err error) error {
	return &exitError{code: ExitFailure, err: err}
}

var rootCmd = &cobra.Command{
	Use:           "jc",
	Short:         "Event-sourced AI coding workflow runtime",
	Long:          "jc drives long-running AI coding workflows: every state change is an append-only event, and all queryable state is a projection replayed from the log.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .jc/config.yaml, then ~/.config/jc/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"enable debug logging")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("data_dir", defaults.DataDir)
	viper.SetDefault("store.snapshot_every", defaults.Store.SnapshotEvery)
	viper.SetDefault("evaluator.cost_threshold_usd", defaults.Evaluator.CostThresholdUSD)
	viper.SetDefault("evaluator.time_threshold_ms", defaults.Evaluator.TimeThresholdMS)
	viper.SetDefault("executor.provider", defaults.Executor.Provider)
	viper.SetDefault("tracker.binary", defaults.Tracker.Binary)
	viper.SetDefault("log.enabled", defaults.Log.Enabled)
	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Lookup order: repository-local .jc/config.yaml, then the user
		// config directory.
		if _, err := os.Stat(config.LocalConfigPath()); err == nil {
			viper.SetConfigFile(config.LocalConfigPath())
		} else if user := config.UserConfigPath(); user != "" {
			viper.SetConfigFile(user)
		}
	}

	if viper.ConfigFileUsed() != "" {
		if err := viper.ReadInConfig(); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}
	cfg = config.Defaults()
	_ = viper.Unmarshal(&cfg)

	if debug || cfg.Log.Enabled {
		if _, err := log.Init(cfg.LogPath()); err != nil {
			fmt.Fprintf(os.Stderr, "warning: logging disabled: %v\n", err)
		} else if !debug {
			log.SetMinLevel(parseLevel(cfg.Log.Level))
		}
	}
}

func parseLevel(s string) log.Level {
	switch strings.ToLower(s) {
	case "debug":
		return log.LevelDebug
	case "warn", "warning":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}

// runtime bundles the shared process-wide collaborators.
type runtime struct {
	db      *sqlite.DB
	store   *sqlite.EventStore
	tracing *tracing.Provider
}

// openRuntime opens the event store and tracing provider from config. The
// returned close function is safe to defer.
func openRuntime() (*runtime, func(), error) {
	db, err := sqlite.NewDB(cfg.DatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("opening event store: %w", err)
	}
	store := sqlite.NewEventStore(db, sqlite.WithSnapshotEvery(cfg.Store.SnapshotEvery))

	tcfg := cfg.Tracing
	if tcfg.Enabled && tcfg.Exporter == "file" && tcfg.FilePath == "" {
		tcfg.FilePath = filepath.Join(cfg.DataDir, "traces.jsonl")
	}
	tp, err := tracing.NewProvider(tcfg)
	if err != nil {
		store.Close()
		_ = db.Close()
		return nil, nil, fmt.Errorf("initializing tracing: %w", err)
	}

	rt := &runtime{db: db, store: store, tracing: tp}
	closeFn := func() {
		_ = tp.Shutdown(context.Background())
		store.Close()
		_ = db.Close()
	}
	return rt, closeFn, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		var xerr *exitError
		if errors.As(err, &xerr) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", xerr.err)
			return xerr.code
		}
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "cancelled")
			return ExitCancelled
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitFailure
	}
	return ExitOK
}
