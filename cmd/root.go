package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prguard/internal/cost"
	"github.com/joescharf/prguard/internal/logging"
	"github.com/joescharf/prguard/internal/output"
	"github.com/joescharf/prguard/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	logger    *slog.Logger
	logCloser io.Closer

	verbose bool
	dryRun  bool

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// exitError carries a process exit code other than 1 out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

var rootCmd = &cobra.Command{
	Use:   "prguard",
	Short: "Automated pull request review with cost attribution",
	Long: `prguard reviews pull requests with pattern-based security rules and an
AI model, posts a prioritized review comment, opens a patch pull request for
formatting issues, and attributes every AI call's cost to the pull request.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	err := rootCmd.Execute()
	closeDeps()
	if err != nil {
		code := 1
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
			if ee.err == nil {
				os.Exit(code)
			}
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(code)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without publishing anything")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/prguard/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PRGUARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	dir, _ := configDirFunc()
	setDefaults(dir)

	// GITHUB_TOKEN and ANTHROPIC_API_KEY are honored without the prefix.
	_ = viper.BindEnv("github.token", "PRGUARD_GITHUB_TOKEN", "GITHUB_TOKEN")
	_ = viper.BindEnv("anthropic.api_key", "PRGUARD_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers the default for every configuration key.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "prguard.db"))
	viper.SetDefault("ledger_path", filepath.Join(stateDir, "cost_tracking.csv"))
	viper.SetDefault("pricing_path", filepath.Join(stateDir, "pricing.yaml"))
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("log_path", "")
	viper.SetDefault("ai.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("ai.max_tokens", 4096)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("github.token", "")
	viper.SetDefault("github.bot_name", "prguard[bot]")
	viper.SetDefault("review.call_timeout", "2m")
	viper.SetDefault("review.workers", 0)
	viper.SetDefault("review.max_diff_bytes", 1<<20)
	viper.SetDefault("telemetry.exporter", "store")
	viper.SetDefault("telemetry.endpoint", "")
	viper.SetDefault("telemetry.headers", map[string]string{})
	viper.SetDefault("telemetry.shutdown_grace", "5s")
	viper.SetDefault("serve.port", 8080)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Store and ledger are opened lazily, only by the commands that need them.
	// This allows config/version commands to run without a db.
}

// getLogger returns the shared structured logger, building it on first call.
// A misconfigured log destination disables structured logging.
func getLogger() *slog.Logger {
	if logger != nil {
		return logger
	}
	l, closer, err := logging.New(logging.Config{
		Path:  viper.GetString("log_path"),
		Level: viper.GetString("log_level"),
	})
	if err != nil {
		ui.Warning("Logging disabled: %v", err)
		l, closer = logging.Discard(), nil
	}
	logger, logCloser = l, closer
	return logger
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getLedger returns the CSV cost ledger at ledger_path.
func getLedger() *cost.Ledger {
	return cost.NewLedger(viper.GetString("ledger_path"))
}

// getPricing loads the pricing table, layering pricing_path over the
// built-in rates.
func getPricing() (cost.Pricing, error) {
	return cost.LoadPricing(viper.GetString("pricing_path"))
}

func closeDeps() {
	if dataStore != nil {
		_ = dataStore.Close()
		dataStore = nil
	}
	if logCloser != nil {
		_ = logCloser.Close()
		logCloser = nil
	}
}

// interruptible derives a context cancelled by Ctrl-C or a stop signal.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, stopSignals...)
}
