package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "prguard"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage prguard configuration.

Running bare 'prguard config' is the same as 'prguard config show'.
Every key can also be set through a PRGUARD_ environment variable, for
example PRGUARD_AI_MODEL for ai.model.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# prguard configuration
# See: prguard config show (for effective values and sources)

# State/data directory (default: ~/.config/prguard)
# state_dir: {{ .StateDir }}

# SQLite database for run history and stored spans
# db_path: {{ .DBPath }}

# Append-only CSV cost ledger
ledger_path: "{{ .LedgerPath }}"

# Optional YAML file overriding the per-token price table
# pricing_path: {{ .PricingPath }}

# Structured log level (debug, info, warn, error) and file (empty: stderr)
log_level: "{{ .LogLevel }}"
log_path: "{{ .LogPath }}"

ai:
  # Model used for analysis and patch generation
  model: "{{ .AIModel }}"
  max_tokens: {{ .AIMaxTokens }}

# anthropic.api_key and github.token are best set through
# ANTHROPIC_API_KEY and GITHUB_TOKEN.

review:
  # Per-call AI timeout
  call_timeout: "{{ .CallTimeout }}"
  # Rule-engine workers (0: one per CPU)
  workers: {{ .Workers }}
  # Diffs larger than this are not reviewed (0: no limit)
  max_diff_bytes: {{ .MaxDiffBytes }}

telemetry:
  # none, otlp or store (spans saved in db_path)
  exporter: "{{ .Exporter }}"
  # OTLP/HTTP endpoint, e.g. http://localhost:4318
  endpoint: "{{ .Endpoint }}"
  shutdown_grace: "{{ .ShutdownGrace }}"
`

type configTemplateData struct {
	StateDir      string
	DBPath        string
	LedgerPath    string
	PricingPath   string
	LogLevel      string
	LogPath       string
	AIModel       string
	AIMaxTokens   int
	CallTimeout   string
	Workers       int
	MaxDiffBytes  int
	Exporter      string
	Endpoint      string
	ShutdownGrace string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:      viper.GetString("state_dir"),
		DBPath:        viper.GetString("db_path"),
		LedgerPath:    viper.GetString("ledger_path"),
		PricingPath:   viper.GetString("pricing_path"),
		LogLevel:      viper.GetString("log_level"),
		LogPath:       viper.GetString("log_path"),
		AIModel:       viper.GetString("ai.model"),
		AIMaxTokens:   viper.GetInt("ai.max_tokens"),
		CallTimeout:   viper.GetDuration("review.call_timeout").String(),
		Workers:       viper.GetInt("review.workers"),
		MaxDiffBytes:  viper.GetInt("review.max_diff_bytes"),
		Exporter:      viper.GetString("telemetry.exporter"),
		Endpoint:      viper.GetString("telemetry.endpoint"),
		ShutdownGrace: viper.GetDuration("telemetry.shutdown_grace").String(),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "PRGUARD_STATE_DIR"},
	{Key: "db_path", EnvVar: "PRGUARD_DB_PATH"},
	{Key: "ledger_path", EnvVar: "PRGUARD_LEDGER_PATH"},
	{Key: "pricing_path", EnvVar: "PRGUARD_PRICING_PATH"},
	{Key: "log_level", EnvVar: "PRGUARD_LOG_LEVEL"},
	{Key: "log_path", EnvVar: "PRGUARD_LOG_PATH"},
	{Key: "ai.model", EnvVar: "PRGUARD_AI_MODEL"},
	{Key: "ai.max_tokens", EnvVar: "PRGUARD_AI_MAX_TOKENS"},
	{Key: "anthropic.api_key", EnvVar: "ANTHROPIC_API_KEY", Secret: true},
	{Key: "github.token", EnvVar: "GITHUB_TOKEN", Secret: true},
	{Key: "github.bot_name", EnvVar: "PRGUARD_GITHUB_BOT_NAME"},
	{Key: "review.call_timeout", EnvVar: "PRGUARD_REVIEW_CALL_TIMEOUT"},
	{Key: "review.workers", EnvVar: "PRGUARD_REVIEW_WORKERS"},
	{Key: "review.max_diff_bytes", EnvVar: "PRGUARD_REVIEW_MAX_DIFF_BYTES"},
	{Key: "telemetry.exporter", EnvVar: "PRGUARD_TELEMETRY_EXPORTER"},
	{Key: "telemetry.endpoint", EnvVar: "PRGUARD_TELEMETRY_ENDPOINT"},
	{Key: "telemetry.shutdown_grace", EnvVar: "PRGUARD_TELEMETRY_SHUTDOWN_GRACE"},
	{Key: "serve.port", EnvVar: "PRGUARD_SERVE_PORT"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Secret {
			val = maskSecret(viper.GetString(k.Key))
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-26s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// maskSecret hides all but the last four characters of a credential.
func maskSecret(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'prguard config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
