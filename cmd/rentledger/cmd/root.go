package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang-rent-ledger-service/cmd/rentledger/config"
	"golang-rent-ledger-service/pkg/errors"
	"golang-rent-ledger-service/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	envFile string
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rentledger",
	Short: "Rent payment bookkeeping tool",
	Long: `Rentledger posts M-Pesa rent payment notifications into a tenant ledger
workbook. Each payment lands in the right month row, late payments are
penalized, balances roll forward and prepayments are carried into the
following months.

Settings can come from flags, a config file (--config), a .env file or
RENTLEDGER_* environment variables (RENTLEDGER_WORKBOOK, RENTLEDGER_MAIL_DIR, ...).

Examples:
  rentledger ingest --mail-dir ./mail --workbook ledger.xlsx
  rentledger ingest --mail-dir ./mail --workbook ledger.xlsx --dry-run --output-format json
  rentledger backfill --workbook ledger.xlsx --batch-size 25
  rentledger repair --workbook ledger.xlsx
  rentledger history --workbook ledger.xlsx --account B3`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the command line with ctx, which is cancelled on interrupt.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (optional)")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading RENTLEDGER_* variables")
	flags.BoolP(config.KeyVerbose, "v", false, "verbose output (debug logging)")

	flags.StringP(config.KeyWorkbook, "w", "", "ledger workbook (.xlsx)")
	flags.String(config.KeyTimezone, "", "time zone of notification and ledger dates (default UTC)")
	flags.StringP(config.KeyOutputFormat, "f", "console", "report format: console, json, csv")
	flags.StringP(config.KeyOutputFile, "o", "", "report file (default: stdout)")
	flags.String(config.KeyJournal, config.JournalWorkbook, "dedup journal: workbook, sqlite, postgres")
	flags.String(config.KeyJournalDSN, "", "journal data source name for sqlite or postgres")
	flags.String(config.KeyLogLevel, "info", "log level: debug, info, warn, error")
	flags.String(config.KeyLogFormat, "text", "log format: text, json")
	flags.String(config.KeyLogFile, "", "write logs to this file instead of stderr")
}

// setup loads .env and the config file, binds the running command's flags
// to viper and installs the global logger.
func setup(cmd *cobra.Command, args []string) error {
	if err := loadEnvironment(); err != nil {
		return err
	}
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return errors.InternalError("bind flags", err)
	}

	logConfig, err := config.CreateLoggerConfig(viper.GetViper())
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(logConfig)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "logging", logConfig, err)
	}
	logger.SetGlobalLogger(log)

	if used := viper.ConfigFileUsed(); used != "" {
		log.WithField("config_file", used).Debug("Using config file")
	}
	return nil
}

// loadEnvironment reads the optional .env file and config file and enables
// RENTLEDGER_* environment lookups.
func loadEnvironment() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "env-file", envFile, err).
				WithSuggestion("Fix the syntax of the .env file or point --env-file elsewhere")
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err).
				WithSuggestion("Check the config file path and syntax")
		}
	}

	viper.SetEnvPrefix("RENTLEDGER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
