// Package config turns viper settings (flags, RENTLEDGER_* environment
// variables, .env and an optional config file) into the plain config structs
// each package expects.
package config

import (
	"fmt"
	"strings"
	"time"

	"golang-rent-ledger-service/internal/balance"
	"golang-rent-ledger-service/internal/extractor"
	"golang-rent-ledger-service/internal/ingest"
	"golang-rent-ledger-service/internal/ledger"
	"golang-rent-ledger-service/internal/maintenance"
	"golang-rent-ledger-service/internal/reporter"
	"golang-rent-ledger-service/internal/writer"
	"golang-rent-ledger-service/pkg/errors"
	"golang-rent-ledger-service/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Viper keys. Flags are bound under the same names and environment
// variables use the RENTLEDGER_ prefix with dashes turned into underscores.
const (
	KeyWorkbook     = "workbook"
	KeyMailDir      = "mail-dir"
	KeyQuery        = "query"
	KeyMaxMessages  = "max-messages"
	KeyMarkRead     = "mark-read"
	KeyThrottle     = "throttle"
	KeyMaxFailures  = "max-failures"
	KeyDryRun       = "dry-run"
	KeyAutoCreate   = "auto-create"
	KeyDefaultRent  = "default-rent"
	KeyDueDay       = "due-day"
	KeyHeaderScan   = "header-scan-rows"
	KeyTimezone     = "timezone"
	KeyPenalty      = "penalty"
	KeyGraceDays    = "grace-days"
	KeyWriteBatch   = "writer-batch-size"
	KeyWriteTries   = "writer-max-attempts"
	KeyWriteBackoff = "writer-initial-backoff"
	KeyBatchSize    = "batch-size"
	KeyDelay        = "delay"
	KeySheets       = "sheets"
	KeyJournal      = "journal"
	KeyJournalDSN   = "journal-dsn"
	KeyKafkaBrokers = "kafka-brokers"
	KeyKafkaTopic   = "kafka-topic"
	KeyOutputFormat = "output-format"
	KeyOutputFile   = "output-file"
	KeyLogLevel     = "log-level"
	KeyLogFormat    = "log-format"
	KeyLogFile      = "log-file"
	KeyVerbose      = "verbose"
)

// Journal backends selectable with --journal.
const (
	JournalWorkbook = "workbook"
	JournalSQLite   = "sqlite"
	JournalPostgres = "postgres"
)

// DefaultKafkaTopic receives payment.posted events.
const DefaultKafkaTopic = "rent.payments"

// Location loads the configured time zone, UTC when unset.
func Location(v *viper.Viper) (*time.Location, error) {
	name := strings.TrimSpace(v.GetString(KeyTimezone))
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyTimezone, name, err)
	}
	return loc, nil
}

// CreateLedgerConfig builds the ledger discovery and resolution settings.
func CreateLedgerConfig(v *viper.Viper) (*ledger.Config, error) {
	config := ledger.DefaultConfig()

	if v.IsSet(KeyAutoCreate) {
		config.AutoCreate = v.GetBool(KeyAutoCreate)
	}
	if v.IsSet(KeyDueDay) {
		config.DueDay = v.GetInt(KeyDueDay)
	}
	if v.IsSet(KeyHeaderScan) {
		config.HeaderScanRows = v.GetInt(KeyHeaderScan)
	}
	if s := strings.TrimSpace(v.GetString(KeyDefaultRent)); s != "" {
		rent, err := decimal.NewFromString(s)
		if err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyDefaultRent, s, err)
		}
		config.DefaultRent = rent
	}

	loc, err := Location(v)
	if err != nil {
		return nil, err
	}
	config.Location = loc

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ledger", config, err)
	}
	return config, nil
}

// CreateBalanceConfig builds the penalty rule set.
func CreateBalanceConfig(v *viper.Viper) (*balance.Config, error) {
	config := balance.DefaultConfig()

	if s := strings.TrimSpace(v.GetString(KeyPenalty)); s != "" {
		penalty, err := decimal.NewFromString(s)
		if err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyPenalty, s, err)
		}
		config.Penalty = penalty
	}
	if v.IsSet(KeyGraceDays) {
		config.GraceDays = v.GetInt(KeyGraceDays)
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "balance", config, err)
	}
	return config, nil
}

// CreateExtractorConfig builds the notification extractor settings.
func CreateExtractorConfig(v *viper.Viper) (*extractor.Config, error) {
	config := extractor.DefaultConfig()

	loc, err := Location(v)
	if err != nil {
		return nil, err
	}
	config.Location = loc

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "extractor", config, err)
	}
	return config, nil
}

// CreateWriterConfig builds the ledger writer batching and retry settings.
func CreateWriterConfig(v *viper.Viper) (*writer.Config, error) {
	config := writer.DefaultConfig()

	if v.IsSet(KeyWriteBatch) {
		config.BatchSize = v.GetInt(KeyWriteBatch)
	}
	if v.IsSet(KeyWriteTries) {
		config.MaxAttempts = v.GetInt(KeyWriteTries)
	}
	if v.IsSet(KeyWriteBackoff) {
		config.InitialBackoff = v.GetDuration(KeyWriteBackoff)
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "writer", config, err)
	}
	return config, nil
}

// CreateIngestConfig builds the run options of the ingest command.
func CreateIngestConfig(v *viper.Viper) (*ingest.Config, error) {
	config := ingest.DefaultConfig()

	if q := strings.TrimSpace(v.GetString(KeyQuery)); q != "" {
		config.Query = q
	}
	if v.IsSet(KeyMaxMessages) {
		config.MaxMessages = v.GetInt(KeyMaxMessages)
	}
	if v.IsSet(KeyMarkRead) {
		config.MarkRead = v.GetBool(KeyMarkRead)
	}
	if v.IsSet(KeyThrottle) {
		config.Throttle = v.GetDuration(KeyThrottle)
	}
	if v.IsSet(KeyMaxFailures) {
		config.MaxFailures = v.GetInt(KeyMaxFailures)
	}
	config.DryRun = v.GetBool(KeyDryRun)

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ingest", config, err)
	}
	return config, nil
}

// CreateMaintenanceOptions builds the pacing of backfill and repair.
func CreateMaintenanceOptions(v *viper.Viper) (*maintenance.Options, error) {
	opts := maintenance.DefaultOptions()

	if v.IsSet(KeyBatchSize) {
		opts.BatchSize = v.GetInt(KeyBatchSize)
	}
	if v.IsSet(KeyDelay) {
		opts.Delay = v.GetDuration(KeyDelay)
	}
	opts.Sheets = splitList(v.GetStringSlice(KeySheets))

	if err := opts.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "maintenance", opts, err)
	}
	return opts, nil
}

// JournalSettings selects the dedup journal backend.
type JournalSettings struct {
	Backend string
	DSN     string
}

// CreateJournalSettings reads and checks --journal and --journal-dsn.
func CreateJournalSettings(v *viper.Viper) (*JournalSettings, error) {
	settings := &JournalSettings{
		Backend: strings.ToLower(strings.TrimSpace(v.GetString(KeyJournal))),
		DSN:     strings.TrimSpace(v.GetString(KeyJournalDSN)),
	}
	if settings.Backend == "" {
		settings.Backend = JournalWorkbook
	}

	switch settings.Backend {
	case JournalWorkbook:
	case JournalSQLite, JournalPostgres:
		if settings.DSN == "" {
			return nil, errors.ConfigurationError(errors.CodeMissingConfig, KeyJournalDSN, "",
				fmt.Errorf("the %s journal needs a DSN", settings.Backend))
		}
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyJournal, settings.Backend,
			fmt.Errorf("want %s, %s or %s", JournalWorkbook, JournalSQLite, JournalPostgres))
	}
	return settings, nil
}

// EventSettings configures the Kafka publisher. Brokers is empty when
// events are disabled.
type EventSettings struct {
	Brokers []string
	Topic   string
}

// Enabled reports whether any broker is configured.
func (s *EventSettings) Enabled() bool { return len(s.Brokers) > 0 }

// CreateEventSettings reads --kafka-brokers and --kafka-topic.
func CreateEventSettings(v *viper.Viper) *EventSettings {
	settings := &EventSettings{
		Brokers: splitList(v.GetStringSlice(KeyKafkaBrokers)),
		Topic:   strings.TrimSpace(v.GetString(KeyKafkaTopic)),
	}
	if settings.Topic == "" {
		settings.Topic = DefaultKafkaTopic
	}
	return settings
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()

	switch reporter.OutputFormat(strings.ToLower(strings.TrimSpace(format))) {
	case "", reporter.FormatConsole:
		config.Format = reporter.FormatConsole
	case reporter.FormatJSON:
		config.Format = reporter.FormatJSON
	case reporter.FormatCSV:
		config.Format = reporter.FormatCSV
		config.CSVHeaders = true
		config.CSVDelimiter = ','
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyOutputFormat, format,
			fmt.Errorf("valid formats: console, json, csv"))
	}
	return config, nil
}

// CreateLoggerConfig builds the logger settings. --verbose forces debug.
func CreateLoggerConfig(v *viper.Viper) (*logger.Config, error) {
	config := logger.DefaultConfig()
	if v.GetBool(KeyVerbose) {
		config = logger.DebugConfig()
	} else if level := strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel))); level != "" {
		config.Level = logger.Level(level)
	}
	if format := strings.ToLower(strings.TrimSpace(v.GetString(KeyLogFormat))); format != "" {
		config.Format = logger.Format(format)
	}
	if file := strings.TrimSpace(v.GetString(KeyLogFile)); file != "" {
		config.Output = logger.FileOutput
		config.File = file
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "logging", config, err)
	}
	return config, nil
}

// splitList flattens values that may themselves be comma separated, as they
// are when read from an environment variable.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
