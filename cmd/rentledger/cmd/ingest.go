package cmd

import (
	"time"

	"golang-rent-ledger-service/cmd/rentledger/config"
	"golang-rent-ledger-service/internal/events"
	"golang-rent-ledger-service/internal/extractor"
	"golang-rent-ledger-service/internal/ingest"
	"golang-rent-ledger-service/internal/mailsource"
	"golang-rent-ledger-service/pkg/errors"
	"golang-rent-ledger-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Post new M-Pesa payment notifications to the ledger",
	Long: `Ingest reads unread payment notifications from a maildir, extracts each
payment and posts it to the tenant's sheet in the ledger workbook.

Every payment reference is posted at most once. Late payments that leave
the month unpaid are penalized, and overpayments are carried into the
following months as prepayment rows.

A run stopped by exhausted write quota reports what it posted so far;
running it again later resumes with the remaining messages.

Examples:
  # Post everything waiting in ./mail/new
  rentledger ingest --mail-dir ./mail --workbook ledger.xlsx

  # Preview without touching the workbook or the mailbox
  rentledger ingest --mail-dir ./mail --workbook ledger.xlsx --dry-run

  # Keep the dedup journal in SQLite and publish events to Kafka
  rentledger ingest --mail-dir ./mail --workbook ledger.xlsx \
    --journal sqlite --journal-dsn journal.db --kafka-brokers localhost:9092`,
	PreRunE: validateIngestFlags,
	RunE:    runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	// Mail flags
	ingestCmd.Flags().String(config.KeyMailDir, "", "maildir holding notifications in new/ (required)")
	ingestCmd.Flags().String(config.KeyQuery, ingest.DefaultQuery, "only messages containing this text")
	ingestCmd.Flags().Int(config.KeyMaxMessages, 200, "maximum messages scanned per run")
	ingestCmd.Flags().Bool(config.KeyMarkRead, true, "move posted and duplicate messages to cur/")
	ingestCmd.Flags().Duration(config.KeyThrottle, 250*time.Millisecond, "pause after each posted payment")
	ingestCmd.Flags().Int(config.KeyMaxFailures, 0, "stop after this many failed messages (0: no limit)")
	ingestCmd.Flags().Bool(config.KeyDryRun, false, "compute and report without saving anything")

	// Ledger flags
	ingestCmd.Flags().Bool(config.KeyAutoCreate, true, "create a sheet for unknown account codes")
	ingestCmd.Flags().String(config.KeyDefaultRent, "", "amount due on months created by ingest")
	ingestCmd.Flags().Int(config.KeyDueDay, 5, "day of month rent falls due")
	ingestCmd.Flags().Int(config.KeyHeaderScan, 10, "rows searched for the ledger header")
	ingestCmd.Flags().String(config.KeyPenalty, "", "late payment penalty (default 3000)")
	ingestCmd.Flags().Int(config.KeyGraceDays, 2, "days after the due date before a penalty applies")

	// Writer flags
	addWriterFlags(ingestCmd)

	// Event flags
	ingestCmd.Flags().StringSlice(config.KeyKafkaBrokers, nil, "kafka brokers for payment.posted events")
	ingestCmd.Flags().String(config.KeyKafkaTopic, config.DefaultKafkaTopic, "kafka topic for payment.posted events")
}

// addWriterFlags registers the ledger write batching and retry flags.
func addWriterFlags(c *cobra.Command) {
	c.Flags().Int(config.KeyWriteBatch, 200, "cells per write request")
	c.Flags().Int(config.KeyWriteTries, 6, "attempts per write before giving up")
	c.Flags().Duration(config.KeyWriteBackoff, time.Second, "first retry delay, doubled per attempt")
}

func validateIngestFlags(cmd *cobra.Command, args []string) error {
	if viper.GetString(config.KeyMailDir) == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, config.KeyMailDir, "", nil).
			WithSuggestion("Pass --mail-dir or set RENTLEDGER_MAIL_DIR")
	}
	if _, err := config.CreateIngestConfig(viper.GetViper()); err != nil {
		return err
	}
	_, err := config.CreateReportConfig(viper.GetString(config.KeyOutputFormat))
	return err
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	v := viper.GetViper()
	log := logger.GetGlobalLogger()

	ingestConfig, err := config.CreateIngestConfig(v)
	if err != nil {
		return err
	}
	extractorConfig, err := config.CreateExtractorConfig(v)
	if err != nil {
		return err
	}
	ext, err := extractor.NewExtractor(extractorConfig)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "extractor", extractorConfig, err)
	}

	source, err := mailsource.NewDirSource(v.GetString(config.KeyMailDir), log)
	if err != nil {
		return err
	}

	ws, err := openWorkspace(ctx, v, ingestConfig.DryRun, false)
	if err != nil {
		return err
	}
	defer func() {
		if err := ws.Close(); err != nil {
			log.WithError(err).Warn("Failed to close workspace")
		}
	}()

	publisher, err := newPublisher(v, ingestConfig.DryRun)
	if err != nil {
		return err
	}
	defer publisher.Close()

	runner, err := ingest.NewRunner(ingestConfig, ingest.Dependencies{
		Source:    source,
		Extractor: ext,
		Journal:   ws.Journal,
		Workbook:  ws.Workbook,
		Writer:    ws.Writer,
		Ledger:    ws.Ledger,
		Balance:   ws.Balance,
		Publisher: publisher,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	summary, runErr := runner.Run(ctx)
	if summary != nil {
		if err := writeReport(v, cmd.OutOrStdout(), summary); err != nil {
			if runErr == nil {
				return err
			}
			log.WithError(err).Error("Failed to write report")
		}
	}
	return runErr
}

// newPublisher returns a Kafka publisher when brokers are configured. Dry
// runs never publish.
func newPublisher(v *viper.Viper, dryRun bool) (events.Publisher, error) {
	settings := config.CreateEventSettings(v)
	if !settings.Enabled() || dryRun {
		return events.NopPublisher{}, nil
	}
	publisher, err := events.NewKafkaPublisher(settings.Brokers, settings.Topic)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, config.KeyKafkaBrokers, settings.Brokers, err)
	}
	logger.GetGlobalLogger().WithFields(logger.Fields{
		"brokers": settings.Brokers,
		"topic":   settings.Topic,
	}).Info("Publishing payment events")
	return publisher, nil
}
