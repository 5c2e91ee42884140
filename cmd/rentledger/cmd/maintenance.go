package cmd

import (
	"context"
	"time"

	"golang-rent-ledger-service/cmd/rentledger/config"
	"golang-rent-ledger-service/internal/maintenance"
	"golang-rent-ledger-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Fill the MonthKey column from month labels",
	Long: `Backfill adds the MonthKey column to tenant sheets that lack it and fills
it from each row's month label ("Sep-2025", "August 2025", "2025-07").
Rows whose label cannot be read keep an empty key and are counted in the
report. Sheets are sorted by MonthKey afterwards.

Running it again only touches rows whose key is missing or wrong.

Examples:
  rentledger backfill --workbook ledger.xlsx
  rentledger backfill --workbook ledger.xlsx --sheets "B3 - Jane Doe" --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMaintenance(cmd, func(ctx context.Context, m *maintenance.Maintainer, opts *maintenance.Options) (*maintenance.Report, error) {
			return m.BackfillMonthKeys(ctx, opts)
		})
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Recompute stale penalty and balance values",
	Long: `Repair recomputes the Penalties and Prepayment/Arrears columns of every
tenant sheet from its amounts and dates and writes the rows whose stored
values differ. Amounts, dates, references and comments are left alone.

Examples:
  rentledger repair --workbook ledger.xlsx
  rentledger repair --workbook ledger.xlsx --penalty 2500 --grace-days 3 --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMaintenance(cmd, func(ctx context.Context, m *maintenance.Maintainer, opts *maintenance.Options) (*maintenance.Report, error) {
			return m.RepairFormulas(ctx, opts)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{backfillCmd, repairCmd} {
		rootCmd.AddCommand(c)
		c.Flags().Int(config.KeyBatchSize, 50, "ledger rows written per request")
		c.Flags().Duration(config.KeyDelay, time.Second, "pause between batches")
		c.Flags().StringSlice(config.KeySheets, nil, "only these tenant sheets (default: all)")
		c.Flags().Bool(config.KeyDryRun, false, "report what would change without saving")
		c.Flags().Int(config.KeyHeaderScan, 10, "rows searched for the ledger header")
		addWriterFlags(c)
	}
	repairCmd.Flags().String(config.KeyPenalty, "", "late payment penalty (default 3000)")
	repairCmd.Flags().Int(config.KeyGraceDays, 2, "days after the due date before a penalty applies")
	repairCmd.Flags().Int(config.KeyDueDay, 5, "day of month rent falls due")
}

type maintenanceFunc func(ctx context.Context, m *maintenance.Maintainer, opts *maintenance.Options) (*maintenance.Report, error)

func runMaintenance(cmd *cobra.Command, pass maintenanceFunc) error {
	ctx := cmd.Context()
	v := viper.GetViper()
	log := logger.GetGlobalLogger()

	opts, err := config.CreateMaintenanceOptions(v)
	if err != nil {
		return err
	}
	if _, err := config.CreateReportConfig(v.GetString(config.KeyOutputFormat)); err != nil {
		return err
	}

	dryRun := v.GetBool(config.KeyDryRun)
	ws, err := openWorkspace(ctx, v, dryRun, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := ws.Close(); err != nil {
			log.WithError(err).Warn("Failed to close workspace")
		}
	}()

	if dryRun {
		opts.Delay = 0
	}
	m := maintenance.NewMaintainer(ws.Workbook, ws.Writer, ws.Ledger, ws.Balance, log)
	report, passErr := pass(ctx, m, opts)
	if report != nil {
		if err := writeReport(v, cmd.OutOrStdout(), report); err != nil {
			if passErr == nil {
				return err
			}
			log.WithError(err).Error("Failed to write report")
		}
	}
	return passErr
}
