package cmd

import (
	"golang-rent-ledger-service/internal/reporter"
	"golang-rent-ledger-service/pkg/errors"
	"golang-rent-ledger-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const keyAccount = "account"

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Summarize posted payments by month",
	Long: `History reads the payment audit trail from the dedup journal and totals
the posted payments per ledger month. The workbook is opened read-only.

Examples:
  rentledger history --workbook ledger.xlsx
  rentledger history --workbook ledger.xlsx --account B3 --output-format csv
  rentledger history --workbook ledger.xlsx --journal sqlite --journal-dsn journal.db`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().String(keyAccount, "", "only payments for this account code")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	v := viper.GetViper()
	log := logger.GetGlobalLogger()

	// A snapshot keeps the journal from creating its sheets in the file.
	ws, err := openWorkspace(ctx, v, true, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := ws.Close(); err != nil {
			log.WithError(err).Warn("Failed to close workspace")
		}
	}()

	entries, err := ws.Journal.History(ctx)
	if err != nil {
		return errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeReadFailed, "failed to read payment history")
	}

	summary := reporter.SummarizeHistory(entries, v.GetString(keyAccount))
	log.WithFields(logger.Fields{
		"entries":  len(entries),
		"payments": summary.Payments,
		"account":  summary.Account,
	}).Debug("Payment history loaded")

	return writeReport(v, cmd.OutOrStdout(), summary)
}
