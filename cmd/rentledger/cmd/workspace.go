package cmd

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"golang-rent-ledger-service/cmd/rentledger/config"
	"golang-rent-ledger-service/internal/balance"
	"golang-rent-ledger-service/internal/journal"
	"golang-rent-ledger-service/internal/ledger"
	"golang-rent-ledger-service/internal/reporter"
	"golang-rent-ledger-service/internal/storage"
	"golang-rent-ledger-service/internal/writer"
	"golang-rent-ledger-service/pkg/errors"
	"golang-rent-ledger-service/pkg/logger"

	"github.com/spf13/viper"
)

// workspace holds the storage a command works on. In a dry run Workbook is
// an in-memory snapshot of the file and Journal an overlay, so nothing the
// command does is persisted.
type workspace struct {
	File     *storage.XLSXWorkbook
	Workbook storage.Workbook
	Journal  journal.Journal
	Writer   *writer.Writer
	Ledger   *ledger.Config
	Balance  *balance.Config
	Log      logger.Logger
}

// openWorkspace opens the configured workbook and journal. mustExist
// rejects a workbook path that does not exist yet.
func openWorkspace(ctx context.Context, v *viper.Viper, dryRun, mustExist bool) (_ *workspace, err error) {
	path := v.GetString(config.KeyWorkbook)
	if err := validateWorkbookPath(path, mustExist); err != nil {
		return nil, err
	}

	ledgerConfig, err := config.CreateLedgerConfig(v)
	if err != nil {
		return nil, err
	}
	balanceConfig, err := config.CreateBalanceConfig(v)
	if err != nil {
		return nil, err
	}
	writerConfig, err := config.CreateWriterConfig(v)
	if err != nil {
		return nil, err
	}
	journalSettings, err := config.CreateJournalSettings(v)
	if err != nil {
		return nil, err
	}

	log := logger.GetGlobalLogger()
	ws := &workspace{Ledger: ledgerConfig, Balance: balanceConfig, Log: log}
	defer func() {
		if err != nil {
			ws.Close()
		}
	}()

	ws.File, err = storage.OpenXLSX(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryStorage, errors.CodeReadFailed, "failed to open workbook").
			WithContext("workbook", path).
			WithSuggestion("Check that the file is a valid .xlsx workbook")
	}
	ws.Workbook = ws.File
	if dryRun {
		snapshot, err := storage.Snapshot(ctx, ws.File)
		if err != nil {
			return nil, errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeReadFailed, "failed to copy workbook for dry run").
				WithContext("workbook", path)
		}
		ws.Workbook = snapshot
	}
	ws.Writer = writer.NewWriter(ws.Workbook, writerConfig, log)

	switch journalSettings.Backend {
	case config.JournalSQLite, config.JournalPostgres:
		driver := journal.DriverSQLite
		if journalSettings.Backend == config.JournalPostgres {
			driver = journal.DriverPostgres
		}
		sqlJournal, err := journal.OpenSQL(ctx, driver, journalSettings.DSN, ledgerConfig.Location)
		if err != nil {
			return nil, err
		}
		ws.Journal = sqlJournal
	default:
		ws.Journal = journal.NewWorkbookJournal(ws.Workbook, ws.Writer.Do, ledgerConfig.Location)
	}
	if dryRun {
		ws.Journal = journal.NewOverlay(ws.Journal)
	}

	log.WithFields(logger.Fields{
		"workbook": path,
		"journal":  journalSettings.Backend,
		"dry_run":  dryRun,
	}).Debug("Workspace opened")
	return ws, nil
}

// Close releases the journal and the workbook file.
func (ws *workspace) Close() error {
	var firstErr error
	if ws.Journal != nil {
		if err := ws.Journal.Close(); err != nil {
			firstErr = err
		}
	}
	if ws.File != nil {
		if err := ws.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func validateWorkbookPath(path string, mustExist bool) error {
	if path == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, config.KeyWorkbook, "", nil).
			WithSuggestion("Pass --workbook or set RENTLEDGER_WORKBOOK")
	}
	if filepath.Ext(path) != ".xlsx" {
		return errors.ConfigurationError(errors.CodeInvalidConfig, config.KeyWorkbook, path, nil).
			WithSuggestion("The ledger workbook must be an .xlsx file")
	}

	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		if mustExist {
			return errors.Wrap(err, errors.CategoryStorage, errors.CodeReadFailed, "workbook does not exist").
				WithContext("workbook", path).
				WithSuggestion("Check the workbook path; only ingest can start a new workbook")
		}
		dir := filepath.Dir(path)
		if _, err := os.Stat(dir); err != nil {
			return errors.Wrap(err, errors.CategoryStorage, errors.CodeWriteFailed, "workbook directory is not usable").
				WithContext("directory", dir)
		}
		return nil
	case err != nil:
		return errors.Wrap(err, errors.CategoryStorage, errors.CodeReadFailed, "cannot access workbook").
			WithContext("workbook", path)
	case info.IsDir():
		return errors.ConfigurationError(errors.CodeInvalidConfig, config.KeyWorkbook, path, nil).
			WithSuggestion("The workbook path points at a directory")
	}
	return nil
}

// writeReport renders result to --output-file or stdout.
func writeReport(v *viper.Viper, stdout io.Writer, result interface{}) error {
	reportConfig, err := config.CreateReportConfig(v.GetString(config.KeyOutputFormat))
	if err != nil {
		return err
	}
	generator, err := reporter.NewSafeReportGenerator(reportConfig, logger.GetGlobalLogger())
	if err != nil {
		return err
	}

	out := stdout
	if path := v.GetString(config.KeyOutputFile); path != "" {
		file, err := os.Create(path)
		if err != nil {
			return errors.Wrap(err, errors.CategoryStorage, errors.CodeWriteFailed, "cannot create report file").
				WithContext("output_file", path)
		}
		defer file.Close()
		out = file
	}
	return generator.GenerateReportSafely(result, out)
}
