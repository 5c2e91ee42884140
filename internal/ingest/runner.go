// Package ingest runs the payment pipeline: mail search, extraction, the
// dedup gate, period resolution, balance computation and the ledger write,
// one payment at a time.
//
// Failures are isolated per message and per tenant. A tenant whose sheet
// cannot be found or parsed is skipped for the rest of the run while other
// tenants continue. Exhausted write quota stops the run; the summary of the
// work done so far is returned with the error and the next run resumes
// where this one stopped because posted references are never posted twice.
//
// Example usage:
//
//	runner, err := ingest.NewRunner(ingest.DefaultConfig(), ingest.Dependencies{
//		Source:    source,
//		Extractor: ext,
//		Journal:   j,
//		Workbook:  wb,
//		Writer:    w,
//	})
//	summary, err := runner.Run(ctx)
package ingest

import (
	"context"
	"strings"
	"time"

	"golang-rent-ledger-service/internal/balance"
	"golang-rent-ledger-service/internal/events"
	"golang-rent-ledger-service/internal/extractor"
	"golang-rent-ledger-service/internal/journal"
	"golang-rent-ledger-service/internal/ledger"
	"golang-rent-ledger-service/internal/mailsource"
	"golang-rent-ledger-service/internal/models"
	"golang-rent-ledger-service/internal/storage"
	"golang-rent-ledger-service/internal/writer"
	"golang-rent-ledger-service/pkg/errors"
	"golang-rent-ledger-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Dependencies are the collaborators of a Runner. Source, Extractor,
// Journal, Workbook and Writer are required; the rest default.
type Dependencies struct {
	Source    mailsource.Source
	Extractor *extractor.Extractor
	Journal   journal.Journal
	Workbook  storage.Workbook
	Writer    *writer.Writer
	Ledger    *ledger.Config
	Balance   *balance.Config
	Publisher events.Publisher
	Logger    logger.Logger
}

// Runner executes ingest runs.
type Runner struct {
	config    *Config
	source    mailsource.Source
	extractor *extractor.Extractor
	journal   journal.Journal
	wb        storage.Workbook
	writer    *writer.Writer
	ledgerCfg *ledger.Config
	directory *ledger.Directory
	resolver  *ledger.Resolver
	engine    *balance.Engine
	publisher events.Publisher
	log       logger.Logger
}

// NewRunner validates config and wires the pipeline.
func NewRunner(config *Config, deps Dependencies) (*Runner, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ingest", config, err)
	}

	required := []struct {
		name    string
		present bool
	}{
		{"source", deps.Source != nil},
		{"extractor", deps.Extractor != nil},
		{"journal", deps.Journal != nil},
		{"workbook", deps.Workbook != nil},
		{"writer", deps.Writer != nil},
	}
	for _, dep := range required {
		if !dep.present {
			return nil, errors.ConfigurationError(errors.CodeMissingConfig, "ingest."+dep.name, nil, nil).
				WithSuggestion("Provide a " + dep.name + " to the ingest runner")
		}
	}

	if deps.Ledger == nil {
		deps.Ledger = ledger.DefaultConfig()
	}
	if err := deps.Ledger.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ledger", deps.Ledger, err)
	}
	if deps.Balance == nil {
		deps.Balance = balance.DefaultConfig()
	}
	if err := deps.Balance.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "balance", deps.Balance, err)
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.GetGlobalLogger()
	}

	resolver := ledger.NewResolver(deps.Ledger)
	return &Runner{
		config:    config,
		source:    deps.Source,
		extractor: deps.Extractor,
		journal:   deps.Journal,
		wb:        deps.Workbook,
		writer:    deps.Writer,
		ledgerCfg: deps.Ledger,
		directory: ledger.NewDirectory(deps.Workbook, deps.Ledger),
		resolver:  resolver,
		engine:    balance.NewEngine(deps.Balance, resolver),
		publisher: deps.Publisher,
		log:       deps.Logger.WithComponent("ingest"),
	}, nil
}

// runState is the per-run bookkeeping. Tenant ledgers are loaded once and
// kept in memory for the rest of the run.
type runState struct {
	*Runner
	summary  *RunSummary
	failures *errors.FailureCollector
	log      logger.Logger
	sheets   map[string]string
	ledgers  map[string]*ledger.TenantLedger
	failed   map[string]error

	// sharedJournal is set when the journal lives in the ledger workbook and
	// the flush after Post saves both.
	sharedJournal bool
}

// Run processes the unread notifications once. The returned summary is
// never nil; err is set when the run could not start or stopped early.
func (r *Runner) Run(ctx context.Context) (summary *RunSummary, err error) {
	summary = &RunSummary{
		RunID:        uuid.NewString(),
		StartedAt:    time.Now(),
		DryRun:       r.config.DryRun,
		AmountPosted: decimal.Zero,
	}
	st := &runState{
		Runner:   r,
		summary:  summary,
		failures: errors.NewFailureCollector(r.config.MaxFailures),
		log:      r.log.WithField("run_id", summary.RunID),
		sheets:   make(map[string]string),
		ledgers:  make(map[string]*ledger.TenantLedger),
		failed:   make(map[string]error),

		sharedJournal: journal.SharesWorkbook(r.journal),
	}

	op := logger.NewOperationLogger("ingest", st.log).
		WithField("query", r.config.Query).
		WithField("dry_run", r.config.DryRun)
	before := r.extractor.Stats()
	defer func() {
		after := r.extractor.Stats()
		summary.Extraction = extractor.Stats{
			Attempted: after.Attempted - before.Attempted,
			Extracted: after.Extracted - before.Extracted,
			Failed:    after.Failed - before.Failed,
		}
		summary.Failures = st.failures.Failures()
		summary.sortTenants()
		summary.FinishedAt = time.Now()
		if err != nil {
			op.Error(err, "Ingest run stopped")
			return
		}
		op.Success("Ingest run completed", logger.Fields{
			"posted":     summary.Posted,
			"duplicates": summary.Duplicates,
			"skipped":    summary.Skipped,
			"failed":     summary.Failed,
		})
	}()

	op.Step("search")
	messages, err := r.source.Search(ctx, r.config.Query, r.config.MaxMessages)
	if err != nil {
		summary.StopReason = "mail search failed"
		return summary, errors.WrapIfNeeded(err, errors.CategoryMail, errors.CodeMailboxUnavailable, "mail search failed")
	}
	summary.Messages = len(messages)
	st.log.WithField("messages", len(messages)).Info("Found candidate notifications")

	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "ingest",
		Total:     int64(len(messages)),
		Logger:    st.log,
	})

	op.Step("post")
	for _, msg := range messages {
		if ctxErr := ctx.Err(); ctxErr != nil {
			summary.StopReason = "cancelled"
			progress.Complete(ctxErr)
			return summary, ctxErr
		}
		if stop := st.process(ctx, msg); stop != nil {
			progress.Complete(stop)
			return summary, stop
		}
		progress.Increment()
	}

	if err := st.flush(ctx); err != nil {
		summary.StopReason = "final flush failed"
		progress.Complete(err)
		return summary, err
	}
	progress.Complete(nil)
	return summary, nil
}

// process handles one message. The returned error stops the run.
func (st *runState) process(ctx context.Context, msg mailsource.Message) error {
	log := st.log.WithField("message_id", msg.ID)

	payment, err := st.extractor.Extract(msg.Body)
	if err == nil {
		if verr := payment.Validate(); verr != nil {
			err = errors.ExtractionFailure(errors.CodeUnrecognizedNotification, msg.Body, verr)
		}
	}
	if err != nil {
		st.summary.Skipped++
		log.WithError(err).Info("Message is not a payment notification, skipped")
		return nil
	}
	log = log.WithFields(logger.Fields{
		"reference":    payment.Reference,
		"account_code": strings.ToUpper(payment.AccountCode),
	})

	processed, err := st.journal.IsProcessed(ctx, payment.Reference)
	if err != nil {
		return st.failMessage(msg, "", err)
	}
	if processed {
		st.summary.Duplicates++
		log.Debug("Reference already posted")
		st.markRead(ctx, msg.ID, log)
		return nil
	}

	code := strings.ToUpper(strings.TrimSpace(payment.AccountCode))
	tl, tenant, err := st.ledgerFor(ctx, code)
	if err != nil {
		return st.failMessage(msg, code, err)
	}

	month := st.resolver.PeriodOf(payment.PaidAt)
	entry := models.NewHistoryEntry(payment, tl.Sheet, month.String())

	var applied *balance.Result
	var written *writer.WriteResult
	err = st.journal.Post(ctx, entry, func(ctx context.Context) error {
		applied = st.engine.Apply(tl, payment)
		if applied.AlreadyApplied {
			log.WithField("sheet", tl.Sheet).Warn("Reference already on the ledger, claiming it without posting again")
			return nil
		}
		var werr error
		written, werr = st.writer.Apply(ctx, tl, applied.Touched, ledger.ScopePayment)
		if werr != nil {
			return werr
		}
		if st.sharedJournal {
			return nil
		}
		return st.flush(ctx)
	})
	switch {
	case errors.IsDuplicateReference(err):
		st.summary.Duplicates++
		log.Debug("Reference posted concurrently, skipped")
		st.markRead(ctx, msg.ID, log)
		return nil
	case err != nil && applied == nil:
		// The journal failed before the ledger was touched.
		return st.failMessage(msg, "", err)
	case err != nil:
		// The in-memory ledger no longer matches the sheet.
		delete(st.ledgers, tl.Sheet)
		return st.failMessage(msg, code, err)
	}
	if err := st.flush(ctx); err != nil {
		return st.failMessage(msg, code, err)
	}

	st.summary.Posted++
	st.summary.AmountPosted = st.summary.AmountPosted.Add(payment.Amount)
	st.summary.CarryRows += len(applied.CarryRows)

	last := tl.Rows[len(tl.Rows)-1]
	tenant.Payments++
	tenant.Amount = tenant.Amount.Add(payment.Amount)
	tenant.CarryRows += len(applied.CarryRows)
	tenant.Balance = last.Balance
	if written != nil {
		tenant.RowsWritten += written.RowsWritten
		tenant.CellsWritten += written.CellsWritten
		tenant.Retries += written.Retries
		tenant.SortFailures += written.SortFailures
	}

	log.WithFields(logger.Fields{
		"sheet":      tl.Sheet,
		"month":      applied.Row.MonthLabel,
		"amount":     payment.Amount.StringFixed(2),
		"paid_total": applied.Row.AmountPaid.StringFixed(2),
		"penalty":    applied.Row.Penalty.StringFixed(2),
		"balance":    applied.Row.Balance.StringFixed(2),
		"new_row":    applied.Created,
		"carry_rows": len(applied.CarryRows),
	}).Info("Payment posted")

	st.publish(ctx, payment, tl, applied, log)
	st.markRead(ctx, msg.ID, log)
	return st.throttle(ctx)
}

// ledgerFor resolves and loads the tenant ledger for code, creating the
// sheet when auto-create is on.
func (st *runState) ledgerFor(ctx context.Context, code string) (*ledger.TenantLedger, *TenantResult, error) {
	if err, failed := st.failed[code]; failed {
		return nil, nil, err
	}

	sheet, known := st.sheets[code]
	if !known {
		var created bool
		err := st.writer.Do(ctx, "find tenant "+code, func() error {
			var err error
			sheet, created, err = st.directory.Ensure(ctx, code)
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		st.sheets[code] = sheet
		if created {
			st.summary.tenant(sheet, code).Created = true
			st.log.WithFields(logger.Fields{"account_code": code, "sheet": sheet}).Info("Created tenant sheet")
		}
	}

	tl, loaded := st.ledgers[sheet]
	if !loaded {
		err := st.writer.Do(ctx, "load "+sheet, func() error {
			var err error
			tl, err = ledger.Load(ctx, st.wb, sheet, st.ledgerCfg)
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		st.ledgers[sheet] = tl
	}
	return tl, st.summary.tenant(sheet, code), nil
}

// failMessage records a failed message. Quota exhaustion stops the run; any
// other error on a known tenant fails that tenant for the rest of the run.
func (st *runState) failMessage(msg mailsource.Message, code string, err error) error {
	st.summary.Failed++
	item := msg.ID
	if code != "" {
		item = code + " (" + msg.ID + ")"
	}
	more := st.failures.Add(item, err)

	if errors.IsQuotaExceeded(err) {
		st.summary.StopReason = "write quota exhausted"
		st.log.WithError(err).Error("Write quota exhausted, stopping run")
		return err
	}

	if code != "" {
		if _, already := st.failed[code]; !already {
			st.failed[code] = err
			sheet := st.sheets[code]
			if sheet == "" {
				sheet = code
			}
			delete(st.ledgers, sheet)
			t := st.summary.tenant(sheet, code)
			t.Failed = true
			t.Error = err.Error()
			st.log.WithError(err).WithField("account_code", code).Warn("Tenant skipped for the rest of the run")
		}
	} else {
		st.log.WithError(err).WithField("message_id", msg.ID).Warn("Message failed")
	}

	if !more {
		st.summary.StopReason = "too many failures"
		return errors.New(errors.CategoryInternal, errors.CodeUnexpectedError, "too many failures, run stopped").
			WithContext("failures", len(st.failures.Failures()))
	}
	return nil
}

func (st *runState) publish(ctx context.Context, p *models.PaymentRecord, tl *ledger.TenantLedger, applied *balance.Result, log logger.Logger) {
	if st.config.DryRun {
		return
	}
	event := events.PaymentPosted{
		RunID:       st.summary.RunID,
		Reference:   p.Reference,
		AccountCode: strings.ToUpper(p.AccountCode),
		TenantSheet: tl.Sheet,
		Month:       applied.Row.MonthKey.String(),
		Amount:      p.Amount,
		PaidAt:      p.PaidAt,
		Balance:     applied.Row.Balance,
		Penalty:     applied.Row.Penalty,
		CarryRows:   len(applied.CarryRows),
	}
	if err := st.publisher.PublishPaymentPosted(ctx, event); err != nil {
		st.summary.EventsFailed++
		log.WithError(err).Warn("Failed to publish payment event")
	}
}

func (st *runState) markRead(ctx context.Context, id string, log logger.Logger) {
	if st.config.DryRun || !st.config.MarkRead {
		return
	}
	if err := st.source.MarkRead(ctx, id); err != nil {
		log.WithError(err).Warn("Failed to mark message read")
		return
	}
	st.summary.MarkedRead++
}

func (st *runState) flush(ctx context.Context) error {
	if st.config.DryRun {
		return nil
	}
	return st.writer.Do(ctx, "flush workbook", func() error {
		if err := st.wb.Flush(ctx); err != nil {
			return errors.StorageError(errors.CodeWriteFailed, "", err)
		}
		return nil
	})
}

func (st *runState) throttle(ctx context.Context) error {
	if st.config.DryRun || st.config.Throttle <= 0 {
		return nil
	}
	timer := time.NewTimer(st.config.Throttle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		st.summary.StopReason = "cancelled"
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
