package journal

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang-rent-ledger-service/internal/models"
	"golang-rent-ledger-service/pkg/errors"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

var schemas = map[string][]string{
	DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS processed_refs (
			ref TEXT PRIMARY KEY,
			processed_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS payment_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date_paid TIMESTAMP NOT NULL,
			amount_paid TEXT NOT NULL,
			reference TEXT NOT NULL UNIQUE,
			payer TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			comment TEXT NOT NULL DEFAULT '',
			account_code TEXT NOT NULL DEFAULT '',
			tenant_sheet TEXT NOT NULL DEFAULT '',
			month TEXT NOT NULL DEFAULT ''
		)`,
	},
	DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS processed_refs (
			ref TEXT PRIMARY KEY,
			processed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS payment_history (
			id BIGSERIAL PRIMARY KEY,
			date_paid TIMESTAMPTZ NOT NULL,
			amount_paid NUMERIC(14,2) NOT NULL,
			reference TEXT NOT NULL UNIQUE,
			payer TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			comment TEXT NOT NULL DEFAULT '',
			account_code TEXT NOT NULL DEFAULT '',
			tenant_sheet TEXT NOT NULL DEFAULT '',
			month TEXT NOT NULL DEFAULT ''
		)`,
	},
}

// SQLJournal keeps the journal in a SQL database. Post runs inside one
// transaction; the primary key on processed_refs makes concurrent runs
// serialize on the same reference.
type SQLJournal struct {
	db       *sql.DB
	driver   string
	location *time.Location
}

var _ Journal = (*SQLJournal)(nil)

// OpenSQL connects with driver and dsn and creates the tables when missing.
func OpenSQL(ctx context.Context, driver, dsn string, loc *time.Location) (*SQLJournal, error) {
	if _, ok := schemas[driver]; !ok {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "journal.driver", driver,
			fmt.Errorf("unsupported driver, want %s or %s", DriverSQLite, DriverPostgres))
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.StorageError(errors.CodeReadFailed, driver, err)
	}
	if driver == DriverSQLite {
		// one connection keeps :memory: databases shared and writes serialized
		db.SetMaxOpenConns(1)
	}
	j, err := NewSQLJournal(ctx, db, driver, loc)
	if err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// NewSQLJournal wraps an open database.
func NewSQLJournal(ctx context.Context, db *sql.DB, driver string, loc *time.Location) (*SQLJournal, error) {
	if loc == nil {
		loc = time.UTC
	}
	j := &SQLJournal{db: db, driver: driver, location: loc}
	for _, stmt := range schemas[driver] {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, errors.StorageError(errors.CodeWriteFailed, "schema", err)
		}
	}
	return j, nil
}

// rebind turns ? placeholders into $n for postgres.
func (j *SQLJournal) rebind(query string) string {
	if j.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (j *SQLJournal) IsProcessed(ctx context.Context, ref string) (bool, error) {
	var one int
	err := j.db.QueryRowContext(ctx, j.rebind(`SELECT 1 FROM processed_refs WHERE ref = ?`), normalizeRef(ref)).Scan(&one)
	if stderrors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.StorageError(errors.CodeReadFailed, "processed_refs", err)
	}
	return true, nil
}

func (j *SQLJournal) MarkProcessed(ctx context.Context, ref string) error {
	_, err := j.db.ExecContext(ctx,
		j.rebind(`INSERT INTO processed_refs (ref, processed_at) VALUES (?, ?) ON CONFLICT (ref) DO NOTHING`),
		normalizeRef(ref), time.Now().UTC())
	if err != nil {
		return errors.StorageError(errors.CodeWriteFailed, "processed_refs", err)
	}
	return nil
}

func (j *SQLJournal) Post(ctx context.Context, entry models.PaymentHistoryEntry, apply ApplyFunc) (err error) {
	ref := normalizeRef(entry.Reference)

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError(errors.CodeWriteFailed, "processed_refs", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		j.rebind(`INSERT INTO processed_refs (ref, processed_at) VALUES (?, ?) ON CONFLICT (ref) DO NOTHING`),
		ref, time.Now().UTC())
	if err != nil {
		return j.classify(err, ref, "processed_refs")
	}
	if claimed, _ := res.RowsAffected(); claimed == 0 {
		return errors.DuplicateReference(ref)
	}

	if apply != nil {
		if err = apply(ctx); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, j.rebind(`INSERT INTO payment_history
		(date_paid, amount_paid, reference, payer, phone, comment, account_code, tenant_sheet, month)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		entry.DatePaid.UTC(), entry.AmountPaid.StringFixed(2), ref, entry.Payer, entry.Phone,
		entry.Comment, entry.AccountCode, entry.TenantSheet, entry.Month)
	if err != nil {
		return j.classify(err, ref, "payment_history")
	}

	if err = tx.Commit(); err != nil {
		return errors.StorageError(errors.CodeWriteFailed, "processed_refs", err).WithContext("reference", ref)
	}
	return nil
}

// classify maps unique violations from either driver to DuplicateReference.
func (j *SQLJournal) classify(err error, ref, table string) error {
	var sqliteErr sqlite3.Error
	if stderrors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return errors.DuplicateReference(ref)
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) && pqErr.Code == "23505" {
		return errors.DuplicateReference(ref)
	}
	return errors.StorageError(errors.CodeWriteFailed, table, err).WithContext("reference", ref)
}

func (j *SQLJournal) History(ctx context.Context) ([]models.PaymentHistoryEntry, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT date_paid, amount_paid, reference, payer, phone, comment,
		account_code, tenant_sheet, month FROM payment_history ORDER BY id`)
	if err != nil {
		return nil, errors.StorageError(errors.CodeReadFailed, "payment_history", err)
	}
	defer rows.Close()

	var entries []models.PaymentHistoryEntry
	for rows.Next() {
		var e models.PaymentHistoryEntry
		var amount decimal.Decimal
		if err := rows.Scan(&e.DatePaid, &amount, &e.Reference, &e.Payer, &e.Phone, &e.Comment,
			&e.AccountCode, &e.TenantSheet, &e.Month); err != nil {
			return nil, errors.StorageError(errors.CodeReadFailed, "payment_history", err)
		}
		e.AmountPaid = amount
		e.DatePaid = e.DatePaid.In(j.location)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeReadFailed, "payment_history", err)
	}
	return entries, nil
}

func (j *SQLJournal) Close() error { return j.db.Close() }
