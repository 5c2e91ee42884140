package ledger

import (
	"context"
	stderrors "errors"
	"strings"

	"golang-rent-ledger-service/internal/storage"
	"golang-rent-ledger-service/pkg/errors"
)

// Directory maps account codes to tenant sheets.
type Directory struct {
	wb     storage.Workbook
	config *Config
}

// NewDirectory creates a directory over wb.
func NewDirectory(wb storage.Workbook, config *Config) *Directory {
	if config == nil {
		config = DefaultConfig()
	}
	return &Directory{wb: wb, config: config}
}

// TenantSheets lists every sheet that is not a bookkeeping sheet.
func (d *Directory) TenantSheets(ctx context.Context) ([]string, error) {
	titles, err := d.wb.SheetTitles(ctx)
	if err != nil {
		return nil, errors.StorageError(errors.CodeReadFailed, "", err)
	}
	var tenants []string
	for _, title := range titles {
		if !d.config.IsMetaSheet(title) {
			tenants = append(tenants, title)
		}
	}
	return tenants, nil
}

// Find returns the first tenant sheet whose title starts with code followed
// by the end of the title or a non-alphanumeric character, so "B3 - Rama"
// matches B3 but "B31" does not.
func (d *Directory) Find(ctx context.Context, code string) (string, bool, error) {
	sheets, err := d.TenantSheets(ctx)
	if err != nil {
		return "", false, err
	}
	for _, title := range sheets {
		if MatchesAccount(title, code) {
			return title, true, nil
		}
	}
	return "", false, nil
}

// Ensure finds the sheet for code, creating "<CODE> - AutoAdded" with the
// canonical header when auto-create is enabled.
func (d *Directory) Ensure(ctx context.Context, code string) (string, bool, error) {
	title, ok, err := d.Find(ctx, code)
	if err != nil || ok {
		return title, false, err
	}
	if !d.config.AutoCreate {
		return "", false, errors.LedgerStructureError(errors.CodeTenantNotFound, "", "no tenant sheet for account code").
			WithContext("account_code", strings.ToUpper(code)).
			WithSuggestion("add a sheet named after the account code or enable auto-create")
	}

	title = strings.ToUpper(strings.TrimSpace(code)) + d.config.AutoCreateSuffix
	if err := d.wb.AddSheet(ctx, title, CanonicalHeader()); err != nil {
		if stderrors.Is(err, storage.ErrSheetExists) {
			return title, false, nil
		}
		return "", false, errors.StorageError(errors.CodeSheetMissing, title, err)
	}
	return title, true, nil
}

// MatchesAccount reports whether a sheet title belongs to account code.
func MatchesAccount(title, code string) bool {
	title = strings.ToUpper(strings.TrimSpace(title))
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || !strings.HasPrefix(title, code) {
		return false
	}
	return len(title) == len(code) || !isAlnum(title[len(code)])
}
