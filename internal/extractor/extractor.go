// Package extractor turns bank notification text into payment records.
package extractor

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang-rent-ledger-service/internal/models"
	"golang-rent-ledger-service/pkg/errors"
)

const timestampLayout = "2/1/2006 3:04 PM"

var whitespace = regexp.MustCompile(`\s+`)

// Extractor matches notifications against one compiled pattern built from
// Config. It is safe for concurrent use.
type Extractor struct {
	config  *Config
	pattern *regexp.Regexp

	mu    sync.Mutex
	stats Stats
}

// Stats counts extraction outcomes.
type Stats struct {
	Attempted int `json:"attempted"`
	Extracted int `json:"extracted"`
	Failed    int `json:"failed"`
}

// String returns a human-readable summary
func (s Stats) String() string {
	return fmt.Sprintf("Extraction: %d attempted, %d extracted, %d failed", s.Attempted, s.Extracted, s.Failed)
}

// NewExtractor compiles the notification pattern for config.
func NewExtractor(config *Config) (*Extractor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "extractor", config.MarkerPhrase, err)
	}
	if config.Location == nil {
		config.Location = time.UTC
	}

	// Groups: amount, account, payer, phone, date, clock, meridiem, reference.
	expr := fmt.Sprintf(
		`(?i)payment of %s ?([\d,]+(?:\.\d{1,2})?) for account:? ?%s ?#? ?(%s) has been received from (.+?) (\S{1,13}) on (\d{1,2}/\d{1,2}/\d{4}) (\d{1,2}:\d{2}) ?([AP]M)\.? M-?Pesa Ref:? ?([A-Z0-9]{%d,%d})\b`,
		regexp.QuoteMeta(config.Currency),
		regexp.QuoteMeta(config.MarkerPhrase),
		config.AccountCodePattern,
		config.ReferenceMinLength,
		config.ReferenceMaxLength,
	)
	pattern, err := regexp.Compile(expr)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "extractor.pattern", expr, err)
	}

	return &Extractor{config: config, pattern: pattern}, nil
}

// Extract parses one notification. Text that does not look like a payment
// notification yields an extraction failure; the caller skips it.
func (e *Extractor) Extract(raw string) (*models.PaymentRecord, error) {
	record, err := e.extract(raw)

	e.mu.Lock()
	e.stats.Attempted++
	if err != nil {
		e.stats.Failed++
	} else {
		e.stats.Extracted++
	}
	e.mu.Unlock()

	return record, err
}

func (e *Extractor) extract(raw string) (*models.PaymentRecord, error) {
	text := whitespace.ReplaceAllString(strings.TrimSpace(raw), " ")

	m := e.pattern.FindStringSubmatch(text)
	if m == nil {
		return nil, errors.ExtractionFailure(errors.CodeUnrecognizedNotification, text, nil)
	}

	amount, err := models.ParseDecimalFromString(m[1])
	if err != nil || !amount.IsPositive() {
		return nil, errors.ExtractionFailure(errors.CodeInvalidAmount, text, err)
	}

	stamp := fmt.Sprintf("%s %s %s", m[5], m[6], strings.ToUpper(m[7]))
	paidAt, err := time.ParseInLocation(timestampLayout, stamp, e.config.Location)
	if err != nil {
		return nil, errors.ExtractionFailure(errors.CodeInvalidTimestamp, text, err)
	}

	return &models.PaymentRecord{
		Amount:           amount,
		PayerName:        strings.TrimSpace(m[3]),
		PayerPhoneMasked: m[4],
		PaidAt:           paidAt,
		AccountCode:      m[2],
		Reference:        strings.ToUpper(m[8]),
	}, nil
}

// Stats returns a snapshot of the extraction counters.
func (e *Extractor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
