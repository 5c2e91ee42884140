package extractor

import (
	"strings"
	"testing"
	"time"

	"golang-rent-ledger-service/pkg/errors"

	"github.com/shopspring/decimal"
)

const sampleNotification = "Your M-Pesa payment of KES 12,000.00 for account: PAYLEMAIYAN #b3 has been received from RAMA MWANGI 071****111 on 12/09/2025 09:30 PM. M-Pesa Ref: ABCD123456"

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := NewExtractor(DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create extractor: %v", err)
	}
	return e
}

func TestExtract_Example(t *testing.T) {
	e := newTestExtractor(t)

	record, err := e.Extract(sampleNotification)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !record.Amount.Equal(decimal.RequireFromString("12000.00")) {
		t.Errorf("expected amount 12000.00, got %s", record.Amount)
	}
	if record.AccountCode != "b3" {
		t.Errorf("expected account code 'b3', got '%s'", record.AccountCode)
	}
	if record.Reference != "ABCD123456" {
		t.Errorf("expected reference 'ABCD123456', got '%s'", record.Reference)
	}
	expected := time.Date(2025, 9, 12, 21, 30, 0, 0, time.UTC)
	if !record.PaidAt.Equal(expected) {
		t.Errorf("expected paid_at %v, got %v", expected, record.PaidAt)
	}
	if record.PayerName != "RAMA MWANGI" {
		t.Errorf("expected payer 'RAMA MWANGI', got '%s'", record.PayerName)
	}
	if record.PayerPhoneMasked != "071****111" {
		t.Errorf("expected phone '071****111', got '%s'", record.PayerPhoneMasked)
	}
	if err := record.Validate(); err != nil {
		t.Errorf("extracted record should be valid: %v", err)
	}
}

func TestExtract_Variants(t *testing.T) {
	e := newTestExtractor(t)

	tests := []struct {
		name      string
		text      string
		amount    string
		account   string
		reference string
		paidAt    time.Time
	}{
		{
			name:      "lowercase everything",
			text:      strings.ToLower(sampleNotification),
			amount:    "12000",
			account:   "b3",
			reference: "ABCD123456",
			paidAt:    time.Date(2025, 9, 12, 21, 30, 0, 0, time.UTC),
		},
		{
			name:      "no hash and upper code",
			text:      "payment of KES 1,500.50 for account: PAYLEMAIYAN A12 has been received from JANE 0722***333 on 01/10/2025 7:05 AM. M-Pesa Ref: qwer5678ty",
			amount:    "1500.50",
			account:   "A12",
			reference: "QWER5678TY",
			paidAt:    time.Date(2025, 10, 1, 7, 5, 0, 0, time.UTC),
		},
		{
			name:      "line wrapped body",
			text:      "Your M-Pesa payment of KES 30,000.00\nfor account: PAYLEMAIYAN #C1 has been received\r\nfrom JOHN PETER OTIENO 254712***678 on 28/02/2025 11:59 PM.\n M-Pesa Ref: ZXCV0987PL",
			amount:    "30000",
			account:   "C1",
			reference: "ZXCV0987PL",
			paidAt:    time.Date(2025, 2, 28, 23, 59, 0, 0, time.UTC),
		},
		{
			name:      "no space before meridiem",
			text:      "payment of KES 900.00 for account: PAYLEMAIYAN#d4 has been received from AMOS 07****12 on 5/3/2025 12:00PM. M-Pesa Ref: AAAA111122",
			amount:    "900",
			account:   "d4",
			reference: "AAAA111122",
			paidAt:    time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record, err := e.Extract(tt.text)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !record.Amount.Equal(decimal.RequireFromString(tt.amount)) {
				t.Errorf("expected amount %s, got %s", tt.amount, record.Amount)
			}
			if record.AccountCode != tt.account {
				t.Errorf("expected account %s, got %s", tt.account, record.AccountCode)
			}
			if record.Reference != tt.reference {
				t.Errorf("expected reference %s, got %s", tt.reference, record.Reference)
			}
			if !record.PaidAt.Equal(tt.paidAt) {
				t.Errorf("expected paid_at %v, got %v", tt.paidAt, record.PaidAt)
			}
		})
	}
}

func TestExtract_Deterministic(t *testing.T) {
	e := newTestExtractor(t)

	first, err := e.Extract(sampleNotification)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := e.Extract(sampleNotification)
		if err != nil {
			t.Fatalf("unexpected error on run %d: %v", i, err)
		}
		if again.String() != first.String() || again.PayerPhoneMasked != first.PayerPhoneMasked {
			t.Fatalf("expected identical records, got %v and %v", first, again)
		}
	}
}

func TestExtract_Failures(t *testing.T) {
	e := newTestExtractor(t)

	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"newsletter", "Your monthly statement is ready. Log in to view it."},
		{"wrong marker", strings.Replace(sampleNotification, "PAYLEMAIYAN", "OTHERBILL", 1)},
		{"short reference", strings.Replace(sampleNotification, "ABCD123456", "BIGPAY999", 1)},
		{"missing timestamp", strings.Replace(sampleNotification, "12/09/2025 09:30 PM", "yesterday", 1)},
		{"impossible date", strings.Replace(sampleNotification, "12/09/2025", "31/02/2025", 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record, err := e.Extract(tt.text)
			if err == nil {
				t.Fatalf("expected extraction failure, got %v", record)
			}
			if !errors.IsExtractionFailure(err) {
				t.Errorf("expected an extraction failure, got %v", err)
			}
		})
	}

	stats := e.Stats()
	if stats.Failed != len(tests) || stats.Extracted != 0 {
		t.Errorf("unexpected stats: %s", stats)
	}
}

func TestExtract_CustomConfig(t *testing.T) {
	config := DefaultConfig()
	config.MarkerPhrase = "BLOCKA"
	config.ReferenceMinLength = 8
	config.ReferenceMaxLength = 12
	nairobi := time.FixedZone("EAT", 3*60*60)
	config.Location = nairobi

	e, err := NewExtractor(config)
	if err != nil {
		t.Fatalf("failed to create extractor: %v", err)
	}

	text := "payment of KES 5,000.00 for account: BLOCKA #b2 has been received from ANN 07***1 on 02/01/2025 08:00 AM. M-Pesa Ref: BIGPAY999"
	record, err := e.Extract(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Reference != "BIGPAY999" {
		t.Errorf("expected 9 char reference, got %s", record.Reference)
	}
	if !record.PaidAt.Equal(time.Date(2025, 1, 2, 5, 0, 0, 0, time.UTC)) {
		t.Errorf("expected EAT timestamp to be 05:00 UTC, got %v", record.PaidAt.UTC())
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{"default", func(c *Config) {}, false},
		{"empty marker", func(c *Config) { c.MarkerPhrase = " " }, true},
		{"empty currency", func(c *Config) { c.Currency = "" }, true},
		{"bad pattern", func(c *Config) { c.AccountCodePattern = "([" }, true},
		{"zero min", func(c *Config) { c.ReferenceMinLength = 0 }, true},
		{"max below min", func(c *Config) { c.ReferenceMaxLength = 5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
