package extractor

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Config describes the shape of the payment notifications to accept.
type Config struct {
	// MarkerPhrase precedes the account code, e.g. "PAYLEMAIYAN #B3".
	MarkerPhrase string `json:"marker_phrase"`

	// Currency is the token in front of the amount.
	Currency string `json:"currency"`

	// AccountCodePattern matches the tenant code after the marker phrase.
	AccountCodePattern string `json:"account_code_pattern"`

	// ReferenceMinLength and ReferenceMaxLength bound the reference token.
	ReferenceMinLength int `json:"reference_min_length"`
	ReferenceMaxLength int `json:"reference_max_length"`

	// Location is used to turn the notification's local timestamp into an
	// absolute time.
	Location *time.Location `json:"-"`
}

// DefaultConfig returns the configuration for M-Pesa paybill notifications.
func DefaultConfig() *Config {
	return &Config{
		MarkerPhrase:       "PAYLEMAIYAN",
		Currency:           "KES",
		AccountCodePattern: `[A-Za-z]\d{1,2}`,
		ReferenceMinLength: 10,
		ReferenceMaxLength: 10,
		Location:           time.UTC,
	}
}

// Validate validates the extractor configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.MarkerPhrase) == "" {
		return fmt.Errorf("marker phrase cannot be empty")
	}
	if strings.TrimSpace(c.Currency) == "" {
		return fmt.Errorf("currency cannot be empty")
	}
	if _, err := regexp.Compile(c.AccountCodePattern); err != nil {
		return fmt.Errorf("invalid account code pattern: %w", err)
	}
	if c.ReferenceMinLength < 1 {
		return fmt.Errorf("reference min length must be positive, got %d", c.ReferenceMinLength)
	}
	if c.ReferenceMaxLength < c.ReferenceMinLength {
		return fmt.Errorf("reference max length %d is below min length %d", c.ReferenceMaxLength, c.ReferenceMinLength)
	}
	return nil
}
