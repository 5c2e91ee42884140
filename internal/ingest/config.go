package ingest

import (
	"fmt"
	"time"
)

// DefaultQuery selects M-Pesa notifications for the paybill account.
const DefaultQuery = "PAYLEMAIYAN"

// Config holds the options of one ingest run.
type Config struct {
	// Query is passed to the mail source search.
	Query string `json:"query"`

	// MaxMessages bounds how many messages one run scans.
	MaxMessages int `json:"max_messages"`

	// MarkRead flags posted and already-posted messages as read.
	MarkRead bool `json:"mark_read"`

	// Throttle is the pause after each posted payment.
	Throttle time.Duration `json:"throttle"`

	// DryRun computes and reports without marking mail, flushing the
	// workbook or publishing events. Callers pass a snapshot workbook and an
	// overlay journal so nothing persists.
	DryRun bool `json:"dry_run"`

	// MaxFailures stops the run after this many failed messages. Zero means
	// no limit.
	MaxFailures int `json:"max_failures"`
}

// DefaultConfig returns 200 messages, mark-as-read on and a 250ms throttle.
func DefaultConfig() *Config {
	return &Config{
		Query:       DefaultQuery,
		MaxMessages: 200,
		MarkRead:    true,
		Throttle:    250 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MaxMessages < 1 {
		return fmt.Errorf("max messages must be at least 1, got %d", c.MaxMessages)
	}
	if c.Throttle < 0 {
		return fmt.Errorf("throttle cannot be negative, got %v", c.Throttle)
	}
	if c.MaxFailures < 0 {
		return fmt.Errorf("max failures cannot be negative, got %d", c.MaxFailures)
	}
	return nil
}
