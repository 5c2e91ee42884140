package journal

import (
	"context"
	"sync"

	"golang-rent-ledger-service/internal/models"
	"golang-rent-ledger-service/pkg/errors"
)

// MemoryJournal keeps references and history in memory. It backs dry runs
// and tests.
type MemoryJournal struct {
	mu      sync.Mutex
	refs    map[string]bool
	history []models.PaymentHistoryEntry
}

var _ Journal = (*MemoryJournal)(nil)

// NewMemoryJournal creates an empty journal, optionally pre-seeded with
// processed references.
func NewMemoryJournal(processed ...string) *MemoryJournal {
	j := &MemoryJournal{refs: make(map[string]bool)}
	for _, ref := range processed {
		j.refs[normalizeRef(ref)] = true
	}
	return j
}

func (j *MemoryJournal) IsProcessed(ctx context.Context, ref string) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.refs[normalizeRef(ref)], nil
}

func (j *MemoryJournal) MarkProcessed(ctx context.Context, ref string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.refs[normalizeRef(ref)] = true
	return nil
}

func (j *MemoryJournal) Post(ctx context.Context, entry models.PaymentHistoryEntry, apply ApplyFunc) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	ref := normalizeRef(entry.Reference)
	if j.refs[ref] {
		return errors.DuplicateReference(ref)
	}
	if apply != nil {
		if err := apply(ctx); err != nil {
			return err
		}
	}
	j.refs[ref] = true
	j.history = append(j.history, entry)
	return nil
}

func (j *MemoryJournal) History(ctx context.Context) ([]models.PaymentHistoryEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.PaymentHistoryEntry(nil), j.history...), nil
}

func (j *MemoryJournal) Close() error { return nil }

// Overlay layers in-memory posting over a read-only base journal. References
// processed in base stay processed; new posts never reach base. Dry runs use
// it so a SQL or workbook journal is left untouched.
type Overlay struct {
	base  Journal
	local *MemoryJournal
}

var _ Journal = (*Overlay)(nil)

// NewOverlay wraps base.
func NewOverlay(base Journal) *Overlay {
	return &Overlay{base: base, local: NewMemoryJournal()}
}

func (o *Overlay) IsProcessed(ctx context.Context, ref string) (bool, error) {
	if ok, _ := o.local.IsProcessed(ctx, ref); ok {
		return true, nil
	}
	return o.base.IsProcessed(ctx, ref)
}

func (o *Overlay) MarkProcessed(ctx context.Context, ref string) error {
	return o.local.MarkProcessed(ctx, ref)
}

func (o *Overlay) Post(ctx context.Context, entry models.PaymentHistoryEntry, apply ApplyFunc) error {
	done, err := o.base.IsProcessed(ctx, entry.Reference)
	if err != nil {
		return err
	}
	if done {
		return errors.DuplicateReference(normalizeRef(entry.Reference))
	}
	return o.local.Post(ctx, entry, apply)
}

// History returns base history followed by the entries posted through the
// overlay.
func (o *Overlay) History(ctx context.Context) ([]models.PaymentHistoryEntry, error) {
	history, err := o.base.History(ctx)
	if err != nil {
		return nil, err
	}
	local, _ := o.local.History(ctx)
	return append(history, local...), nil
}

// Close closes the base journal.
func (o *Overlay) Close() error { return o.base.Close() }
