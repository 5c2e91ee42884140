// Package mailsource supplies bank notification messages to the ingest run.
//
// The hosted mailbox is represented by the Source interface. DirSource reads
// a maildir-style directory where unread messages live in new/ and are moved
// to cur/ once marked read; MemorySource serves tests and dry runs.
package mailsource

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Message is one notification with its body decoded to plain text.
type Message struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
	Body    string    `json:"body"`
}

// Source is a mailbox of notifications.
type Source interface {
	// Search returns unread messages matching query, oldest first, at most
	// limit of them (no limit when limit <= 0).
	Search(ctx context.Context, query string, limit int) ([]Message, error)

	// MarkRead flags a message so later searches skip it.
	MarkRead(ctx context.Context, id string) error
}

// Matches reports whether m satisfies query. Terms are whitespace separated
// and must all appear, case-insensitively, in the sender, subject or body.
// A "from:" prefix restricts a term to the sender.
func Matches(m Message, query string) bool {
	from := strings.ToLower(m.From)
	text := strings.ToLower(m.From + "\n" + m.Subject + "\n" + m.Body)
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if strings.HasPrefix(term, "from:") {
			if !strings.Contains(from, strings.TrimPrefix(term, "from:")) {
				return false
			}
			continue
		}
		if !strings.Contains(text, term) {
			return false
		}
	}
	return true
}

func sortAndLimit(msgs []Message, limit int) []Message {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Date.Before(msgs[j].Date) })
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs
}

// MemorySource holds messages in memory.
type MemorySource struct {
	mu       sync.Mutex
	messages []Message
	read     map[string]bool
}

var _ Source = (*MemorySource)(nil)

// NewMemorySource creates a source with the given unread messages.
func NewMemorySource(messages ...Message) *MemorySource {
	return &MemorySource{messages: messages, read: make(map[string]bool)}
}

// Add queues another unread message.
func (s *MemorySource) Add(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

// IsRead reports whether id was marked read.
func (s *MemorySource) IsRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read[id]
}

func (s *MemorySource) Search(ctx context.Context, query string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.messages {
		if !s.read[m.ID] && Matches(m, query) {
			out = append(out, m)
		}
	}
	return sortAndLimit(out, limit), nil
}

func (s *MemorySource) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.read[id] = true
	return nil
}
