package mailsource

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"golang-rent-ledger-service/pkg/errors"
	"golang-rent-ledger-service/pkg/logger"
)

// DirSource reads messages from a maildir-style directory. Files in new/
// are unread; MarkRead moves them to cur/.
type DirSource struct {
	root string
	log  logger.Logger
}

var _ Source = (*DirSource)(nil)

// NewDirSource opens root, creating new/ and cur/ when missing.
func NewDirSource(root string, log logger.Logger) (*DirSource, error) {
	if log == nil {
		log = logger.Nop()
	}
	for _, sub := range []string{"new", "cur"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, errors.MailError(errors.CodeMailboxUnavailable, root, err)
		}
	}
	return &DirSource{root: root, log: log.WithComponent("mailsource")}, nil
}

// Search parses every file in new/. Unparseable files are logged and
// skipped so one bad message does not block the mailbox.
func (s *DirSource) Search(ctx context.Context, query string, limit int) ([]Message, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "new"))
	if err != nil {
		return nil, errors.MailError(errors.CodeMailboxUnavailable, s.root, err)
	}

	var out []Message
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(s.root, "new", entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			s.log.WithError(err).WithField("file", entry.Name()).Warn("unreadable message skipped")
			continue
		}
		msg, err := ParseMessage(entry.Name(), raw)
		if err != nil {
			s.log.WithError(errors.MailError(errors.CodeMessageUnreadable, entry.Name(), err)).Warn("malformed message skipped")
			continue
		}
		if msg.Date.IsZero() {
			if info, err := entry.Info(); err == nil {
				msg.Date = info.ModTime()
			}
		}
		if Matches(msg, query) {
			out = append(out, msg)
		}
	}
	return sortAndLimit(out, limit), nil
}

// MarkRead moves the message file from new/ to cur/ with the maildir seen
// flag.
func (s *DirSource) MarkRead(ctx context.Context, id string) error {
	if id != filepath.Base(id) {
		return errors.MailError(errors.CodeMessageUnreadable, id, os.ErrInvalid)
	}
	from := filepath.Join(s.root, "new", id)
	to := filepath.Join(s.root, "cur", id+":2,S")
	if err := os.Rename(from, to); err != nil {
		return errors.MailError(errors.CodeMailboxUnavailable, id, err)
	}
	return nil
}
