package mailsource

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const multipartMessage = "From: M-PESA <alerts@safaricom.example>\r\n" +
	"Subject: =?UTF-8?Q?Payment_received?=\r\n" +
	"Date: Fri, 12 Sep 2025 21:31:00 +0000\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"Your M-Pesa payment of KES 12,000.00 for account: PAYLEMAIYAN #b3 has been =\r\n" +
	"received from RAMA MWANGI 071****111 on 12/09/2025 09:30 PM. M-Pesa Ref: ABCD123456\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>ignored when plain text exists</p>\r\n" +
	"--b1--\r\n"

const htmlOnlyMessage = "From: alerts@safaricom.example\r\n" +
	"Subject: Payment received\r\n" +
	"Date: Sat, 13 Sep 2025 08:00:00 +0000\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n"

func htmlOnly() string {
	body := "<html><style>p{}</style><body><p>Payment of KES 1,500.00&nbsp;for account</p><br>Ref: QWER5678TY</body></html>"
	encoded := base64Lines(body)
	return htmlOnlyMessage + encoded
}

func base64Lines(s string) string {
	enc := base64.StdEncoding.EncodeToString([]byte(s))
	var lines []string
	for len(enc) > 40 {
		lines = append(lines, enc[:40])
		enc = enc[40:]
	}
	lines = append(lines, enc)
	return strings.Join(lines, "\r\n") + "\r\n"
}

func TestParseMessage_PrefersPlainText(t *testing.T) {
	msg, err := ParseMessage("m1", []byte(multipartMessage))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Subject != "Payment received" {
		t.Errorf("expected decoded subject, got %q", msg.Subject)
	}
	if msg.From != "alerts@safaricom.example" {
		t.Errorf("expected bare sender address, got %q", msg.From)
	}
	if !msg.Date.Equal(time.Date(2025, 9, 12, 21, 31, 0, 0, time.UTC)) {
		t.Errorf("unexpected date %v", msg.Date)
	}
	if !strings.Contains(msg.Body, "has been received from RAMA MWANGI") {
		t.Errorf("expected soft line break to be joined, got %q", msg.Body)
	}
	if strings.Contains(msg.Body, "ignored") {
		t.Errorf("expected html alternative to be ignored, got %q", msg.Body)
	}
}

func TestParseMessage_HTMLOnly(t *testing.T) {
	msg, err := ParseMessage("m2", []byte(htmlOnly()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Payment of KES 1,500.00 for account\nRef: QWER5678TY"
	if msg.Body != want {
		t.Errorf("expected %q, got %q", want, msg.Body)
	}
}

func TestMatches(t *testing.T) {
	m := Message{From: "alerts@safaricom.example", Subject: "Payment received", Body: "for account: PAYLEMAIYAN #b3"}

	tests := []struct {
		query string
		want  bool
	}{
		{"", true},
		{"paylemaiyan", true},
		{"from:safaricom PAYLEMAIYAN", true},
		{"from:bank paylemaiyan", false},
		{"paylemaiyan refund", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if got := Matches(m, tt.query); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestDirSource(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	src, err := NewDirSource(root, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(root, "new", name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("b.eml", htmlOnly())
	write("a.eml", multipartMessage)
	write("junk.eml", "not a message")
	write(".hidden", multipartMessage)

	msgs, err := src.Search(ctx, "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 parseable messages, got %d", len(msgs))
	}
	if msgs[0].ID != "a.eml" || msgs[1].ID != "b.eml" {
		t.Errorf("expected oldest first, got %s then %s", msgs[0].ID, msgs[1].ID)
	}

	limited, err := src.Search(ctx, "", 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d (%v)", len(limited), err)
	}

	if err := src.MarkRead(ctx, "a.eml"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "cur", "a.eml:2,S")); err != nil {
		t.Errorf("expected message moved to cur/: %v", err)
	}
	msgs, _ = src.Search(ctx, "", 0)
	if len(msgs) != 1 || msgs[0].ID != "b.eml" {
		t.Errorf("expected only the unread message, got %v", msgs)
	}

	if err := src.MarkRead(ctx, "../escape"); err == nil {
		t.Error("expected path traversal to be rejected")
	}
}

func TestMemorySource(t *testing.T) {
	ctx := context.Background()
	src := NewMemorySource(
		Message{ID: "2", Date: time.Date(2025, 9, 2, 0, 0, 0, 0, time.UTC), Body: "PAYLEMAIYAN b"},
		Message{ID: "1", Date: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), Body: "PAYLEMAIYAN a"},
		Message{ID: "3", Date: time.Date(2025, 9, 3, 0, 0, 0, 0, time.UTC), Body: "newsletter"},
	)

	msgs, _ := src.Search(ctx, "paylemaiyan", 0)
	if len(msgs) != 2 || msgs[0].ID != "1" {
		t.Fatalf("unexpected search result %v", msgs)
	}
	src.MarkRead(ctx, "1")
	if !src.IsRead("1") {
		t.Error("expected message 1 to be read")
	}
	msgs, _ = src.Search(ctx, "paylemaiyan", 0)
	if len(msgs) != 1 || msgs[0].ID != "2" {
		t.Errorf("unexpected search result after mark read %v", msgs)
	}
}
