package mailsource

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"regexp"
	"strings"
)

var (
	htmlBreaks  = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/tr|/li)[^>]*>`)
	htmlBlocks  = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlTags    = regexp.MustCompile(`(?s)<[^>]*>`)
	blankSpaces = regexp.MustCompile(`[ \t\r\f\v]+`)
)

// ParseMessage decodes a raw RFC 5322 message. The text/plain part is
// preferred; an HTML-only message is reduced to its text.
func ParseMessage(id string, raw []byte) (Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return Message{}, fmt.Errorf("read message: %w", err)
	}

	decoder := new(mime.WordDecoder)
	subject, err := decoder.DecodeHeader(msg.Header.Get("Subject"))
	if err != nil {
		subject = msg.Header.Get("Subject")
	}
	from := msg.Header.Get("From")
	if addr, err := mail.ParseAddress(from); err == nil {
		from = addr.Address
	}
	date, _ := msg.Header.Date()

	plain, htmlText, err := readPart(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return Message{}, err
	}
	body := plain
	if strings.TrimSpace(body) == "" {
		body = StripHTML(htmlText)
	}

	return Message{ID: id, From: from, Subject: subject, Date: date, Body: strings.TrimSpace(body)}, nil
}

// readPart returns the first text/plain and text/html contents found in a
// (possibly nested multipart) body.
func readPart(contentType, encoding string, body io.Reader) (string, string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || contentType == "" {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		var plain, htmlText string
		mr := multipart.NewReader(body, params["boundary"])
		for {
			part, err := mr.NextRawPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", "", fmt.Errorf("read multipart: %w", err)
			}
			p, h, err := readPart(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), part)
			if err != nil {
				return "", "", err
			}
			if plain == "" {
				plain = p
			}
			if htmlText == "" {
				htmlText = h
			}
		}
		return plain, htmlText, nil
	}

	data, err := io.ReadAll(decodeTransfer(encoding, body))
	if err != nil {
		return "", "", fmt.Errorf("decode body: %w", err)
	}
	switch mediaType {
	case "text/html":
		return "", string(data), nil
	case "text/plain":
		return string(data), "", nil
	}
	return "", "", nil
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, &newlineStripper{r: r})
	}
	return r
}

// newlineStripper drops line breaks so wrapped base64 decodes.
type newlineStripper struct{ r io.Reader }

func (n *newlineStripper) Read(p []byte) (int, error) {
	count, err := n.r.Read(p)
	out := p[:0]
	for _, b := range p[:count] {
		if b != '\r' && b != '\n' {
			out = append(out, b)
		}
	}
	return len(out), err
}

// StripHTML reduces markup to text, keeping line structure.
func StripHTML(s string) string {
	s = htmlBlocks.ReplaceAllString(s, "")
	s = htmlBreaks.ReplaceAllString(s, "\n")
	s = htmlTags.ReplaceAllString(s, "")
	s = strings.ReplaceAll(html.UnescapeString(s), "\u00a0", " ")
	s = blankSpaces.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
