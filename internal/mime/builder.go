// Package mime renders composed messages as RFC 5322 documents and reads
// them back.
//
// Build nests parts the way mail clients expect: attachments wrap the
// content in multipart/mixed, inline images sit beside the HTML body in
// multipart/related, and a text alternative pairs with HTML in
// multipart/alternative. Single-part messages are emitted without any
// multipart wrapper.
package mime

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	gomime "mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/mail-composer/internal/email"
)

// lineLength is the maximum base64 line length per RFC 2045.
const lineLength = 76

// now is the clock used for the Date header.
var now = time.Now

// ErrNoSender is returned when a message has no From address.
var ErrNoSender = errors.New("message has no sender")

// reserved headers are produced by Build and cannot be overridden by
// custom headers.
var reserved = map[string]bool{
	"From":                      true,
	"To":                        true,
	"Cc":                        true,
	"Bcc":                       true,
	"Reply-To":                  true,
	"Subject":                   true,
	"Date":                      true,
	"Message-Id":                true,
	"Mime-Version":              true,
	"Content-Type":              true,
	"Content-Transfer-Encoding": true,
	"X-Priority":                true,
	"Importance":                true,
}

// entity is one node of the MIME tree. Leaves carry an encoded body,
// containers carry children separated by boundary.
type entity struct {
	header   textproto.MIMEHeader
	body     []byte
	boundary string
	children []*entity
}

// Build renders msg as a complete RFC 5322 message. Bcc recipients are
// never written. When msg.MessageID is empty a new id is generated in the
// sender's domain.
func Build(msg *email.Message) ([]byte, error) {
	if msg.From == nil || msg.From.Address == "" {
		return nil, ErrNoSender
	}

	var buf bytes.Buffer
	writeHeader(&buf, "From", msg.From.String())
	if len(msg.To) > 0 {
		writeHeader(&buf, "To", email.AddressList(msg.To))
	}
	if len(msg.Cc) > 0 {
		writeHeader(&buf, "Cc", email.AddressList(msg.Cc))
	}
	if len(msg.ReplyTo) > 0 {
		writeHeader(&buf, "Reply-To", email.AddressList(msg.ReplyTo))
	}
	writeHeader(&buf, "Subject", gomime.QEncoding.Encode("UTF-8", msg.Subject))
	writeHeader(&buf, "Date", now().Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", messageID(msg))
	writeHeader(&buf, "MIME-Version", "1.0")

	for _, h := range msg.Priority.Headers() {
		writeHeader(&buf, h.Name, h.Value)
	}

	for _, h := range msg.Headers {
		name := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(h.Name))
		if name == "" || reserved[name] {
			continue
		}
		writeHeader(&buf, name, gomime.QEncoding.Encode("UTF-8", sanitizeHeader(h.Value)))
	}

	root, err := tree(msg)
	if err != nil {
		return nil, err
	}
	for _, key := range []string{"Content-Type", "Content-Transfer-Encoding"} {
		if v := root.header.Get(key); v != "" {
			writeHeader(&buf, key, v)
		}
	}
	buf.WriteString("\r\n")

	if err := root.writeBody(&buf); err != nil {
		return nil, fmt.Errorf("failed to write message body: %w", err)
	}
	return buf.Bytes(), nil
}

// tree arranges the bodies and attachments of msg into a MIME tree.
func tree(msg *email.Message) (*entity, error) {
	text, err := textPart("text/plain", msg.TextBody)
	if err != nil {
		return nil, err
	}

	var content *entity
	if msg.HtmlBody != "" {
		html, err := textPart("text/html", msg.HtmlBody)
		if err != nil {
			return nil, err
		}
		content = html
		if msg.TextBody != "" {
			content = container("alternative", text, html)
		}
	} else {
		content = text
	}

	if inline := msg.InlineAttachments(); len(inline) > 0 {
		children := []*entity{content}
		for _, att := range inline {
			children = append(children, attachmentPart(att))
		}
		content = container("related", children...)
	}

	if regular := msg.RegularAttachments(); len(regular) > 0 {
		children := []*entity{content}
		for _, att := range regular {
			children = append(children, attachmentPart(att))
		}
		content = container("mixed", children...)
	}
	return content, nil
}

func container(subtype string, children ...*entity) *entity {
	boundary := multipart.NewWriter(io.Discard).Boundary()
	header := make(textproto.MIMEHeader)
	header.Set("Content-Type", gomime.FormatMediaType("multipart/"+subtype, map[string]string{"boundary": boundary}))
	return &entity{header: header, boundary: boundary, children: children}
}

func textPart(mediaType, body string) (*entity, error) {
	var buf bytes.Buffer
	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(body)); err != nil {
		return nil, fmt.Errorf("failed to encode %s body: %w", mediaType, err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode %s body: %w", mediaType, err)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Type", mediaType+"; charset=UTF-8")
	header.Set("Content-Transfer-Encoding", "quoted-printable")
	return &entity{header: header, body: buf.Bytes()}, nil
}

func attachmentPart(att email.Attachment) *entity {
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	disposition := "attachment"
	if att.Inline {
		disposition = "inline"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Type", contentType)
	header.Set("Content-Transfer-Encoding", "base64")
	header.Set("Content-Disposition", gomime.FormatMediaType(disposition, map[string]string{"filename": att.Filename}))
	if att.Inline && att.ContentID != "" {
		header.Set("Content-ID", "<"+att.ContentID+">")
	}
	return &entity{header: header, body: []byte(encodeBase64WithLineBreaks(att.Content))}
}

func (e *entity) writeBody(w io.Writer) error {
	if len(e.children) == 0 {
		_, err := w.Write(e.body)
		return err
	}

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(e.boundary); err != nil {
		return err
	}
	for _, child := range e.children {
		pw, err := mw.CreatePart(child.header)
		if err != nil {
			return fmt.Errorf("failed to create part: %w", err)
		}
		if err := child.writeBody(pw); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeHeader(buf *bytes.Buffer, name, value string) {
	fmt.Fprintf(buf, "%s: %s\r\n", name, value)
}

// sanitizeHeader strips line breaks so a value cannot start a new header.
func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", "", "\n", " ").Replace(v)
}

func messageID(msg *email.Message) string {
	if msg.MessageID != "" {
		id := strings.TrimSpace(msg.MessageID)
		if !strings.HasPrefix(id, "<") {
			id = "<" + id + ">"
		}
		return id
	}
	domain := "localhost"
	if at := strings.LastIndexByte(msg.From.Address, '@'); at >= 0 && at < len(msg.From.Address)-1 {
		domain = msg.From.Address[at+1:]
	}
	return "<" + uuid.NewString() + "@" + domain + ">"
}

// encodeBase64WithLineBreaks encodes bytes to base64 with 76-character line breaks per RFC 2045.
func encodeBase64WithLineBreaks(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for i := 0; i < len(encoded); i += lineLength {
		end := min(i+lineLength, len(encoded))
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}
