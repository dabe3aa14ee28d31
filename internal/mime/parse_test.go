package mime

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mail-composer/internal/email"
)

func raw(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n"))
}

func TestParsePlainTextEmail(t *testing.T) {
	t.Parallel()

	msg, err := Parse(raw(
		"From: Sender <sender@example.com>",
		"To: recipient@example.com",
		"Subject: Test Subject",
		"Message-Id: <test123@example.com>",
		"Content-Type: text/plain",
		"",
		"Hello, this is a plain text email.",
	))
	require.NoError(t, err)

	require.NotNil(t, msg.From)
	assert.Equal(t, email.Address{Address: "sender@example.com", Name: "Sender"}, *msg.From)
	assert.Equal(t, []email.Address{{Address: "recipient@example.com"}}, msg.To)
	assert.Equal(t, "Test Subject", msg.Subject)
	assert.Equal(t, "test123@example.com", msg.MessageID)
	assert.Equal(t, "Hello, this is a plain text email.", msg.TextBody)
	assert.Empty(t, msg.HtmlBody)
	assert.Empty(t, msg.Attachments)
	assert.Empty(t, msg.Headers)
}

func TestParseMultipartTextAndHTML(t *testing.T) {
	t.Parallel()

	msg, err := Parse(raw(
		"From: sender@example.com",
		"To: alice@example.com, bob@example.com",
		"Cc: carol@example.com",
		"Reply-To: help@example.com",
		"Subject: Multipart Test",
		"Content-Type: multipart/alternative; boundary=boundary123",
		"",
		"--boundary123",
		"Content-Type: text/plain",
		"",
		"Plain text body",
		"--boundary123",
		"Content-Type: text/html",
		"",
		"<html><body><p>HTML body</p></body></html>",
		"--boundary123--",
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, email.Bare(msg.To))
	assert.Equal(t, []string{"carol@example.com"}, email.Bare(msg.Cc))
	assert.Equal(t, []string{"help@example.com"}, email.Bare(msg.ReplyTo))
	assert.Equal(t, "Plain text body", msg.TextBody)
	assert.Equal(t, "<html><body><p>HTML body</p></body></html>", msg.HtmlBody)
}

func TestParseEmailWithAttachments(t *testing.T) {
	t.Parallel()

	msg, err := Parse([]byte("From: sender@example.com\r\n" +
		"To: recipient@example.com\r\n" +
		"Subject: CRLF Base64\r\n" +
		"Content-Type: multipart/mixed; boundary=bound\r\n" +
		"\r\n" +
		"--bound\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"body\r\n" +
		"--bound\r\n" +
		"Content-Type: application/pdf; name=\"file.pdf\"\r\n" +
		"Content-Disposition: attachment; filename=\"file.pdf\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"SGVs\r\n" +
		"bG8g\r\n" +
		"V29y\r\n" +
		"bGQ=\r\n" +
		"--bound\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"SGVsbG8gV29ybGQ=\r\n" +
		"--bound--\r\n"))
	require.NoError(t, err)

	assert.Equal(t, "body", msg.TextBody)
	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, email.Attachment{Filename: "file.pdf", ContentType: "application/pdf", Content: []byte("Hello World")}, msg.Attachments[0])
	assert.Equal(t, "attachment.pdf", msg.Attachments[1].Filename)
	assert.Equal(t, "Hello World", string(msg.Attachments[1].Content))
}

func TestParseInlineParts(t *testing.T) {
	t.Parallel()

	msg, err := Parse(raw(
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Inline",
		"Content-Type: multipart/related; boundary=rel",
		"",
		"--rel",
		"Content-Type: text/html",
		"",
		`<img src="cid:abc123">`,
		"--rel",
		"Content-Type: image/png",
		"Content-Disposition: inline; filename=\"logo.png\"",
		"Content-ID: <abc123>",
		"Content-Transfer-Encoding: base64",
		"",
		"cG5n",
		"--rel",
		"Content-Type: image/gif",
		"Content-ID: <def456>",
		"",
		"gif",
		"--rel--",
	))
	require.NoError(t, err)

	assert.Equal(t, `<img src="cid:abc123">`, msg.HtmlBody)
	inline := msg.InlineAttachments()
	require.Len(t, inline, 2)
	assert.Equal(t, email.Attachment{Filename: "logo.png", ContentType: "image/png", Content: []byte("png"), ContentID: "abc123", Inline: true}, inline[0])
	assert.Equal(t, "def456", inline[1].ContentID)
	assert.Equal(t, "attachment.gif", inline[1].Filename)
	assert.Empty(t, msg.RegularAttachments())
}

func TestParseHeaders(t *testing.T) {
	t.Parallel()

	msg, err := Parse(raw(
		"From: sender@example.com",
		"To: recipient@example.com",
		"X-Custom-Header: custom-value",
		"Traceparent: 00-abc-def-01",
		"Subject: =?UTF-8?q?Gr=C3=BC=C3=9Fe?=",
		"X-Priority: 1 (Highest)",
		"Content-Type: text/plain",
		"",
		"Body",
	))
	require.NoError(t, err)

	assert.Equal(t, "Grüße", msg.Subject)
	assert.Equal(t, email.PriorityHigh, msg.Priority)
	assert.Equal(t, []email.Header{
		{Name: "Traceparent", Value: "00-abc-def-01"},
		{Name: "X-Custom-Header", Value: "custom-value"},
	}, msg.Headers)
}

func TestParsePriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		want   email.Priority
	}{
		{"Importance: high", email.PriorityHigh},
		{"Importance: Low", email.PriorityLow},
		{"X-Priority: 2", email.PriorityHigh},
		{"X-Priority: 5 (Lowest)", email.PriorityLow},
		{"X-Priority: 3 (Normal)", email.PriorityNone},
		{"X-Other: 1", email.PriorityNone},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			t.Parallel()
			msg, err := Parse(raw("From: a@example.com", tt.header, "", "x"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Priority)
		})
	}
}

func TestParseMalformedMIME(t *testing.T) {
	t.Parallel()

	t.Run("completely invalid message", func(t *testing.T) {
		t.Parallel()
		_, err := Parse([]byte("not a valid email at all\x00\x01\x02"))
		assert.Error(t, err)
	})

	t.Run("missing content type defaults to text/plain", func(t *testing.T) {
		t.Parallel()
		msg, err := Parse(raw(
			"From: sender@example.com",
			"Subject: No Content Type",
			"",
			"Body without content type header",
		))
		require.NoError(t, err)
		assert.Equal(t, "Body without content type header", msg.TextBody)
		assert.Nil(t, msg.To)
		assert.Nil(t, msg.Cc)
		assert.Nil(t, msg.Bcc)
	})

	t.Run("multipart missing boundary", func(t *testing.T) {
		t.Parallel()
		_, err := Parse(raw(
			"From: sender@example.com",
			"Content-Type: multipart/mixed",
			"",
			"some body",
		))
		assert.Error(t, err)
	})

	t.Run("top-level quoted-printable", func(t *testing.T) {
		t.Parallel()
		msg, err := Parse(raw(
			"From: sender@example.com",
			"Content-Type: text/html; charset=UTF-8",
			"Content-Transfer-Encoding: quoted-printable",
			"",
			`<a href=3D"x">caf=C3=A9</a>`,
		))
		require.NoError(t, err)
		assert.Equal(t, `<a href="x">café</a>`, msg.HtmlBody)
	})
}

func TestParseNestedMultipart(t *testing.T) {
	t.Parallel()

	msg, err := Parse(raw(
		"From: sender@example.com",
		"To: recipient@example.com",
		"Bcc: secret@example.com",
		"Subject: Nested Multipart",
		"Content-Type: multipart/mixed; boundary=outer",
		"",
		"--outer",
		"Content-Type: multipart/alternative; boundary=inner",
		"",
		"--inner",
		"Content-Type: text/plain",
		"",
		"Plain text part",
		"--inner",
		"Content-Type: text/html",
		"",
		"<p>HTML part</p>",
		"--inner--",
		"--outer",
		"Content-Type: application/octet-stream; name=\"data.bin\"",
		"Content-Disposition: attachment; filename=\"data.bin\"",
		"",
		"binarydata",
		"--outer--",
	))
	require.NoError(t, err)

	assert.Equal(t, "Plain text part", msg.TextBody)
	assert.Equal(t, "<p>HTML part</p>", msg.HtmlBody)
	assert.Equal(t, []string{"secret@example.com"}, email.Bare(msg.Bcc))
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "data.bin", msg.Attachments[0].Filename)
}
