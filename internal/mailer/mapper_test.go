package mailer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mail-composer/internal/email"
)

func TestMapTemplate(t *testing.T) {
	t.Parallel()

	tpl := &Template{
		From:     &email.Address{Address: "noreply@example.org", Name: "Example"},
		To:       []email.Address{{Address: "ops@example.org"}},
		Cc:       []email.Address{{Address: "cc@example.org"}},
		Bcc:      []email.Address{{Address: "audit@example.org"}},
		ReplyTo:  []email.Address{{Address: "support@example.org"}},
		Tags:     []string{"welcome", " "},
		Headers:  []email.Header{{Name: "X-Campaign", Value: "spring"}, {Name: "", Value: "dropped"}},
		Priority: email.PriorityLow,
		Attachments: []Attachment{
			{FileName: "terms.pdf", MediaType: "application/pdf", Data: []byte("%PDF")},
		},
	}
	table := NewInlineTable()
	table.Add(Attachment{FileName: "logo.svg", MediaType: "image/svg+xml", Data: logoSVG})

	msg := MapTemplate(tpl, table, email.NewMessage())

	require.NotNil(t, msg.From)
	assert.Equal(t, "Example <noreply@example.org>", msg.From.String())
	assert.Equal(t, []string{"ops@example.org", "cc@example.org", "audit@example.org"}, msg.Recipients())
	assert.Equal(t, []email.Address{{Address: "support@example.org"}}, msg.ReplyTo)
	assert.Equal(t, []string{"welcome"}, msg.Tags)
	assert.Equal(t, []email.Header{{Name: "X-Campaign", Value: "spring"}}, msg.Headers)
	assert.Equal(t, email.PriorityLow, msg.Priority)

	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, email.Attachment{Filename: "terms.pdf", ContentType: "application/pdf", Content: []byte("%PDF")}, msg.Attachments[0])
	assert.Equal(t, email.Attachment{
		Filename:    "logo.svg",
		ContentType: "image/svg+xml",
		Content:     logoSVG,
		ContentID:   ContentID(logoSVG),
		Inline:      true,
	}, msg.Attachments[1])
}

func TestMapRequestAugmentsTemplate(t *testing.T) {
	t.Parallel()

	tpl := &Template{
		From: &email.Address{Address: "noreply@example.org"},
		To:   []email.Address{{Address: "ops@example.org"}},
		Tags: []string{"welcome"},
	}
	info := &MailInformation{
		From:    "Jane Doe <jane@example.org>",
		To:      []string{"bob@example.org", ""},
		Bcc:     []string{"audit@example.org"},
		ReplyTo: []string{"help@example.org"},
		Tags:    []string{"beta"},
		Headers: []email.Header{{Name: "traceparent", Value: "00-abc-def-01"}},
		Attachments: []Attachment{
			{FileName: "invoice.csv", MediaType: "text/csv", Data: []byte("a,b")},
			{FileName: "blob.bin", Data: []byte{0x00}},
		},
	}

	msg := MapRequest(info, NewInlineTable(), MapTemplate(tpl, NewInlineTable(), email.NewMessage()))

	assert.Equal(t, &email.Address{Address: "jane@example.org", Name: "Jane Doe"}, msg.From)
	assert.Equal(t, []email.Address{{Address: "ops@example.org"}, {Address: "bob@example.org"}}, msg.To)
	assert.Equal(t, []email.Address{{Address: "audit@example.org"}}, msg.Bcc)
	assert.Equal(t, []email.Address{{Address: "help@example.org"}}, msg.ReplyTo)
	assert.Equal(t, []string{"welcome", "beta"}, msg.Tags)
	assert.Equal(t, []email.Header{{Name: "traceparent", Value: "00-abc-def-01"}}, msg.Headers)

	regular := msg.RegularAttachments()
	require.Len(t, regular, 2)
	assert.Equal(t, "text/csv", regular[0].ContentType)
	assert.Equal(t, "application/octet-stream", regular[1].ContentType)
}

func TestMapRequestKeepsTemplateSenderWhenBlank(t *testing.T) {
	t.Parallel()

	tpl := &Template{From: &email.Address{Address: "noreply@example.org"}}
	msg := MapRequest(&MailInformation{From: "  "}, nil, MapTemplate(tpl, nil, email.NewMessage()))
	require.NotNil(t, msg.From)
	assert.Equal(t, "noreply@example.org", msg.From.Address)
}

func TestApplyPriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		template email.Priority
		request  email.Priority
		want     email.Priority
	}{
		{"none", email.PriorityNone, email.PriorityNone, email.PriorityNone},
		{"normal is not emitted", email.PriorityNormal, email.PriorityNormal, email.PriorityNone},
		{"template high", email.PriorityHigh, email.PriorityNone, email.PriorityHigh},
		{"request low overrides", email.PriorityHigh, email.PriorityLow, email.PriorityLow},
		{"request normal keeps template", email.PriorityLow, email.PriorityNormal, email.PriorityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg := MapRequest(&MailInformation{Priority: tt.request}, nil,
				MapTemplate(&Template{Priority: tt.template}, nil, email.NewMessage()))
			assert.Equal(t, tt.want, msg.Priority)
		})
	}
}

func TestAttachInlineDeduplicatesByContentID(t *testing.T) {
	t.Parallel()

	table := NewInlineTable()
	table.Add(Attachment{FileName: "a.png", Data: []byte("same")})
	table.Add(Attachment{FileName: "b.png", Data: []byte("same")})
	table.Add(Attachment{FileName: "c.png", Data: []byte("other")})

	msg := email.NewMessage()
	msg.Attach(email.Attachment{Filename: "pre.png", ContentID: ContentID([]byte("other")), Inline: true})

	attachInline(msg, table)
	attachInline(msg, table)

	inline := msg.InlineAttachments()
	require.Len(t, inline, 2)
	assert.Equal(t, "pre.png", inline[0].Filename)
	assert.Equal(t, "a.png", inline[1].Filename)
	assert.Equal(t, ContentID([]byte("same")), inline[1].ContentID)
}

func TestHasContentIDIgnoresCase(t *testing.T) {
	t.Parallel()

	id := ContentID(logoSVG)
	msg := email.NewMessage()
	msg.Attach(email.Attachment{Filename: "logo.svg", ContentID: id, Inline: true})

	table := NewInlineTable()
	table.Add(Attachment{FileName: "logo.svg", Data: logoSVG})
	msg.Attachments[0].ContentID = strings.ToUpper(id)

	attachInline(msg, table)
	assert.Len(t, msg.InlineAttachments(), 1)
}
