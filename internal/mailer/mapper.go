package mailer

import (
	"strings"

	"github.com/shineum/mail-composer/internal/email"
)

// MapTemplate applies a template's addressing, headers, priority and
// attachments to msg. Inline attachments come from the shared table.
func MapTemplate(t *Template, table *InlineTable, msg *email.Message) *email.Message {
	if t.From != nil && t.From.Address != "" {
		msg.SetFrom(*t.From)
	}
	msg.AddTo(t.To...)
	msg.AddCc(t.Cc...)
	msg.AddBcc(t.Bcc...)
	msg.AddReplyTo(t.ReplyTo...)
	addTags(msg, t.Tags)
	addHeaders(msg, t.Headers)
	applyPriority(msg, t.Priority)
	attachFiles(msg, t.Attachments)
	attachInline(msg, table)
	return msg
}

// MapRequest applies the request envelope to msg. It runs after
// MapTemplate: a request sender replaces the template's, everything else
// is appended.
func MapRequest(info *MailInformation, table *InlineTable, msg *email.Message) *email.Message {
	if strings.TrimSpace(info.From) != "" {
		msg.SetFrom(email.ParseAddress(info.From))
	}
	msg.AddTo(parseAddresses(info.To)...)
	msg.AddCc(parseAddresses(info.Cc)...)
	msg.AddBcc(parseAddresses(info.Bcc)...)
	msg.AddReplyTo(parseAddresses(info.ReplyTo)...)
	addTags(msg, info.Tags)
	addHeaders(msg, info.Headers)
	applyPriority(msg, info.Priority)
	attachFiles(msg, info.Attachments)
	attachInline(msg, table)
	return msg
}

func parseAddresses(list []string) []email.Address {
	out := make([]email.Address, 0, len(list))
	for _, s := range list {
		if strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, email.ParseAddress(s))
	}
	return out
}

func addTags(msg *email.Message, tags []string) {
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			msg.AddTag(tag)
		}
	}
}

func addHeaders(msg *email.Message, headers []email.Header) {
	for _, h := range headers {
		if h.Name != "" {
			msg.AddHeader(h.Name, h.Value)
		}
	}
}

// applyPriority records High and Low only; other values leave the message
// at its default importance.
func applyPriority(msg *email.Message, p email.Priority) {
	switch p {
	case email.PriorityHigh, email.PriorityLow:
		msg.SetPriority(p)
	}
}

func attachFiles(msg *email.Message, atts []Attachment) {
	for _, att := range atts {
		msg.Attach(email.Attachment{
			Filename:    att.FileName,
			ContentType: att.ContentType(),
			Content:     att.Data,
		})
	}
}

// attachInline attaches every table entry whose content id is not already
// on the message.
func attachInline(msg *email.Message, table *InlineTable) {
	if table == nil {
		return
	}
	for _, entry := range table.Entries() {
		if msg.HasContentID(entry.ID) {
			continue
		}
		msg.Attach(email.Attachment{
			Filename:    entry.Attachment.FileName,
			ContentType: entry.Attachment.ContentType(),
			Content:     entry.Attachment.Data,
			ContentID:   entry.ID,
			Inline:      true,
		})
	}
}
