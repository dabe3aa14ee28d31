package mailer

import (
	"github.com/shineum/mail-composer/internal/email"
	"github.com/shineum/mail-composer/internal/liquid"
)

// defaultMediaType is used for attachments that do not declare one.
const defaultMediaType = "application/octet-stream"

// Attachment is a named file. Data is base64 encoded on the wire.
type Attachment struct {
	FileName  string `json:"FileName"`
	MediaType string `json:"MediaType,omitempty"`
	Data      []byte `json:"Data"`
}

// ContentType returns the media type, defaulting to application/octet-stream.
func (a Attachment) ContentType() string {
	if a.MediaType == "" {
		return defaultMediaType
	}
	return a.MediaType
}

// InlineAttachment is an attachment addressed by its content id.
type InlineAttachment struct {
	ID         string
	Attachment Attachment
}

// Template is a stored, reusable mail definition.
type Template struct {
	ID                int             `json:"id"`
	Name              string          `json:"name,omitempty"`
	From              *email.Address  `json:"from,omitempty"`
	To                []email.Address `json:"to,omitempty"`
	Cc                []email.Address `json:"cc,omitempty"`
	Bcc               []email.Address `json:"bcc,omitempty"`
	ReplyTo           []email.Address `json:"reply_to,omitempty"`
	Tags              []string        `json:"tags,omitempty"`
	Headers           []email.Header  `json:"headers,omitempty"`
	Priority          email.Priority  `json:"priority"`
	SubjectTemplate   string          `json:"subject_template"`
	HTMLTemplate      string          `json:"html_template,omitempty"`
	TextTemplate      string          `json:"text_template,omitempty"`
	JSONSchema        string          `json:"json_schema"`
	Attachments       []Attachment    `json:"attachments,omitempty"`
	InlineAttachments []Attachment    `json:"inline_attachments,omitempty"`
}

// Partial is a named template fragment included with the partial tag.
type Partial struct {
	Key               string       `json:"key"`
	HTMLTemplate      string       `json:"html_template,omitempty"`
	TextTemplate      string       `json:"text_template,omitempty"`
	InlineAttachments []Attachment `json:"inline_attachments,omitempty"`
}

// MailInformation is the validated request payload.
type MailInformation struct {
	From              string         `json:"From"`
	To                []string       `json:"To"`
	Cc                []string       `json:"Cc"`
	Bcc               []string       `json:"Bcc"`
	ReplyTo           []string       `json:"ReplyTo"`
	Tags              []string       `json:"Tags"`
	Headers           []email.Header `json:"Headers"`
	Priority          email.Priority `json:"Priority"`
	Attachments       []Attachment   `json:"Attachments"`
	InlineAttachments []Attachment   `json:"InlineAttachments"`
	Data              liquid.Value   `json:"Data"`
}
