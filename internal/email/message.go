// Package email defines the outbound message model shared by the composer,
// the MIME builder and the delivery providers.
package email

import (
	"net/mail"
	"strings"
)

// Address is a mailbox with an optional display name.
type Address struct {
	Address string `json:"address" yaml:"address"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
}

// ParseAddress parses an RFC 5322 address such as "Jane <jane@example.com>".
// Strings that do not parse are kept verbatim as the address part.
func ParseAddress(s string) Address {
	s = strings.TrimSpace(s)
	parsed, err := mail.ParseAddress(s)
	if err != nil {
		return Address{Address: s}
	}
	return Address{Address: parsed.Address, Name: parsed.Name}
}

// String formats the address for use in a message header.
func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return (&mail.Address{Name: a.Name, Address: a.Address}).String()
}

// Header is a single custom message header.
type Header struct {
	Name  string `json:"Name" yaml:"name"`
	Value string `json:"Value" yaml:"value"`
}

// Attachment represents a file attached to an email message. Inline
// attachments carry the content id referenced by cid: URLs in the HTML body.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
	ContentID   string
	Inline      bool
}

// Message is the accumulating outbound message. Header mappers append to it
// in order; the composer sets the bodies last.
type Message struct {
	From        *Address
	To          []Address
	Cc          []Address
	Bcc         []Address
	ReplyTo     []Address
	Tags        []string
	Headers     []Header
	Priority    Priority
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
	MessageID   string
}

// NewMessage returns an empty message.
func NewMessage() *Message {
	return &Message{}
}

// SetFrom sets the sender.
func (m *Message) SetFrom(addr Address) *Message {
	m.From = &addr
	return m
}

// AddTo appends primary recipients.
func (m *Message) AddTo(addrs ...Address) *Message {
	m.To = append(m.To, addrs...)
	return m
}

// AddCc appends carbon-copy recipients.
func (m *Message) AddCc(addrs ...Address) *Message {
	m.Cc = append(m.Cc, addrs...)
	return m
}

// AddBcc appends blind carbon-copy recipients.
func (m *Message) AddBcc(addrs ...Address) *Message {
	m.Bcc = append(m.Bcc, addrs...)
	return m
}

// AddReplyTo appends reply-to addresses.
func (m *Message) AddReplyTo(addrs ...Address) *Message {
	m.ReplyTo = append(m.ReplyTo, addrs...)
	return m
}

// AddTag appends a delivery tag.
func (m *Message) AddTag(tags ...string) *Message {
	m.Tags = append(m.Tags, tags...)
	return m
}

// AddHeader appends a custom header.
func (m *Message) AddHeader(name, value string) *Message {
	m.Headers = append(m.Headers, Header{Name: name, Value: value})
	return m
}

// SetPriority records the priority. Only High and Low are emitted by
// providers; other values leave the message at its default importance.
func (m *Message) SetPriority(p Priority) *Message {
	m.Priority = p
	return m
}

// Attach appends an attachment.
func (m *Message) Attach(att Attachment) *Message {
	m.Attachments = append(m.Attachments, att)
	return m
}

// HasContentID reports whether an inline attachment with the given content
// id is already attached. Content ids compare case-insensitively.
func (m *Message) HasContentID(id string) bool {
	for _, att := range m.Attachments {
		if att.Inline && strings.EqualFold(att.ContentID, id) {
			return true
		}
	}
	return false
}

// SetBody sets the primary body and, for HTML messages, the plain-text
// alternative. A text-only message has an empty HtmlBody.
func (m *Message) SetBody(body string, isHTML bool) *Message {
	if isHTML {
		m.HtmlBody = body
	} else {
		m.TextBody = body
	}
	return m
}

// IsHTML reports whether the message has an HTML primary body.
func (m *Message) IsHTML() bool {
	return m.HtmlBody != ""
}

// InlineAttachments returns the inline attachments in attach order.
func (m *Message) InlineAttachments() []Attachment {
	var out []Attachment
	for _, att := range m.Attachments {
		if att.Inline {
			out = append(out, att)
		}
	}
	return out
}

// RegularAttachments returns the non-inline attachments in attach order.
func (m *Message) RegularAttachments() []Attachment {
	var out []Attachment
	for _, att := range m.Attachments {
		if !att.Inline {
			out = append(out, att)
		}
	}
	return out
}

// Recipients returns every envelope recipient (To, Cc, Bcc) as bare addresses.
func (m *Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	for _, list := range [][]Address{m.To, m.Cc, m.Bcc} {
		for _, a := range list {
			out = append(out, a.Address)
		}
	}
	return out
}

// AddressList formats addresses for a header value.
func AddressList(addrs []Address) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

// Bare returns the bare addresses without display names.
func Bare(addrs []Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Address
	}
	return out
}
