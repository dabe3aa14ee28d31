// Package stdout implements a Provider that prints composed messages in a
// human-readable form. It is meant for local development.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/shineum/mail-composer/internal/email"
	"github.com/shineum/mail-composer/internal/provider"
)

const separator = "========================================\n"

// Provider prints email messages to a writer, os.Stdout by default.
type Provider struct {
	mu     sync.Mutex
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints the message. Each message is written in one piece, so
// concurrent sends do not interleave.
func (p *Provider) Send(_ context.Context, msg *email.Message) (*provider.Response, error) {
	id := uuid.NewString()

	var b strings.Builder
	b.WriteString(separator)
	fmt.Fprintf(&b, "Message-ID: %s\n", id)
	if msg.From != nil {
		fmt.Fprintf(&b, "From: %s\n", msg.From)
	}
	fmt.Fprintf(&b, "To: %s\n", email.AddressList(msg.To))
	writeList(&b, "Cc", msg.Cc)
	writeList(&b, "Bcc", msg.Bcc)
	writeList(&b, "Reply-To", msg.ReplyTo)
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	if msg.Priority != email.PriorityNone {
		fmt.Fprintf(&b, "Priority: %s\n", msg.Priority)
	}
	if len(msg.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(msg.Tags, ", "))
	}
	for _, h := range msg.Headers {
		fmt.Fprintf(&b, "%s: %s\n", h.Name, h.Value)
	}

	if msg.TextBody != "" {
		b.WriteString("Text:\n")
		b.WriteString(msg.TextBody + "\n")
	}
	if msg.HtmlBody != "" {
		b.WriteString("HTML:\n")
		b.WriteString(msg.HtmlBody + "\n")
	}

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			desc := fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content)))
			if att.Inline {
				desc = fmt.Sprintf("%s (%s, cid:%s)", att.Filename, formatSize(len(att.Content)), att.ContentID)
			}
			attachments = append(attachments, desc)
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}
	b.WriteString(separator)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}
	return &provider.Response{Provider: p.Name(), MessageID: id}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

func writeList(b *strings.Builder, name string, addrs []email.Address) {
	if len(addrs) > 0 {
		fmt.Fprintf(b, "%s: %s\n", name, email.AddressList(addrs))
	}
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
