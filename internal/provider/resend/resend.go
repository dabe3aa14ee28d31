// Package resend implements a Provider backed by the Resend API.
package resend

import (
	"context"
	"errors"
	"fmt"

	"github.com/resend/resend-go/v3"

	"github.com/shineum/mail-composer/internal/email"
	"github.com/shineum/mail-composer/internal/provider"
)

// ErrNoSender is returned when neither the message nor the configuration
// names a sender.
var ErrNoSender = errors.New("resend: no sender address")

// Config holds Resend provider configuration.
type Config struct {
	APIKey      string `yaml:"api_key" env:"RESEND_API_KEY"`
	SenderEmail string `yaml:"sender_email" env:"RESEND_FROM_EMAIL"`
	SenderName  string `yaml:"sender_name" env:"RESEND_FROM_NAME"`
}

// EmailSender is the subset of the Resend emails service used here.
type EmailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Provider sends messages through Resend.
type Provider struct {
	emails EmailSender
	config Config
}

// New creates a Resend provider.
func New(cfg Config) *Provider {
	return &Provider{
		emails: resend.NewClient(cfg.APIKey).Emails,
		config: cfg,
	}
}

// NewWithClient creates a provider around a custom emails service.
func NewWithClient(cfg Config, emails EmailSender) *Provider {
	return &Provider{emails: emails, config: cfg}
}

// Name returns "resend".
func (p *Provider) Name() string {
	return "resend"
}

// Send delivers msg in a single API call.
func (p *Provider) Send(ctx context.Context, msg *email.Message) (*provider.Response, error) {
	from := p.from(msg)
	if from == "" {
		return nil, ErrNoSender
	}

	req := &resend.SendEmailRequest{
		From:    from,
		To:      addressStrings(msg.To),
		Cc:      addressStrings(msg.Cc),
		Bcc:     addressStrings(msg.Bcc),
		Subject: msg.Subject,
		Html:    msg.HtmlBody,
		Text:    msg.TextBody,
	}
	if len(msg.ReplyTo) > 0 {
		req.ReplyTo = email.AddressList(msg.ReplyTo)
	}

	headers := append(msg.Priority.Headers(), msg.Headers...)
	if len(headers) > 0 {
		req.Headers = make(map[string]string, len(headers))
		for _, h := range headers {
			req.Headers[h.Name] = h.Value
		}
	}

	if len(msg.Attachments) > 0 {
		req.Attachments = convertAttachments(msg.Attachments)
	}
	if len(msg.Tags) > 0 {
		req.Tags = convertTags(msg.Tags)
	}

	sent, err := p.emails.SendWithContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("resend: failed to send email: %w", err)
	}

	return &provider.Response{Provider: p.Name(), MessageID: sent.Id}, nil
}

func (p *Provider) from(msg *email.Message) string {
	if msg.From != nil && msg.From.Address != "" {
		return msg.From.String()
	}
	if p.config.SenderEmail == "" {
		return ""
	}
	return email.Address{Address: p.config.SenderEmail, Name: p.config.SenderName}.String()
}

func addressStrings(addrs []email.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

func convertAttachments(attachments []email.Attachment) []*resend.Attachment {
	result := make([]*resend.Attachment, len(attachments))
	for i, a := range attachments {
		result[i] = &resend.Attachment{
			Filename:    a.Filename,
			Content:     a.Content,
			ContentType: a.ContentType,
		}
		if a.Inline {
			result[i].ContentId = a.ContentID
		}
	}
	return result
}

// convertTags turns presence-only tags into name/"true" pairs, the shape
// Resend expects.
func convertTags(tags []string) []resend.Tag {
	result := make([]resend.Tag, 0, len(tags))
	for _, name := range tags {
		result = append(result, resend.Tag{Name: name, Value: "true"})
	}
	return result
}
