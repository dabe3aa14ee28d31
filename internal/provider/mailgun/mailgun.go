// Package mailgun implements a Provider backed by the Mailgun API.
package mailgun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/shineum/mail-composer/internal/email"
	"github.com/shineum/mail-composer/internal/provider"
)

// EUAPIBase is the API base for domains hosted in the EU region.
const EUAPIBase = "https://api.eu.mailgun.net/v3"

// ErrSendFailed wraps every delivery failure.
var ErrSendFailed = errors.New("mailgun: send failed")

// Config holds Mailgun provider configuration.
type Config struct {
	APIKey  string        `yaml:"api_key" env:"MAILGUN_API_KEY"`
	Domain  string        `yaml:"domain" env:"MAILGUN_DOMAIN"`
	From    string        `yaml:"from" env:"MAILGUN_FROM"`
	Region  string        `yaml:"region" env:"MAILGUN_REGION"`
	APIBase string        `yaml:"api_base" env:"MAILGUN_API_BASE"`
	Timeout time.Duration `yaml:"timeout" env:"MAILGUN_TIMEOUT"`
}

// Provider sends messages through Mailgun.
type Provider struct {
	client  *mailgun.MailgunImpl
	from    string
	timeout time.Duration
}

// New creates a Mailgun provider.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("mailgun API key is required")
	}
	if cfg.Domain == "" {
		return nil, fmt.Errorf("mailgun domain is required")
	}

	mg := mailgun.NewMailgun(cfg.Domain, cfg.APIKey)
	switch {
	case cfg.APIBase != "":
		mg.SetAPIBase(cfg.APIBase)
	case cfg.Region == "eu":
		mg.SetAPIBase(EUAPIBase)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Provider{client: mg, from: cfg.From, timeout: timeout}, nil
}

// Name returns "mailgun".
func (p *Provider) Name() string {
	return "mailgun"
}

// Send delivers msg. Inline attachments are uploaded under their content id
// so that cid: references in the HTML body resolve.
func (p *Provider) Send(ctx context.Context, msg *email.Message) (*provider.Response, error) {
	from := p.from
	if msg.From != nil && msg.From.Address != "" {
		from = msg.From.String()
	}
	if from == "" {
		return nil, fmt.Errorf("%w: no sender address", ErrSendFailed)
	}
	if len(msg.To) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", ErrSendFailed)
	}

	to := make([]string, len(msg.To))
	for i, a := range msg.To {
		to[i] = a.String()
	}
	m := p.client.NewMessage(from, msg.Subject, msg.TextBody, to...)

	if msg.HtmlBody != "" {
		m.SetHtml(msg.HtmlBody)
	}
	for _, a := range msg.Cc {
		m.AddCC(a.String())
	}
	for _, a := range msg.Bcc {
		m.AddBCC(a.String())
	}
	if len(msg.ReplyTo) > 0 {
		m.SetReplyTo(email.AddressList(msg.ReplyTo))
	}
	if len(msg.Tags) > 0 {
		if err := m.AddTag(msg.Tags...); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
		}
	}
	for _, h := range append(msg.Priority.Headers(), msg.Headers...) {
		m.AddHeader(h.Name, h.Value)
	}
	for _, att := range msg.Attachments {
		if att.Inline {
			m.AddReaderInline(att.ContentID, io.NopCloser(bytes.NewReader(att.Content)))
			continue
		}
		m.AddBufferAttachment(att.Filename, att.Content)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, id, err := p.client.Send(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	return &provider.Response{Provider: p.Name(), MessageID: id}, nil
}
