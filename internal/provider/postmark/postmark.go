// Package postmark implements a Provider backed by Postmark's transactional
// API.
package postmark

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"

	"github.com/shineum/mail-composer/internal/email"
	"github.com/shineum/mail-composer/internal/provider"
)

var (
	// ErrInvalidConfig is returned by New for incomplete configuration.
	ErrInvalidConfig = errors.New("postmark: invalid configuration")
	// ErrFailedToSendEmail wraps every delivery failure.
	ErrFailedToSendEmail = errors.New("postmark: failed to send email")
)

// Config holds Postmark provider configuration.
type Config struct {
	ServerToken  string `yaml:"server_token" env:"POSTMARK_SERVER_TOKEN"`
	AccountToken string `yaml:"account_token" env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail  string `yaml:"sender_email" env:"POSTMARK_SENDER_EMAIL"`
	TrackOpens   bool   `yaml:"track_opens" env:"POSTMARK_TRACK_OPENS"`
}

// Client is the subset of the Postmark client used here.
type Client interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// Provider sends messages through Postmark.
type Provider struct {
	client Client
	config Config
}

// New creates a Postmark provider. The server token is required; the
// account token is optional since sending only needs the server token.
func New(cfg Config) (*Provider, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: ServerToken is required", ErrInvalidConfig)
	}
	return &Provider{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		config: cfg,
	}, nil
}

// NewWithClient creates a provider around a custom client.
func NewWithClient(cfg Config, client Client) *Provider {
	return &Provider{client: client, config: cfg}
}

// Name returns "postmark".
func (p *Provider) Name() string {
	return "postmark"
}

// Send delivers msg. Postmark accepts a single tag, so the first tag is sent
// as Tag and every tag is also recorded in Metadata.
func (p *Provider) Send(ctx context.Context, msg *email.Message) (*provider.Response, error) {
	from := p.config.SenderEmail
	if msg.From != nil && msg.From.Address != "" {
		from = msg.From.String()
	}
	if from == "" {
		return nil, fmt.Errorf("%w: no sender address", ErrFailedToSendEmail)
	}

	out := postmark.Email{
		From:       from,
		To:         email.AddressList(msg.To),
		Cc:         email.AddressList(msg.Cc),
		Bcc:        email.AddressList(msg.Bcc),
		ReplyTo:    email.AddressList(msg.ReplyTo),
		Subject:    msg.Subject,
		HTMLBody:   msg.HtmlBody,
		TextBody:   msg.TextBody,
		TrackOpens: p.config.TrackOpens && msg.IsHTML(),
	}
	if out.TrackOpens {
		out.TrackLinks = "HtmlOnly"
	}

	for _, h := range append(msg.Priority.Headers(), msg.Headers...) {
		out.Headers = append(out.Headers, postmark.Header{Name: h.Name, Value: h.Value})
	}

	if len(msg.Tags) > 0 {
		out.Tag = msg.Tags[0]
		out.Metadata = make(map[string]string, len(msg.Tags))
		for _, tag := range msg.Tags {
			out.Metadata[tag] = "true"
		}
	}

	for _, att := range msg.Attachments {
		a := postmark.Attachment{
			Name:        att.Filename,
			Content:     base64.StdEncoding.EncodeToString(att.Content),
			ContentType: att.ContentType,
		}
		if att.Inline {
			a.ContentID = "cid:" + att.ContentID
		}
		out.Attachments = append(out.Attachments, a)
	}

	resp, err := p.client.SendEmail(ctx, out)
	if err != nil {
		return nil, errors.Join(ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return nil, errors.Join(
			ErrFailedToSendEmail,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}

	return &provider.Response{Provider: p.Name(), MessageID: resp.MessageID}, nil
}
