// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/mail-composer/internal/email"
	"github.com/shineum/mail-composer/internal/mime"
	"github.com/shineum/mail-composer/internal/provider"
)

// ErrNoSender is returned when neither the message nor the provider
// configuration names a sender.
var ErrNoSender = errors.New("ses: no sender address")

// SESProviderConfig holds the configuration for creating a SESProvider.
type SESProviderConfig struct {
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	Sender           string // used when a message has no From
	ConfigurationSet string
}

// SESProvider sends emails via the AWS SES v2 API.
type SESProvider struct {
	sender           string
	configurationSet string
	client           SendEmailAPI
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new SESProvider with the given configuration.
func New(ctx context.Context, cfg SESProviderConfig) (*SESProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESProvider{
		sender:           cfg.Sender,
		configurationSet: cfg.ConfigurationSet,
		client:           sesv2.NewFromConfig(awsCfg),
	}, nil
}

// NewWithClient creates a SESProvider with a custom client, used for testing.
func NewWithClient(sender string, client SendEmailAPI) *SESProvider {
	return &SESProvider{
		sender: sender,
		client: client,
	}
}

// Send delivers an email message via AWS SES v2 in a single attempt.
// Messages that the simple content format cannot express (attachments,
// custom headers, priority) are sent as raw MIME.
func (s *SESProvider) Send(ctx context.Context, msg *email.Message) (*provider.Response, error) {
	from := s.from(msg)
	if from == nil {
		return nil, ErrNoSender
	}

	var input *sesv2.SendEmailInput
	if needsRaw(msg) {
		withSender := *msg
		withSender.From = from
		raw, err := mime.Build(&withSender)
		if err != nil {
			return nil, fmt.Errorf("failed to build raw message: %w", err)
		}
		input = &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(from.String()),
			Destination: &types.Destination{
				ToAddresses:  email.Bare(msg.To),
				CcAddresses:  email.Bare(msg.Cc),
				BccAddresses: email.Bare(msg.Bcc),
			},
			Content: &types.EmailContent{
				Raw: &types.RawMessage{Data: raw},
			},
		}
	} else {
		input = buildSimpleInput(from, msg)
	}
	input.EmailTags = buildTags(msg.Tags)
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		slog.Warn("SES API error", "error", err)
		return nil, fmt.Errorf("SES API request failed: %w", err)
	}

	return &provider.Response{Provider: s.Name(), MessageID: aws.ToString(out.MessageId)}, nil
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return "ses"
}

func (s *SESProvider) from(msg *email.Message) *email.Address {
	if msg.From != nil && msg.From.Address != "" {
		return msg.From
	}
	if s.sender == "" {
		return nil
	}
	addr := email.ParseAddress(s.sender)
	return &addr
}

func needsRaw(msg *email.Message) bool {
	return len(msg.Attachments) > 0 || len(msg.Headers) > 0 || msg.Priority == email.PriorityHigh || msg.Priority == email.PriorityLow
}

// buildSimpleInput creates a SES SendEmailInput for messages without
// attachments or custom headers.
func buildSimpleInput(from *email.Address, msg *email.Message) *sesv2.SendEmailInput {
	body := &types.Body{}

	if msg.HtmlBody != "" {
		body.Html = &types.Content{
			Data:    aws.String(msg.HtmlBody),
			Charset: aws.String("UTF-8"),
		}
	}
	if msg.TextBody != "" || msg.HtmlBody == "" {
		body.Text = &types.Content{
			Data:    aws.String(msg.TextBody),
			Charset: aws.String("UTF-8"),
		}
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from.String()),
		Destination: &types.Destination{
			ToAddresses:  email.Bare(msg.To),
			CcAddresses:  email.Bare(msg.Cc),
			BccAddresses: email.Bare(msg.Bcc),
		},
		ReplyToAddresses: email.Bare(msg.ReplyTo),
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: body,
			},
		},
	}
}

// buildTags maps delivery tags onto SES message tags. SES only accepts
// ASCII letters, digits, '_' and '-' in tag names.
func buildTags(tags []string) []types.MessageTag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]types.MessageTag, 0, len(tags))
	for _, tag := range tags {
		name := strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
				return r
			default:
				return '_'
			}
		}, tag)
		if len(name) > 256 {
			name = name[:256]
		}
		out = append(out, types.MessageTag{Name: aws.String(name), Value: aws.String("true")})
	}
	return out
}
