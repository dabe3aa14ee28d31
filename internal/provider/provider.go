// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"

	"github.com/shineum/mail-composer/internal/email"
)

// Provider is the interface that email delivery backends must implement.
// Each provider hands a composed message to the target service
// (e.g., AWS SES, Microsoft Graph, Resend, Postmark, stdout).
type Provider interface {
	// Send delivers an email message through this provider.
	// It returns an error if the delivery fails.
	Send(ctx context.Context, msg *email.Message) (*Response, error)

	// Name returns the human-readable name of this provider.
	Name() string
}

// Response describes an accepted message.
type Response struct {
	// Provider is the name of the provider that accepted the message.
	Provider string `json:"provider"`
	// MessageID is the provider's identifier for the message, if any.
	MessageID string `json:"message_id,omitempty"`
}
