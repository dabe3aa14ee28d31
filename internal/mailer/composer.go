package mailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/shineum/mail-composer/internal/email"
	"github.com/shineum/mail-composer/internal/provider"
)

// TemplateRepository reads stored templates. GetTemplate returns
// ErrTemplateNotFound when no template has the id.
type TemplateRepository interface {
	GetTemplate(ctx context.Context, id int) (*Template, error)
}

// PartialRepository reads stored partials. GetPartial returns
// ErrPartialNotFound when no partial has the key.
type PartialRepository interface {
	GetPartial(ctx context.Context, key string) (*Partial, error)
}

// Counter counts sent mails.
type Counter interface {
	Inc()
}

// Status is the outcome of a send that did not fail.
type Status int

const (
	StatusSent Status = iota + 1
	StatusNotFound
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusNotFound:
		return "not_found"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Result is the outcome of Composer.Send. Response is set for StatusSent,
// Errors for StatusInvalid.
type Result struct {
	Status   Status
	Response *provider.Response
	Errors   ValidationErrors
}

// ComposerConfig holds the collaborators of a Composer.
type ComposerConfig struct {
	Templates       TemplateRepository
	Partials        PartialRepository
	Provider        provider.Provider
	Counter         Counter // optional
	MaxPartialDepth int     // 0 selects DefaultMaxPartialDepth
}

// Composer turns a template id and a JSON payload into a delivered message.
type Composer struct {
	templates TemplateRepository
	partials  PartialRepository
	provider  provider.Provider
	counter   Counter
	parser    *DataParser
	renderer  *Renderer
}

type nopCounter struct{}

func (nopCounter) Inc() {}

// NewComposer creates a Composer.
func NewComposer(cfg ComposerConfig) (*Composer, error) {
	if cfg.Templates == nil || cfg.Partials == nil || cfg.Provider == nil {
		return nil, fmt.Errorf("%w: templates, partials and provider are required", ErrInvalidArgument)
	}
	counter := cfg.Counter
	if counter == nil {
		counter = nopCounter{}
	}
	return &Composer{
		templates: cfg.Templates,
		partials:  cfg.Partials,
		provider:  cfg.Provider,
		counter:   counter,
		parser:    NewDataParser(),
		renderer:  NewRenderer(cfg.MaxPartialDepth),
	}, nil
}

// Send composes the template identified by templateID with payload and
// delivers it. A missing template or an invalid payload is reported in the
// Result. Template defects are returned as *AuthoringError; provider
// failures are returned unchanged. Nothing is retried.
func (c *Composer) Send(ctx context.Context, templateID int, payload io.Reader) (*Result, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: payload must not be nil", ErrInvalidArgument)
	}

	tpl, err := c.templates.GetTemplate(ctx, templateID)
	if errors.Is(err, ErrTemplateNotFound) {
		slog.Info("template not found", "template_id", templateID)
		return &Result{Status: StatusNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template %d: %w", templateID, err)
	}

	info, verrs, err := c.parser.Parse(ctx, tpl.JSONSchema, payload)
	if err != nil {
		if errors.Is(err, ErrInvalidSchema) || errors.Is(err, ErrInvalidArgument) {
			return nil, &AuthoringError{TemplateID: templateID, Part: "schema", Err: err}
		}
		return nil, err
	}
	if len(verrs) > 0 {
		slog.Info("payload rejected",
			"template_id", templateID,
			"violations", len(verrs),
		)
		return &Result{Status: StatusInvalid, Errors: verrs}, nil
	}

	table := NewInlineTable()
	table.AddRange(tpl.InlineAttachments)
	table.AddRange(info.InlineAttachments)

	msg := MapRequest(info, table, MapTemplate(tpl, table, email.NewMessage()))
	env := newRenderEnv(table, c.partials)

	msg.Subject, err = c.render(ctx, templateID, "subject", tpl.SubjectTemplate, info, false, env)
	if err != nil {
		return nil, err
	}

	var text, html string
	if strings.TrimSpace(tpl.TextTemplate) != "" {
		if text, err = c.render(ctx, templateID, "text body", tpl.TextTemplate, info, false, env); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(tpl.HTMLTemplate) != "" {
		if html, err = c.render(ctx, templateID, "html body", tpl.HTMLTemplate, info, true, env); err != nil {
			return nil, err
		}
	}
	composeBody(msg, html, text)

	// Partials may have added inline images while rendering.
	attachInline(msg, table)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := c.provider.Send(ctx, msg)
	if err != nil {
		slog.Error("failed to send mail",
			"template_id", templateID,
			"provider", c.provider.Name(),
			"error", err,
		)
		return nil, err
	}
	c.counter.Inc()

	slog.Info("mail sent",
		"template_id", templateID,
		"provider", c.provider.Name(),
		"message_id", resp.MessageID,
		"recipients", len(msg.Recipients()),
		"inline_attachments", len(msg.InlineAttachments()),
	)
	return &Result{Status: StatusSent, Response: resp}, nil
}

func (c *Composer) render(ctx context.Context, templateID int, part, src string, info *MailInformation, html bool, env *renderEnv) (string, error) {
	out, err := c.renderer.Render(ctx, src, info.Data, html, env)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", err
	}
	return "", &AuthoringError{TemplateID: templateID, Part: part, Err: err}
}

// composeBody sets the bodies: HTML primary with a text alternative, HTML
// only, text only, or no body at all. A body that renders to whitespace
// counts as absent.
func composeBody(msg *email.Message, html, text string) {
	if strings.TrimSpace(html) != "" {
		msg.SetBody(html, true)
	}
	if strings.TrimSpace(text) != "" {
		msg.SetBody(text, false)
	}
}
