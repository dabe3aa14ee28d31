// Package spool implements a Provider for local development that writes each
// message to a directory as an .eml file plus a JSON summary instead of
// delivering it.
package spool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/mail-composer/internal/email"
	"github.com/shineum/mail-composer/internal/mime"
	"github.com/shineum/mail-composer/internal/provider"
)

// ErrFailedToSpool wraps every write failure.
var ErrFailedToSpool = errors.New("spool: failed to write message")

// Config holds spool provider configuration.
type Config struct {
	Dir    string `yaml:"dir" env:"SPOOL_DIR"`
	Sender string `yaml:"sender" env:"SPOOL_SENDER"`
}

// Provider writes messages to disk.
type Provider struct {
	dir    string
	sender string
	now    func() time.Time
}

// DefaultDir is used when Config.Dir is empty.
const DefaultDir = "mail-spool"

// New creates a spool provider. The directory is created on first send.
func New(cfg Config) *Provider {
	dir := cfg.Dir
	if dir == "" {
		dir = DefaultDir
	}
	return &Provider{dir: dir, sender: cfg.Sender, now: time.Now}
}

// Name returns "spool".
func (p *Provider) Name() string {
	return "spool"
}

type summary struct {
	Timestamp   string   `json:"timestamp"`
	MessageID   string   `json:"message_id"`
	From        string   `json:"from"`
	To          []string `json:"to"`
	Cc          []string `json:"cc,omitempty"`
	Bcc         []string `json:"bcc,omitempty"`
	Subject     string   `json:"subject"`
	Tags        []string `json:"tags,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
	File        string   `json:"file"`
}

// Send renders msg as MIME and writes <timestamp>_<subject>_<id>.eml with a
// matching .json summary. The returned message id names both files.
func (p *Provider) Send(ctx context.Context, msg *email.Message) (*provider.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := *msg
	if out.From == nil || out.From.Address == "" {
		if p.sender == "" {
			return nil, fmt.Errorf("%w: no sender address", ErrFailedToSpool)
		}
		from := email.ParseAddress(p.sender)
		out.From = &from
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if out.MessageID == "" {
		out.MessageID = id + "@spool"
	}

	raw, err := mime.Build(&out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToSpool, err)
	}

	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create directory: %v", ErrFailedToSpool, err)
	}

	ts := p.now()
	base := fmt.Sprintf("%s_%s_%s", ts.Format("2006_01_02_150405"), sanitizeFilename(out.Subject), id[:8])

	emlPath := filepath.Join(p.dir, base+".eml")
	if err := os.WriteFile(emlPath, raw, 0644); err != nil {
		return nil, fmt.Errorf("%w: failed to write message file: %v", ErrFailedToSpool, err)
	}

	meta := summary{
		Timestamp: ts.Format(time.RFC3339),
		MessageID: out.MessageID,
		From:      out.From.String(),
		To:        email.Bare(out.To),
		Cc:        email.Bare(out.Cc),
		Bcc:       email.Bare(out.Bcc),
		Subject:   out.Subject,
		Tags:      out.Tags,
		File:      filepath.Base(emlPath),
	}
	if out.Priority != email.PriorityNone {
		meta.Priority = out.Priority.String()
	}
	for _, att := range out.Attachments {
		meta.Attachments = append(meta.Attachments, att.Filename)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal summary: %v", ErrFailedToSpool, err)
	}
	if err := os.WriteFile(filepath.Join(p.dir, base+".json"), data, 0644); err != nil {
		return nil, fmt.Errorf("%w: failed to write summary file: %v", ErrFailedToSpool, err)
	}

	return &provider.Response{Provider: p.Name(), MessageID: out.MessageID}, nil
}

var sanitizeRegex = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

// sanitizeFilename turns a subject into a lower-case filesystem-safe name of
// at most 60 bytes.
func sanitizeFilename(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = sanitizeRegex.ReplaceAllString(s, "")

	const maxLength = 60
	if len(s) > maxLength {
		s = s[:maxLength]
	}
	if s == "" {
		s = "email"
	}
	return strings.ToLower(s)
}

// Read loads a spooled .eml file back into a message.
func Read(path string) (*email.Message, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return mime.Parse(raw)
}

// Replay sends every .eml file under path (a file or a spool directory)
// through next, in file name order. Spool message ids are dropped so the
// provider assigns its own. It stops at the first failure.
func Replay(ctx context.Context, path string, next provider.Provider) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	files := []string{path}
	if info.IsDir() {
		if files, err = filepath.Glob(filepath.Join(path, "*.eml")); err != nil {
			return 0, err
		}
	}

	sent := 0
	for _, file := range files {
		msg, err := Read(file)
		if err != nil {
			return sent, fmt.Errorf("%s: %w", filepath.Base(file), err)
		}
		if strings.HasSuffix(msg.MessageID, "@spool") {
			msg.MessageID = ""
		}
		resp, err := next.Send(ctx, msg)
		if err != nil {
			return sent, fmt.Errorf("%s: %w", filepath.Base(file), err)
		}
		slog.Info("spooled message replayed", "file", filepath.Base(file), "provider", resp.Provider, "message_id", resp.MessageID)
		sent++
	}
	return sent, nil
}
