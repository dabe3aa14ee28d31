// Package main is the entry point for the mail composer HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shineum/mail-composer/internal/catalog"
	"github.com/shineum/mail-composer/internal/config"
	"github.com/shineum/mail-composer/internal/logging"
	"github.com/shineum/mail-composer/internal/mailer"
	"github.com/shineum/mail-composer/internal/metrics"
	"github.com/shineum/mail-composer/internal/provider"
	"github.com/shineum/mail-composer/internal/provider/graph"
	"github.com/shineum/mail-composer/internal/provider/mailgun"
	"github.com/shineum/mail-composer/internal/provider/postmark"
	"github.com/shineum/mail-composer/internal/provider/resend"
	"github.com/shineum/mail-composer/internal/provider/ses"
	"github.com/shineum/mail-composer/internal/provider/spool"
	"github.com/shineum/mail-composer/internal/provider/stdout"
	"github.com/shineum/mail-composer/internal/server"
	servertls "github.com/shineum/mail-composer/internal/tls"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	replayPath := flag.String("replay", "", "send a spooled .eml file or spool directory through the configured provider and exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	flush := logging.Setup(cfg.Logging)
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if *replayPath != "" {
		if err := replay(ctx, cfg, *replayPath); err != nil {
			slog.Error("replay failed", "error", err)
			flush()
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg); err != nil {
		slog.Error("mail-composer failed", "error", err)
		flush()
		os.Exit(1)
	}
	slog.Info("mail-composer stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	store := catalog.NewMemory(nil)
	if err := catalog.Load(cfg.Catalog.Dir, store); err != nil {
		return err
	}
	templates, partials := store.Len()
	slog.Info("catalog loaded", "dir", cfg.Catalog.Dir, "templates", templates, "partials", partials)

	if cfg.Catalog.Watch {
		watcher, err := catalog.NewWatcher(cfg.Catalog.Dir, store, cfg.Catalog.Debounce)
		if err != nil {
			return err
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				slog.Error("catalog watcher stopped", "error", err)
			}
		}()
	}

	var repo catalog.Repository = store
	if cfg.RedisEnabled() {
		client, err := catalog.OpenRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer client.Close()
		repo = catalog.NewRedisCache(client, store, cfg.Redis.Prefix, cfg.Redis.TTL)
		slog.Info("catalog cached in redis", "prefix", cfg.Redis.Prefix, "ttl", cfg.Redis.TTL)
	}

	prov, err := selectProvider(ctx, cfg)
	if err != nil {
		return err
	}

	composer, err := mailer.NewComposer(mailer.ComposerConfig{
		Templates:       repo,
		Partials:        repo,
		Provider:        prov,
		Counter:         metrics.Sent,
		MaxPartialDepth: cfg.Rendering.MaxPartialDepth,
	})
	if err != nil {
		return err
	}

	tlsConfig, tlsMode, err := servertls.ServerConfig(cfg.TLS.Enabled, cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		return err
	}

	srv := server.New(server.ServerConfig{
		ListenAddr:      cfg.HTTP.Listen,
		Composer:        composer,
		TLSConfig:       tlsConfig,
		AuthUsername:    cfg.HTTP.Username,
		AuthPassword:    cfg.HTTP.Password,
		MaxPayloadSize:  cfg.HTTP.MaxPayloadSize,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	})

	slog.Info("starting mail-composer",
		"listen", cfg.HTTP.Listen,
		"provider", prov.Name(),
		"auth_enabled", cfg.AuthEnabled(),
		"tls_mode", string(tlsMode),
	)

	// Blocks until the context is cancelled.
	return srv.ListenAndServe(ctx)
}

// replay delivers spooled messages with the configured provider.
func replay(ctx context.Context, cfg *config.Config, path string) error {
	prov, err := selectProvider(ctx, cfg)
	if err != nil {
		return err
	}
	if prov.Name() == "spool" {
		return errors.New("replay needs a delivering provider, not spool")
	}
	n, err := spool.Replay(ctx, path, prov)
	slog.Info("replay finished", "path", path, "provider", prov.Name(), "sent", n)
	return err
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// selectProvider chooses the email delivery backend based on configuration.
// An explicit PROVIDER takes precedence. Otherwise the first configured
// API provider is used, falling back to stdout.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	name := cfg.Provider
	if name == "" {
		name = detectProvider(cfg)
		slog.Info("provider auto-detected", "provider", name)
	}

	switch name {
	case "ses":
		if !cfg.SESConfigured() {
			return nil, errors.New("SES provider selected but SES_REGION and SES_SENDER are required")
		}
		slog.Info("using AWS SES provider", "region", cfg.SES.Region, "sender", cfg.SES.Sender)
		return ses.New(ctx, ses.SESProviderConfig{
			Region:           cfg.SES.Region,
			AccessKeyID:      cfg.SES.AccessKeyID,
			SecretAccessKey:  cfg.SES.SecretAccessKey,
			Sender:           cfg.SES.Sender,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})

	case "graph":
		if !cfg.GraphConfigured() {
			return nil, errors.New("Graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET, and GRAPH_SENDER are required")
		}
		slog.Info("using Microsoft Graph provider", "sender", cfg.Graph.Sender)
		return graph.New(graph.GraphProviderConfig{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
		}), nil

	case "resend":
		slog.Info("using Resend provider", "sender", cfg.Resend.SenderEmail)
		return resend.New(cfg.Resend), nil

	case "postmark":
		slog.Info("using Postmark provider", "sender", cfg.Postmark.SenderEmail)
		return postmark.New(cfg.Postmark)

	case "mailgun":
		slog.Info("using Mailgun provider", "domain", cfg.Mailgun.Domain, "region", cfg.Mailgun.Region)
		return mailgun.New(cfg.Mailgun)

	case "spool":
		slog.Info("using spool provider", "dir", cfg.Spool.Dir)
		return spool.New(cfg.Spool), nil

	default:
		slog.Info("using stdout provider")
		return stdout.New(), nil
	}
}

func detectProvider(cfg *config.Config) string {
	switch {
	case cfg.GraphConfigured():
		return "graph"
	case cfg.SESConfigured():
		return "ses"
	case cfg.ResendConfigured():
		return "resend"
	case cfg.PostmarkConfigured():
		return "postmark"
	case cfg.MailgunConfigured():
		return "mailgun"
	default:
		return "stdout"
	}
}
