package main

import (
	"context"
	"log/slog"

	"github.com/afikmenashe/security-alerting/internal/communication"
	"github.com/afikmenashe/security-alerting/internal/communication/email"
	"github.com/afikmenashe/security-alerting/internal/communication/pushover"
	"github.com/afikmenashe/security-alerting/internal/communication/slack"
	"github.com/afikmenashe/security-alerting/internal/communication/sms"
	"github.com/afikmenashe/security-alerting/internal/config"
)

// providerBuilders lists every provider the service knows about. Providers
// without configuration report ErrNotConfigured and are skipped by the registry.
func providerBuilders(ctx context.Context, cfg *config.Config, logger *slog.Logger) []communication.Builder {
	return []communication.Builder{
		{
			Name: pushover.Name,
			Build: func() (communication.Provider, error) {
				return pushover.New(pushover.Config{
					Token:      cfg.Pushover.Token,
					Recipients: cfg.Pushover.Recipients,
					Logger:     logger.With("provider", pushover.Name),
				})
			},
		},
		{
			Name: sms.Name,
			Build: func() (communication.Provider, error) {
				return sms.New(sms.Config{
					Gateway: sms.ClientConfig{
						BaseURL:         cfg.SMS.HTTPBase,
						Authorization:   cfg.SMS.Auth,
						CertificatePath: cfg.SMS.CertificatePath,
					},
					Recipients:       cfg.SMS.Recipients,
					MaxMessageLength: cfg.SMS.MaxLength,
					Logger:           logger.With("provider", sms.Name),
				})
			},
		},
		{
			Name: email.Name,
			Build: func() (communication.Provider, error) {
				return email.New(ctx, email.Config{
					Backend:      cfg.Email.Backend,
					From:         cfg.Email.From,
					Recipients:   cfg.Email.Recipients,
					AWSRegion:    cfg.Email.AWSRegion,
					ResendAPIKey: cfg.Email.ResendAPIKey,
					Logger:       logger.With("provider", email.Name),
				})
			},
		},
		{
			Name: slack.Name,
			Build: func() (communication.Provider, error) {
				return slack.New(slack.Config{
					Recipients: cfg.Slack.Recipients,
					Logger:     logger.With("provider", slack.Name),
				})
			},
		},
	}
}
