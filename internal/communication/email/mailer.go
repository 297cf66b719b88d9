package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/resend/resend-go/v2"
)

// Message is a single email to one address.
type Message struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer is the backend that hands a message to an email service.
type Mailer interface {
	// Name returns the backend name (e.g., "ses", "resend")
	Name() string

	// Send submits one message.
	Send(ctx context.Context, msg *Message) error
}

// SESMailer sends email through AWS SES.
type SESMailer struct {
	client *sesv2.Client
	logger *slog.Logger
}

// NewSESMailer loads the default AWS configuration for the region.
// Credentials come from the usual environment, profile or instance role chain.
func NewSESMailer(ctx context.Context, region string, logger *slog.Logger) (*SESMailer, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("SES email backend initialized", "region", region)
	return &SESMailer{client: sesv2.NewFromConfig(cfg), logger: logger}, nil
}

// Name returns the backend name.
func (m *SESMailer) Name() string {
	return "ses"
}

// Send sends an email via AWS SES.
func (m *SESMailer) Send(ctx context.Context, msg *Message) error {
	if m.client == nil {
		return errors.New("SES client not initialized")
	}

	var body types.Body
	if msg.HTML != "" {
		body.Html = &types.Content{Data: &msg.HTML}
	}
	if msg.Text != "" {
		body.Text = &types.Content{Data: &msg.Text}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: &msg.From,
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: &msg.Subject},
				Body:    &body,
			},
		},
	}

	result, err := m.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("SES send failed: %w", err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	m.logger.Debug("Email sent via SES", "message_id", messageID, "subject", msg.Subject)
	return nil
}

// ResendMailer sends email through the Resend API.
type ResendMailer struct {
	client *resend.Client
	logger *slog.Logger
}

// NewResendMailer creates a Resend backend for the API key.
func NewResendMailer(apiKey string, logger *slog.Logger) (*ResendMailer, error) {
	if apiKey == "" {
		return nil, errors.New("resend API key cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Resend email backend initialized")
	return &ResendMailer{client: resend.NewClient(apiKey), logger: logger}, nil
}

// Name returns the backend name.
func (m *ResendMailer) Name() string {
	return "resend"
}

// Send sends an email via the Resend API.
func (m *ResendMailer) Send(ctx context.Context, msg *Message) error {
	if m.client == nil {
		return errors.New("Resend client not initialized")
	}

	params := &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
	}
	if msg.HTML != "" {
		params.Html = msg.HTML
	}
	if msg.Text != "" {
		params.Text = msg.Text
	}

	result, err := m.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("Resend send failed: %w", err)
	}

	m.logger.Debug("Email sent via Resend", "email_id", result.Id, "subject", msg.Subject)
	return nil
}
