package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/carebridge/accountsec/pkg/logger"
)

// SESClient is the part of the SES API used for alerts
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESAlertMailer sends security alerts to account owners via AWS SES
type SESAlertMailer struct {
	client      SESClient
	fromAddress string
	logger      *slog.Logger
}

// NewSESAlertMailer loads the default AWS credential chain for region
func NewSESAlertMailer(ctx context.Context, region, fromAddress, fromName string, logger *slog.Logger) (*SESAlertMailer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	from := fromAddress
	if fromName != "" {
		from = fmt.Sprintf("%s <%s>", fromName, fromAddress)
	}
	return newSESAlertMailer(ses.NewFromConfig(cfg), from, logger), nil
}

func newSESAlertMailer(client SESClient, from string, logger *slog.Logger) *SESAlertMailer {
	return &SESAlertMailer{client: client, fromAddress: from, logger: logger}
}

func (m *SESAlertMailer) SendSecurityAlert(ctx context.Context, to, subject, body string) error {
	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <h2>%s</h2>
    <p>%s</p>
    <p style="color: #666; font-size: 12px;">This is an automated security notice. Please do not reply to this email.</p>
</body>
</html>
`, html.EscapeString(subject), html.EscapeString(body))

	textBody := fmt.Sprintf("%s\n\n%s\n\nThis is an automated security notice. Please do not reply to this email.\n", subject, body)

	input := &ses.SendEmailInput{
		Source: aws.String(m.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := m.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send security alert: %w", err)
	}

	m.logger.InfoContext(ctx, "security alert sent",
		slog.String("email", logger.SanitizedEmail(to)),
		slog.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}
