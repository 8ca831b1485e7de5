package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/example/ride-notifier/internal/observability"
)

// SESAPI is the subset of the SES client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESDispatcher emails each notification to a fixed operator address.
type SESDispatcher struct {
	client    SESAPI
	sender    string
	recipient string
	charSet   string
	logger    *slog.Logger
}

func NewSESDispatcher(client SESAPI, sender, recipient string, logger *slog.Logger) *SESDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SESDispatcher{
		client:    client,
		sender:    sender,
		recipient: recipient,
		charSet:   "UTF-8",
		logger:    logger,
	}
}

func (d *SESDispatcher) Dispatch(ctx context.Context, title, body string) {
	if err := d.sendEmail(ctx, title, body); err != nil {
		d.logger.Warn("email dispatch failed", "recipient", d.recipient, "error", err)
		observability.NotificationErrors.WithLabelValues("ses").Inc()
		return
	}
	observability.NotificationsSent.WithLabelValues("ses").Inc()
}

func (d *SESDispatcher) sendEmail(ctx context.Context, subject, body string) error {
	in := &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{d.recipient},
		},
		Message: &types.Message{
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
					Charset: aws.String(d.charSet),
				},
			},
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String(d.charSet),
			},
		},
		Source: aws.String(d.sender),
	}
	if _, err := d.client.SendEmail(ctx, in); err != nil {
		return fmt.Errorf("error sending email from %s to %s: %w", d.sender, d.recipient, err)
	}
	return nil
}
