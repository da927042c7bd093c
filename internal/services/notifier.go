package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// Security events a principal is told about
const (
	EventSecondFactorEnabled      = "second_factor_enabled"
	EventSecondFactorDisabled     = "second_factor_disabled"
	EventRecoveryCodesRegenerated = "recovery_codes_regenerated"
)

var eventSubjects = map[string]string{
	EventSecondFactorEnabled:      "Two-factor authentication enabled",
	EventSecondFactorDisabled:     "Two-factor authentication disabled",
	EventRecoveryCodesRegenerated: "New recovery codes generated",
}

var eventBodies = map[string]string{
	EventSecondFactorEnabled:      "Two-factor authentication was turned on for your account.",
	EventSecondFactorDisabled:     "Two-factor authentication was turned off for your account.",
	EventRecoveryCodesRegenerated: "A new set of recovery codes was generated for your account. Your previous codes no longer work.",
}

// SecurityNotifier tells a principal about changes to their account security
type SecurityNotifier interface {
	NotifySecurityEvent(ctx context.Context, email, event string, at time.Time) error
}

// SESClient is the subset of the SES API used by SESNotifier
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier sends security notifications using AWS SES
type SESNotifier struct {
	client      SESClient
	fromAddress string
	logger      *slog.Logger
}

// NewSESNotifier creates a notifier backed by the default AWS credential chain
func NewSESNotifier(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

// NewSESNotifierWithClient creates a notifier with an explicit SES client
func NewSESNotifierWithClient(client SESClient, fromAddress string, logger *slog.Logger) *SESNotifier {
	return &SESNotifier{
		client:      client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

func (n *SESNotifier) NotifySecurityEvent(ctx context.Context, email, event string, at time.Time) error {
	subject, ok := eventSubjects[event]
	if !ok {
		return fmt.Errorf("unknown security event %q", event)
	}

	textBody := fmt.Sprintf(`%s

Time: %s

If you did not make this change, sign in and review your account security immediately.

This is an automated message. Please do not reply to this email.
`, eventBodies[event], at.UTC().Format(time.RFC1123))

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Info("security notification sent",
		slog.String("event", event),
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// LogNotifier records security notifications in the log instead of sending them
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifySecurityEvent(ctx context.Context, email, event string, at time.Time) error {
	n.logger.InfoContext(ctx, "security notification",
		slog.String("event", event),
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.Time("at", at))
	return nil
}
