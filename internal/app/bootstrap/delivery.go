package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/rehab-clinic-platform/internal/config"
	"github.com/wolfman30/rehab-clinic-platform/internal/events"
	"github.com/wolfman30/rehab-clinic-platform/internal/notify"
	"github.com/wolfman30/rehab-clinic-platform/internal/observability/metrics"
	"github.com/wolfman30/rehab-clinic-platform/internal/patients"
	"github.com/wolfman30/rehab-clinic-platform/pkg/logging"
)

// BuildEmailSender picks the configured provider and falls back to the logging stub.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.EmailProvider {
	case "sendgrid":
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); s != nil {
			return s
		}
		logger.Warn("SENDGRID_API_KEY not set; alert emails will only be logged")
	case "ses":
		if awsCfg != nil {
			return notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
				FromEmail: cfg.SESFromEmail,
				FromName:  cfg.SESFromName,
			}, logger)
		}
		logger.Warn("AWS config unavailable; alert emails will only be logged")
	}
	return notify.NewStubEmailSender(logger)
}

// BuildDeliveryHandler fans outbox entries out to the email dispatcher and,
// when a queue is configured, to SQS.
func BuildDeliveryHandler(cfg *appconfig.Config, awsCfg *aws.Config, directory patients.Directory, m *metrics.PackageMetrics, logger *logging.Logger) events.DeliveryHandler {
	handlers := events.FanOut{
		notify.NewAlertDispatcher(BuildEmailSender(cfg, awsCfg, logger), cfg.AlertEmailRecipients, directory, logger),
	}
	if cfg.AlertEventsQueueURL != "" && awsCfg != nil {
		handlers = append(handlers, events.NewSQSPublisher(sqs.NewFromConfig(*awsCfg), cfg.AlertEventsQueueURL))
	}
	return events.Observed(handlers, m.ObserveOutboxDelivery)
}
