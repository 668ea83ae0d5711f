package bootstrap

import (
	"database/sql"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/wolfman30/fieldhand/internal/audit"
	appconfig "github.com/wolfman30/fieldhand/internal/config"
	"github.com/wolfman30/fieldhand/internal/dispatch"
	"github.com/wolfman30/fieldhand/internal/notify"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

// BuildEmailSender prefers SendGrid, then SES. With ALERT_EMAIL_TO set but
// no provider, alerts are logged by a stub; with neither it returns nil.
func BuildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	if cfg == nil {
		return nil
	}
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		return sg
	}
	if strings.TrimSpace(cfg.SESFromEmail) != "" {
		if ses := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); ses != nil {
			return ses
		}
	}
	if strings.TrimSpace(cfg.AlertEmailTo) != "" {
		return notify.NewStubEmailSender(logger)
	}
	return nil
}

// BuildFailureRecorder writes failures to Postgres and emails ALERT_EMAIL_TO.
// Without a database failures are only logged and the returned service is
// nil.
func BuildFailureRecorder(cfg *appconfig.Config, db *sql.DB, sender notify.EmailSender, logger *logging.Logger) (dispatch.FailureRecorder, *audit.Service) {
	if logger == nil {
		logger = logging.Default()
	}
	if db == nil {
		logger.Warn("no database configured; pipeline failures are only logged")
		return audit.LogRecorder{Logger: logger}, nil
	}
	var alerter *notify.Alerter
	if sender != nil && cfg != nil && strings.TrimSpace(cfg.AlertEmailTo) != "" {
		alerter = notify.NewAlerter(sender, cfg.AlertEmailTo, cfg.AlertWindow)
	}
	var svc *audit.Service
	if alerter != nil {
		svc = audit.NewService(db, alerter, logger)
	} else {
		svc = audit.NewService(db, nil, logger)
	}
	return svc, svc
}
