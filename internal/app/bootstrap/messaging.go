package bootstrap

import (
	"errors"
	"strings"

	"github.com/wolfman30/fieldhand/internal/channels/webchat"
	"github.com/wolfman30/fieldhand/internal/channels/whatsapp"
	appconfig "github.com/wolfman30/fieldhand/internal/config"
	"github.com/wolfman30/fieldhand/internal/dispatch"
	"github.com/wolfman30/fieldhand/internal/observability/metrics"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

// BuildWhatsAppClient returns nil when the Cloud API is not configured.
func BuildWhatsAppClient(cfg *appconfig.Config) *whatsapp.Client {
	if cfg == nil || strings.TrimSpace(cfg.WhatsAppAccessToken) == "" || strings.TrimSpace(cfg.WhatsAppPhoneNumberID) == "" {
		return nil
	}
	client := whatsapp.NewClient(cfg.WhatsAppAccessToken, cfg.WhatsAppPhoneNumberID)
	if base := strings.TrimSpace(cfg.WhatsAppGraphBaseURL); base != "" {
		client.SetGraphAPIBase(base)
	}
	return client
}

// BuildOutboundMessenger sends through WhatsApp and, when the dev console is
// enabled, routes replies to open console sessions first.
func BuildOutboundMessenger(client *whatsapp.Client, console *webchat.Handler, m *metrics.PipelineMetrics, logger *logging.Logger) (dispatch.Messenger, error) {
	var messenger dispatch.Messenger
	if client != nil {
		messenger = whatsapp.NewMessenger(client, logger).WithMetrics(m)
	}
	if console != nil {
		messenger = webchat.NewMessenger(console, messenger)
	}
	if messenger == nil {
		return nil, errors.New("bootstrap: configure WhatsApp credentials or enable the webchat console")
	}
	return messenger, nil
}
