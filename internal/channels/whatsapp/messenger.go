package whatsapp

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/fieldhand/internal/dispatch"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

type outboundObserver interface {
	ObserveOutbound(kind string, err error)
}

// Messenger implements dispatch.Messenger over the Cloud API.
type Messenger struct {
	client  *Client
	logger  *logging.Logger
	metrics outboundObserver
}

func NewMessenger(client *Client, logger *logging.Logger) *Messenger {
	if client == nil {
		panic("whatsapp: client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Messenger{client: client, logger: logger}
}

func (m *Messenger) WithMetrics(o outboundObserver) *Messenger {
	m.metrics = o
	return m
}

func (m *Messenger) SendText(ctx context.Context, phone, text string) error {
	id, err := m.client.SendText(ctx, phone, text)
	m.observe("text", err)
	if err != nil {
		m.logger.Error("whatsapp: failed to send message", "phone", phone, "error", err)
		return err
	}
	m.logger.Debug("whatsapp: message sent", "phone", phone, "message_id", id)
	return nil
}

// SendOptions uses reply buttons when the options fit; otherwise the
// options are appended as a numbered list the user answers by number.
func (m *Messenger) SendOptions(ctx context.Context, phone, text string, options []dispatch.Option) error {
	if len(options) == 0 {
		return m.SendText(ctx, phone, text)
	}
	if len(options) > MaxButtons {
		return m.SendText(ctx, phone, withNumberedOptions(text, options))
	}

	buttons := make([]ReplyItem, 0, len(options))
	for _, opt := range options {
		buttons = append(buttons, ReplyItem{ID: opt.ID, Title: opt.Title})
	}
	id, err := m.client.SendButtons(ctx, phone, text, buttons)
	m.observe("options", err)
	if err != nil {
		m.logger.Error("whatsapp: failed to send buttons", "phone", phone, "error", err)
		return err
	}
	m.logger.Debug("whatsapp: buttons sent", "phone", phone, "message_id", id, "count", len(buttons))
	return nil
}

func (m *Messenger) observe(kind string, err error) {
	if m.metrics != nil {
		m.metrics.ObserveOutbound(kind, err)
	}
}

func withNumberedOptions(text string, options []dispatch.Option) string {
	var b strings.Builder
	b.WriteString(text)
	for i, opt := range options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, opt.Title)
	}
	return b.String()
}
