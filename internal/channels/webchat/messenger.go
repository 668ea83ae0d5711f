package webchat

import (
	"context"
	"time"

	"github.com/wolfman30/fieldhand/internal/dispatch"
)

// Messenger delivers replies to an open console for the phone and hands
// everything else to next, so console and WhatsApp users share one
// pipeline.
type Messenger struct {
	handler *Handler
	next    dispatch.Messenger
}

// NewMessenger wraps next; a nil next drops replies for phones without a
// console.
func NewMessenger(handler *Handler, next dispatch.Messenger) *Messenger {
	if handler == nil {
		panic("webchat: handler cannot be nil")
	}
	return &Messenger{handler: handler, next: next}
}

func (m *Messenger) SendText(ctx context.Context, phone, text string) error {
	delivered, err := m.handler.push(phone, reply(text, nil))
	if delivered || m.next == nil {
		return err
	}
	return m.next.SendText(ctx, phone, text)
}

func (m *Messenger) SendOptions(ctx context.Context, phone, text string, options []dispatch.Option) error {
	delivered, err := m.handler.push(phone, reply(text, options))
	if delivered || m.next == nil {
		return err
	}
	return m.next.SendOptions(ctx, phone, text, options)
}

func reply(text string, options []dispatch.Option) OutboundMessage {
	return OutboundMessage{
		Type:      "message",
		Text:      text,
		Options:   options,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
