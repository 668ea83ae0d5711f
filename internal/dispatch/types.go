// Package dispatch runs one inbound message through the assistant: intake,
// fast-path commands, registration, open continuations, classification and
// intent routing, all inside a single failure boundary.
package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/wolfman30/fieldhand/internal/audit"
	"github.com/wolfman30/fieldhand/internal/identity"
	"github.com/wolfman30/fieldhand/internal/intent"
	"github.com/wolfman30/fieldhand/internal/session"
)

// MessageType is the content type of an inbound message. Values outside the
// constants below are treated as unsupported.
type MessageType string

const (
	TypeText        MessageType = "text"
	TypeInteractive MessageType = "interactive"
	TypeAudio       MessageType = "audio"
	TypeImage       MessageType = "image"
)

// InboundMessage is what a channel adapter hands to the pipeline. Channel
// names the transport ("whatsapp", "webchat") and scopes ProviderMessageID.
type InboundMessage struct {
	ProviderMessageID string      `json:"provider_message_id,omitempty"`
	Phone             string      `json:"phone"`
	Channel           string      `json:"channel"`
	Type              MessageType `json:"type"`
	Text              string      `json:"text,omitempty"`
	ButtonID          string      `json:"button_id,omitempty"`
	MediaRef          string      `json:"media_ref,omitempty"`
	MediaMIME         string      `json:"media_mime,omitempty"`
	ReceivedAt        time.Time   `json:"received_at"`
}

// CanonicalMessage is the single text command a message reduces to.
type CanonicalMessage struct {
	Phone    string
	Channel  string
	Text     string
	ButtonID string
}

// Status is the terminal outcome reported to the transport.
type Status string

const (
	StatusOK                  Status = "ok"
	StatusDuplicate           Status = "duplicate"
	StatusTranscriptionFailed Status = "transcription_failed"
	StatusUnsupported         Status = "unsupported"
	StatusError               Status = "error"
)

// Button id prefixes with a dedicated handler. Matching ignores case.
const (
	PrefixCalendar    = "calendar_"
	PrefixInvoice     = "invoice_"
	PrefixSale        = "sale_"
	PrefixStock       = "stock_"
	PrefixGrazing     = "grazing_"
	PrefixPayment     = "payment_"
	PrefixAgriculture = "agri_"
	PrefixSupply      = "supply_"
	PrefixTenant      = "tenant_"
)

// HandlerPrefixes are the prefixes served by an injected ButtonHandler.
// tenant_ is handled by the pipeline itself.
var HandlerPrefixes = []string{
	PrefixCalendar, PrefixInvoice, PrefixSale, PrefixStock,
	PrefixGrazing, PrefixPayment, PrefixAgriculture, PrefixSupply,
}

// matchPrefix returns the known prefix id starts with.
func matchPrefix(id string) (string, bool) {
	lower := strings.ToLower(id)
	if strings.HasPrefix(lower, PrefixTenant) {
		return PrefixTenant, true
	}
	for _, prefix := range HandlerPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return prefix, true
		}
	}
	return "", false
}

// Option is a quick-reply choice. Channels render at most three as buttons.
type Option struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Messenger delivers outbound messages to a phone.
type Messenger interface {
	SendText(ctx context.Context, phone, text string) error
	SendOptions(ctx context.Context, phone, text string, options []Option) error
}

// Reply is what a handler wants sent back. An empty Text sends nothing.
// Next, when set, becomes the phone's continuation, which is how handlers
// open payment and grain lot selections.
type Reply struct {
	Text    string
	Options []Option
	Next    session.Payload
}

func TextReply(text string) Reply {
	return Reply{Text: text}
}

type IntentRequest struct {
	Actor  *identity.Actor
	Phone  string
	Intent intent.Intent
}

// IntentHandler applies or answers one classified intent.
type IntentHandler interface {
	Handle(ctx context.Context, req IntentRequest) (Reply, error)
}

type IntentHandlerFunc func(ctx context.Context, req IntentRequest) (Reply, error)

func (f IntentHandlerFunc) Handle(ctx context.Context, req IntentRequest) (Reply, error) {
	return f(ctx, req)
}

type ButtonRequest struct {
	Actor    *identity.Actor
	Phone    string
	ButtonID string
	Prefix   string
}

// ButtonHandler serves every button id under one prefix.
type ButtonHandler interface {
	HandleButton(ctx context.Context, req ButtonRequest) (Reply, error)
}

type ButtonHandlerFunc func(ctx context.Context, req ButtonRequest) (Reply, error)

func (f ButtonHandlerFunc) HandleButton(ctx context.Context, req ButtonRequest) (Reply, error) {
	return f(ctx, req)
}

type ImageRequest struct {
	Actor   *identity.Actor
	Message InboundMessage
}

// ImageHandler turns a photo (usually an invoice) into structured data.
type ImageHandler interface {
	HandleImage(ctx context.Context, req ImageRequest) (Reply, error)
}

// Transcriber converts a voice note to text. On failure it owns telling the
// user; the pipeline stays silent.
type Transcriber interface {
	Transcribe(ctx context.Context, msg InboundMessage) (string, error)
}

type ResumeRequest struct {
	Actor   *identity.Actor
	Phone   string
	Pending session.PendingConfirmation
	Text    string
}

// ResumeResult reports what a free-text resumer did with the message. When
// Consumed is false the pipeline continues as if no continuation existed.
type ResumeResult struct {
	Consumed bool
	Done     bool
	Reply    Reply
}

// FreeTextResumer continues a dialog whose answer is not a number.
type FreeTextResumer interface {
	Resume(ctx context.Context, req ResumeRequest) (ResumeResult, error)
}

// FailureRecorder receives every message the pipeline failed on.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, f audit.Failure) error
}

// Deduper records provider message ids. MarkProcessed returns false when the
// id was already seen.
type Deduper interface {
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// Observer receives pipeline outcomes for metrics.
type Observer interface {
	ObserveMessage(status string)
	ObserveStage(stage string)
}

type nopObserver struct{}

func (nopObserver) ObserveMessage(string) {}
func (nopObserver) ObserveStage(string)   {}
