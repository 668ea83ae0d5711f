package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/fieldhand/internal/dispatch"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

// Channel scopes provider message ids in the idempotency store.
const Channel = "whatsapp"

const maxWebhookBody = 1 << 20

// Sink receives each parsed inbound message, usually a queue publisher.
type Sink func(ctx context.Context, msg dispatch.InboundMessage) error

type inboundObserver interface {
	ObserveInbound(channel, result string)
}

// WebhookHandler handles WhatsApp webhook verification and inbound messages.
type WebhookHandler struct {
	verifyToken string
	appSecret   string
	sink        Sink
	logger      *logging.Logger
	metrics     inboundObserver
}

func NewWebhookHandler(verifyToken, appSecret string, sink Sink, logger *logging.Logger) *WebhookHandler {
	if sink == nil {
		panic("whatsapp: sink cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		sink:        sink,
		logger:      logger,
	}
}

// WithMetrics records one inbound result per parsed message.
func (h *WebhookHandler) WithMetrics(m inboundObserver) *WebhookHandler {
	h.metrics = m
	return h
}

// HandleVerification answers the GET challenge Meta sends when the webhook
// is registered.
func (h *WebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	challenge, ok := VerifyChallenge(h.verifyToken, r.URL.Query().Get("hub.mode"), r.URL.Query().Get("hub.verify_token"), r.URL.Query().Get("hub.challenge"))
	if !ok {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, challenge)
}

// HandleInbound verifies and parses a POST and hands each message to the
// sink. A sink failure returns 500 so Meta redelivers; duplicates are
// dropped downstream.
func (h *WebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if !VerifySignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		h.observe("rejected")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	messages, err := ParsePayload(body)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	for _, msg := range messages {
		if err := h.sink(r.Context(), msg); err != nil {
			h.logger.Error("whatsapp: failed to enqueue inbound message", "error", err, "phone", msg.Phone, "provider_message_id", msg.ProviderMessageID)
			h.observe("error")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		h.observe("enqueued")
	}
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) observe(result string) {
	if h.metrics != nil {
		h.metrics.ObserveInbound(Channel, result)
	}
}

// VerifyChallenge returns the challenge to echo when mode and token match.
func VerifyChallenge(verifyToken, mode, token, challenge string) (string, bool) {
	if verifyToken == "" || mode != "subscribe" || token != verifyToken {
		return "", false
	}
	return challenge, true
}

// ParsePayload decodes a webhook body into inbound messages.
func ParsePayload(body []byte) ([]dispatch.InboundMessage, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("whatsapp: decode webhook: %w", err)
	}
	return ParseWebhookEvent(event), nil
}

// ParseWebhookEvent flattens user messages out of an event. Delivery
// receipts are ignored.
func ParseWebhookEvent(event WebhookEvent) []dispatch.InboundMessage {
	var out []dispatch.InboundMessage
	for _, entry := range event.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			for _, m := range change.Value.Messages {
				out = append(out, toInbound(m))
			}
		}
	}
	return out
}

func toInbound(m WebhookMessage) dispatch.InboundMessage {
	msg := dispatch.InboundMessage{
		ProviderMessageID: m.ID,
		Phone:             m.From,
		Channel:           Channel,
		Type:              dispatch.MessageType(m.Type),
		ReceivedAt:        parseTimestamp(m.Timestamp),
	}

	switch m.Type {
	case "text":
		if m.Text != nil {
			msg.Text = m.Text.Body
		}
	case "interactive":
		if m.Interactive != nil {
			reply := m.Interactive.ButtonReply
			if reply == nil {
				reply = m.Interactive.ListReply
			}
			if reply != nil {
				msg.ButtonID, msg.Text = reply.ID, reply.Title
			}
		}
	case "button":
		msg.Type = dispatch.TypeInteractive
		if m.Button != nil {
			msg.ButtonID, msg.Text = m.Button.Payload, m.Button.Text
		}
	case "audio", "voice":
		msg.Type = dispatch.TypeAudio
		if m.Audio != nil {
			msg.MediaRef, msg.MediaMIME = m.Audio.ID, m.Audio.MimeType
		}
	case "image":
		if m.Image != nil {
			msg.MediaRef, msg.MediaMIME, msg.Text = m.Image.ID, m.Image.MimeType, m.Image.Caption
		}
	}
	return msg
}

func parseTimestamp(raw string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}

// VerifySignature checks the X-Hub-Signature-256 header ("sha256=<hex>").
func VerifySignature(appSecret string, body []byte, signature string) bool {
	const prefix = "sha256="
	if appSecret == "" || !strings.HasPrefix(signature, prefix) || len(signature) == len(prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature[len(prefix):])))
}
