// Package webchat is a browser development console that speaks to the
// pipeline as if it were a WhatsApp user.
package webchat

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/fieldhand/internal/dispatch"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

// Channel scopes console message ids in the idempotency store.
const Channel = "webchat"

// Sink receives each console message, usually a queue publisher.
type Sink func(ctx context.Context, msg dispatch.InboundMessage) error

// Handler manages console connections, one per simulated phone.
type Handler struct {
	sink   Sink
	logger *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*wsConn
}

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(msg OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return websocket.JSON.Send(c.conn, msg)
}

// InboundMessage is what the console sends.
type InboundMessage struct {
	Type     string `json:"type"` // "message", "button", "ping"
	Text     string `json:"text,omitempty"`
	ButtonID string `json:"button_id,omitempty"`
}

// OutboundMessage is what the console receives.
type OutboundMessage struct {
	Type      string            `json:"type"` // "message", "session", "pong", "error"
	Text      string            `json:"text,omitempty"`
	Options   []dispatch.Option `json:"options,omitempty"`
	Phone     string            `json:"phone,omitempty"`
	Timestamp string            `json:"timestamp,omitempty"`
}

func NewHandler(sink Sink, logger *logging.Logger) *Handler {
	if sink == nil {
		panic("webchat: sink cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{sink: sink, logger: logger, sessions: make(map[string]*wsConn)}
}

// HandleWebSocket upgrades GET /webchat/ws?phone=... and relays messages.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	phone := normalizePhone(r.URL.Query().Get("phone"))
	if phone == "" {
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "missing phone parameter"})
		return
	}

	wsc := &wsConn{conn: conn}
	h.mu.Lock()
	h.sessions[phone] = wsc
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.sessions[phone] == wsc {
			delete(h.sessions, phone)
		}
		h.mu.Unlock()
	}()

	_ = wsc.send(OutboundMessage{Type: "session", Phone: phone})
	h.logger.Info("webchat: connection opened", "phone", phone)

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("webchat: connection closed", "phone", phone, "error", err)
			return
		}
		switch msg.Type {
		case "ping":
			_ = wsc.send(OutboundMessage{Type: "pong"})
		case "message", "button":
			if err := h.submit(r.Context(), phone, msg); err != nil {
				_ = wsc.send(OutboundMessage{Type: "error", Text: "Sorry, something went wrong. Please try again."})
			}
		}
	}
}

func (h *Handler) submit(ctx context.Context, phone string, msg InboundMessage) error {
	in := dispatch.InboundMessage{
		ProviderMessageID: uuid.NewString(),
		Phone:             phone,
		Channel:           Channel,
		Type:              dispatch.TypeText,
		Text:              msg.Text,
		ReceivedAt:        time.Now().UTC(),
	}
	if msg.Type == "button" || msg.ButtonID != "" {
		in.Type = dispatch.TypeInteractive
		in.ButtonID = msg.ButtonID
	}
	if strings.TrimSpace(in.Text) == "" && in.ButtonID == "" {
		return nil
	}
	if err := h.sink(ctx, in); err != nil {
		h.logger.Error("webchat: failed to enqueue message", "error", err, "phone", phone)
		return err
	}
	return nil
}

// HandleMessage is the HTTP fallback: POST {"phone","text","button_id"}.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone    string `json:"phone"`
		Text     string `json:"text"`
		ButtonID string `json:"button_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	phone := normalizePhone(req.Phone)
	if phone == "" || (strings.TrimSpace(req.Text) == "" && req.ButtonID == "") {
		http.Error(w, "phone and text or button_id are required", http.StatusBadRequest)
		return
	}
	if err := h.submit(r.Context(), phone, InboundMessage{Text: req.Text, ButtonID: req.ButtonID}); err != nil {
		http.Error(w, "failed to enqueue message", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "queued", "phone": phone})
}

// Connected reports whether a console is open for phone.
func (h *Handler) Connected(phone string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[phone]
	return ok
}

// push delivers msg to the console open for phone, reporting false when
// there is none.
func (h *Handler) push(phone string, msg OutboundMessage) (bool, error) {
	h.mu.RLock()
	wsc, ok := h.sessions[phone]
	h.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, wsc.send(msg)
}

// normalizePhone keeps digits only, matching the WhatsApp wa_id format.
func normalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
