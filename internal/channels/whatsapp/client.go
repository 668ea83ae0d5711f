package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultGraphAPIBase = "https://graph.facebook.com/v21.0"
	defaultHTTPTimeout  = 10 * time.Second
	maxMediaBytes       = 16 << 20

	// MaxButtons is the reply-button limit of an interactive message.
	MaxButtons     = 3
	maxButtonTitle = 20
)

// Client talks to the WhatsApp Cloud API for one business phone number.
type Client struct {
	accessToken   string
	phoneNumberID string
	graphAPIBase  string
	httpClient    *http.Client
}

func NewClient(accessToken, phoneNumberID string) *Client {
	return &Client{
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		graphAPIBase:  defaultGraphAPIBase,
		httpClient: &http.Client{
			Timeout:   defaultHTTPTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// SetGraphAPIBase overrides the Graph API base URL (useful for testing).
func (c *Client) SetGraphAPIBase(base string) {
	if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
		c.graphAPIBase = base
	}
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, to, text string) (string, error) {
	return c.send(ctx, SendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &SendText{Body: text},
	})
}

// SendButtons sends an interactive message with up to MaxButtons reply
// buttons. Titles longer than the API allows are truncated.
func (c *Client) SendButtons(ctx context.Context, to, text string, buttons []ReplyItem) (string, error) {
	if len(buttons) == 0 || len(buttons) > MaxButtons {
		return "", fmt.Errorf("whatsapp: %d buttons not supported", len(buttons))
	}
	action := ButtonsAction{Buttons: make([]SendButton, 0, len(buttons))}
	for _, b := range buttons {
		action.Buttons = append(action.Buttons, SendButton{
			Type:  "reply",
			Reply: ReplyItem{ID: b.ID, Title: truncate(b.Title, maxButtonTitle)},
		})
	}
	return c.send(ctx, SendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
		Interactive: &SendInteractive{
			Type:   "button",
			Body:   SendText{Body: text},
			Action: action,
		},
	})
}

func (c *Client) send(ctx context.Context, req SendRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp: marshal send request: %w", err)
	}
	url := fmt.Sprintf("%s/%s/messages", c.graphAPIBase, c.phoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("whatsapp: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp SendResponse
	status, raw, err := c.do(httpReq, &resp)
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("whatsapp: API error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("whatsapp: unexpected status %d: %s", status, string(raw))
	}
	if len(resp.Messages) == 0 {
		return "", nil
	}
	return resp.Messages[0].ID, nil
}

// MediaInfo resolves a media id to its short-lived download URL.
func (c *Client) MediaInfo(ctx context.Context, mediaID string) (MediaInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", c.graphAPIBase, mediaID), nil)
	if err != nil {
		return MediaInfo{}, fmt.Errorf("whatsapp: create media request: %w", err)
	}
	var info MediaInfo
	status, raw, err := c.do(req, &info)
	if err != nil {
		return MediaInfo{}, err
	}
	if info.Error != nil {
		return MediaInfo{}, fmt.Errorf("whatsapp: media lookup error %d: %s", info.Error.Code, info.Error.Message)
	}
	if status != http.StatusOK || info.URL == "" {
		return MediaInfo{}, fmt.Errorf("whatsapp: media lookup status %d: %s", status, string(raw))
	}
	return info, nil
}

// DownloadMedia fetches the bytes behind a media id.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	info, err := c.MediaInfo(ctx, mediaID)
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("whatsapp: create download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("whatsapp: download media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("whatsapp: download media status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("whatsapp: read media: %w", err)
	}
	if len(data) > maxMediaBytes {
		return nil, "", fmt.Errorf("whatsapp: media %s exceeds %d bytes", mediaID, maxMediaBytes)
	}
	mime := info.MimeType
	if mime == "" {
		mime = resp.Header.Get("Content-Type")
	}
	return data, mime, nil
}

func (c *Client) do(req *http.Request, out any) (int, []byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("whatsapp: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("whatsapp: read response: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, raw, fmt.Errorf("whatsapp: unmarshal response (status %d): %w", resp.StatusCode, err)
		}
	}
	return resp.StatusCode, raw, nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
