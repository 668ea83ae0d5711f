package erp

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/wolfman30/fieldhand/internal/dispatch"
	"github.com/wolfman30/fieldhand/internal/identity"
	"github.com/wolfman30/fieldhand/internal/intent"
	"github.com/wolfman30/fieldhand/internal/media"
	"github.com/wolfman30/fieldhand/internal/session"
)

const (
	pathIntents       = "/api/v1/assistant/intents"
	pathButtons       = "/api/v1/assistant/buttons"
	pathDocuments     = "/api/v1/assistant/documents"
	pathContinuations = "/api/v1/assistant/continuations"
)

// replyBody is the common response of every assistant endpoint. Next, when
// present, is a continuation such as {"tag":"payment_selection","payload":{...}}.
type replyBody struct {
	Reply   string                       `json:"reply"`
	Options []dispatch.Option            `json:"options,omitempty"`
	Next    *session.PendingConfirmation `json:"next,omitempty"`
}

func (r replyBody) toReply() dispatch.Reply {
	reply := dispatch.Reply{Text: r.Reply, Options: r.Options}
	if r.Next != nil {
		reply.Next = r.Next.Payload
	}
	return reply
}

// call posts and converts a business rejection into a plain reply.
func (c *Client) call(ctx context.Context, path string, actor *identity.Actor, in any) (dispatch.Reply, error) {
	var out replyBody
	if err := c.post(ctx, path, actor, in, &out); err != nil {
		if msg, ok := rejection(err); ok {
			return dispatch.TextReply(msg), nil
		}
		return dispatch.Reply{}, err
	}
	return out.toReply(), nil
}

type intentRequest struct {
	Phone  string        `json:"phone"`
	Intent intent.Intent `json:"intent"`
}

// Handle implements dispatch.IntentHandler for every tag.
func (c *Client) Handle(ctx context.Context, req dispatch.IntentRequest) (dispatch.Reply, error) {
	reply, err := c.call(ctx, pathIntents, req.Actor, intentRequest{Phone: req.Phone, Intent: req.Intent})
	if err != nil {
		return dispatch.Reply{}, fmt.Errorf("erp: %s: %w", req.Intent.Tag, err)
	}
	return reply, nil
}

// IntentHandlers maps every intent tag to the client.
func (c *Client) IntentHandlers() map[intent.Tag]dispatch.IntentHandler {
	out := make(map[intent.Tag]dispatch.IntentHandler, len(intent.AllTags()))
	for _, tag := range intent.AllTags() {
		out[tag] = c
	}
	return out
}

type buttonRequest struct {
	Phone    string `json:"phone"`
	Prefix   string `json:"prefix"`
	ButtonID string `json:"button_id"`
}

func (c *Client) HandleButton(ctx context.Context, req dispatch.ButtonRequest) (dispatch.Reply, error) {
	return c.call(ctx, pathButtons, req.Actor, buttonRequest{Phone: req.Phone, Prefix: req.Prefix, ButtonID: req.ButtonID})
}

// ButtonHandlers maps every handler prefix to the client.
func (c *Client) ButtonHandlers() map[string]dispatch.ButtonHandler {
	out := make(map[string]dispatch.ButtonHandler, len(dispatch.HandlerPrefixes))
	for _, prefix := range dispatch.HandlerPrefixes {
		out[prefix] = c
	}
	return out
}

type documentRequest struct {
	Phone       string `json:"phone"`
	ContentType string `json:"content_type"`
	Caption     string `json:"caption,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	ArchiveKey  string `json:"archive_key,omitempty"`
	// ImageBase64 is sent only when no archive URL is available.
	ImageBase64 string `json:"image_base64,omitempty"`
}

// SubmitImage implements media.OCRSubmitter.
func (c *Client) SubmitImage(ctx context.Context, actor *identity.Actor, phone string, img media.Image) (dispatch.Reply, error) {
	req := documentRequest{
		Phone:       phone,
		ContentType: img.ContentType,
		Caption:     img.Caption,
		ImageURL:    img.ArchiveURL,
		ArchiveKey:  img.ArchiveKey,
	}
	if req.ImageURL == "" {
		req.ImageBase64 = base64.StdEncoding.EncodeToString(img.Data)
	}
	return c.call(ctx, pathDocuments, actor, req)
}

type continuationRequest struct {
	Phone   string                      `json:"phone"`
	Pending session.PendingConfirmation `json:"pending"`
	Text    string                      `json:"text"`
}

type continuationResponse struct {
	replyBody
	Consumed bool `json:"consumed"`
	Done     bool `json:"done"`
}

// Resume implements dispatch.FreeTextResumer for selections the
// management API opened.
func (c *Client) Resume(ctx context.Context, req dispatch.ResumeRequest) (dispatch.ResumeResult, error) {
	var out continuationResponse
	err := c.post(ctx, pathContinuations, req.Actor, continuationRequest{Phone: req.Phone, Pending: req.Pending, Text: req.Text}, &out)
	if msg, ok := rejection(err); ok {
		return dispatch.ResumeResult{Consumed: true, Reply: dispatch.TextReply(msg)}, nil
	}
	if err != nil {
		return dispatch.ResumeResult{}, fmt.Errorf("erp: resume %s: %w", req.Pending.Tag, err)
	}
	return dispatch.ResumeResult{Consumed: out.Consumed, Done: out.Done, Reply: out.toReply()}, nil
}

// Resumers maps the free-text continuation tags to the client.
func (c *Client) Resumers() map[session.Tag]dispatch.FreeTextResumer {
	return map[session.Tag]dispatch.FreeTextResumer{
		session.TagPaymentSelection:  c,
		session.TagGrainLotSelection: c,
	}
}
