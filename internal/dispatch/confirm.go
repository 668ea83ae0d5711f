package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/fieldhand/internal/intent"
	"github.com/wolfman30/fieldhand/internal/session"
)

const (
	ButtonConfirmYes = "confirm_yes"
	ButtonConfirmNo  = "confirm_no"
)

type answer int

const (
	answerUnclear answer = iota
	answerYes
	answerNo
)

var (
	affirmatives = map[string]bool{
		"yes": true, "y": true, "yep": true, "yeah": true, "si": true, "sí": true,
		"ok": true, "okay": true, "confirm": true, "confirmar": true, "dale": true,
		"correct": true, "correcto": true, ButtonConfirmYes: true,
	}
	negatives = map[string]bool{
		"no": true, "n": true, "nope": true, "discard": true, "descartar": true,
		"wrong": true, ButtonConfirmNo: true,
	}
)

func parseAnswer(text string) answer {
	text = strings.ToLower(strings.TrimSpace(text))
	text = strings.TrimRight(text, ".!")
	switch {
	case affirmatives[text]:
		return answerYes
	case negatives[text]:
		return answerNo
	}
	return answerUnclear
}

var confirmButtons = []Option{
	{ID: ButtonConfirmYes, Title: "Yes"},
	{ID: ButtonConfirmNo, Title: "No"},
}

// openConfirm stores in for review and shows it to the user.
func (p *Pipeline) openConfirm(ctx context.Context, t *turn, in intent.Intent) (Status, error) {
	if err := p.save(ctx, t.Phone, &session.ConfirmIntent{Intent: in}); err != nil {
		return StatusError, err
	}
	return p.reply(ctx, t.Phone, Reply{Text: confirmPrompt(in), Options: confirmButtons})
}

func (p *Pipeline) resumeConfirm(ctx context.Context, t *turn, pending *session.ConfirmIntent) (Status, error) {
	switch parseAnswer(t.Text) {
	case answerYes:
		return p.apply(ctx, t, pending.Intent)
	case answerNo:
		if err := p.clear(ctx, t.Phone); err != nil {
			return StatusError, err
		}
		return p.reply(ctx, t.Phone, TextReply(fmt.Sprintf(msgDiscarded, pending.Intent.Tag.Label())))
	default:
		return p.reply(ctx, t.Phone, Reply{
			Text:    fmt.Sprintf(msgConfirmReprompt, pending.Intent.Tag.Label()),
			Options: confirmButtons,
		})
	}
}
