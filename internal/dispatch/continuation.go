package dispatch

import (
	"context"
	"fmt"

	"github.com/wolfman30/fieldhand/internal/session"
)

// resume continues the phone's open dialog. handled is false only when a
// free-text resumer declines the message.
func (p *Pipeline) resume(ctx context.Context, t *turn, pending *session.PendingConfirmation) (handled bool, status Status, err error) {
	p.logger.Debug("resuming continuation", "phone", t.Phone, "tag", pending.Tag)

	switch payload := pending.Payload.(type) {
	case *session.ChooseSource:
		opt, ok, err := p.choose(ctx, t, payload)
		if !ok || err != nil {
			return true, statusFor(err), err
		}
		move := payload.Move
		move.Source, move.SourceID = opt.Label, opt.ID
		status, err := p.continueMove(ctx, t, payload.Kind, move)
		return true, status, err

	case *session.ChooseDestination:
		opt, ok, err := p.choose(ctx, t, payload)
		if !ok || err != nil {
			return true, statusFor(err), err
		}
		move := payload.Move
		move.Destination, move.DestinationID = opt.Label, opt.ID
		status, err := p.continueMove(ctx, t, payload.Kind, move)
		return true, status, err

	case *session.ChooseStockLocation:
		opt, ok, err := p.choose(ctx, t, payload)
		if !ok || err != nil {
			return true, statusFor(err), err
		}
		edit := payload.Edit
		edit.Location, edit.LocationID = opt.Label, opt.ID
		status, err := p.continueStockEdit(ctx, t, edit)
		return true, status, err

	case *session.ChooseStockCategory:
		opt, ok, err := p.choose(ctx, t, payload)
		if !ok || err != nil {
			return true, statusFor(err), err
		}
		edit := payload.Edit
		edit.Category, edit.CategoryID = opt.Label, opt.ID
		status, err := p.applyStockEdit(ctx, t, edit)
		return true, status, err

	case *session.ChooseTenant:
		opt, ok, err := p.choose(ctx, t, payload)
		if !ok || err != nil {
			return true, statusFor(err), err
		}
		status, err := p.switchTenant(ctx, t, opt.ID)
		return true, status, err

	case *session.PaymentSelection, *session.GrainLotSelection:
		return p.resumeFreeText(ctx, t, pending)

	case *session.StockEdit:
		status, err := p.resumeStockEdit(ctx, t, payload)
		return true, status, err

	case *session.ConfirmIntent:
		status, err := p.resumeConfirm(ctx, t, payload)
		return true, status, err

	default:
		return true, StatusError, fmt.Errorf("dispatch: no resumer for continuation %q", pending.Tag)
	}
}

func statusFor(err error) Status {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

// choose resolves an ordinal reply. On a bad reply it re-prompts, leaves the
// continuation as stored and returns ok=false.
func (p *Pipeline) choose(ctx context.Context, t *turn, payload session.Ordinal) (session.Option, bool, error) {
	options := payload.Choices()
	i, ok := parseOrdinal(t.Text, len(options))
	if !ok {
		p.logger.Debug("ordinal reply out of range", "phone", t.Phone, "text", t.Text, "options", len(options))
		return session.Option{}, false, p.send(ctx, t.Phone, ordinalReprompt(options))
	}
	return options[i-1], true, nil
}

func (p *Pipeline) resumeFreeText(ctx context.Context, t *turn, pending *session.PendingConfirmation) (bool, Status, error) {
	resumer := p.resumers[pending.Tag]
	if resumer == nil {
		p.logger.Warn("no resumer for free-text continuation", "phone", t.Phone, "tag", pending.Tag)
		return false, StatusOK, nil
	}
	result, err := resumer.Resume(ctx, ResumeRequest{
		Actor:   t.actor,
		Phone:   t.Phone,
		Pending: *pending,
		Text:    t.Text,
	})
	if err != nil {
		return true, StatusError, fmt.Errorf("dispatch: resume %s: %w", pending.Tag, err)
	}
	if !result.Consumed {
		return false, StatusOK, nil
	}
	if err := p.settle(ctx, t.Phone, result.Reply.Next, result.Done); err != nil {
		return true, StatusError, err
	}
	status, err := p.reply(ctx, t.Phone, result.Reply)
	return true, status, err
}

// openChoice stores an ordinal continuation and asks the question.
func (p *Pipeline) openChoice(ctx context.Context, t *turn, payload session.Ordinal, question string) (Status, error) {
	if err := p.save(ctx, t.Phone, payload); err != nil {
		return StatusError, err
	}
	return p.reply(ctx, t.Phone, ordinalPrompt(question, payload.Choices()))
}
