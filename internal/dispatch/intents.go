package dispatch

import (
	"context"
	"fmt"

	"github.com/wolfman30/fieldhand/internal/identity"
	"github.com/wolfman30/fieldhand/internal/intent"
	"github.com/wolfman30/fieldhand/internal/session"
)

func (p *Pipeline) classify(ctx context.Context, t *turn) (Status, error) {
	p.stage(ctx, "classify")
	res, err := p.classifier.Classify(ctx, intent.Request{
		Text:       t.Text,
		Locations:  t.actor.LocationNames(),
		Categories: t.actor.CategoryNames(),
		UserID:     t.actor.UserID,
	})
	if err != nil {
		return StatusError, fmt.Errorf("dispatch: classify: %w", err)
	}

	switch {
	case res.Error != "":
		return p.reply(ctx, t.Phone, TextReply(classificationProblem(res.Error, t.actor)))
	case res.None():
		return p.reply(ctx, t.Phone, TextReply(helpText(t.actor)))
	}
	return p.route(ctx, t, *res.Intent)
}

// route sends a classified intent down its path: reads run now, mutations
// wait for confirmation, moves and stock edits resolve locations first.
func (p *Pipeline) route(ctx context.Context, t *turn, in intent.Intent) (Status, error) {
	p.stage(ctx, "route")
	p.logger.Debug("intent classified", "phone", t.Phone, "tenant_id", t.actor.TenantID, "tag", in.Tag)

	switch in.Tag.Route() {
	case intent.RouteRead:
		reply, err := p.intents[in.Tag].Handle(ctx, IntentRequest{Actor: t.actor, Phone: t.Phone, Intent: in})
		if err != nil {
			return StatusError, fmt.Errorf("dispatch: %s handler: %w", in.Tag, err)
		}
		if err := p.settle(ctx, t.Phone, reply.Next, false); err != nil {
			return StatusError, err
		}
		return p.reply(ctx, t.Phone, reply)

	case intent.RouteConfirm:
		return p.openConfirm(ctx, t, in)

	case intent.RouteSpecial:
		switch payload := in.Payload.(type) {
		case *intent.Move:
			return p.continueMove(ctx, t, in.Tag, *payload)
		case *intent.StockAdjustment:
			return p.startStockEdit(ctx, t, *payload)
		}
	}
	return StatusError, fmt.Errorf("dispatch: no route for intent %q", in.Tag)
}

// locationOptions lists the tenant's locations except exclude.
func locationOptions(actor *identity.Actor, exclude string) []session.Option {
	out := make([]session.Option, 0, len(actor.Locations))
	for _, loc := range actor.Locations {
		if loc.ID == exclude {
			continue
		}
		out = append(out, session.Option{ID: loc.ID, Label: loc.Name})
	}
	return out
}

// continueMove resolves whichever side of a move is still open and, once
// both are known, asks for confirmation.
func (p *Pipeline) continueMove(ctx context.Context, t *turn, kind intent.Tag, move intent.Move) (Status, error) {
	if move.SourceID == "" {
		if loc, ok := t.actor.FindLocation(move.Source); ok {
			move.Source, move.SourceID = loc.Name, loc.ID
		}
	}
	if move.DestinationID == "" {
		if loc, ok := t.actor.FindLocation(move.Destination); ok {
			move.Destination, move.DestinationID = loc.Name, loc.ID
		}
	}

	if move.SourceID != "" && move.SourceID == move.DestinationID {
		if err := p.clear(ctx, t.Phone); err != nil {
			return StatusError, err
		}
		return p.reply(ctx, t.Phone, TextReply(fmt.Sprintf(msgSameLocation, move.Source)))
	}

	if move.SourceID == "" {
		options := locationOptions(t.actor, move.DestinationID)
		if len(options) == 0 {
			return p.noMoveLocations(ctx, t)
		}
		return p.openChoice(ctx, t, &session.ChooseSource{Kind: kind, Move: move, Options: options}, moveQuestion(move, true))
	}
	if move.DestinationID == "" {
		options := locationOptions(t.actor, move.SourceID)
		if len(options) == 0 {
			return p.noMoveLocations(ctx, t)
		}
		return p.openChoice(ctx, t, &session.ChooseDestination{Kind: kind, Move: move, Options: options}, moveQuestion(move, false))
	}

	in, err := intent.New(kind, &move)
	if err != nil {
		return StatusError, fmt.Errorf("dispatch: build move: %w", err)
	}
	return p.openConfirm(ctx, t, in)
}

func (p *Pipeline) noMoveLocations(ctx context.Context, t *turn) (Status, error) {
	if err := p.clear(ctx, t.Phone); err != nil {
		return StatusError, err
	}
	return p.reply(ctx, t.Phone, TextReply(fmt.Sprintf(msgNotEnoughLocations, t.actor.TenantName)))
}
