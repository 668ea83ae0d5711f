package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/fieldhand/internal/commands"
	"github.com/wolfman30/fieldhand/internal/identity"
)

// turn is one canonical text command and, once resolved, its sender.
type turn struct {
	CanonicalMessage
	actor *identity.Actor
}

// intake reduces msg to a canonical text command or handles it outright.
func (p *Pipeline) intake(ctx context.Context, msg InboundMessage) (Status, error) {
	canonical := CanonicalMessage{Phone: msg.Phone, Channel: msg.Channel}

	switch msg.Type {
	case TypeImage:
		p.stage(ctx, "image")
		return p.handleImage(ctx, msg)

	case TypeInteractive:
		id := strings.TrimSpace(msg.ButtonID)
		if id == "" {
			id = strings.TrimSpace(msg.Text)
		}
		if prefix, ok := matchPrefix(id); ok {
			p.stage(ctx, "button")
			return p.handleButton(ctx, msg.Phone, id, prefix)
		}
		canonical.ButtonID = id
		canonical.Text = id

	case TypeText:
		canonical.Text = strings.TrimSpace(msg.Text)

	case TypeAudio:
		p.stage(ctx, "transcribe")
		if p.transcriber == nil {
			status, err := p.reply(ctx, msg.Phone, TextReply(msgUnsupported))
			if err != nil {
				return status, err
			}
			return StatusUnsupported, nil
		}
		text, err := p.transcriber.Transcribe(ctx, msg)
		text = strings.TrimSpace(text)
		if err != nil || text == "" {
			p.logger.Warn("voice note not transcribed", "phone", msg.Phone, "media_ref", msg.MediaRef, "error", err)
			return StatusTranscriptionFailed, nil
		}
		canonical.Text = text

	default:
		p.logger.Info("unsupported message type", "phone", msg.Phone, "type", msg.Type)
		status, err := p.reply(ctx, msg.Phone, TextReply(msgUnsupported))
		if err != nil {
			return status, err
		}
		return StatusUnsupported, nil
	}

	return p.handleText(ctx, &turn{CanonicalMessage: canonical})
}

func (p *Pipeline) handleImage(ctx context.Context, msg InboundMessage) (Status, error) {
	actor, err := p.resolve(ctx, msg.Phone)
	if err != nil {
		return StatusError, err
	}
	if actor == nil {
		return p.reply(ctx, msg.Phone, TextReply(msgUnknownPhone))
	}
	if p.images == nil {
		status, err := p.reply(ctx, msg.Phone, TextReply(msgUnsupported))
		if err != nil {
			return status, err
		}
		return StatusUnsupported, nil
	}
	reply, err := p.images.HandleImage(ctx, ImageRequest{Actor: actor, Message: msg})
	if err != nil {
		return StatusError, fmt.Errorf("dispatch: image handler: %w", err)
	}
	if err := p.settle(ctx, msg.Phone, reply.Next, false); err != nil {
		return StatusError, err
	}
	return p.reply(ctx, msg.Phone, reply)
}

func (p *Pipeline) handleButton(ctx context.Context, phone, id, prefix string) (Status, error) {
	actor, err := p.resolve(ctx, phone)
	if err != nil {
		return StatusError, err
	}
	if actor == nil {
		return p.reply(ctx, phone, TextReply(msgUnknownPhone))
	}
	t := &turn{CanonicalMessage: CanonicalMessage{Phone: phone, Text: id, ButtonID: id}, actor: actor}

	if prefix == PrefixTenant {
		return p.switchTenant(ctx, t, id[len(PrefixTenant):])
	}
	reply, err := p.buttons[prefix].HandleButton(ctx, ButtonRequest{Actor: actor, Phone: phone, ButtonID: id, Prefix: prefix})
	if err != nil {
		return StatusError, fmt.Errorf("dispatch: %s button handler: %w", strings.TrimSuffix(prefix, "_"), err)
	}
	if err := p.settle(ctx, phone, reply.Next, false); err != nil {
		return StatusError, err
	}
	return p.reply(ctx, phone, reply)
}

// handleText runs the text precedence chain: fast path, registration,
// identity, open continuation, classification.
func (p *Pipeline) handleText(ctx context.Context, t *turn) (Status, error) {
	p.stage(ctx, "fast_path")
	cmd := p.commands.Match(t.Text)
	switch cmd {
	case commands.Cancel:
		return p.cancel(ctx, t.Phone)
	case commands.SwitchTenant:
		return p.promptTenants(ctx, t.Phone)
	}

	if handled, status, err := p.register(ctx, t); handled || err != nil {
		return status, err
	}

	actor, err := p.resolve(ctx, t.Phone)
	if err != nil {
		return StatusError, err
	}
	if actor == nil {
		return p.reply(ctx, t.Phone, TextReply(msgUnknownPhone))
	}
	t.actor = actor

	pending, err := p.store.Get(ctx, t.Phone)
	if err != nil {
		return StatusError, fmt.Errorf("dispatch: load continuation: %w", err)
	}
	if pending != nil {
		p.stage(ctx, "continuation")
		handled, status, err := p.resume(ctx, t, pending)
		if handled || err != nil {
			return status, err
		}
	}

	if cmd == commands.Help || t.Text == "" {
		return p.reply(ctx, t.Phone, TextReply(helpText(actor)))
	}
	return p.classify(ctx, t)
}

func (p *Pipeline) cancel(ctx context.Context, phone string) (Status, error) {
	existed, err := p.store.Delete(ctx, phone)
	if err != nil {
		return StatusError, fmt.Errorf("dispatch: cancel continuation: %w", err)
	}
	regExisted, err := p.store.DeleteRegistration(ctx, phone)
	if err != nil {
		return StatusError, fmt.Errorf("dispatch: cancel registration: %w", err)
	}
	switch {
	case existed:
		return p.reply(ctx, phone, TextReply(msgCancelled))
	case regExisted:
		return p.reply(ctx, phone, TextReply(msgRegistrationCancelled))
	default:
		return p.reply(ctx, phone, TextReply(msgNothingToCancel))
	}
}

func (p *Pipeline) promptTenants(ctx context.Context, phone string) (Status, error) {
	actor, err := p.resolve(ctx, phone)
	if err != nil {
		return StatusError, err
	}
	if actor == nil {
		return p.reply(ctx, phone, TextReply(msgUnknownPhone))
	}
	tenants, err := p.directory.ListTenants(ctx, actor.UserID)
	if err != nil {
		return StatusError, fmt.Errorf("dispatch: list tenants: %w", err)
	}
	if len(tenants) <= 1 {
		return p.reply(ctx, phone, TextReply(fmt.Sprintf(msgSingleTenant, actor.TenantName)))
	}

	choice := tenantChoice(actor, tenants)
	if err := p.save(ctx, phone, choice); err != nil {
		return StatusError, err
	}
	return p.reply(ctx, phone, tenantPrompt(choice))
}

func (p *Pipeline) switchTenant(ctx context.Context, t *turn, tenantID string) (Status, error) {
	tenants, err := p.directory.ListTenants(ctx, t.actor.UserID)
	if err != nil {
		return StatusError, fmt.Errorf("dispatch: list tenants: %w", err)
	}
	var target *identity.Tenant
	for i := range tenants {
		if strings.EqualFold(tenants[i].ID, tenantID) {
			target = &tenants[i]
			break
		}
	}
	if target == nil {
		if err := p.clear(ctx, t.Phone); err != nil {
			return StatusError, err
		}
		return p.reply(ctx, t.Phone, TextReply(msgTenantUnavailable))
	}

	if err := p.directory.SetActiveTenant(ctx, t.actor.UserID, target.ID); err != nil {
		if errors.Is(err, identity.ErrNotMember) {
			if err := p.clear(ctx, t.Phone); err != nil {
				return StatusError, err
			}
			return p.reply(ctx, t.Phone, TextReply(msgTenantUnavailable))
		}
		return StatusError, fmt.Errorf("dispatch: set active tenant: %w", err)
	}
	p.invalidate(ctx, t.Phone)
	// Any open dialog refers to the previous tenant's locations.
	if err := p.clear(ctx, t.Phone); err != nil {
		return StatusError, err
	}
	p.logger.Info("active tenant switched", "phone", t.Phone, "user_id", t.actor.UserID, "tenant_id", target.ID)
	return p.reply(ctx, t.Phone, TextReply(fmt.Sprintf(msgTenantSwitched, target.Name)))
}
