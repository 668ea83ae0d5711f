package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/fieldhand/internal/registration"
	"github.com/wolfman30/fieldhand/internal/session"
)

// register handles invite tokens and pending registrations. A phone with a
// pending registration can only complete it; handled is then always true.
func (p *Pipeline) register(ctx context.Context, t *turn) (handled bool, status Status, err error) {
	if registration.IsToken(t.Text) {
		p.stage(ctx, "registration")
		status, err := p.redeemToken(ctx, t.Phone, registration.NormalizeToken(t.Text))
		return true, status, err
	}

	reg, err := p.store.GetRegistration(ctx, t.Phone)
	if err != nil {
		return true, StatusError, fmt.Errorf("dispatch: load registration: %w", err)
	}
	if reg == nil {
		return false, StatusOK, nil
	}
	p.stage(ctx, "registration")
	status, err = p.completeRegistration(ctx, t, reg)
	return true, status, err
}

// inviteProblem maps invite sentinels to a corrective reply.
func inviteProblem(err error) (string, bool) {
	switch {
	case errors.Is(err, registration.ErrInviteNotFound):
		return msgInviteNotFound, true
	case errors.Is(err, registration.ErrInviteExpired):
		return msgInviteExpired, true
	case errors.Is(err, registration.ErrInviteRedeemed):
		return msgInviteRedeemed, true
	}
	return "", false
}

func (p *Pipeline) redeemToken(ctx context.Context, phone, token string) (Status, error) {
	invite, err := p.invites.Lookup(ctx, token)
	if msg, ok := inviteProblem(err); ok {
		return p.reply(ctx, phone, TextReply(msg))
	}
	if err != nil {
		return StatusError, fmt.Errorf("dispatch: look up invite: %w", err)
	}

	actor, err := p.resolve(ctx, phone)
	if err != nil {
		return StatusError, err
	}
	if actor != nil && actor.DisplayName != "" {
		// Already registered: join the new tenant under the existing name.
		if _, err := p.invites.Redeem(ctx, registration.Redemption{
			Token:       invite.Token,
			Phone:       phone,
			DisplayName: actor.DisplayName,
		}); err != nil {
			if msg, ok := inviteProblem(err); ok {
				return p.reply(ctx, phone, TextReply(msg))
			}
			return StatusError, fmt.Errorf("dispatch: redeem invite: %w", err)
		}
		p.invalidate(ctx, phone)
		p.logger.Info("existing user joined tenant", "phone", phone, "user_id", actor.UserID, "tenant_id", invite.TenantID)
		return p.reply(ctx, phone, TextReply(fmt.Sprintf(msgJoinedTenant, invite.TenantName)))
	}

	if err := p.store.UpsertRegistration(ctx, session.PendingRegistration{
		Phone:       phone,
		InviteToken: invite.Token,
		TenantID:    invite.TenantID,
		CreatedAt:   p.now().UTC(),
	}); err != nil {
		return StatusError, fmt.Errorf("dispatch: save registration: %w", err)
	}
	return p.reply(ctx, phone, TextReply(fmt.Sprintf(msgAskName, invite.TenantName)))
}

func (p *Pipeline) completeRegistration(ctx context.Context, t *turn, reg *session.PendingRegistration) (Status, error) {
	name, err := registration.CleanName(t.Text)
	switch {
	case errors.Is(err, registration.ErrNameBlank):
		return p.reply(ctx, t.Phone, TextReply(msgNameBlank))
	case errors.Is(err, registration.ErrNameTooLong):
		return p.reply(ctx, t.Phone, TextReply(fmt.Sprintf(msgNameTooLong, registration.MaxNameLength)))
	case err != nil:
		return StatusError, fmt.Errorf("dispatch: clean name: %w", err)
	}

	userID, err := p.invites.Redeem(ctx, registration.Redemption{
		Token:       reg.InviteToken,
		Phone:       t.Phone,
		DisplayName: name,
	})
	if msg, ok := inviteProblem(err); ok {
		if _, derr := p.store.DeleteRegistration(ctx, t.Phone); derr != nil {
			return StatusError, fmt.Errorf("dispatch: delete registration: %w", derr)
		}
		return p.reply(ctx, t.Phone, TextReply(msg))
	}
	if err != nil {
		return StatusError, fmt.Errorf("dispatch: redeem invite: %w", err)
	}

	if _, err := p.store.DeleteRegistration(ctx, t.Phone); err != nil {
		return StatusError, fmt.Errorf("dispatch: delete registration: %w", err)
	}
	p.invalidate(ctx, t.Phone)
	p.logger.Info("user registered", "phone", t.Phone, "user_id", userID, "tenant_id", reg.TenantID)
	return p.reply(ctx, t.Phone, TextReply(fmt.Sprintf(msgWelcome, name)))
}
