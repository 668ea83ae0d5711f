// Package session persists the per-phone conversation state: the single
// pending confirmation a user may have open, and the pending registration of
// a user who has sent an invite code but not yet their name.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/fieldhand/internal/intent"
)

// Tag identifies the kind of continuation stored for a phone. Besides the
// constants below, any intent tag may be used for a ConfirmIntent payload.
type Tag string

const (
	TagChooseSource        Tag = "choose_source_location"
	TagChooseDestination   Tag = "choose_destination_location"
	TagChooseStockLocation Tag = "choose_stock_location"
	TagChooseStockCategory Tag = "choose_stock_category"
	TagChooseTenant        Tag = "choose_tenant"
	TagPaymentSelection    Tag = "payment_selection"
	TagGrainLotSelection   Tag = "grain_lot_selection"
	TagStockEdit           Tag = "stock_edit"
)

var ErrUnknownTag = errors.New("session: unknown continuation tag")

// Option is one numbered choice offered to the user.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Payload is the tag-specific body of a continuation.
type Payload interface {
	isPayload()
}

// Ordinal is implemented by payloads answered with a 1-based index.
type Ordinal interface {
	Payload
	Choices() []Option
}

// ChooseSource and ChooseDestination carry the move being built. Kind is
// paddock_move or cross_module_move.
type ChooseSource struct {
	Kind    intent.Tag  `json:"kind"`
	Move    intent.Move `json:"move"`
	Options []Option    `json:"options"`
}

type ChooseDestination struct {
	Kind    intent.Tag  `json:"kind"`
	Move    intent.Move `json:"move"`
	Options []Option    `json:"options"`
}

type ChooseStockLocation struct {
	Edit    intent.StockAdjustment `json:"edit"`
	Options []Option               `json:"options"`
}

type ChooseStockCategory struct {
	Edit    intent.StockAdjustment `json:"edit"`
	Options []Option               `json:"options"`
}

type ChooseTenant struct {
	Options []Option `json:"options"`
}

// PaymentSelection waits for the user to pick which open invoice a payment
// settles. Resolution belongs to the management application.
type PaymentSelection struct {
	Reference  string   `json:"reference"`
	Candidates []Option `json:"candidates"`
}

// GrainLotSelection waits for the user to pick the grain lot a sale draws from.
type GrainLotSelection struct {
	Reference  string   `json:"reference"`
	Candidates []Option `json:"candidates"`
}

// StockEdit waits for "<quantity> <category>" at a resolved location.
type StockEdit struct {
	LocationID   string `json:"location_id"`
	LocationName string `json:"location_name"`
}

// ConfirmIntent holds a classified mutation awaiting yes/no.
type ConfirmIntent struct {
	Intent intent.Intent `json:"intent"`
}

func (*ChooseSource) isPayload()        {}
func (*ChooseDestination) isPayload()   {}
func (*ChooseStockLocation) isPayload() {}
func (*ChooseStockCategory) isPayload() {}
func (*ChooseTenant) isPayload()        {}
func (*PaymentSelection) isPayload()    {}
func (*GrainLotSelection) isPayload()   {}
func (*StockEdit) isPayload()           {}
func (*ConfirmIntent) isPayload()       {}

func (p *ChooseSource) Choices() []Option        { return p.Options }
func (p *ChooseDestination) Choices() []Option   { return p.Options }
func (p *ChooseStockLocation) Choices() []Option { return p.Options }
func (p *ChooseStockCategory) Choices() []Option { return p.Options }
func (p *ChooseTenant) Choices() []Option        { return p.Options }

// TagOf returns the tag a payload is stored under.
func TagOf(p Payload) (Tag, error) {
	switch v := p.(type) {
	case *ChooseSource:
		return TagChooseSource, nil
	case *ChooseDestination:
		return TagChooseDestination, nil
	case *ChooseStockLocation:
		return TagChooseStockLocation, nil
	case *ChooseStockCategory:
		return TagChooseStockCategory, nil
	case *ChooseTenant:
		return TagChooseTenant, nil
	case *PaymentSelection:
		return TagPaymentSelection, nil
	case *GrainLotSelection:
		return TagGrainLotSelection, nil
	case *StockEdit:
		return TagStockEdit, nil
	case *ConfirmIntent:
		if err := v.Intent.Validate(); err != nil {
			return "", fmt.Errorf("session: confirm payload: %w", err)
		}
		if v.Intent.Tag == intent.TagStockEdit {
			return "", fmt.Errorf("%w: stock edits are applied, not confirmed", ErrUnknownTag)
		}
		return Tag(v.Intent.Tag), nil
	default:
		return "", fmt.Errorf("%w: payload %T", ErrUnknownTag, p)
	}
}

func newPayload(tag Tag) (Payload, error) {
	switch tag {
	case TagChooseSource:
		return &ChooseSource{}, nil
	case TagChooseDestination:
		return &ChooseDestination{}, nil
	case TagChooseStockLocation:
		return &ChooseStockLocation{}, nil
	case TagChooseStockCategory:
		return &ChooseStockCategory{}, nil
	case TagChooseTenant:
		return &ChooseTenant{}, nil
	case TagPaymentSelection:
		return &PaymentSelection{}, nil
	case TagGrainLotSelection:
		return &GrainLotSelection{}, nil
	case TagStockEdit:
		return &StockEdit{}, nil
	}
	// stock_edit is taken above: a stock edit intent is never confirmed as-is.
	if intent.Tag(tag).Valid() {
		return &ConfirmIntent{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
}

// PendingConfirmation is the one open dialog a phone may have.
type PendingConfirmation struct {
	Phone     string
	Tag       Tag
	Payload   Payload
	CreatedAt time.Time
}

// NewPending builds a continuation, deriving the tag from the payload.
func NewPending(phone string, payload Payload, now time.Time) (PendingConfirmation, error) {
	tag, err := TagOf(payload)
	if err != nil {
		return PendingConfirmation{}, err
	}
	return PendingConfirmation{Phone: phone, Tag: tag, Payload: payload, CreatedAt: now.UTC()}, nil
}

type wirePending struct {
	Phone     string          `json:"phone"`
	Tag       Tag             `json:"tag"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func (p PendingConfirmation) MarshalJSON() ([]byte, error) {
	tag, err := TagOf(p.Payload)
	if err != nil {
		return nil, err
	}
	if p.Tag != "" && p.Tag != tag {
		return nil, fmt.Errorf("session: tag %q does not match payload %T", p.Tag, p.Payload)
	}
	raw, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("session: marshal payload: %w", err)
	}
	return json.Marshal(wirePending{Phone: p.Phone, Tag: tag, Payload: raw, CreatedAt: p.CreatedAt})
}

func (p *PendingConfirmation) UnmarshalJSON(data []byte) error {
	var wire wirePending
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("session: decode continuation: %w", err)
	}
	payload, err := newPayload(wire.Tag)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(wire.Payload, payload); err != nil {
		return fmt.Errorf("session: decode %s payload: %w", wire.Tag, err)
	}
	if ci, ok := payload.(*ConfirmIntent); ok && Tag(ci.Intent.Tag) != wire.Tag {
		return fmt.Errorf("session: confirm payload tag %q stored under %q", ci.Intent.Tag, wire.Tag)
	}
	*p = PendingConfirmation{Phone: wire.Phone, Tag: wire.Tag, Payload: payload, CreatedAt: wire.CreatedAt}
	return nil
}

// PendingRegistration marks a phone that redeemed an invite code and owes us
// a display name.
type PendingRegistration struct {
	Phone       string    `json:"phone"`
	InviteToken string    `json:"invite_token"`
	TenantID    string    `json:"tenant_id"`
	CreatedAt   time.Time `json:"created_at"`
}
