package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// Payload is the tag-specific body of an intent. The set of payload kinds is
// closed to this package.
type Payload interface {
	isPayload()
}

// Financial covers expenses, sales and purchases.
type Financial struct {
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency,omitempty"`
	Category     string  `json:"category,omitempty"`
	Counterparty string  `json:"counterparty,omitempty"`
	Description  string  `json:"description,omitempty"`
	Quantity     float64 `json:"quantity,omitempty"`
	Unit         string  `json:"unit,omitempty"`
	Date         string  `json:"date,omitempty"`
}

// LivestockEvent covers births, deaths, weighings and health treatments.
type LivestockEvent struct {
	Category string  `json:"category,omitempty"`
	Quantity int     `json:"quantity,omitempty"`
	Location string  `json:"location,omitempty"`
	WeightKg float64 `json:"weight_kg,omitempty"`
	Product  string  `json:"product,omitempty"`
	Cause    string  `json:"cause,omitempty"`
	Date     string  `json:"date,omitempty"`
	Note     string  `json:"note,omitempty"`
}

// Move relocates animals between locations. DestinationModule is set for
// cross-module transfers.
type Move struct {
	Category          string `json:"category,omitempty"`
	Quantity          int    `json:"quantity,omitempty"`
	Source            string `json:"source,omitempty"`
	SourceID          string `json:"source_id,omitempty"`
	Destination       string `json:"destination,omitempty"`
	DestinationID     string `json:"destination_id,omitempty"`
	DestinationModule string `json:"destination_module,omitempty"`
	Date              string `json:"date,omitempty"`
}

// StockAdjustment corrects the head count of one category at one location.
type StockAdjustment struct {
	Location   string `json:"location,omitempty"`
	LocationID string `json:"location_id,omitempty"`
	Category   string `json:"category,omitempty"`
	CategoryID string `json:"category_id,omitempty"`
	Quantity   int    `json:"quantity"`
}

type CalendarEvent struct {
	Title string `json:"title"`
	Date  string `json:"date,omitempty"`
	Time  string `json:"time,omitempty"`
	Note  string `json:"note,omitempty"`
}

type AgricultureEvent struct {
	Activity string  `json:"activity"`
	Crop     string  `json:"crop,omitempty"`
	Location string  `json:"location,omitempty"`
	AreaHa   float64 `json:"area_ha,omitempty"`
	Date     string  `json:"date,omitempty"`
	Note     string  `json:"note,omitempty"`
}

type SupplyEvent struct {
	Item     string  `json:"item"`
	Quantity float64 `json:"quantity,omitempty"`
	Unit     string  `json:"unit,omitempty"`
	Location string  `json:"location,omitempty"`
	Date     string  `json:"date,omitempty"`
}

type Rainfall struct {
	Millimeters float64 `json:"millimeters"`
	Location    string  `json:"location,omitempty"`
	Date        string  `json:"date,omitempty"`
}

type Note struct {
	Text string `json:"text"`
}

type GrazingReport struct {
	Location string `json:"location,omitempty"`
	Category string `json:"category,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
	Days     int    `json:"days,omitempty"`
	Note     string `json:"note,omitempty"`
}

// Query is the body of every read intent.
type Query struct {
	Question string `json:"question,omitempty"`
	Period   string `json:"period,omitempty"`
	Location string `json:"location,omitempty"`
}

func (*Financial) isPayload()        {}
func (*LivestockEvent) isPayload()   {}
func (*Move) isPayload()             {}
func (*StockAdjustment) isPayload()  {}
func (*CalendarEvent) isPayload()    {}
func (*AgricultureEvent) isPayload() {}
func (*SupplyEvent) isPayload()      {}
func (*Rainfall) isPayload()         {}
func (*Note) isPayload()             {}
func (*GrazingReport) isPayload()    {}
func (*Query) isPayload()            {}

// NewPayload returns an empty payload of the kind carried by tag, or nil for
// unknown tags.
func NewPayload(tag Tag) Payload {
	switch tag {
	case TagStockReport, TagFinanceReport, TagMap, TagDataQuery:
		return &Query{}
	case TagExpense, TagSale, TagPurchase:
		return &Financial{}
	case TagBirth, TagDeath, TagWeighing, TagHealthTreatment:
		return &LivestockEvent{}
	case TagCalendarEvent:
		return &CalendarEvent{}
	case TagAgricultureEvent:
		return &AgricultureEvent{}
	case TagSupplyEvent:
		return &SupplyEvent{}
	case TagRainfall:
		return &Rainfall{}
	case TagNote:
		return &Note{}
	case TagGrazingReport:
		return &GrazingReport{}
	case TagPaddockMove, TagCrossModuleMove:
		return &Move{}
	case TagStockEdit:
		return &StockAdjustment{}
	default:
		return nil
	}
}

var (
	ErrUnknownTag      = errors.New("intent: unknown tag")
	ErrPayloadMismatch = errors.New("intent: payload does not match tag")
)

// Intent is a classified request: a tag plus its matching payload.
type Intent struct {
	Tag     Tag
	Payload Payload
}

// New builds an intent and checks the payload kind against the tag.
func New(tag Tag, payload Payload) (Intent, error) {
	in := Intent{Tag: tag, Payload: payload}
	if err := in.Validate(); err != nil {
		return Intent{}, err
	}
	return in, nil
}

// Validate reports whether the payload kind is the one tag requires.
func (in Intent) Validate() error {
	want := NewPayload(in.Tag)
	if want == nil {
		return fmt.Errorf("%w: %q", ErrUnknownTag, in.Tag)
	}
	if in.Payload == nil || reflect.TypeOf(in.Payload) != reflect.TypeOf(want) {
		return fmt.Errorf("%w: %s carries %T", ErrPayloadMismatch, in.Tag, in.Payload)
	}
	return nil
}

type wireIntent struct {
	Tag     Tag             `json:"tag"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (in Intent) MarshalJSON() ([]byte, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("intent: marshal payload: %w", err)
	}
	return json.Marshal(wireIntent{Tag: in.Tag, Payload: raw})
}

func (in *Intent) UnmarshalJSON(data []byte) error {
	var wire wireIntent
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("intent: decode: %w", err)
	}
	payload := NewPayload(wire.Tag)
	if payload == nil {
		return fmt.Errorf("%w: %q", ErrUnknownTag, wire.Tag)
	}
	if len(wire.Payload) > 0 && string(wire.Payload) != "null" {
		if err := json.Unmarshal(wire.Payload, payload); err != nil {
			return fmt.Errorf("intent: decode %s payload: %w", wire.Tag, err)
		}
	}
	in.Tag = wire.Tag
	in.Payload = payload
	return nil
}

// Result is the classifier outcome. At most one of Intent and Error is set;
// when neither is, the text was not understood.
type Result struct {
	Intent *Intent
	Error  string
}

// None reports whether the classifier found nothing actionable.
func (r Result) None() bool {
	return r.Intent == nil && r.Error == ""
}

// Found wraps in as a successful result.
func Found(in Intent) Result {
	return Result{Intent: &in}
}

// Rejected is a result carrying a user-facing explanation.
func Rejected(msg string) Result {
	return Result{Error: msg}
}
