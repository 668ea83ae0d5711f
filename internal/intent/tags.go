// Package intent defines the closed set of business intents the assistant
// understands, their payloads, and the adapter that asks an LLM to classify
// free text into one of them.
package intent

import "strings"

// Tag identifies a classified intent.
type Tag string

const (
	TagStockReport   Tag = "stock_report"
	TagFinanceReport Tag = "finance_report"
	TagMap           Tag = "map"
	TagDataQuery     Tag = "data_query"

	TagExpense  Tag = "expense"
	TagSale     Tag = "sale"
	TagPurchase Tag = "purchase"

	TagBirth            Tag = "birth"
	TagDeath            Tag = "death"
	TagWeighing         Tag = "weighing"
	TagHealthTreatment  Tag = "health_treatment"
	TagCalendarEvent    Tag = "calendar_event"
	TagAgricultureEvent Tag = "agriculture_event"
	TagSupplyEvent      Tag = "supply_event"
	TagRainfall         Tag = "rainfall"
	TagNote             Tag = "note"
	TagGrazingReport    Tag = "grazing_report"

	TagPaddockMove     Tag = "paddock_move"
	TagCrossModuleMove Tag = "cross_module_move"
	TagStockEdit       Tag = "stock_edit"
)

// Route describes how the dispatcher treats an intent.
type Route int

const (
	RouteUnknown Route = iota
	// RouteRead intents run immediately and never create a continuation.
	RouteRead
	// RouteConfirm intents are stored for a yes/no review before running.
	RouteConfirm
	// RouteSpecial intents resolve locations before any confirmation.
	RouteSpecial
)

func (r Route) String() string {
	switch r {
	case RouteRead:
		return "read"
	case RouteConfirm:
		return "confirm"
	case RouteSpecial:
		return "special"
	}
	return "unknown"
}

var allTags = []Tag{
	TagStockReport, TagFinanceReport, TagMap, TagDataQuery,
	TagExpense, TagSale, TagPurchase,
	TagBirth, TagDeath, TagWeighing, TagHealthTreatment, TagCalendarEvent,
	TagAgricultureEvent, TagSupplyEvent, TagRainfall, TagNote, TagGrazingReport,
	TagPaddockMove, TagCrossModuleMove, TagStockEdit,
}

// AllTags returns every known intent tag.
func AllTags() []Tag {
	out := make([]Tag, len(allTags))
	copy(out, allTags)
	return out
}

// ParseTag normalizes raw model output into a known tag.
func ParseTag(raw string) (Tag, bool) {
	t := Tag(strings.ToLower(strings.TrimSpace(raw)))
	return t, t.Valid()
}

// Valid reports whether t is part of the closed set.
func (t Tag) Valid() bool {
	return t.Route() != RouteUnknown
}

// Route returns the dispatch route for t.
func (t Tag) Route() Route {
	switch t {
	case TagStockReport, TagFinanceReport, TagMap, TagDataQuery:
		return RouteRead
	case TagExpense, TagSale, TagPurchase,
		TagBirth, TagDeath, TagWeighing, TagHealthTreatment, TagCalendarEvent,
		TagAgricultureEvent, TagSupplyEvent, TagRainfall, TagNote, TagGrazingReport:
		return RouteConfirm
	case TagPaddockMove, TagCrossModuleMove, TagStockEdit:
		return RouteSpecial
	default:
		return RouteUnknown
	}
}

// Financial reports whether t uses the money-entry confirmation template.
func (t Tag) Financial() bool {
	switch t {
	case TagExpense, TagSale, TagPurchase:
		return true
	}
	return false
}

// Label is the human-facing name used in prompts.
func (t Tag) Label() string {
	switch t {
	case TagStockReport:
		return "stock report"
	case TagFinanceReport:
		return "finance report"
	case TagMap:
		return "map"
	case TagDataQuery:
		return "question"
	case TagExpense:
		return "expense"
	case TagSale:
		return "sale"
	case TagPurchase:
		return "purchase"
	case TagBirth:
		return "birth"
	case TagDeath:
		return "death"
	case TagWeighing:
		return "weighing"
	case TagHealthTreatment:
		return "health treatment"
	case TagCalendarEvent:
		return "calendar event"
	case TagAgricultureEvent:
		return "field activity"
	case TagSupplyEvent:
		return "supply usage"
	case TagRainfall:
		return "rainfall"
	case TagNote:
		return "note"
	case TagGrazingReport:
		return "grazing report"
	case TagPaddockMove:
		return "paddock move"
	case TagCrossModuleMove:
		return "transfer"
	case TagStockEdit:
		return "stock correction"
	default:
		return string(t)
	}
}
