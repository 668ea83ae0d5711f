package intent

import (
	"fmt"
	"strings"
	"time"
)

var tagHints = map[Tag]string{
	TagStockReport:      `head count question. payload {"question","location"}`,
	TagFinanceReport:    `income/expense summary. payload {"question","period"}`,
	TagMap:              `request for the farm map. payload {}`,
	TagDataQuery:        `any other question about recorded data. payload {"question","period"}`,
	TagExpense:          `money spent. payload {"amount","currency","category","counterparty","description","date"}`,
	TagSale:             `money received for goods. payload {"amount","currency","category","counterparty","quantity","unit","date"}`,
	TagPurchase:         `goods bought. payload {"amount","currency","category","counterparty","quantity","unit","date"}`,
	TagBirth:            `animals born. payload {"category","quantity","location","date"}`,
	TagDeath:            `animals died. payload {"category","quantity","location","cause","date"}`,
	TagWeighing:         `animals weighed. payload {"category","quantity","location","weight_kg","date"}`,
	TagHealthTreatment:  `vaccination or treatment. payload {"category","quantity","location","product","date"}`,
	TagCalendarEvent:    `reminder or appointment. payload {"title","date","time","note"}`,
	TagAgricultureEvent: `field work (sowing, spraying, harvest). payload {"activity","crop","location","area_ha","date"}`,
	TagSupplyEvent:      `feed or supply usage. payload {"item","quantity","unit","location","date"}`,
	TagRainfall:         `rain gauge reading. payload {"millimeters","location","date"}`,
	TagNote:             `free note to keep. payload {"text"}`,
	TagGrazingReport:    `grazing status of a paddock. payload {"location","category","quantity","days","note"}`,
	TagPaddockMove:      `animals moved between paddocks. payload {"category","quantity","source","destination","date"}`,
	TagCrossModuleMove:  `animals transferred to another module (e.g. feedlot). payload {"category","quantity","source","destination","destination_module","date"}`,
	TagStockEdit:        `correct the head count at a location. payload {"location","category","quantity"}`,
}

func systemPrompt(req Request, now time.Time) string {
	tags := req.Allowed
	if len(tags) == 0 {
		tags = AllTags()
	}

	var b strings.Builder
	b.WriteString("You turn farm workers' WhatsApp messages into structured records.\n")
	b.WriteString("Reply with exactly one JSON object and nothing else:\n")
	b.WriteString(`- {"tag":"<tag>","payload":{...}} when the message matches a tag` + "\n")
	b.WriteString(`- {"error":"<short explanation>"} when it matches a tag but names a location or category not listed below` + "\n")
	b.WriteString(`- {"tag":"none"} otherwise` + "\n")
	fmt.Fprintf(&b, "Today is %s. Use YYYY-MM-DD dates. Omit fields you don't know.\n\n", now.Format("2006-01-02"))

	b.WriteString("Tags:\n")
	for _, t := range tags {
		fmt.Fprintf(&b, "- %s: %s\n", t, tagHints[t])
	}

	b.WriteString("\nKnown locations: ")
	b.WriteString(listOrNone(req.Locations))
	b.WriteString("\nKnown categories: ")
	b.WriteString(listOrNone(req.Categories))
	b.WriteString("\nUse these names exactly as written.")
	return b.String()
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}
