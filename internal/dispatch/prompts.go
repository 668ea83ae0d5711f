package dispatch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wolfman30/fieldhand/internal/identity"
	"github.com/wolfman30/fieldhand/internal/intent"
	"github.com/wolfman30/fieldhand/internal/session"
)

const (
	msgApology      = "Sorry, something went wrong while handling your message. Please try again in a moment."
	msgUnsupported  = "I can read text, voice notes, button replies and photos of invoices. Please send your request as a text message."
	msgUnknownPhone = "I don't recognize this number yet. Send the invite code you received (like ABCD-EFGH) to get started."

	msgCancelled             = "Cancelled. Nothing was saved."
	msgRegistrationCancelled = "Registration cancelled. Send your invite code again whenever you're ready."
	msgNothingToCancel       = "There's nothing to cancel."

	msgSingleTenant      = "You only have access to %s."
	msgTenantUnavailable = "That farm is no longer available to you. Send \"switch farm\" to see your farms."
	msgTenantSwitched    = "Done. You're now working in %s."

	msgInviteNotFound = "That invite code isn't valid. Please check it and send it again."
	msgInviteExpired  = "That invite code has expired. Ask your administrator for a new one."
	msgInviteRedeemed = "That invite code has already been used. Ask your administrator for a new one."
	msgJoinedTenant   = "You've joined %s. Send \"switch farm\" to move between your farms."
	msgAskName        = "Welcome to %s! What's your name?"
	msgNameBlank      = "Please send your name to finish registering."
	msgNameTooLong    = "That name is too long. Please send a name of at most %d characters."
	msgWelcome        = "Thanks %s, you're all set. Tell me what happened on the farm, or send \"help\" to see examples."

	msgNoLocations        = "%s has no locations set up yet. Add them in the app first."
	msgNotEnoughLocations = "%s needs at least two locations to move animals between them."
	msgSameLocation       = "The animals are already in %s. Nothing to move."
	msgWhichStockLocation = "Which location's stock do you want to correct?"
	msgWhichCategory      = "Which category did you mean by %q?"
	msgWhichCategoryPlain = "Which category did you mean?"
	msgAskStock           = "How many animals are in %s now? Reply like \"300 steers\"."

	msgSaved           = "Saved the %s."
	msgDiscarded       = "Discarded the %s. Nothing was saved."
	msgConfirmReprompt = "Reply yes to save the %s or no to discard it."
)

func helpText(actor *identity.Actor) string {
	var b strings.Builder
	if actor != nil && actor.DisplayName != "" {
		fmt.Fprintf(&b, "Hi %s! ", actor.DisplayName)
	}
	b.WriteString("Tell me what happened and I'll record it. For example:\n")
	b.WriteString("- spent 5000 on feed\n")
	b.WriteString("- 3 calves born in North paddock\n")
	b.WriteString("- move 40 steers from North to River\n")
	b.WriteString("- 25 mm of rain today\n")
	b.WriteString("- how many cows do we have?\n")
	b.WriteString("Send \"cancel\" to stop a question or \"switch farm\" to change farm.")
	return b.String()
}

// classificationProblem adds the tenant's valid location names to the
// classifier's explanation.
func classificationProblem(problem string, actor *identity.Actor) string {
	names := actor.LocationNames()
	if len(names) == 0 {
		return problem
	}
	return problem + "\nYour locations are: " + strings.Join(names, ", ") + "."
}

func tenantChoice(actor *identity.Actor, tenants []identity.Tenant) *session.ChooseTenant {
	choice := &session.ChooseTenant{Options: make([]session.Option, 0, len(tenants))}
	for _, tenant := range tenants {
		label := tenant.Name
		if tenant.ID == actor.TenantID {
			label += " (current)"
		}
		choice.Options = append(choice.Options, session.Option{ID: tenant.ID, Label: label})
	}
	return choice
}

// tenantPrompt offers tenant_ buttons; typing the number works as well.
func tenantPrompt(choice *session.ChooseTenant) Reply {
	reply := Reply{Text: "Which farm do you want to work in?\n" + numberedList(choice.Options)}
	if len(choice.Options) <= maxButtons {
		for _, opt := range choice.Options {
			reply.Options = append(reply.Options, Option{ID: PrefixTenant + opt.ID, Title: opt.Label})
		}
	}
	return reply
}

func moveQuestion(move intent.Move, source bool) string {
	what := "the animals"
	if move.Quantity > 0 && move.Category != "" {
		what = fmt.Sprintf("the %d %s", move.Quantity, move.Category)
	} else if move.Category != "" {
		what = "the " + move.Category
	}
	switch {
	case source && move.Source != "":
		return fmt.Sprintf("I couldn't find %q. Where are %s now?", move.Source, what)
	case source:
		return fmt.Sprintf("Where are %s now?", what)
	case move.Destination != "":
		return fmt.Sprintf("I couldn't find %q. Where should %s go?", move.Destination, what)
	default:
		return fmt.Sprintf("Where should %s go?", what)
	}
}

func stockReprompt(actor *identity.Actor, location string) string {
	text := fmt.Sprintf("I didn't get that. Reply with the number of animals and the category for %s, like \"300 steers\"", location)
	if names := actor.CategoryNames(); len(names) > 0 {
		text += ".\nCategories: " + strings.Join(names, ", ")
	}
	return text + `. Send "cancel" to stop.`
}

type field struct {
	label string
	value string
}

// confirmPrompt renders the review message for a pending mutation. Money
// entries get their own layout.
func confirmPrompt(in intent.Intent) string {
	var b strings.Builder
	if in.Tag.Financial() {
		fmt.Fprintf(&b, "Record this %s?\n", in.Tag.Label())
	} else {
		fmt.Fprintf(&b, "Save this %s?\n", in.Tag.Label())
	}
	for _, f := range summaryFields(in.Payload) {
		if f.value == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", f.label, f.value)
	}
	b.WriteString("Reply yes to save or no to discard.")
	return b.String()
}

func summaryFields(payload intent.Payload) []field {
	switch p := payload.(type) {
	case *intent.Financial:
		amount := number(p.Amount)
		if p.Currency != "" {
			amount = p.Currency + " " + amount
		}
		qty := ""
		if p.Quantity > 0 {
			qty = strings.TrimSpace(number(p.Quantity) + " " + p.Unit)
		}
		return []field{
			{"Amount", amount},
			{"Category", p.Category},
			{"Counterparty", p.Counterparty},
			{"Quantity", qty},
			{"Description", p.Description},
			{"Date", dateOrToday(p.Date)},
		}
	case *intent.LivestockEvent:
		return []field{
			{"Category", p.Category},
			{"Quantity", count(p.Quantity)},
			{"Location", p.Location},
			{"Weight", kilos(p.WeightKg)},
			{"Product", p.Product},
			{"Cause", p.Cause},
			{"Note", p.Note},
			{"Date", dateOrToday(p.Date)},
		}
	case *intent.Move:
		return []field{
			{"Animals", strings.TrimSpace(count(p.Quantity) + " " + p.Category)},
			{"From", p.Source},
			{"To", p.Destination},
			{"Module", p.DestinationModule},
			{"Date", dateOrToday(p.Date)},
		}
	case *intent.StockAdjustment:
		return []field{
			{"Location", p.Location},
			{"Category", p.Category},
			{"New count", strconv.Itoa(p.Quantity)},
		}
	case *intent.CalendarEvent:
		return []field{
			{"Title", p.Title},
			{"Date", p.Date},
			{"Time", p.Time},
			{"Note", p.Note},
		}
	case *intent.AgricultureEvent:
		area := ""
		if p.AreaHa > 0 {
			area = number(p.AreaHa) + " ha"
		}
		return []field{
			{"Activity", p.Activity},
			{"Crop", p.Crop},
			{"Location", p.Location},
			{"Area", area},
			{"Note", p.Note},
			{"Date", dateOrToday(p.Date)},
		}
	case *intent.SupplyEvent:
		qty := ""
		if p.Quantity > 0 {
			qty = strings.TrimSpace(number(p.Quantity) + " " + p.Unit)
		}
		return []field{
			{"Item", p.Item},
			{"Quantity", qty},
			{"Location", p.Location},
			{"Date", dateOrToday(p.Date)},
		}
	case *intent.Rainfall:
		return []field{
			{"Rain", number(p.Millimeters) + " mm"},
			{"Location", p.Location},
			{"Date", dateOrToday(p.Date)},
		}
	case *intent.Note:
		return []field{{"Note", p.Text}}
	case *intent.GrazingReport:
		days := ""
		if p.Days > 0 {
			days = strconv.Itoa(p.Days)
		}
		return []field{
			{"Location", p.Location},
			{"Animals", strings.TrimSpace(count(p.Quantity) + " " + p.Category)},
			{"Days", days},
			{"Note", p.Note},
		}
	case *intent.Query:
		return []field{
			{"Question", p.Question},
			{"Period", p.Period},
			{"Location", p.Location},
		}
	}
	return nil
}

func number(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func count(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func kilos(v float64) string {
	if v <= 0 {
		return ""
	}
	return number(v) + " kg"
}

func dateOrToday(date string) string {
	if date == "" {
		return "today"
	}
	return date
}
