package dispatch

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/wolfman30/fieldhand/internal/identity"
	"github.com/wolfman30/fieldhand/internal/intent"
	"github.com/wolfman30/fieldhand/internal/session"
)

var (
	quantityFirst = regexp.MustCompile(`^(\d{1,3}(?:[.,]\d{3})+|\d+)\s+(.+)$`)
	quantityLast  = regexp.MustCompile(`^(.+?)\s+(\d{1,3}(?:[.,]\d{3})+|\d+)$`)
)

// stockMatch is a parsed "<quantity> <category>" reply. More than one
// category means the name was ambiguous.
type stockMatch struct {
	quantity   int
	categories []identity.Category
}

// parseStockReply splits "300 steers" or "steers 300".
func parseStockReply(text string) (int, string, bool) {
	text = strings.Join(strings.Fields(text), " ")
	var qty, name string
	if m := quantityFirst.FindStringSubmatch(text); m != nil {
		qty, name = m[1], m[2]
	} else if m := quantityLast.FindStringSubmatch(text); m != nil {
		name, qty = m[1], m[2]
	} else {
		return 0, "", false
	}
	qty = strings.NewReplacer(",", "", ".", "").Replace(qty)
	n, err := strconv.Atoi(qty)
	if err != nil {
		return 0, "", false
	}
	return n, name, true
}

// matchCategories finds the tenant categories a name refers to: exact name
// or alias first, then naive plural/singular forms.
func matchCategories(categories []identity.Category, name string) []identity.Category {
	name = strings.ToLower(strings.Join(strings.Fields(name), " "))
	if name == "" {
		return nil
	}
	exact := filterCategories(categories, func(term string) bool { return term == name })
	if len(exact) > 0 {
		return exact
	}
	want := wordForms(name)
	return filterCategories(categories, func(term string) bool {
		for form := range wordForms(term) {
			if want[form] {
				return true
			}
		}
		return false
	})
}

func filterCategories(categories []identity.Category, match func(term string) bool) []identity.Category {
	var out []identity.Category
	for _, c := range categories {
		terms := append([]string{c.Name}, c.Aliases...)
		for _, term := range terms {
			if match(strings.ToLower(strings.TrimSpace(term))) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// wordForms returns word with an "s" or "es" plural stripped.
func wordForms(word string) map[string]bool {
	forms := map[string]bool{word: true}
	if len(word) > 2 && strings.HasSuffix(word, "s") {
		forms[strings.TrimSuffix(word, "s")] = true
	}
	if len(word) > 3 && strings.HasSuffix(word, "es") {
		forms[strings.TrimSuffix(word, "es")] = true
	}
	return forms
}

func categoryOptions(categories []identity.Category) []session.Option {
	out := make([]session.Option, 0, len(categories))
	for _, c := range categories {
		out = append(out, session.Option{ID: c.ID, Label: c.Name})
	}
	return out
}

// startStockEdit handles a classified stock_edit intent.
func (p *Pipeline) startStockEdit(ctx context.Context, t *turn, edit intent.StockAdjustment) (Status, error) {
	if edit.LocationID == "" {
		if loc, ok := t.actor.FindLocation(edit.Location); ok {
			edit.Location, edit.LocationID = loc.Name, loc.ID
		}
	}
	if edit.LocationID == "" {
		if len(t.actor.Locations) == 0 {
			return p.reply(ctx, t.Phone, TextReply(fmt.Sprintf(msgNoLocations, t.actor.TenantName)))
		}
		return p.openChoice(ctx, t, &session.ChooseStockLocation{
			Edit:    edit,
			Options: locationOptions(t.actor, ""),
		}, msgWhichStockLocation)
	}
	return p.continueStockEdit(ctx, t, edit)
}

// continueStockEdit runs once the location is known.
func (p *Pipeline) continueStockEdit(ctx context.Context, t *turn, edit intent.StockAdjustment) (Status, error) {
	if edit.CategoryID != "" {
		return p.applyStockEdit(ctx, t, edit)
	}
	if edit.Category != "" {
		matches := matchCategories(t.actor.Categories, edit.Category)
		switch {
		case len(matches) == 1:
			edit.Category, edit.CategoryID = matches[0].Name, matches[0].ID
			return p.applyStockEdit(ctx, t, edit)
		case len(matches) > 1:
			return p.openChoice(ctx, t, &session.ChooseStockCategory{
				Edit:    edit,
				Options: categoryOptions(matches),
			}, fmt.Sprintf(msgWhichCategory, edit.Category))
		}
	}

	if err := p.save(ctx, t.Phone, &session.StockEdit{LocationID: edit.LocationID, LocationName: edit.Location}); err != nil {
		return StatusError, err
	}
	return p.reply(ctx, t.Phone, TextReply(fmt.Sprintf(msgAskStock, edit.Location)))
}

// resumeStockEdit answers an open stock_edit dialog: the structural parser
// first, the classifier only when that fails.
func (p *Pipeline) resumeStockEdit(ctx context.Context, t *turn, open *session.StockEdit) (Status, error) {
	match, ok, err := FirstMatch(ctx, t.Text,
		p.deterministicStock(t),
		p.classifiedStock(t, open),
	)
	if err != nil {
		return StatusError, err
	}
	if !ok {
		return p.reply(ctx, t.Phone, TextReply(stockReprompt(t.actor, open.LocationName)))
	}

	edit := intent.StockAdjustment{
		Location:   open.LocationName,
		LocationID: open.LocationID,
		Quantity:   match.quantity,
	}
	if len(match.categories) > 1 {
		return p.openChoice(ctx, t, &session.ChooseStockCategory{
			Edit:    edit,
			Options: categoryOptions(match.categories),
		}, msgWhichCategoryPlain)
	}
	edit.Category, edit.CategoryID = match.categories[0].Name, match.categories[0].ID
	return p.applyStockEdit(ctx, t, edit)
}

func (p *Pipeline) deterministicStock(t *turn) Strategy[stockMatch] {
	return func(ctx context.Context, text string) (stockMatch, bool, error) {
		qty, name, ok := parseStockReply(text)
		if !ok {
			return stockMatch{}, false, nil
		}
		matches := matchCategories(t.actor.Categories, name)
		if len(matches) == 0 {
			return stockMatch{}, false, nil
		}
		return stockMatch{quantity: qty, categories: matches}, true, nil
	}
}

// classifiedStock asks the classifier, restricted to stock_edit. Any other
// answer is discarded so it cannot take over the open dialog.
func (p *Pipeline) classifiedStock(t *turn, open *session.StockEdit) Strategy[stockMatch] {
	return func(ctx context.Context, text string) (stockMatch, bool, error) {
		p.stage(ctx, "classify")
		res, err := p.classifier.Classify(ctx, intent.Request{
			Text:       text,
			Locations:  []string{open.LocationName},
			Categories: t.actor.CategoryNames(),
			UserID:     t.actor.UserID,
			Allowed:    []intent.Tag{intent.TagStockEdit},
		})
		if err != nil {
			return stockMatch{}, false, fmt.Errorf("dispatch: classify stock edit: %w", err)
		}
		if res.Intent == nil || res.Intent.Tag != intent.TagStockEdit {
			return stockMatch{}, false, nil
		}
		adj, ok := res.Intent.Payload.(*intent.StockAdjustment)
		if !ok {
			return stockMatch{}, false, nil
		}
		matches := matchCategories(t.actor.Categories, adj.Category)
		if len(matches) == 0 {
			return stockMatch{}, false, nil
		}
		return stockMatch{quantity: adj.Quantity, categories: matches}, true, nil
	}
}

// applyStockEdit runs the stock_edit handler and closes the dialog.
func (p *Pipeline) applyStockEdit(ctx context.Context, t *turn, edit intent.StockAdjustment) (Status, error) {
	in, err := intent.New(intent.TagStockEdit, &edit)
	if err != nil {
		return StatusError, fmt.Errorf("dispatch: build stock edit: %w", err)
	}
	return p.apply(ctx, t, in)
}

// apply runs the intent's handler, then replaces the continuation with the
// handler's follow-up or deletes it. A handler error leaves it in place.
func (p *Pipeline) apply(ctx context.Context, t *turn, in intent.Intent) (Status, error) {
	p.stage(ctx, "apply")
	reply, err := p.intents[in.Tag].Handle(ctx, IntentRequest{Actor: t.actor, Phone: t.Phone, Intent: in})
	if err != nil {
		return StatusError, fmt.Errorf("dispatch: %s handler: %w", in.Tag, err)
	}
	if err := p.settle(ctx, t.Phone, reply.Next, true); err != nil {
		return StatusError, err
	}
	if reply.Text == "" {
		reply.Text = fmt.Sprintf(msgSaved, in.Tag.Label())
	}
	p.logger.Info("intent applied", "phone", t.Phone, "tenant_id", t.actor.TenantID, "tag", in.Tag)
	return p.reply(ctx, t.Phone, reply)
}
