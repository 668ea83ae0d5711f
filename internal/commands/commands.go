// Package commands recognizes the fixed phrases that bypass classification.
package commands

import (
	"regexp"
	"strings"
)

// Command is a recognized fast-path command.
type Command int

const (
	None Command = iota
	Cancel
	SwitchTenant
	Help
)

func (c Command) String() string {
	switch c {
	case Cancel:
		return "cancel"
	case SwitchTenant:
		return "switch_tenant"
	case Help:
		return "help"
	default:
		return "none"
	}
}

// Matcher matches whole messages only; "cancel the vet visit" is not a
// cancel command.
type Matcher struct {
	cancel *regexp.Regexp
	tenant *regexp.Regexp
	help   *regexp.Regexp
}

func NewMatcher() *Matcher {
	return &Matcher{
		cancel: regexp.MustCompile(`(?i)^(cancel|cancelar)[.!]*$`),
		tenant: regexp.MustCompile(`(?i)^((switch|change)\s+(tenant|farm|company)|cambiar\s+(de\s+)?(empresa|campo))[.!]*$`),
		help:   regexp.MustCompile(`(?i)^(help|ayuda|menu|menú)[.!?]*$`),
	}
}

// Match returns the command text expresses, checked in priority order.
func (m *Matcher) Match(text string) Command {
	if m == nil {
		return None
	}
	normalized := strings.Join(strings.Fields(text), " ")
	switch {
	case normalized == "":
		return None
	case m.cancel.MatchString(normalized):
		return Cancel
	case m.tenant.MatchString(normalized):
		return SwitchTenant
	case m.help.MatchString(normalized):
		return Help
	default:
		return None
	}
}
