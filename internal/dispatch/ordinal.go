package dispatch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wolfman30/fieldhand/internal/session"
)

const maxButtons = 3

// parseOrdinal reads a 1-based choice among n options. "2", " 2 ", "2." and
// "2)" are accepted.
func parseOrdinal(text string, n int) (int, bool) {
	text = strings.TrimSpace(text)
	text = strings.TrimRight(text, ".)")
	i, err := strconv.Atoi(text)
	if err != nil || i < 1 || i > n {
		return 0, false
	}
	return i, true
}

func numberedList(options []session.Option) string {
	var b strings.Builder
	for i, opt := range options {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, opt.Label)
	}
	return b.String()
}

// ordinalButtons are only offered when every option fits on a button.
func ordinalButtons(options []session.Option) []Option {
	if len(options) == 0 || len(options) > maxButtons {
		return nil
	}
	out := make([]Option, 0, len(options))
	for i, opt := range options {
		out = append(out, Option{ID: strconv.Itoa(i + 1), Title: opt.Label})
	}
	return out
}

func ordinalPrompt(question string, options []session.Option) Reply {
	return Reply{
		Text:    question + "\n" + numberedList(options),
		Options: ordinalButtons(options),
	}
}

func ordinalReprompt(options []session.Option) Reply {
	var bound string
	if len(options) == 1 {
		bound = "Please reply 1"
	} else {
		bound = fmt.Sprintf("Please reply with a number from 1 to %d", len(options))
	}
	return Reply{
		Text:    bound + `, or "cancel" to stop.` + "\n" + numberedList(options),
		Options: ordinalButtons(options),
	}
}
