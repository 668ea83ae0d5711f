package audit

import "regexp"

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// Eight or more digits, optionally split by spaces, dots or dashes:
	// phone numbers, CBU/CUIT and card numbers. Head counts and amounts
	// are shorter and survive.
	longNumberRe = regexp.MustCompile(`\+?\d(?:[\s.\-]?\d){7,}`)
)

// ScrubText masks emails and long numbers in message text before it is
// sent to an external alert channel. The stored failure keeps the original.
func ScrubText(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	return longNumberRe.ReplaceAllString(text, "[NUMBER]")
}
