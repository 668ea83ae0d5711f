package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FailureAlert describes a message the pipeline could not process.
type FailureAlert struct {
	ID         string
	Phone      string
	UserID     string
	TenantID   string
	Channel    string
	Text       string
	Error      string
	OccurredAt time.Time
}

// Alerter emails operators about failures, at most once per phone per window
// so a user retrying a broken flow does not flood the inbox.
type Alerter struct {
	sender EmailSender
	to     string
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func NewAlerter(sender EmailSender, to string, window time.Duration) *Alerter {
	if sender == nil {
		panic("notify: email sender cannot be nil")
	}
	return &Alerter{
		sender: sender,
		to:     to,
		window: window,
		now:    time.Now,
		last:   make(map[string]time.Time),
	}
}

func (a *Alerter) allow(phone string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	if prev, ok := a.last[phone]; ok && a.window > 0 && now.Sub(prev) < a.window {
		return false
	}
	a.last[phone] = now
	return true
}

// Alert sends the email unless the phone alerted recently. A suppressed alert
// returns nil.
func (a *Alerter) Alert(ctx context.Context, alert FailureAlert) error {
	if a == nil || a.to == "" || !a.allow(alert.Phone) {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Failure ID: %s\n", alert.ID)
	fmt.Fprintf(&b, "When: %s\n", alert.OccurredAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Phone: %s\nChannel: %s\n", alert.Phone, alert.Channel)
	if alert.UserID != "" {
		fmt.Fprintf(&b, "User: %s\nTenant: %s\n", alert.UserID, alert.TenantID)
	}
	fmt.Fprintf(&b, "\nMessage:\n%s\n\nError:\n%s\n", alert.Text, alert.Error)

	return a.sender.Send(ctx, EmailMessage{
		To:      a.to,
		Subject: fmt.Sprintf("[fieldhand] message failed for %s", alert.Phone),
		Body:    b.String(),
	})
}
