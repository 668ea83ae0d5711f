package worker

import (
	"context"
	"time"

	"github.com/wolfman30/fieldhand/pkg/logging"
)

type processedPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Purger periodically drops idempotency records older than the retention
// window.
type Purger struct {
	store     processedPurger
	logger    *logging.Logger
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

func NewPurger(store processedPurger, logger *logging.Logger) *Purger {
	if store == nil {
		panic("worker: processed store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Purger{
		store:     store,
		logger:    logger,
		retention: 7 * 24 * time.Hour,
		interval:  time.Hour,
		now:       time.Now,
	}
}

func (p *Purger) WithRetention(d time.Duration) *Purger {
	if d > 0 {
		p.retention = d
	}
	return p
}

func (p *Purger) WithInterval(d time.Duration) *Purger {
	if d > 0 {
		p.interval = d
	}
	return p
}

// Run purges once immediately and then on every tick until ctx is done.
func (p *Purger) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.purge(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.purge(ctx)
		}
	}
}

func (p *Purger) purge(ctx context.Context) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.PurgeBefore(ctx, cutoff)
	if err != nil {
		p.logger.Error("processed events purge failed", "error", err)
		return
	}
	if n > 0 {
		p.logger.Info("purged processed events", "count", n, "cutoff", cutoff)
	}
}
