// Package audit records messages the pipeline failed to process so operators
// can follow up with the user.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/fieldhand/internal/notify"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

// Failure is captured before the risky part of the pipeline runs, so every
// field except Error may be empty for unknown phones.
type Failure struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id,omitempty"`
	TenantID     string    `json:"tenant_id,omitempty"`
	Phone        string    `json:"phone"`
	Channel      string    `json:"channel"`
	OriginalText string    `json:"original_text,omitempty"`
	Error        string    `json:"error"`
	Panicked     bool      `json:"panicked"`
	CreatedAt    time.Time `json:"created_at"`
}

// Recorder is what the pipeline depends on.
type Recorder interface {
	RecordFailure(ctx context.Context, f Failure) error
}

type alerter interface {
	Alert(ctx context.Context, alert notify.FailureAlert) error
}

// Service writes failures to pipeline_failures and optionally emails an alert.
type Service struct {
	db      *sql.DB
	alerter alerter
	logger  *logging.Logger
}

func NewService(db *sql.DB, alerter alerter, logger *logging.Logger) *Service {
	if db == nil {
		panic("audit: db cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{db: db, alerter: alerter, logger: logger}
}

func (s *Service) RecordFailure(ctx context.Context, f Failure) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_failures (
			id, user_id, tenant_id, phone, channel,
			original_text, error, panicked, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		f.ID,
		nullString(f.UserID),
		nullString(f.TenantID),
		f.Phone,
		f.Channel,
		nullString(f.OriginalText),
		f.Error,
		f.Panicked,
		f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to record failure: %w", err)
	}

	if s.alerter != nil {
		if err := s.alerter.Alert(ctx, notify.FailureAlert{
			ID:         f.ID,
			Phone:      f.Phone,
			UserID:     f.UserID,
			TenantID:   f.TenantID,
			Channel:    f.Channel,
			Text:       ScrubText(f.OriginalText),
			Error:      f.Error,
			OccurredAt: f.CreatedAt,
		}); err != nil {
			s.logger.Warn("failure alert not sent", "failure_id", f.ID, "error", err)
		}
	}
	return nil
}

// Recent lists the newest failures for a phone, newest first.
func (s *Service) Recent(ctx context.Context, phone string, limit int) ([]Failure, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(user_id, ''), COALESCE(tenant_id, ''), phone, channel,
		       COALESCE(original_text, ''), error, panicked, created_at
		FROM pipeline_failures
		WHERE phone = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: list failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.ID, &f.UserID, &f.TenantID, &f.Phone, &f.Channel, &f.OriginalText, &f.Error, &f.Panicked, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// LogRecorder only logs. Used when no database is configured.
type LogRecorder struct {
	Logger *logging.Logger
}

func (r LogRecorder) RecordFailure(ctx context.Context, f Failure) error {
	logger := r.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger.Error("pipeline failure", "phone", f.Phone, "user_id", f.UserID, "tenant_id", f.TenantID, "channel", f.Channel, "error", f.Error, "panicked", f.Panicked)
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var (
	_ Recorder = (*Service)(nil)
	_ Recorder = LogRecorder{}
)
