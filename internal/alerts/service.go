// Package alerts persists user-visible alerts with dedupe-key storm
// suppression.
package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"solana-smartmoney-bot/internal/ports"
	"solana-smartmoney-bot/internal/storage"
)

// Service implements the alert sink. Alerts sharing a dedupe key are
// suppressed inside the dedupe window.
type Service struct {
	db     *storage.DB
	window time.Duration

	mu     sync.Mutex
	recent map[string]time.Time
}

// NewService creates the alert service
func NewService(db *storage.DB, dedupeWindow time.Duration) *Service {
	if dedupeWindow <= 0 {
		dedupeWindow = 5 * time.Minute
	}
	return &Service{
		db:     db,
		window: dedupeWindow,
		recent: make(map[string]time.Time),
	}
}

// Raise records an alert unless its dedupe key fired within the window
func (s *Service) Raise(ctx context.Context, alert ports.Alert) error {
	now := time.Now()

	s.mu.Lock()
	if last, ok := s.recent[alert.DedupeKey]; ok && now.Sub(last) < s.window {
		s.mu.Unlock()
		return nil
	}
	s.recent[alert.DedupeKey] = now
	s.mu.Unlock()

	// Cold start: the in-memory map is empty, consult the store.
	if last, ok, err := s.db.LatestAlertTime(alert.DedupeKey); err == nil && ok && now.Sub(last) < s.window {
		return nil
	}

	if err := s.db.InsertAlert(&storage.AlertRow{
		AlertType:      alert.Type,
		Severity:       alert.Severity,
		Title:          alert.Title,
		Message:        alert.Message,
		DedupeKey:      alert.DedupeKey,
		RequiresAction: alert.RequiresAction,
		CreatedAt:      now,
	}); err != nil {
		log.Error().Err(err).Str("type", alert.Type).Msg("failed to persist alert")
		return err
	}

	event := log.Warn()
	if alert.Severity == ports.SeverityCritical {
		event = log.Error()
	}
	event.
		Str("type", alert.Type).
		Str("severity", alert.Severity).
		Str("title", alert.Title).
		Msg(alert.Message)
	return nil
}
