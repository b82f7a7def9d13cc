// Package risk implements the entry gates: daily-loss tracking, the
// drawdown circuit breaker, and the global system run/pause state.
package risk

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"solana-smartmoney-bot/internal/storage"
)

// System statuses
const (
	StatusRunning               = "RUNNING"
	StatusPausedManual          = "PAUSED_MANUAL"
	StatusPausedDrawdown        = "PAUSED_DRAWDOWN"
	StatusPausedWinRate         = "PAUSED_WIN_RATE"
	StatusPausedConsecutiveLoss = "PAUSED_CONSECUTIVE_LOSS"
)

const stateConfigKey = "system_state"

// SystemState is the global run/pause state
type SystemState struct {
	Status      string    `json:"status"`
	PausedAt    time.Time `json:"paused_at,omitempty"`
	PausedBy    string    `json:"paused_by,omitempty"`
	PauseReason string    `json:"pause_reason,omitempty"`
	PauseNote   string    `json:"pause_note,omitempty"`
	ResumedAt   time.Time `json:"resumed_at,omitempty"`
	ResumedBy   string    `json:"resumed_by,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// IsPaused reports whether the system is in any paused status
func (s SystemState) IsPaused() bool {
	return s.Status != StatusRunning
}

// IsCircuitBreakerPause reports whether the pause came from a breaker
func (s SystemState) IsCircuitBreakerPause() bool {
	switch s.Status {
	case StatusPausedDrawdown, StatusPausedWinRate, StatusPausedConsecutiveLoss:
		return true
	}
	return false
}

func breakerTypeFor(status string) string {
	switch status {
	case StatusPausedDrawdown:
		return storage.BreakerDrawdown
	case StatusPausedWinRate:
		return storage.BreakerWinRate
	case StatusPausedConsecutiveLoss:
		return storage.BreakerConsecutiveLoss
	}
	return ""
}

// StateManager serializes access to the system state. Readers get a copy;
// every transition is persisted and appends an audit event.
type StateManager struct {
	mu    sync.Mutex
	state SystemState
	db    *storage.DB
}

// NewStateManager loads the persisted system state, defaulting to RUNNING
func NewStateManager(db *storage.DB) (*StateManager, error) {
	m := &StateManager{
		state: SystemState{Status: StatusRunning, LastUpdated: time.Now()},
		db:    db,
	}

	raw, ok, err := db.GetSystemConfig(stateConfigKey)
	if err != nil {
		return nil, err
	}
	if ok {
		var s SystemState
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			log.Error().Err(err).Msg("persisted system state unreadable, starting RUNNING")
		} else {
			m.state = s
		}
	}

	log.Info().Str("status", m.state.Status).Msg("system state loaded")
	return m, nil
}

// GetState returns a copy of the current state
func (m *StateManager) GetState() SystemState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CanTrade reports whether new entries are allowed
func (m *StateManager) CanTrade() bool {
	return !m.GetState().IsPaused()
}

// CanExit reports whether exits are allowed. Always true.
func (m *StateManager) CanExit() bool {
	return true
}

// Pause manually pauses the system. Pausing an already-paused system is
// a no-op with a warning.
func (m *StateManager) Pause(operatorID, reason, note string) (SystemState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.IsPaused() {
		log.Warn().Str("status", m.state.Status).Msg("pause requested while already paused")
		return m.state, nil
	}

	previous := m.state.Status
	now := time.Now()
	next := m.state
	next.Status = StatusPausedManual
	next.PausedAt = now
	next.PausedBy = operatorID
	next.PauseReason = reason
	next.PauseNote = note
	next.ResumedAt = time.Time{}
	next.ResumedBy = ""
	next.LastUpdated = now

	if err := m.commit(next, "pause", operatorID, previous, reason, note); err != nil {
		return m.state, err
	}

	log.Warn().Str("operator", operatorID).Str("reason", reason).Msg("system paused")
	return m.state, nil
}

// Resume restores the system to RUNNING. Resuming from a circuit-breaker
// pause requires explicit acknowledgement and clears that breaker's
// active triggers.
func (m *StateManager) Resume(operatorID string, acknowledgeWarning bool) (SystemState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.IsPaused() {
		log.Warn().Msg("resume requested while not paused")
		return m.state, nil
	}

	if m.state.IsCircuitBreakerPause() && !acknowledgeWarning {
		return m.state, fmt.Errorf("resuming from %s requires explicit acknowledgement", m.state.Status)
	}

	previous := m.state.Status
	if bt := breakerTypeFor(previous); bt != "" {
		if _, err := m.db.ResetActiveTriggers(bt, operatorID); err != nil {
			return m.state, err
		}
	}

	now := time.Now()
	next := m.state
	next.Status = StatusRunning
	next.ResumedAt = now
	next.ResumedBy = operatorID
	next.LastUpdated = now
	// Pause fields stay populated for audit.

	if err := m.commit(next, "resume", operatorID, previous, "", ""); err != nil {
		return m.state, err
	}

	log.Info().Str("operator", operatorID).Str("previous", previous).Msg("system resumed")
	return m.state, nil
}

// SetCircuitBreakerPause pauses the system because a breaker tripped
func (m *StateManager) SetCircuitBreakerPause(breakerType string) (SystemState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := StatusPausedManual
	switch breakerType {
	case storage.BreakerDrawdown:
		status = StatusPausedDrawdown
	case storage.BreakerWinRate:
		status = StatusPausedWinRate
	case storage.BreakerConsecutiveLoss:
		status = StatusPausedConsecutiveLoss
	}

	previous := m.state.Status
	now := time.Now()
	next := m.state
	next.Status = status
	next.PausedAt = now
	next.PausedBy = "system"
	next.PauseReason = ""
	next.PauseNote = "circuit breaker: " + breakerType
	next.LastUpdated = now

	if err := m.commit(next, "pause", "system", previous, "", next.PauseNote); err != nil {
		return m.state, err
	}

	log.Warn().Str("breaker", breakerType).Msg("system paused by circuit breaker")
	return m.state, nil
}

// commit persists the new state and its audit event, then applies it
// in memory. Write-through: memory changes only after the store accepts.
func (m *StateManager) commit(next SystemState, eventType, operatorID, previous, reason, note string) error {
	raw, err := json.Marshal(next)
	if err != nil {
		return err
	}
	if err := m.db.SetSystemConfig(stateConfigKey, string(raw)); err != nil {
		return err
	}
	if err := m.db.InsertPauseResumeEvent(&storage.PauseResumeEvent{
		EventType:      eventType,
		OperatorID:     operatorID,
		PreviousStatus: previous,
		NewStatus:      next.Status,
		Reason:         reason,
		Note:           note,
		OccurredAt:     next.LastUpdated,
	}); err != nil {
		return err
	}
	m.state = next
	return nil
}
