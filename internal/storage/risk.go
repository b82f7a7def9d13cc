package storage

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Circuit breaker types
const (
	BreakerDrawdown        = "drawdown"
	BreakerWinRate         = "win_rate"
	BreakerConsecutiveLoss = "consecutive_loss"
)

// CapitalSnapshot is a timestamped capital observation with its peak watermark
type CapitalSnapshot struct {
	Capital     decimal.Decimal
	PeakCapital decimal.Decimal
	Timestamp   time.Time
}

// InsertCapitalSnapshot appends a capital snapshot
func (d *DB) InsertCapitalSnapshot(s *CapitalSnapshot) error {
	_, err := d.db.Exec(`
		INSERT INTO capital_snapshots (capital, peak_capital, timestamp) VALUES (?, ?, ?)`,
		decStr(s.Capital), decStr(s.PeakCapital), s.Timestamp.Unix())
	return err
}

// LatestCapitalSnapshot returns the most recent snapshot, or nil
func (d *DB) LatestCapitalSnapshot() (*CapitalSnapshot, error) {
	return d.snapshotQuery(`
		SELECT capital, peak_capital, timestamp FROM capital_snapshots
		ORDER BY timestamp DESC, id DESC LIMIT 1`)
}

// LatestCapitalSnapshotBefore returns the most recent snapshot strictly before t, or nil
func (d *DB) LatestCapitalSnapshotBefore(t time.Time) (*CapitalSnapshot, error) {
	return d.snapshotQuery(`
		SELECT capital, peak_capital, timestamp FROM capital_snapshots
		WHERE timestamp < ? ORDER BY timestamp DESC, id DESC LIMIT 1`, t.Unix())
}

func (d *DB) snapshotQuery(query string, args ...any) (*CapitalSnapshot, error) {
	var capital, peak string
	var ts int64
	err := d.db.QueryRow(query, args...).Scan(&capital, &peak, &ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &CapitalSnapshot{
		Capital:     scanDec(capital),
		PeakCapital: scanDec(peak),
		Timestamp:   time.Unix(ts, 0),
	}, nil
}

// GetDailySnapshot returns the starting capital recorded for a date (YYYY-MM-DD), or false
func (d *DB) GetDailySnapshot(date string) (decimal.Decimal, bool, error) {
	var s string
	err := d.db.QueryRow(`SELECT starting_capital FROM daily_snapshots WHERE date = ?`, date).Scan(&s)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return scanDec(s), true, nil
}

// UpsertDailySnapshot records the starting capital for a date
func (d *DB) UpsertDailySnapshot(date string, startingCapital decimal.Decimal) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO daily_snapshots (date, starting_capital) VALUES (?, ?)`,
		date, decStr(startingCapital))
	return err
}

// CircuitBreakerTrigger is a persisted breach record
type CircuitBreakerTrigger struct {
	ID                   string
	BreakerType          string
	ThresholdValue       decimal.Decimal
	ActualValue          decimal.Decimal
	CapitalAtTrigger     decimal.Decimal
	PeakCapitalAtTrigger decimal.Decimal
	TriggeredAt          time.Time
	ResetAt              time.Time
	ResetBy              string
}

// IsActive reports whether the trigger has not been reset
func (t *CircuitBreakerTrigger) IsActive() bool {
	return t.ResetAt.IsZero()
}

// InsertTrigger persists a circuit breaker trigger
func (d *DB) InsertTrigger(t *CircuitBreakerTrigger) error {
	_, err := d.db.Exec(`
		INSERT INTO circuit_breaker_triggers
		(id, breaker_type, threshold_value, actual_value, capital_at_trigger,
		 peak_capital_at_trigger, triggered_at, reset_at, reset_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.BreakerType, decStr(t.ThresholdValue), decStr(t.ActualValue),
		decStr(t.CapitalAtTrigger), decStr(t.PeakCapitalAtTrigger),
		t.TriggeredAt.Unix(), timeVal(t.ResetAt), nullStr(t.ResetBy))
	return err
}

// ActiveTriggers lists triggers that have not been reset, optionally by type
func (d *DB) ActiveTriggers(breakerType string) ([]*CircuitBreakerTrigger, error) {
	query := `
		SELECT id, breaker_type, threshold_value, actual_value, capital_at_trigger,
		       peak_capital_at_trigger, triggered_at, reset_at, reset_by
		FROM circuit_breaker_triggers WHERE reset_at IS NULL`
	args := []any{}
	if breakerType != "" {
		query += ` AND breaker_type = ?`
		args = append(args, breakerType)
	}
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var triggers []*CircuitBreakerTrigger
	for rows.Next() {
		var t CircuitBreakerTrigger
		var threshold, actual, capital, peak string
		var triggered int64
		var resetAt sql.NullInt64
		var resetBy sql.NullString
		if err := rows.Scan(&t.ID, &t.BreakerType, &threshold, &actual, &capital,
			&peak, &triggered, &resetAt, &resetBy); err != nil {
			return nil, err
		}
		t.ThresholdValue = scanDec(threshold)
		t.ActualValue = scanDec(actual)
		t.CapitalAtTrigger = scanDec(capital)
		t.PeakCapitalAtTrigger = scanDec(peak)
		t.TriggeredAt = time.Unix(triggered, 0)
		t.ResetAt = nullTime(resetAt)
		t.ResetBy = resetBy.String
		triggers = append(triggers, &t)
	}
	return triggers, rows.Err()
}

// ResetActiveTriggers marks all active triggers of a type as reset.
// Pass an empty type to reset all active triggers.
func (d *DB) ResetActiveTriggers(breakerType, operatorID string) (int64, error) {
	query := `UPDATE circuit_breaker_triggers SET reset_at = ?, reset_by = ? WHERE reset_at IS NULL`
	args := []any{Now(), operatorID}
	if breakerType != "" {
		query += ` AND breaker_type = ?`
		args = append(args, breakerType)
	}
	res, err := d.db.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// BlockedSignal records a signal rejected by a risk gate
type BlockedSignal struct {
	TxSignature string
	Wallet      string
	Token       string
	Reason      string
	BlockedAt   time.Time
}

// InsertBlockedSignal records a blocked signal
func (d *DB) InsertBlockedSignal(b *BlockedSignal) error {
	_, err := d.db.Exec(`
		INSERT INTO blocked_signals (tx_signature, wallet, token, reason, blocked_at)
		VALUES (?, ?, ?, ?, ?)`,
		b.TxSignature, b.Wallet, b.Token, b.Reason, b.BlockedAt.Unix())
	return err
}

// CountBlockedSignals returns the number of blocked signal rows
func (d *DB) CountBlockedSignals() (int, error) {
	var n int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM blocked_signals`).Scan(&n)
	return n, err
}

// PauseResumeEvent is an audit record for a system state transition
type PauseResumeEvent struct {
	EventType      string
	OperatorID     string
	PreviousStatus string
	NewStatus      string
	Reason         string
	Note           string
	OccurredAt     time.Time
}

// InsertPauseResumeEvent appends a state transition audit record
func (d *DB) InsertPauseResumeEvent(e *PauseResumeEvent) error {
	_, err := d.db.Exec(`
		INSERT INTO pause_resume_events
		(event_type, operator_id, previous_status, new_status, reason, note, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.EventType, e.OperatorID, e.PreviousStatus, e.NewStatus,
		nullStr(e.Reason), nullStr(e.Note), e.OccurredAt.Unix())
	return err
}

// RecentPauseResumeEvents lists the most recent audit events
func (d *DB) RecentPauseResumeEvents(limit int) ([]*PauseResumeEvent, error) {
	rows, err := d.db.Query(`
		SELECT event_type, operator_id, previous_status, new_status, reason, note, occurred_at
		FROM pause_resume_events ORDER BY occurred_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*PauseResumeEvent
	for rows.Next() {
		var e PauseResumeEvent
		var reason, note sql.NullString
		var at int64
		if err := rows.Scan(&e.EventType, &e.OperatorID, &e.PreviousStatus, &e.NewStatus,
			&reason, &note, &at); err != nil {
			return nil, err
		}
		e.Reason = reason.String
		e.Note = note.String
		e.OccurredAt = time.Unix(at, 0)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// GetSystemConfig reads a system_config value by key
func (d *DB) GetSystemConfig(key string) (string, bool, error) {
	var v string
	err := d.db.QueryRow(`SELECT value FROM system_config WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// SetSystemConfig upserts a system_config value
func (d *DB) SetSystemConfig(key, value string) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO system_config (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, Now())
	return err
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
