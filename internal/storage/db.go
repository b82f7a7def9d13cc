// Package storage wraps the SQLite database behind the repository
// contracts the trading core depends on. All durable state lives here;
// in-memory mutations happen only after the write is accepted.
package storage

import (
	"database/sql"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database
type DB struct {
	db *sql.DB
}

// NewDB opens the database, applying WAL pragmas and creating tables
func NewDB(path string) (*DB, error) {
	dsn := path
	if !strings.Contains(path, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Info().Str("path", path).Msg("database initialized")
	return &DB{db: db}, nil
}

// Close closes the underlying connection
func (d *DB) Close() error {
	return d.db.Close()
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		position_id TEXT,
		signal_id TEXT,
		order_type TEXT NOT NULL,
		side TEXT NOT NULL,
		token TEXT NOT NULL,
		amount_sol TEXT NOT NULL,
		amount_tokens INTEGER NOT NULL DEFAULT 0,
		expected_price TEXT NOT NULL,
		actual_price TEXT,
		max_slippage_bps INTEGER NOT NULL,
		exit_reason TEXT,
		status TEXT NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL,
		last_error TEXT,
		tx_signature TEXT,
		is_simulated INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		signal_id TEXT,
		token TEXT NOT NULL,
		entry_price TEXT NOT NULL,
		entry_amount_sol TEXT NOT NULL,
		entry_amount_tokens INTEGER NOT NULL,
		current_amount_tokens INTEGER NOT NULL,
		status TEXT NOT NULL,
		exit_strategy_id TEXT,
		conviction_tier TEXT NOT NULL,
		entry_time INTEGER NOT NULL,
		closed_at INTEGER,
		realized_pnl_sol TEXT NOT NULL DEFAULT '0',
		unrealized_pnl_sol TEXT NOT NULL DEFAULT '0',
		is_simulated INTEGER NOT NULL DEFAULT 0,
		fired_tp_levels TEXT NOT NULL DEFAULT '',
		trailing_armed INTEGER NOT NULL DEFAULT 0,
		trailing_peak TEXT,
		stagnation_start INTEGER,
		stagnation_price TEXT
	);

	CREATE TABLE IF NOT EXISTS signal_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tx_signature TEXT NOT NULL,
		wallet TEXT NOT NULL,
		token TEXT NOT NULL,
		direction TEXT NOT NULL,
		amount_sol TEXT NOT NULL,
		amount_tokens INTEGER NOT NULL DEFAULT 0,
		wallet_score REAL NOT NULL DEFAULT 0,
		cluster_boost REAL NOT NULL DEFAULT 1,
		final_score REAL NOT NULL DEFAULT 0,
		token_safe INTEGER NOT NULL DEFAULT 1,
		token_reject_reason TEXT,
		status TEXT NOT NULL,
		reason TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS capital_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		capital TEXT NOT NULL,
		peak_capital TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS daily_snapshots (
		date TEXT PRIMARY KEY,
		starting_capital TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS circuit_breaker_triggers (
		id TEXT PRIMARY KEY,
		breaker_type TEXT NOT NULL,
		threshold_value TEXT NOT NULL,
		actual_value TEXT NOT NULL,
		capital_at_trigger TEXT NOT NULL,
		peak_capital_at_trigger TEXT NOT NULL,
		triggered_at INTEGER NOT NULL,
		reset_at INTEGER,
		reset_by TEXT
	);

	CREATE TABLE IF NOT EXISTS blocked_signals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tx_signature TEXT NOT NULL,
		wallet TEXT NOT NULL,
		token TEXT NOT NULL,
		reason TEXT NOT NULL,
		blocked_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pause_resume_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		operator_id TEXT NOT NULL,
		previous_status TEXT NOT NULL,
		new_status TEXT NOT NULL,
		reason TEXT,
		note TEXT,
		occurred_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS exit_strategies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		preset TEXT,
		is_default INTEGER NOT NULL DEFAULT 0,
		default_tier TEXT,
		config TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS exit_strategy_overrides (
		position_id TEXT PRIMARY KEY,
		strategy_id TEXT NOT NULL,
		operator_id TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS exit_strategy_assignments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id TEXT NOT NULL,
		strategy_id TEXT NOT NULL,
		source TEXT NOT NULL,
		signal_score REAL NOT NULL,
		assigned_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sizing_audits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		signal_id TEXT NOT NULL,
		signal_score REAL NOT NULL,
		available_sol TEXT NOT NULL,
		allocated_sol TEXT NOT NULL,
		position_count INTEGER NOT NULL,
		conviction_tier TEXT NOT NULL,
		base_size_sol TEXT NOT NULL,
		final_size_sol TEXT NOT NULL,
		decision TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS wallets (
		address TEXT PRIMARY KEY,
		is_monitored INTEGER NOT NULL DEFAULT 0,
		is_blacklisted INTEGER NOT NULL DEFAULT 0,
		win_rate REAL NOT NULL DEFAULT 0,
		total_pnl_sol REAL NOT NULL DEFAULT 0,
		cluster_id TEXT,
		is_leader INTEGER NOT NULL DEFAULT 0,
		cluster_weight REAL NOT NULL DEFAULT 1,
		updated_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS system_config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		alert_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		dedupe_key TEXT NOT NULL,
		requires_action INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
	CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
	CREATE INDEX IF NOT EXISTS idx_signal_logs_created ON signal_logs(created_at);
	CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON capital_snapshots(timestamp);
	CREATE INDEX IF NOT EXISTS idx_triggers_reset ON circuit_breaker_triggers(reset_at);
	CREATE INDEX IF NOT EXISTS idx_alerts_dedupe ON alerts(dedupe_key, created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Now returns the current unix timestamp
func Now() int64 {
	return time.Now().Unix()
}

func decStr(d decimal.Decimal) string {
	return d.String()
}

func scanDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func scanNullDec(s sql.NullString) decimal.NullDecimal {
	if !s.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: scanDec(s.String), Valid: true}
}

func nullDecStr(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func nullTime(t sql.NullInt64) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return time.Unix(t.Int64, 0)
}

func timeVal(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}
