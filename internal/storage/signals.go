package storage

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// SignalLog is a persisted signal audit record (append-only, batch-written)
type SignalLog struct {
	TxSignature       string
	Wallet            string
	Token             string
	Direction         string
	AmountSol         decimal.Decimal
	AmountTokens      uint64
	WalletScore       float64
	ClusterBoost      float64
	FinalScore        float64
	TokenSafe         bool
	TokenRejectReason string
	Status            string
	Reason            string
	CreatedAt         time.Time
}

// InsertSignalLogBatch writes a batch of signal logs in one transaction
func (d *DB) InsertSignalLogBatch(logs []*SignalLog) error {
	if len(logs) == 0 {
		return nil
	}
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO signal_logs
		(tx_signature, wallet, token, direction, amount_sol, amount_tokens,
		 wallet_score, cluster_boost, final_score, token_safe, token_reject_reason,
		 status, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, l := range logs {
		if _, err := stmt.Exec(l.TxSignature, l.Wallet, l.Token, l.Direction,
			decStr(l.AmountSol), l.AmountTokens, l.WalletScore, l.ClusterBoost,
			l.FinalScore, l.TokenSafe, nullStr(l.TokenRejectReason),
			l.Status, nullStr(l.Reason), l.CreatedAt.Unix()); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// CountSignalLogs returns the number of persisted signal logs
func (d *DB) CountSignalLogs() (int, error) {
	var n int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM signal_logs`).Scan(&n)
	return n, err
}

// WalletRow is a wallet profile row. Written by the discovery crawler;
// read-only from the core's perspective.
type WalletRow struct {
	Address       string
	IsMonitored   bool
	IsBlacklisted bool
	WinRate       float64
	TotalPnlSol   float64
	ClusterID     string
	IsLeader      bool
	ClusterWeight float64
	UpdatedAt     time.Time
}

// GetWallet retrieves a wallet profile, or nil when unknown
func (d *DB) GetWallet(address string) (*WalletRow, error) {
	var w WalletRow
	var clusterID sql.NullString
	var updated int64
	err := d.db.QueryRow(`
		SELECT address, is_monitored, is_blacklisted, win_rate, total_pnl_sol,
		       cluster_id, is_leader, cluster_weight, updated_at
		FROM wallets WHERE address = ?`, address).Scan(
		&w.Address, &w.IsMonitored, &w.IsBlacklisted, &w.WinRate, &w.TotalPnlSol,
		&clusterID, &w.IsLeader, &w.ClusterWeight, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	w.ClusterID = clusterID.String
	w.UpdatedAt = time.Unix(updated, 0)
	return &w, nil
}

// UpsertWallet writes a wallet profile (used by tests and seeding)
func (d *DB) UpsertWallet(w *WalletRow) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO wallets
		(address, is_monitored, is_blacklisted, win_rate, total_pnl_sol,
		 cluster_id, is_leader, cluster_weight, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.Address, w.IsMonitored, w.IsBlacklisted, w.WinRate, w.TotalPnlSol,
		nullStr(w.ClusterID), w.IsLeader, w.ClusterWeight, Now())
	return err
}
