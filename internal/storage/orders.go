package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order types
const (
	OrderTypeEntry = "ENTRY"
	OrderTypeExit  = "EXIT"
)

// Order sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order statuses
const (
	OrderPending    = "PENDING"
	OrderSubmitted  = "SUBMITTED"
	OrderConfirming = "CONFIRMING"
	OrderFilled     = "FILLED"
	OrderFailed     = "FAILED"
	OrderCancelled  = "CANCELLED"
)

// Order is a persisted order row. Its state transitions are owned by the
// order executor and serialized per order id.
type Order struct {
	ID             string
	PositionID     string
	SignalID       string
	Type           string
	Side           string
	Token          string
	AmountSol      decimal.Decimal
	AmountTokens   uint64
	ExpectedPrice  decimal.Decimal
	ActualPrice    decimal.NullDecimal
	MaxSlippageBps int
	ExitReason     string
	Status         string
	AttemptCount   int
	MaxAttempts    int
	LastError      string
	TxSignature    string
	IsSimulated    bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsExit reports whether the order closes (part of) a position
func (o *Order) IsExit() bool {
	return o.Type == OrderTypeExit
}

// IsTerminal reports whether the order can never transition again
func (o *Order) IsTerminal() bool {
	return o.Status == OrderFilled || o.Status == OrderCancelled
}

// CanRetry reports whether a failed order has attempts left
func (o *Order) CanRetry() bool {
	return o.Status == OrderFailed && o.AttemptCount < o.MaxAttempts
}

// InsertOrder persists a new order
func (d *DB) InsertOrder(o *Order) error {
	_, err := d.db.Exec(`
		INSERT INTO orders
		(id, position_id, signal_id, order_type, side, token, amount_sol, amount_tokens,
		 expected_price, actual_price, max_slippage_bps, exit_reason, status,
		 attempt_count, max_attempts, last_error, tx_signature, is_simulated, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.PositionID, o.SignalID, o.Type, o.Side, o.Token, decStr(o.AmountSol), o.AmountTokens,
		decStr(o.ExpectedPrice), nullDecStr(o.ActualPrice), o.MaxSlippageBps, o.ExitReason, o.Status,
		o.AttemptCount, o.MaxAttempts, o.LastError, o.TxSignature, o.IsSimulated,
		o.CreatedAt.Unix(), o.UpdatedAt.Unix())
	return err
}

// UpdateOrder rewrites the mutable fields of an order row
func (d *DB) UpdateOrder(o *Order) error {
	res, err := d.db.Exec(`
		UPDATE orders SET status = ?, attempt_count = ?, actual_price = ?, amount_tokens = ?,
		last_error = ?, tx_signature = ?, updated_at = ? WHERE id = ?`,
		o.Status, o.AttemptCount, nullDecStr(o.ActualPrice), o.AmountTokens,
		o.LastError, o.TxSignature, o.UpdatedAt.Unix(), o.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("order not found: %s", o.ID)
	}
	return err
}

// GetOrder retrieves an order by id
func (d *DB) GetOrder(id string) (*Order, error) {
	row := d.db.QueryRow(`
		SELECT id, position_id, signal_id, order_type, side, token, amount_sol, amount_tokens,
		       expected_price, actual_price, max_slippage_bps, exit_reason, status,
		       attempt_count, max_attempts, last_error, tx_signature, is_simulated, created_at, updated_at
		FROM orders WHERE id = ?`, id)
	return scanOrder(row)
}

// ListOrdersByStatus retrieves orders with the given status
func (d *DB) ListOrdersByStatus(status string) ([]*Order, error) {
	rows, err := d.db.Query(`
		SELECT id, position_id, signal_id, order_type, side, token, amount_sol, amount_tokens,
		       expected_price, actual_price, max_slippage_bps, exit_reason, status,
		       attempt_count, max_attempts, last_error, tx_signature, is_simulated, created_at, updated_at
		FROM orders WHERE status = ? ORDER BY created_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// CountActiveExitOrders returns non-terminal EXIT orders for a position
func (d *DB) CountActiveExitOrders(positionID string) (int, error) {
	var n int
	err := d.db.QueryRow(`
		SELECT COUNT(*) FROM orders
		WHERE position_id = ? AND order_type = ? AND status NOT IN (?, ?)`,
		positionID, OrderTypeExit, OrderFilled, OrderCancelled).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	var posID, sigID, exitReason, lastErr, txSig sql.NullString
	var amountSol, expected string
	var actual sql.NullString
	var created, updated int64
	err := row.Scan(&o.ID, &posID, &sigID, &o.Type, &o.Side, &o.Token, &amountSol, &o.AmountTokens,
		&expected, &actual, &o.MaxSlippageBps, &exitReason, &o.Status,
		&o.AttemptCount, &o.MaxAttempts, &lastErr, &txSig, &o.IsSimulated, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o.PositionID = posID.String
	o.SignalID = sigID.String
	o.ExitReason = exitReason.String
	o.LastError = lastErr.String
	o.TxSignature = txSig.String
	o.AmountSol = scanDec(amountSol)
	o.ExpectedPrice = scanDec(expected)
	o.ActualPrice = scanNullDec(actual)
	o.CreatedAt = time.Unix(created, 0)
	o.UpdatedAt = time.Unix(updated, 0)
	return &o, nil
}
