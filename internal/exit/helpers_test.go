package exit

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"solana-smartmoney-bot/internal/adapter/sim"
	"solana-smartmoney-bot/internal/config"
	"solana-smartmoney-bot/internal/order"
	"solana-smartmoney-bot/internal/ports"
	"solana-smartmoney-bot/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testConfig(t *testing.T, content string) *config.Manager {
	t.Helper()
	if content == "" {
		content = "exit:\n    monitor_tick_seconds: 5\n"
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	m, err := config.NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

// settablePrice is a price feed whose value tests mutate between ticks
type settablePrice struct {
	mu sync.Mutex
	p  decimal.Decimal
}

func (s *settablePrice) set(v string) {
	s.mu.Lock()
	s.p = decimal.RequireFromString(v)
	s.mu.Unlock()
}

func (s *settablePrice) FetchPrice(ctx context.Context, token string) (ports.PriceQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ports.PriceQuote{Price: s.p, Source: "test", FetchedAt: time.Now()}, nil
}

type monitorFixture struct {
	db      *storage.DB
	price   *settablePrice
	queue   *order.Queue
	exec    *order.Executor
	monitor *Monitor
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()
	db := openTestDB(t)
	cfg := testConfig(t, "")
	price := &settablePrice{p: decimal.RequireFromString("1.0")}
	queue := order.NewQueue(10)
	exec := order.NewExecutor(queue, db, sim.NewAdapter(price, 0, 1.0), sim.NewSigner(""), nil, cfg, nil)
	return &monitorFixture{
		db:      db,
		price:   price,
		queue:   queue,
		exec:    exec,
		monitor: NewMonitor(db, price, exec, cfg),
	}
}

// seedPosition writes a strategy and an open position using it.
// Entry price 1.0, 1_000_000 tokens, 1 SOL entry.
func (f *monitorFixture) seedPosition(t *testing.T, s *Strategy) *storage.Position {
	t.Helper()
	row, err := s.ToRow()
	if err != nil {
		t.Fatalf("ToRow: %v", err)
	}
	if err := f.db.UpsertExitStrategy(row); err != nil {
		t.Fatalf("UpsertExitStrategy: %v", err)
	}

	p := &storage.Position{
		ID:                  "pos-1",
		SignalID:            "sig-1",
		Token:               "TokenMint111",
		EntryPrice:          decimal.RequireFromString("1.0"),
		EntryAmountSol:      decimal.RequireFromString("1"),
		EntryAmountTokens:   1_000_000,
		CurrentAmountTokens: 1_000_000,
		Status:              storage.PositionOpen,
		ExitStrategyID:      s.ID,
		ConvictionTier:      storage.TierStandard,
		EntryTime:           time.Now(),
	}
	if err := f.db.InsertPosition(p); err != nil {
		t.Fatalf("InsertPosition: %v", err)
	}
	return p
}

// pendingExits returns the PENDING exit orders for the fixture position
func (f *monitorFixture) pendingExits(t *testing.T) []*storage.Order {
	t.Helper()
	orders, err := f.db.ListOrdersByStatus(storage.OrderPending)
	if err != nil {
		t.Fatalf("ListOrdersByStatus: %v", err)
	}
	var exits []*storage.Order
	for _, o := range orders {
		if o.Type == storage.OrderTypeExit {
			exits = append(exits, o)
		}
	}
	return exits
}

// fillExit marks an emitted exit order FILLED so the next evaluation is
// not suppressed by the active-order guard.
func (f *monitorFixture) fillExit(t *testing.T, o *storage.Order) {
	t.Helper()
	f.queue.Remove(o.ID)
	o.Status = storage.OrderFilled
	o.ActualPrice = decimal.NewNullDecimal(o.ExpectedPrice)
	o.TxSignature = "SIM-filled"
	o.UpdatedAt = time.Now()
	if err := f.db.UpdateOrder(o); err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
}

// reload fetches the fixture position's current row
func (f *monitorFixture) reload(t *testing.T, id string) *storage.Position {
	t.Helper()
	p, err := f.db.GetPosition(id)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if p == nil {
		t.Fatalf("position %s missing", id)
	}
	return p
}

// bareStrategy returns a strategy with every rule disabled
func bareStrategy() *Strategy {
	return &Strategy{ID: "bare", Name: "bare"}
}
