package alerts

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"solana-smartmoney-bot/internal/ports"
	"solana-smartmoney-bot/internal/storage"
)

func testService(t *testing.T, window time.Duration) (*Service, *storage.DB) {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewService(db, window), db
}

func alert(key string) ports.Alert {
	return ports.Alert{
		Type:      "order_execution_failed",
		Severity:  ports.SeverityHigh,
		Title:     "ENTRY order failed",
		Message:   "order failed after 3 attempts",
		DedupeKey: key,
	}
}

func TestAlertPersisted(t *testing.T) {
	s, db := testService(t, time.Minute)

	if err := s.Raise(context.Background(), alert("k1")); err != nil {
		t.Fatalf("Raise: %v", err)
	}

	at, ok, err := db.LatestAlertTime("k1")
	if err != nil || !ok {
		t.Fatalf("LatestAlertTime: ok=%v err=%v", ok, err)
	}
	if time.Since(at) > time.Minute {
		t.Errorf("alert time = %v", at)
	}
}

func TestDedupeSuppressesStorm(t *testing.T) {
	s, db := testService(t, time.Minute)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if err := s.Raise(ctx, alert("storm")); err != nil {
			t.Fatalf("Raise %d: %v", i, err)
		}
	}

	// Only the first one lands; the rest are suppressed in memory.
	first, ok, _ := db.LatestAlertTime("storm")
	if !ok {
		t.Fatal("storm alert missing")
	}
	if again, _, _ := db.LatestAlertTime("storm"); !again.Equal(first) {
		t.Error("storm alert rewritten during suppression window")
	}

	if err := s.Raise(ctx, alert("other")); err != nil {
		t.Fatalf("distinct key suppressed: %v", err)
	}
	if _, ok, _ := db.LatestAlertTime("other"); !ok {
		t.Error("distinct dedupe key must not be suppressed")
	}
}

func TestDedupeExpires(t *testing.T) {
	s, _ := testService(t, 30*time.Millisecond)
	ctx := context.Background()

	s.Raise(ctx, alert("k1"))
	time.Sleep(50 * time.Millisecond)
	if err := s.Raise(ctx, alert("k1")); err != nil {
		t.Fatalf("Raise after window: %v", err)
	}
}
