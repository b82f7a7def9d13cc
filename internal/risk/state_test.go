package risk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"solana-smartmoney-bot/internal/config"
	"solana-smartmoney-bot/internal/storage"
)

func testDB(t *testing.T) *storage.DB {
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
		content = "risk:\n    daily_limit_pct: 5.0\n"
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

func TestInitialStateRunning(t *testing.T) {
	m, err := NewStateManager(testDB(t))
	if err != nil {
		t.Fatalf("NewStateManager: %v", err)
	}
	if !m.CanTrade() {
		t.Error("fresh system must allow trading")
	}
	if !m.CanExit() {
		t.Error("exits must always be allowed")
	}
}

func TestPauseResumeAudited(t *testing.T) {
	db := testDB(t)
	m, _ := NewStateManager(db)

	state, err := m.Pause("op-1", "maintenance", "rolling deploy")
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if state.Status != StatusPausedManual || m.CanTrade() {
		t.Errorf("state after pause = %+v", state)
	}
	if !m.CanExit() {
		t.Error("exits must remain allowed while paused")
	}

	state, err = m.Resume("op-2", false)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if state.Status != StatusRunning {
		t.Errorf("status after resume = %s", state.Status)
	}

	// Every transition appends exactly one matching audit event.
	events, err := db.RecentPauseResumeEvents(10)
	if err != nil {
		t.Fatalf("RecentPauseResumeEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	resume, pause := events[0], events[1]
	if pause.EventType != "pause" || pause.PreviousStatus != StatusRunning || pause.NewStatus != StatusPausedManual {
		t.Errorf("pause event mismatch: %+v", pause)
	}
	if resume.EventType != "resume" || resume.PreviousStatus != StatusPausedManual || resume.NewStatus != StatusRunning {
		t.Errorf("resume event mismatch: %+v", resume)
	}
}

func TestDoublePauseIsNoOp(t *testing.T) {
	db := testDB(t)
	m, _ := NewStateManager(db)

	m.Pause("op-1", "maintenance", "")
	state, err := m.Pause("op-2", "other", "")
	if err != nil {
		t.Fatalf("second Pause: %v", err)
	}
	if state.PausedBy != "op-1" {
		t.Errorf("second pause overwrote the first: %+v", state)
	}

	events, _ := db.RecentPauseResumeEvents(10)
	if len(events) != 1 {
		t.Errorf("events = %d, want 1 (no-op pause not audited)", len(events))
	}
}

func TestCircuitBreakerResumeNeedsAcknowledgement(t *testing.T) {
	db := testDB(t)
	m, _ := NewStateManager(db)

	state, err := m.SetCircuitBreakerPause(storage.BreakerDrawdown)
	if err != nil {
		t.Fatalf("SetCircuitBreakerPause: %v", err)
	}
	if state.Status != StatusPausedDrawdown {
		t.Errorf("status = %s, want PAUSED_DRAWDOWN", state.Status)
	}

	if _, err := m.Resume("op-1", false); err == nil {
		t.Fatal("resume from breaker pause without acknowledgement must fail")
	}
	if m.CanTrade() {
		t.Error("failed resume must leave the system paused")
	}

	state, err = m.Resume("op-1", true)
	if err != nil {
		t.Fatalf("acknowledged Resume: %v", err)
	}
	if state.Status != StatusRunning {
		t.Errorf("status = %s, want RUNNING", state.Status)
	}
}

func TestResumeClearsBreakerTriggers(t *testing.T) {
	db := testDB(t)
	m, _ := NewStateManager(db)

	if err := db.InsertTrigger(&storage.CircuitBreakerTrigger{
		ID:          "trig-1",
		BreakerType: storage.BreakerDrawdown,
		TriggeredAt: time.Now(),
	}); err != nil {
		t.Fatalf("InsertTrigger: %v", err)
	}
	m.SetCircuitBreakerPause(storage.BreakerDrawdown)

	if _, err := m.Resume("op-1", true); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	active, _ := db.ActiveTriggers(storage.BreakerDrawdown)
	if len(active) != 0 {
		t.Errorf("active triggers after resume = %d, want 0", len(active))
	}
}

func TestStatePersistsAcrossManagers(t *testing.T) {
	db := testDB(t)
	m1, _ := NewStateManager(db)
	m1.Pause("op-1", "maintenance", "")

	m2, err := NewStateManager(db)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if m2.CanTrade() {
		t.Error("reloaded manager lost the paused state")
	}
	if m2.GetState().PausedBy != "op-1" {
		t.Errorf("reloaded state = %+v", m2.GetState())
	}
}
