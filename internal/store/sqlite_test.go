// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers finding persistence and filters, config upsert/get/list/delete

package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_Memory(t *testing.T) {
	store, err := NewSQLiteStore(MemoryPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveFinding(ctx, &Finding{AgentID: "a", Target: "t", Severity: SeverityInfo, Content: "x"}); err != nil {
		t.Fatalf("SaveFinding failed: %v", err)
	}
	findings, err := store.ListFindings(ctx, FindingFilter{})
	if err != nil {
		t.Fatalf("ListFindings failed: %v", err)
	}
	if len(findings) != 1 {
		t.Errorf("expected 1 finding, got %d", len(findings))
	}
}

func TestSaveFinding_AssignsIDAndTime(t *testing.T) {
	store := newTestStore(t)

	f := &Finding{AgentID: "agent-1", AgentName: "Agent-1", Target: "example.test", Severity: SeverityHigh, Content: "SQL injection at /login"}
	if err := store.SaveFinding(context.Background(), f); err != nil {
		t.Fatalf("SaveFinding failed: %v", err)
	}
	if f.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if f.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be assigned")
	}
}

func TestSaveFinding_RejectsUnknownSeverity(t *testing.T) {
	store := newTestStore(t)

	err := store.SaveFinding(context.Background(), &Finding{Severity: "Spicy"})
	if !errors.Is(err, ErrInvalidSeverity) {
		t.Errorf("expected ErrInvalidSeverity, got %v", err)
	}
}

func TestSaveFinding_Duplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	f := &Finding{ID: "f-1", Target: "t", Severity: SeverityLow, Content: "x"}
	if err := store.SaveFinding(ctx, f); err != nil {
		t.Fatalf("SaveFinding failed: %v", err)
	}
	dup := &Finding{ID: "f-1", Target: "t", Severity: SeverityLow, Content: "y"}
	if err := store.SaveFinding(ctx, dup); !errors.Is(err, ErrDuplicateFinding) {
		t.Errorf("expected ErrDuplicateFinding, got %v", err)
	}
}

func TestListFindings_FiltersAndOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := []*Finding{
		{ID: "1", Target: "a.test", Severity: SeverityHigh, Content: "one", CreatedAt: base},
		{ID: "2", Target: "a.test", Severity: SeverityLow, Content: "two", CreatedAt: base.Add(time.Minute)},
		{ID: "3", Target: "b.test", Severity: SeverityHigh, Content: "three", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, f := range seed {
		if err := store.SaveFinding(ctx, f); err != nil {
			t.Fatalf("SaveFinding failed: %v", err)
		}
	}

	all, err := store.ListFindings(ctx, FindingFilter{})
	if err != nil {
		t.Fatalf("ListFindings failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "3" || all[2].ID != "1" {
		t.Errorf("expected newest first [3 2 1], got %v", ids(all))
	}
	if !all[2].CreatedAt.Equal(base) {
		t.Errorf("expected created_at %v, got %v", base, all[2].CreatedAt)
	}

	byTarget, _ := store.ListFindings(ctx, FindingFilter{Target: "a.test"})
	if len(byTarget) != 2 {
		t.Errorf("expected 2 findings for a.test, got %d", len(byTarget))
	}

	both, _ := store.ListFindings(ctx, FindingFilter{Target: "a.test", Severity: SeverityHigh})
	if len(both) != 1 || both[0].ID != "1" {
		t.Errorf("expected [1], got %v", ids(both))
	}

	limited, _ := store.ListFindings(ctx, FindingFilter{Limit: 1})
	if len(limited) != 1 || limited[0].ID != "3" {
		t.Errorf("expected [3], got %v", ids(limited))
	}
}

func ids(fs []*Finding) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.ID
	}
	return out
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cfg := &SavedConfig{
		Name:              "nightly",
		Target:            "example.test",
		Category:          "web",
		Model:             "openai/gpt-4o",
		AgentCount:        3,
		Mode:              "stealth",
		RequestedTools:    []string{"nmap", "nikto"},
		AllowlistOnly:     true,
		Stealth:           json.RawMessage(`{"random_delays":true}`),
		ExecutionDuration: "30m",
	}
	if err := store.SaveConfig(ctx, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	got, err := store.GetConfig(ctx, "nightly")
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if got.Target != "example.test" || got.AgentCount != 3 || !got.AllowlistOnly {
		t.Errorf("unexpected config: %+v", got)
	}
	if len(got.RequestedTools) != 2 || got.RequestedTools[1] != "nikto" {
		t.Errorf("unexpected tools: %v", got.RequestedTools)
	}
	if string(got.Stealth) != `{"random_delays":true}` {
		t.Errorf("unexpected stealth: %s", got.Stealth)
	}
	if got.Capabilities != nil {
		t.Errorf("expected nil capabilities, got %s", got.Capabilities)
	}
}

func TestSaveConfig_UpsertKeepsCreatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveConfig(ctx, &SavedConfig{Name: "c", Target: "one"}); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	first, _ := store.GetConfig(ctx, "c")

	if err := store.SaveConfig(ctx, &SavedConfig{Name: "c", Target: "two"}); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	second, _ := store.GetConfig(ctx, "c")

	if second.Target != "two" {
		t.Errorf("expected target to be replaced, got %q", second.Target)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed on upsert: %v -> %v", first.CreatedAt, second.CreatedAt)
	}

	all, _ := store.ListConfigs(ctx)
	if len(all) != 1 {
		t.Errorf("expected 1 config, got %d", len(all))
	}
}

func TestSaveConfig_RequiresName(t *testing.T) {
	store := newTestStore(t)
	if err := store.SaveConfig(context.Background(), &SavedConfig{Name: "  "}); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}
}

func TestGetConfig_NotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetConfig(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteConfig(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveConfig(ctx, &SavedConfig{Name: "gone", Target: "x"}); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	if err := store.DeleteConfig(ctx, "gone"); err != nil {
		t.Fatalf("DeleteConfig failed: %v", err)
	}
	if err := store.DeleteConfig(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestListConfigs_Empty(t *testing.T) {
	store := newTestStore(t)
	configs, err := store.ListConfigs(context.Background())
	if err != nil {
		t.Fatalf("ListConfigs failed: %v", err)
	}
	if len(configs) != 0 {
		t.Errorf("expected no configs, got %d", len(configs))
	}
}
