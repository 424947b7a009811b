package rescore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRescoreState_NewAndSave(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")

	s, err := LoadState(statePath)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if s.StartedAt.IsZero() {
		t.Error("fresh state has no started_at")
	}

	s.MarkProcessed("sess-a")
	s.MarkProcessed("sess-b")
	s.ReportsWritten = 2
	s.DegradedReports = 1

	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded, err := LoadState(statePath)
	if err != nil {
		t.Fatalf("reload state: %v", err)
	}
	if len(reloaded.SessionsProcessed) != 2 {
		t.Errorf("sessions_processed = %d, want 2", len(reloaded.SessionsProcessed))
	}
	if reloaded.ReportsWritten != 2 || reloaded.DegradedReports != 1 {
		t.Errorf("counters = %d/%d, want 2/1", reloaded.ReportsWritten, reloaded.DegradedReports)
	}
	if reloaded.LastProcessedAt.IsZero() {
		t.Error("last_processed_at not recorded on save")
	}
}

func TestRescoreState_IsProcessed(t *testing.T) {
	s := &RescoreState{}

	if s.IsProcessed("sess-a") {
		t.Error("sess-a should not be processed yet")
	}

	s.MarkProcessed("sess-a")

	if !s.IsProcessed("sess-a") {
		t.Error("sess-a should be processed")
	}
	if s.IsProcessed("sess-b") {
		t.Error("sess-b should not be processed")
	}
}

func TestRescoreState_AddError(t *testing.T) {
	s := &RescoreState{}
	s.AddError("something went wrong")
	s.AddError("another error")

	if len(s.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(s.Errors))
	}
	if s.Errors[0] != "something went wrong" {
		t.Errorf("error[0] = %q", s.Errors[0])
	}
}

func TestRescoreState_SaveCreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "nested", "dir", "state.json")

	s := &RescoreState{path: statePath}
	if err := s.Save(); err != nil {
		t.Fatalf("Save with nested dir failed: %v", err)
	}
	if _, err := os.Stat(statePath); err != nil {
		t.Fatalf("state file not created in nested dir: %v", err)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home dir")
	}

	got := expandHome("~/test/path")
	want := filepath.Join(home, "test/path")
	if got != want {
		t.Errorf("expandHome(~/test/path) = %q, want %q", got, want)
	}

	// Non-tilde paths should pass through.
	got = expandHome("/absolute/path")
	if got != "/absolute/path" {
		t.Errorf("expandHome(/absolute/path) = %q", got)
	}
}
