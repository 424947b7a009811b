package tips

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/parley/internal/aar"
	"github.com/MikeSquared-Agency/parley/internal/openai"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTranscript() *aar.RawTranscript {
	start := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	return &aar.RawTranscript{
		SessionID:        "sess-123",
		ScenarioID:       "scenario_1",
		SessionStartTime: start,
		SessionEndTime:   start.Add(time.Minute),
		SessionDuration:  60,
		Turns: []aar.Turn{
			{Speaker: aar.SpeakerTrainee, RawText: "Fine, we'll take the 12% increase.", Timestamp: start, TurnIndex: 0},
			{Speaker: aar.SpeakerVendor, RawText: "Great, I'll send the paperwork.", Timestamp: start.Add(10 * time.Second), TurnIndex: 1},
		},
	}
}

func testStats() map[string]aar.SkillScore {
	return map[string]aar.SkillScore{
		"information_gathering": {Score: 40, Justification: "No fact questions asked."},
		"value_creation":        {Score: 35, Justification: "Accepted the increase without a trade."},
	}
}

func fakeGenerator(t *testing.T, handler http.HandlerFunc) *Generator {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := openai.NewClient("test-key", "gpt-4o", 0.3)
	client.SetBaseURL(server.URL)
	return New(client, discardLogger())
}

func completion(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestGenerate_OrdersAndClamps(t *testing.T) {
	g := fakeGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		completion(t, w, `{"tips": [
			{"priority": 3, "action": "Ask for the current rate before responding.", "evidence_quote": "we'll take the 12% increase", "explanation": "The increase was accepted without knowing the baseline."},
			{"priority": 9, "action": "Confirm terms in writing before closing.", "evidence_quote": "I'll send the paperwork", "explanation": "The paperwork was offered, not requested."},
			{"priority": 1, "action": "Trade instead of conceding.", "evidence_quote": "Fine, we'll take the 12% increase.", "explanation": "A concession with nothing in return."}
		]}`)
	})

	tips, err := g.Generate(context.Background(), testTranscript(), testStats(), nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(tips) != 3 {
		t.Fatalf("expected 3 tips, got %d", len(tips))
	}
	if tips[0].Priority != 1 || tips[0].Action != "Trade instead of conceding." {
		t.Errorf("tips not sorted by priority: %+v", tips[0])
	}
	// Priority 9 is clamped to 5 and sorts last.
	if tips[2].Priority != 5 {
		t.Errorf("priority not clamped: %+v", tips[2])
	}
}

func TestGenerate_TiesKeepGenerationOrder(t *testing.T) {
	g := fakeGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		completion(t, w, `{"tips": [
			{"priority": 2, "action": "First tip.", "evidence_quote": "Fine", "explanation": "x"},
			{"priority": 2, "action": "Second tip.", "evidence_quote": "Great", "explanation": "y"}
		]}`)
	})

	tips, err := g.Generate(context.Background(), testTranscript(), testStats(), nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(tips) != 2 || tips[0].Action != "First tip." || tips[1].Action != "Second tip." {
		t.Errorf("tie order not preserved: %+v", tips)
	}
}

func TestGenerate_DropsUnverifiableEvidence(t *testing.T) {
	g := fakeGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		completion(t, w, `{"tips": [
			{"priority": 1, "action": "Keep this.", "evidence_quote": "take the 12% increase", "explanation": "x"},
			{"priority": 2, "action": "Drop this.", "evidence_quote": "you should have asked about usage", "explanation": "fabricated"},
			{"priority": 3, "action": "Drop this too.", "evidence_quote": "", "explanation": "no evidence"},
			{"priority": 4, "action": "", "evidence_quote": "Fine", "explanation": "no action"}
		]}`)
	})

	tips, err := g.Generate(context.Background(), testTranscript(), testStats(), nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(tips) != 1 || tips[0].Action != "Keep this." {
		t.Errorf("expected only verifiable tip to survive, got %+v", tips)
	}
}

func TestGenerate_RepairsMalformedJSON(t *testing.T) {
	g := fakeGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		completion(t, w, `{"tips": [{"priority": 1, "action": "Trade instead of conceding.", "evidence_quote": "Fine", "explanation": "x"},]}`)
	})

	tips, err := g.Generate(context.Background(), testTranscript(), testStats(), nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(tips) != 1 {
		t.Errorf("repair path failed: %+v", tips)
	}
}

func TestGenerate_APIError(t *testing.T) {
	g := fakeGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limited", "type": "rate_limit_error"}}`))
	})

	if _, err := g.Generate(context.Background(), testTranscript(), testStats(), nil); err == nil {
		t.Fatal("expected error on API failure")
	}
}
