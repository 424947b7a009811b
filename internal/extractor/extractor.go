// Package extractor turns a normalized transcript into a typed sequence
// of negotiation events using a single model call. Everything the model
// reports is re-derived or re-checked against the transcript before an
// event is accepted.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"

	"github.com/MikeSquared-Agency/parley/internal/aar"
	"github.com/MikeSquared-Agency/parley/internal/openai"
)

type Extractor struct {
	llm    *openai.Client
	logger *slog.Logger
}

func New(llm *openai.Client, logger *slog.Logger) *Extractor {
	return &Extractor{llm: llm, logger: logger}
}

// PromptHash identifies the prompt wording this extractor runs with.
func (e *Extractor) PromptHash() string {
	return aar.HashPrompt(systemPrompt + extractionUserPrompt)
}

// Model reports the model id in use, for report provenance.
func (e *Extractor) Model() string {
	return e.llm.Model()
}

// Extract tags negotiation events across the transcript. Events the model
// reports with an unknown type, an out-of-range turn, or a quote that is
// not a verbatim substring of the turn are dropped individually; only a
// whole-call failure is an error.
func (e *Extractor) Extract(ctx context.Context, raw *aar.RawTranscript, norm *aar.NormalizedTranscript) ([]aar.Event, error) {
	prompt := fmt.Sprintf(extractionUserPrompt, raw.ScenarioID, formatTranscript(norm))

	messages := []openai.Message{
		{Role: "user", Content: prompt},
	}

	e.logger.Info("extracting negotiation events",
		"session_id", raw.SessionID,
		"scenario_id", raw.ScenarioID,
		"turns", len(norm.Turns),
	)

	out, err := e.llm.Complete(ctx, systemPrompt, messages, 4096)
	if err != nil {
		return nil, fmt.Errorf("llm extraction: %w", err)
	}

	var resp llmResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		repaired, repErr := jsonrepair.RepairJSON(out)
		if repErr != nil {
			e.logger.Error("failed to parse extraction response",
				"error", err,
				"raw", out,
			)
			return nil, fmt.Errorf("parse extraction: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &resp); err != nil {
			e.logger.Error("failed to parse extraction response after repair",
				"error", err,
				"raw", out,
			)
			return nil, fmt.Errorf("parse extraction: %w", err)
		}
		e.logger.Warn("extraction response needed json repair", "session_id", raw.SessionID)
	}

	events := make([]aar.Event, 0, len(resp.Events))
	dropped := 0
	for _, w := range resp.Events {
		ev, err := e.resolve(raw, w)
		if err != nil {
			dropped++
			e.logger.Warn("dropping extracted event",
				"session_id", raw.SessionID,
				"event_type", w.EventType,
				"turn_index", w.TurnIndex,
				"error", err,
			)
			continue
		}
		events = append(events, ev)
	}

	aar.SortEvents(events)

	e.logger.Info("extraction complete",
		"session_id", raw.SessionID,
		"events", len(events),
		"dropped", dropped,
	)

	return events, nil
}

// resolve converts one wire event into a validated aar.Event, deriving
// speaker, timestamp, and character span from the referenced turn.
func (e *Extractor) resolve(raw *aar.RawTranscript, w eventWire) (aar.Event, error) {
	et, err := aar.ParseEventType(w.EventType)
	if err != nil {
		return aar.Event{}, err
	}
	if w.TurnIndex < 0 || w.TurnIndex >= len(raw.Turns) {
		return aar.Event{}, fmt.Errorf("turn_index %d outside transcript of %d turns", w.TurnIndex, len(raw.Turns))
	}
	if w.Quote == "" {
		return aar.Event{}, fmt.Errorf("empty quote")
	}

	turn := raw.Turns[w.TurnIndex]
	start := strings.Index(turn.RawText, w.Quote)
	if start < 0 {
		return aar.Event{}, fmt.Errorf("quote not found verbatim in turn %d", w.TurnIndex)
	}

	conf := w.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}

	ev := aar.Event{
		EventType:  et,
		Speaker:    turn.Speaker,
		Timestamp:  turn.Timestamp,
		TurnIndex:  w.TurnIndex,
		Quote:      w.Quote,
		Confidence: conf,
		CharStart:  start,
		CharEnd:    start + len(w.Quote),
	}
	if err := ev.Validate(raw); err != nil {
		return aar.Event{}, err
	}
	return ev, nil
}

// formatTranscript renders turns as "[index] speaker: raw text" lines.
// Raw text is shown because quotes must match it verbatim.
func formatTranscript(norm *aar.NormalizedTranscript) string {
	var b strings.Builder
	for _, turn := range norm.Turns {
		fmt.Fprintf(&b, "[%d] %s: %s\n", turn.TurnIndex, turn.Speaker, turn.RawText)
	}
	return b.String()
}
