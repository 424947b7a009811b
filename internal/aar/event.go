package aar

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// EventType is the closed set of negotiation behaviors the extractor tags.
type EventType string

const (
	EventAskFacts             EventType = "ASK_FACTS"              // trainee requests contract information
	EventRequestWrittenNotice EventType = "REQUEST_WRITTEN_NOTICE" // trainee asks for written documentation
	EventProposedOption       EventType = "PROPOSED_OPTION"        // either party proposes a solution
	EventConcession           EventType = "CONCESSION"             // either party gives something up
	EventConsideration        EventType = "CONSIDERATION"          // trainee requests something in exchange
	EventRiskyCommitment      EventType = "RISKY_COMMITMENT"       // trainee makes verbal promises
	EventCloseout             EventType = "CLOSEOUT"               // negotiation reaches conclusion
)

// EventTypes lists every recognized event type in declaration order.
func EventTypes() []EventType {
	return []EventType{
		EventAskFacts,
		EventRequestWrittenNotice,
		EventProposedOption,
		EventConcession,
		EventConsideration,
		EventRiskyCommitment,
		EventCloseout,
	}
}

// Valid reports whether e is a recognized event type.
func (e EventType) Valid() bool {
	switch e {
	case EventAskFacts, EventRequestWrittenNotice, EventProposedOption,
		EventConcession, EventConsideration, EventRiskyCommitment, EventCloseout:
		return true
	}
	return false
}

// ParseEventType maps a wire string (case-insensitive) to an EventType.
func ParseEventType(s string) (EventType, error) {
	e := EventType(strings.ToUpper(strings.TrimSpace(s)))
	if !e.Valid() {
		return "", fmt.Errorf("unknown event type %q", s)
	}
	return e, nil
}

// Event is a structured, confidence-scored tag marking a negotiation
// behavior within a single turn. Quote is the verbatim excerpt of the
// turn's raw text at [CharStart, CharEnd).
type Event struct {
	EventType  EventType `json:"event_type"`
	Speaker    Speaker   `json:"speaker"`
	Timestamp  time.Time `json:"timestamp"`
	TurnIndex  int       `json:"turn_index"`
	Quote      string    `json:"quote"`
	Confidence float64   `json:"confidence"`
	CharStart  int       `json:"char_start"`
	CharEnd    int       `json:"char_end"`
}

// Validate checks the event's invariants against its source transcript:
// a known type and speaker, confidence within [0,1], a turn index inside
// the transcript, and a quote that exactly matches the referenced turn's
// raw text at the recorded span.
func (e *Event) Validate(t *RawTranscript) error {
	if !e.EventType.Valid() {
		return fmt.Errorf("unknown event type %q", e.EventType)
	}
	if !e.Speaker.Valid() {
		return fmt.Errorf("unknown speaker %q", e.Speaker)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("confidence %f outside [0,1]", e.Confidence)
	}
	if e.TurnIndex < 0 || e.TurnIndex >= len(t.Turns) {
		return fmt.Errorf("turn_index %d outside transcript of %d turns", e.TurnIndex, len(t.Turns))
	}
	raw := t.Turns[e.TurnIndex].RawText
	if e.CharStart < 0 || e.CharEnd > len(raw) || e.CharStart > e.CharEnd {
		return fmt.Errorf("span [%d,%d) outside turn %d text of length %d", e.CharStart, e.CharEnd, e.TurnIndex, len(raw))
	}
	if raw[e.CharStart:e.CharEnd] != e.Quote {
		return fmt.Errorf("quote does not match turn %d text at [%d,%d)", e.TurnIndex, e.CharStart, e.CharEnd)
	}
	return nil
}

// SortEvents orders events by timestamp, ties broken by turn index.
// The sort is stable so equal events keep extraction order.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].TurnIndex < events[j].TurnIndex
	})
}

// FilterActionable returns the events at or above the confidence
// threshold. Events below it stay in the report for audit but are
// excluded from rules, achievements, and combos.
func FilterActionable(events []Event, threshold float64) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if e.Confidence >= threshold {
			out = append(out, e)
		}
	}
	return out
}
