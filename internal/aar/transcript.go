package aar

import (
	"encoding/json"
	"fmt"
	"time"
)

// Speaker identifies which side of the negotiation produced a turn.
type Speaker string

const (
	SpeakerTrainee Speaker = "trainee"
	SpeakerVendor  Speaker = "vendor"
)

// Valid reports whether s is a recognized speaker.
func (s Speaker) Valid() bool {
	return s == SpeakerTrainee || s == SpeakerVendor
}

// ToolCall records a function tool invocation during the session.
type ToolCall struct {
	ToolName  string         `json:"tool_name"`
	Timestamp time.Time      `json:"timestamp"`
	Arguments map[string]any `json:"arguments"`
	Result    *string        `json:"result,omitempty"`
}

// Turn is a single utterance in the conversation transcript.
// RawText is the verbatim ASR output and is never modified;
// NormalizedText is the cleaned copy used for event extraction.
type Turn struct {
	Speaker        Speaker   `json:"speaker"`
	RawText        string    `json:"raw_text"`
	NormalizedText string    `json:"normalized_text"`
	Timestamp      time.Time `json:"timestamp"`
	TurnIndex      int       `json:"turn_index"`
}

// RawTranscript is the complete conversation record handed off by the
// voice runtime at session end. It is immutable once assembled: the
// pipeline only reads and copies from it.
type RawTranscript struct {
	SessionID        string     `json:"session_id"`
	ScenarioID       string     `json:"scenario_id"`
	SessionStartTime time.Time  `json:"session_start_time"`
	SessionEndTime   time.Time  `json:"session_end_time"`
	SessionDuration  float64    `json:"session_duration"` // seconds, end minus start
	ParticipantID    string     `json:"participant_id"`
	Turns            []Turn     `json:"turns"`
	ToolCalls        []ToolCall `json:"tool_calls"`
}

// SessionMetadata is the transcript summary embedded in a report.
type SessionMetadata struct {
	SessionID        string    `json:"session_id"`
	ScenarioID       string    `json:"scenario_id"`
	SessionStartTime time.Time `json:"session_start_time"`
	SessionEndTime   time.Time `json:"session_end_time"`
	SessionDuration  float64   `json:"session_duration"`
	ParticipantID    string    `json:"participant_id"`
	ToolCallsCount   int       `json:"tool_calls_count"`
}

// Validate checks the structural invariants of a transcript: a session id,
// a non-negative duration consistent with the start/end times, contiguous
// 0-based turn indexes in chronological order, and known speakers.
func (t *RawTranscript) Validate() error {
	if t.SessionID == "" {
		return fmt.Errorf("transcript has no session_id")
	}
	if t.SessionEndTime.Before(t.SessionStartTime) {
		return fmt.Errorf("session %s: end time precedes start time", t.SessionID)
	}
	if t.SessionDuration < 0 {
		return fmt.Errorf("session %s: negative duration %f", t.SessionID, t.SessionDuration)
	}
	for i, turn := range t.Turns {
		if turn.TurnIndex != i {
			return fmt.Errorf("session %s: turn at position %d has turn_index %d", t.SessionID, i, turn.TurnIndex)
		}
		if !turn.Speaker.Valid() {
			return fmt.Errorf("session %s: turn %d has unknown speaker %q", t.SessionID, i, turn.Speaker)
		}
		if i > 0 && turn.Timestamp.Before(t.Turns[i-1].Timestamp) {
			return fmt.Errorf("session %s: turn %d timestamp precedes turn %d", t.SessionID, i, i-1)
		}
	}
	return nil
}

// ToMetadata extracts the session metadata embedded in the report.
func (t *RawTranscript) ToMetadata() SessionMetadata {
	return SessionMetadata{
		SessionID:        t.SessionID,
		ScenarioID:       t.ScenarioID,
		SessionStartTime: t.SessionStartTime,
		SessionEndTime:   t.SessionEndTime,
		SessionDuration:  t.SessionDuration,
		ParticipantID:    t.ParticipantID,
		ToolCallsCount:   len(t.ToolCalls),
	}
}

// ToJSON serializes the transcript in the persisted wire format.
func (t *RawTranscript) ToJSON() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// ParseRawTranscript parses the persisted transcript wire format.
func ParseRawTranscript(data []byte) (*RawTranscript, error) {
	var t RawTranscript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse transcript: %w", err)
	}
	return &t, nil
}

// NormalizedTranscript mirrors a RawTranscript turn-for-turn with
// NormalizedText carrying the cleaned copy. Derived, one-to-one with its
// RawTranscript via SessionID.
type NormalizedTranscript struct {
	SessionID string `json:"session_id"`
	Turns     []Turn `json:"turns"`
}
