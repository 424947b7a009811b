package rescore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const defaultStatePath = "~/.parley/rescore-state.json"

// RescoreState tracks progress so an interrupted rescore can resume
// without re-grading sessions it already rewrote.
type RescoreState struct {
	StartedAt         time.Time `json:"started_at"`
	LastProcessedAt   time.Time `json:"last_processed_at"`
	SessionsProcessed []string  `json:"sessions_processed"`
	SessionsRemaining int       `json:"sessions_remaining"`
	ReportsWritten    int       `json:"reports_written"`
	DegradedReports   int       `json:"degraded_reports"`
	Errors            []string  `json:"errors"`

	path string // not serialized
}

// LoadState loads the rescore state from disk, or creates a new one.
// An empty path selects the default location under the home directory.
func LoadState(path string) (*RescoreState, error) {
	if path == "" {
		path = defaultStatePath
	}
	p := expandHome(path)

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return &RescoreState{
				StartedAt: time.Now().UTC(),
				path:      p,
			}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s RescoreState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	s.path = p
	return &s, nil
}

// Save persists the state to disk.
func (s *RescoreState) Save() error {
	s.LastProcessedAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return os.WriteFile(s.path, data, 0o644)
}

// IsProcessed returns true if the session was already rescored.
func (s *RescoreState) IsProcessed(sessionID string) bool {
	for _, id := range s.SessionsProcessed {
		if id == sessionID {
			return true
		}
	}
	return false
}

// MarkProcessed records a session as rescored.
func (s *RescoreState) MarkProcessed(sessionID string) {
	s.SessionsProcessed = append(s.SessionsProcessed, sessionID)
}

// AddError records a processing error.
func (s *RescoreState) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
