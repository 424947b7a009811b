// Package scenario holds the grounding-rule vocabulary for each training
// scenario. Rule kinds are code; rule instances and skill dimensions are
// scenario-supplied data, loadable from YAML packs and overridable per
// deployment.
package scenario

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/parley/internal/aar"
)

// Rule kinds understood by the deterministic scorer.
const (
	KindMinEvents    = "min_events"    // cap unless at least Min events of Event occurred
	KindRequireEvent = "require_event" // penalty when Event never occurred
	KindForbidEvent  = "forbid_event"  // penalty per occurrence of Event
	KindEventBefore  = "event_before"  // cap when Event occurred before the first Before
)

// Rule is one grounding rule instance: a kind from the closed vocabulary
// plus its scenario-supplied parameters.
type Rule struct {
	ID      string `yaml:"id" json:"id"`
	Kind    string `yaml:"kind" json:"kind"`
	Skill   string `yaml:"skill" json:"skill"`
	Event   string `yaml:"event" json:"event"`
	Before  string `yaml:"before,omitempty" json:"before,omitempty"`
	Min     int    `yaml:"min,omitempty" json:"min,omitempty"`
	Cap     int    `yaml:"cap,omitempty" json:"cap,omitempty"`
	Penalty int    `yaml:"penalty,omitempty" json:"penalty,omitempty"`
	Reason  string `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// Scenario is one training scenario: its skill dimensions and the rules
// the deterministic scorer applies on top of rubric grading.
type Scenario struct {
	ID     string   `yaml:"id" json:"id"`
	Name   string   `yaml:"name" json:"name"`
	Skills []string `yaml:"skills" json:"skills"`
	Rules  []Rule   `yaml:"rules" json:"rules"`
}

// Validate checks a scenario definition for internal consistency.
func (s *Scenario) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("scenario has no id")
	}
	if len(s.Skills) == 0 {
		return fmt.Errorf("scenario %s: no skill dimensions", s.ID)
	}
	skills := make(map[string]bool, len(s.Skills))
	for _, sk := range s.Skills {
		if sk == "" {
			return fmt.Errorf("scenario %s: empty skill name", s.ID)
		}
		if skills[sk] {
			return fmt.Errorf("scenario %s: duplicate skill %q", s.ID, sk)
		}
		skills[sk] = true
	}

	seen := make(map[string]bool, len(s.Rules))
	for _, r := range s.Rules {
		if r.ID == "" {
			return fmt.Errorf("scenario %s: rule has no id", s.ID)
		}
		if seen[r.ID] {
			return fmt.Errorf("scenario %s: duplicate rule id %q", s.ID, r.ID)
		}
		seen[r.ID] = true

		if !skills[r.Skill] {
			return fmt.Errorf("scenario %s: rule %s targets unknown skill %q", s.ID, r.ID, r.Skill)
		}
		if _, err := aar.ParseEventType(r.Event); err != nil {
			return fmt.Errorf("scenario %s: rule %s: %w", s.ID, r.ID, err)
		}

		switch r.Kind {
		case KindMinEvents:
			if r.Cap <= 0 || r.Cap > 100 {
				return fmt.Errorf("scenario %s: rule %s: cap %d outside 1..100", s.ID, r.ID, r.Cap)
			}
			if r.Min < 0 {
				return fmt.Errorf("scenario %s: rule %s: negative min", s.ID, r.ID)
			}
			// Min 0 means "use the configured baseline"; only the fact
			// question rule has a baseline to fall back to.
			if r.Min == 0 && aar.EventType(r.Event) != aar.EventAskFacts {
				return fmt.Errorf("scenario %s: rule %s: min required for event %s", s.ID, r.ID, r.Event)
			}
		case KindRequireEvent, KindForbidEvent:
			if r.Penalty <= 0 {
				return fmt.Errorf("scenario %s: rule %s: penalty must be positive", s.ID, r.ID)
			}
		case KindEventBefore:
			if r.Cap <= 0 || r.Cap > 100 {
				return fmt.Errorf("scenario %s: rule %s: cap %d outside 1..100", s.ID, r.ID, r.Cap)
			}
			if _, err := aar.ParseEventType(r.Before); err != nil {
				return fmt.Errorf("scenario %s: rule %s: %w", s.ID, r.ID, err)
			}
		default:
			return fmt.Errorf("scenario %s: rule %s: unknown kind %q", s.ID, r.ID, r.Kind)
		}
	}
	return nil
}

// Library is the set of known scenarios, resolved once at startup.
type Library struct {
	scenarios map[string]Scenario
}

// Default returns the built-in library. scenario_1 is the vendor renewal
// negotiation every deployment ships with.
func Default() *Library {
	s1 := Scenario{
		ID:     "scenario_1",
		Name:   "Vendor renewal rate negotiation",
		Skills: []string{"information_gathering", "risk_management", "value_creation", "closing"},
		Rules: []Rule{
			{
				ID:     "min_fact_questions",
				Kind:   KindMinEvents,
				Skill:  "information_gathering",
				Event:  string(aar.EventAskFacts),
				Cap:    60,
				Reason: "too few fact questions before negotiating",
			},
			{
				ID:      "must_request_written_notice",
				Kind:    KindRequireEvent,
				Skill:   "risk_management",
				Event:   string(aar.EventRequestWrittenNotice),
				Penalty: 15,
				Reason:  "never asked for the terms in writing",
			},
			{
				ID:      "must_avoid_unilateral_promises",
				Kind:    KindForbidEvent,
				Skill:   "risk_management",
				Event:   string(aar.EventRiskyCommitment),
				Penalty: 10,
				Reason:  "made an unconditional commitment",
			},
			{
				ID:     "no_premature_concession",
				Kind:   KindEventBefore,
				Skill:  "value_creation",
				Event:  string(aar.EventConcession),
				Before: string(aar.EventAskFacts),
				Cap:    50,
				Reason: "conceded before asking any fact questions",
			},
		},
	}

	return &Library{scenarios: map[string]Scenario{s1.ID: s1}}
}

// Load reads YAML scenario packs from dir (one scenario per file) on top
// of the built-in library. A pack with an existing id replaces it.
func Load(dir string) (*Library, error) {
	lib := Default()

	for _, pattern := range []string{"*.yaml", "*.yml"} {
		paths, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("scan scenario dir: %w", err)
		}
		for _, path := range paths {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read scenario pack %s: %w", path, err)
			}
			var s Scenario
			if err := yaml.Unmarshal(data, &s); err != nil {
				return nil, fmt.Errorf("parse scenario pack %s: %w", path, err)
			}
			if err := s.Validate(); err != nil {
				return nil, fmt.Errorf("scenario pack %s: %w", path, err)
			}
			lib.scenarios[s.ID] = s
		}
	}

	return lib, nil
}

// Get looks up a scenario by id.
func (l *Library) Get(id string) (*Scenario, error) {
	s, ok := l.scenarios[id]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q", id)
	}
	return &s, nil
}

// IDs lists the known scenario ids.
func (l *Library) IDs() []string {
	ids := make([]string, 0, len(l.scenarios))
	for id := range l.scenarios {
		ids = append(ids, id)
	}
	return ids
}
