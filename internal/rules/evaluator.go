// Package rules is the deterministic half of scoring: it replays the
// scenario's grounding rules over the thresholded event stream and emits
// score caps and penalties with a full audit trail. No model calls, no
// randomness; the same events always produce the same outcome.
package rules

import (
	"fmt"

	"github.com/MikeSquared-Agency/parley/internal/aar"
	"github.com/MikeSquared-Agency/parley/internal/scenario"
)

// Baseline carries deployment-tunable thresholds for rules that omit
// their own parameters.
type Baseline struct {
	MinFactQuestions int
}

// Outcome is the deterministic verdict for one session: caps and
// penalties grouped by skill, plus the ordered list of fired rules.
type Outcome struct {
	Caps      map[string][]aar.CapEntry
	Penalties map[string][]aar.PenaltyEntry
	Triggers  []aar.RuleTrigger
}

// Evaluate runs every rule in the scenario against the trainee's events.
// Only trainee events count; the vendor's behavior is context, not
// something the trainee is graded on. Rules fire in declaration order so
// the trigger log is stable across runs.
func Evaluate(s *scenario.Scenario, events []aar.Event, base Baseline) *Outcome {
	trainee := make([]aar.Event, 0, len(events))
	for _, e := range events {
		if e.Speaker == aar.SpeakerTrainee {
			trainee = append(trainee, e)
		}
	}
	aar.SortEvents(trainee)

	counts := make(map[aar.EventType]int)
	first := make(map[aar.EventType]int) // index into trainee of first occurrence
	for i, e := range trainee {
		counts[e.EventType]++
		if _, ok := first[e.EventType]; !ok {
			first[e.EventType] = i
		}
	}

	out := &Outcome{
		Caps:      make(map[string][]aar.CapEntry),
		Penalties: make(map[string][]aar.PenaltyEntry),
	}

	for _, r := range s.Rules {
		switch r.Kind {
		case scenario.KindMinEvents:
			min := r.Min
			if min == 0 {
				min = base.MinFactQuestions
			}
			n := counts[aar.EventType(r.Event)]
			if n < min {
				out.Caps[r.Skill] = append(out.Caps[r.Skill], aar.CapEntry{Rule: r.ID, CapValue: r.Cap})
				out.Triggers = append(out.Triggers, aar.RuleTrigger{
					Rule:   r.ID,
					Kind:   "cap",
					Reason: fmt.Sprintf("%s (%d of %d)", reason(r), n, min),
					Impact: r.Cap,
				})
			}

		case scenario.KindRequireEvent:
			if counts[aar.EventType(r.Event)] == 0 {
				out.Penalties[r.Skill] = append(out.Penalties[r.Skill], aar.PenaltyEntry{Rule: r.ID, PenaltyValue: r.Penalty})
				out.Triggers = append(out.Triggers, aar.RuleTrigger{
					Rule:   r.ID,
					Kind:   "penalty",
					Reason: reason(r),
					Impact: r.Penalty,
				})
			}

		case scenario.KindForbidEvent:
			n := counts[aar.EventType(r.Event)]
			if n > 0 {
				total := r.Penalty * n
				why := reason(r)
				if n > 1 {
					why = fmt.Sprintf("%s (x%d)", why, n)
				}
				out.Penalties[r.Skill] = append(out.Penalties[r.Skill], aar.PenaltyEntry{Rule: r.ID, PenaltyValue: total})
				out.Triggers = append(out.Triggers, aar.RuleTrigger{
					Rule:   r.ID,
					Kind:   "penalty",
					Reason: why,
					Impact: total,
				})
			}

		case scenario.KindEventBefore:
			fe, haveEvent := first[aar.EventType(r.Event)]
			fb, haveBefore := first[aar.EventType(r.Before)]
			// Fires when the event happened and nothing of the Before
			// type preceded it.
			if haveEvent && (!haveBefore || fe < fb) {
				out.Caps[r.Skill] = append(out.Caps[r.Skill], aar.CapEntry{Rule: r.ID, CapValue: r.Cap})
				out.Triggers = append(out.Triggers, aar.RuleTrigger{
					Rule:   r.ID,
					Kind:   "cap",
					Reason: reason(r),
					Impact: r.Cap,
				})
			}
		}
	}

	return out
}

func reason(r scenario.Rule) string {
	if r.Reason != "" {
		return r.Reason
	}
	return fmt.Sprintf("rule %s fired", r.ID)
}
