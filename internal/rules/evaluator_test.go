package rules

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MikeSquared-Agency/parley/internal/aar"
	"github.com/MikeSquared-Agency/parley/internal/scenario"
)

var base = Baseline{MinFactQuestions: 3}

func event(et aar.EventType, speaker aar.Speaker, turn int) aar.Event {
	start := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	return aar.Event{
		EventType:  et,
		Speaker:    speaker,
		Timestamp:  start.Add(time.Duration(turn) * 10 * time.Second),
		TurnIndex:  turn,
		Quote:      "quote",
		Confidence: 0.9,
	}
}

func trainee(et aar.EventType, turn int) aar.Event {
	return event(et, aar.SpeakerTrainee, turn)
}

func mustScenario(t *testing.T) *scenario.Scenario {
	t.Helper()
	s, err := scenario.Default().Get("scenario_1")
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	return s
}

func TestEvaluateCleanSession(t *testing.T) {
	s := mustScenario(t)
	events := []aar.Event{
		trainee(aar.EventAskFacts, 0),
		trainee(aar.EventAskFacts, 1),
		trainee(aar.EventAskFacts, 2),
		trainee(aar.EventRequestWrittenNotice, 3),
		trainee(aar.EventProposedOption, 4),
		trainee(aar.EventCloseout, 5),
	}

	out := Evaluate(s, events, base)

	if len(out.Caps) != 0 {
		t.Errorf("expected no caps, got %+v", out.Caps)
	}
	if len(out.Penalties) != 0 {
		t.Errorf("expected no penalties, got %+v", out.Penalties)
	}
	if len(out.Triggers) != 0 {
		t.Errorf("expected no triggers, got %+v", out.Triggers)
	}
}

func TestEvaluateMinFactQuestions(t *testing.T) {
	s := mustScenario(t)
	events := []aar.Event{
		trainee(aar.EventAskFacts, 0),
		trainee(aar.EventRequestWrittenNotice, 1),
	}

	out := Evaluate(s, events, base)

	caps := out.Caps["information_gathering"]
	if len(caps) != 1 {
		t.Fatalf("expected 1 cap on information_gathering, got %+v", out.Caps)
	}
	want := aar.CapEntry{Rule: "min_fact_questions", CapValue: 60}
	if diff := cmp.Diff(want, caps[0]); diff != "" {
		t.Errorf("cap mismatch (-want +got):\n%s", diff)
	}

	if len(out.Triggers) != 1 {
		t.Fatalf("expected 1 trigger, got %d", len(out.Triggers))
	}
	tr := out.Triggers[0]
	if tr.Kind != "cap" || tr.Impact != 60 {
		t.Errorf("unexpected trigger: %+v", tr)
	}
	if tr.Reason != "too few fact questions before negotiating (1 of 3)" {
		t.Errorf("unexpected reason: %q", tr.Reason)
	}
}

func TestEvaluateWrittenNoticePenalty(t *testing.T) {
	s := mustScenario(t)

	t.Run("missing notice penalized", func(t *testing.T) {
		events := []aar.Event{
			trainee(aar.EventAskFacts, 0),
			trainee(aar.EventAskFacts, 1),
			trainee(aar.EventAskFacts, 2),
		}
		out := Evaluate(s, events, base)

		pens := out.Penalties["risk_management"]
		if len(pens) != 1 || pens[0].Rule != "must_request_written_notice" || pens[0].PenaltyValue != 15 {
			t.Errorf("expected written notice penalty 15, got %+v", pens)
		}
	})

	t.Run("notice given no penalty", func(t *testing.T) {
		events := []aar.Event{
			trainee(aar.EventAskFacts, 0),
			trainee(aar.EventAskFacts, 1),
			trainee(aar.EventAskFacts, 2),
			trainee(aar.EventRequestWrittenNotice, 3),
		}
		out := Evaluate(s, events, base)

		if len(out.Penalties["risk_management"]) != 0 {
			t.Errorf("expected no penalty, got %+v", out.Penalties)
		}
	})

	t.Run("vendor notice does not count", func(t *testing.T) {
		events := []aar.Event{
			trainee(aar.EventAskFacts, 0),
			trainee(aar.EventAskFacts, 1),
			trainee(aar.EventAskFacts, 2),
			event(aar.EventRequestWrittenNotice, aar.SpeakerVendor, 3),
		}
		out := Evaluate(s, events, base)

		if len(out.Penalties["risk_management"]) != 1 {
			t.Errorf("vendor event should not satisfy trainee rule: %+v", out.Penalties)
		}
	})
}

func TestEvaluateRiskyCommitment(t *testing.T) {
	s := mustScenario(t)

	t.Run("single commitment", func(t *testing.T) {
		events := []aar.Event{
			trainee(aar.EventAskFacts, 0),
			trainee(aar.EventAskFacts, 1),
			trainee(aar.EventAskFacts, 2),
			trainee(aar.EventRequestWrittenNotice, 3),
			trainee(aar.EventRiskyCommitment, 4),
		}
		out := Evaluate(s, events, base)

		pens := out.Penalties["risk_management"]
		if len(pens) != 1 || pens[0].PenaltyValue != 10 {
			t.Fatalf("expected single penalty 10, got %+v", pens)
		}
		if pens[0].Rule != "must_avoid_unilateral_promises" {
			t.Errorf("wrong rule: %s", pens[0].Rule)
		}
	})

	t.Run("stacks per occurrence", func(t *testing.T) {
		events := []aar.Event{
			trainee(aar.EventAskFacts, 0),
			trainee(aar.EventAskFacts, 1),
			trainee(aar.EventAskFacts, 2),
			trainee(aar.EventRequestWrittenNotice, 3),
			trainee(aar.EventRiskyCommitment, 4),
			trainee(aar.EventRiskyCommitment, 5),
		}
		out := Evaluate(s, events, base)

		pens := out.Penalties["risk_management"]
		if len(pens) != 1 || pens[0].PenaltyValue != 20 {
			t.Fatalf("expected stacked penalty 20, got %+v", pens)
		}
		tr := out.Triggers[0]
		if tr.Reason != "made an unconditional commitment (x2)" {
			t.Errorf("unexpected reason: %q", tr.Reason)
		}
	})
}

func TestEvaluatePrematureConcession(t *testing.T) {
	s := mustScenario(t)

	full := func(extra ...aar.Event) []aar.Event {
		events := []aar.Event{
			trainee(aar.EventAskFacts, 2),
			trainee(aar.EventAskFacts, 3),
			trainee(aar.EventAskFacts, 4),
			trainee(aar.EventRequestWrittenNotice, 5),
		}
		return append(events, extra...)
	}

	t.Run("concession before first fact question", func(t *testing.T) {
		out := Evaluate(s, full(trainee(aar.EventConcession, 0)), base)

		caps := out.Caps["value_creation"]
		if len(caps) != 1 || caps[0].Rule != "no_premature_concession" || caps[0].CapValue != 50 {
			t.Errorf("expected premature concession cap 50, got %+v", out.Caps)
		}
	})

	t.Run("concession after facts is fine", func(t *testing.T) {
		out := Evaluate(s, full(trainee(aar.EventConcession, 6)), base)

		if len(out.Caps["value_creation"]) != 0 {
			t.Errorf("expected no cap, got %+v", out.Caps)
		}
	})

	t.Run("concession with no facts at all", func(t *testing.T) {
		events := []aar.Event{
			trainee(aar.EventConcession, 0),
			trainee(aar.EventRequestWrittenNotice, 1),
		}
		out := Evaluate(s, events, base)

		if len(out.Caps["value_creation"]) != 1 {
			t.Errorf("expected cap when facts never asked, got %+v", out.Caps)
		}
	})
}

func TestEvaluateRuleMinOverridesBaseline(t *testing.T) {
	s := &scenario.Scenario{
		ID:     "s",
		Name:   "s",
		Skills: []string{"information_gathering"},
		Rules: []scenario.Rule{
			{ID: "r1", Kind: scenario.KindMinEvents, Skill: "information_gathering", Event: "ASK_FACTS", Min: 1, Cap: 40},
		},
	}

	out := Evaluate(s, []aar.Event{trainee(aar.EventAskFacts, 0)}, base)
	if len(out.Caps) != 0 {
		t.Errorf("rule min 1 satisfied by one event, got caps %+v", out.Caps)
	}
}

func TestEvaluateTriggerOrderMatchesDeclaration(t *testing.T) {
	s := mustScenario(t)
	// Fires every rule at once: one concession first, no facts, no
	// notice, one risky commitment.
	events := []aar.Event{
		trainee(aar.EventConcession, 0),
		trainee(aar.EventRiskyCommitment, 1),
	}

	out := Evaluate(s, events, base)

	var got []string
	for _, tr := range out.Triggers {
		got = append(got, tr.Rule)
	}
	want := []string{
		"min_fact_questions",
		"must_request_written_notice",
		"must_avoid_unilateral_promises",
		"no_premature_concession",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("trigger order (-want +got):\n%s", diff)
	}
}

func TestEvaluateEmptyEvents(t *testing.T) {
	s := mustScenario(t)
	out := Evaluate(s, nil, base)

	// No facts, no notice: the two always-on rules fire, nothing else.
	if len(out.Caps["information_gathering"]) != 1 {
		t.Errorf("expected fact question cap, got %+v", out.Caps)
	}
	if len(out.Penalties["risk_management"]) != 1 {
		t.Errorf("expected notice penalty, got %+v", out.Penalties)
	}
	if len(out.Caps["value_creation"]) != 0 {
		t.Errorf("no concession happened, got %+v", out.Caps)
	}
}
