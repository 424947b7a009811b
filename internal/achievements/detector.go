// Package achievements pattern-matches the thresholded event stream into
// badges and multi-event combo moments. Detection is pure: the same
// session id and events always produce byte-identical output, including
// achievement ids, which are v5 UUIDs derived from the session and badge
// slug.
package achievements

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/parley/internal/aar"
)

// Options tunes the count-based badges.
type Options struct {
	MinFactQuestions int
}

type Detector struct {
	opts Options
}

func NewDetector(opts Options) *Detector {
	if opts.MinFactQuestions < 1 {
		opts.MinFactQuestions = 3
	}
	return &Detector{opts: opts}
}

// Detect runs every badge and combo matcher over the event stream.
// Only trainee events count; the vendor's behavior is context. Events
// may arrive in any order and are sorted before matching.
func (d *Detector) Detect(sessionID string, events []aar.Event) ([]aar.Achievement, []aar.ComboMoment) {
	trainee := make([]aar.Event, 0, len(events))
	for _, e := range events {
		if e.Speaker == aar.SpeakerTrainee {
			trainee = append(trainee, e)
		}
	}
	aar.SortEvents(trainee)

	return d.detectBadges(sessionID, trainee), detectCombos(trainee)
}

func (d *Detector) detectBadges(sessionID string, events []aar.Event) []aar.Achievement {
	var badges []aar.Achievement

	if ev, ok := nthOfType(events, aar.EventAskFacts, d.opts.MinFactQuestions); ok {
		badges = append(badges, award(sessionID, "fact_finder", "Fact Finder", "\U0001F50D",
			fmt.Sprintf("Asked at least %d fact-finding questions before negotiating", d.opts.MinFactQuestions), ev))
	}
	if ev, ok := nthOfType(events, aar.EventRequestWrittenNotice, 1); ok {
		badges = append(badges, award(sessionID, "paper_trail", "Paper Trail", "\U0001F4C4",
			"Asked for the terms in writing", ev))
	}
	if ev, ok := nthOfType(events, aar.EventProposedOption, 2); ok {
		badges = append(badges, award(sessionID, "option_architect", "Option Architect", "\U0001F9E9",
			"Put more than one option on the table", ev))
	}
	if ev, ok := nthOfType(events, aar.EventCloseout, 1); ok {
		badges = append(badges, award(sessionID, "deal_closer", "Deal Closer", "\U0001F91D",
			"Drove the negotiation to a concrete close", ev))
	}

	return badges
}

func award(sessionID, slug, title, icon, description string, ev aar.Event) aar.Achievement {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("parley/"+sessionID+"/"+slug))
	return aar.Achievement{
		AchievementID: id.String(),
		Title:         title,
		Description:   description,
		Icon:          icon,
		Timestamp:     ev.Timestamp,
		Quote:         ev.Quote,
	}
}

// nthOfType returns the nth event of the given type in stream order.
func nthOfType(events []aar.Event, et aar.EventType, n int) (aar.Event, bool) {
	count := 0
	for _, e := range events {
		if e.EventType == et {
			count++
			if count == n {
				return e, true
			}
		}
	}
	return aar.Event{}, false
}

func detectCombos(events []aar.Event) []aar.ComboMoment {
	var combos []aar.ComboMoment

	if seq, ok := matchSequence(events, aar.EventAskFacts, aar.EventProposedOption); ok {
		combos = append(combos, combo(aar.ComboGood, "Probe Then Propose",
			"Gathered facts first, then built the offer on them", seq, 5))
	}
	if seq, ok := matchSequence(events, aar.EventProposedOption, aar.EventConsideration, aar.EventCloseout); ok {
		combos = append(combos, combo(aar.ComboGood, "Anchored Close",
			"Proposed an option, asked for consideration, and closed on it", seq, 8))
	}
	if seq, ok := matchRepeatWithout(events, aar.EventConcession, aar.EventProposedOption); ok {
		combos = append(combos, combo(aar.ComboBad, "Cave-In",
			"Conceded twice without proposing anything in between", seq, -8))
	}
	if seq, ok := matchGapWithout(events, aar.EventRiskyCommitment, aar.EventCloseout, aar.EventRequestWrittenNotice); ok {
		combos = append(combos, combo(aar.ComboBad, "Blind Promise",
			"Committed and closed without anything in writing", seq, -10))
	}

	return combos
}

func combo(ct aar.ComboType, title, description string, seq []aar.Event, impact int) aar.ComboMoment {
	m := aar.ComboMoment{
		ComboType:     ct,
		Title:         title,
		Description:   description,
		EventSequence: seq,
		ScoreImpact:   impact,
		Timestamps:    make([]time.Time, 0, len(seq)),
		Quotes:        make([]string, 0, len(seq)),
	}
	for _, e := range seq {
		m.Timestamps = append(m.Timestamps, e.Timestamp)
		m.Quotes = append(m.Quotes, e.Quote)
	}
	return m
}

// matchSequence finds the earliest subsequence matching the pattern with
// strictly increasing timestamps. Earliest-feasible picking keeps the
// match deterministic.
func matchSequence(events []aar.Event, pattern ...aar.EventType) ([]aar.Event, bool) {
	picked := make([]aar.Event, 0, len(pattern))
	for _, e := range events {
		k := len(picked)
		if k == len(pattern) {
			break
		}
		if e.EventType != pattern[k] {
			continue
		}
		if k > 0 && !e.Timestamp.After(picked[k-1].Timestamp) {
			continue
		}
		picked = append(picked, e)
	}
	if len(picked) == len(pattern) {
		return picked, true
	}
	return nil, false
}

// matchRepeatWithout finds two events of the target type with no breaker
// between them.
func matchRepeatWithout(events []aar.Event, target, breaker aar.EventType) ([]aar.Event, bool) {
	last := -1
	for i, e := range events {
		switch e.EventType {
		case breaker:
			last = -1
		case target:
			if last >= 0 && e.Timestamp.After(events[last].Timestamp) {
				return []aar.Event{events[last], e}, true
			}
			last = i
		}
	}
	return nil, false
}

// matchGapWithout finds a from event followed by a to event with no
// breaker between them.
func matchGapWithout(events []aar.Event, from, to, breaker aar.EventType) ([]aar.Event, bool) {
	fromIdx := -1
	for i, e := range events {
		switch e.EventType {
		case breaker:
			fromIdx = -1
		case from:
			if fromIdx < 0 {
				fromIdx = i
			}
		case to:
			if fromIdx >= 0 && e.Timestamp.After(events[fromIdx].Timestamp) {
				return []aar.Event{events[fromIdx], e}, true
			}
		}
	}
	return nil, false
}
