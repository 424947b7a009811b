package aar

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Versions stamped into every report's provenance block.
const (
	ReportSchemaVersion = "1.0"
	ScoringVersion      = "1.0"
)

// HashPrompt returns the hex sha256 of a prompt template. Recorded in
// ScoringMetadata so a report can be traced to the exact prompt wording
// that produced it.
func HashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// Pipeline stage names used for error flags, model provenance, and
// prompt hashes.
const (
	StageNormalization        = "normalization"
	StageEventExtraction      = "event_extraction"
	StageDeterministicScoring = "deterministic_scoring"
	StageRubricGrading        = "rubric_grading"
	StageAchievementDetection = "achievement_detection"
	StageComboDetection       = "combo_detection"
	StageTipGeneration        = "tip_generation"
)

// Achievement is a badge awarded for a specific negotiation behavior,
// anchored to the event that earned it. Immutable once awarded.
type Achievement struct {
	AchievementID string    `json:"achievement_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Icon          string    `json:"icon"`
	Timestamp     time.Time `json:"timestamp"`
	Quote         string    `json:"quote"`
}

// ComboType tags a combo as working for or against the trainee.
type ComboType string

const (
	ComboGood ComboType = "good"
	ComboBad  ComboType = "bad"
)

// ComboMoment is an ordered multi-event sequence scored as one compound
// behavior. EventSequence is the exact subsequence of extracted events
// that triggered the combo.
type ComboMoment struct {
	ComboType     ComboType   `json:"combo_type"`
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	EventSequence []Event     `json:"event_sequence"`
	Timestamps    []time.Time `json:"timestamps"`
	Quotes        []string    `json:"quotes"`
	ScoreImpact   int         `json:"score_impact"`
}

// Validate checks the combo invariants: at least two events, strictly
// increasing timestamps, and parallel timestamp/quote lists.
func (c *ComboMoment) Validate() error {
	if c.ComboType != ComboGood && c.ComboType != ComboBad {
		return fmt.Errorf("combo %q: unknown combo_type %q", c.Title, c.ComboType)
	}
	if len(c.EventSequence) < 2 {
		return fmt.Errorf("combo %q: event sequence has %d events, need at least 2", c.Title, len(c.EventSequence))
	}
	for i := 1; i < len(c.EventSequence); i++ {
		if !c.EventSequence[i].Timestamp.After(c.EventSequence[i-1].Timestamp) {
			return fmt.Errorf("combo %q: event %d timestamp not strictly after event %d", c.Title, i, i-1)
		}
	}
	if len(c.Timestamps) != len(c.EventSequence) || len(c.Quotes) != len(c.EventSequence) {
		return fmt.Errorf("combo %q: timestamps/quotes do not parallel the event sequence", c.Title)
	}
	return nil
}

// Tip is an actionable improvement recommendation with supporting
// evidence. Priority runs 1-5 with 1 the most important.
type Tip struct {
	Priority      int    `json:"priority"`
	Action        string `json:"action"`
	EvidenceQuote string `json:"evidence_quote"`
	Explanation   string `json:"explanation"`
}

// CapEntry records one deterministic rule capping a skill's score.
type CapEntry struct {
	Rule     string `json:"rule"`
	CapValue int    `json:"cap_value"`
}

// PenaltyEntry records one deterministic rule deducting from a skill's score.
type PenaltyEntry struct {
	Rule         string `json:"rule"`
	PenaltyValue int    `json:"penalty_value"`
}

// ScoreComposition is the full breakdown of how a skill score was built.
type ScoreComposition struct {
	RubricScore            int            `json:"rubric_score"`
	DeterministicCaps      []CapEntry     `json:"deterministic_caps"`
	DeterministicPenalties []PenaltyEntry `json:"deterministic_penalties"`
	FinalScore             int            `json:"final_score"`
}

// Compose builds a ScoreComposition holding the scoring invariant:
// final = clamp(min(rubric, min(caps)) - sum(penalties), 0, 100).
func Compose(rubric int, caps []CapEntry, penalties []PenaltyEntry) ScoreComposition {
	final := rubric
	for _, c := range caps {
		if c.CapValue < final {
			final = c.CapValue
		}
	}
	for _, p := range penalties {
		final -= p.PenaltyValue
	}
	return ScoreComposition{
		RubricScore:            rubric,
		DeterministicCaps:      caps,
		DeterministicPenalties: penalties,
		FinalScore:             ClampScore(final),
	}
}

// ClampScore bounds a score to the 0-100 scale.
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// SkillScore is one graded skill dimension in the report.
type SkillScore struct {
	Score         int              `json:"score"`
	Justification string           `json:"justification"`
	Composition   ScoreComposition `json:"composition"`
}

// RuleTrigger is one audit-trail entry for a deterministic rule that
// fired. Kind is "cap" or "penalty"; Impact carries the rule's value.
type RuleTrigger struct {
	Rule   string `json:"rule"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
	Impact int    `json:"impact"`
}

// ScoringMetadata is the provenance block: schema/scoring versions, the
// model used per model-driven stage, prompt hashes for reproducibility,
// and the append-only log of fired deterministic rules.
type ScoringMetadata struct {
	ReportSchemaVersion string            `json:"report_schema_version"`
	ScoringVersion      string            `json:"scoring_version"`
	Models              map[string]string `json:"models"`
	PromptHashes        map[string]string `json:"prompt_hashes"`
	GeneratedAt         time.Time         `json:"generated_at"`
	RuleTriggers        []RuleTrigger     `json:"rule_triggers"`
}

// ScoringErrors flags which pipeline stages fell back to degraded output.
// A stage sets only its own flag; flags are never cleared.
type ScoringErrors struct {
	NormalizationFailed        bool     `json:"normalization_failed"`
	EventExtractionFailed      bool     `json:"event_extraction_failed"`
	DeterministicScoringFailed bool     `json:"deterministic_scoring_failed"`
	RubricGradingFailed        bool     `json:"rubric_grading_failed"`
	AchievementDetectionFailed bool     `json:"achievement_detection_failed"`
	ComboDetectionFailed       bool     `json:"combo_detection_failed"`
	TipGenerationFailed        bool     `json:"tip_generation_failed"`
	ErrorMessages              []string `json:"error_messages"`
}

// Mark sets the flag for the named stage and appends its error message.
func (e *ScoringErrors) Mark(stage string, err error) {
	switch stage {
	case StageNormalization:
		e.NormalizationFailed = true
	case StageEventExtraction:
		e.EventExtractionFailed = true
	case StageDeterministicScoring:
		e.DeterministicScoringFailed = true
	case StageRubricGrading:
		e.RubricGradingFailed = true
	case StageAchievementDetection:
		e.AchievementDetectionFailed = true
	case StageComboDetection:
		e.ComboDetectionFailed = true
	case StageTipGeneration:
		e.TipGenerationFailed = true
	}
	e.ErrorMessages = append(e.ErrorMessages, fmt.Sprintf("%s: %v", stage, err))
}

// Any reports whether any stage recorded a failure.
func (e *ScoringErrors) Any() bool {
	return e.NormalizationFailed || e.EventExtractionFailed ||
		e.DeterministicScoringFailed || e.RubricGradingFailed ||
		e.AchievementDetectionFailed || e.ComboDetectionFailed ||
		e.TipGenerationFailed
}

// Report is the After-Action Report: the terminal, versioned artifact
// delivered to the trainee and persisted as one unit. Created once per
// session by the assembler; immutable thereafter.
type Report struct {
	SessionMetadata      SessionMetadata       `json:"session_metadata"`
	PrimaryStats         map[string]SkillScore `json:"primary_stats"`
	LetterGrade          string                `json:"letter_grade"`
	Achievements         []Achievement         `json:"achievements"`
	ComboMoments         []ComboMoment         `json:"combo_moments"`
	ImprovementTips      []Tip                 `json:"improvement_tips"`
	RawTranscript        RawTranscript         `json:"raw_transcript"`
	NormalizedTranscript NormalizedTranscript  `json:"normalized_transcript"`
	ExtractedEvents      []Event               `json:"extracted_events"`
	ScoringMetadata      ScoringMetadata       `json:"scoring_metadata"`
	Errors               ScoringErrors         `json:"errors"`
}

// ToJSON serializes the report in the persisted wire format.
func (r *Report) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ParseReport parses the persisted report wire format.
func ParseReport(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	return &r, nil
}

// MeanFinalScore averages the final score across all graded skills.
// An empty stats map yields 0.
func MeanFinalScore(stats map[string]SkillScore) float64 {
	if len(stats) == 0 {
		return 0
	}
	sum := 0
	for _, s := range stats {
		sum += s.Score
	}
	return float64(sum) / float64(len(stats))
}

// LetterGrade maps a mean score to the fixed grade cutoffs:
// >=90 A, >=80 B, >=70 C, >=60 D, else F.
func LetterGrade(mean float64) string {
	switch {
	case mean >= 90:
		return "A"
	case mean >= 80:
		return "B"
	case mean >= 70:
		return "C"
	case mean >= 60:
		return "D"
	default:
		return "F"
	}
}
