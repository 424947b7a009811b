// Package pipeline orchestrates one scoring run: normalize, extract,
// score and grade concurrently, detect achievements, generate tips, and
// assemble the report. No single stage failure aborts a run; each stage
// falls back to degraded output and records its flag. Only cancellation
// of the run's context aborts, in which case no report is produced.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/parley/internal/aar"
	"github.com/MikeSquared-Agency/parley/internal/achievements"
	"github.com/MikeSquared-Agency/parley/internal/grader"
	"github.com/MikeSquared-Agency/parley/internal/normalizer"
	"github.com/MikeSquared-Agency/parley/internal/rules"
	"github.com/MikeSquared-Agency/parley/internal/scenario"
)

// EventExtractor tags negotiation events in a transcript.
type EventExtractor interface {
	Extract(ctx context.Context, raw *aar.RawTranscript, norm *aar.NormalizedTranscript) ([]aar.Event, error)
	PromptHash() string
	Model() string
}

// RubricGrader scores the scenario skills against the transcript.
type RubricGrader interface {
	Grade(ctx context.Context, raw *aar.RawTranscript, events []aar.Event, skills []string) (map[string]grader.SkillGrade, error)
	PromptHash() string
	Model() string
}

// TipGenerator writes the improvement section of a report.
type TipGenerator interface {
	Generate(ctx context.Context, raw *aar.RawTranscript, stats map[string]aar.SkillScore, events []aar.Event) ([]aar.Tip, error)
	PromptHash() string
	Model() string
}

// Config carries the scoring knobs. Constructed once at startup and
// passed in; runs share no other state, so sessions can score
// concurrently.
type Config struct {
	ConfidenceThreshold float64
	MinFactQuestions    int
	GradingTimeout      time.Duration
}

type Pipeline struct {
	scenarios *scenario.Library
	extractor EventExtractor
	grader    RubricGrader
	tips      TipGenerator
	detector  *achievements.Detector
	logger    *slog.Logger
	cfg       Config
}

func New(lib *scenario.Library, ext EventExtractor, gr RubricGrader, tg TipGenerator, logger *slog.Logger, cfg Config) *Pipeline {
	return &Pipeline{
		scenarios: lib,
		extractor: ext,
		grader:    gr,
		tips:      tg,
		detector:  achievements.NewDetector(achievements.Options{MinFactQuestions: cfg.MinFactQuestions}),
		logger:    logger,
		cfg:       cfg,
	}
}

// Run scores one session end to end and returns the assembled report.
// The only error Run can return is cancellation; every stage failure is
// absorbed into the report's error flags instead.
func (p *Pipeline) Run(ctx context.Context, raw *aar.RawTranscript) (*aar.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pipeline cancelled: %w", err)
	}

	started := time.Now()
	var errs aar.ScoringErrors

	p.logger.Info("pipeline run started",
		"session_id", raw.SessionID,
		"scenario_id", raw.ScenarioID,
		"turns", len(raw.Turns),
	)

	// Normalize. On failure the raw text doubles as normalized text so
	// later stages are not starved of input.
	norm, err := normalizer.Normalize(raw)
	if err != nil {
		errs.Mark(aar.StageNormalization, err)
		p.logger.Warn("normalization failed, using raw text", "session_id", raw.SessionID, "error", err)
		norm = normalizer.Fallback(raw)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pipeline cancelled: %w", err)
	}

	// Extract events. On failure downstream stages see an empty stream.
	events, err := p.extractor.Extract(ctx, raw, norm)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("pipeline cancelled: %w", ctx.Err())
		}
		errs.Mark(aar.StageEventExtraction, err)
		p.logger.Warn("event extraction failed", "session_id", raw.SessionID, "error", err)
		events = nil
	}
	actionable := aar.FilterActionable(events, p.cfg.ConfidenceThreshold)

	// Resolve the scenario. An unknown scenario fails the deterministic
	// stage open: rubric-only scores on the default skill set.
	scen, scenErr := p.scenarios.Get(raw.ScenarioID)
	if scenErr != nil {
		errs.Mark(aar.StageDeterministicScoring, scenErr)
		p.logger.Warn("unknown scenario, scoring without rules", "session_id", raw.SessionID, "scenario_id", raw.ScenarioID)
		scen = fallbackScenario()
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pipeline cancelled: %w", err)
	}

	// Deterministic rules and rubric grading are independent given the
	// same event list, so they run concurrently. Grading is the only
	// stage expected to block on the network; it gets its own timeout,
	// and a timeout counts as exhausted retries, not cancellation.
	var (
		wg       sync.WaitGroup
		outcome  *rules.Outcome
		grades   map[string]grader.SkillGrade
		gradeErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if scenErr != nil {
			outcome = &rules.Outcome{
				Caps:      map[string][]aar.CapEntry{},
				Penalties: map[string][]aar.PenaltyEntry{},
			}
			return
		}
		outcome = rules.Evaluate(scen, actionable, rules.Baseline{MinFactQuestions: p.cfg.MinFactQuestions})
	}()
	go func() {
		defer wg.Done()
		gctx, cancel := context.WithTimeout(ctx, p.cfg.GradingTimeout)
		defer cancel()
		grades, gradeErr = p.grader.Grade(gctx, raw, actionable, scen.Skills)
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pipeline cancelled: %w", err)
	}
	if gradeErr != nil {
		errs.Mark(aar.StageRubricGrading, gradeErr)
		p.logger.Warn("rubric grading failed, using neutral scores", "session_id", raw.SessionID, "error", gradeErr)
		grades = grader.NeutralGrades(scen.Skills)
	}

	// Compose per-skill stats: rubric score capped and penalized by the
	// deterministic outcome.
	stats := make(map[string]aar.SkillScore, len(scen.Skills))
	for _, skill := range scen.Skills {
		g := grades[skill]
		comp := aar.Compose(g.Score, outcome.Caps[skill], outcome.Penalties[skill])
		stats[skill] = aar.SkillScore{
			Score:         comp.FinalScore,
			Justification: g.Justification,
			Composition:   comp,
		}
	}

	badges, combos := p.detector.Detect(raw.SessionID, actionable)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pipeline cancelled: %w", err)
	}

	improvementTips, err := p.tips.Generate(ctx, raw, stats, actionable)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("pipeline cancelled: %w", ctx.Err())
		}
		errs.Mark(aar.StageTipGeneration, err)
		p.logger.Warn("tip generation failed", "session_id", raw.SessionID, "error", err)
		improvementTips = nil
	}

	report := p.assemble(raw, norm, events, stats, badges, combos, improvementTips, outcome.Triggers, errs)

	p.logger.Info("pipeline run complete",
		"session_id", raw.SessionID,
		"letter_grade", report.LetterGrade,
		"events", len(events),
		"achievements", len(badges),
		"combos", len(combos),
		"tips", len(improvementTips),
		"degraded", errs.Any(),
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return report, nil
}

// assemble is pure composition: it cannot fail, whatever degraded data
// the stages left behind.
func (p *Pipeline) assemble(
	raw *aar.RawTranscript,
	norm *aar.NormalizedTranscript,
	events []aar.Event,
	stats map[string]aar.SkillScore,
	badges []aar.Achievement,
	combos []aar.ComboMoment,
	improvementTips []aar.Tip,
	triggers []aar.RuleTrigger,
	errs aar.ScoringErrors,
) *aar.Report {
	// Failed stages yield empty lists on the wire, never null.
	if events == nil {
		events = []aar.Event{}
	}
	if badges == nil {
		badges = []aar.Achievement{}
	}
	if combos == nil {
		combos = []aar.ComboMoment{}
	}
	if improvementTips == nil {
		improvementTips = []aar.Tip{}
	}
	if triggers == nil {
		triggers = []aar.RuleTrigger{}
	}

	meta := aar.ScoringMetadata{
		ReportSchemaVersion: aar.ReportSchemaVersion,
		ScoringVersion:      aar.ScoringVersion,
		Models: map[string]string{
			aar.StageEventExtraction: p.extractor.Model(),
			aar.StageRubricGrading:   p.grader.Model(),
			aar.StageTipGeneration:   p.tips.Model(),
		},
		PromptHashes: map[string]string{
			aar.StageEventExtraction: p.extractor.PromptHash(),
			aar.StageRubricGrading:   p.grader.PromptHash(),
			aar.StageTipGeneration:   p.tips.PromptHash(),
		},
		GeneratedAt:  time.Now().UTC(),
		RuleTriggers: triggers,
	}

	return &aar.Report{
		SessionMetadata:      raw.ToMetadata(),
		PrimaryStats:         stats,
		LetterGrade:          aar.LetterGrade(aar.MeanFinalScore(stats)),
		Achievements:         badges,
		ComboMoments:         combos,
		ImprovementTips:      improvementTips,
		RawTranscript:        *raw,
		NormalizedTranscript: *norm,
		ExtractedEvents:      events,
		ScoringMetadata:      meta,
		Errors:               errs,
	}
}

func fallbackScenario() *scenario.Scenario {
	s, err := scenario.Default().Get("scenario_1")
	if err != nil {
		// The built-in library always carries scenario_1.
		panic(fmt.Sprintf("built-in scenario missing: %v", err))
	}
	return s
}
