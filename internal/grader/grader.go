// Package grader produces per-skill rubric scores from a model call.
// Calls are retried with exponential backoff; a session that exhausts its
// retries surfaces an error and the caller substitutes neutral scores.
package grader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	jsonrepair "github.com/RealAlexandreAI/json-repair"

	"github.com/MikeSquared-Agency/parley/internal/aar"
	"github.com/MikeSquared-Agency/parley/internal/openai"
)

// NeutralJustification is recorded against a skill whose grade could not
// be produced.
const NeutralJustification = "grading unavailable"

// SkillGrade is the model's verdict for one skill.
type SkillGrade struct {
	Score         int    `json:"score"`
	Justification string `json:"justification"`
}

type Grader struct {
	llm         *openai.Client
	logger      *slog.Logger
	maxRetries  int
	backoffBase time.Duration
}

// New builds a grader. maxRetries is the total number of attempts;
// backoffBase is the wait after the first failure, doubling per attempt.
func New(llm *openai.Client, logger *slog.Logger, maxRetries int, backoffBase time.Duration) *Grader {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Grader{llm: llm, logger: logger, maxRetries: maxRetries, backoffBase: backoffBase}
}

// PromptHash identifies the prompt wording this grader runs with.
func (g *Grader) PromptHash() string {
	return aar.HashPrompt(systemPrompt + gradingUserPrompt)
}

// Model reports the model id in use, for report provenance.
func (g *Grader) Model() string {
	return g.llm.Model()
}

// NeutralGrades returns the fallback scores used when grading fails.
func NeutralGrades(skills []string) map[string]SkillGrade {
	out := make(map[string]SkillGrade, len(skills))
	for _, s := range skills {
		out[s] = SkillGrade{Score: 0, Justification: NeutralJustification}
	}
	return out
}

type gradingResponse struct {
	Skills map[string]SkillGrade `json:"skills"`
}

// Grade scores every listed skill on the 0-100 rubric. An incomplete or
// unparseable response counts as a failed attempt and is retried like a
// transport error.
func (g *Grader) Grade(ctx context.Context, raw *aar.RawTranscript, events []aar.Event, skills []string) (map[string]SkillGrade, error) {
	prompt := fmt.Sprintf(gradingUserPrompt,
		raw.ScenarioID,
		strings.Join(skills, ", "),
		formatTranscript(raw),
		formatEvents(events),
	)

	messages := []openai.Message{
		{Role: "user", Content: prompt},
	}

	var lastErr error
	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		grades, err := g.attempt(ctx, messages, skills)
		if err == nil {
			g.logger.Info("rubric grading complete",
				"session_id", raw.SessionID,
				"skills", len(grades),
				"attempt", attempt,
			)
			return grades, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.logger.Warn("rubric grading attempt failed",
			"session_id", raw.SessionID,
			"attempt", attempt,
			"error", err,
		)

		if attempt < g.maxRetries {
			wait := g.backoffBase << (attempt - 1)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("rubric grading after %d attempts: %w", g.maxRetries, lastErr)
}

func (g *Grader) attempt(ctx context.Context, messages []openai.Message, skills []string) (map[string]SkillGrade, error) {
	out, err := g.llm.Complete(ctx, systemPrompt, messages, 2048)
	if err != nil {
		return nil, err
	}

	var resp gradingResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		repaired, repErr := jsonrepair.RepairJSON(out)
		if repErr != nil {
			return nil, fmt.Errorf("parse grading: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &resp); err != nil {
			return nil, fmt.Errorf("parse grading: %w", err)
		}
	}

	grades := make(map[string]SkillGrade, len(skills))
	for _, skill := range skills {
		sg, ok := resp.Skills[skill]
		if !ok {
			return nil, fmt.Errorf("response missing skill %q", skill)
		}
		sg.Score = aar.ClampScore(sg.Score)
		grades[skill] = sg
	}
	return grades, nil
}

func formatTranscript(raw *aar.RawTranscript) string {
	var b strings.Builder
	for _, turn := range raw.Turns {
		fmt.Fprintf(&b, "[%d] %s: %s\n", turn.TurnIndex, turn.Speaker, turn.RawText)
	}
	return b.String()
}

func formatEvents(events []aar.Event) string {
	if len(events) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "- [turn %d] %s: %q (confidence %.2f)\n", e.TurnIndex, e.EventType, e.Quote, e.Confidence)
	}
	return b.String()
}
