// Package tips generates the improvement section of a report from a
// model call. Evidence quotes are checked verbatim against the
// transcript; a tip whose evidence cannot be found is dropped.
package tips

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"

	"github.com/MikeSquared-Agency/parley/internal/aar"
	"github.com/MikeSquared-Agency/parley/internal/openai"
)

type Generator struct {
	llm    *openai.Client
	logger *slog.Logger
}

func New(llm *openai.Client, logger *slog.Logger) *Generator {
	return &Generator{llm: llm, logger: logger}
}

// PromptHash identifies the prompt wording this generator runs with.
func (g *Generator) PromptHash() string {
	return aar.HashPrompt(systemPrompt + tipsUserPrompt)
}

// Model reports the model id in use, for report provenance.
func (g *Generator) Model() string {
	return g.llm.Model()
}

type tipsResponse struct {
	Tips []aar.Tip `json:"tips"`
}

// Generate produces the ordered improvement tip list. Priorities are
// clamped to 1-5 and ties keep generation order.
func (g *Generator) Generate(ctx context.Context, raw *aar.RawTranscript, stats map[string]aar.SkillScore, events []aar.Event) ([]aar.Tip, error) {
	prompt := fmt.Sprintf(tipsUserPrompt,
		raw.ScenarioID,
		formatStats(stats),
		formatTranscript(raw),
		formatEvents(events),
	)

	messages := []openai.Message{
		{Role: "user", Content: prompt},
	}

	out, err := g.llm.Complete(ctx, systemPrompt, messages, 2048)
	if err != nil {
		return nil, fmt.Errorf("llm tip generation: %w", err)
	}

	var resp tipsResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		repaired, repErr := jsonrepair.RepairJSON(out)
		if repErr != nil {
			g.logger.Error("failed to parse tips response", "error", err, "raw", out)
			return nil, fmt.Errorf("parse tips: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &resp); err != nil {
			g.logger.Error("failed to parse tips response after repair", "error", err, "raw", out)
			return nil, fmt.Errorf("parse tips: %w", err)
		}
		g.logger.Warn("tips response needed json repair", "session_id", raw.SessionID)
	}

	tips := make([]aar.Tip, 0, len(resp.Tips))
	dropped := 0
	for _, tip := range resp.Tips {
		if tip.Action == "" {
			dropped++
			continue
		}
		if !quoteInTranscript(raw, tip.EvidenceQuote) {
			dropped++
			g.logger.Warn("dropping tip with unverifiable evidence",
				"session_id", raw.SessionID,
				"quote", tip.EvidenceQuote,
			)
			continue
		}
		if tip.Priority < 1 {
			tip.Priority = 1
		}
		if tip.Priority > 5 {
			tip.Priority = 5
		}
		tips = append(tips, tip)
	}

	sort.SliceStable(tips, func(i, j int) bool {
		return tips[i].Priority < tips[j].Priority
	})

	g.logger.Info("tip generation complete",
		"session_id", raw.SessionID,
		"tips", len(tips),
		"dropped", dropped,
	)

	return tips, nil
}

func quoteInTranscript(raw *aar.RawTranscript, quote string) bool {
	if quote == "" {
		return false
	}
	for _, turn := range raw.Turns {
		if strings.Contains(turn.RawText, quote) {
			return true
		}
	}
	return false
}

func formatStats(stats map[string]aar.SkillScore) string {
	if len(stats) == 0 {
		return "(none)"
	}
	skills := make([]string, 0, len(stats))
	for skill := range stats {
		skills = append(skills, skill)
	}
	sort.Strings(skills)

	var b strings.Builder
	for _, skill := range skills {
		fmt.Fprintf(&b, "- %s: %d/100 (%s)\n", skill, stats[skill].Score, stats[skill].Justification)
	}
	return b.String()
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
		fmt.Fprintf(&b, "- [turn %d] %s: %q\n", e.TurnIndex, e.EventType, e.Quote)
	}
	return b.String()
}
