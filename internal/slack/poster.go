// Package slack posts report summaries to a coaching channel. The service
// runs fine without it; the processor only calls a poster when one is
// configured.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/parley/internal/aar"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostReportSummary posts the scored session summary to the coaching
// channel. Returns the message timestamp (ts) so tips can be threaded
// under it.
func (p *Poster) PostReportSummary(ctx context.Context, report *aar.Report) (string, error) {
	text := formatReportMessage(report)

	body, err := json.Marshal(map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": "Full report: GET /api/v1/reports/" + report.SessionMetadata.SessionID,
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}

	p.logger.Info("posted report to slack", "ts", slackResp.TS, "session_id", report.SessionMetadata.SessionID)
	return slackResp.TS, nil
}

// PostTipsThread posts the improvement tips as a threaded reply under the
// summary message.
func (p *Poster) PostTipsThread(ctx context.Context, threadTS string, tips []aar.Tip) error {
	if len(tips) == 0 {
		return nil
	}
	return p.postThread(ctx, threadTS, formatTipsMessage(tips))
}

func (p *Poster) postThread(ctx context.Context, threadTS, text string) error {
	body, err := json.Marshal(map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func formatReportMessage(report *aar.Report) string {
	var sb strings.Builder
	meta := report.SessionMetadata

	duration := time.Duration(meta.SessionDuration * float64(time.Second)).Round(time.Second)
	fmt.Fprintf(&sb, "*Session:* %s (%s, %s)\n", meta.SessionID, meta.ScenarioID, duration)
	fmt.Fprintf(&sb, "*Trainee:* %s\n", meta.ParticipantID)
	fmt.Fprintf(&sb, "*Grade:* %s (mean %.1f)\n\n", report.LetterGrade, aar.MeanFinalScore(report.PrimaryStats))

	skills := make([]string, 0, len(report.PrimaryStats))
	for skill := range report.PrimaryStats {
		skills = append(skills, skill)
	}
	sort.Strings(skills)
	sb.WriteString("*Skills:*\n")
	for _, skill := range skills {
		fmt.Fprintf(&sb, "- %s: %d\n", skill, report.PrimaryStats[skill].Score)
	}

	if len(report.Achievements) > 0 {
		fmt.Fprintf(&sb, "\n*Achievements: %d*\n", len(report.Achievements))
		for _, a := range report.Achievements {
			fmt.Fprintf(&sb, "%s %s\n", a.Icon, a.Title)
		}
	}
	if len(report.ComboMoments) > 0 {
		fmt.Fprintf(&sb, "\n*Combos: %d*\n", len(report.ComboMoments))
		for _, c := range report.ComboMoments {
			fmt.Fprintf(&sb, "%+d %s\n", c.ScoreImpact, c.Title)
		}
	}
	if len(report.Achievements) == 0 && len(report.ComboMoments) == 0 {
		sb.WriteString("\n_No achievements or combos this session._\n")
	}

	if report.Errors.Any() {
		sb.WriteString("\n_Scored in degraded mode; some stages failed._")
	}

	return sb.String()
}

func formatTipsMessage(tips []aar.Tip) string {
	var sb strings.Builder
	sb.WriteString("*Improvement tips:*\n")
	for i, tip := range tips {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, tip.Action)
		if tip.EvidenceQuote != "" {
			fmt.Fprintf(&sb, "   > %s\n", tip.EvidenceQuote)
		}
	}
	return sb.String()
}
