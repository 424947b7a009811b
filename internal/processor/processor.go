// Package processor orchestrates scoring for completed voice-negotiation
// sessions: it persists the raw transcript, runs the scoring pipeline,
// persists the resulting report, and fans the result out to the message
// bus and the coaching channel.
package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/parley/internal/aar"
	"github.com/MikeSquared-Agency/parley/internal/hermes"
	"github.com/MikeSquared-Agency/parley/internal/storage"
)

// ReportRunner produces a scored report from a raw transcript.
type ReportRunner interface {
	Run(ctx context.Context, raw *aar.RawTranscript) (*aar.Report, error)
}

// Publisher is the message-bus surface the processor needs.
type Publisher interface {
	Publish(subject string, data any) error
}

// Notifier posts human-readable summaries of finished reports.
type Notifier interface {
	PostReportSummary(ctx context.Context, report *aar.Report) (string, error)
	PostTipsThread(ctx context.Context, threadTS string, tips []aar.Tip) error
}

// Processor ties storage, the pipeline, and the outbound surfaces together.
// The bus and slack dependencies are optional; a nil value disables that
// surface without affecting scoring.
type Processor struct {
	store    storage.Backend
	pipeline ReportRunner
	bus      Publisher
	slack    Notifier
	logger   *slog.Logger
}

// New creates a processor. Pass nil for bus or slack when the
// corresponding surface is not configured.
func New(store storage.Backend, pipe ReportRunner, bus Publisher, slack Notifier, logger *slog.Logger) *Processor {
	return &Processor{
		store:    store,
		pipeline: pipe,
		bus:      bus,
		slack:    slack,
		logger:   logger,
	}
}

// ScoreTranscript runs the full scoring flow for one transcript: persist
// the raw transcript, run the pipeline, persist the report, then publish
// and notify. Persistence failures abort the flow; publish and notify
// failures are logged and swallowed so a flaky outbound surface cannot
// lose a scored report.
func (p *Processor) ScoreTranscript(ctx context.Context, raw *aar.RawTranscript) (*aar.Report, error) {
	transcriptPath, err := p.store.SaveTranscript(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("save transcript %s: %w", raw.SessionID, err)
	}
	p.logger.Info("transcript persisted",
		"session_id", raw.SessionID,
		"path", transcriptPath,
	)

	report, err := p.pipeline.Run(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("score session %s: %w", raw.SessionID, err)
	}

	reportPath, err := p.store.SaveReport(ctx, report)
	if err != nil {
		return nil, fmt.Errorf("save report %s: %w", raw.SessionID, err)
	}
	p.logger.Info("report persisted",
		"session_id", raw.SessionID,
		"path", reportPath,
		"letter_grade", report.LetterGrade,
	)

	p.publishReportReady(report, reportPath)
	p.notify(ctx, report)

	return report, nil
}

// HandleSessionCompleted is the bus handler for completed sessions. The
// payload is the raw transcript wire format. Handlers cannot propagate
// errors back to the bus, so every failure is logged and dropped.
func (p *Processor) HandleSessionCompleted(subject string, data []byte) {
	ctx := context.Background()

	raw, err := aar.ParseRawTranscript(data)
	if err != nil {
		p.logger.Error("failed to parse session completed payload",
			"subject", subject,
			"error", err,
		)
		return
	}
	if raw.SessionID == "" {
		p.logger.Error("session completed payload has no session_id", "subject", subject)
		return
	}

	p.logger.Info("scoring completed session",
		"session_id", raw.SessionID,
		"scenario_id", raw.ScenarioID,
		"turns", len(raw.Turns),
	)

	report, err := p.ScoreTranscript(ctx, raw)
	if err != nil {
		p.logger.Error("failed to score session",
			"session_id", raw.SessionID,
			"error", err,
		)
		return
	}

	p.logger.Info("session scored",
		"session_id", raw.SessionID,
		"letter_grade", report.LetterGrade,
		"achievements", len(report.Achievements),
		"combos", len(report.ComboMoments),
		"tips", len(report.ImprovementTips),
		"degraded", report.Errors.Any(),
	)
}

func (p *Processor) publishReportReady(report *aar.Report, reportPath string) {
	if p.bus == nil {
		return
	}
	evt := hermes.ReportReadyEvent{
		SessionID:     report.SessionMetadata.SessionID,
		ScenarioID:    report.SessionMetadata.ScenarioID,
		ParticipantID: report.SessionMetadata.ParticipantID,
		LetterGrade:   report.LetterGrade,
		MeanScore:     aar.MeanFinalScore(report.PrimaryStats),
		Degraded:      report.Errors.Any(),
		ReportPath:    reportPath,
		GeneratedAt:   report.ScoringMetadata.GeneratedAt,
	}
	if err := p.bus.Publish(hermes.SubjectReportReady, evt); err != nil {
		p.logger.Error("failed to publish report ready event",
			"session_id", evt.SessionID,
			"error", err,
		)
		return
	}
	p.logger.Info("report ready event published",
		"session_id", evt.SessionID,
		"subject", hermes.SubjectReportReady,
	)
}

func (p *Processor) notify(ctx context.Context, report *aar.Report) {
	if p.slack == nil {
		return
	}
	ts, err := p.slack.PostReportSummary(ctx, report)
	if err != nil {
		p.logger.Error("failed to post report summary",
			"session_id", report.SessionMetadata.SessionID,
			"error", err,
		)
		return
	}
	if err := p.slack.PostTipsThread(ctx, ts, report.ImprovementTips); err != nil {
		p.logger.Error("failed to post tips thread",
			"session_id", report.SessionMetadata.SessionID,
			"error", err,
		)
	}
}
