// Package rescore re-runs the scoring pipeline over stored transcripts
// and rewrites their reports. Used after scoring rules or prompts change
// so the archive reflects the current scoring version.
package rescore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/parley/internal/aar"
	"github.com/MikeSquared-Agency/parley/internal/storage"
)

// batchPause is how long the runner sleeps between batches to stay
// inside the model provider's rate limits.
const batchPause = 30 * time.Second

// Config holds the rescore command configuration.
type Config struct {
	Since     time.Time // only sessions starting at or after this time
	Until     time.Time // only sessions starting at or before this time
	DryRun    bool      // score but do not rewrite reports
	BatchSize int       // sessions per batch before pausing; 0 disables pausing
	SessionID string    // rescore a single session only
	StatePath string    // state file override; empty selects the default
}

// ReportRunner produces a scored report from a raw transcript.
type ReportRunner interface {
	Run(ctx context.Context, raw *aar.RawTranscript) (*aar.Report, error)
}

// Runner orchestrates the rescore process.
type Runner struct {
	cfg      Config
	store    storage.Backend
	pipeline ReportRunner
	logger   *slog.Logger
}

// NewRunner creates a rescore runner.
func NewRunner(cfg Config, store storage.Backend, pipe ReportRunner, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		store:    store,
		pipeline: pipe,
		logger:   logger,
	}
}

// Run executes the rescore process. Rescoring only rewrites stored
// reports; it does not republish report-ready events or repost channel
// summaries, so downstream consumers are not flooded with old sessions.
func (r *Runner) Run(ctx context.Context) error {
	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	ids, err := r.discoverSessions(ctx, state)
	if err != nil {
		return fmt.Errorf("discover sessions: %w", err)
	}

	state.SessionsRemaining = len(ids)
	r.logger.Info("sessions to rescore",
		"total", len(ids),
		"already_processed", len(state.SessionsProcessed),
		"dry_run", r.cfg.DryRun,
	)

	scored := 0
	written := 0
	degraded := 0
	inBatch := 0
	grades := make(map[string]int)

	for _, id := range ids {
		select {
		case <-ctx.Done():
			r.logger.Info("rescore interrupted, saving state")
			_ = state.Save()
			return ctx.Err()
		default:
		}

		raw, err := r.store.LoadTranscript(ctx, id)
		if err != nil {
			r.logger.Warn("failed to load transcript", "session_id", id, "error", err)
			state.AddError(fmt.Sprintf("load %s: %v", id, err))
			continue
		}
		if !r.inDateRange(raw) {
			continue
		}

		r.logger.Info("rescoring session",
			"session_id", id,
			"scenario_id", raw.ScenarioID,
			"turns", len(raw.Turns),
		)

		report, err := r.pipeline.Run(ctx, raw)
		if err != nil {
			r.logger.Error("rescore failed", "session_id", id, "error", err)
			state.AddError(fmt.Sprintf("score %s: %v", id, err))
			continue
		}

		scored++
		grades[report.LetterGrade]++
		if report.Errors.Any() {
			degraded++
		}

		if !r.cfg.DryRun {
			if _, err := r.store.SaveReport(ctx, report); err != nil {
				r.logger.Error("failed to rewrite report", "session_id", id, "error", err)
				state.AddError(fmt.Sprintf("save %s: %v", id, err))
				continue
			}
			written++
			state.ReportsWritten++
			if report.Errors.Any() {
				state.DegradedReports++
			}
		}

		r.logger.Info("session rescored",
			"session_id", id,
			"letter_grade", report.LetterGrade,
			"degraded", report.Errors.Any(),
			"dry_run", r.cfg.DryRun,
		)

		// A dry run never consumes sessions; the next real run must
		// still rescore them.
		if !r.cfg.DryRun {
			state.MarkProcessed(id)
			state.SessionsRemaining--
			_ = state.Save()
		}

		inBatch++
		if r.cfg.BatchSize > 0 && inBatch >= r.cfg.BatchSize {
			r.logger.Info("batch complete, pausing",
				"in_batch", inBatch,
				"total_scored", scored,
			)
			inBatch = 0
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(batchPause):
			}
		}
	}

	_ = state.Save()

	r.logger.Info("rescore complete",
		"sessions_scored", scored,
		"reports_written", written,
		"degraded", degraded,
		"errors", len(state.Errors),
		"dry_run", r.cfg.DryRun,
	)

	fmt.Printf("\n=== Rescore Summary ===\n")
	fmt.Printf("Sessions scored: %d\n", scored)
	fmt.Printf("Reports written: %d\n", written)
	fmt.Printf("Degraded reports: %d\n", degraded)
	fmt.Printf("Grades: %s\n", formatGradeTally(grades))
	fmt.Printf("Errors: %d\n", len(state.Errors))
	if r.cfg.DryRun {
		fmt.Printf("Mode: DRY RUN (no report writes)\n")
	}
	fmt.Printf("State file: %s\n", state.path)

	return nil
}

// discoverSessions lists the sessions to rescore. A configured single
// session bypasses the processed check so an explicit rescore always
// runs; bulk mode resumes past the sessions recorded in the state file.
func (r *Runner) discoverSessions(ctx context.Context, state *RescoreState) ([]string, error) {
	if r.cfg.SessionID != "" {
		return []string{r.cfg.SessionID}, nil
	}

	all, err := r.store.SessionIDs(ctx)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, id := range all {
		if state.IsProcessed(id) {
			continue
		}
		pending = append(pending, id)
	}
	return pending, nil
}

// inDateRange checks whether the session start falls in the configured
// since/until window. Zero bounds are open.
func (r *Runner) inDateRange(raw *aar.RawTranscript) bool {
	if !r.cfg.Since.IsZero() && raw.SessionStartTime.Before(r.cfg.Since) {
		return false
	}
	if !r.cfg.Until.IsZero() && raw.SessionStartTime.After(r.cfg.Until) {
		return false
	}
	return true
}

func formatGradeTally(grades map[string]int) string {
	if len(grades) == 0 {
		return "none"
	}
	var parts []string
	for _, g := range []string{"A", "B", "C", "D", "F"} {
		if n := grades[g]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", g, n))
		}
	}
	return strings.Join(parts, " ")
}
