package processor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/parley/internal/aar"
	"github.com/MikeSquared-Agency/parley/internal/hermes"
	"github.com/MikeSquared-Agency/parley/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTranscript() *aar.RawTranscript {
	start := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	return &aar.RawTranscript{
		SessionID:        "sess-proc",
		ScenarioID:       "scenario_1",
		SessionStartTime: start,
		SessionEndTime:   start.Add(2 * time.Minute),
		SessionDuration:  120,
		ParticipantID:    "trainee-7",
		Turns: []aar.Turn{
			{Speaker: aar.SpeakerTrainee, RawText: "What data sources does the premium tier include?", Timestamp: start, TurnIndex: 0},
			{Speaker: aar.SpeakerVendor, RawText: "Premium includes all four regional feeds.", Timestamp: start.Add(10 * time.Second), TurnIndex: 1},
		},
	}
}

func testReport(raw *aar.RawTranscript) *aar.Report {
	return &aar.Report{
		SessionMetadata: raw.ToMetadata(),
		PrimaryStats: map[string]aar.SkillScore{
			"information_gathering": {Score: 82, Justification: "Probed the data sources early."},
			"closing":               {Score: 70, Justification: "Wrapped up without a recap."},
		},
		LetterGrade: "C",
		ImprovementTips: []aar.Tip{
			{Priority: 1, Action: "Recap agreed terms before ending the call.", Explanation: "A closing summary locks in what was negotiated."},
		},
		RawTranscript: *raw,
		ScoringMetadata: aar.ScoringMetadata{
			ReportSchemaVersion: aar.ReportSchemaVersion,
			ScoringVersion:      aar.ScoringVersion,
			GeneratedAt:         time.Date(2026, 3, 14, 15, 5, 0, 0, time.UTC),
		},
	}
}

type fakeRunner struct {
	report *aar.Report
	err    error
	got    *aar.RawTranscript
}

func (f *fakeRunner) Run(ctx context.Context, raw *aar.RawTranscript) (*aar.Report, error) {
	f.got = raw
	if f.err != nil {
		return nil, f.err
	}
	return f.report, nil
}

type fakeBus struct {
	err      error
	subjects []string
	events   []hermes.ReportReadyEvent
}

func (f *fakeBus) Publish(subject string, data any) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	if evt, ok := data.(hermes.ReportReadyEvent); ok {
		f.events = append(f.events, evt)
	}
	return nil
}

type fakeNotifier struct {
	summaryErr error
	tipsErr    error
	summaries  []*aar.Report
	threadTS   []string
	tips       [][]aar.Tip
}

func (f *fakeNotifier) PostReportSummary(ctx context.Context, report *aar.Report) (string, error) {
	if f.summaryErr != nil {
		return "", f.summaryErr
	}
	f.summaries = append(f.summaries, report)
	return "1712345678.000100", nil
}

func (f *fakeNotifier) PostTipsThread(ctx context.Context, threadTS string, tips []aar.Tip) error {
	if f.tipsErr != nil {
		return f.tipsErr
	}
	f.threadTS = append(f.threadTS, threadTS)
	f.tips = append(f.tips, tips)
	return nil
}

// stubStore is an in-memory Backend so orchestration tests can force
// save failures without touching the filesystem.
type stubStore struct {
	saveTranscriptErr error
	saveReportErr     error
	transcripts       []*aar.RawTranscript
	reports           []*aar.Report
}

func (s *stubStore) SaveTranscript(ctx context.Context, t *aar.RawTranscript) (string, error) {
	if s.saveTranscriptErr != nil {
		return "", s.saveTranscriptErr
	}
	s.transcripts = append(s.transcripts, t)
	return "transcripts/2026-03-14/" + t.SessionID + "_raw.json", nil
}

func (s *stubStore) LoadTranscript(ctx context.Context, sessionID string) (*aar.RawTranscript, error) {
	for _, t := range s.transcripts {
		if t.SessionID == sessionID {
			return t, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *stubStore) SaveReport(ctx context.Context, r *aar.Report) (string, error) {
	if s.saveReportErr != nil {
		return "", s.saveReportErr
	}
	s.reports = append(s.reports, r)
	return "reports/2026-03-14/" + r.SessionMetadata.SessionID + "_report.json", nil
}

func (s *stubStore) LoadReport(ctx context.Context, sessionID string) (*aar.Report, error) {
	for _, r := range s.reports {
		if r.SessionMetadata.SessionID == sessionID {
			return r, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *stubStore) SessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	for _, t := range s.transcripts {
		ids = append(ids, t.SessionID)
	}
	return ids, nil
}

func (s *stubStore) Close() {}

func TestScoreTranscript_FullFlow(t *testing.T) {
	raw := testTranscript()
	store := &stubStore{}
	runner := &fakeRunner{report: testReport(raw)}
	bus := &fakeBus{}
	notifier := &fakeNotifier{}
	p := New(store, runner, bus, notifier, discardLogger())

	report, err := p.ScoreTranscript(context.Background(), raw)
	if err != nil {
		t.Fatalf("ScoreTranscript: %v", err)
	}
	if report.LetterGrade != "C" {
		t.Errorf("letter grade = %q, want C", report.LetterGrade)
	}
	if len(store.transcripts) != 1 || store.transcripts[0].SessionID != "sess-proc" {
		t.Errorf("transcripts saved = %d, want 1 for sess-proc", len(store.transcripts))
	}
	if len(store.reports) != 1 {
		t.Fatalf("reports saved = %d, want 1", len(store.reports))
	}
	if runner.got == nil || runner.got.SessionID != "sess-proc" {
		t.Error("pipeline did not receive the transcript")
	}

	if len(bus.subjects) != 1 || bus.subjects[0] != hermes.SubjectReportReady {
		t.Fatalf("published subjects = %v, want [%s]", bus.subjects, hermes.SubjectReportReady)
	}
	evt := bus.events[0]
	if evt.SessionID != "sess-proc" {
		t.Errorf("event session_id = %q, want sess-proc", evt.SessionID)
	}
	if evt.LetterGrade != "C" {
		t.Errorf("event letter_grade = %q, want C", evt.LetterGrade)
	}
	if evt.MeanScore != 76.0 {
		t.Errorf("event mean_score = %f, want 76.0", evt.MeanScore)
	}
	if evt.Degraded {
		t.Error("event marked degraded for a clean run")
	}
	if evt.ReportPath != "reports/2026-03-14/sess-proc_report.json" {
		t.Errorf("event report_path = %q", evt.ReportPath)
	}
	if !evt.GeneratedAt.Equal(report.ScoringMetadata.GeneratedAt) {
		t.Errorf("event generated_at = %v, want %v", evt.GeneratedAt, report.ScoringMetadata.GeneratedAt)
	}

	if len(notifier.summaries) != 1 {
		t.Fatalf("summaries posted = %d, want 1", len(notifier.summaries))
	}
	if len(notifier.threadTS) != 1 || notifier.threadTS[0] != "1712345678.000100" {
		t.Errorf("tips thread ts = %v, want the summary ts", notifier.threadTS)
	}
	if len(notifier.tips) != 1 || len(notifier.tips[0]) != 1 {
		t.Errorf("tips threaded = %v, want the report's single tip", notifier.tips)
	}
}

func TestScoreTranscript_NilBusAndSlack(t *testing.T) {
	raw := testTranscript()
	store := &stubStore{}
	p := New(store, &fakeRunner{report: testReport(raw)}, nil, nil, discardLogger())

	report, err := p.ScoreTranscript(context.Background(), raw)
	if err != nil {
		t.Fatalf("ScoreTranscript: %v", err)
	}
	if report == nil {
		t.Fatal("expected a report")
	}
	if len(store.transcripts) != 1 || len(store.reports) != 1 {
		t.Errorf("saved %d transcripts and %d reports, want 1 and 1",
			len(store.transcripts), len(store.reports))
	}
}

func TestScoreTranscript_SaveTranscriptFailure(t *testing.T) {
	raw := testTranscript()
	store := &stubStore{saveTranscriptErr: errors.New("disk full")}
	runner := &fakeRunner{report: testReport(raw)}
	p := New(store, runner, &fakeBus{}, nil, discardLogger())

	if _, err := p.ScoreTranscript(context.Background(), raw); err == nil {
		t.Fatal("expected an error when the transcript cannot be persisted")
	}
	if runner.got != nil {
		t.Error("pipeline ran even though the transcript was not persisted")
	}
	if len(store.reports) != 0 {
		t.Errorf("reports saved = %d, want 0", len(store.reports))
	}
}

func TestScoreTranscript_PipelineFailure(t *testing.T) {
	raw := testTranscript()
	store := &stubStore{}
	bus := &fakeBus{}
	p := New(store, &fakeRunner{err: errors.New("context canceled")}, bus, nil, discardLogger())

	if _, err := p.ScoreTranscript(context.Background(), raw); err == nil {
		t.Fatal("expected an error when the pipeline fails")
	}
	// The raw transcript is still persisted so the session can be rescored.
	if len(store.transcripts) != 1 {
		t.Errorf("transcripts saved = %d, want 1", len(store.transcripts))
	}
	if len(store.reports) != 0 {
		t.Errorf("reports saved = %d, want 0", len(store.reports))
	}
	if len(bus.subjects) != 0 {
		t.Errorf("published %v for a failed run", bus.subjects)
	}
}

func TestScoreTranscript_SaveReportFailure(t *testing.T) {
	raw := testTranscript()
	store := &stubStore{saveReportErr: errors.New("disk full")}
	bus := &fakeBus{}
	notifier := &fakeNotifier{}
	p := New(store, &fakeRunner{report: testReport(raw)}, bus, notifier, discardLogger())

	if _, err := p.ScoreTranscript(context.Background(), raw); err == nil {
		t.Fatal("expected an error when the report cannot be persisted")
	}
	if len(bus.subjects) != 0 {
		t.Errorf("published %v without a persisted report", bus.subjects)
	}
	if len(notifier.summaries) != 0 {
		t.Error("posted a summary without a persisted report")
	}
}

func TestScoreTranscript_PublishFailureStillSucceeds(t *testing.T) {
	raw := testTranscript()
	store := &stubStore{}
	notifier := &fakeNotifier{}
	p := New(store, &fakeRunner{report: testReport(raw)}, &fakeBus{err: errors.New("nats down")}, notifier, discardLogger())

	report, err := p.ScoreTranscript(context.Background(), raw)
	if err != nil {
		t.Fatalf("ScoreTranscript: %v", err)
	}
	if report == nil {
		t.Fatal("expected a report despite the publish failure")
	}
	if len(notifier.summaries) != 1 {
		t.Error("summary skipped after a publish failure")
	}
}

func TestScoreTranscript_SlackFailureStillSucceeds(t *testing.T) {
	raw := testTranscript()

	t.Run("summary fails", func(t *testing.T) {
		notifier := &fakeNotifier{summaryErr: errors.New("channel_not_found")}
		bus := &fakeBus{}
		p := New(&stubStore{}, &fakeRunner{report: testReport(raw)}, bus, notifier, discardLogger())

		if _, err := p.ScoreTranscript(context.Background(), raw); err != nil {
			t.Fatalf("ScoreTranscript: %v", err)
		}
		if len(bus.subjects) != 1 {
			t.Error("publish skipped after a slack failure")
		}
		if len(notifier.threadTS) != 0 {
			t.Error("tips threaded even though the summary post failed")
		}
	})

	t.Run("tips thread fails", func(t *testing.T) {
		notifier := &fakeNotifier{tipsErr: errors.New("rate_limited")}
		p := New(&stubStore{}, &fakeRunner{report: testReport(raw)}, nil, notifier, discardLogger())

		if _, err := p.ScoreTranscript(context.Background(), raw); err != nil {
			t.Fatalf("ScoreTranscript: %v", err)
		}
		if len(notifier.summaries) != 1 {
			t.Error("summary not posted")
		}
	})
}

func TestHandleSessionCompleted(t *testing.T) {
	raw := testTranscript()
	payload, err := raw.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	store := &stubStore{}
	bus := &fakeBus{}
	p := New(store, &fakeRunner{report: testReport(raw)}, bus, nil, discardLogger())

	p.HandleSessionCompleted(hermes.SubjectSessionCompleted, payload)

	if len(store.transcripts) != 1 {
		t.Fatalf("transcripts saved = %d, want 1", len(store.transcripts))
	}
	if len(store.reports) != 1 {
		t.Fatalf("reports saved = %d, want 1", len(store.reports))
	}
	if len(bus.events) != 1 || bus.events[0].SessionID != "sess-proc" {
		t.Errorf("published events = %v, want one for sess-proc", bus.events)
	}
}

func TestHandleSessionCompleted_BadPayload(t *testing.T) {
	store := &stubStore{}
	p := New(store, &fakeRunner{}, &fakeBus{}, nil, discardLogger())

	p.HandleSessionCompleted(hermes.SubjectSessionCompleted, []byte("{not json"))

	if len(store.transcripts) != 0 || len(store.reports) != 0 {
		t.Error("a malformed payload was persisted")
	}
}

func TestHandleSessionCompleted_MissingSessionID(t *testing.T) {
	raw := testTranscript()
	raw.SessionID = ""
	payload, err := raw.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	store := &stubStore{}
	runner := &fakeRunner{}
	p := New(store, runner, nil, nil, discardLogger())

	p.HandleSessionCompleted(hermes.SubjectSessionCompleted, payload)

	if runner.got != nil {
		t.Error("pipeline ran for a payload with no session_id")
	}
	if len(store.transcripts) != 0 {
		t.Error("a transcript with no session_id was persisted")
	}
}
