package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/parley/internal/aar"
)

// Postgres keeps one row per session in each table, with the artifact as a
// jsonb payload. Rescoring upserts the report row in place.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres connects, pings, and ensures the schema exists.
func NewPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	p := &Postgres{pool: pool, logger: logger}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS parley_transcripts (
			session_id         text PRIMARY KEY,
			scenario_id        text NOT NULL,
			session_start_time timestamptz NOT NULL,
			payload            jsonb NOT NULL,
			created_at         timestamptz NOT NULL DEFAULT now(),
			updated_at         timestamptz NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create transcripts table: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS parley_reports (
			session_id         text PRIMARY KEY,
			scenario_id        text NOT NULL,
			session_start_time timestamptz NOT NULL,
			letter_grade       text NOT NULL,
			payload            jsonb NOT NULL,
			created_at         timestamptz NOT NULL DEFAULT now(),
			updated_at         timestamptz NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create reports table: %w", err)
	}
	return nil
}

func (p *Postgres) SaveTranscript(ctx context.Context, transcript *aar.RawTranscript) (string, error) {
	data, err := transcript.ToJSON()
	if err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO parley_transcripts (session_id, scenario_id, session_start_time, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id)
		DO UPDATE SET
			scenario_id = $2,
			session_start_time = $3,
			payload = $4,
			updated_at = now()`,
		transcript.SessionID, transcript.ScenarioID, transcript.SessionStartTime, data,
	)
	if err != nil {
		return "", fmt.Errorf("upsert transcript %s: %w", transcript.SessionID, err)
	}
	p.logger.Info("transcript saved", "session_id", transcript.SessionID, "backend", "postgres")
	return "parley_transcripts/" + transcript.SessionID, nil
}

func (p *Postgres) LoadTranscript(ctx context.Context, sessionID string) (*aar.RawTranscript, error) {
	var data []byte
	err := p.pool.QueryRow(ctx,
		`SELECT payload FROM parley_transcripts WHERE session_id = $1`, sessionID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load transcript %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load transcript %s: %w", sessionID, err)
	}
	return aar.ParseRawTranscript(data)
}

func (p *Postgres) SaveReport(ctx context.Context, report *aar.Report) (string, error) {
	data, err := report.ToJSON()
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	meta := report.SessionMetadata
	_, err = p.pool.Exec(ctx, `
		INSERT INTO parley_reports (session_id, scenario_id, session_start_time, letter_grade, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id)
		DO UPDATE SET
			scenario_id = $2,
			session_start_time = $3,
			letter_grade = $4,
			payload = $5,
			updated_at = now()`,
		meta.SessionID, meta.ScenarioID, meta.SessionStartTime, report.LetterGrade, data,
	)
	if err != nil {
		return "", fmt.Errorf("upsert report %s: %w", meta.SessionID, err)
	}
	p.logger.Info("report saved", "session_id", meta.SessionID, "backend", "postgres", "letter_grade", report.LetterGrade)
	return "parley_reports/" + meta.SessionID, nil
}

func (p *Postgres) LoadReport(ctx context.Context, sessionID string) (*aar.Report, error) {
	var data []byte
	err := p.pool.QueryRow(ctx,
		`SELECT payload FROM parley_reports WHERE session_id = $1`, sessionID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load report %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load report %s: %w", sessionID, err)
	}
	return aar.ParseReport(data)
}

// SessionIDs lists every session with a stored transcript, oldest first.
// Used by the rescore runner when backed by postgres.
func (p *Postgres) SessionIDs(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT session_id FROM parley_transcripts ORDER BY session_start_time, session_id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
