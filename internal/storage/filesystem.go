package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MikeSquared-Agency/parley/internal/aar"
)

// Filesystem stores artifacts as indented JSON under
//
//	<base>/transcripts/<YYYY-MM-DD>/<session_id>_raw.json
//	<base>/reports/<YYYY-MM-DD>/<session_id>_report.json
//
// with the date taken from the session start time. Loads scan the date
// partitions because callers only know the session_id.
type Filesystem struct {
	base   string
	logger *slog.Logger
}

// NewFilesystem creates the backend and its top-level directories.
func NewFilesystem(base string, logger *slog.Logger) (*Filesystem, error) {
	for _, dir := range []string{
		filepath.Join(base, "transcripts"),
		filepath.Join(base, "reports"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	return &Filesystem{base: base, logger: logger}, nil
}

func (f *Filesystem) Close() {}

func (f *Filesystem) SaveTranscript(ctx context.Context, transcript *aar.RawTranscript) (string, error) {
	data, err := transcript.ToJSON()
	if err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}
	dir := filepath.Join(f.base, "transcripts", transcript.SessionStartTime.UTC().Format("2006-01-02"))
	path := filepath.Join(dir, transcript.SessionID+"_raw.json")
	if err := writeAtomic(dir, path, data); err != nil {
		return "", fmt.Errorf("write transcript %s: %w", transcript.SessionID, err)
	}
	f.logger.Info("transcript saved", "session_id", transcript.SessionID, "path", path)
	return path, nil
}

func (f *Filesystem) LoadTranscript(ctx context.Context, sessionID string) (*aar.RawTranscript, error) {
	data, err := f.find(filepath.Join(f.base, "transcripts"), sessionID+"_raw.json")
	if err != nil {
		return nil, fmt.Errorf("load transcript %s: %w", sessionID, err)
	}
	return aar.ParseRawTranscript(data)
}

func (f *Filesystem) SaveReport(ctx context.Context, report *aar.Report) (string, error) {
	data, err := report.ToJSON()
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	meta := report.SessionMetadata
	dir := filepath.Join(f.base, "reports", meta.SessionStartTime.UTC().Format("2006-01-02"))
	path := filepath.Join(dir, meta.SessionID+"_report.json")
	if err := writeAtomic(dir, path, data); err != nil {
		return "", fmt.Errorf("write report %s: %w", meta.SessionID, err)
	}
	f.logger.Info("report saved", "session_id", meta.SessionID, "path", path)
	return path, nil
}

func (f *Filesystem) LoadReport(ctx context.Context, sessionID string) (*aar.Report, error) {
	data, err := f.find(filepath.Join(f.base, "reports"), sessionID+"_report.json")
	if err != nil {
		return nil, fmt.Errorf("load report %s: %w", sessionID, err)
	}
	return aar.ParseReport(data)
}

// ReportDates lists the report date partitions in ascending order. Used by
// the rescore runner to walk the archive without loading everything.
func (f *Filesystem) ReportDates() ([]string, error) {
	return listDates(filepath.Join(f.base, "reports"))
}

// TranscriptDates lists the transcript date partitions in ascending order.
func (f *Filesystem) TranscriptDates() ([]string, error) {
	return listDates(filepath.Join(f.base, "transcripts"))
}

// SessionIDs lists every session with a stored transcript, walking the
// date partitions in ascending order.
func (f *Filesystem) SessionIDs(ctx context.Context) ([]string, error) {
	dates, err := f.TranscriptDates()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, date := range dates {
		sessions, err := f.SessionsOn(date)
		if err != nil {
			return nil, err
		}
		ids = append(ids, sessions...)
	}
	return ids, nil
}

// SessionsOn lists the session ids with a transcript in one date partition.
func (f *Filesystem) SessionsOn(date string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.base, "transcripts", date))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read partition %s: %w", date, err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, "_raw.json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, "_raw.json"))
	}
	return ids, nil
}

// find scans every date partition under root for the named file.
func (f *Filesystem) find(root, filename string) ([]byte, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(root, e.Name(), filename))
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func listDates(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read storage dir: %w", err)
	}
	var dates []string
	for _, e := range entries {
		if e.IsDir() {
			dates = append(dates, e.Name())
		}
	}
	return dates, nil
}

// writeAtomic writes via a temp file and rename so a crashed write never
// leaves a truncated artifact in a partition.
func writeAtomic(dir, path string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
