package runlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"qcert/internal/domain"
	"qcert/internal/fsio"
)

const logsDir = "logs"

// Builder accumulates the RunRecord of one pipeline attempt. Warnings and
// overrides append in stage order; the record is sealed by Success or
// Rejected.
type Builder struct {
	rec domain.RunRecord
}

// NewBuilder starts a RunRecord for one attempt.
func NewBuilder(runID, jobID, definitionVersion string, started time.Time) *Builder {
	return &Builder{rec: domain.RunRecord{
		RunID:             runID,
		JobID:             jobID,
		StartedAt:         started.UTC(),
		Warnings:          []domain.Warning{},
		Overrides:         []domain.OverrideApplication{},
		PhotoProcessing:   []domain.PhotoProcessingEntry{},
		DefinitionVersion: definitionVersion,
		SchemaVersion:     domain.SchemaVersion,
		PacketHashVersion: domain.PacketHashVersion,
	}}
}

// SetJobID fills the job id once the identity store has issued it.
func (b *Builder) SetJobID(jobID string) { b.rec.JobID = jobID }

// SetHashes records the packet fingerprints.
func (b *Builder) SetHashes(packetHash, fullHash string) {
	b.rec.PacketHash = packetHash
	b.rec.PacketFullHash = fullHash
}

// Warn appends one warning.
func (b *Builder) Warn(w domain.Warning) { b.rec.Warnings = append(b.rec.Warnings, w) }

// WarnAll appends a batch of warnings.
func (b *Builder) WarnAll(ws []domain.Warning) { b.rec.Warnings = append(b.rec.Warnings, ws...) }

// AddOverride appends one accepted override application.
func (b *Builder) AddOverride(app domain.OverrideApplication) {
	b.rec.Overrides = append(b.rec.Overrides, app)
}

// AddPhoto appends one slot-engine entry.
func (b *Builder) AddPhoto(entry domain.PhotoProcessingEntry) {
	b.rec.PhotoProcessing = append(b.rec.PhotoProcessing, entry)
}

// RunID returns the run identifier of the record under construction.
func (b *Builder) RunID() string { return b.rec.RunID }

// Success seals the record as a successful run.
func (b *Builder) Success(finished time.Time) *domain.RunRecord {
	b.rec.Result = domain.RunSuccess
	b.rec.FinishedAt = finished.UTC()
	rec := b.rec
	return &rec
}

// Rejected seals the record with the reject taxonomy code and context. A
// non-reject error is recorded as INTERNAL_ERROR.
func (b *Builder) Rejected(cause error, finished time.Time) *domain.RunRecord {
	b.rec.Result = domain.RunRejected
	b.rec.FinishedAt = finished.UTC()

	var re *domain.RejectError
	if errors.As(cause, &re) {
		b.rec.RejectReason = re.Code
		b.rec.RejectContext = re.Context
	} else {
		b.rec.RejectReason = "INTERNAL_ERROR"
		b.rec.RejectContext = map[string]any{"error": cause.Error()}
	}
	rec := b.rec
	return &rec
}

// Writer persists one RunRecord per run attempt under <job_dir>/logs/.
type Writer struct{}

// NewWriter builds a run log writer.
func NewWriter() *Writer { return &Writer{} }

// fileName derives the log file name from the run id, dropping the RUN-
// prefix so names sort by start second.
func fileName(runID string) string {
	return "run_" + strings.TrimPrefix(runID, "RUN-") + ".json"
}

// Write appends the sealed record to the job directory. Raw provider
// payloads never appear here.
func (w *Writer) Write(jobDir string, rec *domain.RunRecord) error {
	dir := filepath.Join(jobDir, logsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}
	payload, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	path := filepath.Join(dir, fileName(rec.RunID))
	if err := fsio.WriteAtomic(path, payload, 0o644); err != nil {
		return fmt.Errorf("write run record: %w", err)
	}
	log.Printf("runlog.Writer: run %s result=%s reject=%s", rec.RunID, rec.Result, rec.RejectReason)
	return nil
}

// List returns the run records of a job directory, oldest first.
func (w *Writer) List(jobDir string) ([]domain.RunRecord, error) {
	dir := filepath.Join(jobDir, logsDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read logs dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "run_") && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	records := make([]domain.RunRecord, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read run record %s: %w", name, err)
		}
		var rec domain.RunRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("parse run record %s: %w", name, err)
		}
		records = append(records, rec)
	}
	// Names tie within one second; the recorded start time breaks the tie.
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
	return records, nil
}
