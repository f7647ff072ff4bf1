package ssot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"qcert/internal/domain"
	"qcert/internal/fsio"
)

const (
	identityFile = "job.json"
	lockDirName  = ".job_json.lock"
)

// Store is the job identity store. One job.json per job directory; all
// mutations of the directory happen under the lock this store hands out.
type Store struct {
	jobsRoot      string
	retryInterval time.Duration
	maxRetries    int
}

// NewStore builds a Store rooted at jobsRoot with the configured lock
// acquisition spin.
func NewStore(jobsRoot string, retryInterval time.Duration, maxRetries int) *Store {
	return &Store{jobsRoot: jobsRoot, retryInterval: retryInterval, maxRetries: maxRetries}
}

// JobsRoot returns the root below which job directories live.
func (s *Store) JobsRoot() string { return s.jobsRoot }

// JobDir returns the directory for (wo_no, line), named by the derived
// job_id.
func (s *Store) JobDir(woNo, line string) string {
	return filepath.Join(s.jobsRoot, JobID(woNo, line))
}

// Lock is a held job-directory lock. Release is safe to call twice.
type Lock struct {
	path     string
	released bool
}

// Release removes the lock directory. Orphaned locks after process death
// are left for the operator; the store never auto-clears them.
func (l *Lock) Release() {
	if l == nil || l.released {
		return
	}
	l.released = true
	if err := os.Remove(l.path); err != nil {
		log.Printf("ssot.Lock: release %s failed: %v", l.path, err)
	}
}

// Acquire takes the job-directory lock by atomic mkdir of .job_json.lock/.
// On contention it sleeps retryInterval between attempts, up to maxRetries;
// exhaustion rejects with JOB_JSON_LOCK_TIMEOUT.
func (s *Store) Acquire(ctx context.Context, jobDir string) (*Lock, error) {
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return nil, fmt.Errorf("create job dir: %w", err)
	}
	lockPath := filepath.Join(jobDir, lockDirName)

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err := os.Mkdir(lockPath, 0o755)
		if err == nil {
			return &Lock{path: lockPath}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.retryInterval):
		}
	}
	return nil, domain.Rejectf(domain.CodeJobJSONLockTimeout,
		"could not acquire %s within %d attempts", lockDirName, s.maxRetries).
		With("job_dir", jobDir).
		With("retry_interval_ms", s.retryInterval.Milliseconds()).
		With("max_retries", s.maxRetries)
}

// EnsureIdentity reads or creates job.json for the directory. Callers must
// hold the directory lock. A present identity whose (wo_no, line) disagrees
// with the packet rejects with PACKET_JOB_MISMATCH; the recorded job_id is
// never replaced.
func (s *Store) EnsureIdentity(jobDir, woNo, line string, now time.Time) (*domain.JobIdentity, bool, error) {
	path := filepath.Join(jobDir, identityFile)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var id domain.JobIdentity
		if err := json.Unmarshal(data, &id); err != nil {
			return nil, false, domain.Rejectf(domain.CodeJobJSONCorrupt,
				"job.json failed to parse").With("job_dir", jobDir).With("parse_error", err.Error())
		}
		if id.WONo != woNo || id.Line != line {
			return nil, false, domain.Rejectf(domain.CodePacketJobMismatch,
				"job directory belongs to (%s, %s), packet carries (%s, %s)",
				id.WONo, id.Line, woNo, line).
				With("recorded_wo_no", id.WONo).With("recorded_line", id.Line).
				With("packet_wo_no", woNo).With("packet_line", line)
		}
		return &id, false, nil
	case errors.Is(err, os.ErrNotExist):
		id := domain.JobIdentity{
			JobID:         JobID(woNo, line),
			JobIDVersion:  domain.JobIDVersion,
			SchemaVersion: domain.SchemaVersion,
			CreatedAt:     now.UTC(),
			WONo:          woNo,
			Line:          line,
		}
		payload, err := json.MarshalIndent(id, "", "  ")
		if err != nil {
			return nil, false, fmt.Errorf("marshal job.json: %w", err)
		}
		if err := fsio.WriteAtomic(path, payload, 0o644); err != nil {
			return nil, false, fmt.Errorf("write job.json: %w", err)
		}
		log.Printf("ssot.Store: created %s for job %s", identityFile, id.JobID)
		return &id, true, nil
	default:
		return nil, false, fmt.Errorf("read job.json: %w", err)
	}
}

// ReadIdentity reads job.json without taking the lock. Read-only callers
// must tolerate transient absence during a writer's publication sequence.
func (s *Store) ReadIdentity(jobDir string) (*domain.JobIdentity, error) {
	data, err := os.ReadFile(filepath.Join(jobDir, identityFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read job.json: %w", err)
	}
	var id domain.JobIdentity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, domain.Rejectf(domain.CodeJobJSONCorrupt, "job.json failed to parse").
			With("job_dir", jobDir).With("parse_error", err.Error())
	}
	return &id, nil
}
