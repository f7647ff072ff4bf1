package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"qcert/internal/domain"
	"qcert/internal/fsio"
)

// SessionFile is the session's location inside a job directory.
const SessionFile = "inputs/intake_session.json"

// Message is one chat turn recorded during intake.
type Message struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Session is the append-only per-session record. Every mutation rewrites
// the whole document by atomic replace; nothing recorded is ever removed.
type Session struct {
	SessionID     string                           `json:"session_id"`
	SchemaVersion int                              `json:"schema_version"`
	CreatedAt     time.Time                        `json:"created_at"`
	Messages      []Message                        `json:"messages"`
	Uploads       []domain.UploadDescriptor        `json:"uploads"`
	Extraction    *domain.ExtractionResult         `json:"extraction_result,omitempty"`
	Overrides     map[string]domain.OverrideReason `json:"overrides"`
	Corrections   []domain.Correction              `json:"corrections"`
}

// EffectiveFields overlays the extraction result with corrections in
// recorded order.
func (s *Session) EffectiveFields() map[string]string {
	out := map[string]string{}
	if s.Extraction != nil {
		for k, v := range s.Extraction.Fields {
			out[k] = v
		}
	}
	for _, c := range s.Corrections {
		out[c.Field] = c.Corrected
	}
	return out
}

// Store reads and mutates intake sessions. Writes per job directory are
// serialised by an in-process mutex registry.
type Store struct {
	rawLevel    domain.RawStorageLevel
	maxRawBytes int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore builds a Store with the configured raw-storage policy.
func NewStore(rawLevel domain.RawStorageLevel, maxRawBytes int) *Store {
	return &Store{rawLevel: rawLevel, maxRawBytes: maxRawBytes, locks: map[string]*sync.Mutex{}}
}

func (s *Store) lockFor(jobDir string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[jobDir]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[jobDir] = l
	return l
}

// Open loads the session of a job directory, creating it on first use.
func (s *Store) Open(jobDir string, now time.Time) (*Session, error) {
	l := s.lockFor(jobDir)
	l.Lock()
	defer l.Unlock()
	sess, err := s.read(jobDir)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return sess, err
	}
	sess = &Session{
		SessionID:     uuid.NewString(),
		SchemaVersion: domain.SchemaVersion,
		CreatedAt:     now.UTC(),
		Messages:      []Message{},
		Uploads:       []domain.UploadDescriptor{},
		Overrides:     map[string]domain.OverrideReason{},
		Corrections:   []domain.Correction{},
	}
	if err := s.write(jobDir, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Read returns the session without creating one.
func (s *Store) Read(jobDir string) (*Session, error) {
	sess, err := s.read(jobDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrSessionNotFound
	}
	return sess, err
}

func (s *Store) read(jobDir string) (*Session, error) {
	data, err := os.ReadFile(filepath.Join(jobDir, SessionFile))
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, domain.Rejectf(domain.CodeIntakeSessionCorrupt,
			"intake session failed to parse").With("job_dir", jobDir).With("parse_error", err.Error())
	}
	if sess.SchemaVersion == 0 {
		return nil, domain.Rejectf(domain.CodeIntakeSessionCorrupt,
			"intake session lacks schema_version").With("job_dir", jobDir)
	}
	if sess.Overrides == nil {
		sess.Overrides = map[string]domain.OverrideReason{}
	}
	return &sess, nil
}

func (s *Store) write(jobDir string, sess *Session) error {
	path := filepath.Join(jobDir, SessionFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create inputs dir: %w", err)
	}
	payload, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal intake session: %w", err)
	}
	return fsio.WriteAtomic(path, payload, 0o644)
}

// mutate applies fn to the current session under the per-session mutex and
// publishes the new canonical representation atomically.
func (s *Store) mutate(jobDir string, now time.Time, fn func(*Session) error) (*Session, error) {
	l := s.lockFor(jobDir)
	l.Lock()
	defer l.Unlock()

	sess, err := s.read(jobDir)
	if errors.Is(err, os.ErrNotExist) {
		sess = &Session{
			SessionID:     uuid.NewString(),
			SchemaVersion: domain.SchemaVersion,
			CreatedAt:     now.UTC(),
			Messages:      []Message{},
			Uploads:       []domain.UploadDescriptor{},
			Overrides:     map[string]domain.OverrideReason{},
			Corrections:   []domain.Correction{},
		}
	} else if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	if err := s.write(jobDir, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// AppendMessage records one chat turn.
func (s *Store) AppendMessage(jobDir string, msg Message, now time.Time) (*Session, error) {
	return s.mutate(jobDir, now, func(sess *Session) error {
		sess.Messages = append(sess.Messages, msg)
		return nil
	})
}

// AppendUpload records one stored upload.
func (s *Store) AppendUpload(jobDir string, desc domain.UploadDescriptor, now time.Time) (*Session, error) {
	return s.mutate(jobDir, now, func(sess *Session) error {
		sess.Uploads = append(sess.Uploads, desc)
		return nil
	})
}

// SetExtraction records the extraction result exactly once. Overwriting an
// existing result rejects with INTAKE_IMMUTABLE_VIOLATION.
func (s *Store) SetExtraction(jobDir string, res domain.ExtractionResult, now time.Time) (*Session, error) {
	return s.mutate(jobDir, now, func(sess *Session) error {
		if sess.Extraction != nil {
			return domain.Rejectf(domain.CodeIntakeImmutableViolation,
				"extraction result already recorded for session %s", sess.SessionID).
				With("session_id", sess.SessionID)
		}
		res.Audit = s.applyRawPolicy(res.Audit)
		sess.Extraction = &res
		return nil
	})
}

// SetOverride attaches a structured override reason to a field or slot.
func (s *Store) SetOverride(jobDir, key string, reason domain.OverrideReason, now time.Time) (*Session, error) {
	return s.mutate(jobDir, now, func(sess *Session) error {
		sess.Overrides[key] = reason
		return nil
	})
}

// AddCorrection appends a field-level correction event.
func (s *Store) AddCorrection(jobDir string, corr domain.Correction, now time.Time) (*Session, error) {
	return s.mutate(jobDir, now, func(sess *Session) error {
		sess.Corrections = append(sess.Corrections, corr)
		return nil
	})
}

// applyRawPolicy trims the audit record to the configured raw-storage
// level. The raw-response hash is computed upstream over the full text, so
// minimal mode keeps a verifiable reference without the payload.
func (s *Store) applyRawPolicy(audit domain.ExtractionAudit) domain.ExtractionAudit {
	switch s.rawLevel {
	case domain.RawStorageNone:
		audit.RawResponse = ""
		audit.RawResponseHash = ""
		audit.RawTruncated = false
	case domain.RawStorageMinimal:
		audit.RawResponse = ""
		audit.RawTruncated = false
	case domain.RawStorageFull:
		if s.maxRawBytes > 0 && len(audit.RawResponse) > s.maxRawBytes {
			audit.RawResponse = audit.RawResponse[:s.maxRawBytes]
			audit.RawTruncated = true
		}
	}
	return audit
}
