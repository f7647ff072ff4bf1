package service

import (
	"context"
	"io"
	"log"
	"strings"
	"time"

	"qcert/internal/contract"
	"qcert/internal/domain"
	"qcert/internal/intake"
	"qcert/internal/photos"
	"qcert/internal/provider"
	"qcert/internal/ssot"
)

// IntakeService defines the chat-intake contract: messages, uploads, field
// extraction, corrections, and slot status.
type IntakeService interface {
	PostMessage(ctx context.Context, woNo, line, role, text string) (*intake.Session, error)
	Upload(ctx context.Context, woNo, line, filename string, r io.Reader) (*intake.Session, domain.UploadDescriptor, error)
	Extract(ctx context.Context, woNo, line string) (*intake.Session, error)
	Correct(ctx context.Context, woNo, line string, corr domain.Correction) (*intake.Session, error)
	SetOverride(ctx context.Context, woNo, line, key string, reason domain.OverrideReason) (*intake.Session, error)
	Session(ctx context.Context, woNo, line string) (*intake.Session, error)
	SlotStatuses(ctx context.Context, woNo, line string) ([]domain.SlotStatus, error)
}

type intakeService struct {
	contract  *contract.Contract
	store     *ssot.Store
	sessions  *intake.Store
	photos    *photos.Engine
	extractor provider.FieldExtractor
	regex     *provider.RegexExtractor
}

// NewIntakeService wires the intake surface. extractor may be nil, in which
// case only the regex pass serves extraction.
func NewIntakeService(
	c *contract.Contract,
	store *ssot.Store,
	sessions *intake.Store,
	photoEngine *photos.Engine,
	extractor provider.FieldExtractor,
) IntakeService {
	return &intakeService{
		contract:  c,
		store:     store,
		sessions:  sessions,
		photos:    photoEngine,
		extractor: extractor,
		regex:     provider.NewRegexExtractor(),
	}
}

func (s *intakeService) PostMessage(_ context.Context, woNo, line, role, text string) (*intake.Session, error) {
	jobDir := s.store.JobDir(woNo, line)
	return s.sessions.AppendMessage(jobDir, intake.Message{
		Role: role,
		Text: text,
		At:   time.Now().UTC(),
	}, time.Now().UTC())
}

func (s *intakeService) Upload(_ context.Context, woNo, line, filename string, r io.Reader) (*intake.Session, domain.UploadDescriptor, error) {
	jobDir := s.store.JobDir(woNo, line)
	now := time.Now().UTC()
	desc, err := s.photos.SaveRaw(jobDir, filename, r, now)
	if err != nil {
		return nil, domain.UploadDescriptor{}, err
	}
	sess, err := s.sessions.AppendUpload(jobDir, desc, now)
	if err != nil {
		return nil, domain.UploadDescriptor{}, err
	}
	return sess, desc, nil
}

// Extract runs the regex pass and, when it does not already cover every
// critical field, the LLM extractor. Regex hits win on merge. The session
// store enforces extraction immutability.
func (s *intakeService) Extract(ctx context.Context, woNo, line string) (*intake.Session, error) {
	jobDir := s.store.JobDir(woNo, line)
	sess, err := s.sessions.Read(jobDir)
	if err != nil {
		return nil, err
	}

	input := provider.ExtractInput{
		Text:      intakeText(sess),
		FieldKeys: s.contract.FieldKeys(),
	}

	regexOut := s.regex.Extract(input)
	out := regexOut
	covered := provider.Covers(regexOut, s.contract.CriticalKeys())
	switch {
	case covered:
		log.Printf("service.intakeService: regex ruleset covered all critical fields, LLM call skipped")
	case s.extractor != nil:
		llmOut, err := s.extractor.ExtractFields(ctx, input)
		if err != nil {
			return nil, domain.NewReject(domain.CodeExtractionFailed, "field extraction call failed").
				With("error", err.Error())
		}
		out = provider.Merge(regexOut, llmOut)
	}

	now := time.Now().UTC()
	return s.sessions.SetExtraction(jobDir, domain.ExtractionResult{
		Fields:      out.Fields,
		Confidence:  out.Confidence,
		Audit:       out.Audit,
		ExtractedAt: now,
	}, now)
}

func (s *intakeService) Correct(_ context.Context, woNo, line string, corr domain.Correction) (*intake.Session, error) {
	jobDir := s.store.JobDir(woNo, line)
	if corr.CorrectedAt.IsZero() {
		corr.CorrectedAt = time.Now().UTC()
	}
	return s.sessions.AddCorrection(jobDir, corr, time.Now().UTC())
}

func (s *intakeService) SetOverride(_ context.Context, woNo, line, key string, reason domain.OverrideReason) (*intake.Session, error) {
	jobDir := s.store.JobDir(woNo, line)
	return s.sessions.SetOverride(jobDir, key, reason, time.Now().UTC())
}

func (s *intakeService) Session(_ context.Context, woNo, line string) (*intake.Session, error) {
	return s.sessions.Read(s.store.JobDir(woNo, line))
}

func (s *intakeService) SlotStatuses(_ context.Context, woNo, line string) ([]domain.SlotStatus, error) {
	return s.photos.SlotStatuses(s.store.JobDir(woNo, line))
}

// intakeText joins the operator-side messages into the extraction input.
func intakeText(sess *intake.Session) string {
	var b strings.Builder
	for _, msg := range sess.Messages {
		if msg.Role == "assistant" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(msg.Text)
	}
	return b.String()
}
