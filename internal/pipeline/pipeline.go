package pipeline

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"qcert/internal/contract"
	"qcert/internal/deliver"
	"qcert/internal/domain"
	"qcert/internal/fingerprint"
	"qcert/internal/normalize"
	"qcert/internal/photos"
	"qcert/internal/render"
	"qcert/internal/runlog"
	"qcert/internal/ssot"
	"qcert/internal/validate"
)

// Job-identifying field keys. The job directory is derived from these two
// values and nothing else.
const (
	FieldWONo = "wo_no"
	FieldLine = "line"
)

// Pipeline drives one submission through normalize, validate, photo mapping,
// fingerprinting, render, and packaging. Everything that mutates the job
// directory runs under its directory lock.
type Pipeline struct {
	contract     *contract.Contract
	store        *ssot.Store
	normalizer   *normalize.Normalizer
	validator    *validate.Engine
	prints       *fingerprint.Engine
	photos       *photos.Engine
	logs         *runlog.Writer
	templatesDir string
}

// New wires a pipeline over the shared contract and stores.
func New(c *contract.Contract, store *ssot.Store, photoEngine *photos.Engine, templatesDir string) *Pipeline {
	return &Pipeline{
		contract:     c,
		store:        store,
		normalizer:   normalize.New(c),
		validator:    validate.NewEngine(c),
		prints:       fingerprint.NewEngine(c),
		photos:       photoEngine,
		logs:         runlog.NewWriter(),
		templatesDir: templatesDir,
	}
}

// Request is one generate call.
type Request struct {
	Fields          map[string]string
	MeasurementRows []domain.MeasurementRow
	Overrides       map[string]domain.OverrideReason
	TemplateID      string
	Actor           string
}

// Outcome is a successful run's summary.
type Outcome struct {
	RunID          string
	JobID          string
	JobDir         string
	JobCreated     bool
	PacketHash     string
	PacketFullHash string
	Record         *domain.RunRecord
	Manifest       *deliver.Manifest
}

// Generate runs the full pipeline for one submission. On rejection the run
// record is written under the job directory before the error returns,
// provided the job directory could be determined.
func (p *Pipeline) Generate(ctx context.Context, req Request) (*Outcome, error) {
	started := time.Now().UTC()
	runID := ssot.NewRunID(started)
	builder := runlog.NewBuilder(runID, "", p.contract.DefinitionVersion, started)

	packet, warnings, err := p.normalizer.Normalize(&domain.RawPacket{
		Fields:          req.Fields,
		MeasurementRows: req.MeasurementRows,
	})
	if err != nil {
		// The job directory is only resolvable from raw input here; a
		// record is written when it already exists.
		p.rejectKnownJob(req.Fields, builder, err)
		return nil, err
	}
	builder.WarnAll(warnings)

	woNo, _ := packet.Field(FieldWONo)
	line, _ := packet.Field(FieldLine)
	if woNo == "" || line == "" {
		err := domain.NewReject(domain.CodeMissingCriticalField, "job identity fields are required").
			With("wo_no_present", woNo != "").With("line_present", line != "")
		return nil, err
	}
	jobDir := p.store.JobDir(woNo, line)

	lock, err := p.store.Acquire(ctx, jobDir)
	if err != nil {
		p.writeReject(jobDir, builder, err)
		return nil, err
	}
	defer lock.Release()

	identity, created, err := p.store.EnsureIdentity(jobDir, woNo, line, started)
	if err != nil {
		p.writeReject(jobDir, builder, err)
		return nil, err
	}
	builder.SetJobID(identity.JobID)

	photoRes, err := p.photos.Process(ctx, jobDir, runID, started)
	if err != nil {
		p.writeReject(jobDir, builder, err)
		return nil, err
	}
	builder.WarnAll(photoRes.Warnings)
	for _, entry := range photoRes.Entries {
		builder.AddPhoto(entry)
	}

	valRes, err := p.validator.Validate(validate.Input{
		Packet:      packet,
		Overrides:   req.Overrides,
		MappedSlots: photoRes.Mapped,
		Actor:       req.Actor,
		Now:         started,
	})
	if err != nil {
		p.writeReject(jobDir, builder, err)
		return nil, err
	}
	builder.WarnAll(valRes.Warnings)
	overridden := map[string]bool{}
	for _, app := range valRes.Overrides {
		builder.AddOverride(app)
		overridden[app.Key] = true
	}

	packetHash, fullHash, err := p.prints.Hashes(packet)
	if err != nil {
		p.writeReject(jobDir, builder, err)
		return nil, err
	}
	builder.SetHashes(packetHash, fullHash)

	renderer, err := render.New(p.contract, p.templatesDir, req.TemplateID)
	if err != nil {
		p.writeReject(jobDir, builder, err)
		return nil, err
	}

	fields := map[string]string{}
	for key := range packet.Fields {
		if v, ok := packet.Field(key); ok {
			fields[key] = v
		}
	}
	photoPaths := map[string]string{}
	for _, entry := range photoRes.Entries {
		if entry.DerivedPath != "" {
			photoPaths[entry.SlotKey] = filepath.Join(jobDir, entry.DerivedPath)
		}
	}

	renderWarnings, err := renderer.Render(filepath.Join(jobDir, deliver.Dir), render.Input{
		Fields:          fields,
		MeasurementRows: packet.MeasurementRows,
		Photos:          photoPaths,
		Overridden:      overridden,
		RunID:           runID,
		Now:             started,
	})
	if err != nil {
		p.writeReject(jobDir, builder, err)
		return nil, err
	}
	builder.WarnAll(renderWarnings)

	manifest, err := deliver.WriteManifest(jobDir, identity.JobID, runID, started.Format(time.RFC3339))
	if err != nil {
		p.writeReject(jobDir, builder, err)
		return nil, err
	}

	rec := builder.Success(time.Now().UTC())
	if err := p.logs.Write(jobDir, rec); err != nil {
		return nil, err
	}

	log.Printf("pipeline.Pipeline: run %s for job %s succeeded (packet_hash=%s)", runID, identity.JobID, packetHash)
	return &Outcome{
		RunID:          runID,
		JobID:          identity.JobID,
		JobDir:         jobDir,
		JobCreated:     created,
		PacketHash:     packetHash,
		PacketFullHash: fullHash,
		Record:         rec,
		Manifest:       manifest,
	}, nil
}

// writeReject finalizes and persists a rejected run record. The write is
// best-effort: the reject itself already carries the cause.
func (p *Pipeline) writeReject(jobDir string, builder *runlog.Builder, cause error) {
	rec := builder.Rejected(cause, time.Now().UTC())
	if err := p.logs.Write(jobDir, rec); err != nil {
		log.Printf("pipeline.Pipeline: writing rejected run record: %v", err)
	}
}

// rejectKnownJob writes a reject record when the raw input names an existing
// job directory. Rejections before identity resolution have no home
// otherwise.
func (p *Pipeline) rejectKnownJob(rawFields map[string]string, builder *runlog.Builder, cause error) {
	woNo := rawFields[FieldWONo]
	line := rawFields[FieldLine]
	if woNo == "" || line == "" {
		return
	}
	jobDir := p.store.JobDir(woNo, line)
	if _, err := p.store.ReadIdentity(jobDir); err != nil {
		return
	}
	p.writeReject(jobDir, builder, cause)
}
