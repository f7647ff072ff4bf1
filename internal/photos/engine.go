package photos

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"qcert/internal/contract"
	"qcert/internal/domain"
	"qcert/internal/fsio"
)

// Photo tier directories under a job directory.
const (
	RawDir     = "photos/raw"
	DerivedDir = "photos/derived"
	TrashDir   = "photos/_trash"
	ArchiveDir = "photos/_archive"
)

// OCRProbe extracts text from an image so label slots can be verified.
type OCRProbe interface {
	Probe(ctx context.Context, path string) (string, error)
}

// Engine maps raw uploads to declared slots, publishes derived files
// atomically, and archives superseded content.
type Engine struct {
	contract *contract.Contract
	ocr      OCRProbe
}

// NewEngine builds a slot engine. ocr may be nil; label verification is
// then skipped.
func NewEngine(c *contract.Contract, ocr OCRProbe) *Engine {
	return &Engine{contract: c, ocr: ocr}
}

type tier int

const (
	tierExact tier = iota + 1
	tierPrefix
	tierKey
	tierNone
)

func (t tier) confidence() domain.MatchConfidence {
	switch t {
	case tierExact:
		return domain.ConfidenceHigh
	case tierPrefix:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

func (t tier) rule() domain.MatchRule {
	switch t {
	case tierExact:
		return domain.MatchBasenameExact
	case tierPrefix:
		return domain.MatchBasenamePrefix
	default:
		return domain.MatchKeyPrefix
	}
}

type slotPlan struct {
	slot       *contract.SlotSpec
	tier       tier
	candidates []string
	chosen     string
	ambiguous  bool
}

// Result is what one slot-engine pass produced.
type Result struct {
	Entries  []domain.PhotoProcessingEntry
	Warnings []domain.Warning
	Mapped   map[string]bool
}

// Process runs the full mapping + publication pass for one run. It must be
// called under the job-directory lock.
func (e *Engine) Process(ctx context.Context, jobDir, runID string, now time.Time) (*Result, error) {
	rawFiles, err := listFiles(filepath.Join(jobDir, RawDir))
	if err != nil {
		return nil, err
	}

	plans := e.planSlots(rawFiles)
	res := &Result{Mapped: map[string]bool{}}
	e.resolveConflicts(plans, res)

	bucket := trashBucket(jobDir, runID, now)
	for _, plan := range plans {
		entry, warns, err := e.executePlan(ctx, jobDir, bucket, plan)
		if err != nil {
			return nil, err
		}
		res.Warnings = append(res.Warnings, warns...)
		res.Entries = append(res.Entries, entry)
		if entry.Action == domain.PhotoMapped || entry.Action == domain.PhotoSkipped {
			res.Mapped[entry.SlotKey] = true
		}
	}
	return res, nil
}

// planSlots computes each slot's best-tier candidate set.
func (e *Engine) planSlots(rawFiles []string) []*slotPlan {
	plans := make([]*slotPlan, 0, len(e.contract.Photos.Slots))
	for i := range e.contract.Photos.Slots {
		slot := &e.contract.Photos.Slots[i]
		exts := slot.Extensions(e.contract.Photos.AllowedExtensions)

		byTier := map[tier][]string{}
		for _, name := range rawFiles {
			if t := matchTier(slot, exts, name); t != tierNone {
				byTier[t] = append(byTier[t], name)
			}
		}
		plan := &slotPlan{slot: slot, tier: tierNone}
		for _, t := range []tier{tierExact, tierPrefix, tierKey} {
			if len(byTier[t]) > 0 {
				plan.tier = t
				plan.candidates = byTier[t]
				break
			}
		}
		plans = append(plans, plan)
	}
	return plans
}

func matchTier(slot *contract.SlotSpec, exts []string, name string) tier {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if !extAllowed(ext, exts) {
		return tierNone
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	switch {
	case stem == slot.Basename:
		return tierExact
	case strings.HasPrefix(name, slot.Basename):
		return tierPrefix
	case strings.HasPrefix(name, slot.Key):
		return tierKey
	default:
		return tierNone
	}
}

func extAllowed(ext string, allowed []string) bool {
	if len(allowed) == 0 {
		return domain.ImageExtensions[ext]
	}
	for _, a := range allowed {
		if strings.EqualFold(a, ext) {
			return true
		}
	}
	return false
}

// resolveConflicts removes cross-slot contention. A file claimed by two
// slots at the same tier is ambiguous and unmaps both; a file claimed at
// different tiers is awarded to the stronger claim.
func (e *Engine) resolveConflicts(plans []*slotPlan, res *Result) {
	claims := map[string][]*slotPlan{}
	for _, plan := range plans {
		for _, f := range plan.candidates {
			claims[f] = append(claims[f], plan)
		}
	}

	files := make([]string, 0, len(claims))
	for f := range claims {
		files = append(files, f)
	}
	sort.Strings(files)

	for _, f := range files {
		claimants := claims[f]
		if len(claimants) < 2 {
			continue
		}
		best := tierNone
		for _, p := range claimants {
			if p.tier < best {
				best = p.tier
			}
		}
		var atBest []*slotPlan
		for _, p := range claimants {
			if p.tier == best {
				atBest = append(atBest, p)
			}
		}
		if len(atBest) >= 2 {
			keys := make([]string, 0, len(atBest))
			for _, p := range atBest {
				p.ambiguous = true
				keys = append(keys, p.slot.Key)
			}
			res.Warnings = append(res.Warnings, domain.Warning{
				Code:          domain.WarnPhotoAmbiguousMatch,
				ActionID:      "decline_ambiguous_match",
				FieldOrSlot:   strings.Join(keys, ","),
				OriginalValue: f,
				Message:       fmt.Sprintf("file %q matches slots %s at the same tier; mapping declined", f, strings.Join(keys, ", ")),
			})
			continue
		}
		// Stronger claim wins; weaker claimants drop the file.
		for _, p := range claimants {
			if p.tier != best {
				p.candidates = remove(p.candidates, f)
			}
		}
	}
}

func remove(ss []string, v string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) executePlan(ctx context.Context, jobDir, bucket string, plan *slotPlan) (domain.PhotoProcessingEntry, []domain.Warning, error) {
	key := plan.slot.Key
	if plan.ambiguous {
		return domain.PhotoProcessingEntry{SlotKey: key, Action: domain.PhotoMissing, Confidence: domain.ConfidenceAmbiguous}, nil, nil
	}
	if plan.tier == tierNone || len(plan.candidates) == 0 {
		return domain.PhotoProcessingEntry{SlotKey: key, Action: domain.PhotoMissing}, nil, nil
	}

	var warns []domain.Warning
	chosen := e.choose(plan)
	if len(plan.candidates) > 1 {
		warns = append(warns, domain.Warning{
			Code:          domain.WarnPhotoDuplicateAutoSelected,
			ActionID:      "prefer_order_tie_break",
			FieldOrSlot:   key,
			OriginalValue: strings.Join(plan.candidates, ","),
			ResolvedValue: chosen,
			Message:       fmt.Sprintf("%d candidates matched slot %q; selected %q", len(plan.candidates), key, chosen),
		})
	}
	if plan.tier == tierKey {
		warns = append(warns, domain.Warning{
			Code:          domain.WarnPhotoLowConfidenceMatch,
			ActionID:      "key_prefix_match",
			FieldOrSlot:   key,
			OriginalValue: chosen,
			Message:       fmt.Sprintf("slot %q matched %q by key prefix only", key, chosen),
		})
	}

	confidence := plan.tier.confidence()
	ocrVerified := false
	if confidence == domain.ConfidenceMedium && len(plan.slot.OCRKeywords) > 0 && e.ocr != nil {
		verified, err := e.verifyLabel(ctx, filepath.Join(jobDir, RawDir, chosen), plan.slot.OCRKeywords)
		if err != nil {
			log.Printf("photos.Engine: OCR probe for slot %s failed: %v", key, err)
		} else if verified {
			confidence = domain.ConfidenceHigh
			ocrVerified = true
		}
	}

	entry, pubWarns, err := e.publish(jobDir, bucket, plan.slot, chosen)
	if err != nil {
		return domain.PhotoProcessingEntry{}, warns, err
	}
	warns = append(warns, pubWarns...)
	entry.Confidence = confidence
	entry.MatchedBy = plan.tier.rule()
	entry.OCRVerified = ocrVerified
	return entry, warns, nil
}

// choose breaks candidate ties by the slot's preferred extension order,
// then lexicographically.
func (e *Engine) choose(plan *slotPlan) string {
	prefer := plan.slot.Preference(e.contract.Photos.PreferOrder)
	rank := func(name string) int {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
		for i, p := range prefer {
			if strings.EqualFold(p, ext) {
				return i
			}
		}
		return len(prefer)
	}
	best := plan.candidates[0]
	for _, c := range plan.candidates[1:] {
		if rank(c) < rank(best) || (rank(c) == rank(best) && c < best) {
			best = c
		}
	}
	return best
}

func (e *Engine) verifyLabel(ctx context.Context, path string, keywords []string) (bool, error) {
	text, err := e.ocr.Probe(ctx, path)
	if err != nil {
		return false, err
	}
	haystack := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true, nil
		}
	}
	return false, nil
}

// publish materializes the chosen raw file as derived/<key>.<ext>. The new
// file lands under a temporary name first; the prior derived file moves to
// the trash bucket before the final rename, so a failed archival never
// leaves mixed state.
func (e *Engine) publish(jobDir, bucket string, slot *contract.SlotSpec, chosen string) (domain.PhotoProcessingEntry, []domain.Warning, error) {
	rawPath := filepath.Join(jobDir, RawDir, chosen)
	derivedDir := filepath.Join(jobDir, DerivedDir)
	if err := os.MkdirAll(derivedDir, 0o755); err != nil {
		return domain.PhotoProcessingEntry{}, nil, fmt.Errorf("create derived dir: %w", err)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(chosen)), ".")
	finalPath := filepath.Join(derivedDir, slot.Key+"."+ext)

	existing, err := derivedFiles(derivedDir, slot.Key)
	if err != nil {
		return domain.PhotoProcessingEntry{}, nil, err
	}

	// Identical content already published: nothing to archive or copy.
	if len(existing) == 1 && existing[0] == filepath.Base(finalPath) {
		same, err := sameContent(rawPath, finalPath)
		if err == nil && same {
			return domain.PhotoProcessingEntry{
				SlotKey:     slot.Key,
				Action:      domain.PhotoSkipped,
				RawPath:     relPath(jobDir, rawPath),
				DerivedPath: relPath(jobDir, finalPath),
			}, nil, nil
		}
	}

	var warns []domain.Warning
	tmpPath := filepath.Join(derivedDir, ".tmp-"+slot.Key+"."+ext)
	if err := fsio.CopyFile(rawPath, tmpPath); err != nil {
		return domain.PhotoProcessingEntry{}, nil, fmt.Errorf("stage derived file: %w", err)
	}
	if err := fsio.Fsync(tmpPath); err != nil {
		warns = append(warns, domain.Warning{
			Code:        domain.WarnFsyncFailed,
			ActionID:    "degraded_durability",
			FieldOrSlot: slot.Key,
			Message:     fmt.Sprintf("fsync of staged file failed: %v", err),
		})
	}

	var archivedPath string
	for _, name := range existing {
		dst, err := archiveTo(bucket, filepath.Join(derivedDir, name))
		if err != nil {
			os.Remove(tmpPath)
			return domain.PhotoProcessingEntry{}, warns, domain.Rejectf(domain.CodeArchiveFailed,
				"archival of %q failed; prior derived content preserved", name).
				With("slot", slot.Key).With("file", name).With("cause", err.Error())
		}
		archivedPath = relPath(jobDir, dst)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return domain.PhotoProcessingEntry{}, warns, fmt.Errorf("publish derived file: %w", err)
	}

	return domain.PhotoProcessingEntry{
		SlotKey:      slot.Key,
		Action:       domain.PhotoMapped,
		RawPath:      relPath(jobDir, rawPath),
		DerivedPath:  relPath(jobDir, finalPath),
		ArchivedPath: archivedPath,
	}, warns, nil
}

// archiveTo moves path into the trash bucket, suffixing _1, _2, … before
// the extension on name collisions.
func archiveTo(bucket, path string) (string, error) {
	if err := os.MkdirAll(bucket, 0o755); err != nil {
		return "", err
	}
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	dst := filepath.Join(bucket, base)
	for i := 1; ; i++ {
		if _, err := os.Stat(dst); errors.Is(err, os.ErrNotExist) {
			break
		}
		dst = filepath.Join(bucket, fmt.Sprintf("%s_%d%s", stem, i, ext))
	}
	if err := os.Rename(path, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func trashBucket(jobDir, runID string, now time.Time) string {
	return filepath.Join(jobDir, TrashDir, now.UTC().Format("2006-01-02T150405")+"-"+runID)
}

func derivedFiles(derivedDir, slotKey string) ([]string, error) {
	entries, err := os.ReadDir(derivedDir)
	if err != nil {
		return nil, fmt.Errorf("read derived dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		if strings.TrimSuffix(name, filepath.Ext(name)) == slotKey {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read raw dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func sameContent(a, b string) (bool, error) {
	ha, err := fileHash(a)
	if err != nil {
		return false, err
	}
	hb, err := fileHash(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func relPath(jobDir, path string) string {
	rel, err := filepath.Rel(jobDir, path)
	if err != nil {
		return path
	}
	return rel
}
