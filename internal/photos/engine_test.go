package photos

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcert/internal/contract"
	"qcert/internal/domain"
)

const testContract = `
version: "1"
fields:
  wo_no:
    type: token
    importance: critical
photos:
  allowed_extensions: ["jpg", "jpeg", "png"]
  prefer_order: ["jpg", "png"]
  slots:
    - key: front
      basename: front
      required: true
    - key: label
      basename: label
      required: true
      override_allowed: true
      ocr_keywords: ["lot", "serial"]
    - key: detail
      basename: detail
      required: false
`

type fakeOCR struct {
	text string
	err  error
}

func (f *fakeOCR) Probe(_ context.Context, _ string) (string, error) {
	return f.text, f.err
}

func testEngine(t *testing.T, ocr OCRProbe) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contract.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testContract), 0o644))
	c, err := contract.Load(path)
	require.NoError(t, err)
	return NewEngine(c, ocr)
}

func writeRaw(t *testing.T, jobDir string, name, content string) {
	t.Helper()
	dir := filepath.Join(jobDir, RawDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func entryFor(t *testing.T, res *Result, key string) domain.PhotoProcessingEntry {
	t.Helper()
	for _, e := range res.Entries {
		if e.SlotKey == key {
			return e
		}
	}
	t.Fatalf("no entry for slot %q", key)
	return domain.PhotoProcessingEntry{}
}

var testNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func TestProcess_ExactMatch(t *testing.T) {
	e := testEngine(t, nil)
	jobDir := t.TempDir()
	writeRaw(t, jobDir, "front.jpg", "front-bytes")

	res, err := e.Process(context.Background(), jobDir, "RUN-1", testNow)
	require.NoError(t, err)

	entry := entryFor(t, res, "front")
	assert.Equal(t, domain.PhotoMapped, entry.Action)
	assert.Equal(t, domain.ConfidenceHigh, entry.Confidence)
	assert.Equal(t, domain.MatchBasenameExact, entry.MatchedBy)
	assert.Equal(t, filepath.Join(DerivedDir, "front.jpg"), entry.DerivedPath)
	assert.True(t, res.Mapped["front"])
	assert.False(t, res.Mapped["label"])

	data, err := os.ReadFile(filepath.Join(jobDir, DerivedDir, "front.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "front-bytes", string(data))
}

func TestProcess_PrefixAndExactTiers(t *testing.T) {
	e := testEngine(t, nil)
	jobDir := t.TempDir()
	writeRaw(t, jobDir, "front_2024.jpg", "a")
	writeRaw(t, jobDir, "detail.png", "b")

	res, err := e.Process(context.Background(), jobDir, "RUN-1", testNow)
	require.NoError(t, err)

	front := entryFor(t, res, "front")
	assert.Equal(t, domain.PhotoMapped, front.Action)
	assert.Equal(t, domain.ConfidenceMedium, front.Confidence)
	assert.Equal(t, domain.MatchBasenamePrefix, front.MatchedBy)

	detail := entryFor(t, res, "detail")
	assert.Equal(t, domain.PhotoMapped, detail.Action)
	assert.Equal(t, domain.MatchBasenameExact, detail.MatchedBy)
}

func TestProcess_MissingSlot(t *testing.T) {
	e := testEngine(t, nil)
	res, err := e.Process(context.Background(), t.TempDir(), "RUN-1", testNow)
	require.NoError(t, err)

	for _, key := range []string{"front", "label", "detail"} {
		assert.Equal(t, domain.PhotoMissing, entryFor(t, res, key).Action, key)
	}
	assert.Empty(t, res.Mapped)
}

func TestProcess_DisallowedExtensionIgnored(t *testing.T) {
	e := testEngine(t, nil)
	jobDir := t.TempDir()
	writeRaw(t, jobDir, "front.gif", "x")

	res, err := e.Process(context.Background(), jobDir, "RUN-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, domain.PhotoMissing, entryFor(t, res, "front").Action)
}

func TestProcess_DuplicateTieBreak(t *testing.T) {
	e := testEngine(t, nil)
	jobDir := t.TempDir()
	writeRaw(t, jobDir, "front.png", "png-bytes")
	writeRaw(t, jobDir, "front.jpg", "jpg-bytes")

	res, err := e.Process(context.Background(), jobDir, "RUN-1", testNow)
	require.NoError(t, err)

	entry := entryFor(t, res, "front")
	assert.Equal(t, domain.PhotoMapped, entry.Action)
	assert.True(t, strings.HasSuffix(entry.DerivedPath, "front.jpg"), "prefer_order puts jpg first")

	var dup *domain.Warning
	for i := range res.Warnings {
		if res.Warnings[i].Code == domain.WarnPhotoDuplicateAutoSelected {
			dup = &res.Warnings[i]
		}
	}
	require.NotNil(t, dup)
	assert.Equal(t, "front.jpg", dup.ResolvedValue)
}

func TestProcess_AmbiguousCrossSlotMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contract.yaml")
	ambiguous := `
version: "1"
fields:
  wo_no:
    type: token
    importance: critical
photos:
  allowed_extensions: ["jpg"]
  slots:
    - key: side_left
      basename: side
      required: true
    - key: side_right
      basename: side
      required: true
`
	require.NoError(t, os.WriteFile(path, []byte(ambiguous), 0o644))
	c, err := contract.Load(path)
	require.NoError(t, err)
	e := NewEngine(c, nil)

	jobDir := t.TempDir()
	writeRaw(t, jobDir, "side.jpg", "x")

	res, err := e.Process(context.Background(), jobDir, "RUN-1", testNow)
	require.NoError(t, err)

	for _, key := range []string{"side_left", "side_right"} {
		entry := entryFor(t, res, key)
		assert.Equal(t, domain.PhotoMissing, entry.Action, key)
		assert.Equal(t, domain.ConfidenceAmbiguous, entry.Confidence, key)
	}
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, domain.WarnPhotoAmbiguousMatch, res.Warnings[0].Code)
}

func TestProcess_StrongerClaimWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contract.yaml")
	contended := `
version: "1"
fields:
  wo_no:
    type: token
    importance: critical
photos:
  allowed_extensions: ["jpg"]
  slots:
    - key: side
      basename: side
      required: false
    - key: side_wide
      basename: side_wide
      required: false
`
	require.NoError(t, os.WriteFile(path, []byte(contended), 0o644))
	c, err := contract.Load(path)
	require.NoError(t, err)
	e := NewEngine(c, nil)

	jobDir := t.TempDir()
	// exact for side_wide, prefix for side: the exact claim takes the file
	writeRaw(t, jobDir, "side_wide.jpg", "x")

	res, err := e.Process(context.Background(), jobDir, "RUN-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, domain.PhotoMissing, entryFor(t, res, "side").Action)

	wide := entryFor(t, res, "side_wide")
	assert.Equal(t, domain.PhotoMapped, wide.Action)
	assert.Equal(t, domain.MatchBasenameExact, wide.MatchedBy)
}

func TestProcess_RerunSkipsIdenticalContent(t *testing.T) {
	e := testEngine(t, nil)
	jobDir := t.TempDir()
	writeRaw(t, jobDir, "front.jpg", "stable")

	_, err := e.Process(context.Background(), jobDir, "RUN-1", testNow)
	require.NoError(t, err)

	res, err := e.Process(context.Background(), jobDir, "RUN-2", testNow.Add(time.Hour))
	require.NoError(t, err)
	entry := entryFor(t, res, "front")
	assert.Equal(t, domain.PhotoSkipped, entry.Action)
	assert.True(t, res.Mapped["front"], "skipped still counts as mapped")
}

func TestProcess_SupersededContentArchived(t *testing.T) {
	e := testEngine(t, nil)
	jobDir := t.TempDir()
	writeRaw(t, jobDir, "front.jpg", "old")

	_, err := e.Process(context.Background(), jobDir, "RUN-1", testNow)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(jobDir, RawDir, "front.jpg"), []byte("new"), 0o644))
	res, err := e.Process(context.Background(), jobDir, "RUN-2", testNow.Add(time.Hour))
	require.NoError(t, err)

	entry := entryFor(t, res, "front")
	assert.Equal(t, domain.PhotoMapped, entry.Action)
	require.NotEmpty(t, entry.ArchivedPath)

	archived, err := os.ReadFile(filepath.Join(jobDir, entry.ArchivedPath))
	require.NoError(t, err)
	assert.Equal(t, "old", string(archived))
	assert.Contains(t, entry.ArchivedPath, "RUN-2", "trash bucket carries the superseding run id")

	current, err := os.ReadFile(filepath.Join(jobDir, DerivedDir, "front.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(current))
}

func TestProcess_OCRUpgradesLabelConfidence(t *testing.T) {
	e := testEngine(t, &fakeOCR{text: "LOT 2024-06 serial 991"})
	jobDir := t.TempDir()
	writeRaw(t, jobDir, "label_A.jpg", "x")

	res, err := e.Process(context.Background(), jobDir, "RUN-1", testNow)
	require.NoError(t, err)

	entry := entryFor(t, res, "label")
	assert.Equal(t, domain.ConfidenceHigh, entry.Confidence)
	assert.True(t, entry.OCRVerified)
}

func TestProcess_OCRFailureLeavesConfidence(t *testing.T) {
	e := testEngine(t, &fakeOCR{err: os.ErrDeadlineExceeded})
	jobDir := t.TempDir()
	writeRaw(t, jobDir, "label_A.jpg", "x")

	res, err := e.Process(context.Background(), jobDir, "RUN-1", testNow)
	require.NoError(t, err)

	entry := entryFor(t, res, "label")
	assert.Equal(t, domain.ConfidenceMedium, entry.Confidence)
	assert.False(t, entry.OCRVerified)
	assert.Equal(t, domain.PhotoMapped, entry.Action, "OCR trouble never blocks mapping")
}

func TestSaveRaw(t *testing.T) {
	e := testEngine(t, nil)
	jobDir := t.TempDir()

	desc, err := e.SaveRaw(jobDir, "front.JPG", strings.NewReader("abc"), testNow)
	require.NoError(t, err)
	assert.Equal(t, "front.JPG", desc.OriginalName)
	assert.Equal(t, "front.JPG", desc.StoredName)
	assert.Equal(t, int64(3), desc.Size)
	assert.Equal(t, "image/jpeg", desc.ContentType)

	// same name again gets a collision suffix, never an overwrite
	again, err := e.SaveRaw(jobDir, "front.JPG", strings.NewReader("def"), testNow)
	require.NoError(t, err)
	assert.Equal(t, "front_1.JPG", again.StoredName)

	first, err := os.ReadFile(filepath.Join(jobDir, RawDir, "front.JPG"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(first))
}

func TestSaveRaw_UnsupportedExtension(t *testing.T) {
	e := testEngine(t, nil)
	_, err := e.SaveRaw(t.TempDir(), "report.pdf", strings.NewReader("x"), testNow)
	assert.ErrorIs(t, err, domain.ErrUnsupportedFileType)
}

func TestSlotStatuses(t *testing.T) {
	e := testEngine(t, nil)
	jobDir := t.TempDir()
	writeRaw(t, jobDir, "front.jpg", "x")

	_, err := e.Process(context.Background(), jobDir, "RUN-1", testNow)
	require.NoError(t, err)
	writeRaw(t, jobDir, "label.png", "y")

	statuses, err := e.SlotStatuses(jobDir)
	require.NoError(t, err)
	require.Len(t, statuses, 3)

	byKey := map[string]domain.SlotStatus{}
	for _, st := range statuses {
		byKey[st.SlotKey] = st
	}

	front := byKey["front"]
	assert.True(t, front.HasRaw)
	assert.True(t, front.HasDerived)
	assert.Equal(t, filepath.Join(DerivedDir, "front.jpg"), front.DerivedPath)

	label := byKey["label"]
	assert.True(t, label.HasRaw)
	assert.False(t, label.HasDerived)
	assert.True(t, label.OverrideAllowed)

	detail := byKey["detail"]
	assert.False(t, detail.HasRaw)
	assert.False(t, detail.HasDerived)
	assert.False(t, detail.Required)
}
