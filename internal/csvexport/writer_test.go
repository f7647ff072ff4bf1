package csvexport

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcert/internal/domain"
)

func sampleRecord() domain.RunRecord {
	started := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	return domain.RunRecord{
		RunID:          "RUN-20240601T090000-abc123",
		JobID:          "JOB-WO-1-A",
		StartedAt:      started,
		FinishedAt:     started.Add(2 * time.Second),
		Result:         domain.RunSuccess,
		PacketHash:     "aaaa",
		PacketFullHash: "bbbb",
		Warnings: []domain.Warning{
			{Code: "PHOTO_DUPLICATE_AUTO_SELECTED", FieldOrSlot: "front"},
			{Code: "PLACEHOLDER_UNRESOLVED", FieldOrSlot: "remarks"},
			{Code: "PHOTO_DUPLICATE_AUTO_SELECTED", FieldOrSlot: "label"},
		},
		Overrides: []domain.OverrideApplication{
			{Key: "front", Code: domain.OverrideMissingPhoto},
		},
		PhotoProcessing:   make([]domain.PhotoProcessingEntry, 2),
		DefinitionVersion: "1",
		SchemaVersion:     domain.SchemaVersion,
	}
}

func exportRows(t *testing.T, records []domain.RunRecord) [][]string {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteHeader())
	require.NoError(t, w.WriteRuns(records))
	w.Flush()
	require.NoError(t, w.Error())

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteRuns(t *testing.T) {
	rows := exportRows(t, []domain.RunRecord{sampleRecord()})
	require.Len(t, rows, 2)

	header := rows[0]
	assert.Equal(t, "Run ID", header[0])
	assert.Equal(t, "Schema Version", header[len(header)-1])

	row := rows[1]
	require.Len(t, row, len(header))
	assert.Equal(t, "RUN-20240601T090000-abc123", row[0])
	assert.Equal(t, "JOB-WO-1-A", row[1])
	assert.Equal(t, "2024-06-01T09:00:00Z", row[2])
	assert.Equal(t, string(domain.RunSuccess), row[4])
	assert.Equal(t, "", row[5])
	assert.Equal(t, "3", row[8])
	assert.Equal(t, "PHOTO_DUPLICATE_AUTO_SELECTED;PLACEHOLDER_UNRESOLVED", row[9], "codes deduplicated in first-seen order")
	assert.Equal(t, "1", row[10])
	assert.Equal(t, "front", row[11])
	assert.Equal(t, "2", row[12])
}

func TestWriteRuns_RejectedRun(t *testing.T) {
	rec := sampleRecord()
	rec.Result = domain.RunRejected
	rec.RejectReason = "PHOTO_REQUIRED_MISSING"
	rec.PacketHash = ""

	rows := exportRows(t, []domain.RunRecord{rec})
	row := rows[1]
	assert.Equal(t, string(domain.RunRejected), row[4])
	assert.Equal(t, "PHOTO_REQUIRED_MISSING", row[5])
	assert.Equal(t, "", row[6])
}

func TestWriteRuns_Empty(t *testing.T) {
	rows := exportRows(t, nil)
	assert.Len(t, rows, 1, "header only")
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"JOB-WO-1-A", "JOB-WO-1-A"},
		{"WO 2024/06 #1", "WO_2024_06_1"},
		{"__trim__", "trim"},
		{"한글 라인 A", "A"},
		{strings.Repeat("x", 150), strings.Repeat("x", 100)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), tt.in)
	}
}

func TestBuildFilename(t *testing.T) {
	name := BuildFilename("JOB WO-1/A")
	assert.True(t, strings.HasPrefix(name, "JOB_WO-1_A_runs_"))
	assert.True(t, strings.HasSuffix(name, ".csv"))
}
