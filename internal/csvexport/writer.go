package csvexport

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"qcert/internal/domain"
)

// UTF-8 BOM bytes for Excel compatibility on Windows.
var BOM = []byte{0xEF, 0xBB, 0xBF}

// columns defines the CSV header row.
var columns = []string{
	"Run ID",
	"Job ID",
	"Started At",
	"Finished At",
	"Result",
	"Reject Reason",
	"Packet Hash",
	"Packet Full Hash",
	"Warning Count",
	"Warning Codes",
	"Override Count",
	"Override Keys",
	"Photos Processed",
	"Definition Version",
	"Schema Version",
}

// Writer wraps csv.Writer for exporting run records as CSV.
type Writer struct {
	csv *csv.Writer
}

// NewWriter creates a Writer that writes CSV to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{csv: csv.NewWriter(w)}
}

// WriteHeader writes the header row.
func (w *Writer) WriteHeader() error {
	return w.csv.Write(columns)
}

// WriteRuns converts a batch of run records to CSV rows and writes them.
func (w *Writer) WriteRuns(records []domain.RunRecord) error {
	for i := range records {
		if err := w.csv.Write(recordToRow(&records[i])); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes the underlying csv.Writer buffer.
func (w *Writer) Flush() {
	w.csv.Flush()
}

// Error returns any error from the underlying csv.Writer.
func (w *Writer) Error() error {
	return w.csv.Error()
}

func recordToRow(rec *domain.RunRecord) []string {
	row := make([]string, len(columns))
	row[0] = rec.RunID
	row[1] = rec.JobID
	row[2] = rec.StartedAt.Format(time.RFC3339)
	row[3] = rec.FinishedAt.Format(time.RFC3339)
	row[4] = string(rec.Result)
	row[5] = rec.RejectReason
	row[6] = rec.PacketHash
	row[7] = rec.PacketFullHash
	row[8] = strconv.Itoa(len(rec.Warnings))
	row[9] = joinWarningCodes(rec.Warnings)
	row[10] = strconv.Itoa(len(rec.Overrides))
	row[11] = joinOverrideKeys(rec.Overrides)
	row[12] = strconv.Itoa(len(rec.PhotoProcessing))
	row[13] = rec.DefinitionVersion
	row[14] = strconv.Itoa(rec.SchemaVersion)
	return row
}

// joinWarningCodes lists distinct warning codes in first-seen order.
func joinWarningCodes(ws []domain.Warning) string {
	seen := make(map[string]bool, len(ws))
	var codes []string
	for _, w := range ws {
		if !seen[w.Code] {
			seen[w.Code] = true
			codes = append(codes, w.Code)
		}
	}
	return strings.Join(codes, ";")
}

func joinOverrideKeys(apps []domain.OverrideApplication) string {
	keys := make([]string, len(apps))
	for i, a := range apps {
		keys[i] = a.Key
	}
	return strings.Join(keys, ";")
}

// nonAlphanumeric matches characters that are not alphanumeric, hyphen, or underscore.
var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// multiUnderscore matches consecutive underscores.
var multiUnderscore = regexp.MustCompile(`_{2,}`)

// SanitizeFilename cleans a job id for use in Content-Disposition.
// Replaces non-alphanumeric chars (except - _) with _, collapses consecutive
// underscores, and truncates to 100 chars.
func SanitizeFilename(name string) string {
	s := nonAlphanumeric.ReplaceAllString(name, "_")
	s = multiUnderscore.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}

// BuildFilename returns a sanitized filename for the Content-Disposition header.
// Format: {sanitized_job_id}_runs_{YYYY-MM-DD}.csv
func BuildFilename(jobID string) string {
	return fmt.Sprintf("%s_runs_%s.csv", SanitizeFilename(jobID), time.Now().Format("2006-01-02"))
}
