package photos

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcert/internal/domain"
)

func writeBucket(t *testing.T, jobDir string, at time.Time, runID string, bytes int) string {
	t.Helper()
	name := at.UTC().Format("2006-01-02T150405") + "-" + runID
	dir := filepath.Join(jobDir, TrashDir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "front.jpg"), make([]byte, bytes), 0o644))
	return name
}

func bucketNames(t *testing.T, jobDir string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(jobDir, TrashDir))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestPurgeJob_AgeExpiry(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	jobDir := t.TempDir()
	old := writeBucket(t, jobDir, now.AddDate(0, 0, -40), "RUN-old", 10)
	fresh := writeBucket(t, jobDir, now.AddDate(0, 0, -5), "RUN-fresh", 10)

	p := NewPurger(RetentionPolicy{Days: 30, Mode: domain.PurgeDelete}, nil)
	stats, err := p.PurgeJob(context.Background(), jobDir, now, true)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ScannedBuckets)
	assert.Equal(t, 1, stats.PurgedBuckets)
	assert.Equal(t, int64(10), stats.PurgedBytes)

	names := bucketNames(t, jobDir)
	assert.NotContains(t, names, old)
	assert.Contains(t, names, fresh)
}

func TestPurgeJob_DryRun(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	jobDir := t.TempDir()
	old := writeBucket(t, jobDir, now.AddDate(0, 0, -40), "RUN-old", 10)

	p := NewPurger(RetentionPolicy{Days: 30, Mode: domain.PurgeDelete}, nil)
	stats, err := p.PurgeJob(context.Background(), jobDir, now, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PurgedBuckets, "dry run still counts victims")
	assert.Contains(t, bucketNames(t, jobDir), old, "dry run removes nothing")
}

func TestPurgeJob_MinKeepProtectsNewest(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	jobDir := t.TempDir()
	writeBucket(t, jobDir, now.AddDate(0, 0, -50), "RUN-a", 10)
	kept := writeBucket(t, jobDir, now.AddDate(0, 0, -45), "RUN-b", 10)

	p := NewPurger(RetentionPolicy{Days: 30, MinKeepCount: 1, Mode: domain.PurgeDelete}, nil)
	stats, err := p.PurgeJob(context.Background(), jobDir, now, true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PurgedBuckets)
	assert.Contains(t, bucketNames(t, jobDir), kept, "newest bucket survives even when age-expired")
}

func TestPurgeJob_SizePressureEvictsOldestFirst(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	jobDir := t.TempDir()
	oldest := writeBucket(t, jobDir, now.AddDate(0, 0, -3), "RUN-a", 100)
	middle := writeBucket(t, jobDir, now.AddDate(0, 0, -2), "RUN-b", 100)
	newest := writeBucket(t, jobDir, now.AddDate(0, 0, -1), "RUN-c", 100)

	// nothing is age-expired; the 250-byte cap forces one eviction
	p := NewPurger(RetentionPolicy{Days: 30, PerJobBytes: 250, MinKeepCount: 1, Mode: domain.PurgeDelete}, nil)
	stats, err := p.PurgeJob(context.Background(), jobDir, now, true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PurgedBuckets)

	names := bucketNames(t, jobDir)
	assert.NotContains(t, names, oldest)
	assert.Contains(t, names, middle)
	assert.Contains(t, names, newest)
}

func TestPurgeJob_CompressMode(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	jobDir := t.TempDir()
	name := writeBucket(t, jobDir, now.AddDate(0, 0, -40), "RUN-old", 10)

	p := NewPurger(RetentionPolicy{Days: 30, Mode: domain.PurgeCompress}, nil)
	_, err := p.PurgeJob(context.Background(), jobDir, now, true)
	require.NoError(t, err)

	assert.Empty(t, bucketNames(t, jobDir))

	archives, err := os.ReadDir(filepath.Join(jobDir, ArchiveDir))
	require.NoError(t, err)
	require.Len(t, archives, 1)

	f, err := os.Open(filepath.Join(jobDir, ArchiveDir, archives[0].Name()))
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, name+"/front.jpg", hdr.Name)
	data, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Len(t, data, 10)
	_, err = tr.Next()
	assert.Equal(t, io.EOF, err)
}

type recordingShipper struct {
	keys []string
	err  error
}

func (r *recordingShipper) ShipBucket(_ context.Context, _ string, key string) error {
	if r.err != nil {
		return r.err
	}
	r.keys = append(r.keys, key)
	return nil
}

func TestPurgeJob_ExternalMode(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	jobDir := t.TempDir()
	name := writeBucket(t, jobDir, now.AddDate(0, 0, -40), "RUN-old", 10)

	shipper := &recordingShipper{}
	p := NewPurger(RetentionPolicy{Days: 30, Mode: domain.PurgeExternal}, shipper)
	_, err := p.PurgeJob(context.Background(), jobDir, now, true)
	require.NoError(t, err)

	require.Len(t, shipper.keys, 1)
	assert.Equal(t, filepath.Base(jobDir)+"/"+name, shipper.keys[0])
	assert.Empty(t, bucketNames(t, jobDir))
}

func TestPurgeJob_ExternalModeWithoutShipper(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	jobDir := t.TempDir()
	name := writeBucket(t, jobDir, now.AddDate(0, 0, -40), "RUN-old", 10)

	p := NewPurger(RetentionPolicy{Days: 30, Mode: domain.PurgeExternal}, nil)
	_, err := p.PurgeJob(context.Background(), jobDir, now, true)
	require.Error(t, err)
	assert.Contains(t, bucketNames(t, jobDir), name, "failed shipment leaves the bucket in place")
}

func TestPurgeJob_NoTrashDir(t *testing.T) {
	p := NewPurger(RetentionPolicy{Days: 30, Mode: domain.PurgeDelete}, nil)
	stats, err := p.PurgeJob(context.Background(), t.TempDir(), time.Now().UTC(), true)
	require.NoError(t, err)
	assert.Zero(t, stats.ScannedBuckets)
}

func TestPurgeRoot_TotalQuota(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	root := t.TempDir()
	jobA := filepath.Join(root, "JOB-A")
	jobB := filepath.Join(root, "JOB-B")

	oldest := writeBucket(t, jobA, now.AddDate(0, 0, -3), "RUN-a1", 100)
	writeBucket(t, jobA, now.AddDate(0, 0, -1), "RUN-a2", 100)
	writeBucket(t, jobB, now.AddDate(0, 0, -2), "RUN-b1", 100)

	// no age or per-job pressure; the root-wide cap evicts the global oldest
	p := NewPurger(RetentionPolicy{Days: 30, TotalBytes: 250, MinKeepCount: 1, Mode: domain.PurgeDelete}, nil)
	stats, err := p.PurgeRoot(context.Background(), root, now, true, "")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.ScannedBuckets)
	assert.Equal(t, 1, stats.PurgedBuckets)

	assert.NotContains(t, bucketNames(t, jobA), oldest)
	assert.Len(t, bucketNames(t, jobA), 1)
	assert.Len(t, bucketNames(t, jobB), 1)
}

func TestPurgeRoot_JobFilter(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	root := t.TempDir()
	jobA := filepath.Join(root, "JOB-A")
	jobB := filepath.Join(root, "JOB-B")
	writeBucket(t, jobA, now.AddDate(0, 0, -40), "RUN-a", 10)
	untouched := writeBucket(t, jobB, now.AddDate(0, 0, -40), "RUN-b", 10)

	p := NewPurger(RetentionPolicy{Days: 30, Mode: domain.PurgeDelete}, nil)
	stats, err := p.PurgeRoot(context.Background(), root, now, true, "JOB-A")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PurgedBuckets)
	assert.Empty(t, bucketNames(t, jobA))
	assert.Contains(t, bucketNames(t, jobB), untouched)
}
