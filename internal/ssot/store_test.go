package ssot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcert/internal/domain"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), time.Millisecond, 3)
}

func TestSanitizeIDPart(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"WO-2024-001", "WO_2024_001"},
		{"line a", "line_a"},
		{"A--B  C", "A_B_C"},
		{"작업지시", "UNKNOWN"},
		{"", "UNKNOWN"},
		{"__x__", "x"},
		{"abcdefghijklmnopqrstuvwxyz", "abcdefghijklmnopqrst"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeIDPart(tt.in), tt.in)
	}
}

func TestJobID_StableAndDistinct(t *testing.T) {
	a := JobID("WO-1", "A")
	b := JobID("WO-1", "A")
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "JOB-WO_1-A-"))

	// values that sanitize identically stay distinct through the hash
	c := JobID("WO 1", "A")
	assert.NotEqual(t, a, c)
}

func TestNewRunID(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	id := NewRunID(now)
	assert.True(t, strings.HasPrefix(id, "RUN-20240601093000-"))
	assert.NotEqual(t, id, NewRunID(now))
}

func TestAcquireRelease(t *testing.T) {
	s := testStore(t)
	jobDir := s.JobDir("WO-1", "A")

	lock, err := s.Acquire(context.Background(), jobDir)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(jobDir, ".job_json.lock"))
	require.NoError(t, err)

	lock.Release()
	_, err = os.Stat(filepath.Join(jobDir, ".job_json.lock"))
	assert.True(t, os.IsNotExist(err))

	// double release is a no-op
	lock.Release()
}

func TestAcquire_Timeout(t *testing.T) {
	s := testStore(t)
	jobDir := s.JobDir("WO-1", "A")

	held, err := s.Acquire(context.Background(), jobDir)
	require.NoError(t, err)
	defer held.Release()

	_, err = s.Acquire(context.Background(), jobDir)
	require.Error(t, err)
	assert.Equal(t, domain.CodeJobJSONLockTimeout, domain.RejectCode(err))
}

func TestAcquire_ContextCancelled(t *testing.T) {
	s := NewStore(t.TempDir(), time.Second, 100)
	jobDir := s.JobDir("WO-1", "A")

	held, err := s.Acquire(context.Background(), jobDir)
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Acquire(ctx, jobDir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnsureIdentity_CreateThenReuse(t *testing.T) {
	s := testStore(t)
	jobDir := s.JobDir("WO-1", "A")
	require.NoError(t, os.MkdirAll(jobDir, 0o755))
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	id, created, err := s.EnsureIdentity(jobDir, "WO-1", "A", now)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, JobID("WO-1", "A"), id.JobID)
	assert.Equal(t, domain.JobIDVersion, id.JobIDVersion)
	assert.Equal(t, now, id.CreatedAt)

	again, created, err := s.EnsureIdentity(jobDir, "WO-1", "A", now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id.JobID, again.JobID)
	assert.Equal(t, now, again.CreatedAt, "identity is immutable once written")
}

func TestEnsureIdentity_Mismatch(t *testing.T) {
	s := testStore(t)
	jobDir := s.JobDir("WO-1", "A")
	require.NoError(t, os.MkdirAll(jobDir, 0o755))

	_, _, err := s.EnsureIdentity(jobDir, "WO-1", "A", time.Now().UTC())
	require.NoError(t, err)

	_, _, err = s.EnsureIdentity(jobDir, "WO-2", "A", time.Now().UTC())
	require.Error(t, err)
	assert.Equal(t, domain.CodePacketJobMismatch, domain.RejectCode(err))
}

func TestEnsureIdentity_Corrupt(t *testing.T) {
	s := testStore(t)
	jobDir := s.JobDir("WO-1", "A")
	require.NoError(t, os.MkdirAll(jobDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(jobDir, "job.json"), []byte("{nope"), 0o644))

	_, _, err := s.EnsureIdentity(jobDir, "WO-1", "A", time.Now().UTC())
	require.Error(t, err)
	assert.Equal(t, domain.CodeJobJSONCorrupt, domain.RejectCode(err))
}

func TestReadIdentity(t *testing.T) {
	s := testStore(t)
	jobDir := s.JobDir("WO-1", "A")

	_, err := s.ReadIdentity(jobDir)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	require.NoError(t, os.MkdirAll(jobDir, 0o755))
	_, _, err = s.EnsureIdentity(jobDir, "WO-1", "A", time.Now().UTC())
	require.NoError(t, err)

	id, err := s.ReadIdentity(jobDir)
	require.NoError(t, err)
	assert.Equal(t, "WO-1", id.WONo)
	assert.Equal(t, "A", id.Line)
}
