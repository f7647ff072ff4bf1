package photos

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// PurgeRoot runs the per-job purge over every job directory under
// jobsRoot, then enforces the TotalBytes quota across the root by evicting
// the globally oldest surviving buckets. Per-job MinKeepCount still holds.
// jobFilter, when non-empty, restricts the pass to one job directory.
func (p *Purger) PurgeRoot(ctx context.Context, jobsRoot string, now time.Time, execute bool, jobFilter string) (PurgeStats, error) {
	entries, err := os.ReadDir(jobsRoot)
	if err != nil {
		return PurgeStats{}, fmt.Errorf("read jobs root: %w", err)
	}

	var total PurgeStats
	type jobBucket struct {
		jobDir string
		bucket
	}
	var survivors []jobBucket
	perJobCount := map[string]int{}

	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if jobFilter != "" && e.Name() != jobFilter {
			continue
		}
		jobDir := filepath.Join(jobsRoot, e.Name())

		stats, err := p.PurgeJob(ctx, jobDir, now, execute)
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", e.Name(), err)
		}
		total.ScannedBuckets += stats.ScannedBuckets
		total.ScannedBytes += stats.ScannedBytes
		total.PurgedBuckets += stats.PurgedBuckets
		total.PurgedBytes += stats.PurgedBytes

		remaining, err := p.listBuckets(jobDir)
		if err != nil {
			return total, err
		}
		for _, b := range remaining {
			survivors = append(survivors, jobBucket{jobDir: jobDir, bucket: b})
			perJobCount[jobDir]++
		}
	}

	if p.policy.TotalBytes <= 0 {
		return total, nil
	}

	var totalSize int64
	for _, jb := range survivors {
		totalSize += jb.size
	}
	sort.Slice(survivors, func(i, j int) bool { return survivors[i].at.Before(survivors[j].at) })

	for _, jb := range survivors {
		if totalSize <= p.policy.TotalBytes {
			break
		}
		if perJobCount[jb.jobDir] <= p.policy.MinKeepCount {
			continue
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
		if execute {
			if err := p.evict(ctx, jb.jobDir, jb.bucket); err != nil {
				return total, err
			}
		}
		perJobCount[jb.jobDir]--
		totalSize -= jb.size
		total.PurgedBuckets++
		total.PurgedBytes += jb.size
	}
	return total, nil
}
