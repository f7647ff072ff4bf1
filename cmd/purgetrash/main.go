package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"qcert/internal/config"
	"qcert/internal/domain"
	"qcert/internal/photos"
	s3storage "qcert/internal/storage/s3"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	execute := flag.Bool("execute", false, "apply the purge; without this flag the pass is a dry run")
	jobFilter := flag.String("job", "", "restrict the pass to one job directory name")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	policy := photos.RetentionPolicy{
		Days:         cfg.Retention.Days,
		PerJobBytes:  cfg.Retention.PerJobBytes,
		TotalBytes:   cfg.Retention.TotalBytes,
		MinKeepCount: cfg.Retention.MinKeepCount,
		Mode:         domain.PurgeMode(cfg.Retention.Mode),
		ArchiveDir:   cfg.Retention.ArchiveDir,
	}

	var shipper photos.Shipper
	if policy.Mode == domain.PurgeExternal {
		s, err := s3storage.NewShipper(&cfg.S3)
		if err != nil {
			return fmt.Errorf("failed to initialize archive shipper: %w", err)
		}
		shipper = s
	}

	purger := photos.NewPurger(policy, shipper)

	stats, err := purger.PurgeRoot(context.Background(), cfg.Paths.JobsRoot, time.Now().UTC(), *execute, *jobFilter)
	if err != nil {
		return fmt.Errorf("purge pass failed: %w", err)
	}

	verb := "would purge"
	if *execute {
		verb = "purged"
	}
	fmt.Printf("scanned %d buckets (%s), %s %d buckets (%s)\n",
		stats.ScannedBuckets, formatBytes(stats.ScannedBytes),
		verb,
		stats.PurgedBuckets, formatBytes(stats.PurgedBytes),
	)
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
