package s3

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"qcert/internal/config"
	"qcert/internal/domain"
)

// Shipper copies expired trash buckets into an S3 bucket before the purger
// removes them locally. It backs the "external" retention mode.
type Shipper struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewShipper creates an S3-backed trash shipper.
func NewShipper(cfg *config.S3Config) (*Shipper, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 shipper: bucket not configured")
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	return &Shipper{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
	}, nil
}

// ShipBucket uploads every file under bucketPath, preserving the relative
// layout under keyPrefix. Any failed upload aborts the ship so the local
// bucket is kept.
func (s *Shipper) ShipBucket(ctx context.Context, bucketPath, keyPrefix string) error {
	count := 0
	err := filepath.WalkDir(bucketPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(bucketPath, path)
		if err != nil {
			return err
		}
		if err := s.uploadFile(ctx, path, keyPrefix+"/"+filepath.ToSlash(rel)); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("shipping %s: %w", bucketPath, err)
	}
	log.Printf("s3.Shipper: shipped %d files from %s to s3://%s/%s", count, bucketPath, s.bucket, keyPrefix)
	return nil
}

func (s *Shipper) uploadFile(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(domain.ContentTypeFor(filepath.Ext(path))),
	})
	if err != nil {
		return fmt.Errorf("s3 upload %s: %w", key, err)
	}
	return nil
}
