package sink

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"logsentinel/internal/config"
	"logsentinel/internal/metrics"
)

// S3Putter uploads archive objects to one bucket.
type S3Putter struct {
	client  *s3.Client
	bucket  string
	timeout time.Duration
}

// NewS3Putter loads the default AWS credential chain for the configured region.
// SDK retries are disabled; the archive applies its own policy.
func NewS3Putter(ctx context.Context, cfg *config.S3Config, timeout time.Duration) (*S3Putter, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
	})

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &S3Putter{client: client, bucket: cfg.Bucket, timeout: timeout}, nil
}

// PutObject performs a single upload bounded by the putter's timeout.
func (p *S3Putter) PutObject(ctx context.Context, key string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(p.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentLength:   aws.Int64(int64(len(body))),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
	})
	metrics.StorageOperationLatency.WithLabelValues("s3", "write").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StorageOperationsTotal.WithLabelValues("s3", "write", "failure").Inc()
		return err
	}
	metrics.StorageOperationsTotal.WithLabelValues("s3", "write", "success").Inc()
	return nil
}
