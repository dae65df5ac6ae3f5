package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"vault_router/internal/utils"
)

// S3Writer writes audit event batches to S3 as JSON Lines objects.
type S3Writer struct {
	client   *s3.Client
	bucket   string
	prefix   string
	instance string
	logger   *utils.Logger
}

// NewS3Writer creates an S3-backed batch writer.
func NewS3Writer(ctx context.Context, bucket, region, prefix, instance string) (*S3Writer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Writer{
		client:   s3.NewFromConfig(cfg),
		bucket:   bucket,
		prefix:   prefix,
		instance: instance,
		logger:   utils.NewLogger("audit-s3"),
	}, nil
}

// WriteBatch uploads a batch as one JSONL object. The key embeds date,
// instance name and a nanosecond suffix so concurrent writers never
// collide.
func (w *S3Writer) WriteBatch(ctx context.Context, events []*Event) (string, error) {
	if len(events) == 0 {
		return "", nil
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("%s%04d/%02d/%02d/%s-%s-%d.jsonl",
		w.prefix,
		now.Year(),
		now.Month(),
		now.Day(),
		w.instance,
		now.Format("20060102-150405"),
		now.Nanosecond(),
	)

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			w.logger.Error("Failed to encode audit event", "error", err)
			continue
		}
	}

	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload audit batch: %w", err)
	}

	w.logger.Info("Wrote audit batch", "key", key, "count", len(events))
	return key, nil
}
