// utils/archive.go
package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"reward-sync-system/models"
)

// QuarantineArchive uploads permanently-failed events to R2 so they stay
// auditable off-device after the retry cap is hit.
type QuarantineArchive struct {
	client *s3.Client
	bucket string
}

// NewQuarantineArchive builds the archive from R2 env vars. Returns (nil, nil)
// when R2_BUCKET_NAME is unset — archiving is optional and the quarantine path
// still reports through the error channel without it.
func NewQuarantineArchive() (*QuarantineArchive, error) {
	bucket := os.Getenv("R2_BUCKET_NAME")
	if bucket == "" {
		return nil, nil
	}
	accountID := os.Getenv("CLOUDFLARE_ACCOUNT_ID")
	accessKeyID := os.Getenv("R2_ACCESS_KEY_ID")
	accessKeySecret := os.Getenv("R2_ACCESS_KEY_SECRET")

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID, accessKeySecret, "",
		)),
		config.WithEndpointResolver(aws.EndpointResolverFunc(
			func(service, region string) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID),
				}, nil
			}),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	return &QuarantineArchive{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// ArchiveEvent writes the event as JSON under quarantine/<student>/<event>.json.
func (a *QuarantineArchive) ArchiveEvent(ctx context.Context, ev models.GameEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", ev.ID, err)
	}

	key := fmt.Sprintf("quarantine/%s/%s.json", ev.StudentID, ev.ID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload quarantined event %s: %w", ev.ID, err)
	}
	return nil
}
