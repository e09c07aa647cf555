// Package share publishes completed analysis results to an S3-compatible
// bucket and hands back a link to them.
package share

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"acp-broker/internal/entity"
)

type Config struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	Bucket      string
	UseSSL      bool
	ExpireHours int
}

func (c Config) Enabled() bool { return c.Endpoint != "" && c.Bucket != "" }

type Uploader struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

func NewUploader(cfg Config) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	hours := cfg.ExpireHours
	if hours <= 0 {
		hours = 24 * 7
	}
	return &Uploader{client: client, bucket: cfg.Bucket, expiry: time.Duration(hours) * time.Hour}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

type document struct {
	JobID       string              `json:"job_id"`
	Username    string              `json:"username"`
	Seller      string              `json:"seller"`
	Price       int64               `json:"price"`
	CompletedAt time.Time           `json:"completed_at"`
	Analysis    *entity.Deliverable `json:"analysis"`
}

// ObjectName is where a job's result lands: analysis_<username>_<job id>.json.
func ObjectName(job *entity.Job) string {
	return fmt.Sprintf("analysis_%s_%s.json", job.Requirements.Username, job.ID)
}

// Upload stores the job's deliverable as JSON and returns a presigned GET URL.
func (u *Uploader) Upload(ctx context.Context, job *entity.Job) (string, error) {
	if job.Deliverable == nil {
		return "", fmt.Errorf("job %s has no deliverable", job.ID)
	}
	body, err := json.MarshalIndent(document{
		JobID:       job.ID.String(),
		Username:    job.Requirements.Username,
		Seller:      job.Seller,
		Price:       job.Price,
		CompletedAt: job.UpdatedAt,
		Analysis:    job.Deliverable,
	}, "", "  ")
	if err != nil {
		return "", err
	}

	name := ObjectName(job)
	if _, err := u.client.PutObject(ctx, u.bucket, name, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	}); err != nil {
		return "", fmt.Errorf("failed to upload result: %w", err)
	}

	url, err := u.client.PresignedGetObject(ctx, u.bucket, name, u.expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url.String(), nil
}
