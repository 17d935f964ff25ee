package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Store persists run reports.
type Store interface {
	Save(ctx context.Context, r *RunReport) error
}

func encode(r *RunReport) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return append(data, '\n'), nil
}

// DirStore writes reports as JSON files below a local directory.
type DirStore struct {
	Dir string
}

func (s DirStore) Save(_ context.Context, r *RunReport) error {
	data, err := encode(r)
	if err != nil {
		return err
	}
	p := filepath.Join(s.Dir, r.Key())
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", p, err)
	}
	return nil
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config addresses an S3-compatible bucket.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

// S3Store uploads reports to an S3-compatible bucket.
type S3Store struct {
	logger zerolog.Logger
	client objectPutter
	bucket string
	prefix string
}

// NewS3Store creates an uploader with static credentials and path-style
// addressing.
func NewS3Store(logger zerolog.Logger, cfg S3Config) *S3Store {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return &S3Store{
		logger: logger.With().Str("component", "report-s3").Logger(),
		client: s3.New(opts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}
}

func (s *S3Store) Save(ctx context.Context, r *RunReport) error {
	data, err := encode(r)
	if err != nil {
		return err
	}
	key := r.Key()
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload report to s3://%s/%s: %w", s.bucket, key, err)
	}
	s.logger.Info().Str("bucket", s.bucket).Str("key", key).Msg("report uploaded")
	return nil
}

// MultiStore saves to every store and reports all failures.
type MultiStore []Store

func (m MultiStore) Save(ctx context.Context, r *RunReport) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
