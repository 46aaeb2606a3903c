package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/nextconvert/assembler/internal/shared/config"
)

// S3Backend stores objects in an S3-compatible bucket (AWS S3, MinIO, R2).
// Backend paths are object keys of the form "<zone>/<name>".
type S3Backend struct {
	client *s3.Client
	bucket string
}

// NewS3Backend creates a new S3 storage backend
func NewS3Backend(cfg config.StorageConfig) (*S3Backend, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required for s3 storage backend")
	}

	awsCfg, err := loadAWSConfig(cfg)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// MinIO and most S3-compatible services need path-style addressing.
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Backend{client: client, bucket: cfg.S3Bucket}, nil
}

// loadAWSConfig uses static credentials when both keys are set and the
// default credential chain otherwise.
func loadAWSConfig(cfg config.StorageConfig) (aws.Config, error) {
	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

func (b *S3Backend) Store(ctx context.Context, zone Zone, filename string, reader io.Reader) (string, error) {
	key := path.Join(string(zone), filename)

	body, size, release, err := sized(reader)
	if err != nil {
		return "", err
	}
	defer release()

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType(filename)),
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload of %s failed: %w", key, err)
	}
	return key, nil
}

func (b *S3Backend) Retrieve(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("s3 object %s: %w", key, os.ErrNotExist)
		}
		return nil, fmt.Errorf("s3 download of %s failed: %w", key, err)
	}
	return resp.Body, nil
}

func (b *S3Backend) GetSize(ctx context.Context, key string) (int64, error) {
	resp, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return 0, fmt.Errorf("s3 object %s: %w", key, os.ErrNotExist)
		}
		return 0, fmt.Errorf("s3 head of %s failed: %w", key, err)
	}
	return aws.ToInt64(resp.ContentLength), nil
}

// Locate returns key unchanged: S3 paths are object keys.
func (b *S3Backend) Locate(key string) string {
	return key
}

// sized returns a body with a known length, which PutObject needs.
// Seekable readers (files, multipart parts) are measured in place; anything
// else is spooled to a temp file that release removes.
func sized(reader io.Reader) (io.Reader, int64, func(), error) {
	noop := func() {}
	if seeker, ok := reader.(io.ReadSeeker); ok {
		current, err := seeker.Seek(0, io.SeekCurrent)
		if err == nil {
			end, err := seeker.Seek(0, io.SeekEnd)
			if err == nil {
				if _, err := seeker.Seek(current, io.SeekStart); err == nil {
					return seeker, end - current, noop, nil
				}
			}
		}
	}

	tmp, err := os.CreateTemp("", "s3-upload-*")
	if err != nil {
		return nil, 0, noop, fmt.Errorf("failed to create temp file: %w", err)
	}
	release := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}
	n, err := io.Copy(tmp, reader)
	if err == nil {
		_, err = tmp.Seek(0, io.SeekStart)
	}
	if err != nil {
		release()
		return nil, 0, noop, fmt.Errorf("failed to buffer upload: %w", err)
	}
	return tmp, n, release, nil
}

// contentType picks the object Content-Type from the file extension.
func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	}
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// isNotFoundError checks if the error is an S3 not-found error
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	// Some S3-compatible services only surface the status code
	return strings.Contains(err.Error(), "StatusCode: 404")
}
