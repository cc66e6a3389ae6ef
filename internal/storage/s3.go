package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/dermatrack/api/config"
)

// S3Store persists images in an object-storage bucket. When a public base
// URL is configured, references are full CDN URLs; otherwise they are
// "s3://bucket/key" and only resolvable through this store.
type S3Store struct {
	client   *s3.Client
	bucket   string
	prefix   string
	baseURL  string
	maxBytes int64
	log      *zap.Logger
}

func NewS3Store(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &S3Store{
		client:   s3.NewFromConfig(awsCfg),
		bucket:   cfg.S3Bucket,
		prefix:   strings.Trim(cfg.S3Prefix, "/"),
		baseURL:  strings.TrimRight(cfg.S3PublicBaseURL, "/"),
		maxBytes: cfg.MaxUploadBytes,
		log:      log,
	}, nil
}

func (s *S3Store) Store(ctx context.Context, filename, contentType string, r io.Reader) (string, error) {
	if err := checkContentType(contentType); err != nil {
		return "", err
	}

	// Buffer the body so the size cap is enforced before anything is sent.
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return "", ErrFileTooLarge
	}

	key := path.Join(s.prefix, objectName(filename))
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("uploading image to s3: %w", err)
	}

	ref := s.refForKey(key)
	s.log.Debug("image stored in s3", zap.String("ref", ref), zap.Int("bytes", len(data)))
	return ref, nil
}

func (s *S3Store) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	key, err := s.keyForRef(ref)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrImageNotFound
		}
		return nil, fmt.Errorf("fetching image from s3: %w", err)
	}
	return out.Body, nil
}

func (s *S3Store) Delete(ctx context.Context, ref string) error {
	key, err := s.keyForRef(ref)
	if err != nil {
		return err
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("deleting image from s3: %w", err)
	}
	return nil
}

func (s *S3Store) refForKey(key string) string {
	if s.baseURL != "" {
		return s.baseURL + "/" + key
	}
	return "s3://" + s.bucket + "/" + key
}

func (s *S3Store) keyForRef(ref string) (string, error) {
	switch {
	case s.baseURL != "" && strings.HasPrefix(ref, s.baseURL+"/"):
		return strings.TrimPrefix(ref, s.baseURL+"/"), nil
	case strings.HasPrefix(ref, "s3://"+s.bucket+"/"):
		return strings.TrimPrefix(ref, "s3://"+s.bucket+"/"), nil
	default:
		return "", ErrImageNotFound
	}
}
