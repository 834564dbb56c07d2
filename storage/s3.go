package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"imagehub/config"
)

// ErrNotFound is returned when the requested object does not exist in the
// bucket.
var ErrNotFound = errors.New("object not found")

const (
	putAttempts  = 3
	retryBackoff = 200 * time.Millisecond
)

// Store wraps the S3 client with the handful of operations the service
// needs: durable byte storage plus access-URL generation. URL generation is
// either presigned-temporary or permanent-public depending on the
// configured mode.
type Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	region  string
	mode    string
	ttl     time.Duration
}

// New builds a Store from the default AWS credential chain.
func New(ctx context.Context, cfg *config.Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return &Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.BucketName,
		region:  cfg.AWSRegion,
		mode:    cfg.URLMode,
		ttl:     cfg.SignedURLTTL,
	}, nil
}

// Put writes data under key. Transient failures are retried a bounded
// number of times; keys are always freshly generated so overwrites never
// happen in practice.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	var err error
	for attempt := 0; attempt < putAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff << attempt):
			}
		}
		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
		})
		if err == nil {
			return nil
		}
	}
	return fmt.Errorf("put %s: %w", key, err)
}

// Get downloads the object stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Exists reports whether an object is stored under key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, _, err := s.Head(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Head returns the size and content type of the object under key without
// downloading it.
func (s *Store) Head(ctx context.Context, key string) (int64, string, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return 0, "", ErrNotFound
		}
		return 0, "", fmt.Errorf("head %s: %w", key, err)
	}
	return aws.ToInt64(out.ContentLength), aws.ToString(out.ContentType), nil
}

// Delete removes the object under key. Used for compensating cleanup when a
// catalog write fails after the blob landed.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// AccessURL returns a URL granting read access to key: a presigned GET with
// the configured TTL in signed mode, the permanent object URL in public
// mode.
func (s *Store) AccessURL(ctx context.Context, key string) (string, error) {
	if s.mode == config.URLModePublic {
		return s.PublicURL(key), nil
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.ttl
	})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

// PublicURL returns the permanent unsigned object URL.
func (s *Store) PublicURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// BlobNameFromURL extracts the object key from a stored access URL. Legacy
// catalog records carry only the URL. Handles both virtual-host style
// (bucket in the host) and path-style (bucket as the first path segment)
// URLs; a bare key passes through unchanged.
func (s *Store) BlobNameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	name := strings.TrimPrefix(u.Path, "/")
	name = strings.TrimPrefix(name, s.bucket+"/")
	return name
}
