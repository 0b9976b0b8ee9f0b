package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// s3PartSize bounds the memory a streaming PutObject buffers per upload.
const s3PartSize = 5 * 1024 * 1024

// S3Config holds the connection settings for an S3-compatible backend.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

// S3Store stores uploads as objects named {uploadID} in a single bucket.
type S3Store struct {
	client *minio.Client
	bucket string
}

// NewS3Store creates a MinIO client for the configured endpoint.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid s3 endpoint: %w", err)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// EnsureReady creates the bucket if it doesn't exist.
func (s *S3Store) EnsureReady(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Create starts a streaming PutObject. The object is complete once the
// returned writer is closed without error.
func (s *S3Store) Create(ctx context.Context, uploadID string) (io.WriteCloser, error) {
	if err := validateID(uploadID); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	done := make(chan error, 1)

	go func() {
		_, err := s.client.PutObject(ctx, s.bucket, uploadID, pr, -1, minio.PutObjectOptions{
			ContentType: "application/octet-stream",
			PartSize:    s3PartSize,
		})
		pr.CloseWithError(err)
		done <- err
	}()

	return &objectWriter{pw: pw, done: done, uploadID: uploadID}, nil
}

// Open returns a reader for the stored object.
func (s *S3Store) Open(ctx context.Context, uploadID string) (io.ReadCloser, error) {
	if err := validateID(uploadID); err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, uploadID, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", uploadID, err)
	}

	// GetObject is lazy; Stat surfaces a missing key before any read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("upload %s: %w", uploadID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stat object %s: %w", uploadID, err)
	}
	return obj, nil
}

// Digest streams the object through SHA-256.
func (s *S3Store) Digest(ctx context.Context, uploadID string) (string, error) {
	obj, err := s.Open(ctx, uploadID)
	if err != nil {
		return "", err
	}
	defer obj.Close()

	return digestReader(obj)
}

// Delete removes the object.
func (s *S3Store) Delete(ctx context.Context, uploadID string) error {
	if err := validateID(uploadID); err != nil {
		return err
	}

	err := s.client.RemoveObject(ctx, s.bucket, uploadID, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("failed to delete object %s: %w", uploadID, err)
	}
	return nil
}

type objectWriter struct {
	pw       *io.PipeWriter
	done     chan error
	uploadID string
	closed   bool
	err      error
}

func (w *objectWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *objectWriter) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true

	w.pw.Close()
	if err := <-w.done; err != nil {
		w.err = fmt.Errorf("failed to store object %s: %w", w.uploadID, err)
	}
	return w.err
}

// CloseWithError abandons the object. PutObject reads cause instead of EOF
// and fails, so nothing is committed.
func (w *objectWriter) CloseWithError(cause error) error {
	if w.closed {
		return w.err
	}
	w.closed = true

	w.pw.CloseWithError(cause)
	<-w.done
	w.err = fmt.Errorf("object %s abandoned: %w", w.uploadID, cause)
	return w.err
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

// normaliseEndpoint accepts either "host:port" or a URL with an http(s)
// scheme and returns the host plus whether TLS should be used.
func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		return u.Host, u.Scheme == "https", nil
	}

	// Bare host:port, plain HTTP as used by local MinIO.
	return raw, false, nil
}
