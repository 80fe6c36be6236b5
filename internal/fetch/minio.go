package fetch

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/xai-infra/sibload/internal/config"
)

// MinioStore is the production ObjectStore backed by an S3-compatible
// endpoint.
type MinioStore struct {
	client *minio.Client
}

// NewMinioStore builds a store from the config's store section.
func NewMinioStore(cfg config.Config) (*MinioStore, error) {
	if err := cfg.ValidateStore(); err != nil {
		return nil, err
	}
	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.Store.AccessKey, cfg.Store.SecretKey, ""),
		Secure:    cfg.Store.UseSSL,
		Region:    cfg.Store.Region,
		Transport: newTransport(),
	}
	client, err := minio.New(cfg.Store.Endpoint, opts)
	if err != nil {
		return nil, err
	}
	return &MinioStore{client: client}, nil
}

// Get stats the object first so missing keys and auth failures surface
// before any bytes are streamed, then opens the object for reading.
func (s *MinioStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectInfo, error) {
	stat, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, classify(err, bucket, key)
	}
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, classify(err, bucket, key)
	}
	return obj, ObjectInfo{Key: stat.Key, Size: stat.Size, ETag: stat.ETag}, nil
}

// classify maps S3 error responses onto the fetch error taxonomy. Anything
// unrecognized stays as-is and is retried by the Fetcher.
func classify(err error, bucket, key string) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return &ObjectNotFoundError{Bucket: bucket, Key: key}
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return &AccessDeniedError{Bucket: bucket, Key: key, Cause: err}
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return &ObjectNotFoundError{Bucket: bucket, Key: key}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AccessDeniedError{Bucket: bucket, Key: key, Cause: err}
	}
	return err
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
