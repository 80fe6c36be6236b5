package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xai-infra/sibload/internal/resolver"
)

// ObjectInfo describes a remote object as reported by the store.
type ObjectInfo struct {
	Key  string
	Size int64
	ETag string
}

// ObjectStore is the remote side of a fetch. Implementations classify their
// backend errors into the package's error taxonomy; anything else is treated
// as transient and retried.
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectInfo, error)
}

// Result describes a completed fetch. LocalPath exists and is readable on
// success.
type Result struct {
	LocalPath   string
	ByteSize    int64
	ContentHash string
}

// Fetcher retrieves objects into local files with retry and integrity
// verification.
type Fetcher struct {
	store ObjectStore
	retry RetryConfig
}

func New(store ObjectStore) *Fetcher {
	return &Fetcher{store: store, retry: DefaultRetryConfig()}
}

func NewWithRetry(store ObjectStore, retry RetryConfig) *Fetcher {
	return &Fetcher{store: store, retry: retry}
}

// Fetch streams the object at loc into destPath, overwriting any existing
// file atomically. Transient failures are retried with backoff; not-found,
// access-denied and local write failures surface immediately. A failed fetch
// never leaves a partial destination or a stray temp file.
func (f *Fetcher) Fetch(ctx context.Context, loc resolver.Location, destPath string) (Result, error) {
	var lastErr error
	for attempt := 0; attempt <= f.retry.MaxRetries; attempt++ {
		res, err := f.fetchOnce(ctx, loc, destPath)
		if err == nil {
			return res, nil
		}
		if !retryable(err) {
			return Result{}, err
		}
		lastErr = err
		if attempt < f.retry.MaxRetries {
			delay := f.retry.Delay(attempt)
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Int("max_retries", f.retry.MaxRetries).
				Dur("delay", delay).
				Str("bucket", loc.Bucket).
				Str("key", loc.Key).
				Msg("fetch failed, retrying")
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return Result{}, &TransientFetchError{Attempts: f.retry.MaxRetries + 1, Last: lastErr}
}

func (f *Fetcher) fetchOnce(ctx context.Context, loc resolver.Location, destPath string) (Result, error) {
	body, info, err := f.store.Get(ctx, loc.Bucket, loc.Key)
	if err != nil {
		return Result{}, err
	}
	defer body.Close()

	dir := filepath.Dir(destPath)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(destPath)+".*.tmp")
	if err != nil {
		return Result{}, &LocalWriteError{Path: destPath, Cause: err}
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), body)
	if err != nil {
		cleanup()
		// A read error mid-stream is a backend problem, not a local one.
		return Result{}, fmt.Errorf("stream %s/%s: %w", loc.Bucket, loc.Key, err)
	}
	if info.Size >= 0 && written != info.Size {
		cleanup()
		return Result{}, fmt.Errorf("truncated read: got %d of %d bytes", written, info.Size)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return Result{}, &LocalWriteError{Path: destPath, Cause: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return Result{}, &LocalWriteError{Path: destPath, Cause: err}
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		_ = os.Remove(tmpPath)
		return Result{}, &LocalWriteError{Path: destPath, Cause: err}
	}

	return Result{
		LocalPath:   destPath,
		ByteSize:    written,
		ContentHash: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// UseLocal produces a Result for an already-downloaded file, the explicit
// skip-fetch mode. The file must exist and be readable.
func UseLocal(destPath string) (Result, error) {
	stat, err := os.Stat(destPath)
	if err != nil {
		return Result{}, &LocalWriteError{Path: destPath, Cause: err}
	}
	hash, err := checksumFile(destPath)
	if err != nil {
		return Result{}, &LocalWriteError{Path: destPath, Cause: err}
	}
	return Result{LocalPath: destPath, ByteSize: stat.Size(), ContentHash: hash}, nil
}

// checksumFile calculates the SHA256 checksum of a file
func checksumFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func retryable(err error) bool {
	var nf *ObjectNotFoundError
	var ad *AccessDeniedError
	var lw *LocalWriteError
	if errors.As(err, &nf) || errors.As(err, &ad) || errors.As(err, &lw) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
