package fetch

import "fmt"

// ObjectNotFoundError reports a missing bucket or key. Never retried.
type ObjectNotFoundError struct {
	Bucket string
	Key    string
}

func (e *ObjectNotFoundError) Error() string {
	return fmt.Sprintf("object not found: %s/%s", e.Bucket, e.Key)
}

// AccessDeniedError reports an authorization failure. Never retried.
type AccessDeniedError struct {
	Bucket string
	Key    string
	Cause  error
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: %s/%s: %v", e.Bucket, e.Key, e.Cause)
}

func (e *AccessDeniedError) Unwrap() error { return e.Cause }

// TransientFetchError is surfaced after the retry budget is exhausted.
type TransientFetchError struct {
	Attempts int
	Last     error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("fetch failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *TransientFetchError) Unwrap() error { return e.Last }

// LocalWriteError reports that the destination could not be written.
type LocalWriteError struct {
	Path  string
	Cause error
}

func (e *LocalWriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Cause)
}

func (e *LocalWriteError) Unwrap() error { return e.Cause }
