package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xai-infra/sibload/internal/cache"
	"github.com/xai-infra/sibload/internal/fetch"
	"github.com/xai-infra/sibload/internal/launch"
	"github.com/xai-infra/sibload/internal/resolver"
)

// MockStore records requested keys for testing
type MockStore struct {
	data  map[string][]byte
	calls []string
}

func (m *MockStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, fetch.ObjectInfo, error) {
	m.calls = append(m.calls, bucket+"/"+key)
	data, ok := m.data[bucket+"/"+key]
	if !ok {
		return nil, fetch.ObjectInfo{}, &fetch.ObjectNotFoundError{Bucket: bucket, Key: key}
	}
	return io.NopCloser(bytes.NewReader(data)), fetch.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func testPipeline(store *MockStore) (*Pipeline, *bytes.Buffer) {
	var out bytes.Buffer
	l := launch.New()
	l.Stdout = &out
	l.Stderr = &out
	retry := fetch.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
	return &Pipeline{
		Fetcher:  fetch.NewWithRetry(store, retry),
		Launcher: l,
	}, &out
}

func TestRunEndToEnd(t *testing.T) {
	store := &MockStore{data: map[string][]byte{
		"xai-cfg/siblings-dev.json": []byte(strings.Repeat("x", 200)),
	}}
	p, _ := testPipeline(store)
	dest := filepath.Join(t.TempDir(), "siblings.json")

	code, err := p.Run(context.Background(), Options{
		Target:   resolver.TargetDev,
		Project:  "proj-1",
		Dest:     dest,
		Consumer: launch.Spec{Executable: "sh", Args: []string{"-c", "exit 0"}},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if code != 0 {
		t.Errorf("Expected exit 0, got %d", code)
	}
	if len(store.calls) != 1 || store.calls[0] != "xai-cfg/siblings-dev.json" {
		t.Errorf("Expected one fetch of xai-cfg/siblings-dev.json, got %v", store.calls)
	}
	stat, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("Destination missing: %v", err)
	}
	if stat.Size() != 200 {
		t.Errorf("Expected 200 bytes, got %d", stat.Size())
	}
}

func TestRunConsumerEnv(t *testing.T) {
	store := &MockStore{data: map[string][]byte{
		"xai-cfg/siblings-dev.json": []byte("{}"),
	}}
	p, out := testPipeline(store)
	dest := filepath.Join(t.TempDir(), "siblings.json")

	code, err := p.Run(context.Background(), Options{
		Target:  resolver.TargetDev,
		Project: "proj-1",
		Dest:    dest,
		Consumer: launch.Spec{
			Executable: "sh",
			Args:       []string{"-c", `printf '%s %s %s %s' "$X_PROJECT" "$X_ENV" "$RUST_LOG" "$SIBLINGS_FILE"`},
		},
	})
	if err != nil || code != 0 {
		t.Fatalf("Run failed: code=%d err=%v", code, err)
	}
	want := "proj-1 dev info " + dest
	if out.String() != want {
		t.Errorf("Expected consumer env %q, got %q", want, out.String())
	}
}

func TestRunUnknownTargetNoFetch(t *testing.T) {
	store := &MockStore{}
	p, _ := testPipeline(store)

	_, err := p.Run(context.Background(), Options{
		Target: resolver.Target("staging"),
		Dest:   filepath.Join(t.TempDir(), "siblings.json"),
	})
	if err == nil {
		t.Fatal("Expected error for unknown target")
	}
	if ExitCode(err) != ExitBadInput {
		t.Errorf("Expected exit %d, got %d", ExitBadInput, ExitCode(err))
	}
	if len(store.calls) != 0 {
		t.Errorf("Expected no fetch attempt, got %v", store.calls)
	}
}

func TestRunFullOverride(t *testing.T) {
	store := &MockStore{data: map[string][]byte{
		"b1/k1": []byte("{}"),
	}}
	p, _ := testPipeline(store)

	code, err := p.Run(context.Background(), Options{
		Target:    resolver.TargetProd,
		Overrides: resolver.Overrides{Project: "p1", Bucket: "b1", Key: "k1"},
		Dest:      filepath.Join(t.TempDir(), "siblings.json"),
	})
	if err != nil || code != 0 {
		t.Fatalf("Run failed: code=%d err=%v", code, err)
	}
	if len(store.calls) != 1 || store.calls[0] != "b1/k1" {
		t.Errorf("Expected override location used verbatim, got %v", store.calls)
	}
}

func TestRunConsumerExitPropagates(t *testing.T) {
	store := &MockStore{data: map[string][]byte{
		"xai-cfg/siblings.json": []byte("{}"),
	}}
	p, _ := testPipeline(store)

	code, err := p.Run(context.Background(), Options{
		Target:   resolver.TargetProd,
		Dest:     filepath.Join(t.TempDir(), "siblings.json"),
		Consumer: launch.Spec{Executable: "sh", Args: []string{"-c", "exit 9"}},
	})
	if code != 9 {
		t.Errorf("Expected exit 9, got %d", code)
	}
	var cee *ConsumerExitError
	if !errors.As(err, &cee) {
		t.Fatalf("Expected ConsumerExitError, got %v", err)
	}
	if ExitCode(err) != 9 {
		t.Errorf("Expected ExitCode 9, got %d", ExitCode(err))
	}
}

func TestRunLaunchFailure(t *testing.T) {
	store := &MockStore{data: map[string][]byte{
		"xai-cfg/siblings.json": []byte("{}"),
	}}
	p, _ := testPipeline(store)

	_, err := p.Run(context.Background(), Options{
		Target:   resolver.TargetProd,
		Dest:     filepath.Join(t.TempDir(), "siblings.json"),
		Consumer: launch.Spec{Executable: "sibload-no-such-binary"},
	})
	if err == nil {
		t.Fatal("Expected launch error")
	}
	if ExitCode(err) != ExitLaunch {
		t.Errorf("Expected exit %d, got %d", ExitLaunch, ExitCode(err))
	}
}

func TestRunFetchFailure(t *testing.T) {
	store := &MockStore{data: map[string][]byte{}}
	p, _ := testPipeline(store)

	_, err := p.Run(context.Background(), Options{
		Target: resolver.TargetProd,
		Dest:   filepath.Join(t.TempDir(), "siblings.json"),
	})
	if err == nil {
		t.Fatal("Expected fetch error")
	}
	var step *StepError
	if !errors.As(err, &step) || step.Step != StepFetch {
		t.Fatalf("Expected fetch step error, got %v", err)
	}
	if ExitCode(err) != ExitFetch {
		t.Errorf("Expected exit %d, got %d", ExitFetch, ExitCode(err))
	}
}

func TestRunSkipFetch(t *testing.T) {
	store := &MockStore{}
	p, _ := testPipeline(store)
	dest := filepath.Join(t.TempDir(), "siblings.json")
	if err := os.WriteFile(dest, []byte("{}"), 0644); err != nil {
		t.Fatalf("Failed to write local file: %v", err)
	}

	code, err := p.Run(context.Background(), Options{
		Target:    resolver.TargetDev,
		Dest:      dest,
		SkipFetch: true,
	})
	if err != nil || code != 0 {
		t.Fatalf("Run failed: code=%d err=%v", code, err)
	}
	if len(store.calls) != 0 {
		t.Errorf("Expected no fetch in skip-fetch mode, got %v", store.calls)
	}
}

func TestRunSeedsCache(t *testing.T) {
	siblings := `{"august": {"default": "https://august.svc", "in": "https://august.in.svc"}}`
	store := &MockStore{data: map[string][]byte{
		"xai-cfg/siblings-dev.json": []byte(siblings),
	}}
	p, _ := testPipeline(store)

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "cache.db")

	code, err := p.Run(context.Background(), Options{
		Target: resolver.TargetDev,
		Dest:   filepath.Join(tmpDir, "siblings.json"),
		SeedDB: dbPath,
	})
	if err != nil || code != 0 {
		t.Fatalf("Run failed: code=%d err=%v", code, err)
	}

	s, err := cache.NewStore(dbPath)
	if err != nil {
		t.Fatalf("Open cache failed: %v", err)
	}
	defer s.Close()
	value, err := s.Get(context.Background(), "dev-ep-august")
	if err != nil {
		t.Fatalf("Expected dev-prefixed cache key: %v", err)
	}
	if !strings.Contains(string(value), "august.in.svc") {
		t.Errorf("Unexpected cached value: %s", value)
	}
}
