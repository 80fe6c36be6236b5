package launch

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func testLauncher(stdout, stderr *bytes.Buffer) *Launcher {
	l := New()
	l.Stdout = stdout
	l.Stderr = stderr
	return l
}

func TestRunExitCode(t *testing.T) {
	var out, errBuf bytes.Buffer
	l := testLauncher(&out, &errBuf)

	code, err := l.Run(context.Background(), Spec{Executable: "sh", Args: []string{"-c", "exit 0"}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if code != 0 {
		t.Errorf("Expected exit 0, got %d", code)
	}

	code, err = l.Run(context.Background(), Spec{Executable: "sh", Args: []string{"-c", "exit 7"}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if code != 7 {
		t.Errorf("Expected exit 7, got %d", code)
	}
}

func TestRunStreamsOutput(t *testing.T) {
	var out, errBuf bytes.Buffer
	l := testLauncher(&out, &errBuf)

	code, err := l.Run(context.Background(), Spec{
		Executable: "sh",
		Args:       []string{"-c", "echo to-stdout; echo to-stderr >&2"},
	})
	if err != nil || code != 0 {
		t.Fatalf("Run failed: code=%d err=%v", code, err)
	}
	if !strings.Contains(out.String(), "to-stdout") {
		t.Errorf("Expected stdout passthrough, got %q", out.String())
	}
	if !strings.Contains(errBuf.String(), "to-stderr") {
		t.Errorf("Expected stderr passthrough, got %q", errBuf.String())
	}
}

func TestRunEnvMergeChildWins(t *testing.T) {
	t.Setenv("X_ENV", "inherited")

	var out, errBuf bytes.Buffer
	l := testLauncher(&out, &errBuf)

	code, err := l.Run(context.Background(), Spec{
		Executable: "sh",
		Args:       []string{"-c", `printf '%s' "$X_ENV"`},
		Env:        map[string]string{"X_ENV": "dev"},
	})
	if err != nil || code != 0 {
		t.Fatalf("Run failed: code=%d err=%v", code, err)
	}
	if out.String() != "dev" {
		t.Errorf("Expected child env to win, got %q", out.String())
	}
}

func TestRunWorkDir(t *testing.T) {
	dir := t.TempDir()
	var out, errBuf bytes.Buffer
	l := testLauncher(&out, &errBuf)

	code, err := l.Run(context.Background(), Spec{
		Executable: "sh",
		Args:       []string{"-c", "pwd"},
		WorkDir:    dir,
	})
	if err != nil || code != 0 {
		t.Fatalf("Run failed: code=%d err=%v", code, err)
	}
	if !strings.Contains(out.String(), dir) {
		t.Errorf("Expected pwd %q, got %q", dir, out.String())
	}
}

func TestRunSignalTerminated(t *testing.T) {
	var out, errBuf bytes.Buffer
	l := testLauncher(&out, &errBuf)

	code, err := l.Run(context.Background(), Spec{
		Executable: "sh",
		Args:       []string{"-c", "kill -TERM $$"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// SIGTERM is 15; a signal-terminated child reports 128+signal.
	if code != 143 {
		t.Errorf("Expected exit 143 for SIGTERM-terminated consumer, got %d", code)
	}
}

func TestRunMissingExecutable(t *testing.T) {
	var out, errBuf bytes.Buffer
	l := testLauncher(&out, &errBuf)

	_, err := l.Run(context.Background(), Spec{Executable: "sibload-no-such-binary"})
	if err == nil {
		t.Fatal("Expected error for missing executable")
	}
	var le *Error
	if !errors.As(err, &le) {
		t.Fatalf("Expected launch Error, got %T", err)
	}
}

func TestMergeEnv(t *testing.T) {
	base := []string{"PATH=/bin", "X_ENV=old", "HOME=/root"}
	merged := MergeEnv(base, map[string]string{"X_ENV": "dev", "X_PROJECT": "p1"})

	want := map[string]bool{"PATH=/bin": true, "X_ENV=dev": true, "HOME=/root": true, "X_PROJECT=p1": true}
	if len(merged) != len(want) {
		t.Fatalf("Expected %d entries, got %d: %v", len(want), len(merged), merged)
	}
	for _, kv := range merged {
		if !want[kv] {
			t.Errorf("Unexpected entry %q", kv)
		}
	}
}
