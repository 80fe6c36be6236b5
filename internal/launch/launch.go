package launch

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Spec describes the consumer process to spawn.
type Spec struct {
	Executable string
	Args       []string
	Env        map[string]string
	WorkDir    string
}

// Error reports that the consumer could not be found or spawned.
type Error struct {
	Executable string
	Cause      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Executable, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Launcher spawns consumer processes with passthrough output.
type Launcher struct {
	// Stdout and Stderr receive the child's streams. Defaults to the
	// process's own streams so consumer output stays visible live.
	Stdout io.Writer
	Stderr io.Writer
	// WaitDelay bounds how long Run waits for the child after its context
	// is cancelled and the interrupt has been forwarded.
	WaitDelay time.Duration
}

func New() *Launcher {
	return &Launcher{Stdout: os.Stdout, Stderr: os.Stderr, WaitDelay: 10 * time.Second}
}

// Run spawns the consumer and blocks until it terminates, returning its exit
// code. The spec's env is merged over the inherited environment with spec
// keys winning. On context cancellation the child receives an interrupt and
// is given WaitDelay to exit before being killed.
func (l *Launcher) Run(ctx context.Context, spec Spec) (int, error) {
	cmd := exec.CommandContext(ctx, spec.Executable, spec.Args...)
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	cmd.Env = MergeEnv(os.Environ(), spec.Env)
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	cmd.Stdin = os.Stdin
	cmd.Cancel = func() error {
		log.Warn().Str("executable", spec.Executable).Msg("forwarding interrupt to consumer")
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = l.WaitDelay

	log.Debug().
		Str("executable", spec.Executable).
		Strs("args", spec.Args).
		Msg("launching consumer")

	if err := cmd.Start(); err != nil {
		return -1, &Error{Executable: spec.Executable, Cause: err}
	}
	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exit, ok := err.(*exec.ExitError); ok {
		return exitCode(exit), nil
	}
	return -1, &Error{Executable: spec.Executable, Cause: err}
}

// exitCode normalizes the child's exit status. A signal-terminated child has
// no exit code of its own; the conventional 128+signal keeps the propagated
// value well-defined and positive.
func exitCode(exit *exec.ExitError) int {
	code := exit.ExitCode()
	if code >= 0 {
		return code
	}
	if status, ok := exit.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return 1
}

// MergeEnv layers overrides on top of a KEY=VALUE environment list. Override
// keys win on conflict; base order is preserved for untouched entries.
func MergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overrides))
	seen := make(map[string]bool, len(overrides))
	for _, kv := range base {
		k := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k = kv[:i]
		}
		if v, ok := overrides[k]; ok {
			if !seen[k] {
				out = append(out, k+"="+v)
				seen[k] = true
			}
			continue
		}
		out = append(out, kv)
	}
	for k, v := range overrides {
		if !seen[k] {
			out = append(out, k+"="+v)
		}
	}
	return out
}
