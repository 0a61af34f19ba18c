// Package engine runs external tools (manim, ffmpeg, ffprobe, speech commands)
// as subprocesses and reports their outcome in a structured form.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const (
	// maxOutputBytes bounds the stdout and stderr tails kept for diagnostics.
	maxOutputBytes = 64 * 1024
)

// ErrNotAvailable is returned when a tool cannot be located or started.
var ErrNotAvailable = errors.New("engine not available")

// Command describes one external invocation.
type Command struct {
	Tool  string // binary name or path
	Args  []string
	Dir   string    // working directory; empty = inherit
	Stdin io.Reader // optional
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Tool}, c.Args...), " ")
}

// Result is the structured outcome of a subprocess that was started.
type Result struct {
	ExitCode int
	Stdout   string // last maxOutputBytes of stdout
	Stderr   string // last maxOutputBytes of stderr
	Duration time.Duration
	TimedOut bool
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r Result) IsSuccess() bool { return r.ExitCode == 0 && !r.TimedOut }

// ExitError reports a tool that ran but did not succeed.
type ExitError struct {
	Tool   string
	Result Result
}

func (e *ExitError) Error() string {
	if e.Result.TimedOut {
		return fmt.Sprintf("%s timed out after %s", e.Tool, e.Result.Duration.Round(time.Millisecond))
	}
	return fmt.Sprintf("%s exited %d", e.Tool, e.Result.ExitCode)
}

// Runner executes external commands. It is the single subprocess boundary used
// by every engine adapter, so tests can swap it for a fake.
type Runner interface {
	// Run blocks until the command exits. It returns ErrNotAvailable (wrapped)
	// when the tool cannot be found or started, *ExitError when it exits
	// non-zero or is killed by ctx, and nil on success. The Result is filled
	// whenever the process started.
	Run(ctx context.Context, cmd Command) (Result, error)

	// LookPath resolves a tool the same way Run does.
	LookPath(tool string) (string, error)
}

// SubprocessRunner is the production implementation of Runner.
type SubprocessRunner struct {
	logger *slog.Logger
}

// NewSubprocessRunner creates a SubprocessRunner.
func NewSubprocessRunner(logger *slog.Logger) *SubprocessRunner {
	return &SubprocessRunner{logger: logger}
}

// LookPath finds tool on PATH, or checks it directly when it contains a separator.
func (r *SubprocessRunner) LookPath(tool string) (string, error) {
	if tool == "" {
		return "", fmt.Errorf("%w: no tool configured", ErrNotAvailable)
	}
	p, err := exec.LookPath(tool)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNotAvailable, tool, err)
	}
	return p, nil
}

// Run is the core subprocess execution helper.
func (r *SubprocessRunner) Run(ctx context.Context, c Command) (Result, error) {
	path, err := r.LookPath(c.Tool)
	if err != nil {
		return Result{ExitCode: -1}, err
	}

	start := time.Now()

	cmd := exec.CommandContext(ctx, path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin

	// Capture both streams with bounded buffers
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, limit: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxOutputBytes}

	r.logger.Info("executing engine command",
		"tool", c.Tool,
		"args", c.Args,
	)

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("%w: cannot start %s: %v", ErrNotAvailable, c.Tool, err)
	}

	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	result := Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: elapsed,
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil && waitErr != nil {
		result.TimedOut = errors.Is(ctxErr, context.DeadlineExceeded)
		if result.ExitCode == 0 {
			result.ExitCode = -1
		}
	}

	if !result.IsSuccess() {
		r.logger.Warn("engine command failed",
			"tool", c.Tool,
			"exit_code", result.ExitCode,
			"timed_out", result.TimedOut,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(result.Stderr, 512),
		)
		return result, &ExitError{Tool: c.Tool, Result: result}
	}

	r.logger.Info("engine command succeeded",
		"tool", c.Tool,
		"duration_ms", elapsed.Milliseconds(),
	)
	return result, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		tail := make([]byte, lw.limit)
		copy(tail, b[len(b)-lw.limit:])
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
