package collab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/cognicore/wikigec/pkg/wikigec/internalerr"
)

// StageError reports a collaborator that could not start, exited non-zero
// or was cancelled.
type StageError struct {
	Stage Stage
	Argv  []string
	// ExitCode is -1 when the process did not start or was killed by a signal.
	ExitCode int
	// Stderr is the tail of the collaborator's standard error.
	Stderr string
	Err    error
}

func (e *StageError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s stage failed", e.Stage)
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if tail := strings.TrimSpace(e.Stderr); tail != "" {
		fmt.Fprintf(&b, "\n%s", tail)
	}
	return b.String()
}

// Unwrap exposes both ErrStageFailed and the underlying cause.
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{internalerr.ErrStageFailed}
	}
	return []error{internalerr.ErrStageFailed, e.Err}
}

// Step is one expanded collaborator invocation.
type Step struct {
	Stage Stage
	Argv  []string
}

// Runner executes collaborators synchronously.
type Runner struct {
	// Dir is the working directory of every collaborator. Empty means the
	// current directory.
	Dir string
	// Env is appended to the inherited environment.
	Env []string
	// Stdout receives collaborator output that is not redirected to a file.
	// Nil discards it.
	Stdout io.Writer
	// Stderr mirrors collaborator diagnostics. Nil discards them; the tail is
	// kept for StageError either way.
	Stderr io.Writer
	// StderrTail bounds the bytes of stderr kept per stage.
	StderrTail int
	Logger     *log.Logger
}

// NewRunner returns a runner that mirrors collaborator output to the
// process's stdout and stderr.
func NewRunner(dir string, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		Dir:        dir,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		StderrTail: 4096,
		Logger:     logger,
	}
}

func (r *Runner) command(ctx context.Context, step Step, tail *tailBuffer) *exec.Cmd {
	cmd := exec.CommandContext(ctx, step.Argv[0], step.Argv[1:]...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	cmd.Stdout = r.Stdout
	if r.Stderr != nil {
		cmd.Stderr = io.MultiWriter(r.Stderr, tail)
	} else {
		cmd.Stderr = tail
	}
	// Collaborators may leave grandchildren holding the pipes after a kill.
	cmd.WaitDelay = 5 * time.Second
	return cmd
}

func (r *Runner) tail() *tailBuffer {
	n := r.StderrTail
	if n <= 0 {
		n = 4096
	}
	return &tailBuffer{limit: n}
}

func (r *Runner) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
	}
}

// Run executes one collaborator with optional stdin and stdout redirection
// and waits for it. Any start failure, non-zero exit or cancellation becomes
// a *StageError naming the stage.
func (r *Runner) Run(ctx context.Context, step Step, stdin io.Reader, stdout io.Writer) error {
	if len(step.Argv) == 0 {
		return &StageError{Stage: step.Stage, ExitCode: -1, Err: errors.New("empty command")}
	}

	tail := r.tail()
	cmd := r.command(ctx, step, tail)
	cmd.Stdin = stdin
	if stdout != nil {
		cmd.Stdout = stdout
	}

	r.logf("[%s] %s", step.Stage, strings.Join(step.Argv, " "))
	start := time.Now()
	err := cmd.Run()
	if err != nil {
		return stageError(ctx, step, err, tail)
	}
	r.logf("[%s] finished in %s", step.Stage, time.Since(start).Round(time.Millisecond))
	return nil
}

// Pipe runs src with its stdout connected to dst's stdin through an OS pipe
// and dst's stdout written to out. It waits for dst, then joins src, so a
// failing decompressor is reported instead of leaving a truncated stream
// unnoticed. When both fail and src died of a broken pipe, only dst's error
// is returned since the dead reader caused it. Any other src failure is
// joined after dst's.
func (r *Runner) Pipe(ctx context.Context, src, dst Step, out io.Writer) error {
	if len(src.Argv) == 0 {
		return &StageError{Stage: src.Stage, ExitCode: -1, Err: errors.New("empty command")}
	}
	if len(dst.Argv) == 0 {
		return &StageError{Stage: dst.Stage, ExitCode: -1, Err: errors.New("empty command")}
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create pipe: %w", err)
	}

	srcTail, dstTail := r.tail(), r.tail()
	srcCmd := r.command(ctx, src, srcTail)
	srcCmd.Stdout = pw
	dstCmd := r.command(ctx, dst, dstTail)
	dstCmd.Stdin = pr
	dstCmd.Stdout = out

	r.logf("[%s] %s | [%s] %s", src.Stage, strings.Join(src.Argv, " "), dst.Stage, strings.Join(dst.Argv, " "))
	start := time.Now()

	if err := srcCmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return stageError(ctx, src, err, srcTail)
	}
	if err := dstCmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		_ = srcCmd.Process.Kill()
		_ = srcCmd.Wait()
		return stageError(ctx, dst, err, dstTail)
	}
	// The children hold their own ends now.
	pw.Close()
	pr.Close()

	dstErr := dstCmd.Wait()
	srcErr := srcCmd.Wait()

	if dstErr != nil {
		de := stageError(ctx, dst, dstErr, dstTail)
		if srcErr == nil || brokenPipe(srcErr) {
			return de
		}
		return errors.Join(de, stageError(ctx, src, srcErr, srcTail))
	}
	if srcErr != nil {
		return stageError(ctx, src, srcErr, srcTail)
	}
	r.logf("[%s|%s] finished in %s", src.Stage, dst.Stage, time.Since(start).Round(time.Millisecond))
	return nil
}

// brokenPipe reports whether a process was killed by SIGPIPE, directly or
// as a shell reporting 128+SIGPIPE.
func brokenPipe(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() && ws.Signal() == syscall.SIGPIPE {
		return true
	}
	return exitErr.ExitCode() == 128+int(syscall.SIGPIPE)
}

func stageError(ctx context.Context, step Step, err error, tail *tailBuffer) *StageError {
	se := &StageError{
		Stage:    step.Stage,
		Argv:     step.Argv,
		ExitCode: -1,
		Stderr:   tail.String(),
		Err:      err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		se.ExitCode = exitErr.ExitCode()
		se.Err = nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		se.Err = ctxErr
	}
	return se
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) >= t.limit {
		t.buf = append(t.buf[:0], p[len(p)-t.limit:]...)
		return n, nil
	}
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return n, nil
}

func (t *tailBuffer) String() string { return string(t.buf) }
