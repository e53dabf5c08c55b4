// Package executor runs validated command pipelines as real OS processes.
// Stages are connected with OS pipes and are never handed to a shell, so the
// argv lists approved by the validator are exactly what executes. All stages
// share one process group; when the deadline fires the whole group is killed
// so no intermediate stage is orphaned.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/clawinfra/kubeclaw/internal/parser"
	"github.com/clawinfra/kubeclaw/internal/types"
)

// Options configures one pipeline run.
type Options struct {
	// Timeout is the wall-clock deadline for the whole pipeline.
	Timeout time.Duration
	// MaxOutputBytes caps captured stdout and stderr (each). Extra bytes
	// are dropped and the result is flagged truncated.
	MaxOutputBytes int
	// ExtraEnv entries are appended to the inherited environment,
	// e.g. a request-scoped KUBECONFIG.
	ExtraEnv []string
	// OutputSink, when set, receives captured stdout chunks as they
	// arrive. Used by streaming callers; may be nil.
	OutputSink func([]byte)
}

// Executor spawns pipelines. It holds no per-request state and is safe for
// concurrent use.
type Executor struct {
	logger *slog.Logger
}

// New creates an executor.
func New(logger *slog.Logger) *Executor {
	return &Executor{logger: logger.With("component", "executor")}
}

// Run executes the pipeline and blocks until it finishes, the deadline
// fires, or ctx is cancelled. It always returns a result; failures are
// reported in the result, never as a panic or process exit.
func (e *Executor) Run(ctx context.Context, stages []parser.Stage, opts Options) *types.ExecutionResult {
	start := time.Now()

	stdout := newLimitWriter(opts.MaxOutputBytes, opts.OutputSink)
	stderr := newLimitWriter(opts.MaxOutputBytes, nil)

	cmds := make([]*exec.Cmd, len(stages))
	for i, stage := range stages {
		cmd := exec.Command(stage.Argv[0], stage.Argv[1:]...)
		cmd.Env = append(os.Environ(), opts.ExtraEnv...)
		if i > 0 {
			pipe, err := cmds[i-1].StdoutPipe()
			if err != nil {
				return spawnFailure(start, stages[i-1].Program(), err)
			}
			cmd.Stdin = pipe
		}
		cmds[i] = cmd
	}
	last := cmds[len(cmds)-1]
	last.Stdout = stdout
	last.Stderr = stderr

	// Lead stage opens a fresh process group; the rest join it.
	configureLead(cmds[0])
	if err := cmds[0].Start(); err != nil {
		return spawnFailure(start, stages[0].Program(), err)
	}
	pgid := cmds[0].Process.Pid
	for i := 1; i < len(cmds); i++ {
		joinGroup(cmds[i], pgid)
		if err := cmds[i].Start(); err != nil {
			terminate(cmds[:i], pgid)
			drain(cmds[:i])
			return spawnFailure(start, stages[i].Program(), err)
		}
	}

	type outcome struct {
		lastErr   error
		stageErrs []error
	}
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		o.stageErrs = make([]error, len(cmds))
		for i, cmd := range cmds {
			o.stageErrs[i] = cmd.Wait()
		}
		o.lastErr = o.stageErrs[len(o.stageErrs)-1]
		done <- o
	}()

	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		return e.buildResult(start, stages, o.stageErrs, o.lastErr, stdout, stderr)
	case <-timer.C:
		terminate(cmds, pgid)
		<-done // reap everything before reporting
		e.logger.Warn("pipeline timed out", "timeout", opts.Timeout, "program", stages[0].Program())
		return &types.ExecutionResult{
			Status:    types.StatusTimeout,
			Output:    stdout.String(),
			Stderr:    stderr.String(),
			Duration:  time.Since(start),
			Truncated: true,
			Err: types.NewCommandError(types.CodeTimeoutExceeded,
				"command timed out after %s", opts.Timeout),
		}
	case <-ctx.Done():
		terminate(cmds, pgid)
		<-done
		return &types.ExecutionResult{
			Status:    types.StatusTimeout,
			Output:    stdout.String(),
			Stderr:    stderr.String(),
			Duration:  time.Since(start),
			Truncated: true,
			Err: types.NewCommandError(types.CodeTimeoutExceeded,
				"command cancelled: %v", ctx.Err()),
		}
	}
}

// buildResult applies the exit-status policy: the pipeline's exit code is
// the last stage's, matching conventional shell pipe semantics. Earlier
// failed stages are logged as warnings rather than surfaced, a deliberate
// last-stage-wins decision.
func (e *Executor) buildResult(start time.Time, stages []parser.Stage, stageErrs []error, lastErr error, stdout, stderr *limitWriter) *types.ExecutionResult {
	for i, err := range stageErrs[:len(stageErrs)-1] {
		if err != nil {
			e.logger.Warn("non-final pipeline stage failed",
				"stage", i+1, "program", stages[i].Program(), "error", err)
		}
	}

	result := &types.ExecutionResult{
		Output:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  time.Since(start),
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}

	exitCode := 0
	if lastErr != nil {
		var exitErr *exec.ExitError
		if errors.As(lastErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	result.ExitCode = types.ExitCodeOf(exitCode)

	if exitCode == 0 {
		result.Status = types.StatusSuccess
		return result
	}

	result.Status = types.StatusError
	code := types.CodeExecutionError
	if isAuthFailure(result.Stderr) {
		code = types.CodeAuthenticationFailure
	}
	msg := result.Stderr
	if msg == "" {
		msg = "command failed with no error output"
	}
	result.Err = types.NewCommandError(code, "%s", msg).
		WithDetail("exit_code", exitCode).
		WithDetail("stderr", result.Stderr)
	return result
}

func spawnFailure(start time.Time, program string, err error) *types.ExecutionResult {
	return &types.ExecutionResult{
		Status:   types.StatusError,
		Duration: time.Since(start),
		Err: types.NewCommandError(types.CodeSpawnFailure,
			"failed to start %q: %v", program, err),
	}
}

// drain reaps already-started stages after a later stage failed to spawn.
func drain(cmds []*exec.Cmd) {
	for _, cmd := range cmds {
		_ = cmd.Wait()
	}
}
