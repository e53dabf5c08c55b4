// Package engine orchestrates one request end to end: parse, validate,
// inject defaults, execute, record. Requests are independent units of work;
// the only shared state is the read-only policy and the audit log, so the
// engine serves many callers concurrently, bounded by a weighted semaphore.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/clawinfra/kubeclaw/internal/audit"
	"github.com/clawinfra/kubeclaw/internal/credentials"
	"github.com/clawinfra/kubeclaw/internal/executor"
	"github.com/clawinfra/kubeclaw/internal/parser"
	"github.com/clawinfra/kubeclaw/internal/policy"
	"github.com/clawinfra/kubeclaw/internal/security"
	"github.com/clawinfra/kubeclaw/internal/types"
)

// requestState tracks a request through its lifecycle. Denied, timed_out,
// and spawn_failed are terminal error states; completed is the terminal
// success state even when the underlying exit code is non-zero.
type requestState string

const (
	stateReceived    requestState = "received"
	stateParsed      requestState = "parsed"
	stateValidated   requestState = "validated"
	stateDenied      requestState = "denied"
	stateExecuting   requestState = "executing"
	stateCompleted   requestState = "completed"
	stateTimedOut    requestState = "timed_out"
	stateSpawnFailed requestState = "spawn_failed"
)

// Engine validates and executes command requests.
type Engine struct {
	policy    *policy.Policy
	validator *security.Validator
	exec      *executor.Executor
	audit     *audit.Log // optional; nil disables recording
	sem       *semaphore.Weighted
	logger    *slog.Logger
}

// New creates an engine. maxConcurrent bounds how many pipelines may run at
// once; further requests wait.
func New(p *policy.Policy, exec *executor.Executor, auditLog *audit.Log, maxConcurrent int64, logger *slog.Logger) *Engine {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Engine{
		policy:    p,
		validator: security.NewValidator(p),
		exec:      exec,
		audit:     auditLog,
		sem:       semaphore.NewWeighted(maxConcurrent),
		logger:    logger.With("component", "engine"),
	}
}

// Policy returns the engine's immutable policy.
func (e *Engine) Policy() *policy.Policy { return e.policy }

// Execute runs one request and blocks until it finishes or is denied.
func (e *Engine) Execute(ctx context.Context, req types.CommandRequest) *types.ExecutionResult {
	return e.execute(ctx, req, nil)
}

// ExecuteStream is Execute with incremental stdout delivery for streaming
// callers. sink is invoked from the executor's capture path; it must be fast
// and must not block.
func (e *Engine) ExecuteStream(ctx context.Context, req types.CommandRequest, sink func([]byte)) *types.ExecutionResult {
	return e.execute(ctx, req, sink)
}

func (e *Engine) execute(ctx context.Context, req types.CommandRequest, sink func([]byte)) *types.ExecutionResult {
	requestID := uuid.NewString()
	logger := e.logger.With("request_id", requestID, "tool", req.Tool)
	state := stateReceived

	finish := func(res *types.ExecutionResult) *types.ExecutionResult {
		e.record(requestID, req, state, res)
		return res
	}

	if !req.Tool.Valid() {
		state = stateDenied
		return finish(denial(types.NewCommandError(types.CodeInvalidRequest, "unsupported tool %q", req.Tool)))
	}
	timeout, err := e.policy.ResolveTimeout(req.Timeout)
	if err != nil {
		state = stateDenied
		return finish(denial(types.NewCommandError(types.CodeInvalidRequest, "%s", err.Error())))
	}

	// Unquoted metacharacters are judged on the raw string, before parsing,
	// so an injection attempt is reported as UnsafeSyntax even when it also
	// fails to parse.
	if err := security.ScanSyntax(req.Command); err != nil {
		state = stateDenied
		logger.Info("request denied", "code", types.CodeUnsafeSyntax, "reason", err)
		return finish(denial(types.NewCommandError(types.CodeUnsafeSyntax, "%s", err.Error())))
	}

	stages, err := parser.Parse(req.Command, parser.Limits{
		MaxLength: e.policy.MaxCommandLength,
		MaxStages: e.policy.MaxPipelineStages,
	})
	if err != nil {
		state = stateDenied
		var cmdErr *types.CommandError
		if !errors.As(err, &cmdErr) {
			cmdErr = types.NewCommandError(types.CodeMalformedCommand, "%s", err.Error())
		}
		logger.Info("request denied", "code", cmdErr.Code, "reason", cmdErr.Message)
		return finish(denial(cmdErr))
	}
	state = stateParsed

	verdict := e.validator.Validate(req.Tool, req.Command, stages)
	if !verdict.Allowed {
		state = stateDenied
		logger.Info("request denied", "code", verdict.Code, "reason", verdict.Reason)
		return finish(denial(types.NewCommandError(verdict.Code, "%s", verdict.Reason)))
	}
	state = stateValidated
	logger.Debug("request validated", "risk", verdict.Risk, "stages", len(stages))

	// Injection runs strictly after validation: injected flags are never
	// subject to the dangerous-verb checks.
	stages[0].Argv = e.validator.InjectDefaults(req.Tool, stages[0].Argv)

	var extraEnv []string
	if req.Credential != "" {
		kc, err := credentials.Materialize(req.Credential)
		if err != nil {
			state = stateDenied
			var cmdErr *types.CommandError
			if !errors.As(err, &cmdErr) {
				cmdErr = types.NewCommandError(types.CodeInvalidRequest, "%s", err.Error())
			}
			return finish(denial(cmdErr))
		}
		defer func() {
			if err := kc.Remove(); err != nil {
				logger.Error("credential cleanup failed", "error", err)
			}
		}()
		extraEnv = append(extraEnv, kc.Env())
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		state = stateDenied
		return finish(denial(types.NewCommandError(types.CodeTimeoutExceeded, "cancelled while waiting for an execution slot: %v", err)))
	}
	defer e.sem.Release(1)

	state = stateExecuting
	logger.Info("executing pipeline",
		"command", firstLine(req.Command), "timeout", timeout, "stages", len(stages))

	res := e.exec.Run(ctx, stages, executor.Options{
		Timeout:        timeout,
		MaxOutputBytes: e.policy.MaxOutputBytes,
		ExtraEnv:       extraEnv,
		OutputSink:     sink,
	})

	switch {
	case res.Err != nil && res.Err.Code == types.CodeTimeoutExceeded:
		state = stateTimedOut
	case res.Err != nil && res.Err.Code == types.CodeSpawnFailure:
		state = stateSpawnFailed
	default:
		state = stateCompleted
	}

	logger.Info("pipeline finished",
		"state", state, "status", res.Status, "duration", res.Duration, "truncated", res.Truncated)
	return finish(res)
}

// record writes the audit entry. Auditing is best-effort: a failed write is
// logged and the response still goes back to the caller.
func (e *Engine) record(requestID string, req types.CommandRequest, state requestState, res *types.ExecutionResult) {
	if e.audit == nil {
		return
	}
	entry := audit.Entry{
		ID:      requestID,
		Tool:    string(req.Tool),
		Command: req.Command,
		Status:  string(state),
	}
	if res != nil {
		entry.ExitCode = res.ExitCode
		entry.DurationMs = res.Duration.Milliseconds()
		if res.Err != nil {
			entry.Code = string(res.Err.Code)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.audit.Record(ctx, entry); err != nil {
		e.logger.Error("audit record failed", "request_id", requestID, "error", err)
	}
}

func denial(err *types.CommandError) *types.ExecutionResult {
	return &types.ExecutionResult{
		Status: types.StatusError,
		Err:    err,
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
