// Package types provides shared types used across kubeclaw packages
// to avoid import cycles between the api, engine, and executor layers.
package types

import (
	"fmt"
	"time"
)

// Tool identifies one of the supported CLI tools.
type Tool string

const (
	ToolKubectl  Tool = "kubectl"
	ToolIstioctl Tool = "istioctl"
	ToolHelm     Tool = "helm"
	ToolArgoCD   Tool = "argocd"
)

// Tools lists every supported tool in a stable order.
var Tools = []Tool{ToolKubectl, ToolIstioctl, ToolHelm, ToolArgoCD}

// Valid reports whether t names a supported tool.
func (t Tool) Valid() bool {
	switch t {
	case ToolKubectl, ToolIstioctl, ToolHelm, ToolArgoCD:
		return true
	}
	return false
}

// CommandRequest is one execution request from a caller. A request is owned
// by exactly one in-flight execution and is never reused.
type CommandRequest struct {
	Tool    Tool   `json:"tool"`
	Command string `json:"command"`
	// Timeout in seconds. Zero means use the policy default; negative
	// values and values above the policy maximum are rejected.
	Timeout int `json:"timeout,omitempty"`
	// Credential is an opaque base64-encoded kubeconfig supplied by the
	// caller's collaborator layer. Empty means use the ambient environment.
	Credential string `json:"credential,omitempty"`
}

// ErrorCode is a machine-readable classification of a failure.
type ErrorCode string

const (
	CodeMalformedCommand      ErrorCode = "MalformedCommand"
	CodeUnsafeSyntax          ErrorCode = "UnsafeSyntax"
	CodeToolMismatch          ErrorCode = "ToolMismatch"
	CodeVerbNotAllowed        ErrorCode = "VerbNotAllowed"
	CodeResourceNameRequired  ErrorCode = "ResourceNameRequired"
	CodePipeUtilityNotAllowed ErrorCode = "PipeUtilityNotAllowed"
	CodeSpawnFailure          ErrorCode = "SpawnFailure"
	CodeTimeoutExceeded       ErrorCode = "TimeoutExceeded"
	CodeAuthenticationFailure ErrorCode = "AuthenticationFailure"
	CodeExecutionError        ErrorCode = "ExecutionError"
	CodeInvalidRequest        ErrorCode = "InvalidRequest"
)

// CommandError is a failure with a machine-readable code. Validation denials,
// spawn failures, and timeouts all surface as CommandError values; none of
// them are fatal to the process.
type CommandError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewCommandError builds a CommandError with a formatted message.
func NewCommandError(code ErrorCode, format string, args ...any) *CommandError {
	return &CommandError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches one detail key to the error and returns it.
func (e *CommandError) WithDetail(key string, value any) *CommandError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// ExecutionStatus is the terminal state of one execution.
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusError   ExecutionStatus = "error"
	StatusTimeout ExecutionStatus = "timeout"
)

// ExecutionResult is the outcome of running one validated pipeline. It is
// created per request and discarded after the response is returned.
type ExecutionResult struct {
	Status    ExecutionStatus
	Output    string
	Stderr    string
	ExitCode  *int
	Duration  time.Duration
	Truncated bool
	Err       *CommandError
}

// ExitCodeOf wraps an exit code for the ExitCode pointer field.
func ExitCodeOf(code int) *int { return &code }
