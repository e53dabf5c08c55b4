// Package security decides whether a parsed command pipeline may execute.
// It checks the first stage against the per-tool policy (binary, verb
// allowlist, dangerous-verb resource requirements), every later stage
// against the pipe-utility allowlist, and injects default cluster-scoping
// flags once a command has been approved. All checks are pure functions over
// the immutable policy, so a single Validator is safe for concurrent use.
package security

import (
	"fmt"
	"strings"

	"github.com/clawinfra/kubeclaw/internal/parser"
	"github.com/clawinfra/kubeclaw/internal/policy"
	"github.com/clawinfra/kubeclaw/internal/types"
)

// Risk classifies how an approved or denied command was judged.
type Risk string

const (
	RiskSafe                 Risk = "safe"
	RiskRequiresResourceName Risk = "requires-resource-name"
	RiskDenied               Risk = "denied"
)

// Verdict is the outcome of validating one command.
type Verdict struct {
	Allowed bool
	Risk    Risk
	// Code and Reason are set when the command is denied.
	Code   types.ErrorCode
	Reason string
}

// Err converts a deny verdict into a CommandError. Allowed verdicts return nil.
func (v Verdict) Err() error {
	if v.Allowed {
		return nil
	}
	return types.NewCommandError(v.Code, "%s", v.Reason)
}

func deny(code types.ErrorCode, format string, args ...any) Verdict {
	return Verdict{Allowed: false, Risk: RiskDenied, Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Validator checks commands against a security policy.
type Validator struct {
	policy *policy.Policy
}

// NewValidator creates a validator over an immutable policy.
func NewValidator(p *policy.Policy) *Validator {
	return &Validator{policy: p}
}

// Validate runs the full validation sequence: raw-string syntax scan, first
// stage checks, then the pipe chain. A deny verdict short-circuits; nothing
// is ever partially approved.
func (v *Validator) Validate(tool types.Tool, raw string, stages []parser.Stage) Verdict {
	if err := ScanSyntax(raw); err != nil {
		return deny(types.CodeUnsafeSyntax, "%s", err.Error())
	}
	verdict := v.validateFirstStage(tool, stages[0])
	if !verdict.Allowed {
		return verdict
	}
	if chain := v.validatePipeChain(stages[1:]); !chain.Allowed {
		return chain
	}
	return verdict
}

// validateFirstStage checks the tool stage of the pipeline.
func (v *Validator) validateFirstStage(tool types.Tool, stage parser.Stage) Verdict {
	spec, err := v.policy.ToolSpecFor(tool)
	if err != nil {
		return deny(types.CodeToolMismatch, "%s", err.Error())
	}

	if prog := stage.Program(); prog != spec.Binary {
		return deny(types.CodeToolMismatch,
			"command invokes %q, expected %q for tool %s", prog, spec.Binary, tool)
	}

	verb := firstPositional(positionalsOf(stage.Argv[1:]))
	if verb == "" {
		return deny(types.CodeVerbNotAllowed, "command must include a %s action", spec.Binary)
	}
	if !spec.VerbAllowed(verb) {
		return deny(types.CodeVerbNotAllowed, "%s %s is not in the allowed verb list", spec.Binary, verb)
	}

	// Help invocations are always safe, even for dangerous verbs.
	if hasHelpFlag(stage.Argv) {
		return Verdict{Allowed: true, Risk: RiskSafe}
	}

	if tool == types.ToolKubectl && verb == "exec" {
		if reason := bareShellReason(stage.Argv); reason != "" {
			return deny(types.CodeVerbNotAllowed, "%s", reason)
		}
	}

	rule, dangerous := spec.DangerousRuleFor(verb)
	if !dangerous {
		return Verdict{Allowed: true, Risk: RiskSafe}
	}

	args := stage.Argv[indexAfterVerb(stage.Argv, verb):]
	if hasFlag(args, "--all") {
		return deny(types.CodeResourceNameRequired,
			"%s %s --all is restricted; name the resources explicitly", spec.Binary, verb)
	}
	positionals := countResourceArgs(args)
	if positionals < rule.MinArgs {
		if hasSelectorFlag(args) {
			return deny(types.CodeResourceNameRequired,
				"%s %s with only a selector is restricted; a concrete resource name is required", spec.Binary, verb)
		}
		return deny(types.CodeResourceNameRequired,
			"%s %s requires an explicit resource name", spec.Binary, verb)
	}
	return Verdict{Allowed: true, Risk: RiskRequiresResourceName}
}

// boolFlags are flags known not to consume the following token. Any other
// flag without an inline =value is assumed to take a value, so the token
// after it is never mistaken for a resource name.
var boolFlags = map[string]bool{
	"--all": true, "--all-namespaces": true, "-A": true,
	"--force": true, "--now": true, "--wait": true, "--ignore-not-found": true,
	"-i": true, "-t": true, "-it": true, "-ti": true, "--stdin": true, "--tty": true,
	"-h": true, "--help": true, "--dry-run": true, "--watch": true, "-w": true,
}

// positionalsOf returns the flag-free arguments before a bare "--",
// skipping the value token of every value-taking flag.
func positionalsOf(args []string) []string {
	var out []string
	skip := false
	for _, a := range args {
		if a == "--" {
			break
		}
		if skip {
			skip = false
			continue
		}
		if strings.HasPrefix(a, "-") {
			if !boolFlags[a] && !strings.Contains(a, "=") {
				skip = true
			}
			continue
		}
		out = append(out, a)
	}
	return out
}

func firstPositional(positionals []string) string {
	if len(positionals) == 0 {
		return ""
	}
	return positionals[0]
}

// indexAfterVerb returns the index just past the verb token.
func indexAfterVerb(argv []string, verb string) int {
	for i, a := range argv {
		if a == verb {
			return i + 1
		}
	}
	return len(argv)
}

// countResourceArgs counts the arguments that can name resources. A
// type/name form like pod/web counts as two: it already binds a name to a
// resource type.
func countResourceArgs(args []string) int {
	n := 0
	for _, a := range positionalsOf(args) {
		if strings.Contains(a, "/") {
			n += 2
			continue
		}
		n++
	}
	return n
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == "--" {
			return false
		}
		if a == flag || strings.HasPrefix(a, flag+"=") {
			return true
		}
	}
	return false
}

func hasHelpFlag(argv []string) bool {
	for _, a := range argv {
		if a == "--" {
			return false
		}
		if a == "--help" || a == "-h" {
			return true
		}
	}
	return false
}

func hasSelectorFlag(args []string) bool {
	for _, f := range []string{"-l", "--selector", "--field-selector"} {
		if hasFlag(args, f) {
			return true
		}
	}
	return false
}

// bareShellReason rejects kubectl exec invocations whose remote command is a
// bare shell without explicit interactive flags. Running a specific command
// or an explicitly requested interactive session is fine.
func bareShellReason(argv []string) string {
	sep := -1
	for i, a := range argv {
		if a == "--" {
			sep = i
			break
		}
	}
	if sep < 0 || sep == len(argv)-1 {
		return ""
	}
	remote := argv[sep+1:]
	if len(remote) != 1 {
		return ""
	}
	switch remote[0] {
	case "sh", "bash", "zsh", "/bin/sh", "/bin/bash", "/bin/zsh":
	default:
		return ""
	}
	for _, a := range argv[:sep] {
		switch a {
		case "-i", "-t", "-it", "-ti", "--stdin", "--tty":
			return ""
		}
	}
	return "interactive shells via kubectl exec are restricted; run an explicit command or pass -it"
}
