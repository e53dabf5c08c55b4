package security

import (
	"path/filepath"
	"strings"

	"github.com/clawinfra/kubeclaw/internal/parser"
	"github.com/clawinfra/kubeclaw/internal/types"
)

// validatePipeChain checks every stage after the first against the allowed
// pipe-utility list. A single bad stage discards the whole request; the
// first stage is never executed on its own.
func (v *Validator) validatePipeChain(stages []parser.Stage) Verdict {
	for i, stage := range stages {
		prog := stage.Program()
		name, ok := v.resolveUtility(prog)
		if !ok {
			return deny(types.CodePipeUtilityNotAllowed,
				"pipe utility %q at position %d is not allowed", prog, i+2)
		}
		if !v.policy.PipeUtilityAllowed(name) {
			return deny(types.CodePipeUtilityNotAllowed,
				"pipe utility %q at position %d is not in the allowed list", name, i+2)
		}
	}
	return Verdict{Allowed: true, Risk: RiskSafe}
}

// resolveUtility maps a stage program to the utility name checked against
// the allowlist. Bare names pass through; path-qualified invocations are
// only accepted from the sanctioned bin directories, which blocks both
// relative traversal (../../bin/curl) and absolute paths to arbitrary
// binaries (/tmp/evil).
func (v *Validator) resolveUtility(prog string) (string, bool) {
	if prog == "" {
		return "", false
	}
	if !strings.Contains(prog, "/") {
		return prog, true
	}
	if !filepath.IsAbs(prog) {
		return "", false
	}
	clean := filepath.Clean(prog)
	if clean != prog {
		return "", false
	}
	dir := filepath.Dir(clean)
	for _, allowed := range v.policy.PipeBinDirs {
		if dir == allowed {
			return filepath.Base(clean), true
		}
	}
	return "", false
}
