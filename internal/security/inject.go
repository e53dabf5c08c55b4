package security

import (
	"github.com/clawinfra/kubeclaw/internal/types"
)

// InjectDefaults rewrites the first stage's argument vector to carry the
// policy's default context and namespace when the caller omitted them.
// Caller-supplied flags are never removed, reordered, or overridden; the
// injected pair is placed before any bare "--" separator so it cannot leak
// into a remote command. This runs strictly after validation succeeds.
func (v *Validator) InjectDefaults(tool types.Tool, argv []string) []string {
	spec, err := v.policy.ToolSpecFor(tool)
	if err != nil {
		return argv
	}

	out := argv
	if spec.ContextFlag != "" && v.policy.DefaultContext != "" && !hasFlag(out, spec.ContextFlag) {
		out = insertBeforeSeparator(out, spec.ContextFlag, v.policy.DefaultContext)
	}
	if spec.NamespaceFlag != "" && v.policy.DefaultNamespace != "" &&
		!hasFlag(out, spec.NamespaceFlag) && !hasFlag(out, "-n") && !hasFlag(out, "--all-namespaces") && !hasFlag(out, "-A") {
		out = insertBeforeSeparator(out, spec.NamespaceFlag, v.policy.DefaultNamespace)
	}
	return out
}

// insertBeforeSeparator appends a flag/value pair at the end of the argument
// vector, or just before the first bare "--" when one is present.
func insertBeforeSeparator(argv []string, flag, value string) []string {
	sep := -1
	for i, a := range argv {
		if a == "--" {
			sep = i
			break
		}
	}
	if sep < 0 {
		out := make([]string, 0, len(argv)+2)
		out = append(out, argv...)
		return append(out, flag, value)
	}
	out := make([]string, 0, len(argv)+2)
	out = append(out, argv[:sep]...)
	out = append(out, flag, value)
	return append(out, argv[sep:]...)
}
