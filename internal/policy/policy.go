// Package policy holds the immutable security policy consumed by the
// validator and executor. A Policy is built once at startup, either from
// compiled-in defaults or from a TOML file, and is never mutated afterwards;
// concurrent requests share it read-only.
package policy

import (
	"fmt"
	"time"

	"github.com/clawinfra/kubeclaw/internal/types"
)

// DangerousRule constrains a verb whose blast radius requires an explicit
// resource name. MinArgs is the minimum number of flag-free arguments that
// must follow the verb (e.g. delete needs a resource type and a name).
type DangerousRule struct {
	MinArgs int
}

// ToolSpec describes one supported CLI tool.
type ToolSpec struct {
	// Binary is the program name the first pipeline stage must invoke.
	Binary string
	// AllowedVerbs is the verb allowlist; anything absent is denied.
	AllowedVerbs []string
	// Dangerous maps verbs to their resource-name requirements.
	Dangerous map[string]DangerousRule
	// ContextFlag and NamespaceFlag name the tool's cluster-scoping flags.
	// Empty means the tool does not accept that flag and the injector
	// leaves the command alone.
	ContextFlag   string
	NamespaceFlag string
	// CheckArgs is the argv (after the binary) used to probe availability.
	CheckArgs []string
}

// VerbAllowed reports whether v is in the tool's allowlist.
func (s ToolSpec) VerbAllowed(v string) bool {
	for _, allowed := range s.AllowedVerbs {
		if v == allowed {
			return true
		}
	}
	return false
}

// DangerousRuleFor returns the rule for v, if v is a dangerous verb.
func (s ToolSpec) DangerousRuleFor(v string) (DangerousRule, bool) {
	r, ok := s.Dangerous[v]
	return r, ok
}

// Policy is the process-wide security policy.
type Policy struct {
	Tools map[types.Tool]ToolSpec

	// PipeUtilities is the allowlist for every pipeline stage after the
	// first. PipeBinDirs are the only directories a path-qualified
	// utility may be invoked from.
	PipeUtilities []string
	PipeBinDirs   []string

	MaxPipelineStages int
	MaxCommandLength  int
	MaxOutputBytes    int

	DefaultTimeout time.Duration
	MaxTimeout     time.Duration

	// DefaultContext and DefaultNamespace are injected into commands that
	// omit the corresponding flags. An empty DefaultContext disables
	// context injection.
	DefaultContext   string
	DefaultNamespace string
}

// ToolSpecFor returns the spec for a tool.
func (p *Policy) ToolSpecFor(tool types.Tool) (ToolSpec, error) {
	s, ok := p.Tools[tool]
	if !ok {
		return ToolSpec{}, fmt.Errorf("no policy for tool %q", tool)
	}
	return s, nil
}

// PipeUtilityAllowed reports whether name is an allowed pipe utility.
func (p *Policy) PipeUtilityAllowed(name string) bool {
	for _, u := range p.PipeUtilities {
		if name == u {
			return true
		}
	}
	return false
}

// ResolveTimeout resolves a caller-supplied timeout in seconds against the
// policy: zero selects the default, anything above the maximum is an error,
// as is anything negative. Out-of-range values are rejected, never silently
// adjusted.
func (p *Policy) ResolveTimeout(seconds int) (time.Duration, error) {
	if seconds == 0 {
		return p.DefaultTimeout, nil
	}
	if seconds < 0 {
		return 0, fmt.Errorf("timeout must be positive, got %d", seconds)
	}
	d := time.Duration(seconds) * time.Second
	if d > p.MaxTimeout {
		return 0, fmt.Errorf("timeout %ds exceeds maximum %s", seconds, p.MaxTimeout)
	}
	return d, nil
}

// Validate checks internal consistency after loading.
func (p *Policy) Validate() error {
	if len(p.Tools) == 0 {
		return fmt.Errorf("policy defines no tools")
	}
	for tool, spec := range p.Tools {
		if !tool.Valid() {
			return fmt.Errorf("unknown tool %q in policy", tool)
		}
		if spec.Binary == "" {
			return fmt.Errorf("tool %q has no binary name", tool)
		}
		if len(spec.AllowedVerbs) == 0 {
			return fmt.Errorf("tool %q allows no verbs", tool)
		}
		for verb := range spec.Dangerous {
			if !spec.VerbAllowed(verb) {
				return fmt.Errorf("tool %q marks verb %q dangerous but does not allow it", tool, verb)
			}
		}
	}
	if p.MaxPipelineStages < 1 {
		return fmt.Errorf("max_pipeline_stages must be at least 1")
	}
	if p.MaxCommandLength < 1 {
		return fmt.Errorf("max_command_length must be at least 1")
	}
	if p.MaxOutputBytes < 1 {
		return fmt.Errorf("max_output_bytes must be at least 1")
	}
	if p.DefaultTimeout <= 0 || p.MaxTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if p.DefaultTimeout > p.MaxTimeout {
		return fmt.Errorf("default timeout %s exceeds maximum %s", p.DefaultTimeout, p.MaxTimeout)
	}
	return nil
}

// Default returns the compiled-in policy.
func Default() *Policy {
	return &Policy{
		Tools: map[types.Tool]ToolSpec{
			types.ToolKubectl: {
				Binary: "kubectl",
				AllowedVerbs: []string{
					"get", "describe", "logs", "top", "explain", "events",
					"api-resources", "api-versions", "cluster-info", "config",
					"version", "auth", "diff", "wait",
					"apply", "create", "scale", "rollout", "label", "annotate", "patch",
					"delete", "exec", "cp", "drain", "port-forward", "replace",
				},
				Dangerous: map[string]DangerousRule{
					"delete":       {MinArgs: 2},
					"exec":         {MinArgs: 1},
					"cp":           {MinArgs: 2},
					"drain":        {MinArgs: 1},
					"port-forward": {MinArgs: 1},
					"replace":      {MinArgs: 1},
				},
				ContextFlag:   "--context",
				NamespaceFlag: "--namespace",
				CheckArgs:     []string{"version", "--client"},
			},
			types.ToolIstioctl: {
				Binary: "istioctl",
				AllowedVerbs: []string{
					"analyze", "version", "profile", "validate",
					"proxy-status", "proxy-config", "dashboard", "experimental",
				},
				Dangerous: map[string]DangerousRule{
					"proxy-config": {MinArgs: 1},
					"dashboard":    {MinArgs: 1},
					"experimental": {MinArgs: 1},
				},
				ContextFlag:   "--context",
				NamespaceFlag: "--namespace",
				CheckArgs:     []string{"version", "--remote=false"},
			},
			types.ToolHelm: {
				Binary: "helm",
				AllowedVerbs: []string{
					"list", "status", "get", "history", "show", "search",
					"repo", "version", "template", "lint", "env", "pull", "test",
					"install", "upgrade", "uninstall", "delete", "rollback",
				},
				Dangerous: map[string]DangerousRule{
					"delete":    {MinArgs: 1},
					"uninstall": {MinArgs: 1},
					"rollback":  {MinArgs: 1},
					"upgrade":   {MinArgs: 2},
				},
				ContextFlag:   "--kube-context",
				NamespaceFlag: "--namespace",
				CheckArgs:     []string{"version"},
			},
			types.ToolArgoCD: {
				Binary: "argocd",
				AllowedVerbs: []string{
					"app", "cluster", "repo", "proj", "account", "context", "version",
				},
				// argocd groups operations under noun verbs; the rule
				// arity covers the sub-action plus its target name.
				Dangerous: map[string]DangerousRule{
					"app":     {MinArgs: 2},
					"cluster": {MinArgs: 2},
					"repo":    {MinArgs: 2},
				},
				CheckArgs: []string{"version", "--client"},
			},
		},
		PipeUtilities: []string{
			"cat", "grep", "sed", "awk", "cut", "sort", "uniq", "wc",
			"head", "tail", "tr", "find", "echo", "xargs", "jq", "yq",
			"tee", "column", "nl", "paste",
		},
		PipeBinDirs:       []string{"/bin", "/usr/bin", "/usr/local/bin"},
		MaxPipelineStages: 5,
		MaxCommandLength:  2048,
		MaxOutputBytes:    100_000,
		DefaultTimeout:    300 * time.Second,
		MaxTimeout:        600 * time.Second,
		DefaultNamespace:  "default",
	}
}
