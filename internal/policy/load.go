package policy

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/clawinfra/kubeclaw/internal/types"
)

// fileConfig is the TOML representation of a policy file. Every section is
// optional; absent values fall back to the compiled-in defaults.
type fileConfig struct {
	Limits   limitsConfig          `toml:"limits"`
	Defaults defaultsConfig        `toml:"defaults"`
	Pipes    pipesConfig           `toml:"pipes"`
	Tools    map[string]toolConfig `toml:"tools"`
}

type limitsConfig struct {
	MaxPipelineStages int `toml:"max_pipeline_stages"`
	MaxCommandLength  int `toml:"max_command_length"`
	MaxOutputBytes    int `toml:"max_output_bytes"`
	DefaultTimeoutSec int `toml:"default_timeout_seconds"`
	MaxTimeoutSec     int `toml:"max_timeout_seconds"`
}

type defaultsConfig struct {
	Context   string `toml:"context"`
	Namespace string `toml:"namespace"`
}

type pipesConfig struct {
	AllowedUtilities []string `toml:"allowed_utilities"`
	BinDirs          []string `toml:"bin_dirs"`
}

type toolConfig struct {
	Binary        string         `toml:"binary"`
	AllowedVerbs  []string       `toml:"allowed_verbs"`
	Dangerous     map[string]int `toml:"dangerous"`
	ContextFlag   string         `toml:"context_flag"`
	NamespaceFlag string         `toml:"namespace_flag"`
	CheckArgs     []string       `toml:"check_args"`
}

// Load reads a TOML policy file and overlays it on the compiled-in defaults.
// The returned Policy is validated and must be treated as read-only.
func Load(path string) (*Policy, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, fmt.Errorf("decode policy file %s: %w", path, err)
	}

	p := Default()

	if fc.Limits.MaxPipelineStages > 0 {
		p.MaxPipelineStages = fc.Limits.MaxPipelineStages
	}
	if fc.Limits.MaxCommandLength > 0 {
		p.MaxCommandLength = fc.Limits.MaxCommandLength
	}
	if fc.Limits.MaxOutputBytes > 0 {
		p.MaxOutputBytes = fc.Limits.MaxOutputBytes
	}
	if fc.Limits.DefaultTimeoutSec > 0 {
		p.DefaultTimeout = time.Duration(fc.Limits.DefaultTimeoutSec) * time.Second
	}
	if fc.Limits.MaxTimeoutSec > 0 {
		p.MaxTimeout = time.Duration(fc.Limits.MaxTimeoutSec) * time.Second
	}

	if fc.Defaults.Context != "" {
		p.DefaultContext = fc.Defaults.Context
	}
	if fc.Defaults.Namespace != "" {
		p.DefaultNamespace = fc.Defaults.Namespace
	}

	if len(fc.Pipes.AllowedUtilities) > 0 {
		p.PipeUtilities = fc.Pipes.AllowedUtilities
	}
	if len(fc.Pipes.BinDirs) > 0 {
		p.PipeBinDirs = fc.Pipes.BinDirs
	}

	for name, tc := range fc.Tools {
		tool := types.Tool(name)
		spec, ok := p.Tools[tool]
		if !ok {
			return nil, fmt.Errorf("policy file configures unknown tool %q", name)
		}
		if tc.Binary != "" {
			spec.Binary = tc.Binary
		}
		if len(tc.AllowedVerbs) > 0 {
			spec.AllowedVerbs = tc.AllowedVerbs
		}
		if len(tc.Dangerous) > 0 {
			spec.Dangerous = make(map[string]DangerousRule, len(tc.Dangerous))
			for verb, minArgs := range tc.Dangerous {
				spec.Dangerous[verb] = DangerousRule{MinArgs: minArgs}
			}
		}
		if tc.ContextFlag != "" {
			spec.ContextFlag = tc.ContextFlag
		}
		if tc.NamespaceFlag != "" {
			spec.NamespaceFlag = tc.NamespaceFlag
		}
		if len(tc.CheckArgs) > 0 {
			spec.CheckArgs = tc.CheckArgs
		}
		p.Tools[tool] = spec
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy in %s: %w", path, err)
	}
	return p, nil
}
