// Package credentials materializes caller-supplied kubeconfig credentials as
// short-lived temp files. A credential is scoped to exactly one request:
// created immediately before execution, removed on every exit path.
package credentials

import (
	"encoding/base64"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/clawinfra/kubeclaw/internal/types"
)

// TempKubeconfig is a kubeconfig written to a private temp file.
type TempKubeconfig struct {
	Path string
}

// Materialize decodes a base64 kubeconfig, checks that it is well-formed
// YAML, and writes it to a 0600 temp file. The caller owns the file and must
// call Remove when the request finishes.
func Materialize(encoded string) (*TempKubeconfig, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, types.NewCommandError(types.CodeInvalidRequest, "credential is not valid base64: %v", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, types.NewCommandError(types.CodeInvalidRequest, "credential is not a YAML kubeconfig: %v", err)
	}
	if len(doc) == 0 {
		return nil, types.NewCommandError(types.CodeInvalidRequest, "credential kubeconfig is empty")
	}

	f, err := os.CreateTemp("", "kubeconfig-*.yaml")
	if err != nil {
		return nil, fmt.Errorf("create credential file: %w", err)
	}
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("restrict credential file: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write credential file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("close credential file: %w", err)
	}
	return &TempKubeconfig{Path: f.Name()}, nil
}

// Env returns the environment entry pointing the CLI tools at the file.
func (t *TempKubeconfig) Env() string {
	return "KUBECONFIG=" + t.Path
}

// Remove deletes the temp file. Removing twice is harmless.
func (t *TempKubeconfig) Remove() error {
	if t == nil || t.Path == "" {
		return nil
	}
	err := os.Remove(t.Path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credential file: %w", err)
	}
	return nil
}
