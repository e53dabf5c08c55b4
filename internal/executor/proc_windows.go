//go:build windows

package executor

import "os/exec"

// Windows has no POSIX process groups; stages are killed individually.

func configureLead(_ *exec.Cmd) {}

func joinGroup(_ *exec.Cmd, _ int) {}

func terminate(cmds []*exec.Cmd, _ int) {
	for _, cmd := range cmds {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
}
