//go:build unix

package executor

import (
	"os/exec"
	"syscall"
)

// configureLead puts the first stage into a new process group; its pid
// becomes the group id for the whole pipeline.
func configureLead(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// joinGroup places a later stage into the lead stage's process group so one
// signal reaches every stage.
func joinGroup(cmd *exec.Cmd, pgid int) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: pgid}
}

// terminate kills the entire process group. Forceful on purpose: once the
// deadline has elapsed there is no graceful shutdown window.
func terminate(cmds []*exec.Cmd, pgid int) {
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
	// Belt and braces for any stage that failed to join the group.
	for _, cmd := range cmds {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
}
