//go:build !unix

package agent

import "os/exec"

func newProcessGroup(*exec.Cmd) {}

// killProcessGroupOnCancel keeps exec's default of killing only the agent.
func killProcessGroupOnCancel(*exec.Cmd) {}
