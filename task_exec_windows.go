//go:build windows

package main

import "os/exec"

// killProcessGroupOnCancel keeps the default Cancel on Windows, which kills
// only the direct child. WaitDelay still bounds the wait for its output.
func killProcessGroupOnCancel(cmd *exec.Cmd) {}
