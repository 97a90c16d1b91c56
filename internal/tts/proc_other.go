//go:build !unix

package tts

import "os/exec"

// isolate keeps the default exec cancellation, which kills the child process.
func isolate(cmd *exec.Cmd) {}
