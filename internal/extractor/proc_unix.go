// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix && !windows

package extractor

import (
	"errors"
	"os/exec"
	"syscall"
	"time"

	"github.com/localtube/localtube/internal/metrics"
)

// yt-dlp forks helpers of its own (ffmpeg remuxes, fragment
// downloaders) that must not outlive an abandoned stream or download.
// Every invocation therefore starts as the leader of a fresh process
// group, and termination is addressed to the whole group.

func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// signalProcessGroup delivers sig to the command's process group. A
// group that has already been reaped is not an error.
func signalProcessGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	// Setpgid made the child a group leader, so its pid is the pgid.
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
	if err := syscall.Kill(-pgid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

// stopProcessGroup winds down an extractor invocation: SIGTERM to the
// group, up to grace for the command to be reaped (waitCh is fed by the
// goroutine that owns the single cmd.Wait call), then SIGKILL and an
// unconditional wait for the reap. Returns the wait error, so a clean
// exit before the grace elapsed reads as nil.
func stopProcessGroup(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	recordSignal("SIGTERM", signalProcessGroup(cmd, syscall.SIGTERM))
	select {
	case err := <-waitCh:
		recordReap(err, false)
		return err
	case <-time.After(grace):
	}

	recordSignal("SIGKILL", signalProcessGroup(cmd, syscall.SIGKILL))
	err := <-waitCh
	recordReap(err, true)
	return err
}

func recordSignal(name string, err error) {
	outcome := "sent"
	if err != nil {
		outcome = "error"
	}
	metrics.IncProcTerminate(name, outcome)
}

func recordReap(err error, forced bool) {
	switch {
	case forced:
		metrics.IncProcWait("forced")
	case err == nil:
		metrics.IncProcWait("clean")
	default:
		metrics.IncProcWait("signalled")
	}
}
