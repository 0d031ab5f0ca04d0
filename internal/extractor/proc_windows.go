// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build windows

package extractor

import (
	"os/exec"
	"time"

	"github.com/localtube/localtube/internal/metrics"
)

// Windows has no process groups in the POSIX sense and no graceful
// termination signal, so teardown is a hard kill of the direct child.
// Helpers yt-dlp forked may survive; acceptable for the platforms this
// service actually targets (it ships as a Linux container).

func setProcessGroup(_ *exec.Cmd) {}

func stopProcessGroup(cmd *exec.Cmd, waitCh <-chan error, _ time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil {
		metrics.IncProcTerminate("kill", "error")
	} else {
		metrics.IncProcTerminate("kill", "sent")
	}
	err := <-waitCh
	metrics.IncProcWait("forced")
	return err
}
