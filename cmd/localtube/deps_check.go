// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"os/exec"

	"github.com/rs/zerolog"
)

const (
	ytdlpBinary  = "yt-dlp"
	ffmpegBinary = "ffmpeg"
)

// checkDownloadDeps verifies the external binaries the extractor facade
// depends on before the daemon starts accepting jobs. yt-dlp is
// mandatory; a missing ffmpeg only degrades remux/embed features, so it
// is warned about rather than fatal.
func checkDownloadDeps(logger zerolog.Logger) (ytdlpPath string, err error) {
	ytdlpPath, err = exec.LookPath(ytdlpBinary)
	if err != nil {
		return "", fmt.Errorf("%s not found on PATH, refusing to start: %w", ytdlpBinary, err)
	}
	logger.Info().Str("binary", ytdlpBinary).Str("path", ytdlpPath).Msg("extractor binary found")

	if ffmpegPath, err := exec.LookPath(ffmpegBinary); err != nil {
		logger.Warn().Str("binary", ffmpegBinary).
			Msg("not found on PATH; remux, metadata embedding and sponsorblock removal will fail")
	} else {
		logger.Info().Str("binary", ffmpegBinary).Str("path", ffmpegPath).Msg("remux binary found")
	}

	return ytdlpPath, nil
}
