// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package extractor

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/localtube/localtube/internal/log"
)

const defaultDebugLogPath = "data/ytdlp-debug.log"

// debugSink captures raw extractor JSON lines per LOCALTUBE_YTDLP_DEBUG:
// "off" (default, no capture), "log" (emit at debug level through the
// structured logger), "file" (append to defaultDebugLogPath), or
// "file:<path>" (append to an explicit path). File appends are guarded
// by a single mutex; parent directories are created lazily on first
// write.
type debugSink struct {
	mode string
	path string

	mu      sync.Mutex
	file    *os.File
	openErr error
	opened  bool
}

func newDebugSink(mode string) *debugSink {
	mode = strings.TrimSpace(mode)
	if mode == "" {
		mode = "off"
	}

	s := &debugSink{mode: "off"}
	switch {
	case mode == "off":
		return s
	case mode == "log":
		s.mode = "log"
	case mode == "file":
		s.mode = "file"
		s.path = defaultDebugLogPath
	case strings.HasPrefix(mode, "file:"):
		s.mode = "file"
		s.path = strings.TrimPrefix(mode, "file:")
	default:
		log.WithComponent("extractor").Warn().Str("value", mode).
			Msg("invalid LOCALTUBE_YTDLP_DEBUG value, disabling capture")
		return s
	}
	return s
}

func (s *debugSink) capture(op, line string) {
	switch s.mode {
	case "log":
		log.WithComponent("extractor").Debug().Str("op", op).Msg(line)
	case "file":
		s.appendFile(op, line)
	}
}

func (s *debugSink) appendFile(op, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		s.opened = true
		if dir := filepath.Dir(s.path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				s.openErr = err
			}
		}
		if s.openErr == nil {
			s.file, s.openErr = os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		}
		if s.openErr != nil {
			log.WithComponent("extractor").Warn().Err(s.openErr).Str("path", s.path).
				Msg("cannot open ytdlp debug log, disabling capture")
		}
	}
	if s.file == nil {
		return
	}
	_, _ = s.file.WriteString("[" + op + "] " + line + "\n")
}
