// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package stream serves recorded media files over HTTP with single-range
// byte semantics.
package stream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/localtube/localtube/internal/catalog"
	"github.com/localtube/localtube/internal/log"
	"github.com/localtube/localtube/internal/metrics"
)

// chunkSize is the copy buffer used when streaming a body.
const chunkSize = 16 * 1024

// contentTypes maps a filename extension to the Content-Type served.
// Anything else falls back to application/octet-stream.
var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
}

// errUnsatisfiable marks a bytes range that cannot be satisfied against
// the file's size (HTTP 416).
var errUnsatisfiable = errors.New("stream: unsatisfiable range")

// byteRange is an inclusive [Start, End] byte span.
type byteRange struct {
	Start int64
	End   int64
}

// Streamer serves a stored media file by id.
type Streamer struct {
	Catalog   *catalog.Store
	MediaRoot string
}

// ServeMedia streams the media with the given id. Missing rows, missing
// or unsafe paths all collapse to 404 so the response shape leaks
// nothing about the media root's layout.
func (s *Streamer) ServeMedia(w http.ResponseWriter, r *http.Request, mediaID int64) {
	logger := log.WithComponentFromContext(r.Context(), "stream")

	media, err := s.Catalog.GetMedia(r.Context(), mediaID)
	if errors.Is(err, catalog.ErrNotFound) {
		metrics.StreamRequests.WithLabelValues("404").Inc()
		http.NotFound(w, r)
		return
	}
	if err != nil {
		logger.Error().Err(err).Int64(log.FieldMediaID, mediaID).Msg("load media")
		metrics.StreamRequests.WithLabelValues("500").Inc()
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if media.MediaPath == nil || !safeRelPath(*media.MediaPath) {
		metrics.StreamRequests.WithLabelValues("404").Inc()
		http.NotFound(w, r)
		return
	}

	fullPath := filepath.Join(s.MediaRoot, filepath.FromSlash(*media.MediaPath))
	f, err := os.Open(fullPath)
	if err != nil {
		metrics.StreamRequests.WithLabelValues("404").Inc()
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		metrics.StreamRequests.WithLabelValues("404").Inc()
		http.NotFound(w, r)
		return
	}
	size := info.Size()

	w.Header().Set("Content-Type", contentTypeFor(*media.MediaPath))

	rng, ok, err := parseRange(r.Header.Get("Range"), size)
	if err != nil {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		metrics.StreamRequests.WithLabelValues("416").Inc()
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	w.Header().Set("Accept-Ranges", "bytes")
	if !ok {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		metrics.StreamRequests.WithLabelValues("200").Inc()
		w.WriteHeader(http.StatusOK)
		s.copyBody(w, f, size)
		return
	}

	if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
		logger.Error().Err(err).Str(log.FieldPath, *media.MediaPath).Msg("seek")
		metrics.StreamRequests.WithLabelValues("500").Inc()
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	length := rng.End - rng.Start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	metrics.StreamRequests.WithLabelValues("206").Inc()
	w.WriteHeader(http.StatusPartialContent)
	s.copyBody(w, f, length)
}

func (s *Streamer) copyBody(w http.ResponseWriter, f *os.File, length int64) {
	buf := make([]byte, chunkSize)
	n, err := io.CopyBuffer(w, io.LimitReader(f, length), buf)
	metrics.StreamBytesServed.Add(float64(n))
	_ = err // client disconnects mid-stream are routine
}

// safeRelPath reports whether p is a relative path with no parent or
// volume components, so joining it under the media root cannot escape.
func safeRelPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) {
		return false
	}
	if filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return false
	}
	for _, part := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return false
		}
	}
	return true
}

func contentTypeFor(path string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// parseRange interprets a Range header against a file of the given size.
// It returns (r, true, nil) for a valid single bytes range, (zero, false,
// nil) when the header should be ignored and the full body served (no
// header, non-bytes unit, multi-range, or malformed), and
// errUnsatisfiable for a bytes range the file cannot satisfy.
func parseRange(header string, size int64) (byteRange, bool, error) {
	if header == "" {
		return byteRange{}, false, nil
	}

	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return byteRange{}, false, nil
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return byteRange{}, false, nil
	}

	startStr, endStr, found := strings.Cut(spec, "-")
	if !found {
		return byteRange{}, false, nil
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if size == 0 {
		// A zero-length file cannot satisfy any bytes range.
		return byteRange{}, false, errUnsatisfiable
	}

	if startStr == "" {
		// Suffix range: last N bytes, clamped to the whole file.
		if endStr == "" {
			return byteRange{}, false, nil
		}
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return byteRange{}, false, nil
		}
		if n <= 0 {
			return byteRange{}, false, errUnsatisfiable
		}
		if n > size {
			n = size
		}
		return byteRange{Start: size - n, End: size - 1}, true, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, false, nil
	}
	if start >= size {
		return byteRange{}, false, errUnsatisfiable
	}

	if endStr == "" {
		return byteRange{Start: start, End: size - 1}, true, nil
	}

	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < 0 {
		return byteRange{}, false, nil
	}
	if end >= size {
		end = size - 1
	}
	if end < start {
		return byteRange{}, false, errUnsatisfiable
	}
	return byteRange{Start: start, End: end}, true, nil
}
