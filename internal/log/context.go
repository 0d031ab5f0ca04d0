// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package log provides structured logging utilities.
package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey int

// Correlation values carried through context: the HTTP request id for
// the API surface, and the task/source/media identity for background
// jobs. Workers stash these once at job entry so every log line they
// (or the packages they call into) emit carries the same correlation
// fields without threading ids through each call.
const (
	requestIDKey ctxKey = iota
	taskIDKey
	sourceIDKey
	mediaIDKey
)

// ContextWithRequestID stores an HTTP request id in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the HTTP request id, if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithTaskID stores a registry task id in the context. Set by
// the download/refresh workers once their task handle exists.
func ContextWithTaskID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, taskIDKey, id)
}

// TaskIDFromContext extracts the registry task id, if present.
func TaskIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(taskIDKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithSourceID stores the catalog source id a job is working on.
func ContextWithSourceID(ctx context.Context, id int64) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sourceIDKey, id)
}

// SourceIDFromContext extracts the catalog source id, if present.
func SourceIDFromContext(ctx context.Context) (int64, bool) {
	if ctx == nil {
		return 0, false
	}
	v, ok := ctx.Value(sourceIDKey).(int64)
	return v, ok
}

// ContextWithMediaID stores the catalog media id a job is working on.
func ContextWithMediaID(ctx context.Context, id int64) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, mediaIDKey, id)
}

// MediaIDFromContext extracts the catalog media id, if present.
func MediaIDFromContext(ctx context.Context) (int64, bool) {
	if ctx == nil {
		return 0, false
	}
	v, ok := ctx.Value(mediaIDKey).(int64)
	return v, ok
}

// WithContext enriches the supplied logger with whichever correlation
// fields the context carries.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	builder := logger.With()
	added := false
	if rid := RequestIDFromContext(ctx); rid != "" {
		builder = builder.Str(FieldRequestID, rid)
		added = true
	}
	if tid := TaskIDFromContext(ctx); tid != "" {
		builder = builder.Str(FieldTaskID, tid)
		added = true
	}
	if sid, ok := SourceIDFromContext(ctx); ok {
		builder = builder.Int64(FieldSourceID, sid)
		added = true
	}
	if mid, ok := MediaIDFromContext(ctx); ok {
		builder = builder.Int64(FieldMediaID, mid)
		added = true
	}
	if !added {
		return logger
	}
	return builder.Logger()
}

// WithComponentFromContext returns a logger annotated with the
// component name and every correlation field the context carries.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	l := FromContext(ctx)
	return WithContext(ctx, l.With().Str(FieldComponent, component).Logger())
}

// FromContext returns a logger from the context, or the base logger if
// none is attached.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		l := Base()
		return &l
	}
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		b := Base()
		return &b
	}
	return l
}
