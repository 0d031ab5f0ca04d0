// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Correlation fields (see context.go)
	FieldRequestID = "request_id"
	FieldTaskID    = "task_id"
	FieldSourceID  = "source_id"
	FieldMediaID   = "media_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldTaskType  = "task_type"

	// Path / URL fields
	FieldPath = "path"
	FieldURL  = "url"

	// VPN fields
	FieldVPNStatus = "vpn_status"
)
