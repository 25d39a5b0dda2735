// Package orchestrator runs one business-card scan attempt at a time, from a
// settled camera frame through OCR, filtering, extraction and validation.
package orchestrator

import "time"

// Pipeline defaults
const (
	// Camera sampling period
	DefaultSamplingInterval = 200 * time.Millisecond

	// How long the success and error states stay visible before idle
	DefaultSuccessDisplay = 2 * time.Second
	DefaultErrorDisplay   = 3 * time.Second

	// Buffered state/result events before slow consumers start missing them
	EventBuffer = 64

	// Recent-scan history kept for the UI
	HistoryMaxEntries = 50

	// Reason shown for error outcomes; the cause is logged, not displayed
	ErrorReason = "scan failed, please try again"

	// Attempt audit batching
	AuditBatchSize  = 50
	AuditFlushDelay = 2 * time.Second
)
