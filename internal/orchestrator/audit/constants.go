// Package audit batches scan attempt records for durable storage
package audit

import "time"

// Audit batcher defaults
const (
	DefaultBatcherMaxSize    = 50
	DefaultBatcherFlushDelay = 2 * time.Second
)
