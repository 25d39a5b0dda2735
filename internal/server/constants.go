// Package server exposes the scan pipeline over HTTP and WebSocket.
package server

import "time"

// Server configuration constants
const (
	// Upload limits for POST /api/scan
	MaxUploadBytes = 20 << 20
	MaxTextBytes   = 64 << 10

	// Default and maximum page sizes for listings
	DefaultPageSize = 50
	MaxPageSize     = 500

	// Per-IP sliding window over scan requests and websocket commands
	IPRateLimitMessages        = 30
	IPRateLimitWindow          = time.Second
	IPRateLimitCleanupInterval = 5 * time.Minute
	IPRateLimitEntryTTL        = 10 * time.Minute

	// Websocket subscriber buffer and per-message write deadline
	WSEventBuffer  = 32
	WSWriteTimeout = 5 * time.Second
)
