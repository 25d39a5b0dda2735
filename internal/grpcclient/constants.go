// Package grpcclient provides a client for a remote OCR service over gRPC
package grpcclient

import "time"

// Client configuration defaults
const (
	// Keepalive configuration
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second

	// Per-call deadline for a single OCR request
	DefaultCallTimeout = 15 * time.Second

	// Health check configuration
	HealthCheckTimeout = 2 * time.Second
)

// OCR service method. Messages are google.protobuf.Struct so the service can
// be implemented without generated stubs on either side.
const (
	OCRServiceName   = "cardscan.ocr.v1.OCRService"
	DetectTextMethod = "/" + OCRServiceName + "/DetectText"
)
