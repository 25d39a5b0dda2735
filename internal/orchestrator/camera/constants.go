// Package camera samples camera frames and triggers a scan when the picture settles
package camera

import "time"

// Camera processing constants
const (
	// Hamming distance at or below which two settled frames show the same scene
	MaxHashDistance = 4

	// How long an accepted scene suppresses further settles on it
	DefaultSceneTTL = 3 * time.Second
)
