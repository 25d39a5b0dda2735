//go:build windows

package camera

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

type windowsBackend struct {
	device  string
	tempDir string
}

func (w *windowsBackend) captureRaw() ([]byte, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("%w (install ffmpeg)", ErrNoBackend)
	}
	tmpFile := filepath.Join(w.tempDir, "frame.jpg")
	cmd := exec.Command("ffmpeg", "-loglevel", "error", "-y", "-f", "dshow", "-i", "video="+w.device, "-frames:v", "1", tmpFile)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, stderr.String())
	}
	defer os.Remove(tmpFile)
	return os.ReadFile(tmpFile)
}

func (w *windowsBackend) cleanup() {}

// New creates a platform-specific camera capturer.
// device is the DirectShow device name.
func New(device string) Capturer {
	if device == "" {
		device = "Integrated Camera"
	}
	tmpDir := newTempDir()
	return newBase(&windowsBackend{device: device, tempDir: tmpDir}, tmpDir)
}
