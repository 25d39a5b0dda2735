//go:build linux

package camera

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

type linuxBackend struct {
	device  string
	tempDir string
}

func (l *linuxBackend) captureRaw() ([]byte, error) {
	tmpFile := filepath.Join(l.tempDir, "frame.jpg")
	// Try fswebcam first, fall back to ffmpeg
	var cmd *exec.Cmd
	if _, err := exec.LookPath("fswebcam"); err == nil {
		cmd = exec.Command("fswebcam", "-q", "--no-banner", "-d", l.device, tmpFile)
	} else if _, err := exec.LookPath("ffmpeg"); err == nil {
		cmd = exec.Command("ffmpeg", "-loglevel", "error", "-y", "-f", "v4l2", "-i", l.device, "-frames:v", "1", tmpFile)
	} else {
		return nil, fmt.Errorf("%w (install fswebcam or ffmpeg)", ErrNoBackend)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("camera capture: %w: %s", err, stderr.String())
	}
	defer os.Remove(tmpFile)
	return os.ReadFile(tmpFile)
}

func (l *linuxBackend) cleanup() {}

// New creates a platform-specific camera capturer.
// An empty device selects /dev/video0.
func New(device string) Capturer {
	if device == "" {
		device = "/dev/video0"
	}
	tmpDir := newTempDir()
	return newBase(&linuxBackend{device: device, tempDir: tmpDir}, tmpDir)
}
