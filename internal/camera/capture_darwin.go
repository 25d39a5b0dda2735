//go:build darwin

package camera

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

type darwinBackend struct {
	device  string
	tempDir string
}

func (d *darwinBackend) captureRaw() ([]byte, error) {
	if _, err := exec.LookPath("imagesnap"); err != nil {
		return nil, fmt.Errorf("%w (install imagesnap)", ErrNoBackend)
	}
	tmpFile := filepath.Join(d.tempDir, "frame.jpg")
	args := []string{"-q"}
	if d.device != "" {
		args = append(args, "-d", d.device)
	}
	cmd := exec.Command("imagesnap", append(args, tmpFile)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("imagesnap: %w: %s", err, stderr.String())
	}
	defer os.Remove(tmpFile)
	return os.ReadFile(tmpFile)
}

func (d *darwinBackend) cleanup() {}

// New creates a platform-specific camera capturer.
// An empty device selects the default camera.
func New(device string) Capturer {
	tmpDir := newTempDir()
	return newBase(&darwinBackend{device: device, tempDir: tmpDir}, tmpDir)
}
