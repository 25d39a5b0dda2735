package camera

import (
	"crypto/md5"
	"errors"
	"os"
	"sync"
)

// ErrNoBackend is returned when no capture tool is available on the host.
var ErrNoBackend = errors.New("no camera capture tool available")

// Capturer grabs frames from a camera.
type Capturer interface {
	Capture() (*Frame, error)
	Close()
}

// backend implements platform-specific raw capture
type backend interface {
	captureRaw() ([]byte, error)
	cleanup()
}

// baseCapturer decodes raw captures and reuses the previous frame when the
// encoded bytes did not change.
type baseCapturer struct {
	backend
	mu       sync.Mutex
	lastHash [16]byte
	last     *Frame
	tempDir  string
}

func newBase(b backend, tempDir string) *baseCapturer {
	return &baseCapturer{backend: b, tempDir: tempDir}
}

func (c *baseCapturer) Capture() (*Frame, error) {
	data, err := c.captureRaw()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	hash := md5.Sum(data)
	if c.last != nil && hash == c.lastHash {
		return c.last, nil
	}
	f, err := Decode(data)
	if err != nil {
		return nil, err
	}
	c.lastHash = hash
	c.last = f
	return f, nil
}

func (c *baseCapturer) Close() {
	c.cleanup()
	if c.tempDir != "" {
		os.RemoveAll(c.tempDir)
	}
}

func newTempDir() string {
	dir, err := os.MkdirTemp("", "cardscan-camera-*")
	if err != nil {
		return os.TempDir()
	}
	return dir
}
