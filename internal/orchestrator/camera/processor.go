// Package camera samples camera frames and triggers a scan when the picture settles
package camera

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/corona10/goimagehash"

	cameracap "github.com/GriffinCanCode/cardscan/internal/camera"
	"github.com/GriffinCanCode/cardscan/internal/orchestrator/stability"
)

// SettleFunc handles a settled frame. It runs on the sampling goroutine, so
// sampling pauses until it returns.
type SettleFunc func(ctx context.Context, frame *cameracap.Frame)

// Processor drives the stability detector from a camera.
type Processor struct {
	capturer cameracap.Capturer
	detector *stability.Detector
	busy     func() bool
	onSettle SettleFunc
	onFrame  func()

	mu         sync.Mutex
	enabled    bool
	sceneTTL   time.Duration
	now        func() time.Time
	pending    *goimagehash.ImageHash
	lastHash   *goimagehash.ImageHash
	acceptedAt time.Time
	frames     int
}

// NewProcessor creates a camera processor. busy gates sampling while a scan
// started elsewhere is still running.
func NewProcessor(capturer cameracap.Capturer, detector *stability.Detector, busy func() bool, onSettle SettleFunc) *Processor {
	if busy == nil {
		busy = func() bool { return false }
	}
	return &Processor{
		capturer: capturer,
		detector: detector,
		busy:     busy,
		onSettle: onSettle,
		sceneTTL: DefaultSceneTTL,
		now:      time.Now,
	}
}

// WithSceneTTL sets how long an accepted scene keeps suppressing settles.
// Zero disables the scene gate.
func (p *Processor) WithSceneTTL(d time.Duration) *Processor {
	p.mu.Lock()
	p.sceneTTL = d
	p.mu.Unlock()
	return p
}

// WithClock replaces the time source, for tests.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
	return p
}

// OnFrame registers a callback for every captured frame. Set before Run.
func (p *Processor) OnFrame(fn func()) { p.onFrame = fn }

// Run samples at the given interval until ctx is done or stopCh closes.
func (p *Processor) Run(ctx context.Context, interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick takes one sample and fires the settle handler when the frame settles.
func (p *Processor) Tick(ctx context.Context) {
	if !p.Enabled() || p.busy() {
		return
	}

	frame, err := p.capturer.Capture()
	if err != nil {
		slog.Debug("camera capture error", "error", err)
		return
	}

	p.mu.Lock()
	p.frames++
	p.mu.Unlock()
	if p.onFrame != nil {
		p.onFrame()
	}

	if !p.detector.Observe(frame) {
		return
	}
	if p.sameScene(frame) {
		return
	}
	if p.onSettle != nil {
		p.onSettle(ctx, frame)
	}
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
}

// sameScene computes a perceptual hash and reports whether the settled frame
// shows the last accepted scene within the scene TTL. Otherwise the hash is
// kept as pending until MarkAccepted promotes it.
func (p *Processor) sameScene(frame *cameracap.Frame) bool {
	hash, err := goimagehash.PerceptionHash(frame.Image())

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.pending = nil
		return false
	}
	p.pending = hash

	if p.lastHash == nil || p.now().Sub(p.acceptedAt) >= p.sceneTTL {
		return false
	}
	dist, err := p.lastHash.Distance(hash)
	if err != nil || dist > MaxHashDistance {
		return false
	}
	p.pending = nil
	slog.Debug("settled on an already accepted scene", "distance", dist)
	return true
}

// MarkAccepted remembers the scene of the frame that was just handed to the
// settle handler. Call it from the handler once the card was accepted; scenes
// that were rejected or failed stay eligible for the next settle.
func (p *Processor) MarkAccepted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return
	}
	p.lastHash, p.acceptedAt = p.pending, p.now()
	p.pending = nil
}

// SetEnabled starts or pauses sampling. Pausing resets the detector so a
// stale comparison cannot trigger right after resuming.
func (p *Processor) SetEnabled(enabled bool) {
	p.mu.Lock()
	p.enabled = enabled
	if !enabled {
		p.lastHash, p.pending = nil, nil
	}
	p.mu.Unlock()

	if !enabled {
		p.detector.Reset()
	}
}

// Enabled reports whether sampling is active.
func (p *Processor) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Frames returns the number of frames sampled.
func (p *Processor) Frames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}
