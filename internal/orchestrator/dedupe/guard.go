// Package dedupe suppresses a card that was just accepted from being accepted
// again while it is still held in front of the camera.
package dedupe

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/cardscan/internal/card"
)

// DefaultCooldown is how long an accepted fingerprint suppresses repeats.
const DefaultCooldown = 3 * time.Second

// Guard remembers only the most recently accepted fingerprint. A card that
// reappears after a different card was accepted counts as new.
type Guard struct {
	mu       sync.Mutex
	cooldown time.Duration
	now      func() time.Time
	last     string
	lastTime time.Time
}

// New creates a guard. A cooldown of zero never suppresses.
func New(cooldown time.Duration) *Guard {
	return &Guard{cooldown: cooldown, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// ShouldSuppress reports whether c repeats the last accepted card within the
// cooldown. It does not change state.
func (g *Guard) ShouldSuppress(c card.Card) bool {
	fp := c.Fingerprint()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last != "" && fp == g.last && g.now().Sub(g.lastTime) < g.cooldown
}

// Record stores c as the last accepted card.
func (g *Guard) Record(c card.Card) {
	fp := c.Fingerprint()
	g.mu.Lock()
	g.last, g.lastTime = fp, g.now()
	g.mu.Unlock()
}

// Reset forgets the last accepted card.
func (g *Guard) Reset() {
	g.mu.Lock()
	g.last, g.lastTime = "", time.Time{}
	g.mu.Unlock()
}
