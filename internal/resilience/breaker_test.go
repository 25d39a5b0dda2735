package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/GriffinCanCode/cardscan/internal/errors"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return New("ai_extractor", cfg).WithClock(clk.Now), clk
}

var serviceDown = apperrors.ExtractionService(nil, "upstream returned 503")

func TestBreakerStartsClosed(t *testing.T) {
	b := New("ai_extractor", DefaultConfig())
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, "ai_extractor", b.Name())
	assert.NoError(t, b.Allow())
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 3, Cooldown: time.Hour})

	b.Failure()
	b.Failure()
	require.Equal(t, Closed, b.State())

	b.Failure()
	assert.Equal(t, Open, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestBreakerSuccessResetsFailureRun(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 2, Cooldown: time.Hour})
	b.Failure()
	b.Success()
	b.Failure()
	assert.Equal(t, Closed, b.State(), "failures must be consecutive")
}

func TestBreakerSingleProbeAfterCooldown(t *testing.T) {
	b, clk := newTestBreaker(Config{Threshold: 1, Cooldown: time.Second, Probes: 2})
	b.Failure()

	clk.Advance(500 * time.Millisecond)
	assert.ErrorIs(t, b.Allow(), ErrOpen, "still cooling down")

	clk.Advance(time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, HalfOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen, "one probe at a time")

	b.Success()
	require.Equal(t, HalfOpen, b.State(), "needs two good probes")
	require.NoError(t, b.Allow())
	b.Success()
	assert.Equal(t, Closed, b.State())
}

func TestBreakerReopensOnProbeFailure(t *testing.T) {
	b, clk := newTestBreaker(Config{Threshold: 1, Cooldown: time.Second, Probes: 3})
	b.Failure()
	clk.Advance(2 * time.Second)
	require.NoError(t, b.Allow())

	b.Failure()
	assert.Equal(t, Open, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen, "cooldown restarts")
}

func TestBreakerRecordClassifiesErrors(t *testing.T) {
	b, clk := newTestBreaker(Config{Threshold: 2, Cooldown: time.Second})

	b.Record(apperrors.ExtractionParse(nil, "not json"))
	b.Record(apperrors.ExtractionParse(nil, "not json"))
	assert.Equal(t, Closed, b.State(), "a bad answer is still an answer")

	b.Record(serviceDown)
	b.Record(serviceDown)
	require.Equal(t, Open, b.State())

	clk.Advance(2 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(context.Canceled)
	assert.Equal(t, HalfOpen, b.State())
	assert.NoError(t, b.Allow(), "cancellation releases the probe")
}

func TestBreakerCustomTrips(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 1, Trips: func(error) bool { return true }})
	b.Record(errors.New("anything"))
	assert.Equal(t, Open, b.State())
}

func TestBreakerExecute(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 1, Cooldown: time.Hour})

	assert.ErrorIs(t, b.Execute(func() error { return serviceDown }), serviceDown)

	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "fn must not run while open")
}

func TestBreakerExecuteWithResult(t *testing.T) {
	b, _ := newTestBreaker(DefaultConfig())
	v, err := ExecuteWithResult(b, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = ExecuteWithResult(b, func() (int, error) { return 7, serviceDown })
	assert.Error(t, err)
	assert.Zero(t, v)
}

func TestBreakerHook(t *testing.T) {
	var got []State
	b, clk := newTestBreaker(Config{Threshold: 1, Cooldown: time.Second, Probes: 1})
	b.WithHook(func(name string, from, to State) {
		assert.Equal(t, "ai_extractor", name)
		assert.NotEqual(t, from, to)
		got = append(got, to)
	})

	b.Failure()
	clk.Advance(2 * time.Second)
	require.NoError(t, b.Allow())
	b.Success()
	b.Reset()

	assert.Equal(t, []State{Open, HalfOpen, Closed}, got, "Reset on a closed breaker is silent")
}

func TestBreakerConcurrentSafety(t *testing.T) {
	b := New("race", Config{Threshold: 1000, Cooldown: time.Hour})
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Allow() != nil {
				return
			}
			if i%2 == 0 {
				b.Failure()
			} else {
				b.Success()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, Closed, b.State())
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Closed: "closed", Open: "open", HalfOpen: "half-open", State(9): "unknown"} {
		assert.Equal(t, want, s.String())
	}
}

func TestConfigDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	assert.Equal(t, DefaultThreshold, c.Threshold)
	assert.Equal(t, DefaultCooldown, c.Cooldown)
	assert.Equal(t, DefaultProbes, c.Probes)
	assert.NotNil(t, c.Trips)
}
