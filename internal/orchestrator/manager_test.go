package orchestrator

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cameracap "github.com/GriffinCanCode/cardscan/internal/camera"
	"github.com/GriffinCanCode/cardscan/internal/metrics"
	"github.com/GriffinCanCode/cardscan/internal/orchestrator/audit"
)

// stillCamera returns the same checkerboard frame forever, tagged so the
// stub OCR reads the card text from it.
type stillCamera struct {
	frame  *cameracap.Frame
	closed bool
	mu     sync.Mutex
}

func newStillCamera() *stillCamera {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			if (x/4+y/4)%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	f := cameracap.FromImage(img)
	f.Encoded = []byte("front")
	return &stillCamera{frame: f}
}

func (c *stillCamera) Capture() (*cameracap.Frame, error) { return c.frame, nil }
func (c *stillCamera) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

type auditSink struct {
	mu      sync.Mutex
	records []audit.Record
}

func (a *auditSink) InsertAttempts(_ context.Context, rs []audit.Record) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rs...)
	return len(rs), nil
}

func (s *stubOCR) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestManager(t *testing.T, cam cameracap.Capturer) (*Manager, *fixture, *metrics.Metrics, *auditSink) {
	t.Helper()
	f := newFixture(t, nil)
	m := metrics.New(prometheus.NewRegistry())
	sink := &auditSink{}
	mgr := NewManager(ManagerConfig{
		Orchestrator:     f.o,
		Capturer:         cam,
		SamplingInterval: 2 * time.Millisecond,
		Audit:            audit.NewBatcher(sink, 10, time.Hour),
		Metrics:          m,
	})
	t.Cleanup(mgr.Stop)
	return mgr, f, m, sink
}

func TestManagerRecordsResults(t *testing.T) {
	mgr, f, m, sink := newTestManager(t, nil)
	ctx := context.Background()

	res, err := mgr.Scan(ctx, Attempt{Image: []byte("front"), Trigger: "upload"})
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, res.Outcome)

	f.ocr.text["front"] = "hello"
	_, err = mgr.Scan(ctx, Attempt{Image: []byte("front"), Trigger: "upload"})
	require.NoError(t, err)

	entries, err := mgr.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, string(OutcomePrefilterRejected), entries[0].Outcome)
	assert.Equal(t, string(OutcomeAccepted), entries[1].Outcome)
	assert.Equal(t, "山田太郎", entries[1].Name)
	assert.Equal(t, "card-1", entries[1].CardID)

	counts, err := mgr.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[string(OutcomeAccepted)])

	last := mgr.Status().LastCard
	require.NotNil(t, last)
	assert.Equal(t, "株式会社テスト", last.Company)
	assert.Equal(t, "card-1", last.ID)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Attempts.WithLabelValues("accepted", "upload")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExtractorSource.WithLabelValues("rules")))

	mgr.Stop()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.records, 2, "audit flushed on stop")
	assert.Equal(t, "accepted", sink.records[0].Outcome)
	assert.Equal(t, "card-1", sink.records[0].CardID)
}

func TestManagerWithoutCamera(t *testing.T) {
	mgr, _, _, _ := newTestManager(t, nil)
	assert.False(t, mgr.SetDetecting(true))
	st := mgr.Status()
	assert.False(t, st.Camera)
	assert.Equal(t, StateIdle, st.State)
	assert.Nil(t, st.LastCard, "nothing accepted yet")
}

func TestManagerCameraScansOnceAfterAccept(t *testing.T) {
	cam := newStillCamera()
	mgr, f, m, _ := newTestManager(t, cam)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr.Start(ctx)
	assert.False(t, mgr.Status().Detecting, "detection starts off")
	require.True(t, mgr.SetDetecting(true))

	require.Eventually(t, func() bool { return mgr.Status().ScanCount == 1 }, 2*time.Second, 5*time.Millisecond)

	// The accepted scene does not change, so no second attempt reaches OCR.
	assert.Never(t, func() bool { return f.ocr.callCount() > 1 }, 100*time.Millisecond, 5*time.Millisecond)
	assert.Greater(t, mgr.Status().Frames, 5)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.Settles), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.FramesSampled), 5.0)

	mgr.Stop()
	cam.mu.Lock()
	assert.True(t, cam.closed)
	cam.mu.Unlock()
}

func TestManagerCameraRetriesAfterError(t *testing.T) {
	cam := newStillCamera()
	mgr, f, _, _ := newTestManager(t, cam)
	f.ocr.err = errors.New("ocr offline")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr.Start(ctx)
	mgr.SetDetecting(true)

	require.Eventually(t, func() bool { return f.ocr.callCount() >= 2 }, 2*time.Second, 5*time.Millisecond,
		"an error outcome leaves the scene eligible for another attempt")

	entries, err := mgr.History(ctx, 1)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, string(OutcomeError), entries[0].Outcome)
}

func TestManagerCameraRescansHeldCardAfterReject(t *testing.T) {
	cam := newStillCamera()
	mgr, f, _, _ := newTestManager(t, cam)
	f.ocr.setText("front", "hello")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr.Start(ctx)
	mgr.SetDetecting(true)

	require.Eventually(t, func() bool { return f.ocr.callCount() >= 2 }, 2*time.Second, 5*time.Millisecond,
		"a silently rejected scene is read again while it is held still")

	// The card comes into focus without the picture changing enough to move the hash.
	f.ocr.setText("front", cardText)
	require.Eventually(t, func() bool { return mgr.Status().ScanCount == 1 }, 2*time.Second, 5*time.Millisecond)

	counts, err := mgr.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[string(OutcomeAccepted)])
	assert.GreaterOrEqual(t, counts[string(OutcomePrefilterRejected)], int64(2))
}

func TestManagerCameraSceneTTLExpires(t *testing.T) {
	cam := newStillCamera()
	f := newFixture(t, nil)
	mgr := NewManager(ManagerConfig{
		Orchestrator:     f.o,
		Capturer:         cam,
		SamplingInterval: 2 * time.Millisecond,
		SceneTTL:         time.Nanosecond,
	})
	t.Cleanup(mgr.Stop)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr.Start(ctx)
	mgr.SetDetecting(true)

	require.Eventually(t, func() bool { return mgr.Status().ScanCount == 1 }, 2*time.Second, 5*time.Millisecond)
	// Once the scene TTL lapses the held card is read again and the
	// duplicate guard takes over.
	require.Eventually(t, func() bool { return f.ocr.callCount() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, mgr.Status().ScanCount)
}

func TestManagerDisableResets(t *testing.T) {
	cam := newStillCamera()
	mgr, f, _, _ := newTestManager(t, cam)

	_, err := mgr.Scan(context.Background(), frontAttempt())
	require.NoError(t, err)
	require.Equal(t, StateSuccess, f.o.State())

	mgr.SetDetecting(true)
	mgr.SetDetecting(false)
	assert.Equal(t, StateIdle, f.o.State())
	assert.False(t, mgr.Status().Detecting)
}

func TestManagerSubscribe(t *testing.T) {
	mgr, _, _, _ := newTestManager(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe := mgr.Subscribe(16)
	defer unsubscribe()
	mgr.Start(ctx)

	_, err := mgr.Scan(ctx, frontAttempt())
	require.NoError(t, err)

	var states []State
	timeout := time.After(2 * time.Second)
	for len(states) < 3 {
		select {
		case ev := <-events:
			states = append(states, ev.State)
		case <-timeout:
			t.Fatalf("got %v", states)
		}
	}
	assert.Equal(t, []State{StateDetecting, StateProcessing, StateSuccess}, states)
}
