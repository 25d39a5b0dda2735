package orchestrator

import (
	"bytes"
	"context"
	"image/jpeg"
	"sync"
	"time"

	cameracap "github.com/GriffinCanCode/cardscan/internal/camera"
	"github.com/GriffinCanCode/cardscan/internal/card"
	"github.com/GriffinCanCode/cardscan/internal/metrics"
	"github.com/GriffinCanCode/cardscan/internal/orchestrator/audit"
	"github.com/GriffinCanCode/cardscan/internal/orchestrator/camera"
	"github.com/GriffinCanCode/cardscan/internal/orchestrator/history"
	"github.com/GriffinCanCode/cardscan/internal/orchestrator/stability"
	"github.com/GriffinCanCode/cardscan/internal/syncx"
	"github.com/GriffinCanCode/cardscan/internal/trace"
)

// ManagerConfig wires the pipeline to its surroundings. Only Orchestrator is
// required; without a Capturer the manager serves uploads and text only.
type ManagerConfig struct {
	Orchestrator     *Orchestrator
	Capturer         cameracap.Capturer
	Detector         *stability.Detector
	SamplingInterval time.Duration
	SceneTTL         time.Duration // how long an accepted camera scene is not rescanned
	History          history.Store
	Audit            *audit.Batcher
	Metrics          *metrics.Metrics
}

// Status is a snapshot for the status endpoint.
type Status struct {
	State     State `json:"state"`
	ScanCount int   `json:"scanCount"`
	Busy      bool  `json:"busy"`
	Camera    bool  `json:"camera"`
	Detecting bool  `json:"detecting"`
	Frames    int   `json:"frames"`

	// LastCard is the most recently accepted card, if any.
	LastCard *card.Card `json:"lastCard,omitempty"`
}

// Manager owns the camera loop and fans pipeline results out to history,
// audit, metrics and event subscribers.
type Manager struct {
	orch     *Orchestrator
	camera   *camera.Processor
	capturer cameracap.Capturer
	interval time.Duration
	history  history.Store
	audit    *audit.Batcher
	metrics  *metrics.Metrics

	events   *syncx.Fanout[Event]
	lastCard *syncx.Value[*card.Card]

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewManager creates a manager and registers its result hook.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.SamplingInterval <= 0 {
		cfg.SamplingInterval = DefaultSamplingInterval
	}
	if cfg.History == nil {
		cfg.History = history.NewMemoryStore(HistoryMaxEntries)
	}
	m := &Manager{
		orch:     cfg.Orchestrator,
		capturer: cfg.Capturer,
		interval: cfg.SamplingInterval,
		history:  cfg.History,
		audit:    cfg.Audit,
		metrics:  cfg.Metrics,
		events:   syncx.NewFanout[Event](),
		lastCard: syncx.NewValue[*card.Card](nil),
		stopCh:   make(chan struct{}),
	}
	if cfg.Capturer != nil {
		det := cfg.Detector
		if det == nil {
			det = stability.NewDetector(stability.DefaultThreshold, stability.DefaultRunLength)
		}
		m.camera = camera.NewProcessor(cfg.Capturer, det, m.orch.Busy, m.handleSettle)
		if cfg.SceneTTL > 0 {
			m.camera.WithSceneTTL(cfg.SceneTTL)
		}
		m.camera.OnFrame(m.metrics.IncFrame)
	}
	m.orch.OnResult(m.record)
	return m
}

// Start launches the event pump and, when a camera is present, the sampling
// loop. Detection starts disabled; see SetDetecting.
func (m *Manager) Start(ctx context.Context) {
	m.metrics.SetState(string(m.orch.State()))
	m.wg.Add(1)
	go m.pumpEvents(ctx)
	if m.camera != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.camera.Run(ctx, m.interval, m.stopCh)
		}()
	}
}

// Stop halts the loops, flushes the audit trail and closes subscriber channels.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
		if m.audit != nil {
			m.audit.Stop()
		}
		m.events.Close()
		if m.capturer != nil {
			m.capturer.Close()
		}
	})
}

func (m *Manager) pumpEvents(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case ev := <-m.orch.Events():
			m.metrics.SetState(string(ev.State))
			if n := m.events.Publish(ev); n > 0 {
				trace.Logger(ctx).Debug("event dropped for slow subscribers", "state", ev.State, "subscribers", n)
			}
		}
	}
}

// handleSettle runs a camera attempt on the sampling goroutine.
func (m *Manager) handleSettle(ctx context.Context, frame *cameracap.Frame) {
	m.metrics.IncSettle()
	ctx, _ = trace.EnsureContext(ctx)

	img := frame.Encoded
	if len(img) == 0 {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, frame.Image(), &jpeg.Options{Quality: 90}); err != nil {
			trace.Logger(ctx).Warn("encode settled frame", "error", err)
			return
		}
		img = buf.Bytes()
	}

	if _, err := m.orch.Scan(ctx, Attempt{Image: img, Trigger: "camera"}); err != nil {
		trace.Logger(ctx).Debug("settled frame skipped", "error", err)
	}
}

// record is the orchestrator result hook.
func (m *Manager) record(ctx context.Context, res Result) {
	m.metrics.ObserveAttempt(string(res.Outcome), res.Trigger, res.Duration)
	if res.Score > 0 {
		m.metrics.ObserveScore(res.Score)
	}
	m.metrics.IncExtraction(res.Source)

	if res.Outcome == OutcomeDiscarded {
		return
	}
	// Only an accepted card closes the scene; rejects and errors rescan.
	if res.Outcome == OutcomeAccepted && res.Trigger == "camera" && m.camera != nil {
		m.camera.MarkAccepted()
	}

	e := history.Entry{
		At:      time.Now(),
		Outcome: string(res.Outcome),
		Trigger: res.Trigger,
		Score:   res.Score,
		Reason:  res.Reason,
	}
	if res.Card != nil {
		e.CardID, e.Name, e.Company = res.Card.ID, res.Card.Name, res.Card.Company
		c := *res.Card
		m.lastCard.Store(&c)
	}
	if err := m.history.Add(ctx, e); err != nil {
		trace.Logger(ctx).Warn("history write failed", "error", err)
	}

	if m.audit != nil {
		m.audit.Add(audit.Record{
			At:         e.At,
			Outcome:    e.Outcome,
			Trigger:    res.Trigger,
			Source:     res.Source,
			Score:      res.Score,
			Reason:     res.Reason,
			CardID:     e.CardID,
			DurationMS: res.Elapsed,
		})
	}
}

// Scan runs an uploaded or pasted attempt.
func (m *Manager) Scan(ctx context.Context, a Attempt) (Result, error) {
	return m.orch.Scan(ctx, a)
}

// SetDetecting turns camera sampling on or off. Turning it off also resets
// the pipeline, discarding any attempt in flight.
func (m *Manager) SetDetecting(enabled bool) bool {
	if m.camera == nil {
		return false
	}
	m.camera.SetEnabled(enabled)
	if !enabled {
		m.orch.Reset()
	}
	trace.Logger(context.Background()).Info("camera detection changed", "enabled", enabled)
	return true
}

// Reset returns the pipeline to idle.
func (m *Manager) Reset() { m.orch.Reset() }

// Subscribe returns a stream of state changes.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	return m.events.Subscribe(buffer)
}

// Status returns a snapshot of the pipeline.
func (m *Manager) Status() Status {
	s := Status{
		State:     m.orch.State(),
		ScanCount: m.orch.ScanCount(),
		Busy:      m.orch.Busy(),
		Camera:    m.camera != nil,
		LastCard:  m.lastCard.Load(),
	}
	if m.camera != nil {
		s.Detecting = m.camera.Enabled()
		s.Frames = m.camera.Frames()
	}
	return s
}

// History returns recent attempts, newest first.
func (m *Manager) History(ctx context.Context, limit int) ([]history.Entry, error) {
	return m.history.Recent(ctx, limit)
}

// Counts returns attempt totals by outcome.
func (m *Manager) Counts(ctx context.Context) (map[string]int64, error) {
	return m.history.Counts(ctx)
}
