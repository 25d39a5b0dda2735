package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/cardscan/internal/card"
	apperrors "github.com/GriffinCanCode/cardscan/internal/errors"
	"github.com/GriffinCanCode/cardscan/internal/extract"
	"github.com/GriffinCanCode/cardscan/internal/orchestrator/dedupe"
	"github.com/GriffinCanCode/cardscan/internal/prefilter"
	"github.com/GriffinCanCode/cardscan/internal/trace"
	"github.com/GriffinCanCode/cardscan/internal/validate"
)

// State is the pipeline state visible to callers.
type State string

// Pipeline states
const (
	StateIdle       State = "idle"
	StateDetecting  State = "detecting"
	StateProcessing State = "processing"
	StateSuccess    State = "success"
	StateError      State = "error"
)

// Outcome classifies how an attempt ended. Only OutcomeAccepted and
// OutcomeError are surfaced to the user; the rest return silently to idle.
type Outcome string

// Attempt outcomes
const (
	OutcomeAccepted           Outcome = "accepted"
	OutcomePrefilterRejected  Outcome = "prefilter_rejected"
	OutcomeNotACard           Outcome = "not_a_card"
	OutcomeIncomplete         Outcome = "incomplete"
	OutcomeValidationRejected Outcome = "validation_rejected"
	OutcomeDuplicate          Outcome = "duplicate"
	OutcomeDiscarded          Outcome = "discarded"
	OutcomeError              Outcome = "error"
)

// Attempt is the input of one scan.
type Attempt struct {
	Image     []byte // front side, JPEG or PNG
	BackImage []byte // optional reverse side
	Text      string // pre-recognized text; skips OCR when set
	BackText  string // pre-recognized reverse side; wins over BackImage
	Still     bool   // a deliberate still photo rather than a camera frame
	Trigger   string // "camera", "still", "text"
}

// Result describes a finished attempt.
type Result struct {
	Outcome  Outcome       `json:"outcome"`
	Card     *card.Card    `json:"card,omitempty"`
	Score    int           `json:"score"`
	Reason   string        `json:"reason,omitempty"`
	Source   string        `json:"source,omitempty"`
	Trigger  string        `json:"trigger,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"-"`
	Elapsed  int64         `json:"elapsedMs"`
}

// Event reports a state change, with the attempt result when one finished.
type Event struct {
	State     State     `json:"state"`
	Result    *Result   `json:"result,omitempty"`
	ScanCount int       `json:"scanCount"`
	At        time.Time `json:"at"`
}

// OCR recognizes text in an encoded image.
type OCR interface {
	DetectText(ctx context.Context, image []byte) (card.OcrResult, error)
}

// Sink persists accepted cards and returns the stored ID.
type Sink interface {
	Save(ctx context.Context, c card.Card) (string, error)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, c card.Card) (string, error)

// Save calls f.
func (f SinkFunc) Save(ctx context.Context, c card.Card) (string, error) { return f(ctx, c) }

// Scheduler runs f after d and returns a function that cancels it.
// f must not run synchronously.
type Scheduler func(d time.Duration, f func()) (cancel func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Config wires the pipeline stages.
type Config struct {
	OCR            OCR
	Extractor      extract.Extractor
	Prefilter      *prefilter.Filter // camera frames
	StillPrefilter *prefilter.Filter // stills and pasted text
	Validator      *validate.Validator
	Guard          *dedupe.Guard
	Sink           Sink // optional

	// StageHook, when set, observes the duration of each stage that ran:
	// "ocr", "extract", "validate" and "persist".
	StageHook func(stage string, d time.Duration)

	SuccessDisplay time.Duration
	ErrorDisplay   time.Duration
	Scheduler      Scheduler
	Now            func() time.Time
}

// Orchestrator runs scan attempts strictly one at a time.
type Orchestrator struct {
	cfg Config

	mu        sync.Mutex
	state     State
	inflight  bool
	epoch     uint64
	display   uint64
	cancelIdl func() bool
	scanCount int

	events   chan Event
	onResult []func(context.Context, Result)
}

// New creates an orchestrator. OCR, Extractor and Prefilter are required.
func New(cfg Config) *Orchestrator {
	if cfg.StillPrefilter == nil {
		cfg.StillPrefilter = cfg.Prefilter
	}
	if cfg.Validator == nil {
		cfg.Validator = validate.New()
	}
	if cfg.Guard == nil {
		cfg.Guard = dedupe.New(dedupe.DefaultCooldown)
	}
	if cfg.SuccessDisplay <= 0 {
		cfg.SuccessDisplay = DefaultSuccessDisplay
	}
	if cfg.ErrorDisplay <= 0 {
		cfg.ErrorDisplay = DefaultErrorDisplay
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = afterFunc
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		cfg:    cfg,
		state:  StateIdle,
		events: make(chan Event, EventBuffer),
	}
}

// OnResult registers a callback run synchronously after every attempt.
// Register before the first scan.
func (o *Orchestrator) OnResult(fn func(context.Context, Result)) {
	o.onResult = append(o.onResult, fn)
}

// Events returns the state-change stream. Events are dropped when the
// buffer is full.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// State returns the current pipeline state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// ScanCount returns the number of accepted cards.
func (o *Orchestrator) ScanCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.scanCount
}

// Busy reports whether an attempt is in flight. Frame sampling must not run
// while busy.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inflight
}

// Reset returns to idle and marks any in-flight attempt stale, so its result
// is discarded when it completes.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.epoch++
	o.display++
	if o.cancelIdl != nil {
		o.cancelIdl()
		o.cancelIdl = nil
	}
	changed := o.state != StateIdle
	o.state = StateIdle
	o.mu.Unlock()

	if changed {
		o.emit(StateIdle, nil)
	}
}

// Scan runs one attempt. It returns a PipelineBusy error when another attempt
// is in flight; every other failure is reported in Result.Err with
// OutcomeError.
func (o *Orchestrator) Scan(ctx context.Context, a Attempt) (Result, error) {
	epoch, ok := o.begin()
	if !ok {
		return Result{}, apperrors.New(apperrors.PipelineBusy, "a scan is already in progress")
	}
	defer o.end()

	ctx, span := trace.StartSpan(ctx, "scan_attempt")
	defer span.End()
	span.SetAttr("trigger", a.Trigger)

	start := o.cfg.Now()
	res := o.run(ctx, epoch, a)
	res.Trigger = a.Trigger
	res.Duration = o.cfg.Now().Sub(start)
	res.Elapsed = res.Duration.Milliseconds()
	span.SetAttr("outcome", string(res.Outcome))

	log := trace.Logger(ctx)
	switch res.Outcome {
	case OutcomeAccepted:
		log.Info("card accepted", "name", res.Card.Name, "company", res.Card.Company, "source", res.Source, "duration", res.Duration)
	case OutcomeError:
		log.Error("scan failed", "error", res.Err, "duration", res.Duration)
	default:
		log.Debug("scan rejected", "outcome", res.Outcome, "score", res.Score, "reason", res.Reason)
	}

	for _, fn := range o.onResult {
		fn(ctx, res)
	}
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, epoch uint64, a Attempt) Result {
	if !o.transition(epoch, StateProcessing, nil) {
		return Result{Outcome: OutcomeDiscarded}
	}

	t0 := o.cfg.Now()
	ocr, back, err := o.recognize(ctx, a)
	o.observe("ocr", t0)
	if err != nil {
		return o.fail(epoch, err)
	}

	filter := o.cfg.Prefilter
	if a.Still || a.Text != "" {
		filter = o.cfg.StillPrefilter
	}
	verdict := filter.Score(ocr.FullText, ocr.Lines)
	if !verdict.IsValid {
		return o.silent(epoch, Result{Outcome: OutcomePrefilterRejected, Score: verdict.Score, Reason: verdict.Reason})
	}

	t0 = o.cfg.Now()
	ext, err := o.cfg.Extractor.Extract(ctx, ocr)
	o.observe("extract", t0)
	if err != nil {
		return o.fail(epoch, err)
	}
	res := Result{Score: verdict.Score, Source: ext.Source}
	if !ext.IsBusinessCard {
		res.Outcome, res.Reason = OutcomeNotACard, "extractor reported not a business card"
		return o.silent(epoch, res)
	}

	c := ext.Card
	c.RawTextBack = back
	source := ocr.FullText
	if back != "" {
		source += "\n" + back
	}

	t0 = o.cfg.Now()
	v := o.cfg.Validator.Validate(c, source)
	o.observe("validate", t0)
	if !v.IsValid {
		res.Outcome, res.Reason = OutcomeValidationRejected, v.Reason
		return o.silent(epoch, res)
	}
	if !c.Complete() {
		res.Outcome, res.Reason = OutcomeIncomplete, "name and company are required"
		return o.silent(epoch, res)
	}
	if o.stale(epoch) {
		return Result{Outcome: OutcomeDiscarded}
	}
	if o.cfg.Guard.ShouldSuppress(c) {
		res.Outcome, res.Reason = OutcomeDuplicate, "same card accepted within cooldown"
		return o.silent(epoch, res)
	}

	if o.cfg.Sink != nil {
		t0 = o.cfg.Now()
		id, err := o.cfg.Sink.Save(ctx, c)
		o.observe("persist", t0)
		if err != nil {
			return o.fail(epoch, err)
		}
		c.ID = id
	}
	if o.stale(epoch) {
		return Result{Outcome: OutcomeDiscarded}
	}
	o.cfg.Guard.Record(c)

	res.Outcome, res.Card = OutcomeAccepted, &c
	if !o.settle(epoch, StateSuccess, o.cfg.SuccessDisplay, &res) {
		return Result{Outcome: OutcomeDiscarded}
	}
	return res
}

// recognize returns the front text and, when a back image is given, its text.
// Failing to read the back side is logged and ignored.
func (o *Orchestrator) recognize(ctx context.Context, a Attempt) (card.OcrResult, string, error) {
	var front card.OcrResult
	if strings.TrimSpace(a.Text) != "" {
		front = card.NewOcrResult(a.Text, nil)
	} else {
		if len(a.Image) == 0 {
			return card.OcrResult{}, "", apperrors.New(apperrors.InvalidArgument, "attempt has neither image nor text")
		}
		var err error
		if front, err = o.cfg.OCR.DetectText(ctx, a.Image); err != nil {
			return card.OcrResult{}, "", err
		}
	}

	if back := strings.TrimSpace(a.BackText); back != "" {
		return front, back, nil
	}
	if len(a.BackImage) == 0 {
		return front, "", nil
	}
	back, err := o.cfg.OCR.DetectText(ctx, a.BackImage)
	if err != nil {
		trace.Logger(ctx).Warn("back side OCR failed", "error", err)
		return front, "", nil
	}
	return front, back.FullText, nil
}

func (o *Orchestrator) observe(stage string, since time.Time) {
	if o.cfg.StageHook != nil {
		o.cfg.StageHook(stage, o.cfg.Now().Sub(since))
	}
}

func (o *Orchestrator) begin() (uint64, bool) {
	o.mu.Lock()
	if o.inflight {
		o.mu.Unlock()
		return 0, false
	}
	o.inflight = true
	o.display++
	if o.cancelIdl != nil {
		o.cancelIdl()
		o.cancelIdl = nil
	}
	o.state = StateDetecting
	epoch := o.epoch
	o.mu.Unlock()

	o.emit(StateDetecting, nil)
	return epoch, true
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.inflight = false
	o.mu.Unlock()
}

func (o *Orchestrator) stale(epoch uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.epoch != epoch
}

// transition moves to s unless the attempt went stale.
func (o *Orchestrator) transition(epoch uint64, s State, res *Result) bool {
	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		return false
	}
	o.state = s
	o.mu.Unlock()

	o.emit(s, res)
	return true
}

// silent ends a rejected attempt without surfacing an error.
func (o *Orchestrator) silent(epoch uint64, res Result) Result {
	if !o.transition(epoch, StateIdle, &res) {
		return Result{Outcome: OutcomeDiscarded}
	}
	return res
}

// fail surfaces a generic reason; err stays on the result for logs.
func (o *Orchestrator) fail(epoch uint64, err error) Result {
	res := Result{Outcome: OutcomeError, Err: err, Reason: ErrorReason}
	if !o.settle(epoch, StateError, o.cfg.ErrorDisplay, &res) {
		return Result{Outcome: OutcomeDiscarded, Err: err}
	}
	return res
}

// settle enters a display state and schedules the return to idle.
func (o *Orchestrator) settle(epoch uint64, s State, d time.Duration, res *Result) bool {
	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		return false
	}
	o.state = s
	if s == StateSuccess {
		o.scanCount++
	}
	o.display++
	token := o.display
	o.cancelIdl = o.cfg.Scheduler(d, func() { o.returnToIdle(token) })
	o.mu.Unlock()

	o.emit(s, res)
	return true
}

func (o *Orchestrator) returnToIdle(token uint64) {
	o.mu.Lock()
	if o.display != token || (o.state != StateSuccess && o.state != StateError) {
		o.mu.Unlock()
		return
	}
	o.state = StateIdle
	o.cancelIdl = nil
	o.mu.Unlock()

	o.emit(StateIdle, nil)
}

func (o *Orchestrator) emit(s State, res *Result) {
	o.mu.Lock()
	ev := Event{State: s, Result: res, ScanCount: o.scanCount, At: o.cfg.Now()}
	o.mu.Unlock()

	select {
	case o.events <- ev:
	default:
	}
}
