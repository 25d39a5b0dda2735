package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/GriffinCanCode/cardscan/internal/card"
	apperrors "github.com/GriffinCanCode/cardscan/internal/errors"
	"github.com/GriffinCanCode/cardscan/internal/metrics"
	"github.com/GriffinCanCode/cardscan/internal/resilience"
	"github.com/GriffinCanCode/cardscan/internal/trace"
)

// CardStore is where the worker writes cards.
type CardStore interface {
	Save(ctx context.Context, c card.Card) (string, error)
}

// Handler processes save tasks. It is separate from Worker so it can be
// exercised without Redis.
type Handler struct {
	store   CardStore
	metrics *metrics.Metrics
}

// NewHandler creates a save-task handler.
func NewHandler(store CardStore, m *metrics.Metrics) *Handler {
	return &Handler{store: store, metrics: m}
}

// ProcessTask implements asynq.Handler. Malformed payloads and permanent
// store errors skip retry; transient ones are retried by asynq.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p savePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.metrics.IncQueueTask("failed")
		return fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	if p.TraceID != "" {
		ctx = trace.WithContext(ctx, trace.NewChild(trace.Context{TraceID: p.TraceID}))
	}
	ctx, span := trace.StartSpan(ctx, "queue_save_card")
	defer span.End()
	span.SetAttr("card_id", p.Card.ID)

	log := trace.Logger(ctx)
	if _, err := h.store.Save(ctx, p.Card); err != nil {
		if resilience.IsRetryable(err) {
			h.metrics.IncQueueTask("retry")
			log.Warn("card save failed, will retry", "card_id", p.Card.ID, "error", err)
			return err
		}
		h.metrics.IncQueueTask("failed")
		log.Error("card save failed permanently", "card_id", p.Card.ID, "error", err)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	h.metrics.IncQueueTask("ok")
	log.Info("card persisted", "card_id", p.Card.ID)
	return nil
}

// Worker runs the asynq server for save tasks.
type Worker struct {
	srv *asynq.Server
	mux *asynq.ServeMux
}

// NewWorker creates a worker consuming from redisURL.
func NewWorker(redisURL string, concurrency int, h *Handler) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ConfigInvalid, "parse redis URL")
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency:    max(concurrency, 1),
		Queues:         map[string]int{QueueName: 1},
		RetryDelayFunc: retryDelay,
		Logger:         slogAdapter{slog.Default().With("component", "asynq")},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			id, _ := asynq.GetTaskID(ctx)
			retried, _ := asynq.GetRetryCount(ctx)
			slog.Warn("queue task failed", "type", t.Type(), "task_id", id, "retried", retried, "error", err)
		}),
	})
	mux := asynq.NewServeMux()
	mux.Handle(TypeSaveCard, h)
	return &Worker{srv: srv, mux: mux}, nil
}

// Run processes tasks until ctx is cancelled, then drains in-flight tasks.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.srv.Start(w.mux); err != nil {
		return apperrors.Wrap(err, apperrors.QueueFailed, "start worker")
	}
	<-ctx.Done()
	w.srv.Shutdown()
	return nil
}

// taskBackoff spaces redeliveries 2s, 4s, 8s... up to a minute.
var taskBackoff = resilience.Backoff{Base: 2 * time.Second, Max: time.Minute}

func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	return taskBackoff.Delay(n)
}

// slogAdapter satisfies asynq.Logger.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a slogAdapter) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a slogAdapter) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a slogAdapter) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a slogAdapter) Fatal(args ...any) { a.l.Error(fmt.Sprint(args...)); os.Exit(1) }
