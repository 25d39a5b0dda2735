// Package queue moves card persistence off the scan path: the publisher
// enqueues accepted cards on Redis via asynq, and the worker writes them to
// the card store.
package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/GriffinCanCode/cardscan/internal/card"
	apperrors "github.com/GriffinCanCode/cardscan/internal/errors"
	"github.com/GriffinCanCode/cardscan/internal/trace"
)

// Task settings
const (
	TypeSaveCard    = "card:save"
	QueueName       = "cards"
	DefaultMaxRetry = 10
	DefaultTimeout  = 30 * time.Second
)

// savePayload is the task body. TraceID joins worker logs to the scan.
type savePayload struct {
	Card    card.Card `json:"card"`
	TraceID string    `json:"traceId,omitempty"`
}

// NewSaveTask builds the task that persists c. c.ID must be set; it doubles
// as the asynq task id so a card is enqueued at most once.
func NewSaveTask(ctx context.Context, c card.Card) (*asynq.Task, error) {
	if c.ID == "" {
		return nil, apperrors.New(apperrors.InvalidArgument, "card id is required")
	}
	p := savePayload{Card: c}
	if tc, ok := trace.FromContext(ctx); ok {
		p.TraceID = tc.TraceID
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal, "encode save task")
	}
	return asynq.NewTask(TypeSaveCard, body,
		asynq.TaskID(c.ID),
		asynq.Queue(QueueName),
		asynq.MaxRetry(DefaultMaxRetry),
		asynq.Timeout(DefaultTimeout),
	), nil
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Publisher is an orchestrator sink that queues cards instead of writing them.
type Publisher struct {
	client enqueuer
	newID  func() string
}

// NewPublisher connects to Redis at redisURL.
func NewPublisher(redisURL string) (*Publisher, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ConfigInvalid, "parse redis URL")
	}
	return &Publisher{client: asynq.NewClient(opt), newID: uuid.NewString}, nil
}

// Save assigns the card an id and enqueues it. The id is returned before the
// card is durable; the worker inserts it under that id.
func (p *Publisher) Save(ctx context.Context, c card.Card) (string, error) {
	if c.ID == "" {
		c.ID = p.newID()
	}
	task, err := NewSaveTask(ctx, c)
	if err != nil {
		return "", err
	}
	info, err := p.client.EnqueueContext(ctx, task)
	if stderrors.Is(err, asynq.ErrTaskIDConflict) {
		return c.ID, nil
	}
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.QueueFailed, "enqueue card")
	}
	trace.Logger(ctx).Debug("card queued", "card_id", c.ID, "queue", info.Queue)
	return c.ID, nil
}

// Close releases the Redis connection.
func (p *Publisher) Close() error { return p.client.Close() }
