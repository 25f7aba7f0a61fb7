package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aozora-works/kousei-engine/pkg/types"
)

// ErrQueueFull means the inference queue hit its depth cap. The request was
// never accepted, so it is safe to retry later.
var ErrQueueFull = errors.New("engine: inference queue is full")

// ErrQueueStopped means the engine is shutting down.
var ErrQueueStopped = errors.New("engine: inference queue stopped")

// queuedInference is one accepted request waiting its turn. Once accepted
// it cannot be cancelled or reordered; only its result delivery observes
// the caller's departure.
type queuedInference struct {
	id        string
	prompt    string
	maxTokens int
	enqueued  time.Time
	resultCh  chan types.InferResult
	errCh     chan error
}

// Queue serializes inference against the single sequence slot of the
// resident execution context. All requests flow through one drain
// goroutine, so no two generations are ever active at once and arrival
// order is the service order. A failed request reports to its own caller
// and never poisons the requests queued behind it.
type Queue struct {
	tasks   chan *queuedInference
	stopCh  chan struct{}
	started bool
	mu      sync.Mutex

	loader *Loader
	logger *zap.Logger

	// onEvent, when set, observes generation start/end. Used by the engine
	// to publish inference events.
	onEvent func(ev types.InferenceEvent)
}

func NewQueue(loader *Loader, depth int, logger *zap.Logger) *Queue {
	return &Queue{
		tasks:  make(chan *queuedInference, depth),
		stopCh: make(chan struct{}),
		loader: loader,
		logger: logger.Named("queue"),
	}
}

func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		q.logger.Warn("queue already started")
		return
	}
	q.started = true
	go q.drain()

	q.logger.Info("inference queue started", zap.Int("depth", cap(q.tasks)))
}

func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.started {
		return
	}
	close(q.stopCh)
	q.started = false

	q.logger.Info("inference queue stopped")
}

// Infer enqueues one generation and blocks until it has been served in
// arrival order. The context governs only the caller's wait: an accepted
// request still runs to completion even if its caller stops waiting.
func (q *Queue) Infer(ctx context.Context, id, prompt string, maxTokens int) (types.InferResult, error) {
	q.mu.Lock()
	started := q.started
	q.mu.Unlock()
	if !started {
		return types.InferResult{}, ErrQueueStopped
	}

	task := &queuedInference{
		id:        id,
		prompt:    prompt,
		maxTokens: maxTokens,
		enqueued:  time.Now(),
		resultCh:  make(chan types.InferResult, 1),
		errCh:     make(chan error, 1),
	}

	select {
	case q.tasks <- task:
	default:
		return types.InferResult{}, ErrQueueFull
	}

	q.logger.Debug("inference enqueued",
		zap.String("id", id),
		zap.Int("backlog", len(q.tasks)),
	)

	select {
	case res := <-task.resultCh:
		return res, nil
	case err := <-task.errCh:
		return types.InferResult{}, err
	case <-q.stopCh:
		return types.InferResult{}, ErrQueueStopped
	case <-ctx.Done():
		// The task stays queued; result channels are buffered so the
		// drain goroutine never blocks on an abandoned caller.
		return types.InferResult{}, ctx.Err()
	}
}

func (q *Queue) drain() {
	for {
		select {
		case task := <-q.tasks:
			q.serve(task)
		case <-q.stopCh:
			return
		}
	}
}

// serve runs exactly one generation. Errors are delivered to the issuing
// caller only; the drain loop continues regardless.
func (q *Queue) serve(task *queuedInference) {
	session, modelID, ok := q.loader.Current()
	if !ok {
		task.errCh <- ErrNoModelLoaded
		return
	}

	q.emit(types.InferenceEvent{ID: task.id, Phase: "started"})
	q.logger.Debug("generation started",
		zap.String("id", task.id),
		zap.String("model_id", modelID),
		zap.Duration("queue_wait", time.Since(task.enqueued)),
	)

	// An accepted request is not cancellable, so generation runs under the
	// engine's own lifetime rather than the caller's context.
	res, err := session.Generate(context.Background(), task.prompt, task.maxTokens)
	if err != nil {
		q.emit(types.InferenceEvent{ID: task.id, Phase: "finished", Error: err.Error()})
		q.logger.Error("generation failed",
			zap.String("id", task.id),
			zap.Error(err),
		)
		task.errCh <- fmt.Errorf("generation failed: %w", err)
		return
	}

	q.emit(types.InferenceEvent{ID: task.id, Phase: "finished"})
	task.resultCh <- types.InferResult{
		ID:         task.id,
		Text:       res.Text,
		TokenCount: res.TokenCount,
	}
}

func (q *Queue) emit(ev types.InferenceEvent) {
	if q.onEvent != nil {
		q.onEvent(ev)
	}
}

// Backlog reports how many accepted requests are waiting.
func (q *Queue) Backlog() int {
	return len(q.tasks)
}
