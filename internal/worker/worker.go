// Package worker implements the dispatch loop: a single goroutine driving
// executions through the Orchestrator, plus a background recovery sweep,
// with graceful shutdown on context cancellation. There is no separate
// heartbeat loop — liveness rides entirely on the queue's visibility
// timeout.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mel-run/taskflow/internal/orchestrator"
	"github.com/mel-run/taskflow/internal/queue"
)

// Config tunes a Worker's polling and recovery cadence.
type Config struct {
	// DequeueTimeout bounds each blocking dequeue call.
	DequeueTimeout time.Duration
	// RecoveryInterval is how often the recovery sweep runs.
	RecoveryInterval time.Duration
	// MaxRetries is the message-level DLQ routing threshold (TASKFLOW_MAX_RETRIES,
	// default 3) — independent of any execution's own max_retries.
	MaxRetries int
}

// DefaultConfig matches the environment-tunable defaults.
func DefaultConfig() Config {
	return Config{
		DequeueTimeout:   5 * time.Second,
		RecoveryInterval: 60 * time.Second,
		MaxRetries:       3,
	}
}

// Worker drains one Queue, driving each dequeued execution through an
// Orchestrator to its next checkpoint or terminal state.
type Worker struct {
	id     string
	queue  *queue.Queue
	orch   *orchestrator.Orchestrator
	config Config
}

// New returns a Worker named id, wired to q and orch.
func New(id string, q *queue.Queue, orch *orchestrator.Orchestrator, config Config) *Worker {
	if config.DequeueTimeout <= 0 {
		config.DequeueTimeout = 5 * time.Second
	}
	if config.RecoveryInterval <= 0 {
		config.RecoveryInterval = 60 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	return &Worker{id: id, queue: q, orch: orch, config: config}
}

// Run blocks until ctx is cancelled, running the dequeue loop and the
// recovery sweep concurrently, then waits for both to exit before
// returning (graceful shutdown).
func (w *Worker) Run(ctx context.Context) {
	log.Printf("worker %s starting", w.id)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		w.dequeueLoop(ctx)
	}()

	go func() {
		defer wg.Done()
		w.recoveryLoop(ctx)
	}()

	wg.Wait()
	log.Printf("worker %s stopped", w.id)
}

// dequeueLoop is the main loop: dequeue with a blocking timeout, dispatch
// to the orchestrator, acknowledge or reject.
func (w *Worker) dequeueLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := w.queue.Dequeue(ctx, w.config.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("worker %s: dequeue error: %v", w.id, err)
			// Transport/store errors pause briefly and retry; the message,
			// if any was already claimed, remains safe in Q:processing and
			// will be recovered by the visibility timeout.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if msg == nil {
			continue // blocking timeout elapsed, nothing ready
		}

		w.handle(ctx, msg)
	}
}

// recoveryLoop periodically re-surfaces messages whose visibility timeout
// has expired.
func (w *Worker) recoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(w.config.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.queue.RecoverStale(ctx)
			if err != nil {
				log.Printf("worker %s: recovery sweep error: %v", w.id, err)
				continue
			}
			if n > 0 {
				log.Printf("worker %s: recovered %d stale message(s)", w.id, n)
			}
		}
	}
}

// handle dispatches one dequeued message to the orchestrator and resolves
// it: acknowledge on any terminal or already-settled outcome, re-enqueue
// with residual delay on a scheduled-too-early outcome, or reject (to the
// DLQ once the message's attempt count reaches MaxRetries, otherwise
// requeued) on an unexpected orchestrator error.
func (w *Worker) handle(ctx context.Context, msg *queue.Message) {
	outcome, err := w.orch.Execute(ctx, msg.ExecutionID)
	if err != nil {
		w.reject(ctx, msg, err)
		return
	}

	if outcome.Requeue > 0 {
		if err := w.queue.Acknowledge(ctx, msg); err != nil {
			log.Printf("worker %s: acknowledge (deferred) execution %s: %v", w.id, msg.ExecutionID, err)
			return
		}
		delaySeconds := int(outcome.Requeue.Seconds()) + 1
		if _, err := w.queue.Enqueue(ctx, msg.ExecutionID, queue.EnqueueOptions{
			TaskType:     msg.TaskType,
			Payload:      msg.Payload,
			DelaySeconds: delaySeconds,
		}); err != nil {
			log.Printf("worker %s: re-enqueue deferred execution %s: %v", w.id, msg.ExecutionID, err)
		}
		return
	}

	// Completed, already-completed, business-level failure and
	// benign-cancellation outcomes are all terminal dispositions the
	// orchestrator has already durably recorded: the message itself is done.
	if err := w.queue.Acknowledge(ctx, msg); err != nil {
		log.Printf("worker %s: acknowledge execution %s: %v", w.id, msg.ExecutionID, err)
	}
}

func (w *Worker) reject(ctx context.Context, msg *queue.Message, cause error) {
	toDLQ := msg.Attempt >= w.config.MaxRetries
	reason := ""
	if toDLQ {
		reason = fmt.Sprintf("max_retries exceeded: %v", cause)
	}
	log.Printf("worker %s: execution %s: orchestrator error: %v (attempt %d, dlq=%t)", w.id, msg.ExecutionID, cause, msg.Attempt, toDLQ)
	if err := w.queue.Reject(ctx, msg, !toDLQ, toDLQ, reason); err != nil {
		log.Printf("worker %s: reject execution %s: %v", w.id, msg.ExecutionID, err)
	}
}
