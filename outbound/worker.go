package outbound

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-smsintake/core"
)

// attemptNacker is implemented by deliveries that bound retries per attempt,
// such as the go-job delivery adapter.
type attemptNacker interface {
	NackForAttempt(ctx context.Context, opts core.JobNackOptions, attempt int) error
}

// Worker drains sms.acknowledge jobs and sends them through the gateway.
// Failed sends are nacked with exponential backoff until MaxAttempts, after
// which they are dead-lettered.
type Worker struct {
	Dequeuer     core.JobDequeuer
	Sender       core.Sender
	Gateway      core.GatewayConfig
	Hook         core.JobWorkerHook
	MaxAttempts  int
	BaseDelay    time.Duration
	PollInterval time.Duration

	observer core.Observer
	mu       sync.Mutex
	attempts map[string]int
}

func NewWorker(dequeuer core.JobDequeuer, sender core.Sender, gateway core.GatewayConfig, logger core.Logger, metrics core.MetricsRecorder) *Worker {
	return &Worker{
		Dequeuer:     dequeuer,
		Sender:       sender,
		Gateway:      gateway,
		MaxAttempts:  5,
		BaseDelay:    2 * time.Second,
		PollInterval: 500 * time.Millisecond,
		observer:     core.NewObserver(logger, metrics),
		attempts:     map[string]int{},
	}
}

// Run processes deliveries until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		processed, err := w.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.observer.LogWarn(ctx, "sms.worker dequeue failed", map[string]any{"error": err.Error()})
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.pollInterval()):
		}
	}
}

// RunOnce handles at most one delivery. It reports false when the queue had
// nothing to hand out.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if w == nil || w.Dequeuer == nil || w.Sender == nil {
		return false, fmt.Errorf("outbound: worker is not configured")
	}
	delivery, err := w.Dequeuer.Dequeue(ctx)
	if errors.Is(err, ErrQueueEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if delivery == nil {
		return false, nil
	}
	msg := delivery.Message()
	startedAt := time.Now()
	key := attemptKey(msg)
	attempt := w.nextAttempt(key)
	event := core.JobWorkerEvent{Message: msg, Attempt: attempt, StartedAt: startedAt}
	w.hook(func(hook core.JobWorkerHook) { hook.OnStart(ctx, event) })

	ack, err := AcknowledgementFromJob(msg)
	if err != nil {
		w.forget(key)
		event.Err = err
		event.Duration = time.Since(startedAt)
		w.hook(func(hook core.JobWorkerHook) { hook.OnFailure(ctx, event) })
		nackErr := w.nack(ctx, delivery, core.JobNackOptions{DeadLetter: true, Reason: err.Error()}, attempt)
		w.observer.Observe(ctx, startedAt, "acknowledge", "", err, map[string]any{"mode": core.AcknowledgementQueue, "attempt": attempt}, "mode")
		return true, nackErr
	}

	sendErr := send(ctx, w.Sender, w.Gateway, ack)
	fields := ackFields(ack, core.AcknowledgementQueue)
	fields["attempt"] = attempt
	w.observer.Observe(ctx, startedAt, "acknowledge", "", sendErr, fields, "mode")
	event.Duration = time.Since(startedAt)

	if sendErr == nil {
		w.forget(key)
		w.hook(func(hook core.JobWorkerHook) { hook.OnSuccess(ctx, event) })
		return true, delivery.Ack(ctx)
	}

	event.Err = sendErr
	opts := core.JobNackOptions{Requeue: true, Delay: w.backoff(attempt), Reason: sendErr.Error()}
	if w.MaxAttempts > 0 && attempt >= w.MaxAttempts {
		w.forget(key)
		opts = core.JobNackOptions{DeadLetter: true, Reason: sendErr.Error()}
		w.hook(func(hook core.JobWorkerHook) { hook.OnFailure(ctx, event) })
	} else {
		event.Delay = opts.Delay
		w.hook(func(hook core.JobWorkerHook) { hook.OnRetry(ctx, event) })
	}
	return true, w.nack(ctx, delivery, opts, attempt)
}

func (w *Worker) nack(ctx context.Context, delivery core.JobDelivery, opts core.JobNackOptions, attempt int) error {
	if nacker, ok := delivery.(attemptNacker); ok {
		return nacker.NackForAttempt(ctx, opts, attempt)
	}
	return delivery.Nack(ctx, opts)
}

func (w *Worker) backoff(attempt int) time.Duration {
	base := w.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 10 {
		shift = 10
	}
	return base << shift
}

func (w *Worker) nextAttempt(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.attempts == nil {
		w.attempts = map[string]int{}
	}
	w.attempts[key]++
	return w.attempts[key]
}

func (w *Worker) forget(key string) {
	w.mu.Lock()
	delete(w.attempts, key)
	w.mu.Unlock()
}

func (w *Worker) hook(fn func(core.JobWorkerHook)) {
	if w.Hook != nil {
		fn(w.Hook)
	}
}

func (w *Worker) pollInterval() time.Duration {
	if w.PollInterval > 0 {
		return w.PollInterval
	}
	return 500 * time.Millisecond
}

func attemptKey(msg *core.JobExecutionMessage) string {
	if msg == nil {
		return ""
	}
	if msg.IdempotencyKey != "" {
		return msg.IdempotencyKey
	}
	return fmt.Sprint(msg.Parameters["message_key"])
}

// ErrQueueEmpty may be returned by polling dequeuers when nothing is ready.
var ErrQueueEmpty = errors.New("outbound: queue is empty")
