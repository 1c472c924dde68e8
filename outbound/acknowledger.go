package outbound

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-smsintake/core"
	"github.com/google/uuid"
)

const JobIDAcknowledge = "sms.acknowledge"

// SyncAcknowledger sends the acknowledgement inline and reports gateway
// failures as errors.
type SyncAcknowledger struct {
	Sender  core.Sender
	Gateway core.GatewayConfig

	observer core.Observer
}

func NewSyncAcknowledger(sender core.Sender, gateway core.GatewayConfig, logger core.Logger, metrics core.MetricsRecorder) *SyncAcknowledger {
	return &SyncAcknowledger{
		Sender:   sender,
		Gateway:  gateway,
		observer: core.NewObserver(logger, metrics),
	}
}

func (a *SyncAcknowledger) Acknowledge(ctx context.Context, ack core.Acknowledgement) error {
	if a == nil || a.Sender == nil {
		return fmt.Errorf("outbound: sender is not configured")
	}
	startedAt := time.Now()
	err := send(ctx, a.Sender, a.Gateway, ack)
	a.observer.Observe(ctx, startedAt, "acknowledge", "", err, ackFields(ack, core.AcknowledgementSync), "mode")
	return err
}

// AsyncAcknowledger sends on a goroutine per acknowledgement. Acknowledge
// never blocks on the gateway; Wait drains in-flight sends on shutdown.
type AsyncAcknowledger struct {
	Sender  core.Sender
	Gateway core.GatewayConfig
	Timeout time.Duration

	observer core.Observer
	wg       sync.WaitGroup
}

func NewAsyncAcknowledger(sender core.Sender, gateway core.GatewayConfig, logger core.Logger, metrics core.MetricsRecorder) *AsyncAcknowledger {
	return &AsyncAcknowledger{
		Sender:   sender,
		Gateway:  gateway,
		Timeout:  30 * time.Second,
		observer: core.NewObserver(logger, metrics),
	}
}

func (a *AsyncAcknowledger) Acknowledge(ctx context.Context, ack core.Acknowledgement) error {
	if a == nil || a.Sender == nil {
		return fmt.Errorf("outbound: sender is not configured")
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		sendCtx, cancel := a.detach(ctx)
		defer cancel()

		startedAt := time.Now()
		err := send(sendCtx, a.Sender, a.Gateway, ack)
		a.observer.Observe(sendCtx, startedAt, "acknowledge", "", err, ackFields(ack, core.AcknowledgementAsync), "mode")
	}()
	return nil
}

// Wait blocks until every acknowledgement started so far has finished.
func (a *AsyncAcknowledger) Wait() {
	if a == nil {
		return
	}
	a.wg.Wait()
}

// detach keeps request values but not cancellation: the send outlives the
// dispatch call that triggered it.
func (a *AsyncAcknowledger) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	base := context.WithoutCancel(ctx)
	if a.Timeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, a.Timeout)
}

// QueueAcknowledger enqueues an sms.acknowledge job; Worker performs the send.
type QueueAcknowledger struct {
	Enqueuer core.JobEnqueuer

	observer core.Observer
}

func NewQueueAcknowledger(enqueuer core.JobEnqueuer, logger core.Logger, metrics core.MetricsRecorder) *QueueAcknowledger {
	return &QueueAcknowledger{Enqueuer: enqueuer, observer: core.NewObserver(logger, metrics)}
}

func (a *QueueAcknowledger) Acknowledge(ctx context.Context, ack core.Acknowledgement) error {
	if a == nil || a.Enqueuer == nil {
		return fmt.Errorf("outbound: enqueuer is not configured")
	}
	startedAt := time.Now()
	err := a.Enqueuer.Enqueue(ctx, JobMessage(ack))
	if err != nil {
		err = fmt.Errorf("outbound: enqueue acknowledgement: %w", err)
	}
	a.observer.Observe(ctx, startedAt, "acknowledge", "", err, ackFields(ack, core.AcknowledgementQueue), "mode")
	return err
}

// JobMessage maps an acknowledgement to its queue message. Every call gets a
// fresh idempotency key so that a replayed outcome is sent again.
func JobMessage(ack core.Acknowledgement) *core.JobExecutionMessage {
	return &core.JobExecutionMessage{
		JobID:      JobIDAcknowledge,
		ScriptPath: JobIDAcknowledge,
		Parameters: map[string]any{
			"message_key":   ack.MessageKey,
			"recipient":     ack.Recipient,
			"text":          ack.Text,
			"code":          int(ack.Code),
			"submission_id": ack.SubmissionID,
		},
		IdempotencyKey: JobIDAcknowledge + ":" + ack.MessageKey + ":" + uuid.NewString(),
	}
}

// AcknowledgementFromJob is the inverse of JobMessage.
func AcknowledgementFromJob(msg *core.JobExecutionMessage) (core.Acknowledgement, error) {
	if msg == nil {
		return core.Acknowledgement{}, fmt.Errorf("outbound: job message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDAcknowledge {
		return core.Acknowledgement{}, fmt.Errorf("outbound: unexpected job %q", msg.JobID)
	}
	ack := core.Acknowledgement{
		MessageKey:   stringParam(msg.Parameters, "message_key"),
		Recipient:    stringParam(msg.Parameters, "recipient"),
		Text:         stringParam(msg.Parameters, "text"),
		Code:         core.ResponseCode(intParam(msg.Parameters, "code")),
		SubmissionID: intParam(msg.Parameters, "submission_id"),
	}
	if ack.Recipient == "" || ack.Text == "" {
		return core.Acknowledgement{}, fmt.Errorf("outbound: job %s is missing recipient or text", msg.IdempotencyKey)
	}
	return ack, nil
}

// send reports a panicking Sender as an error so the observer logs and
// counts it like any other gateway failure.
func send(ctx context.Context, sender core.Sender, gateway core.GatewayConfig, ack core.Acknowledgement) (err error) {
	recipient := strings.TrimSpace(ack.Recipient)
	if recipient == "" {
		return fmt.Errorf("outbound: recipient is required")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("outbound: sender panic sending to %s: %v", recipient, r)
		}
	}()
	result := sender.Send(ctx, ack.Text, []string{recipient}, gateway)
	if !result.OK {
		description := strings.TrimSpace(result.Description)
		if description == "" {
			description = "gateway rejected message"
		}
		return fmt.Errorf("outbound: send to %s: %s", recipient, description)
	}
	return nil
}

func ackFields(ack core.Acknowledgement, mode string) map[string]any {
	return map[string]any{
		"message_id":    ack.MessageKey,
		"recipient":     ack.Recipient,
		"submission_id": ack.SubmissionID,
		"response_code": int(ack.Code),
		"mode":          mode,
	}
}

func stringParam(params map[string]any, key string) string {
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	if text, ok := value.(string); ok {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

// intParam tolerates the numeric types produced by JSON and msgpack queues.
func intParam(params map[string]any, key string) int {
	switch value := params[key].(type) {
	case int:
		return value
	case int8:
		return int(value)
	case int16:
		return int(value)
	case int32:
		return int(value)
	case int64:
		return int(value)
	case uint8:
		return int(value)
	case uint16:
		return int(value)
	case uint32:
		return int(value)
	case uint64:
		return int(value)
	case float64:
		return int(value)
	case float32:
		return int(value)
	default:
		return 0
	}
}

var (
	_ core.Acknowledger = (*SyncAcknowledger)(nil)
	_ core.Acknowledger = (*AsyncAcknowledger)(nil)
	_ core.Acknowledger = (*QueueAcknowledger)(nil)
)

// NewAcknowledger picks the acknowledger for cfg.Acknowledgement.Mode. Queue
// mode needs an enqueuer; the other modes need a sender.
func NewAcknowledger(cfg core.Config, sender core.Sender, enqueuer core.JobEnqueuer, logger core.Logger, metrics core.MetricsRecorder) (core.Acknowledger, error) {
	switch cfg.AcknowledgementMode() {
	case core.AcknowledgementQueue:
		if enqueuer == nil {
			return nil, core.NewError("outbound: queue acknowledgement requires an enqueuer", goerrors.CategoryBadInput, core.ErrorBadInput)
		}
		return NewQueueAcknowledger(enqueuer, logger, metrics), nil
	case core.AcknowledgementSync:
		if sender == nil {
			return nil, core.NewError("outbound: sync acknowledgement requires a sender", goerrors.CategoryBadInput, core.ErrorBadInput)
		}
		return NewSyncAcknowledger(sender, cfg.GatewayConfig(), logger, metrics), nil
	default:
		if sender == nil {
			return nil, core.NewError("outbound: async acknowledgement requires a sender", goerrors.CategoryBadInput, core.ErrorBadInput)
		}
		return NewAsyncAcknowledger(sender, cfg.GatewayConfig(), logger, metrics), nil
	}
}
