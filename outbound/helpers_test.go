package outbound

import (
	"context"
	"sync"

	"github.com/goliatone/go-smsintake/core"
)

type recordingSender struct {
	mu      sync.Mutex
	results []core.DeliveryResult
	sent    []sentMessage
}

type panickingSender struct{}

func (panickingSender) Send(context.Context, string, []string, core.GatewayConfig) core.DeliveryResult {
	panic("gateway exploded")
}

type sentMessage struct {
	text       string
	recipients []string
	gateway    core.GatewayConfig
}

func (s *recordingSender) Send(_ context.Context, text string, recipients []string, cfg core.GatewayConfig) core.DeliveryResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{text: text, recipients: append([]string(nil), recipients...), gateway: cfg})
	if len(s.results) == 0 {
		return core.DeliveryResult{OK: true}
	}
	result := s.results[0]
	s.results = s.results[1:]
	return result
}

func (s *recordingSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type metricCall struct {
	name string
	tags map[string]string
}

type captureMetrics struct {
	mu       sync.Mutex
	counters []metricCall
}

func (m *captureMetrics) IncCounter(_ context.Context, name string, _ int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, metricCall{name: name, tags: tags})
}

func (m *captureMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func (m *captureMetrics) count(name string, status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, call := range m.counters {
		if call.name == name && call.tags["status"] == status {
			total++
		}
	}
	return total
}

type stubEnqueuer struct {
	messages []*core.JobExecutionMessage
	err      error
}

func (e *stubEnqueuer) Enqueue(_ context.Context, msg *core.JobExecutionMessage) error {
	if e.err != nil {
		return e.err
	}
	e.messages = append(e.messages, msg)
	return nil
}

type stubDelivery struct {
	msg    *core.JobExecutionMessage
	acked  bool
	nacked []core.JobNackOptions
}

func (d *stubDelivery) Message() *core.JobExecutionMessage { return d.msg }

func (d *stubDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *stubDelivery) Nack(_ context.Context, opts core.JobNackOptions) error {
	d.nacked = append(d.nacked, opts)
	return nil
}

// stubDequeuer hands out the same delivery on every call, the way a queue
// redelivers a nacked message.
type stubDequeuer struct {
	delivery core.JobDelivery
}

func (d *stubDequeuer) Dequeue(context.Context) (core.JobDelivery, error) {
	if d.delivery == nil {
		return nil, ErrQueueEmpty
	}
	return d.delivery, nil
}

type recordingHook struct {
	starts, successes, failures, retries int
	last                                 core.JobWorkerEvent
}

func (h *recordingHook) OnStart(context.Context, core.JobWorkerEvent) { h.starts++ }

func (h *recordingHook) OnSuccess(_ context.Context, event core.JobWorkerEvent) {
	h.successes++
	h.last = event
}

func (h *recordingHook) OnFailure(_ context.Context, event core.JobWorkerEvent) {
	h.failures++
	h.last = event
}

func (h *recordingHook) OnRetry(_ context.Context, event core.JobWorkerEvent) {
	h.retries++
	h.last = event
}

func sampleAck() core.Acknowledgement {
	return core.Acknowledgement{
		MessageKey:   "m-1",
		Recipient:    "+15550100",
		Text:         "42:0:Submission has been processed successfully",
		Code:         core.ResponseSuccess,
		SubmissionID: 42,
	}
}
