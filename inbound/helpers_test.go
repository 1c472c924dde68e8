package inbound

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/goliatone/go-smsintake/core"
	"github.com/goliatone/go-smsintake/memstore"
	"github.com/goliatone/go-smsintake/processors"
)

// stubCodec decodes payloads by looking them up in a fixed table.
type stubCodec struct {
	submissions map[string]core.Submission
}

func (c stubCodec) Decode(payload []byte) (core.Submission, error) {
	submission, ok := c.submissions[string(payload)]
	if !ok {
		return core.Submission{}, errors.New("stub codec: unexpected EOF")
	}
	return submission, nil
}

type recordingAcknowledger struct {
	mu   sync.Mutex
	acks []core.Acknowledgement
	err  error
}

func (a *recordingAcknowledger) Acknowledge(_ context.Context, ack core.Acknowledgement) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, ack)
	return a.err
}

func (a *recordingAcknowledger) snapshot() []core.Acknowledgement {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]core.Acknowledgement(nil), a.acks...)
}

// countingProcessor delegates to another processor and counts invocations.
type countingProcessor struct {
	core.Processor
	mu    sync.Mutex
	calls int
	gate  chan struct{}
}

func (p *countingProcessor) Process(ctx context.Context, uow core.UnitOfWork, submission core.Submission) (core.ResponseOutcome, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.gate != nil {
		<-p.gate
	}
	return p.Processor.Process(ctx, uow, submission)
}

func (p *countingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type funcProcessor struct {
	kind core.SubmissionKind
	fn   func(ctx context.Context, uow core.UnitOfWork, submission core.Submission) (core.ResponseOutcome, error)
}

func (p funcProcessor) Kind() core.SubmissionKind { return p.kind }

func (p funcProcessor) Process(ctx context.Context, uow core.UnitOfWork, submission core.Submission) (core.ResponseOutcome, error) {
	return p.fn(ctx, uow, submission)
}

type fixture struct {
	dispatcher   *Dispatcher
	ledger       *MemoryLedger
	store        *memstore.Store
	acknowledger *recordingAcknowledger
	relationship *countingProcessor
}

var relationshipPayload = core.Submission{
	Kind:         core.SubmissionRelationship,
	SubmissionID: 42,
	UserUID:      "usr00000001",
	Payload: core.RelationshipSubmission{
		RelationshipTypeUID: "RT1",
		FromUID:             "TEI1",
		ToUID:               "TEI2",
	},
}

func newFixture(t *testing.T, options ...core.Option) *fixture {
	t.Helper()
	store := memstore.New(
		&core.User{UID: "usr00000001", OrganisationUnits: []string{"ou000000001"}},
		&core.RelationshipType{
			UID:            "RT1",
			FromConstraint: core.RelationshipConstraint{Entity: core.RelationshipEntityTrackedEntity},
			ToConstraint:   core.RelationshipConstraint{Entity: core.RelationshipEntityTrackedEntity},
		},
		&core.TrackedEntity{UID: "TEI1"},
		&core.TrackedEntity{UID: "TEI2"},
		&core.Event{UID: "evt00000001"},
	)
	missing := relationshipPayload
	missing.Payload = core.RelationshipSubmission{RelationshipTypeUID: "RT1", FromUID: "TEI1", ToUID: "MISSING"}
	codec := stubCodec{submissions: map[string]core.Submission{
		"relationship":         relationshipPayload,
		"relationship-missing": missing,
		"simple-event": {
			Kind:         core.SubmissionSimpleEvent,
			SubmissionID: 7,
			Payload:      core.SimpleEventSubmission{},
		},
		"deletion": {
			Kind:         core.SubmissionDeletion,
			SubmissionID: 8,
			UserUID:      "usr00000001",
			EntityUID:    "evt00000001",
			Payload:      core.DeletionSubmission{},
		},
	}}
	ledger := NewMemoryLedger()
	acknowledger := &recordingAcknowledger{}
	relationship := &countingProcessor{Processor: processors.NewRelationshipProcessor()}

	base := []core.Option{
		core.WithEntityStore(store),
		core.WithCodec(codec),
		core.WithLedger(ledger),
		core.WithAcknowledger(acknowledger),
		core.WithProcessors(relationship),
	}
	runtime, err := core.NewRuntime(core.Config{}, append(base, options...)...)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	dispatcher, err := NewDispatcher(runtime)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return &fixture{
		dispatcher:   dispatcher,
		ledger:       ledger,
		store:        store,
		acknowledger: acknowledger,
		relationship: relationship,
	}
}

func message(id string, payload string) core.InboundMessage {
	return core.InboundMessage{ID: id, Originator: "+15550100", Payload: []byte(payload)}
}
