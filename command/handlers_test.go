package command

import (
	"context"
	"errors"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-smsintake/core"
)

type stubDispatcher struct {
	received []core.InboundMessage
	receive  func(msg core.InboundMessage) (core.ResponseOutcome, error)
}

func (d *stubDispatcher) Receive(_ context.Context, msg core.InboundMessage) (core.ResponseOutcome, error) {
	d.received = append(d.received, msg)
	if d.receive != nil {
		return d.receive(msg)
	}
	return core.SuccessOutcome(1), nil
}

type stubLedger struct {
	pending []core.InboundMessage
	limit   int
}

func (l *stubLedger) ListUnparsed(_ context.Context, limit int) ([]core.InboundMessage, error) {
	l.limit = limit
	return l.pending, nil
}

type stubPruner struct {
	cutoff time.Time
}

func (p *stubPruner) Prune(_ context.Context, parsedBefore time.Time) (int, error) {
	p.cutoff = parsedBefore
	return 3, nil
}

func TestReceiveCommand_StoresOutcome(t *testing.T) {
	dispatcher := &stubDispatcher{receive: func(core.InboundMessage) (core.ResponseOutcome, error) {
		return core.NewOutcome(core.ResponseInvalidRelationshipType, 5, "RT9"), nil
	}}
	cmd := NewReceiveCommand(dispatcher)
	collector := gocmd.NewResult[core.ResponseOutcome]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	msg := ReceiveMessage{Message: core.InboundMessage{ID: "m-1", Originator: "+1", Payload: []byte("x")}}
	if err := cmd.Execute(ctx, msg); err != nil {
		t.Fatalf("execute: %v", err)
	}
	outcome, ok := collector.Load()
	if !ok || outcome.Render() != "5:211:Relationship Type [RT9] does not exist" {
		t.Fatalf("unexpected stored outcome %#v", outcome)
	}
	if len(dispatcher.received) != 1 || dispatcher.received[0].ID != "m-1" {
		t.Fatalf("expected dispatcher to receive the message")
	}
}

func TestReceiveCommand_PropagatesLedgerErrors(t *testing.T) {
	dispatcher := &stubDispatcher{receive: func(core.InboundMessage) (core.ResponseOutcome, error) {
		return core.ResponseOutcome{}, errors.New("ledger down")
	}}
	err := NewReceiveCommand(dispatcher).Execute(context.Background(), ReceiveMessage{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := (*ReceiveCommand)(nil).Execute(context.Background(), ReceiveMessage{}); err == nil {
		t.Fatalf("expected dependency error")
	}
}

func TestReceiveMessage_Validate(t *testing.T) {
	err := ReceiveMessage{Message: core.InboundMessage{Payload: []byte("x")}}.Validate()
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != core.ErrorBadInput {
		t.Fatalf("expected bad input validation error, got %v", err)
	}
	if err := (ReceiveMessage{Message: core.InboundMessage{Originator: "+1", Payload: []byte("x")}}).Validate(); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
}

func TestReplayUnparsedCommand_ReportsPerMessage(t *testing.T) {
	ledger := &stubLedger{pending: []core.InboundMessage{
		{ID: "m-1", Originator: "+1", Payload: []byte("a")},
		{ID: "m-2", Originator: "+1", Payload: []byte("b")},
	}}
	dispatcher := &stubDispatcher{receive: func(msg core.InboundMessage) (core.ResponseOutcome, error) {
		if msg.ID == "m-2" {
			return core.ResponseOutcome{}, errors.New("claim lost")
		}
		return core.SuccessOutcome(1), nil
	}}
	collector := gocmd.NewResult[ReplayResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := NewReplayUnparsedCommand(dispatcher, ledger).Execute(ctx, ReplayUnparsedMessage{Limit: 10}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected replay result")
	}
	if ledger.limit != 10 || result.Attempted != 2 {
		t.Fatalf("unexpected replay result %#v", result)
	}
	if !result.Outcomes["m-1"].Success() || result.Failed["m-2"] != "claim lost" {
		t.Fatalf("unexpected per-message results %#v", result)
	}
}

func TestPruneLedgerCommand(t *testing.T) {
	pruner := &stubPruner{}
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	collector := gocmd.NewResult[int]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := NewPruneLedgerCommand(pruner).Execute(ctx, PruneLedgerMessage{ParsedBefore: cutoff}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	removed, _ := collector.Load()
	if removed != 3 || !pruner.cutoff.Equal(cutoff) {
		t.Fatalf("expected prune to run with cutoff, removed=%d", removed)
	}
	if err := (PruneLedgerMessage{}).Validate(); err == nil {
		t.Fatalf("expected zero cutoff to be rejected")
	}
}
