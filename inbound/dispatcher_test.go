package inbound

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-smsintake/core"
)

func TestDispatcher_PersistsRelationshipAndAcknowledges(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.dispatcher.Receive(context.Background(), message("m-1", "relationship"))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !outcome.Success() || outcome.SubmissionID != 42 {
		t.Fatalf("expected success for submission 42, got %#v", outcome)
	}
	if f.store.Count(core.EntityRelationship) != 1 {
		t.Fatalf("expected relationship to be persisted")
	}

	stored, ok := f.ledger.Message("m-1")
	if !ok || !stored.Parsed || stored.ParsedResponseCode != core.ResponseSuccess {
		t.Fatalf("expected ledger to mark message parsed, got %#v", stored)
	}
	acks := f.acknowledger.snapshot()
	if len(acks) != 1 {
		t.Fatalf("expected one acknowledgement, got %d", len(acks))
	}
	if acks[0].Recipient != "+15550100" || acks[0].Text != "42:0:Submission has been processed successfully" {
		t.Fatalf("unexpected acknowledgement: %#v", acks[0])
	}
}

func TestDispatcher_DuplicateDeliveryReplaysStoredOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := message("m-dup", "relationship")

	first, err := f.dispatcher.Receive(ctx, msg)
	if err != nil {
		t.Fatalf("first receive: %v", err)
	}
	writes := f.store.Writes()
	commits := f.store.Commits()

	second, err := f.dispatcher.Receive(ctx, msg)
	if err != nil {
		t.Fatalf("second receive: %v", err)
	}
	if !first.Equal(second) {
		t.Fatalf("expected identical outcomes, got %q and %q", first.Render(), second.Render())
	}
	if f.store.Writes() != writes || f.store.Commits() != commits {
		t.Fatalf("expected zero store writes on duplicate delivery")
	}
	if f.relationship.count() != 1 {
		t.Fatalf("expected processor to run once, got %d", f.relationship.count())
	}
	acks := f.acknowledger.snapshot()
	if len(acks) != 2 || acks[0].Text != acks[1].Text || acks[0].Recipient != acks[1].Recipient {
		t.Fatalf("expected two identical acknowledgements, got %#v", acks)
	}
}

func TestDispatcher_ConcurrentDuplicatesApplyOnce(t *testing.T) {
	f := newFixture(t)
	f.relationship.gate = make(chan struct{})
	msg := message("m-race", "relationship")

	const deliveries = 4
	var wg sync.WaitGroup
	outcomes := make([]core.ResponseOutcome, deliveries)
	errs := make([]error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = f.dispatcher.Receive(context.Background(), msg)
		}(i)
	}
	close(f.relationship.gate)
	wg.Wait()

	for i := 0; i < deliveries; i++ {
		if errs[i] != nil {
			t.Fatalf("delivery %d: %v", i, errs[i])
		}
		if !outcomes[i].Equal(outcomes[0]) {
			t.Fatalf("delivery %d observed a different outcome: %q vs %q", i, outcomes[i].Render(), outcomes[0].Render())
		}
	}
	if f.relationship.count() != 1 {
		t.Fatalf("expected a single processor invocation, got %d", f.relationship.count())
	}
	if f.store.Count(core.EntityRelationship) != 1 {
		t.Fatalf("expected exactly one relationship, got %d", f.store.Count(core.EntityRelationship))
	}
	if len(f.acknowledger.snapshot()) != deliveries {
		t.Fatalf("expected one acknowledgement per delivery")
	}
}

func TestDispatcher_DistinctMessagesDoNotDedupe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.dispatcher.Receive(ctx, message("m-a", "relationship")); err != nil {
		t.Fatalf("receive a: %v", err)
	}
	if _, err := f.dispatcher.Receive(ctx, message("m-b", "relationship")); err != nil {
		t.Fatalf("receive b: %v", err)
	}
	if f.relationship.count() != 2 || f.store.Count(core.EntityRelationship) != 2 {
		t.Fatalf("expected both messages to be processed")
	}
}

func TestDispatcher_RoutesOnlyToRegisteredKinds(t *testing.T) {
	deletions := 0
	deletion := funcProcessor{kind: core.SubmissionDeletion, fn: func(context.Context, core.UnitOfWork, core.Submission) (core.ResponseOutcome, error) {
		deletions++
		return core.SuccessOutcome(8), nil
	}}
	f := newFixture(t, core.WithProcessors(deletion))
	ctx := context.Background()

	if _, err := f.dispatcher.Receive(ctx, message("m-del", "deletion")); err != nil {
		t.Fatalf("receive deletion: %v", err)
	}
	if deletions != 1 || f.relationship.count() != 0 {
		t.Fatalf("expected only the deletion processor to run")
	}

	writes := f.store.Writes()
	outcome, err := f.dispatcher.Receive(ctx, message("m-simple", "simple-event"))
	if err != nil {
		t.Fatalf("receive simple event: %v", err)
	}
	if outcome.Code != core.ResponseUnsupportedKind {
		t.Fatalf("expected unsupported kind, got %s", outcome.Code)
	}
	if got := outcome.Render(); got != "7:104:Submission type [simple_event] is not supported" {
		t.Fatalf("unexpected acknowledgement %q", got)
	}
	if f.store.Writes() != writes {
		t.Fatalf("expected no mutation for unsupported kind")
	}
}

func TestDispatcher_DecodeErrorIsRecordedAndAcknowledged(t *testing.T) {
	f := newFixture(t)
	outcome, err := f.dispatcher.Receive(context.Background(), message("m-bad", "garbage"))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if outcome.Code != core.ResponseDecodeError {
		t.Fatalf("expected decode error, got %s", outcome.Code)
	}
	parsed, _ := f.ledger.IsParsed(context.Background(), "m-bad")
	if !parsed {
		t.Fatalf("expected decode failures to be marked parsed")
	}
	acks := f.acknowledger.snapshot()
	if len(acks) != 1 || acks[0].Text != "0:103:An unknown error occurred reading submission" {
		t.Fatalf("unexpected acknowledgements: %#v", acks)
	}
}

func TestDispatcher_ValidationFailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	writes := f.store.Writes()
	outcome, err := f.dispatcher.Receive(context.Background(), message("m-miss", "relationship-missing"))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if outcome.Code != core.ResponseInvalidTrackedEntity || outcome.Render() != "42:208:Tracked Entity Instance [MISSING] does not exist" {
		t.Fatalf("unexpected outcome %q", outcome.Render())
	}
	if f.store.Writes() != writes || f.store.Count(core.EntityRelationship) != 0 {
		t.Fatalf("expected store to be unchanged")
	}
}

func TestDispatcher_ProcessorErrorsAndPanicsBecomeInternalFailure(t *testing.T) {
	failing := funcProcessor{kind: core.SubmissionDeletion, fn: func(ctx context.Context, uow core.UnitOfWork, _ core.Submission) (core.ResponseOutcome, error) {
		if err := uow.Save(ctx, &core.Relationship{UID: "relPartial1"}); err != nil {
			return core.ResponseOutcome{}, err
		}
		return core.ResponseOutcome{}, errors.New("database went away")
	}}
	f := newFixture(t, core.WithProcessors(failing))

	outcome, err := f.dispatcher.Receive(context.Background(), message("m-err", "deletion"))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if outcome.Code != core.ResponseInternalFailure || outcome.SubmissionID != 8 {
		t.Fatalf("expected internal failure for submission 8, got %#v", outcome)
	}
	if _, ok := f.store.Get(core.EntityRelationship, "relPartial1"); ok {
		t.Fatalf("expected partial write to be rolled back")
	}

	panicking := funcProcessor{kind: core.SubmissionDeletion, fn: func(context.Context, core.UnitOfWork, core.Submission) (core.ResponseOutcome, error) {
		panic("boom")
	}}
	g := newFixture(t, core.WithProcessors(panicking))
	outcome, err = g.dispatcher.Receive(context.Background(), message("m-panic", "deletion"))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if outcome.Code != core.ResponseInternalFailure {
		t.Fatalf("expected internal failure after panic, got %s", outcome.Code)
	}
	if parsed, _ := g.ledger.IsParsed(context.Background(), "m-panic"); !parsed {
		t.Fatalf("expected panicking submission to be marked parsed")
	}
}

func TestDispatcher_UnmappedCodeIsNormalized(t *testing.T) {
	odd := funcProcessor{kind: core.SubmissionDeletion, fn: func(context.Context, core.UnitOfWork, core.Submission) (core.ResponseOutcome, error) {
		return core.ResponseOutcome{Code: 777, SubmissionID: 8}, nil
	}}
	f := newFixture(t, core.WithProcessors(odd))
	outcome, err := f.dispatcher.Receive(context.Background(), message("m-odd", "deletion"))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if outcome.Code != core.ResponseInternalFailure {
		t.Fatalf("expected unmapped code to become internal failure, got %d", outcome.Code)
	}
}

func TestDispatcher_AcknowledgementFailureDoesNotChangeOutcome(t *testing.T) {
	f := newFixture(t)
	f.acknowledger.err = errors.New("gateway unavailable")

	outcome, err := f.dispatcher.Receive(context.Background(), message("m-ack", "relationship"))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !outcome.Success() {
		t.Fatalf("expected success despite acknowledgement failure")
	}
	if parsed, _ := f.ledger.IsParsed(context.Background(), "m-ack"); !parsed {
		t.Fatalf("expected message to be parsed")
	}
}

// directLedger hides MemoryLedger's MarkParsedIn, so outcomes are written
// with MarkParsed after the unit of work commits.
type directLedger struct {
	core.MessageLedger
	mu       sync.Mutex
	failures int
	marks    int
	released int
}

func (l *directLedger) MarkParsed(ctx context.Context, claimID string, outcome core.ResponseOutcome) error {
	l.mu.Lock()
	l.marks++
	if l.failures > 0 {
		l.failures--
		l.mu.Unlock()
		return errors.New("ledger write timeout")
	}
	l.mu.Unlock()
	return l.MessageLedger.MarkParsed(ctx, claimID, outcome)
}

func (l *directLedger) Release(ctx context.Context, claimID string) error {
	l.mu.Lock()
	l.released++
	l.mu.Unlock()
	return l.MessageLedger.Release(ctx, claimID)
}

// rejectingLedger fails to join the unit of work a fixed number of times.
type rejectingLedger struct {
	*MemoryLedger
	rejections int
	released   int
}

func (l *rejectingLedger) MarkParsedIn(ctx context.Context, uow core.UnitOfWork, claimID string, outcome core.ResponseOutcome) error {
	if l.rejections > 0 {
		l.rejections--
		return errors.New("ledger write timeout")
	}
	return l.MemoryLedger.MarkParsedIn(ctx, uow, claimID, outcome)
}

func (l *rejectingLedger) Release(ctx context.Context, claimID string) error {
	l.released++
	return l.MemoryLedger.Release(ctx, claimID)
}

// countingLedger counts MarkParsed calls made outside a unit of work.
type countingLedger struct {
	*MemoryLedger
	direct int
}

func (l *countingLedger) MarkParsed(ctx context.Context, claimID string, outcome core.ResponseOutcome) error {
	l.direct++
	return l.MemoryLedger.MarkParsed(ctx, claimID, outcome)
}

func TestDispatcher_RecordsOutcomeInsideUnitOfWork(t *testing.T) {
	ledger := &countingLedger{MemoryLedger: NewMemoryLedger()}
	f := newFixture(t, core.WithLedger(ledger))

	outcome, err := f.dispatcher.Receive(context.Background(), message("m-tx", "relationship"))
	if err != nil || !outcome.Success() {
		t.Fatalf("expected success, got %#v err=%v", outcome, err)
	}
	if ledger.direct != 0 {
		t.Fatalf("expected outcome to be recorded by the commit, got %d direct writes", ledger.direct)
	}
	if parsed, _ := ledger.IsParsed(context.Background(), "m-tx"); !parsed {
		t.Fatalf("expected message to be parsed")
	}
}

func TestDispatcher_LedgerFailureBeforeCommitReleasesClaim(t *testing.T) {
	ledger := &rejectingLedger{MemoryLedger: NewMemoryLedger(), rejections: 1}
	f := newFixture(t, core.WithLedger(ledger))
	ctx := context.Background()
	msg := message("m-ledger", "relationship")

	_, err := f.dispatcher.Receive(ctx, msg)
	if err == nil {
		t.Fatalf("expected ledger failure to surface")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != core.ErrorLedgerFailed {
		t.Fatalf("expected ledger text code, got %v", err)
	}
	if ledger.released != 1 {
		t.Fatalf("expected claim release, got %d", ledger.released)
	}
	if f.store.Count(core.EntityRelationship) != 0 {
		t.Fatalf("expected no relationship before the outcome is recorded")
	}
	unparsed, _ := ledger.ListUnparsed(ctx, 10)
	if len(unparsed) != 1 {
		t.Fatalf("expected message to remain unparsed")
	}
	if len(f.acknowledger.snapshot()) != 0 {
		t.Fatalf("expected no acknowledgement without a stored outcome")
	}

	for i := 0; i < 2; i++ {
		outcome, err := f.dispatcher.Receive(ctx, msg)
		if err != nil || !outcome.Success() {
			t.Fatalf("redelivery %d: expected success, got %#v err=%v", i, outcome, err)
		}
	}
	if f.store.Count(core.EntityRelationship) != 1 {
		t.Fatalf("expected exactly one relationship, got %d", f.store.Count(core.EntityRelationship))
	}
	if f.relationship.count() != 2 {
		t.Fatalf("expected the rolled back attempt and one retry, got %d", f.relationship.count())
	}
}

func TestDispatcher_LedgerRetryAfterCommitAppliesOnce(t *testing.T) {
	ledger := &directLedger{MessageLedger: NewMemoryLedger(), failures: 1}
	f := newFixture(t, core.WithLedger(ledger))
	ctx := context.Background()
	msg := message("m-x", "relationship")

	for i := 0; i < 2; i++ {
		outcome, err := f.dispatcher.Receive(ctx, msg)
		if err != nil || !outcome.Success() {
			t.Fatalf("delivery %d: expected success, got %#v err=%v", i, outcome, err)
		}
	}
	if f.relationship.count() != 1 || f.store.Count(core.EntityRelationship) != 1 {
		t.Fatalf("expected one processor call and one relationship, got %d and %d",
			f.relationship.count(), f.store.Count(core.EntityRelationship))
	}
	if ledger.released != 0 {
		t.Fatalf("expected committed claim to stay held")
	}
}

func TestDispatcher_LedgerFailureAfterCommitKeepsClaim(t *testing.T) {
	ledger := &directLedger{MessageLedger: NewMemoryLedger(), failures: 100}
	f := newFixture(t, core.WithLedger(ledger))
	msg := message("m-x", "relationship")

	_, err := f.dispatcher.Receive(context.Background(), msg)
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != core.ErrorLedgerFailed {
		t.Fatalf("expected ledger failure, got %v", err)
	}
	if ledger.released != 0 {
		t.Fatalf("expected committed claim to stay held, got %d releases", ledger.released)
	}
	if ledger.marks != markParsedAttempts {
		t.Fatalf("expected %d mark attempts, got %d", markParsedAttempts, ledger.marks)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := f.dispatcher.Receive(ctx, msg); err == nil {
		t.Fatalf("expected redelivery to wait on the held claim")
	}
	if f.relationship.count() != 1 || f.store.Count(core.EntityRelationship) != 1 {
		t.Fatalf("expected the mutation to be applied once, got %d calls and %d relationships",
			f.relationship.count(), f.store.Count(core.EntityRelationship))
	}
	if len(f.acknowledger.snapshot()) != 0 {
		t.Fatalf("expected no acknowledgement without a stored outcome")
	}
}

func TestDispatcher_ReclaimsAfterHolderLeaseExpires(t *testing.T) {
	f := newFixture(t)
	msg := message("m-stale", "relationship")
	if _, err := f.ledger.Claim(context.Background(), msg, 20*time.Millisecond); err != nil {
		t.Fatalf("claim: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := f.dispatcher.Receive(ctx, msg)
	if err != nil || !outcome.Success() {
		t.Fatalf("expected stale claim to be taken over, got %#v err=%v", outcome, err)
	}
	if f.relationship.count() != 1 || f.store.Count(core.EntityRelationship) != 1 {
		t.Fatalf("expected one processing run after takeover")
	}
}

func TestDispatcher_RejectsInvalidMessages(t *testing.T) {
	f := newFixture(t)
	_, err := f.dispatcher.Receive(context.Background(), core.InboundMessage{ID: "m-empty", Originator: "+1"})
	if err == nil {
		t.Fatalf("expected empty payload to be rejected")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != core.ErrorBadInput {
		t.Fatalf("expected bad input error, got %v", err)
	}
}

func TestNewDispatcher_RequiresStoreAndCodec(t *testing.T) {
	runtime, err := core.NewRuntime(core.Config{})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if _, err := NewDispatcher(runtime); err == nil {
		t.Fatalf("expected missing store and codec to fail")
	}
}
