package inbound

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-smsintake/core"
)

const (
	markParsedAttempts = 3
	markParsedBackoff  = 10 * time.Millisecond
)

// Dispatcher implements core.Dispatcher. It is safe for concurrent use;
// deliveries that share a message identity are serialised by the ledger.
type Dispatcher struct {
	Ledger       core.MessageLedger
	Store        core.EntityStore
	Codec        core.Codec
	Registry     core.Registry
	Acknowledger core.Acknowledger
	ClaimLease   time.Duration
	Acknowledge  bool
	Now          func() time.Time

	observer core.Observer
}

// NewDispatcher wires a dispatcher from a resolved runtime. The entity store
// and codec are required; a missing ledger defaults to NewMemoryLedger.
func NewDispatcher(runtime core.Runtime) (*Dispatcher, error) {
	if runtime.EntityStore == nil {
		return nil, inboundBadInput("inbound: entity store is required", nil)
	}
	if runtime.Codec == nil {
		return nil, inboundBadInput("inbound: codec is required", nil)
	}
	ledger := runtime.Ledger
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	registry := runtime.Registry
	if registry == nil {
		registry = core.NewProcessorRegistry()
	}
	return &Dispatcher{
		Ledger:       ledger,
		Store:        runtime.EntityStore,
		Codec:        runtime.Codec,
		Registry:     registry,
		Acknowledger: runtime.Acknowledger,
		ClaimLease:   runtime.Config.ClaimLease(),
		Acknowledge:  runtime.Config.Acknowledgement.Enabled,
		Now: func() time.Time {
			return time.Now().UTC()
		},
		observer: core.NewObserver(runtime.Logger, runtime.MetricsRecorder),
	}, nil
}

func (d *Dispatcher) Register(processor core.Processor) error {
	if d == nil || d.Registry == nil {
		return inboundInternal("inbound: dispatcher is nil", nil)
	}
	return d.Registry.Register(processor)
}

// Receive produces the single outcome for msg and triggers its
// acknowledgement. Validation, decode and processing failures are returned as
// outcomes; the error is reserved for ledger failures, in which case the
// message stays unparsed and may be delivered again.
func (d *Dispatcher) Receive(ctx context.Context, msg core.InboundMessage) (core.ResponseOutcome, error) {
	if d == nil || d.Ledger == nil {
		return core.ResponseOutcome{}, inboundInternal("inbound: dispatcher is nil", nil)
	}
	startedAt := time.Now()
	if err := msg.Validate(); err != nil {
		return core.ResponseOutcome{}, inboundBadInput(err.Error(), map[string]any{"message_id": msg.ID})
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = d.now()
	}

	fields := map[string]any{
		"message_id": msg.IdentityKey(),
		"originator": msg.Originator,
	}
	for {
		claim, err := d.Ledger.Claim(ctx, msg, d.claimLease())
		if err != nil {
			return core.ResponseOutcome{}, ledgerFailure(err, "inbound: claim message", fields)
		}
		fields["message_id"] = claim.Key

		if claim.Accepted {
			return d.handle(ctx, startedAt, claim, msg, fields)
		}
		outcome, err := d.storedOutcome(ctx, claim)
		if errors.Is(err, core.ErrLeaseExpired) || errors.Is(err, core.ErrClaimNotHeld) {
			// the holder gave up or died; compete for the claim again
			continue
		}
		if err != nil {
			return core.ResponseOutcome{}, ledgerFailure(err, "inbound: await stored outcome", fields)
		}
		fields["deduped"] = true
		d.acknowledge(ctx, claim.Key, msg, outcome)
		d.observe(ctx, startedAt, "", outcome, fields)
		return outcome, nil
	}
}

func (d *Dispatcher) handle(ctx context.Context, startedAt time.Time, claim core.LedgerClaim, msg core.InboundMessage, fields map[string]any) (core.ResponseOutcome, error) {
	result := d.process(ctx, claim, msg)
	if result.err == nil && !result.recorded {
		result.err = d.markParsed(ctx, claim.ClaimID, result.outcome, result.committed)
		if result.err != nil {
			result.err = ledgerFailure(result.err, "inbound: mark message parsed", fields)
		}
	}
	if result.err != nil {
		if result.committed {
			// a committed claim is never released; releasing would let a
			// redelivery apply the same writes again
			d.observer.LogError(ctx, "sms.ledger outcome lost after commit", map[string]any{
				"message_id": claim.Key,
				"error":      result.err.Error(),
			})
		} else if releaseErr := d.Ledger.Release(ctx, claim.ClaimID); releaseErr != nil {
			d.observer.LogError(ctx, "sms.ledger release failed", map[string]any{
				"message_id": claim.Key,
				"error":      releaseErr.Error(),
			})
		}
		d.observe(ctx, startedAt, result.kind, core.InternalFailureOutcome(result.outcome.SubmissionID), fields)
		return core.ResponseOutcome{}, result.err
	}

	fields["deduped"] = false
	d.acknowledge(ctx, claim.Key, msg, result.outcome)
	d.observe(ctx, startedAt, result.kind, result.outcome, fields)
	return result.outcome, nil
}

// markParsed retries after a commit, when giving up would strand durable
// writes behind an unparsed ledger entry.
func (d *Dispatcher) markParsed(ctx context.Context, claimID string, outcome core.ResponseOutcome, committed bool) error {
	attempts := 1
	if committed {
		attempts = markParsedAttempts
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = d.Ledger.MarkParsed(ctx, claimID, outcome); err == nil || errors.Is(err, core.ErrClaimNotHeld) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * markParsedBackoff):
		}
	}
	return err
}

func (d *Dispatcher) storedOutcome(ctx context.Context, claim core.LedgerClaim) (core.ResponseOutcome, error) {
	if claim.Outcome != nil {
		return claim.Outcome.Normalize(), nil
	}
	outcome, err := d.Ledger.Await(ctx, claim.Key)
	if err != nil {
		return core.ResponseOutcome{}, err
	}
	return outcome.Normalize(), nil
}

// processResult reports how far a claimed message got. recorded means the
// ledger outcome was written in the same commit as the domain writes.
type processResult struct {
	outcome   core.ResponseOutcome
	kind      string
	committed bool
	recorded  bool
	err       error
}

// process runs decode, routing and the processor under one unit of work.
// Failures become outcomes; err is set only for ledger failures.
func (d *Dispatcher) process(ctx context.Context, claim core.LedgerClaim, msg core.InboundMessage) (result processResult) {
	key := claim.Key
	defer func() {
		if recovered := recover(); recovered != nil {
			d.observer.LogError(ctx, "sms.dispatch panic recovered", map[string]any{
				"message_id": key,
				"kind":       result.kind,
				"panic":      fmt.Sprint(recovered),
			})
			result.outcome = core.InternalFailureOutcome(result.outcome.SubmissionID)
		}
	}()

	submission, err := d.Codec.Decode(msg.Payload)
	if err == nil {
		err = submission.Validate()
	}
	if err != nil {
		d.observer.LogWarn(ctx, "sms.decode failed", map[string]any{
			"message_id": key,
			"error":      err.Error(),
		})
		result.outcome = core.NewOutcome(core.ResponseDecodeError, submission.SubmissionID)
		return result
	}
	result.kind = string(submission.Kind)
	result.outcome.SubmissionID = submission.SubmissionID

	processor, ok := d.Registry.Get(submission.Kind)
	if !ok || processor == nil {
		result.outcome = core.NewOutcome(core.ResponseUnsupportedKind, submission.SubmissionID, result.kind)
		return result
	}
	d.invoke(ctx, claim, processor, submission, &result)
	return result
}

// invoke commits the unit of work only for a successful outcome. When the
// ledger can join the unit of work the outcome is recorded in the same commit.
func (d *Dispatcher) invoke(ctx context.Context, claim core.LedgerClaim, processor core.Processor, submission core.Submission, result *processResult) {
	key := claim.Key
	uow, err := d.Store.Begin(ctx)
	if err != nil {
		d.logProcessingError(ctx, key, submission, "begin unit of work", err)
		result.outcome = core.InternalFailureOutcome(submission.SubmissionID)
		return
	}
	closed := false
	defer func() {
		if closed {
			return
		}
		if rollbackErr := uow.Rollback(ctx); rollbackErr != nil {
			d.logProcessingError(ctx, key, submission, "rollback", rollbackErr)
		}
	}()
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logProcessingError(ctx, key, submission, "processor panic", fmt.Errorf("%v", recovered))
			result.outcome = core.InternalFailureOutcome(submission.SubmissionID)
			result.recorded = false
		}
	}()

	outcome, err := processor.Process(ctx, uow, submission)
	if err != nil {
		d.logProcessingError(ctx, key, submission, "process", err)
		result.outcome = core.InternalFailureOutcome(submission.SubmissionID)
		return
	}
	outcome = outcome.Normalize()
	if outcome.SubmissionID == 0 {
		outcome.SubmissionID = submission.SubmissionID
	}
	result.outcome = outcome
	if !outcome.Success() {
		return
	}

	if recorder, ok := d.Ledger.(core.OutcomeRecorder); ok {
		err := recorder.MarkParsedIn(ctx, uow, claim.ClaimID, outcome)
		switch {
		case err == nil:
			result.recorded = true
		case !errors.Is(err, core.ErrNotTransactional):
			result.err = ledgerFailure(err, "inbound: record outcome in unit of work", map[string]any{
				"message_id": key,
			})
			return
		}
	}

	closed = true
	if err := uow.Commit(ctx); err != nil {
		d.logProcessingError(ctx, key, submission, "commit", err)
		result.outcome = core.InternalFailureOutcome(submission.SubmissionID)
		result.recorded = false
		return
	}
	result.committed = true
}

func (d *Dispatcher) acknowledge(ctx context.Context, key string, msg core.InboundMessage, outcome core.ResponseOutcome) {
	if !d.Acknowledge || d.Acknowledger == nil {
		return
	}
	ack := core.Acknowledgement{
		MessageKey:   key,
		Recipient:    strings.TrimSpace(msg.Originator),
		Text:         outcome.Render(),
		Code:         outcome.Code,
		SubmissionID: outcome.SubmissionID,
	}
	if err := d.Acknowledger.Acknowledge(ctx, ack); err != nil {
		d.observer.LogError(ctx, "sms.acknowledge failed", map[string]any{
			"message_id":    key,
			"recipient":     ack.Recipient,
			"response_code": int(ack.Code),
			"error":         err.Error(),
		})
	}
}

func (d *Dispatcher) observe(ctx context.Context, startedAt time.Time, kind string, outcome core.ResponseOutcome, fields map[string]any) {
	fields["kind"] = kind
	fields["submission_id"] = outcome.SubmissionID
	fields["response_code"] = int(outcome.Code)
	if _, ok := fields["deduped"]; !ok {
		fields["deduped"] = false
	}
	status := core.StatusSuccess
	if !outcome.Success() {
		status = core.StatusFailure
	}
	d.observer.Observe(ctx, startedAt, "dispatch", status, nil, fields, "kind", "response_code", "deduped")
}

func (d *Dispatcher) logProcessingError(ctx context.Context, key string, submission core.Submission, stage string, err error) {
	d.observer.LogError(ctx, "sms.process "+stage+" failed", map[string]any{
		"message_id":    key,
		"kind":          string(submission.Kind),
		"submission_id": submission.SubmissionID,
		"error":         err.Error(),
	})
}

func (d *Dispatcher) claimLease() time.Duration {
	if d != nil && d.ClaimLease > 0 {
		return d.ClaimLease
	}
	return time.Minute
}

func (d *Dispatcher) now() time.Time {
	if d != nil && d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

var (
	_ core.Dispatcher      = (*Dispatcher)(nil)
	_ core.MessageLedger   = (*MemoryLedger)(nil)
	_ core.LedgerPruner    = (*MemoryLedger)(nil)
	_ core.OutcomeRecorder = (*MemoryLedger)(nil)
)
