package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Codec turns a raw wire payload into a typed Submission.
type Codec interface {
	Decode(payload []byte) (Submission, error)
}

type EntityStore interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}

// UnitOfWork scopes every domain read and write made while processing one
// submission. Writes become visible to other units only after Commit.
type UnitOfWork interface {
	Get(ctx context.Context, kind EntityKind, uid string) (Entity, error)
	Save(ctx context.Context, entity Entity) error
	Update(ctx context.Context, entity Entity) error
	Delete(ctx context.Context, kind EntityKind, uid string) error
	IsAttributeValueUnique(ctx context.Context, attributeUID string, value string, ownerUID string) (bool, error)
	FindEnrollment(ctx context.Context, programUID string, trackedEntityUID string) (*Enrollment, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// CommitHooks is implemented by units of work that can run callbacks as part
// of Commit. Hooks run before the writes become visible; a hook error aborts
// the commit.
type CommitHooks interface {
	OnCommit(fn func(ctx context.Context) error) error
}

// OutcomeRecorder is implemented by ledgers that can record an outcome inside
// a unit of work, so the domain writes and the parsed mark commit together.
// It returns ErrNotTransactional when uow belongs to a store it cannot join.
type OutcomeRecorder interface {
	MarkParsedIn(ctx context.Context, uow UnitOfWork, claimID string, outcome ResponseOutcome) error
}

// LedgerClaim is the result of an atomic check-and-set on a message identity.
// Exactly one caller per identity receives Accepted=true until the claim is
// completed or released.
type LedgerClaim struct {
	ClaimID  string
	Key      string
	Accepted bool
	Message  InboundMessage
	Outcome  *ResponseOutcome
}

type MessageLedger interface {
	Claim(ctx context.Context, msg InboundMessage, lease time.Duration) (LedgerClaim, error)
	MarkParsed(ctx context.Context, claimID string, outcome ResponseOutcome) error
	Release(ctx context.Context, claimID string) error
	IsParsed(ctx context.Context, key string) (bool, error)
	GetOutcome(ctx context.Context, key string) (ResponseOutcome, error)
	Await(ctx context.Context, key string) (ResponseOutcome, error)
	ListUnparsed(ctx context.Context, limit int) ([]InboundMessage, error)
}

type GatewayConfig struct {
	GatewayID string
	SenderID  string
}

type DeliveryResult struct {
	OK          bool
	Description string
}

type Sender interface {
	Send(ctx context.Context, text string, recipients []string, cfg GatewayConfig) DeliveryResult
}

type Acknowledgement struct {
	MessageKey   string
	Recipient    string
	Text         string
	Code         ResponseCode
	SubmissionID int
}

// Acknowledger delivers a rendered outcome back to the originator. Failures
// are reported through logs and metrics and never alter the outcome.
type Acknowledger interface {
	Acknowledge(ctx context.Context, ack Acknowledgement) error
}

type Processor interface {
	Kind() SubmissionKind
	Process(ctx context.Context, uow UnitOfWork, submission Submission) (ResponseOutcome, error)
}

type Registry interface {
	Register(processor Processor) error
	Get(kind SubmissionKind) (Processor, bool)
	List() []Processor
}

type Dispatcher interface {
	Receive(ctx context.Context, msg InboundMessage) (ResponseOutcome, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// LedgerPruner drops parsed messages older than the retention window.
type LedgerPruner interface {
	Prune(ctx context.Context, parsedBefore time.Time) (int, error)
}
