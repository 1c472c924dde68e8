package processors

import (
	"context"
	"fmt"

	"github.com/goliatone/go-smsintake/core"
	"github.com/goliatone/go-smsintake/resolve"
)

// DeletionProcessor removes the event named by the submission entity UID.
type DeletionProcessor struct{}

func NewDeletionProcessor(...Option) *DeletionProcessor {
	return &DeletionProcessor{}
}

func (p *DeletionProcessor) Kind() core.SubmissionKind {
	return core.SubmissionDeletion
}

func (p *DeletionProcessor) Process(ctx context.Context, uow core.UnitOfWork, submission core.Submission) (core.ResponseOutcome, error) {
	if _, err := payloadAs[core.DeletionSubmission](submission); err != nil {
		return core.ResponseOutcome{}, err
	}
	r := resolve.New(uow)

	if _, err := resolveSubmitter(ctx, r, submission); err != nil {
		return failure(err, submission)
	}
	event, err := r.Event(ctx, submission.EntityUID)
	if err != nil {
		return failure(err, submission)
	}
	if err := uow.Delete(ctx, core.EntityEvent, event.UID); err != nil {
		return core.ResponseOutcome{}, fmt.Errorf("processors: delete event %s: %w", event.UID, err)
	}
	return core.SuccessOutcome(submission.SubmissionID), nil
}
