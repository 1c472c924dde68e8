package processors

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-smsintake/core"
	"github.com/goliatone/go-smsintake/resolve"
)

// TrackerEventProcessor records an event against an existing enrollment,
// creating it or updating the stored event with the same UID.
type TrackerEventProcessor struct {
	now func() time.Time
}

func NewTrackerEventProcessor(options ...Option) *TrackerEventProcessor {
	s := newSettings(options)
	return &TrackerEventProcessor{now: s.now}
}

func (p *TrackerEventProcessor) Kind() core.SubmissionKind {
	return core.SubmissionTrackerEvent
}

func (p *TrackerEventProcessor) Process(ctx context.Context, uow core.UnitOfWork, submission core.Submission) (core.ResponseOutcome, error) {
	payload, err := payloadAs[core.TrackerEventSubmission](submission)
	if err != nil {
		return core.ResponseOutcome{}, err
	}
	r := resolve.New(uow)

	user, err := resolveSubmitter(ctx, r, submission)
	if err != nil {
		return failure(err, submission)
	}
	orgUnit, denied, err := resolveOrgUnitFor(ctx, r, user, payload.OrganisationUnitUID, submission)
	if err != nil {
		return failure(err, submission)
	}
	if denied != nil {
		return *denied, nil
	}
	stage, err := r.ProgramStage(ctx, payload.ProgramStageUID)
	if err != nil {
		return failure(err, submission)
	}
	aoc, err := resolveAttributeOptionCombo(ctx, r, payload.AttributeOptionComboUID)
	if err != nil {
		return failure(err, submission)
	}
	enrollment, err := r.Enrollment(ctx, payload.EnrollmentUID)
	if err != nil {
		return failure(err, submission)
	}
	values, err := resolveDataValues(ctx, r, payload.Values)
	if err != nil {
		return failure(err, submission)
	}

	existing, mismatch, err := existingEventInStage(ctx, uow, submission.EntityUID, stage.UID, submission)
	if err != nil {
		return core.ResponseOutcome{}, err
	}
	if mismatch != nil {
		return *mismatch, nil
	}
	now := p.now()
	event := existing
	if event == nil {
		event = &core.Event{UID: core.UIDOrGenerate(submission.EntityUID), Created: now}
	}
	event.ProgramStageUID = stage.UID
	event.EnrollmentUID = enrollment.UID
	event.OrganisationUnitUID = orgUnit.UID
	if aoc != nil {
		event.AttributeOptionComboUID = aoc.UID
	}
	event.Status = eventStatus(payload.Status)
	event.OccurredAt = timeOr(payload.OccurredAt, now)
	event.StoredBy = user.Username
	event.DataValues = values
	event.LastUpdated = now

	if err := saveEvent(ctx, uow, event, existing != nil); err != nil {
		return core.ResponseOutcome{}, fmt.Errorf("processors: save event %s: %w", event.UID, err)
	}
	return core.SuccessOutcome(submission.SubmissionID), nil
}
