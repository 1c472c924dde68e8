package processors

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-smsintake/core"
	"github.com/goliatone/go-smsintake/resolve"
)

// SimpleEventProcessor records an event for a program without registration.
// The program must have exactly one stage.
type SimpleEventProcessor struct {
	now func() time.Time
}

func NewSimpleEventProcessor(options ...Option) *SimpleEventProcessor {
	s := newSettings(options)
	return &SimpleEventProcessor{now: s.now}
}

func (p *SimpleEventProcessor) Kind() core.SubmissionKind {
	return core.SubmissionSimpleEvent
}

func (p *SimpleEventProcessor) Process(ctx context.Context, uow core.UnitOfWork, submission core.Submission) (core.ResponseOutcome, error) {
	payload, err := payloadAs[core.SimpleEventSubmission](submission)
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
	program, err := r.Program(ctx, payload.ProgramUID)
	if err != nil {
		return failure(err, submission)
	}
	if !program.HasOrganisationUnit(orgUnit.UID) {
		return core.NewOutcome(core.ResponseOrgUnitNotInProgram, submission.SubmissionID, orgUnit.UID, program.UID), nil
	}
	switch len(program.ProgramStages) {
	case 1:
	case 0:
		return core.ResponseOutcome{}, fmt.Errorf("processors: program %s has no program stage", program.UID)
	default:
		return core.NewOutcome(core.ResponseMultipleProgramStages, submission.SubmissionID, program.UID), nil
	}
	stage, err := r.ProgramStage(ctx, program.ProgramStages[0])
	if err != nil {
		return failure(err, submission)
	}
	aoc, err := resolveAttributeOptionCombo(ctx, r, payload.AttributeOptionComboUID)
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
	event.EnrollmentUID = ""
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
