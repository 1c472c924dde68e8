package processors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-smsintake/core"
	"github.com/goliatone/go-smsintake/resolve"
	"github.com/samber/lo"
)

// EnrollmentProcessor registers or updates a tracked entity and enrolls it
// into a program. Unique attributes are checked before anything is written.
type EnrollmentProcessor struct {
	now func() time.Time
}

func NewEnrollmentProcessor(options ...Option) *EnrollmentProcessor {
	s := newSettings(options)
	return &EnrollmentProcessor{now: s.now}
}

func (p *EnrollmentProcessor) Kind() core.SubmissionKind {
	return core.SubmissionEnrollment
}

func (p *EnrollmentProcessor) Process(ctx context.Context, uow core.UnitOfWork, submission core.Submission) (core.ResponseOutcome, error) {
	payload, err := payloadAs[core.EnrollmentSubmission](submission)
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
	teType, err := r.TrackedEntityType(ctx, payload.TrackedEntityTypeUID)
	if err != nil {
		return failure(err, submission)
	}

	tracked, trackedExists, err := p.trackedEntity(ctx, uow, payload.TrackedEntityUID)
	if err != nil {
		return core.ResponseOutcome{}, err
	}

	attributes := lo.UniqBy(payload.Attributes, func(value core.AttributeValue) string {
		return strings.TrimSpace(value.AttributeUID)
	})
	for _, value := range attributes {
		attribute, err := r.Attribute(ctx, value.AttributeUID)
		if err != nil {
			return failure(err, submission)
		}
		if !attribute.Unique {
			continue
		}
		unique, err := uow.IsAttributeValueUnique(ctx, attribute.UID, value.Value, tracked.UID)
		if err != nil {
			return core.ResponseOutcome{}, fmt.Errorf("processors: check attribute %s: %w", attribute.UID, err)
		}
		if !unique {
			return core.NewOutcome(core.ResponseAttributeValueNotUnique, submission.SubmissionID, attribute.UID), nil
		}
	}

	now := p.now()
	if !trackedExists {
		tracked.Created = now
	}
	tracked.TrackedEntityTypeUID = teType.UID
	tracked.OrganisationUnitUID = orgUnit.UID
	for _, value := range attributes {
		tracked.SetAttribute(strings.TrimSpace(value.AttributeUID), value.Value)
	}
	tracked.LastUpdated = now

	enrollment, enrollmentExists, err := p.enrollment(ctx, uow, submission.EntityUID, program.UID, tracked.UID)
	if err != nil {
		return core.ResponseOutcome{}, err
	}
	if !enrollmentExists {
		enrollment.Created = now
		enrollment.Status = core.EnrollmentStatusActive
	}
	enrollment.ProgramUID = program.UID
	enrollment.TrackedEntityUID = tracked.UID
	enrollment.OrganisationUnitUID = orgUnit.UID
	enrollment.EnrollmentDate = timeOr(payload.EnrollmentDate, now)
	enrollment.IncidentDate = timeOr(payload.IncidentDate, enrollment.EnrollmentDate)
	enrollment.LastUpdated = now

	if trackedExists {
		err = uow.Update(ctx, tracked)
	} else {
		err = uow.Save(ctx, tracked)
	}
	if err != nil {
		return core.ResponseOutcome{}, fmt.Errorf("processors: save tracked entity %s: %w", tracked.UID, err)
	}
	if enrollmentExists {
		err = uow.Update(ctx, enrollment)
	} else {
		err = uow.Save(ctx, enrollment)
	}
	if err != nil {
		return core.ResponseOutcome{}, fmt.Errorf("processors: save enrollment %s: %w", enrollment.UID, err)
	}
	return core.SuccessOutcome(submission.SubmissionID), nil
}

func (p *EnrollmentProcessor) trackedEntity(ctx context.Context, uow core.UnitOfWork, uid string) (*core.TrackedEntity, bool, error) {
	if core.IsValidUID(uid) {
		entity, err := uow.Get(ctx, core.EntityTrackedEntity, uid)
		switch {
		case err == nil:
			tracked, ok := entity.(*core.TrackedEntity)
			if !ok {
				return nil, false, fmt.Errorf("processors: %w: tracked entity %q has type %T", core.ErrInvalidEntityKind, uid, entity)
			}
			return tracked, true, nil
		case !isNotFound(err):
			return nil, false, err
		}
	}
	return &core.TrackedEntity{UID: core.UIDOrGenerate(uid)}, false, nil
}

// enrollment finds the enrollment to update: by client UID first, then by
// program and tracked entity. Otherwise a new one is prepared.
func (p *EnrollmentProcessor) enrollment(
	ctx context.Context,
	uow core.UnitOfWork,
	uid string,
	programUID string,
	trackedEntityUID string,
) (*core.Enrollment, bool, error) {
	if core.IsValidUID(uid) {
		entity, err := uow.Get(ctx, core.EntityEnrollment, uid)
		switch {
		case err == nil:
			enrollment, ok := entity.(*core.Enrollment)
			if !ok {
				return nil, false, fmt.Errorf("processors: %w: enrollment %q has type %T", core.ErrInvalidEntityKind, uid, entity)
			}
			return enrollment, true, nil
		case !isNotFound(err):
			return nil, false, err
		}
	}
	enrollment, err := uow.FindEnrollment(ctx, programUID, trackedEntityUID)
	switch {
	case err == nil && enrollment != nil:
		return enrollment, true, nil
	case err != nil && !isNotFound(err):
		return nil, false, err
	}
	return &core.Enrollment{UID: core.UIDOrGenerate(uid)}, false, nil
}
