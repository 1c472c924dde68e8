package processors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-smsintake/core"
	"github.com/goliatone/go-smsintake/resolve"
)

type settings struct {
	now func() time.Time
}

type Option func(*settings)

// WithClock overrides the time source used for created and last updated stamps.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func newSettings(options []Option) settings {
	s := settings{now: func() time.Time { return time.Now().UTC() }}
	for _, option := range options {
		if option != nil {
			option(&s)
		}
	}
	return s
}

// All returns one processor per supported submission kind.
func All(options ...Option) []core.Processor {
	return []core.Processor{
		NewRelationshipProcessor(options...),
		NewTrackerEventProcessor(options...),
		NewEnrollmentProcessor(options...),
		NewSimpleEventProcessor(options...),
		NewDeletionProcessor(options...),
	}
}

func payloadAs[T core.SubmissionPayload](submission core.Submission) (T, error) {
	var zero T
	switch payload := any(submission.Payload).(type) {
	case T:
		return payload, nil
	case *T:
		if payload != nil {
			return *payload, nil
		}
	}
	return zero, fmt.Errorf("processors: %w: unexpected payload %T for kind %s",
		core.ErrInvalidSubmission, submission.Payload, submission.Kind)
}

// failure converts a resolution failure into its outcome and passes any
// other error through.
func failure(err error, submission core.Submission) (core.ResponseOutcome, error) {
	return resolve.OutcomeFor(err, submission.SubmissionID)
}

func resolveSubmitter(ctx context.Context, r *resolve.Resolver, submission core.Submission) (*core.User, error) {
	return r.User(ctx, submission.UserUID)
}

// resolveOrgUnitFor resolves the target organisation unit and requires the
// submitter to be assigned to it.
func resolveOrgUnitFor(
	ctx context.Context,
	r *resolve.Resolver,
	user *core.User,
	orgUnitUID string,
	submission core.Submission,
) (*core.OrganisationUnit, *core.ResponseOutcome, error) {
	orgUnit, err := r.OrganisationUnit(ctx, orgUnitUID)
	if err != nil {
		return nil, nil, err
	}
	if !user.AssignedTo(orgUnit.UID) {
		outcome := core.NewOutcome(core.ResponseUserNotInOrgUnit, submission.SubmissionID, user.UID, orgUnit.UID)
		return nil, &outcome, nil
	}
	return orgUnit, nil, nil
}

// resolveAttributeOptionCombo reports absent combos with the attribute
// option combo code rather than the generic category option combo code.
func resolveAttributeOptionCombo(ctx context.Context, r *resolve.Resolver, uid string) (*core.CategoryOptionCombo, error) {
	if strings.TrimSpace(uid) == "" {
		return nil, nil
	}
	combo, err := r.CategoryOptionCombo(ctx, uid)
	if err != nil {
		if failed, ok := resolve.AsFailure(err); ok {
			failed.Code = core.ResponseInvalidAttributeOptionCombo
			return nil, failed
		}
		return nil, err
	}
	return combo, nil
}

// resolveDataValues checks every data element and, when given, its category
// option combo.
func resolveDataValues(ctx context.Context, r *resolve.Resolver, values []core.DataValue) ([]core.DataValue, error) {
	out := make([]core.DataValue, 0, len(values))
	for _, value := range values {
		if _, err := r.DataElement(ctx, value.DataElementUID); err != nil {
			return nil, err
		}
		if strings.TrimSpace(value.CategoryOptionComboUID) != "" {
			if _, err := r.CategoryOptionCombo(ctx, value.CategoryOptionComboUID); err != nil {
				return nil, err
			}
		}
		out = append(out, core.DataValue{
			DataElementUID:         strings.TrimSpace(value.DataElementUID),
			CategoryOptionComboUID: strings.TrimSpace(value.CategoryOptionComboUID),
			Value:                  value.Value,
		})
	}
	return out, nil
}

// existingEvent returns the stored event for a valid client UID, or nil when
// the submission creates a new one.
func existingEvent(ctx context.Context, uow core.UnitOfWork, uid string) (*core.Event, error) {
	if !core.IsValidUID(uid) {
		return nil, nil
	}
	entity, err := uow.Get(ctx, core.EntityEvent, uid)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	event, ok := entity.(*core.Event)
	if !ok {
		return nil, fmt.Errorf("processors: %w: event %q has type %T", core.ErrInvalidEntityKind, uid, entity)
	}
	return event, nil
}

// existingEventInStage loads the stored event like existingEvent and rejects
// it with an invalid event outcome when it belongs to another program stage.
func existingEventInStage(
	ctx context.Context,
	uow core.UnitOfWork,
	uid string,
	stageUID string,
	submission core.Submission,
) (*core.Event, *core.ResponseOutcome, error) {
	event, err := existingEvent(ctx, uow, uid)
	if err != nil || event == nil {
		return nil, nil, err
	}
	if event.ProgramStageUID != stageUID {
		outcome := core.NewOutcome(core.ResponseInvalidEvent, submission.SubmissionID, event.UID)
		return nil, &outcome, nil
	}
	return event, nil, nil
}

// saveEvent creates or updates event depending on whether it already exists.
func saveEvent(ctx context.Context, uow core.UnitOfWork, event *core.Event, exists bool) error {
	if exists {
		return uow.Update(ctx, event)
	}
	return uow.Save(ctx, event)
}

func eventStatus(status core.EventStatus) core.EventStatus {
	if strings.TrimSpace(string(status)) == "" {
		return core.EventStatusActive
	}
	return core.EventStatus(strings.ToUpper(strings.TrimSpace(string(status))))
}

func timeOr(value time.Time, fallback time.Time) time.Time {
	if value.IsZero() {
		return fallback
	}
	return value.UTC()
}

func isNotFound(err error) bool {
	return errors.Is(err, core.ErrEntityNotFound)
}
