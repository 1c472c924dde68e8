package processors

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-smsintake/core"
	"github.com/goliatone/go-smsintake/resolve"
)

// RelationshipProcessor links two tracker objects through a relationship type.
// Each endpoint is resolved as the entity its own constraint names.
type RelationshipProcessor struct {
	now func() time.Time
}

func NewRelationshipProcessor(options ...Option) *RelationshipProcessor {
	s := newSettings(options)
	return &RelationshipProcessor{now: s.now}
}

func (p *RelationshipProcessor) Kind() core.SubmissionKind {
	return core.SubmissionRelationship
}

func (p *RelationshipProcessor) Process(ctx context.Context, uow core.UnitOfWork, submission core.Submission) (core.ResponseOutcome, error) {
	payload, err := payloadAs[core.RelationshipSubmission](submission)
	if err != nil {
		return core.ResponseOutcome{}, err
	}
	r := resolve.New(uow)

	if _, err := resolveSubmitter(ctx, r, submission); err != nil {
		return failure(err, submission)
	}
	relType, err := r.RelationshipType(ctx, payload.RelationshipTypeUID)
	if err != nil {
		return failure(err, submission)
	}
	from, err := resolveEndpoint(ctx, r, relType.FromConstraint, payload.FromUID)
	if err != nil {
		return failure(err, submission)
	}
	to, err := resolveEndpoint(ctx, r, relType.ToConstraint, payload.ToUID)
	if err != nil {
		return failure(err, submission)
	}

	now := p.now()
	relationship := &core.Relationship{
		UID:                 core.UIDOrGenerate(submission.EntityUID),
		RelationshipTypeUID: relType.UID,
		From:                from,
		To:                  to,
		Created:             now,
		LastUpdated:         now,
	}
	if err := uow.Save(ctx, relationship); err != nil {
		return core.ResponseOutcome{}, fmt.Errorf("processors: save relationship %s: %w", relationship.UID, err)
	}
	return core.SuccessOutcome(submission.SubmissionID), nil
}

func resolveEndpoint(
	ctx context.Context,
	r *resolve.Resolver,
	constraint core.RelationshipConstraint,
	uid string,
) (core.RelationshipItem, error) {
	kind, err := constraint.Entity.EntityKind()
	if err != nil {
		return core.RelationshipItem{}, fmt.Errorf("processors: relationship constraint: %w", err)
	}
	entity, err := r.Resolve(ctx, core.Ref(kind, uid))
	if err != nil {
		return core.RelationshipItem{}, err
	}
	return core.RelationshipItem{Entity: constraint.Entity, UID: entity.EntityUID()}, nil
}
