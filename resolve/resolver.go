package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-smsintake/core"
	"github.com/samber/lo"
)

// Failure is a typed resolution failure: the referenced UID is absent or
// resolves to a different kind.
type Failure struct {
	Kind core.EntityKind
	UID  string
	Code core.ResponseCode
}

func NewFailure(kind core.EntityKind, uid string) *Failure {
	return &Failure{Kind: kind, UID: strings.TrimSpace(uid), Code: core.NotFoundCode(kind)}
}

func (f *Failure) Error() string {
	return fmt.Sprintf("resolve: %s %q not found", f.Kind, f.UID)
}

func (f *Failure) Outcome(submissionID int) core.ResponseOutcome {
	return core.NewOutcome(f.Code, submissionID, f.UID)
}

func (f *Failure) ToServiceError() *goerrors.Error {
	return core.NewError(f.Error(), goerrors.CategoryNotFound, core.ErrorNotFound).
		WithMetadata(map[string]any{
			"kind":          string(f.Kind),
			"uid":           f.UID,
			"response_code": int(f.Code),
		})
}

func AsFailure(err error) (*Failure, bool) {
	var failure *Failure
	if errors.As(err, &failure) && failure != nil {
		return failure, true
	}
	return nil, false
}

// OutcomeFor converts a resolution failure into its response outcome. Any
// other error is returned unchanged for the dispatcher to downgrade.
func OutcomeFor(err error, submissionID int) (core.ResponseOutcome, error) {
	if failure, ok := AsFailure(err); ok {
		return failure.Outcome(submissionID), nil
	}
	return core.ResponseOutcome{}, err
}

// Resolver looks references up through a unit of work. It performs no writes
// and keeps no state beyond the lookups it has made.
type Resolver struct {
	uow     core.UnitOfWork
	lookups []core.EntityReference
}

func New(uow core.UnitOfWork) *Resolver {
	return &Resolver{uow: uow}
}

func (r *Resolver) Resolve(ctx context.Context, ref core.EntityReference) (core.Entity, error) {
	uid := strings.TrimSpace(ref.UID)
	if uid == "" {
		return nil, NewFailure(ref.Kind, uid)
	}
	if !ref.Kind.Valid() {
		return nil, fmt.Errorf("resolve: %w: %q", core.ErrInvalidEntityKind, ref.Kind)
	}
	if r == nil || r.uow == nil {
		return nil, fmt.Errorf("resolve: unit of work is required")
	}
	r.lookups = append(r.lookups, core.Ref(ref.Kind, uid))

	entity, err := r.uow.Get(ctx, ref.Kind, uid)
	if err != nil {
		if errors.Is(err, core.ErrEntityNotFound) {
			return nil, NewFailure(ref.Kind, uid)
		}
		return nil, fmt.Errorf("resolve: get %s %q: %w", ref.Kind, uid, err)
	}
	if entity == nil || entity.EntityKind() != ref.Kind {
		return nil, NewFailure(ref.Kind, uid)
	}
	return entity, nil
}

// ResolveAll resolves every reference independently. It returns the entities
// keyed by reference and the failures in input order; err is reserved for
// store faults.
func (r *Resolver) ResolveAll(ctx context.Context, refs ...core.EntityReference) (map[core.EntityReference]core.Entity, []*Failure, error) {
	resolved := make(map[core.EntityReference]core.Entity, len(refs))
	failures := []*Failure{}
	for _, ref := range lo.Uniq(refs) {
		entity, err := r.Resolve(ctx, ref)
		if err != nil {
			if failure, ok := AsFailure(err); ok {
				failures = append(failures, failure)
				continue
			}
			return nil, nil, err
		}
		resolved[ref] = entity
	}
	return resolved, failures, nil
}

// Lookups returns the references resolved so far, in order.
func (r *Resolver) Lookups() []core.EntityReference {
	if r == nil {
		return nil
	}
	return append([]core.EntityReference(nil), r.lookups...)
}

// Lookup resolves a reference and narrows it to the concrete entity type.
func Lookup[T any](ctx context.Context, r *Resolver, kind core.EntityKind, uid string) (*T, error) {
	entity, err := r.Resolve(ctx, core.Ref(kind, uid))
	if err != nil {
		return nil, err
	}
	switch typed := any(entity).(type) {
	case *T:
		return typed, nil
	case T:
		return &typed, nil
	}
	return nil, NewFailure(kind, uid)
}

func (r *Resolver) User(ctx context.Context, uid string) (*core.User, error) {
	return Lookup[core.User](ctx, r, core.EntityUser, uid)
}

func (r *Resolver) OrganisationUnit(ctx context.Context, uid string) (*core.OrganisationUnit, error) {
	return Lookup[core.OrganisationUnit](ctx, r, core.EntityOrganisationUnit, uid)
}

func (r *Resolver) Program(ctx context.Context, uid string) (*core.Program, error) {
	return Lookup[core.Program](ctx, r, core.EntityProgram, uid)
}

func (r *Resolver) ProgramStage(ctx context.Context, uid string) (*core.ProgramStage, error) {
	return Lookup[core.ProgramStage](ctx, r, core.EntityProgramStage, uid)
}

func (r *Resolver) TrackedEntityType(ctx context.Context, uid string) (*core.TrackedEntityType, error) {
	return Lookup[core.TrackedEntityType](ctx, r, core.EntityTrackedEntityType, uid)
}

func (r *Resolver) Attribute(ctx context.Context, uid string) (*core.TrackedEntityAttribute, error) {
	return Lookup[core.TrackedEntityAttribute](ctx, r, core.EntityTrackedEntityAttribute, uid)
}

func (r *Resolver) DataElement(ctx context.Context, uid string) (*core.DataElement, error) {
	return Lookup[core.DataElement](ctx, r, core.EntityDataElement, uid)
}

func (r *Resolver) CategoryOptionCombo(ctx context.Context, uid string) (*core.CategoryOptionCombo, error) {
	return Lookup[core.CategoryOptionCombo](ctx, r, core.EntityCategoryOptionCombo, uid)
}

func (r *Resolver) RelationshipType(ctx context.Context, uid string) (*core.RelationshipType, error) {
	return Lookup[core.RelationshipType](ctx, r, core.EntityRelationshipType, uid)
}

func (r *Resolver) TrackedEntity(ctx context.Context, uid string) (*core.TrackedEntity, error) {
	return Lookup[core.TrackedEntity](ctx, r, core.EntityTrackedEntity, uid)
}

func (r *Resolver) Enrollment(ctx context.Context, uid string) (*core.Enrollment, error) {
	return Lookup[core.Enrollment](ctx, r, core.EntityEnrollment, uid)
}

func (r *Resolver) Event(ctx context.Context, uid string) (*core.Event, error) {
	return Lookup[core.Event](ctx, r, core.EntityEvent, uid)
}
