package processors

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-smsintake/core"
	"github.com/goliatone/go-smsintake/memstore"
)

var fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type recordingUnitOfWork struct {
	core.UnitOfWork
	gets []core.EntityReference
}

func (r *recordingUnitOfWork) Get(ctx context.Context, kind core.EntityKind, uid string) (core.Entity, error) {
	r.gets = append(r.gets, core.Ref(kind, uid))
	return r.UnitOfWork.Get(ctx, kind, uid)
}

func (r *recordingUnitOfWork) looked(kind core.EntityKind) bool {
	for _, ref := range r.gets {
		if ref.Kind == kind {
			return true
		}
	}
	return false
}

// seededStore holds the metadata and tracker objects shared by the tests.
func seededStore() *memstore.Store {
	return memstore.New(
		&core.User{UID: "usr00000001", Username: "field.worker", OrganisationUnits: []string{"ou000000001"}},
		&core.OrganisationUnit{UID: "ou000000001", Name: "Clinic"},
		&core.OrganisationUnit{UID: "ou000000002", Name: "Hospital"},
		&core.Program{
			UID:                  "prg00000001",
			TrackedEntityTypeUID: "tet00000001",
			OrganisationUnits:    []string{"ou000000001"},
			ProgramStages:        []string{"stg00000001"},
		},
		&core.Program{
			UID:                 "prg00000002",
			OrganisationUnits:   []string{"ou000000001"},
			ProgramStages:       []string{"stg00000002", "stg00000003"},
			WithoutRegistration: true,
		},
		&core.ProgramStage{UID: "stg00000001", ProgramUID: "prg00000001"},
		&core.ProgramStage{UID: "stg00000002", ProgramUID: "prg00000002"},
		&core.TrackedEntityType{UID: "tet00000001", Name: "Person"},
		&core.TrackedEntityAttribute{UID: "atrnational", Name: "National ID", Unique: true},
		&core.TrackedEntityAttribute{UID: "atrfirstnam", Name: "First name"},
		&core.DataElement{UID: "de000000001", Name: "Weight"},
		&core.CategoryOptionCombo{UID: "coc00000001", Name: "default"},
		&core.RelationshipType{
			UID:            "RT1",
			FromConstraint: core.RelationshipConstraint{Entity: core.RelationshipEntityTrackedEntity},
			ToConstraint:   core.RelationshipConstraint{Entity: core.RelationshipEntityTrackedEntity},
		},
		&core.RelationshipType{
			UID:            "RT2",
			FromConstraint: core.RelationshipConstraint{Entity: core.RelationshipEntityEnrollment},
			ToConstraint:   core.RelationshipConstraint{Entity: core.RelationshipEntityEvent},
		},
		&core.TrackedEntity{
			UID:                  "TEI1",
			TrackedEntityTypeUID: "tet00000001",
			Attributes:           []core.AttributeValue{{AttributeUID: "atrnational", Value: "NID-1"}},
		},
		&core.TrackedEntity{UID: "TEI2", TrackedEntityTypeUID: "tet00000001"},
		&core.TrackedEntity{
			UID:                  "tei00000001",
			TrackedEntityTypeUID: "tet00000001",
			Attributes:           []core.AttributeValue{{AttributeUID: "atrnational", Value: "NID-3"}},
		},
		&core.Enrollment{UID: "enr00000001", ProgramUID: "prg00000001", TrackedEntityUID: "TEI1"},
		&core.Enrollment{UID: "enr00000002", ProgramUID: "prg00000001", TrackedEntityUID: "tei00000001"},
		&core.Event{UID: "evt00000001", ProgramStageUID: "stg00000001", EnrollmentUID: "enr00000001"},
	)
}

func process(t *testing.T, store *memstore.Store, processor core.Processor, submission core.Submission) (core.ResponseOutcome, *recordingUnitOfWork) {
	t.Helper()
	ctx := context.Background()
	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	recorder := &recordingUnitOfWork{UnitOfWork: uow}
	outcome, err := processor.Process(ctx, recorder, submission)
	if err != nil {
		_ = uow.Rollback(ctx)
		t.Fatalf("process: %v", err)
	}
	if outcome.Success() {
		if err := uow.Commit(ctx); err != nil {
			t.Fatalf("commit: %v", err)
		}
	} else {
		_ = uow.Rollback(ctx)
	}
	return outcome, recorder
}

func expectOutcome(t *testing.T, got core.ResponseOutcome, code core.ResponseCode, refs ...string) {
	t.Helper()
	want := core.NewOutcome(code, got.SubmissionID, refs...)
	if !got.Equal(want) {
		t.Fatalf("expected %q, got %q", want.Render(), got.Render())
	}
}
