package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-smsintake/core"
)

func newTestEntityStore(t *testing.T) (*EntityStore, func()) {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	store, err := NewEntityStore(client.DB())
	if err != nil {
		cleanup()
		t.Fatalf("new entity store: %v", err)
	}
	return store, cleanup
}

func newTestEntityCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}

func TestEntityStore_SaveGetRoundTripsEveryField(t *testing.T) {
	store, cleanup := newTestEntityStore(t)
	defer cleanup()
	ctx := context.Background()

	occurred := time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC)
	event := &core.Event{
		UID:                     "evtAAAAAAA1",
		ProgramStageUID:         "stgAAAAAAA1",
		EnrollmentUID:           "enrAAAAAAA1",
		OrganisationUnitUID:     "ouAAAAAAAA1",
		AttributeOptionComboUID: "aocAAAAAAA1",
		Status:                  core.EventStatusCompleted,
		OccurredAt:              occurred,
		StoredBy:                "field-user",
		DataValues: []core.DataValue{
			{DataElementUID: "deAAAAAAAA1", CategoryOptionComboUID: "cocAAAAAAA1", Value: "12"},
		},
	}
	if err := store.Seed(ctx, event, &core.Program{
		UID:               "prgAAAAAAA1",
		OrganisationUnits: []string{"ouAAAAAAAA1"},
		ProgramStages:     []string{"stgAAAAAAA1"},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = uow.Rollback(ctx) }()

	entity, err := uow.Get(ctx, core.EntityEvent, "evtAAAAAAA1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	loaded, ok := entity.(*core.Event)
	if !ok {
		t.Fatalf("expected *core.Event, got %T", entity)
	}
	if loaded.Status != core.EventStatusCompleted || !loaded.OccurredAt.Equal(occurred) || loaded.StoredBy != "field-user" {
		t.Fatalf("unexpected event round trip: %+v", loaded)
	}
	if len(loaded.DataValues) != 1 || loaded.DataValues[0].Value != "12" {
		t.Fatalf("expected data values to round trip, got %+v", loaded.DataValues)
	}

	program, err := uow.Get(ctx, core.EntityProgram, "prgAAAAAAA1")
	if err != nil {
		t.Fatalf("get program: %v", err)
	}
	if !program.(*core.Program).HasOrganisationUnit("ouAAAAAAAA1") {
		t.Fatalf("expected program org units to round trip, got %+v", program)
	}

	if _, err := uow.Get(ctx, core.EntityProgram, "evtAAAAAAA1"); !errors.Is(err, core.ErrEntityNotFound) {
		t.Fatalf("expected kind-scoped lookup to miss, got %v", err)
	}
}

func TestEntityStore_UnitOfWorkCommitsOrRollsBack(t *testing.T) {
	store, cleanup := newTestEntityStore(t)
	defer cleanup()
	ctx := context.Background()

	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := uow.Save(ctx, &core.Relationship{UID: "relAAAAAAA1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := uow.Save(ctx, &core.Relationship{UID: "relAAAAAAA1"}); !errors.Is(err, core.ErrEntityAlreadyPresent) {
		t.Fatalf("expected duplicate save to fail with ErrEntityAlreadyPresent, got %v", err)
	}
	if err := uow.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := uow.Rollback(ctx); err != nil {
		t.Fatalf("expected second rollback to be a no-op, got %v", err)
	}
	if err := uow.Commit(ctx); !errors.Is(err, core.ErrUnitOfWorkClosed) {
		t.Fatalf("expected commit after rollback to fail, got %v", err)
	}
	if count, err := store.Count(ctx, core.EntityRelationship); err != nil || count != 0 {
		t.Fatalf("expected rolled back write to be discarded, got %d err=%v", count, err)
	}

	uow, err = store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := uow.Save(ctx, &core.Relationship{UID: "relAAAAAAA2"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := uow.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := uow.Get(ctx, core.EntityRelationship, "relAAAAAAA2"); !errors.Is(err, core.ErrUnitOfWorkClosed) {
		t.Fatalf("expected closed unit of work to reject reads, got %v", err)
	}
	if count, err := store.Count(ctx, core.EntityRelationship); err != nil || count != 1 {
		t.Fatalf("expected committed write to persist, got %d err=%v", count, err)
	}
}

func TestEntityStore_UpdateAndDeleteRequireExistingRows(t *testing.T) {
	store, cleanup := newTestEntityStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Seed(ctx, &core.Event{UID: "evtAAAAAAA1", Status: core.EventStatusActive}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := uow.Update(ctx, &core.Event{UID: "evtMISSING1"}); !errors.Is(err, core.ErrEntityNotFound) {
		t.Fatalf("expected update of missing event to fail, got %v", err)
	}
	if err := uow.Update(ctx, &core.Event{UID: "evtAAAAAAA1", Status: core.EventStatusSkipped}); err != nil {
		t.Fatalf("update: %v", err)
	}
	entity, err := uow.Get(ctx, core.EntityEvent, "evtAAAAAAA1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entity.(*core.Event).Status != core.EventStatusSkipped {
		t.Fatalf("expected update to be visible inside the unit of work")
	}
	if err := uow.Delete(ctx, core.EntityEvent, "evtAAAAAAA1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := uow.Delete(ctx, core.EntityEvent, "evtAAAAAAA1"); !errors.Is(err, core.ErrEntityNotFound) {
		t.Fatalf("expected second delete to fail, got %v", err)
	}
	if err := uow.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if count, _ := store.Count(ctx, core.EntityEvent); count != 0 {
		t.Fatalf("expected event to be deleted, found %d", count)
	}
}

func TestEntityStore_AttributeUniquenessAndEnrollmentLookup(t *testing.T) {
	store, cleanup := newTestEntityStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Seed(ctx,
		&core.TrackedEntity{
			UID:        "teiAAAAAAA1",
			Attributes: []core.AttributeValue{{AttributeUID: "attNATIONAL", Value: "A-100"}},
		},
		&core.Enrollment{
			UID:              "enrAAAAAAA1",
			ProgramUID:       "prgAAAAAAA1",
			TrackedEntityUID: "teiAAAAAAA1",
			Status:           core.EnrollmentStatusActive,
		},
	); err != nil {
		t.Fatalf("seed: %v", err)
	}

	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = uow.Rollback(ctx) }()

	unique, err := uow.IsAttributeValueUnique(ctx, "attNATIONAL", "A-100", "teiAAAAAAA2")
	if err != nil || unique {
		t.Fatalf("expected value held by another entity to be non-unique, got %v err=%v", unique, err)
	}
	unique, err = uow.IsAttributeValueUnique(ctx, "attNATIONAL", "A-100", "teiAAAAAAA1")
	if err != nil || !unique {
		t.Fatalf("expected owner's own value to count as unique, got %v err=%v", unique, err)
	}

	tracked, err := uow.Get(ctx, core.EntityTrackedEntity, "teiAAAAAAA1")
	if err != nil {
		t.Fatalf("get tracked entity: %v", err)
	}
	updated := tracked.(*core.TrackedEntity)
	updated.SetAttribute("attNATIONAL", "A-200")
	if err := uow.Update(ctx, updated); err != nil {
		t.Fatalf("update tracked entity: %v", err)
	}
	unique, err = uow.IsAttributeValueUnique(ctx, "attNATIONAL", "A-100", "teiAAAAAAA2")
	if err != nil || !unique {
		t.Fatalf("expected replaced value to be free again, got %v err=%v", unique, err)
	}

	enrollment, err := uow.FindEnrollment(ctx, "prgAAAAAAA1", "teiAAAAAAA1")
	if err != nil {
		t.Fatalf("find enrollment: %v", err)
	}
	if enrollment.UID != "enrAAAAAAA1" || enrollment.Status != core.EnrollmentStatusActive {
		t.Fatalf("unexpected enrollment %+v", enrollment)
	}
	if _, err := uow.FindEnrollment(ctx, "prgAAAAAAA2", "teiAAAAAAA1"); !errors.Is(err, core.ErrEntityNotFound) {
		t.Fatalf("expected enrollment in another program to miss, got %v", err)
	}
}

func TestCachedEntityStore_ServesMetadataFromCache(t *testing.T) {
	base, cleanup := newTestEntityStore(t)
	defer cleanup()
	ctx := context.Background()

	store, err := NewCachedEntityStore(base, newTestEntityCacheService(t))
	if err != nil {
		t.Fatalf("new cached entity store: %v", err)
	}
	if err := base.Seed(ctx, &core.OrganisationUnit{UID: "ouAAAAAAAA1", Name: "Clinic"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	readName := func() string {
		t.Helper()
		uow, err := store.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer func() { _ = uow.Rollback(ctx) }()
		entity, err := uow.Get(ctx, core.EntityOrganisationUnit, "ouAAAAAAAA1")
		if err != nil {
			t.Fatalf("get org unit: %v", err)
		}
		return entity.(*core.OrganisationUnit).Name
	}

	if name := readName(); name != "Clinic" {
		t.Fatalf("expected Clinic, got %q", name)
	}

	// Change the row behind the cache's back.
	renamed, err := encodeEntity(&core.OrganisationUnit{UID: "ouAAAAAAAA1", Name: "Hospital"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := base.db.NewUpdate().
		Model((*entityRecord)(nil)).
		Set("body = ?", renamed.Body).
		Where("uid = ?", "ouAAAAAAAA1").
		Exec(ctx); err != nil {
		t.Fatalf("raw update: %v", err)
	}
	if name := readName(); name != "Clinic" {
		t.Fatalf("expected cached name Clinic, got %q", name)
	}

	if err := store.Invalidate(ctx, core.EntityOrganisationUnit, "ouAAAAAAAA1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if name := readName(); name != "Hospital" {
		t.Fatalf("expected refreshed name Hospital, got %q", name)
	}

	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := uow.Update(ctx, &core.OrganisationUnit{UID: "ouAAAAAAAA1", Name: "District"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := uow.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if name := readName(); name != "District" {
		t.Fatalf("expected write through the unit of work to invalidate, got %q", name)
	}
}

func TestCachedEntityStore_AggregatesBypassCache(t *testing.T) {
	base, cleanup := newTestEntityStore(t)
	defer cleanup()
	ctx := context.Background()

	store, err := NewCachedEntityStore(base, newTestEntityCacheService(t))
	if err != nil {
		t.Fatalf("new cached entity store: %v", err)
	}
	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := uow.Save(ctx, &core.TrackedEntity{UID: "teiAAAAAAA1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := uow.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	uow, err = store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = uow.Rollback(ctx) }()
	if _, err := uow.Get(ctx, core.EntityTrackedEntity, "teiAAAAAAA1"); !errors.Is(err, core.ErrEntityNotFound) {
		t.Fatalf("expected rolled back aggregate to be absent, got %v", err)
	}

	if _, err := NewCachedEntityStore(nil, newTestEntityCacheService(t)); err == nil {
		t.Fatalf("expected nil base store to be rejected")
	}
	if key := EntityCacheKey(core.EntityProgram, " prg/1 "); key != "go-smsintake::entity::v1::program::prg%2F1" {
		t.Fatalf("unexpected cache key %q", key)
	}
}
