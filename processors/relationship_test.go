package processors

import (
	"errors"
	"testing"

	"github.com/goliatone/go-smsintake/core"
)

func relationshipSubmission(typeUID, from, to string) core.Submission {
	return core.Submission{
		Kind:         core.SubmissionRelationship,
		SubmissionID: 9,
		UserUID:      "usr00000001",
		Payload: core.RelationshipSubmission{
			RelationshipTypeUID: typeUID,
			FromUID:             from,
			ToUID:               to,
		},
	}
}

func TestRelationshipProcessor_PersistsWhenEndpointsResolve(t *testing.T) {
	store := seededStore()
	submission := relationshipSubmission("RT1", "TEI1", "TEI2")
	submission.EntityUID = "relClient01"

	outcome, _ := process(t, store, NewRelationshipProcessor(WithClock(fixedClock)), submission)
	expectOutcome(t, outcome, core.ResponseSuccess)
	if outcome.SubmissionID != 9 {
		t.Fatalf("expected submission id 9, got %d", outcome.SubmissionID)
	}

	entity, ok := store.Get(core.EntityRelationship, "relClient01")
	if !ok {
		t.Fatalf("expected relationship with client uid to be persisted")
	}
	rel := entity.(*core.Relationship)
	if rel.RelationshipTypeUID != "RT1" || rel.From.UID != "TEI1" || rel.To.UID != "TEI2" {
		t.Fatalf("unexpected relationship: %#v", rel)
	}
	if !rel.Created.Equal(fixedNow) || !rel.LastUpdated.Equal(fixedNow) {
		t.Fatalf("expected server timestamps, got %v / %v", rel.Created, rel.LastUpdated)
	}
}

func TestRelationshipProcessor_MissingEndpointPersistsNothing(t *testing.T) {
	store := seededStore()
	before := store.Writes()

	outcome, _ := process(t, store, NewRelationshipProcessor(), relationshipSubmission("RT1", "TEI1", "MISSING"))
	expectOutcome(t, outcome, core.ResponseInvalidTrackedEntity, "MISSING")
	if got := outcome.Render(); got != "9:208:Tracked Entity Instance [MISSING] does not exist" {
		t.Fatalf("unexpected acknowledgement text %q", got)
	}
	if store.Count(core.EntityRelationship) != 0 || store.Writes() != before {
		t.Fatalf("expected store to be unchanged")
	}
}

func TestRelationshipProcessor_MissingTypeSkipsEndpointResolution(t *testing.T) {
	store := seededStore()

	outcome, recorder := process(t, store, NewRelationshipProcessor(), relationshipSubmission("RTX", "TEI1", "TEI2"))
	expectOutcome(t, outcome, core.ResponseInvalidRelationshipType, "RTX")
	for _, kind := range []core.EntityKind{core.EntityTrackedEntity, core.EntityEnrollment, core.EntityEvent} {
		if recorder.looked(kind) {
			t.Fatalf("expected no %s lookup after relationship type failure, got %v", kind, recorder.gets)
		}
	}
	if store.Count(core.EntityRelationship) != 0 {
		t.Fatalf("expected no relationship")
	}
}

func TestRelationshipProcessor_ResolvesEachEndpointByItsOwnConstraint(t *testing.T) {
	store := seededStore()

	outcome, _ := process(t, store, NewRelationshipProcessor(), relationshipSubmission("RT2", "enr00000001", "evt00000001"))
	expectOutcome(t, outcome, core.ResponseSuccess)

	listed := store.List(core.EntityRelationship)
	if len(listed) != 1 {
		t.Fatalf("expected one relationship, got %d", len(listed))
	}
	rel := listed[0].(*core.Relationship)
	if rel.From.Entity != core.RelationshipEntityEnrollment || rel.To.Entity != core.RelationshipEntityEvent {
		t.Fatalf("unexpected endpoint kinds: %#v", rel)
	}
	if !core.IsValidUID(rel.UID) {
		t.Fatalf("expected generated uid, got %q", rel.UID)
	}

	outcome, _ = process(t, store, NewRelationshipProcessor(), relationshipSubmission("RT2", "enr00000001", "TEI2"))
	expectOutcome(t, outcome, core.ResponseInvalidEvent, "TEI2")

	outcome, _ = process(t, store, NewRelationshipProcessor(), relationshipSubmission("RT2", "TEI1", "evt00000001"))
	expectOutcome(t, outcome, core.ResponseInvalidEnrollment, "TEI1")
}

func TestRelationshipProcessor_UnknownSubmitter(t *testing.T) {
	store := seededStore()
	submission := relationshipSubmission("RT1", "TEI1", "TEI2")
	submission.UserUID = "nobody"

	outcome, recorder := process(t, store, NewRelationshipProcessor(), submission)
	expectOutcome(t, outcome, core.ResponseInvalidUser, "nobody")
	if recorder.looked(core.EntityRelationshipType) {
		t.Fatalf("expected submitter check before reference resolution")
	}
}

func TestPayloadAs_AcceptsValueAndPointerPayloads(t *testing.T) {
	submission := relationshipSubmission("RT1", "TEI1", "TEI2")
	value, err := payloadAs[core.RelationshipSubmission](submission)
	if err != nil || value.FromUID != "TEI1" {
		t.Fatalf("expected value payload, got %#v err=%v", value, err)
	}

	body := submission.Payload.(core.RelationshipSubmission)
	submission.Payload = &body
	pointer, err := payloadAs[core.RelationshipSubmission](submission)
	if err != nil || pointer.ToUID != "TEI2" {
		t.Fatalf("expected pointer payload to be dereferenced, got %#v err=%v", pointer, err)
	}

	submission.Payload = core.DeletionSubmission{}
	if _, err := payloadAs[core.RelationshipSubmission](submission); !errors.Is(err, core.ErrInvalidSubmission) {
		t.Fatalf("expected mismatched payload to be rejected, got %v", err)
	}
}
