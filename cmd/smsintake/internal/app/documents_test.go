package app

import (
	"errors"
	"testing"

	"github.com/goliatone/go-smsintake/codec"
	"github.com/goliatone/go-smsintake/core"
)

func TestParseSeed_DecodesTaggedEntities(t *testing.T) {
	entities, err := ParseSeed([]byte(`
entities:
  - kind: user
    uid: usrAAAAAAA1
    organisationunits: [ouAAAAAAAA1]
  - kind: relationship_type
    uid: rtyAAAAAAA1
    fromconstraint: {entity: tracked_entity}
    toconstraint: {entity: event}
`))
	if err != nil {
		t.Fatalf("parse seed: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("expected two entities, got %d", len(entities))
	}
	user, ok := entities[0].(*core.User)
	if !ok || !user.AssignedTo("ouAAAAAAAA1") {
		t.Fatalf("unexpected user %#v", entities[0])
	}
	relType, ok := entities[1].(*core.RelationshipType)
	if !ok || relType.ToConstraint.Entity != core.RelationshipEntityEvent {
		t.Fatalf("unexpected relationship type %#v", entities[1])
	}

	if _, err := ParseSeed([]byte("entities:\n  - kind: widget\n    uid: x\n")); !errors.Is(err, core.ErrInvalidEntityKind) {
		t.Fatalf("expected unknown kind to be rejected, got %v", err)
	}
	if _, err := ParseSeed([]byte("entities:\n  - kind: program\n    name: nameless\n")); err == nil {
		t.Fatalf("expected missing uid to be rejected")
	}
}

func TestParseSubmission_RoundTripsThroughCodec(t *testing.T) {
	submission, err := ParseSubmission([]byte(`
kind: relationship
submission_id: 7
user_uid: usrAAAAAAA1
payload:
  relationshiptypeuid: rtyAAAAAAA1
  fromuid: teiAAAAAAA1
  touid: evtAAAAAAA1
`))
	if err != nil {
		t.Fatalf("parse submission: %v", err)
	}
	wire := codec.New()
	payload, err := wire.Encode(submission)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := wire.Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	body, ok := decoded.Payload.(core.RelationshipSubmission)
	if !ok || decoded.SubmissionID != 7 || body.ToUID != "evtAAAAAAA1" {
		t.Fatalf("unexpected decoded submission %#v", decoded)
	}

	deletion, err := ParseSubmission([]byte("kind: deletion\nsubmission_id: 2\nuser_uid: usrAAAAAAA1\nentity_uid: evtAAAAAAA1\n"))
	if err != nil {
		t.Fatalf("parse deletion: %v", err)
	}
	if deletion.Kind != core.SubmissionDeletion || deletion.EntityUID != "evtAAAAAAA1" {
		t.Fatalf("unexpected deletion %#v", deletion)
	}

	if _, err := ParseSubmission([]byte("kind: survey\n")); !errors.Is(err, core.ErrInvalidSubmission) {
		t.Fatalf("expected unknown kind to be rejected, got %v", err)
	}
}
