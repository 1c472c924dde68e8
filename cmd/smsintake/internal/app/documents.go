package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/goliatone/go-smsintake/core"
	"gopkg.in/yaml.v3"
)

// Seed and submission files use the lowercased Go field names for entity and
// payload bodies, e.g. organisationunits or relationshiptypeuid.

type seedDocument struct {
	Entities []yaml.Node `yaml:"entities"`
}

type kindHeader struct {
	Kind string `yaml:"kind"`
}

type submissionDocument struct {
	Kind         string    `yaml:"kind"`
	SubmissionID int       `yaml:"submission_id"`
	UserUID      string    `yaml:"user_uid"`
	EntityUID    string    `yaml:"entity_uid"`
	Payload      yaml.Node `yaml:"payload"`
}

// LoadSeed reads a YAML list of entities, each tagged with its kind.
func LoadSeed(path string) ([]core.Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("app: read seed %s: %w", path, err)
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) ([]core.Entity, error) {
	var doc seedDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("app: parse seed: %w", err)
	}
	entities := make([]core.Entity, 0, len(doc.Entities))
	for index := range doc.Entities {
		node := &doc.Entities[index]
		var header kindHeader
		if err := node.Decode(&header); err != nil {
			return nil, fmt.Errorf("app: seed entry %d: %w", index, err)
		}
		entity, err := core.NewEntity(core.EntityKind(strings.TrimSpace(strings.ToLower(header.Kind))))
		if err != nil {
			return nil, fmt.Errorf("app: seed entry %d: %w", index, err)
		}
		if err := node.Decode(entity); err != nil {
			return nil, fmt.Errorf("app: seed entry %d (%s): %w", index, header.Kind, err)
		}
		if strings.TrimSpace(entity.EntityUID()) == "" {
			return nil, fmt.Errorf("app: seed entry %d (%s): uid is required", index, header.Kind)
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

// LoadSubmission reads one submission document for the encode command.
func LoadSubmission(path string) (core.Submission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.Submission{}, fmt.Errorf("app: read submission %s: %w", path, err)
	}
	return ParseSubmission(data)
}

func ParseSubmission(data []byte) (core.Submission, error) {
	var doc submissionDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return core.Submission{}, fmt.Errorf("app: parse submission: %w", err)
	}
	kind := core.NormalizeSubmissionKind(doc.Kind)
	payload, err := newPayload(kind)
	if err != nil {
		return core.Submission{}, err
	}
	if doc.Payload.Kind != 0 {
		if err := doc.Payload.Decode(payload); err != nil {
			return core.Submission{}, fmt.Errorf("app: submission payload: %w", err)
		}
	}
	submission := core.Submission{
		Kind:         kind,
		SubmissionID: doc.SubmissionID,
		UserUID:      strings.TrimSpace(doc.UserUID),
		EntityUID:    strings.TrimSpace(doc.EntityUID),
		Payload:      derefPayload(payload),
	}
	if err := submission.Validate(); err != nil {
		return core.Submission{}, err
	}
	return submission, nil
}

func newPayload(kind core.SubmissionKind) (any, error) {
	switch kind {
	case core.SubmissionRelationship:
		return &core.RelationshipSubmission{}, nil
	case core.SubmissionTrackerEvent:
		return &core.TrackerEventSubmission{}, nil
	case core.SubmissionEnrollment:
		return &core.EnrollmentSubmission{}, nil
	case core.SubmissionSimpleEvent:
		return &core.SimpleEventSubmission{}, nil
	case core.SubmissionDeletion:
		return &core.DeletionSubmission{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", core.ErrInvalidSubmission, kind)
	}
}

func derefPayload(payload any) core.SubmissionPayload {
	switch p := payload.(type) {
	case *core.RelationshipSubmission:
		return *p
	case *core.TrackerEventSubmission:
		return *p
	case *core.EnrollmentSubmission:
		return *p
	case *core.SimpleEventSubmission:
		return *p
	case *core.DeletionSubmission:
		return *p
	default:
		return nil
	}
}
