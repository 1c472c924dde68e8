package sqlstore

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-smsintake/core"
	"github.com/vmihailenco/msgpack/v5"
)

// entitySnapshot is the stored form of one entity, shared by the table rows
// and the metadata cache.
type entitySnapshot struct {
	Kind string `json:"kind" msgpack:"kind"`
	UID  string `json:"uid" msgpack:"uid"`
	Body []byte `json:"body" msgpack:"body"`
}

func encodeEntity(entity core.Entity) (entitySnapshot, error) {
	cloned := core.CloneEntity(entity)
	if cloned == nil {
		return entitySnapshot{}, fmt.Errorf("sqlstore: unsupported entity %T", entity)
	}
	uid := strings.TrimSpace(cloned.EntityUID())
	if uid == "" {
		return entitySnapshot{}, fmt.Errorf("sqlstore: %s uid is required", cloned.EntityKind())
	}
	body, err := msgpack.Marshal(cloned)
	if err != nil {
		return entitySnapshot{}, fmt.Errorf("sqlstore: encode %s %q: %w", cloned.EntityKind(), uid, err)
	}
	return entitySnapshot{Kind: string(cloned.EntityKind()), UID: uid, Body: body}, nil
}

func (s entitySnapshot) decode() (core.Entity, error) {
	entity, err := core.NewEntity(core.EntityKind(s.Kind))
	if err != nil {
		return nil, err
	}
	if err := msgpack.Unmarshal(s.Body, entity); err != nil {
		return nil, fmt.Errorf("sqlstore: decode %s %q: %w", s.Kind, s.UID, err)
	}
	return entity, nil
}

// lookupColumns extracts the indexed columns kept alongside the body.
func lookupColumns(entity core.Entity) (programUID string, ownerUID string) {
	switch e := entity.(type) {
	case *core.Enrollment:
		return e.ProgramUID, e.TrackedEntityUID
	case *core.Event:
		return "", e.EnrollmentUID
	case *core.TrackedEntity:
		return "", e.OrganisationUnitUID
	case *core.ProgramStage:
		return e.ProgramUID, ""
	}
	return "", ""
}

func attributeValues(entity core.Entity) []core.AttributeValue {
	tracked, ok := entity.(*core.TrackedEntity)
	if !ok {
		return nil
	}
	return tracked.Attributes
}
