package core

import "fmt"

// CloneEntity returns a pointer copy of entity with its slices detached, so
// stores never share backing arrays with callers. Unknown types return nil.
func CloneEntity(entity Entity) Entity {
	switch e := entity.(type) {
	case *User:
		return cloneUser(*e)
	case User:
		return cloneUser(e)
	case *OrganisationUnit:
		c := *e
		return &c
	case OrganisationUnit:
		return &e
	case *Program:
		return cloneProgram(*e)
	case Program:
		return cloneProgram(e)
	case *ProgramStage:
		c := *e
		return &c
	case ProgramStage:
		return &e
	case *TrackedEntityType:
		c := *e
		return &c
	case TrackedEntityType:
		return &e
	case *TrackedEntityAttribute:
		c := *e
		return &c
	case TrackedEntityAttribute:
		return &e
	case *DataElement:
		c := *e
		return &c
	case DataElement:
		return &e
	case *CategoryOptionCombo:
		c := *e
		return &c
	case CategoryOptionCombo:
		return &e
	case *RelationshipType:
		c := *e
		return &c
	case RelationshipType:
		return &e
	case *TrackedEntity:
		return cloneTrackedEntity(*e)
	case TrackedEntity:
		return cloneTrackedEntity(e)
	case *Enrollment:
		c := *e
		return &c
	case Enrollment:
		return &e
	case *Event:
		return cloneEvent(*e)
	case Event:
		return cloneEvent(e)
	case *Relationship:
		c := *e
		return &c
	case Relationship:
		return &e
	}
	return nil
}

func cloneUser(u User) *User {
	u.OrganisationUnits = append([]string(nil), u.OrganisationUnits...)
	return &u
}

func cloneProgram(p Program) *Program {
	p.OrganisationUnits = append([]string(nil), p.OrganisationUnits...)
	p.ProgramStages = append([]string(nil), p.ProgramStages...)
	return &p
}

func cloneTrackedEntity(t TrackedEntity) *TrackedEntity {
	t.Attributes = append([]AttributeValue(nil), t.Attributes...)
	return &t
}

func cloneEvent(e Event) *Event {
	e.DataValues = append([]DataValue(nil), e.DataValues...)
	return &e
}

// NewEntity returns a zero value of the concrete type for kind, ready to be
// decoded into.
func NewEntity(kind EntityKind) (Entity, error) {
	switch kind {
	case EntityUser:
		return &User{}, nil
	case EntityOrganisationUnit:
		return &OrganisationUnit{}, nil
	case EntityProgram:
		return &Program{}, nil
	case EntityProgramStage:
		return &ProgramStage{}, nil
	case EntityTrackedEntityType:
		return &TrackedEntityType{}, nil
	case EntityTrackedEntityAttribute:
		return &TrackedEntityAttribute{}, nil
	case EntityDataElement:
		return &DataElement{}, nil
	case EntityCategoryOptionCombo:
		return &CategoryOptionCombo{}, nil
	case EntityRelationshipType:
		return &RelationshipType{}, nil
	case EntityTrackedEntity:
		return &TrackedEntity{}, nil
	case EntityEnrollment:
		return &Enrollment{}, nil
	case EntityEvent:
		return &Event{}, nil
	case EntityRelationship:
		return &Relationship{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidEntityKind, kind)
	}
}
