package codec

import (
	"time"

	"github.com/goliatone/go-smsintake/core"
	"github.com/samber/lo"
	"github.com/vmihailenco/msgpack/v5"
)

// WireVersion is the only envelope version this codec reads and writes.
const WireVersion = 1

type envelope struct {
	Version      int                `msgpack:"v" validate:"eq=1"`
	Kind         string             `msgpack:"t" validate:"required,max=64"`
	SubmissionID int                `msgpack:"id" validate:"gte=0"`
	UserUID      string             `msgpack:"u" validate:"omitempty,alphanum,max=11"`
	EntityUID    string             `msgpack:"e,omitempty" validate:"omitempty,alphanum,max=11"`
	Body         msgpack.RawMessage `msgpack:"b,omitempty"`
}

type relationshipBody struct {
	RelationshipTypeUID string `msgpack:"rt" validate:"omitempty,alphanum,max=11"`
	FromUID             string `msgpack:"f" validate:"omitempty,alphanum,max=11"`
	ToUID               string `msgpack:"to" validate:"omitempty,alphanum,max=11"`
}

type dataValueWire struct {
	DataElementUID         string `msgpack:"de" validate:"omitempty,alphanum,max=11"`
	CategoryOptionComboUID string `msgpack:"co,omitempty" validate:"omitempty,alphanum,max=11"`
	Value                  string `msgpack:"val" validate:"max=50000"`
}

type attributeValueWire struct {
	AttributeUID string `msgpack:"a" validate:"omitempty,alphanum,max=11"`
	Value        string `msgpack:"val" validate:"max=50000"`
}

type trackerEventBody struct {
	OrganisationUnitUID     string          `msgpack:"ou" validate:"omitempty,alphanum,max=11"`
	ProgramStageUID         string          `msgpack:"ps" validate:"omitempty,alphanum,max=11"`
	AttributeOptionComboUID string          `msgpack:"ao,omitempty" validate:"omitempty,alphanum,max=11"`
	EnrollmentUID           string          `msgpack:"en" validate:"omitempty,alphanum,max=11"`
	Status                  string          `msgpack:"s,omitempty" validate:"omitempty,oneof=ACTIVE COMPLETED VISITED SCHEDULE OVERDUE SKIPPED"`
	OccurredAt              int64           `msgpack:"ts,omitempty" validate:"gte=0"`
	Values                  []dataValueWire `msgpack:"dv,omitempty" validate:"dive"`
}

type simpleEventBody struct {
	OrganisationUnitUID     string          `msgpack:"ou" validate:"omitempty,alphanum,max=11"`
	ProgramUID              string          `msgpack:"p" validate:"omitempty,alphanum,max=11"`
	AttributeOptionComboUID string          `msgpack:"ao,omitempty" validate:"omitempty,alphanum,max=11"`
	Status                  string          `msgpack:"s,omitempty" validate:"omitempty,oneof=ACTIVE COMPLETED VISITED SCHEDULE OVERDUE SKIPPED"`
	OccurredAt              int64           `msgpack:"ts,omitempty" validate:"gte=0"`
	Values                  []dataValueWire `msgpack:"dv,omitempty" validate:"dive"`
}

type enrollmentBody struct {
	OrganisationUnitUID  string               `msgpack:"ou" validate:"omitempty,alphanum,max=11"`
	ProgramUID           string               `msgpack:"p" validate:"omitempty,alphanum,max=11"`
	TrackedEntityTypeUID string               `msgpack:"tt" validate:"omitempty,alphanum,max=11"`
	TrackedEntityUID     string               `msgpack:"te,omitempty" validate:"omitempty,alphanum,max=11"`
	EnrollmentDate       int64                `msgpack:"ed,omitempty" validate:"gte=0"`
	IncidentDate         int64                `msgpack:"id,omitempty" validate:"gte=0"`
	Attributes           []attributeValueWire `msgpack:"av,omitempty" validate:"dive"`
}

func unixTime(seconds int64) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0).UTC()
}

func unixSeconds(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.Unix()
}

func dataValuesFromWire(values []dataValueWire) []core.DataValue {
	if len(values) == 0 {
		return nil
	}
	return lo.Map(values, func(value dataValueWire, _ int) core.DataValue {
		return core.DataValue{
			DataElementUID:         value.DataElementUID,
			CategoryOptionComboUID: value.CategoryOptionComboUID,
			Value:                  value.Value,
		}
	})
}

func dataValuesToWire(values []core.DataValue) []dataValueWire {
	if len(values) == 0 {
		return nil
	}
	return lo.Map(values, func(value core.DataValue, _ int) dataValueWire {
		return dataValueWire{
			DataElementUID:         value.DataElementUID,
			CategoryOptionComboUID: value.CategoryOptionComboUID,
			Value:                  value.Value,
		}
	})
}

func attributesFromWire(values []attributeValueWire) []core.AttributeValue {
	if len(values) == 0 {
		return nil
	}
	return lo.Map(values, func(value attributeValueWire, _ int) core.AttributeValue {
		return core.AttributeValue{AttributeUID: value.AttributeUID, Value: value.Value}
	})
}

func attributesToWire(values []core.AttributeValue) []attributeValueWire {
	if len(values) == 0 {
		return nil
	}
	return lo.Map(values, func(value core.AttributeValue, _ int) attributeValueWire {
		return attributeValueWire{AttributeUID: value.AttributeUID, Value: value.Value}
	})
}
