package core

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrEntityNotFound       = errors.New("core: entity not found")
	ErrMessageNotFound      = errors.New("core: inbound message not found")
	ErrInvalidEntityKind    = errors.New("core: invalid entity kind")
	ErrInvalidSubmission    = errors.New("core: invalid submission")
	ErrClaimNotHeld         = errors.New("core: ledger claim not held")
	ErrUnitOfWorkClosed     = errors.New("core: unit of work already closed")
	ErrEntityAlreadyPresent = errors.New("core: entity already exists")
	ErrLeaseExpired         = errors.New("core: ledger claim lease expired")
	ErrNotTransactional     = errors.New("core: unit of work cannot record ledger outcomes")
	ErrWriteConflict        = errors.New("core: concurrent write conflict")
)

type EntityKind string

const (
	EntityUser                   EntityKind = "user"
	EntityOrganisationUnit       EntityKind = "organisation_unit"
	EntityProgram                EntityKind = "program"
	EntityProgramStage           EntityKind = "program_stage"
	EntityTrackedEntityType      EntityKind = "tracked_entity_type"
	EntityTrackedEntityAttribute EntityKind = "tracked_entity_attribute"
	EntityDataElement            EntityKind = "data_element"
	EntityCategoryOptionCombo    EntityKind = "category_option_combo"
	EntityRelationshipType       EntityKind = "relationship_type"
	EntityTrackedEntity          EntityKind = "tracked_entity"
	EntityEnrollment             EntityKind = "enrollment"
	EntityEvent                  EntityKind = "event"
	EntityRelationship           EntityKind = "relationship"
)

var entityKinds = []EntityKind{
	EntityUser,
	EntityOrganisationUnit,
	EntityProgram,
	EntityProgramStage,
	EntityTrackedEntityType,
	EntityTrackedEntityAttribute,
	EntityDataElement,
	EntityCategoryOptionCombo,
	EntityRelationshipType,
	EntityTrackedEntity,
	EntityEnrollment,
	EntityEvent,
	EntityRelationship,
}

// EntityKinds lists every kind an EntityStore must be able to hold.
func EntityKinds() []EntityKind {
	return append([]EntityKind(nil), entityKinds...)
}

func (k EntityKind) Valid() bool {
	for _, known := range entityKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Metadata kinds are never mutated by submissions.
func (k EntityKind) Metadata() bool {
	switch k {
	case EntityTrackedEntity, EntityEnrollment, EntityEvent, EntityRelationship:
		return false
	default:
		return k.Valid()
	}
}

type Entity interface {
	EntityKind() EntityKind
	EntityUID() string
}

type EntityReference struct {
	Kind EntityKind
	UID  string
}

func (r EntityReference) String() string {
	return string(r.Kind) + ":" + r.UID
}

func Ref(kind EntityKind, uid string) EntityReference {
	return EntityReference{Kind: kind, UID: strings.TrimSpace(uid)}
}

type User struct {
	UID               string
	Username          string
	PhoneNumber       string
	OrganisationUnits []string
}

func (User) EntityKind() EntityKind { return EntityUser }
func (u User) EntityUID() string    { return u.UID }

func (u User) AssignedTo(orgUnitUID string) bool {
	for _, uid := range u.OrganisationUnits {
		if uid == orgUnitUID {
			return true
		}
	}
	return false
}

type OrganisationUnit struct {
	UID  string
	Name string
}

func (OrganisationUnit) EntityKind() EntityKind { return EntityOrganisationUnit }
func (o OrganisationUnit) EntityUID() string    { return o.UID }

type Program struct {
	UID                  string
	Name                 string
	TrackedEntityTypeUID string
	OrganisationUnits    []string
	ProgramStages        []string
	WithoutRegistration  bool
}

func (Program) EntityKind() EntityKind { return EntityProgram }
func (p Program) EntityUID() string    { return p.UID }

func (p Program) HasOrganisationUnit(orgUnitUID string) bool {
	for _, uid := range p.OrganisationUnits {
		if uid == orgUnitUID {
			return true
		}
	}
	return false
}

type ProgramStage struct {
	UID        string
	Name       string
	ProgramUID string
}

func (ProgramStage) EntityKind() EntityKind { return EntityProgramStage }
func (s ProgramStage) EntityUID() string    { return s.UID }

type TrackedEntityType struct {
	UID  string
	Name string
}

func (TrackedEntityType) EntityKind() EntityKind { return EntityTrackedEntityType }
func (t TrackedEntityType) EntityUID() string    { return t.UID }

type TrackedEntityAttribute struct {
	UID       string
	Name      string
	ValueType string
	Unique    bool
}

func (TrackedEntityAttribute) EntityKind() EntityKind { return EntityTrackedEntityAttribute }
func (a TrackedEntityAttribute) EntityUID() string    { return a.UID }

type DataElement struct {
	UID       string
	Name      string
	ValueType string
}

func (DataElement) EntityKind() EntityKind { return EntityDataElement }
func (d DataElement) EntityUID() string    { return d.UID }

type CategoryOptionCombo struct {
	UID  string
	Name string
}

func (CategoryOptionCombo) EntityKind() EntityKind { return EntityCategoryOptionCombo }
func (c CategoryOptionCombo) EntityUID() string    { return c.UID }

// RelationshipEntity is the endpoint kind a relationship constraint admits.
type RelationshipEntity string

const (
	RelationshipEntityTrackedEntity RelationshipEntity = "tracked_entity"
	RelationshipEntityEnrollment    RelationshipEntity = "enrollment"
	RelationshipEntityEvent         RelationshipEntity = "event"
)

func (e RelationshipEntity) EntityKind() (EntityKind, error) {
	switch e {
	case RelationshipEntityTrackedEntity:
		return EntityTrackedEntity, nil
	case RelationshipEntityEnrollment:
		return EntityEnrollment, nil
	case RelationshipEntityEvent:
		return EntityEvent, nil
	default:
		return "", fmt.Errorf("%w: relationship entity %q", ErrInvalidEntityKind, e)
	}
}

type RelationshipConstraint struct {
	Entity RelationshipEntity
}

type RelationshipType struct {
	UID            string
	Name           string
	FromConstraint RelationshipConstraint
	ToConstraint   RelationshipConstraint
	Bidirectional  bool
}

func (RelationshipType) EntityKind() EntityKind { return EntityRelationshipType }
func (t RelationshipType) EntityUID() string    { return t.UID }

type AttributeValue struct {
	AttributeUID string
	Value        string
}

type TrackedEntity struct {
	UID                  string
	TrackedEntityTypeUID string
	OrganisationUnitUID  string
	Attributes           []AttributeValue
	Created              time.Time
	LastUpdated          time.Time
}

func (TrackedEntity) EntityKind() EntityKind { return EntityTrackedEntity }
func (t TrackedEntity) EntityUID() string    { return t.UID }

func (t *TrackedEntity) SetAttribute(attributeUID string, value string) {
	for i := range t.Attributes {
		if t.Attributes[i].AttributeUID == attributeUID {
			t.Attributes[i].Value = value
			return
		}
	}
	t.Attributes = append(t.Attributes, AttributeValue{AttributeUID: attributeUID, Value: value})
}

type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
	EnrollmentStatusCancelled EnrollmentStatus = "CANCELLED"
)

type Enrollment struct {
	UID                 string
	ProgramUID          string
	TrackedEntityUID    string
	OrganisationUnitUID string
	Status              EnrollmentStatus
	EnrollmentDate      time.Time
	IncidentDate        time.Time
	Created             time.Time
	LastUpdated         time.Time
}

func (Enrollment) EntityKind() EntityKind { return EntityEnrollment }
func (e Enrollment) EntityUID() string    { return e.UID }

type EventStatus string

const (
	EventStatusActive    EventStatus = "ACTIVE"
	EventStatusCompleted EventStatus = "COMPLETED"
	EventStatusVisited   EventStatus = "VISITED"
	EventStatusSchedule  EventStatus = "SCHEDULE"
	EventStatusOverdue   EventStatus = "OVERDUE"
	EventStatusSkipped   EventStatus = "SKIPPED"
)

type DataValue struct {
	DataElementUID         string
	CategoryOptionComboUID string
	Value                  string
}

type Event struct {
	UID                     string
	ProgramStageUID         string
	EnrollmentUID           string
	OrganisationUnitUID     string
	AttributeOptionComboUID string
	Status                  EventStatus
	OccurredAt              time.Time
	StoredBy                string
	DataValues              []DataValue
	Created                 time.Time
	LastUpdated             time.Time
}

func (Event) EntityKind() EntityKind { return EntityEvent }
func (e Event) EntityUID() string    { return e.UID }

type RelationshipItem struct {
	Entity RelationshipEntity
	UID    string
}

type Relationship struct {
	UID                 string
	RelationshipTypeUID string
	From                RelationshipItem
	To                  RelationshipItem
	Created             time.Time
	LastUpdated         time.Time
}

func (Relationship) EntityKind() EntityKind { return EntityRelationship }
func (r Relationship) EntityUID() string    { return r.UID }

// InboundMessage is the raw transport payload as received from a gateway.
type InboundMessage struct {
	ID                 string
	GatewayID          string
	Originator         string
	Payload            []byte
	ReceivedAt         time.Time
	Parsed             bool
	ParsedResponseCode ResponseCode
	ParsedAt           time.Time
}

// IdentityKey is the message identity used by the idempotency ledger: the
// gateway message id when present, otherwise the originator plus a payload hash.
func (m InboundMessage) IdentityKey() string {
	if id := strings.TrimSpace(m.ID); id != "" {
		return id
	}
	sum := sha256.Sum256(m.Payload)
	return strings.TrimSpace(m.Originator) + ":" + hex.EncodeToString(sum[:])
}

func (m InboundMessage) Validate() error {
	if strings.TrimSpace(m.Originator) == "" {
		return fmt.Errorf("core: inbound message originator is required")
	}
	if len(m.Payload) == 0 {
		return fmt.Errorf("core: inbound message payload is required")
	}
	return nil
}

type SubmissionKind string

const (
	SubmissionRelationship SubmissionKind = "relationship"
	SubmissionTrackerEvent SubmissionKind = "tracker_event"
	SubmissionEnrollment   SubmissionKind = "enrollment"
	SubmissionSimpleEvent  SubmissionKind = "simple_event"
	SubmissionDeletion     SubmissionKind = "deletion"
)

func NormalizeSubmissionKind(kind string) SubmissionKind {
	return SubmissionKind(strings.TrimSpace(strings.ToLower(kind)))
}

// SubmissionPayload is the kind-specific body of a Submission.
type SubmissionPayload interface {
	SubmissionKind() SubmissionKind
}

// Submission is the decoded form of one compressed message. EntityUID is the
// optional client-supplied UID of the aggregate the submission creates or targets.
type Submission struct {
	Kind         SubmissionKind
	SubmissionID int
	UserUID      string
	EntityUID    string
	Payload      SubmissionPayload
}

func (s Submission) Validate() error {
	if s.Kind == "" {
		return fmt.Errorf("%w: kind is required", ErrInvalidSubmission)
	}
	if s.Payload == nil {
		return fmt.Errorf("%w: payload is required", ErrInvalidSubmission)
	}
	if s.Payload.SubmissionKind() != s.Kind {
		return fmt.Errorf(
			"%w: payload kind %q does not match submission kind %q",
			ErrInvalidSubmission,
			s.Payload.SubmissionKind(),
			s.Kind,
		)
	}
	return nil
}

// UnknownSubmission is the payload of a well-formed submission whose kind has
// no body layout in this build. Routing answers it with
// ResponseUnsupportedKind.
type UnknownSubmission struct {
	Kind SubmissionKind
	Body []byte
}

func (u UnknownSubmission) SubmissionKind() SubmissionKind { return u.Kind }

type RelationshipSubmission struct {
	RelationshipTypeUID string
	FromUID             string
	ToUID               string
}

func (RelationshipSubmission) SubmissionKind() SubmissionKind { return SubmissionRelationship }

type TrackerEventSubmission struct {
	OrganisationUnitUID     string
	ProgramStageUID         string
	AttributeOptionComboUID string
	EnrollmentUID           string
	Status                  EventStatus
	OccurredAt              time.Time
	Values                  []DataValue
}

func (TrackerEventSubmission) SubmissionKind() SubmissionKind { return SubmissionTrackerEvent }

type EnrollmentSubmission struct {
	OrganisationUnitUID  string
	ProgramUID           string
	TrackedEntityTypeUID string
	TrackedEntityUID     string
	EnrollmentDate       time.Time
	IncidentDate         time.Time
	Attributes           []AttributeValue
}

func (EnrollmentSubmission) SubmissionKind() SubmissionKind { return SubmissionEnrollment }

type SimpleEventSubmission struct {
	OrganisationUnitUID     string
	ProgramUID              string
	AttributeOptionComboUID string
	Status                  EventStatus
	OccurredAt              time.Time
	Values                  []DataValue
}

func (SimpleEventSubmission) SubmissionKind() SubmissionKind { return SubmissionSimpleEvent }

// DeletionSubmission removes the event named by Submission.EntityUID.
type DeletionSubmission struct{}

func (DeletionSubmission) SubmissionKind() SubmissionKind { return SubmissionDeletion }
