package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type inboundMessageRecord struct {
	bun.BaseModel `bun:"table:sms_inbound_messages,alias:sim"`

	ID             string     `bun:"id,pk"`
	MessageKey     string     `bun:"message_key,notnull"`
	GatewayID      string     `bun:"gateway_id,notnull"`
	Originator     string     `bun:"originator,notnull"`
	Payload        []byte     `bun:"payload,notnull"`
	Status         string     `bun:"status,notnull"`
	ClaimID        string     `bun:"claim_id,notnull"`
	LeaseExpiresAt *time.Time `bun:"lease_expires_at,nullzero"`
	Attempts       int        `bun:"attempts,notnull"`
	ResponseCode   *int       `bun:"response_code"`
	SubmissionID   int        `bun:"submission_id,notnull"`
	ResponseRefs   []string   `bun:"response_refs,type:jsonb,notnull"`
	ReceivedAt     time.Time  `bun:"received_at,notnull"`
	ParsedAt       *time.Time `bun:"parsed_at,nullzero"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// entityRecord holds every entity kind. Body is the msgpack encoding of the
// domain struct; ProgramUID and OwnerUID are lookup columns filled for
// enrollments.
type entityRecord struct {
	bun.BaseModel `bun:"table:sms_entities,alias:se"`

	ID         string    `bun:"id,pk"`
	Kind       string    `bun:"kind,notnull"`
	UID        string    `bun:"uid,notnull"`
	ProgramUID string    `bun:"program_uid,notnull"`
	OwnerUID   string    `bun:"owner_uid,notnull"`
	Body       []byte    `bun:"body,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type attributeValueRecord struct {
	bun.BaseModel `bun:"table:sms_attribute_values,alias:sav"`

	ID               string    `bun:"id,pk"`
	TrackedEntityUID string    `bun:"tracked_entity_uid,notnull"`
	AttributeUID     string    `bun:"attribute_uid,notnull"`
	Value            string    `bun:"value,notnull"`
	CreatedAt        time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
