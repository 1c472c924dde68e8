package query

import (
	"strings"

	"github.com/goliatone/go-smsintake/core"
)

const (
	TypeGetOutcome    = "sms.query.outcome.get"
	TypeMessageStatus = "sms.query.message.status"
	TypeListUnparsed  = "sms.query.ledger.unparsed"
)

type GetOutcomeMessage struct {
	MessageKey string
}

func (GetOutcomeMessage) Type() string { return TypeGetOutcome }

func (m GetOutcomeMessage) Validate() error {
	if strings.TrimSpace(m.MessageKey) == "" {
		return queryValidationError("message_key", "message key is required")
	}
	return nil
}

type MessageStatusMessage struct {
	MessageKey string
}

func (MessageStatusMessage) Type() string { return TypeMessageStatus }

func (m MessageStatusMessage) Validate() error {
	if strings.TrimSpace(m.MessageKey) == "" {
		return queryValidationError("message_key", "message key is required")
	}
	return nil
}

type MessageStatus struct {
	MessageKey string
	Parsed     bool
	Outcome    *core.ResponseOutcome
}

type ListUnparsedMessage struct {
	Limit int
}

func (ListUnparsedMessage) Type() string { return TypeListUnparsed }

func (m ListUnparsedMessage) Validate() error {
	if m.Limit < 0 {
		return queryValidationError("limit", "limit must not be negative")
	}
	return nil
}
