package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-smsintake/core"
)

const (
	TypeReceive        = "sms.command.receive"
	TypeReplayUnparsed = "sms.command.ledger.replay"
	TypePruneLedger    = "sms.command.ledger.prune"
)

type ReceiveMessage struct {
	Message core.InboundMessage
}

func (ReceiveMessage) Type() string { return TypeReceive }

func (m ReceiveMessage) Validate() error {
	if strings.TrimSpace(m.Message.Originator) == "" {
		return commandValidationError("message.originator", "originator is required")
	}
	if len(m.Message.Payload) == 0 {
		return commandValidationError("message.payload", "payload is required")
	}
	return nil
}

// ReplayUnparsedMessage re-dispatches messages the ledger still holds as
// unparsed, oldest first.
type ReplayUnparsedMessage struct {
	Limit int
}

func (ReplayUnparsedMessage) Type() string { return TypeReplayUnparsed }

func (m ReplayUnparsedMessage) Validate() error {
	if m.Limit < 0 {
		return commandValidationError("limit", "limit must not be negative")
	}
	return nil
}

type PruneLedgerMessage struct {
	ParsedBefore time.Time
}

func (PruneLedgerMessage) Type() string { return TypePruneLedger }

func (m PruneLedgerMessage) Validate() error {
	if m.ParsedBefore.IsZero() {
		return fmt.Errorf("command: parsed before cutoff is required")
	}
	return nil
}
