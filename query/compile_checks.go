package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-smsintake/core"
)

var (
	_ gocmd.Querier[GetOutcomeMessage, core.ResponseOutcome]     = (*GetOutcomeQuery)(nil)
	_ gocmd.Querier[MessageStatusMessage, MessageStatus]         = (*MessageStatusQuery)(nil)
	_ gocmd.Querier[ListUnparsedMessage, []core.InboundMessage] = (*ListUnparsedQuery)(nil)
)
