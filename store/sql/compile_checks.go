package sqlstore

import "github.com/goliatone/go-smsintake/core"

var (
	_ core.MessageLedger   = (*LedgerStore)(nil)
	_ core.LedgerPruner    = (*LedgerStore)(nil)
	_ core.OutcomeRecorder = (*LedgerStore)(nil)
	_ core.EntityStore     = (*EntityStore)(nil)
	_ core.EntityStore     = (*CachedEntityStore)(nil)
	_ core.UnitOfWork      = (*unitOfWork)(nil)
)
