package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ReceiveMessage]        = (*ReceiveCommand)(nil)
	_ gocmd.Commander[ReplayUnparsedMessage] = (*ReplayUnparsedCommand)(nil)
	_ gocmd.Commander[PruneLedgerMessage]    = (*PruneLedgerCommand)(nil)
)
