package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-smsintake/core"
)

type LedgerLister interface {
	ListUnparsed(ctx context.Context, limit int) ([]core.InboundMessage, error)
}

type ReceiveCommand struct {
	dispatcher core.Dispatcher
}

func NewReceiveCommand(dispatcher core.Dispatcher) *ReceiveCommand {
	return &ReceiveCommand{dispatcher: dispatcher}
}

// Execute stores the ResponseOutcome in the context result collector, if any.
func (c *ReceiveCommand) Execute(ctx context.Context, msg ReceiveMessage) error {
	if c == nil || c.dispatcher == nil {
		return commandDependencyError("command: dispatcher is required")
	}
	outcome, err := c.dispatcher.Receive(ctx, msg.Message)
	if err != nil {
		return err
	}
	storeResult(ctx, outcome)
	return nil
}

type ReplayResult struct {
	Attempted int
	Outcomes  map[string]core.ResponseOutcome
	Failed    map[string]string
}

type ReplayUnparsedCommand struct {
	dispatcher core.Dispatcher
	ledger     LedgerLister
}

func NewReplayUnparsedCommand(dispatcher core.Dispatcher, ledger LedgerLister) *ReplayUnparsedCommand {
	return &ReplayUnparsedCommand{dispatcher: dispatcher, ledger: ledger}
}

// Execute keeps going past individual failures; they are reported in the
// ReplayResult rather than as an error.
func (c *ReplayUnparsedCommand) Execute(ctx context.Context, msg ReplayUnparsedMessage) error {
	if c == nil || c.dispatcher == nil || c.ledger == nil {
		return commandDependencyError("command: dispatcher and ledger are required")
	}
	pending, err := c.ledger.ListUnparsed(ctx, msg.Limit)
	if err != nil {
		return err
	}
	result := ReplayResult{
		Outcomes: map[string]core.ResponseOutcome{},
		Failed:   map[string]string{},
	}
	for _, inbound := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.Attempted++
		key := inbound.IdentityKey()
		outcome, err := c.dispatcher.Receive(ctx, inbound)
		if err != nil {
			result.Failed[key] = err.Error()
			continue
		}
		result.Outcomes[key] = outcome
	}
	storeResult(ctx, result)
	return nil
}

type PruneLedgerCommand struct {
	pruner core.LedgerPruner
}

func NewPruneLedgerCommand(pruner core.LedgerPruner) *PruneLedgerCommand {
	return &PruneLedgerCommand{pruner: pruner}
}

func (c *PruneLedgerCommand) Execute(ctx context.Context, msg PruneLedgerMessage) error {
	if c == nil || c.pruner == nil {
		return commandDependencyError("command: ledger pruner is required")
	}
	removed, err := c.pruner.Prune(ctx, msg.ParsedBefore)
	if err != nil {
		return err
	}
	storeResult(ctx, removed)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
