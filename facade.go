package smsintake

import (
	"fmt"

	"github.com/goliatone/go-smsintake/adapters/gocommand"
	smscommand "github.com/goliatone/go-smsintake/command"
	"github.com/goliatone/go-smsintake/core"
	smsquery "github.com/goliatone/go-smsintake/query"
)

// FacadeService is what the command and query handlers need from a Service.
type FacadeService interface {
	core.Dispatcher
	Ledger() core.MessageLedger
}

type Commands struct {
	Receive        *smscommand.ReceiveCommand
	ReplayUnparsed *smscommand.ReplayUnparsedCommand
	PruneLedger    *smscommand.PruneLedgerCommand
}

type Queries struct {
	GetOutcome    *smsquery.GetOutcomeQuery
	MessageStatus *smsquery.MessageStatusQuery
	ListUnparsed  *smsquery.ListUnparsedQuery
}

type Facade struct {
	service  FacadeService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	pruner core.LedgerPruner
}

// WithLedgerPruner overrides the pruner otherwise taken from the ledger.
func WithLedgerPruner(pruner core.LedgerPruner) FacadeOption {
	return func(options *facadeOptions) {
		options.pruner = pruner
	}
}

func NewFacade(service FacadeService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("smsintake: facade service is required")
	}
	ledger := service.Ledger()
	if ledger == nil {
		return nil, fmt.Errorf("smsintake: facade service has no ledger")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	pruner := cfg.pruner
	if pruner == nil {
		pruner, _ = ledger.(core.LedgerPruner)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		Receive:        smscommand.NewReceiveCommand(service),
		ReplayUnparsed: smscommand.NewReplayUnparsedCommand(service, ledger),
		PruneLedger:    smscommand.NewPruneLedgerCommand(pruner),
	}
	facade.queries = Queries{
		GetOutcome:    smsquery.NewGetOutcomeQuery(ledger),
		MessageStatus: smsquery.NewMessageStatusQuery(ledger),
		ListUnparsed:  smsquery.NewListUnparsedQuery(ledger),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() FacadeService {
	if f == nil {
		return nil
	}
	return f.service
}

// Register subscribes every handler on bus. Callers dispatch through the
// gocommand helpers and tear down with bus.Close.
func (f *Facade) Register(bus *gocommand.Bus) error {
	if f == nil {
		return fmt.Errorf("smsintake: facade is nil")
	}
	if bus == nil {
		return fmt.Errorf("smsintake: command bus is required")
	}
	steps := []func() error{
		func() error { return gocommand.RegisterCommand[smscommand.ReceiveMessage](bus, f.commands.Receive) },
		func() error {
			return gocommand.RegisterCommand[smscommand.ReplayUnparsedMessage](bus, f.commands.ReplayUnparsed)
		},
		func() error { return gocommand.RegisterCommand[smscommand.PruneLedgerMessage](bus, f.commands.PruneLedger) },
		func() error {
			return gocommand.RegisterQuery[smsquery.GetOutcomeMessage, core.ResponseOutcome](bus, f.queries.GetOutcome)
		},
		func() error {
			return gocommand.RegisterQuery[smsquery.MessageStatusMessage, smsquery.MessageStatus](bus, f.queries.MessageStatus)
		},
		func() error {
			return gocommand.RegisterQuery[smsquery.ListUnparsedMessage, []core.InboundMessage](bus, f.queries.ListUnparsed)
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			bus.Close()
			return err
		}
	}
	return bus.Initialize()
}
