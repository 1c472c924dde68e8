package smsintake

import (
	"context"
	"fmt"

	"github.com/goliatone/go-smsintake/codec"
	"github.com/goliatone/go-smsintake/core"
	"github.com/goliatone/go-smsintake/inbound"
	"github.com/goliatone/go-smsintake/outbound"
	"github.com/goliatone/go-smsintake/processors"
)

type Config = core.Config

type Option = core.Option

type Runtime = core.Runtime

type InboundMessage = core.InboundMessage

type ResponseOutcome = core.ResponseOutcome

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithErrorMapper     = core.WithErrorMapper
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithRegistry        = core.WithRegistry
	WithLedger          = core.WithLedger
	WithEntityStore     = core.WithEntityStore
	WithCodec           = core.WithCodec
	WithAcknowledger    = core.WithAcknowledger
	WithProcessors      = core.WithProcessors
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// Service is the assembled intake pipeline: dispatcher, ledger and
// acknowledgement path over one resolved runtime.
type Service struct {
	runtime    core.Runtime
	dispatcher *inbound.Dispatcher
	ledger     core.MessageLedger
}

// NewService resolves the runtime and fills the gaps: the built-in processors
// when none are registered, the msgpack codec, an in-memory ledger and a
// logging acknowledger for the configured mode. An entity store is required.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	runtime, err := core.NewRuntime(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if len(runtime.Registry.List()) == 0 {
		for _, processor := range processors.All() {
			if err := runtime.Registry.Register(processor); err != nil {
				return nil, err
			}
		}
	}
	if runtime.Codec == nil {
		runtime.Codec = codec.New()
	}
	if runtime.Ledger == nil {
		runtime.Ledger = inbound.NewMemoryLedger()
	}
	if runtime.Acknowledger == nil && runtime.Config.Acknowledgement.Enabled {
		acknowledger, err := outbound.NewAcknowledger(
			runtime.Config,
			outbound.NewLogSender(runtime.Logger),
			nil,
			runtime.Logger,
			runtime.MetricsRecorder,
		)
		if err != nil {
			return nil, err
		}
		runtime.Acknowledger = acknowledger
	}

	dispatcher, err := inbound.NewDispatcher(runtime)
	if err != nil {
		return nil, err
	}
	return &Service{runtime: runtime, dispatcher: dispatcher, ledger: runtime.Ledger}, nil
}

func (s *Service) Receive(ctx context.Context, msg InboundMessage) (ResponseOutcome, error) {
	if s == nil || s.dispatcher == nil {
		return ResponseOutcome{}, fmt.Errorf("smsintake: service is not configured")
	}
	return s.dispatcher.Receive(ctx, msg)
}

func (s *Service) Runtime() Runtime {
	if s == nil {
		return Runtime{}
	}
	return s.runtime
}

func (s *Service) Dispatcher() *inbound.Dispatcher {
	if s == nil {
		return nil
	}
	return s.dispatcher
}

func (s *Service) Ledger() core.MessageLedger {
	if s == nil {
		return nil
	}
	return s.ledger
}

// Drain waits for in-flight asynchronous acknowledgements.
func (s *Service) Drain() {
	if s == nil {
		return
	}
	if waiter, ok := s.runtime.Acknowledger.(interface{ Wait() }); ok {
		waiter.Wait()
	}
}
