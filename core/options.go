package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type runtimeBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	registry        Registry
	ledger          MessageLedger
	entityStore     EntityStore
	codec           Codec
	acknowledger    Acknowledger
	processors      []Processor
}

type Option func(*runtimeBuilder)

func WithLogger(logger Logger) Option {
	return func(b *runtimeBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *runtimeBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *runtimeBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *runtimeBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *runtimeBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *runtimeBuilder) {
		b.optionsResolver = resolver
	}
}

func WithRegistry(registry Registry) Option {
	return func(b *runtimeBuilder) {
		b.registry = registry
	}
}

func WithLedger(ledger MessageLedger) Option {
	return func(b *runtimeBuilder) {
		b.ledger = ledger
	}
}

func WithEntityStore(store EntityStore) Option {
	return func(b *runtimeBuilder) {
		b.entityStore = store
	}
}

func WithCodec(codec Codec) Option {
	return func(b *runtimeBuilder) {
		b.codec = codec
	}
}

func WithAcknowledger(acknowledger Acknowledger) Option {
	return func(b *runtimeBuilder) {
		b.acknowledger = acknowledger
	}
}

// WithProcessors registers processors on the runtime registry during NewRuntime.
func WithProcessors(processors ...Processor) Option {
	return func(b *runtimeBuilder) {
		b.processors = append(b.processors, processors...)
	}
}

// Runtime is the resolved set of collaborators shared by the dispatcher,
// command handlers and the CLI.
type Runtime struct {
	Config          Config
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	ErrorMapper     ErrorMapper
	ConfigProvider  ConfigProvider
	OptionsResolver OptionsResolver
	Registry        Registry
	Ledger          MessageLedger
	EntityStore     EntityStore
	Codec           Codec
	Acknowledger    Acknowledger
}

func NewRuntime(cfg Config, options ...Option) (Runtime, error) {
	builder := defaultRuntimeBuilder(cfg)
	for _, option := range options {
		if option != nil {
			option(&builder)
		}
	}

	defaults := DefaultConfig()
	loaded := defaults
	if builder.configProvider != nil {
		next, err := builder.configProvider.Load(context.Background(), defaults)
		if err != nil {
			return Runtime{}, WrapError(err, goerrors.CategoryBadInput, ErrorBadInput, "core: load config")
		}
		loaded = next
	}
	resolved := loaded
	if builder.optionsResolver != nil {
		next, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
		if err != nil {
			return Runtime{}, WrapError(err, goerrors.CategoryBadInput, ErrorBadInput, "core: resolve config")
		}
		resolved = next
	}

	provider, logger := glog.Resolve(resolved.ServiceName, builder.loggerProvider, builder.logger)
	if builder.registry == nil {
		builder.registry = NewProcessorRegistry()
	}
	for _, processor := range builder.processors {
		if err := builder.registry.Register(processor); err != nil {
			return Runtime{}, err
		}
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = MapError
	}

	return Runtime{
		Config:          resolved,
		Logger:          glog.Ensure(logger),
		LoggerProvider:  provider,
		MetricsRecorder: builder.metricsRecorder,
		ErrorMapper:     builder.errorMapper,
		ConfigProvider:  builder.configProvider,
		OptionsResolver: builder.optionsResolver,
		Registry:        builder.registry,
		Ledger:          builder.ledger,
		EntityStore:     builder.entityStore,
		Codec:           builder.codec,
		Acknowledger:    builder.acknowledger,
	}, nil
}

func defaultRuntimeBuilder(runtime Config) runtimeBuilder {
	return runtimeBuilder{
		runtimeConfig:   runtime,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     MapError,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

// StaticConfigLoader serves a fixed raw map, typically built from flags.
type StaticConfigLoader struct {
	Values map[string]any
}

func (l StaticConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// configToLayerMap keeps only explicitly set values so that higher layers do
// not clobber lower ones with zero values. The acknowledgement switch travels
// with its mode.
func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	ledger := map[string]any{}
	if includeZero || cfg.Ledger.ClaimLeaseSeconds != 0 {
		ledger["claim_lease_seconds"] = cfg.Ledger.ClaimLeaseSeconds
	}
	if includeZero || cfg.Ledger.AwaitPollMillis != 0 {
		ledger["await_poll_millis"] = cfg.Ledger.AwaitPollMillis
	}
	if includeZero || cfg.Ledger.RetentionHours != 0 {
		ledger["retention_hours"] = cfg.Ledger.RetentionHours
	}
	if len(ledger) > 0 {
		layer["ledger"] = ledger
	}

	if includeZero || strings.TrimSpace(cfg.Acknowledgement.Mode) != "" {
		layer["acknowledgement"] = map[string]any{
			"mode":    cfg.Acknowledgement.Mode,
			"enabled": cfg.Acknowledgement.Enabled,
		}
	}

	gateway := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Gateway.ID) != "" {
		gateway["id"] = cfg.Gateway.ID
	}
	if includeZero || strings.TrimSpace(cfg.Gateway.SenderID) != "" {
		gateway["sender_id"] = cfg.Gateway.SenderID
	}
	if len(gateway) > 0 {
		layer["gateway"] = gateway
	}

	if includeZero || cfg.Cache.MetadataTTLSeconds != 0 {
		layer["cache"] = map[string]any{
			"metadata_ttl_seconds": cfg.Cache.MetadataTTLSeconds,
		}
	}
	return layer
}
