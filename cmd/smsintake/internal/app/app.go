package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	smsintake "github.com/goliatone/go-smsintake"
	"github.com/goliatone/go-smsintake/adapters/gocommand"
	"github.com/goliatone/go-smsintake/adapters/gologger"
	"github.com/goliatone/go-smsintake/core"
	smsmigrations "github.com/goliatone/go-smsintake/migrations"
	sqlstore "github.com/goliatone/go-smsintake/store/sql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Options are the process-level settings the CLI collects from flags.
type Options struct {
	ConfigPath string
	Driver     string
	DSN        string
	LogLevel   string
	LogOutput  io.Writer
	Debug      bool
}

func (o Options) driver() string {
	switch strings.TrimSpace(strings.ToLower(o.Driver)) {
	case "", "sqlite", DriverSQLite:
		return DriverSQLite
	case "pg", "postgresql", DriverPostgres:
		return DriverPostgres
	default:
		return strings.TrimSpace(o.Driver)
	}
}

func (o Options) dsn() string {
	if dsn := strings.TrimSpace(o.DSN); dsn != "" {
		return dsn
	}
	if o.driver() == DriverSQLite {
		return "file:smsintake.db?cache=shared&_foreign_keys=on"
	}
	return ""
}

type persistenceConfig struct {
	driver string
	server string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "go-smsintake" }

// resolvedConfig hands the already loaded config to the runtime so the file
// is read once.
type resolvedConfig core.Config

func (c resolvedConfig) Load(context.Context, core.Config) (core.Config, error) {
	return core.Config(c), nil
}

// App is one fully wired intake process: database, stores, service and the
// command bus the CLI dispatches through.
type App struct {
	Config  core.Config
	Logger  *glog.BaseLogger
	Client  *persistence.Client
	Factory *sqlstore.RepositoryFactory
	Service *smsintake.Service
	Facade  *smsintake.Facade
	Bus     *gocommand.Bus

	dialect string
}

// Open loads config, connects to the database and applies pending
// migrations before assembling the service.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger := gologger.NewConsoleLogger(opts.LogOutput, opts.LogLevel)
	provider := core.NewCfgxConfigProvider(core.YAMLConfigLoader{Path: opts.ConfigPath, Optional: opts.ConfigPath == ""})
	cfg, err := provider.Load(ctx, core.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if cfg.AcknowledgementMode() == core.AcknowledgementQueue {
		logger.Warn("sms.cli queue acknowledgement needs an external worker; falling back to async")
		cfg.Acknowledgement.Mode = core.AcknowledgementAsync
	}

	client, dialect, err := connect(opts)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, Logger: logger, Client: client, dialect: dialect}
	if err := app.Migrate(ctx); err != nil {
		app.Close()
		return nil, err
	}

	factory, err := sqlstore.NewRepositoryFactoryFromConfig(client, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Factory = factory

	service, err := smsintake.NewService(cfg,
		smsintake.WithConfigProvider(resolvedConfig(cfg)),
		smsintake.WithLoggerProvider(logger),
		smsintake.WithLedger(factory.Ledger()),
		smsintake.WithEntityStore(factory.EntityStore()),
	)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Service = service

	facade, err := smsintake.NewFacade(service)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Facade = facade
	app.Bus = gocommand.NewBus(nil)
	if err := facade.Register(app.Bus); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// Migrate registers the embedded schema for the connected dialect and runs it.
func (a *App) Migrate(ctx context.Context) error {
	if a == nil || a.Client == nil {
		return fmt.Errorf("app: database is not connected")
	}
	source, err := smsmigrations.SourceFor(a.dialect)
	if err != nil {
		return err
	}
	a.Client.RegisterSQLMigrations(source.FS)
	return a.Client.Migrate(ctx)
}

// Close drains pending acknowledgements before releasing the bus and the
// database.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Service != nil {
		a.Service.Drain()
	}
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.Client != nil {
		_ = a.Client.Close()
	}
}

func connect(opts Options) (*persistence.Client, string, error) {
	driver := opts.driver()
	dsn := opts.dsn()
	if dsn == "" {
		return nil, "", fmt.Errorf("app: dsn is required for driver %s", driver)
	}

	migrationDialect, err := smsmigrations.DialectForDriver(driver)
	if err != nil {
		return nil, "", fmt.Errorf("app: unsupported driver %q", driver)
	}
	var dialect schema.Dialect = sqlitedialect.New()
	if migrationDialect == smsmigrations.DialectPostgres {
		dialect = pgdialect.New()
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("app: open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{driver: driver, server: dsn, debug: opts.Debug}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, "", fmt.Errorf("app: persistence client: %w", err)
	}
	return client, migrationDialect, nil
}
