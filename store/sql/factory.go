package sqlstore

import (
	"fmt"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-smsintake/core"
	"github.com/uptrace/bun"
)

// RepositoryFactory builds the ledger and entity stores over one bun.DB.
type RepositoryFactory struct {
	db *bun.DB

	AwaitPoll    time.Duration
	MetadataTTL  time.Duration
	CacheService repositorycache.CacheService

	ledgerStore       *LedgerStore
	entityStore       *EntityStore
	cachedEntityStore *CachedEntityStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

// NewRepositoryFactoryFromConfig applies the ledger poll interval and the
// metadata cache TTL from cfg. A zero TTL disables the metadata cache.
func NewRepositoryFactoryFromConfig(persistenceClient any, cfg core.Config) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	factory.AwaitPoll = cfg.AwaitPoll()
	factory.MetadataTTL = cfg.MetadataTTL()
	if err := factory.Build(persistenceClient); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.Build(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.Build(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) Build(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.ledgerStore != nil && f.entityStore != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) Ledger() *LedgerStore {
	if f == nil {
		return nil
	}
	return f.ledgerStore
}

// EntityStore returns the cached store when a metadata cache is configured.
func (f *RepositoryFactory) EntityStore() core.EntityStore {
	if f == nil {
		return nil
	}
	if f.cachedEntityStore != nil {
		return f.cachedEntityStore
	}
	return f.entityStore
}

func (f *RepositoryFactory) BaseEntityStore() *EntityStore {
	if f == nil {
		return nil
	}
	return f.entityStore
}

func (f *RepositoryFactory) initStores() error {
	ledgerStore, err := NewLedgerStore(f.db, f.AwaitPoll)
	if err != nil {
		return err
	}
	f.ledgerStore = ledgerStore

	entityStore, err := NewEntityStore(f.db)
	if err != nil {
		return err
	}
	f.entityStore = entityStore

	cacheService := f.CacheService
	if cacheService == nil && f.MetadataTTL > 0 {
		config := repositorycache.DefaultConfig()
		config.TTL = f.MetadataTTL
		cacheService, err = repositorycache.NewCacheService(config)
		if err != nil {
			return fmt.Errorf("sqlstore: build metadata cache: %w", err)
		}
	}
	if cacheService != nil {
		cached, err := NewCachedEntityStore(entityStore, cacheService)
		if err != nil {
			return err
		}
		f.cachedEntityStore = cached
	}
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
