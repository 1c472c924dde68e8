package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-smsintake/core"
)

const entityCacheKeyPrefix = "go-smsintake::entity::v1"

// CachedEntityStore serves metadata reads through a repository cache.
// Aggregate kinds (tracked entities, enrollments, events, relationships)
// always read through the transaction.
type CachedEntityStore struct {
	base  *EntityStore
	cache repositorycache.CacheService
}

func NewCachedEntityStore(base *EntityStore, cacheService repositorycache.CacheService) (*CachedEntityStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base entity store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: entity cache service is required")
	}
	return &CachedEntityStore{base: base, cache: cacheService}, nil
}

// EntityCacheKey returns go-smsintake::entity::v1::<kind>::<uid> with each
// segment URL-path escaped.
func EntityCacheKey(kind core.EntityKind, uid string) string {
	return strings.Join([]string{
		entityCacheKeyPrefix,
		url.PathEscape(string(kind)),
		url.PathEscape(strings.TrimSpace(uid)),
	}, "::")
}

func (s *CachedEntityStore) Begin(ctx context.Context) (core.UnitOfWork, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached entity store is not configured")
	}
	uow, err := s.base.begin(ctx)
	if err != nil {
		return nil, err
	}
	return &cachedUnitOfWork{unitOfWork: uow, cache: s.cache}, nil
}

// Invalidate drops the cached copy of one metadata entity.
func (s *CachedEntityStore) Invalidate(ctx context.Context, kind core.EntityKind, uid string) error {
	if s == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached entity store is not configured")
	}
	return s.cache.Delete(ctx, EntityCacheKey(kind, uid))
}

type cachedUnitOfWork struct {
	*unitOfWork
	cache repositorycache.CacheService
	dirty []string
}

func (u *cachedUnitOfWork) Get(ctx context.Context, kind core.EntityKind, uid string) (core.Entity, error) {
	if !kind.Metadata() {
		return u.unitOfWork.Get(ctx, kind, uid)
	}
	key := EntityCacheKey(kind, uid)
	snapshot, err := repositorycache.GetOrFetch(ctx, u.cache, key, func(ctx context.Context) (entitySnapshot, error) {
		return u.unitOfWork.snapshot(ctx, kind, uid)
	})
	if err != nil {
		return nil, err
	}
	return snapshot.decode()
}

func (u *cachedUnitOfWork) Save(ctx context.Context, entity core.Entity) error {
	if err := u.unitOfWork.Save(ctx, entity); err != nil {
		return err
	}
	return u.invalidate(ctx, entity.EntityKind(), entity.EntityUID())
}

func (u *cachedUnitOfWork) Update(ctx context.Context, entity core.Entity) error {
	if err := u.unitOfWork.Update(ctx, entity); err != nil {
		return err
	}
	return u.invalidate(ctx, entity.EntityKind(), entity.EntityUID())
}

func (u *cachedUnitOfWork) Delete(ctx context.Context, kind core.EntityKind, uid string) error {
	if err := u.unitOfWork.Delete(ctx, kind, uid); err != nil {
		return err
	}
	return u.invalidate(ctx, kind, uid)
}

// Commit drops the written metadata keys again so that a read racing the
// transaction cannot leave the pre-commit copy cached.
func (u *cachedUnitOfWork) Commit(ctx context.Context) error {
	if err := u.unitOfWork.Commit(ctx); err != nil {
		return err
	}
	return u.flush(ctx)
}

func (u *cachedUnitOfWork) Rollback(ctx context.Context) error {
	if err := u.unitOfWork.Rollback(ctx); err != nil {
		return err
	}
	return u.flush(ctx)
}

func (u *cachedUnitOfWork) flush(ctx context.Context) error {
	dirty := u.dirty
	u.dirty = nil
	for _, key := range dirty {
		if err := u.cache.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (u *cachedUnitOfWork) invalidate(ctx context.Context, kind core.EntityKind, uid string) error {
	if !kind.Metadata() {
		return nil
	}
	key := EntityCacheKey(kind, uid)
	u.dirty = append(u.dirty, key)
	return u.cache.Delete(ctx, key)
}

var _ core.UnitOfWork = (*cachedUnitOfWork)(nil)
