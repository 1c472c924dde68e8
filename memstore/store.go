// Package memstore provides an in-memory core.EntityStore whose units of work
// stage writes and apply them atomically on commit.
package memstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-smsintake/core"
)

type entityKey struct {
	kind core.EntityKind
	uid  string
}

type Store struct {
	mu       sync.RWMutex
	entities map[entityKey]core.Entity
	writes   int
	commits  int
}

func New(seed ...core.Entity) *Store {
	store := &Store{entities: map[entityKey]core.Entity{}}
	_ = store.Seed(seed...)
	return store
}

// Seed stores entities directly. Seeded entities do not count as writes.
func (s *Store) Seed(entities ...core.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entity := range entities {
		cloned := core.CloneEntity(entity)
		if cloned == nil {
			return fmt.Errorf("memstore: unsupported entity %T", entity)
		}
		s.entities[keyOf(cloned)] = cloned
	}
	return nil
}

func (s *Store) Begin(context.Context) (core.UnitOfWork, error) {
	return &unitOfWork{store: s, staged: map[entityKey]stagedEntity{}}, nil
}

// Get reads committed state.
func (s *Store) Get(kind core.EntityKind, uid string) (core.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entity, ok := s.entities[entityKey{kind: kind, uid: strings.TrimSpace(uid)}]
	if !ok {
		return nil, false
	}
	return core.CloneEntity(entity), true
}

func (s *Store) List(kind core.EntityKind) []core.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []core.Entity{}
	for key, entity := range s.entities {
		if key.kind == kind {
			out = append(out, core.CloneEntity(entity))
		}
	}
	return out
}

func (s *Store) Count(kind core.EntityKind) int {
	return len(s.List(kind))
}

// Writes counts committed save, update and delete operations.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *Store) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

type stagedEntity struct {
	entity  core.Entity
	deleted bool
}

type opKind int

const (
	opSave opKind = iota
	opUpdate
	opDelete
)

type operation struct {
	kind   opKind
	key    entityKey
	entity core.Entity
}

type unitOfWork struct {
	store  *Store
	mu     sync.Mutex
	staged map[entityKey]stagedEntity
	ops    []operation
	hooks  []func(context.Context) error
	closed bool
}

func (u *unitOfWork) Get(_ context.Context, kind core.EntityKind, uid string) (core.Entity, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil, core.ErrUnitOfWorkClosed
	}
	entity, ok := u.lookup(entityKey{kind: kind, uid: strings.TrimSpace(uid)})
	if !ok {
		return nil, fmt.Errorf("memstore: %s %q: %w", kind, uid, core.ErrEntityNotFound)
	}
	return core.CloneEntity(entity), nil
}

func (u *unitOfWork) Save(_ context.Context, entity core.Entity) error {
	return u.stage(opSave, entity, func(exists bool, key entityKey) error {
		if exists {
			return fmt.Errorf("memstore: %s %q: %w", key.kind, key.uid, core.ErrEntityAlreadyPresent)
		}
		return nil
	})
}

func (u *unitOfWork) Update(_ context.Context, entity core.Entity) error {
	return u.stage(opUpdate, entity, func(exists bool, key entityKey) error {
		if !exists {
			return fmt.Errorf("memstore: %s %q: %w", key.kind, key.uid, core.ErrEntityNotFound)
		}
		return nil
	})
}

func (u *unitOfWork) Delete(_ context.Context, kind core.EntityKind, uid string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return core.ErrUnitOfWorkClosed
	}
	key := entityKey{kind: kind, uid: strings.TrimSpace(uid)}
	if _, ok := u.lookup(key); !ok {
		return fmt.Errorf("memstore: %s %q: %w", kind, uid, core.ErrEntityNotFound)
	}
	u.staged[key] = stagedEntity{deleted: true}
	u.ops = append(u.ops, operation{kind: opDelete, key: key})
	return nil
}

func (u *unitOfWork) IsAttributeValueUnique(_ context.Context, attributeUID string, value string, ownerUID string) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return false, core.ErrUnitOfWorkClosed
	}
	for _, entity := range u.visible(core.EntityTrackedEntity) {
		tracked := entity.(*core.TrackedEntity)
		if tracked.UID == ownerUID {
			continue
		}
		for _, attr := range tracked.Attributes {
			if attr.AttributeUID == attributeUID && attr.Value == value {
				return false, nil
			}
		}
	}
	return true, nil
}

func (u *unitOfWork) FindEnrollment(_ context.Context, programUID string, trackedEntityUID string) (*core.Enrollment, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil, core.ErrUnitOfWorkClosed
	}
	for _, entity := range u.visible(core.EntityEnrollment) {
		enrollment := entity.(*core.Enrollment)
		if enrollment.ProgramUID == programUID && enrollment.TrackedEntityUID == trackedEntityUID {
			return core.CloneEntity(enrollment).(*core.Enrollment), nil
		}
	}
	return nil, fmt.Errorf("memstore: enrollment for %q in %q: %w", trackedEntityUID, programUID, core.ErrEntityNotFound)
}

// OnCommit registers fn to run inside Commit, after the conflict check and
// before the staged writes are applied.
func (u *unitOfWork) OnCommit(fn func(context.Context) error) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return core.ErrUnitOfWorkClosed
	}
	if fn != nil {
		u.hooks = append(u.hooks, fn)
	}
	return nil
}

// Commit fails with core.ErrWriteConflict when another unit of work committed
// a change that invalidates a staged operation: a save whose key now exists,
// or an update or delete whose entity is gone. Nothing is applied then.
func (u *unitOfWork) Commit(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return core.ErrUnitOfWorkClosed
	}
	u.closed = true

	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := u.conflictLocked(); err != nil {
		return err
	}
	for _, hook := range u.hooks {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	for _, op := range u.ops {
		if op.kind == opDelete {
			delete(s.entities, op.key)
		} else {
			s.entities[op.key] = op.entity
		}
		s.writes++
	}
	s.commits++
	return nil
}

func (u *unitOfWork) conflictLocked() error {
	present := map[entityKey]bool{}
	exists := func(key entityKey) bool {
		if value, ok := present[key]; ok {
			return value
		}
		_, ok := u.store.entities[key]
		return ok
	}
	for _, op := range u.ops {
		switch op.kind {
		case opSave:
			if exists(op.key) {
				return fmt.Errorf("memstore: save %s %q: %w", op.key.kind, op.key.uid, core.ErrWriteConflict)
			}
			present[op.key] = true
		case opUpdate:
			if !exists(op.key) {
				return fmt.Errorf("memstore: update %s %q: %w", op.key.kind, op.key.uid, core.ErrWriteConflict)
			}
		case opDelete:
			if !exists(op.key) {
				return fmt.Errorf("memstore: delete %s %q: %w", op.key.kind, op.key.uid, core.ErrWriteConflict)
			}
			present[op.key] = false
		}
	}
	return nil
}

func (u *unitOfWork) Rollback(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil
	}
	u.closed = true
	u.staged = nil
	u.ops = nil
	u.hooks = nil
	return nil
}

func (u *unitOfWork) stage(kind opKind, entity core.Entity, check func(exists bool, key entityKey) error) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return core.ErrUnitOfWorkClosed
	}
	cloned := core.CloneEntity(entity)
	if cloned == nil {
		return fmt.Errorf("memstore: unsupported entity %T", entity)
	}
	key := keyOf(cloned)
	if key.uid == "" {
		return fmt.Errorf("memstore: %s uid is required", key.kind)
	}
	_, exists := u.lookup(key)
	if err := check(exists, key); err != nil {
		return err
	}
	u.staged[key] = stagedEntity{entity: cloned}
	u.ops = append(u.ops, operation{kind: kind, key: key, entity: cloned})
	return nil
}

func (u *unitOfWork) lookup(key entityKey) (core.Entity, bool) {
	if staged, ok := u.staged[key]; ok {
		if staged.deleted {
			return nil, false
		}
		return staged.entity, true
	}
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	entity, ok := u.store.entities[key]
	return entity, ok
}

func (u *unitOfWork) visible(kind core.EntityKind) []core.Entity {
	out := []core.Entity{}
	u.store.mu.RLock()
	for key, entity := range u.store.entities {
		if key.kind != kind {
			continue
		}
		if _, overridden := u.staged[key]; overridden {
			continue
		}
		out = append(out, entity)
	}
	u.store.mu.RUnlock()
	for key, staged := range u.staged {
		if key.kind == kind && !staged.deleted {
			out = append(out, staged.entity)
		}
	}
	return out
}

func keyOf(entity core.Entity) entityKey {
	return entityKey{kind: entity.EntityKind(), uid: strings.TrimSpace(entity.EntityUID())}
}

var (
	_ core.EntityStore = (*Store)(nil)
	_ core.CommitHooks = (*unitOfWork)(nil)
)
