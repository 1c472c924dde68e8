package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-smsintake/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// EntityStore is the bun-backed core.EntityStore. Each unit of work is one
// database transaction.
type EntityStore struct {
	db   *bun.DB
	repo repository.Repository[*entityRecord]
}

func NewEntityStore(db *bun.DB) (*EntityStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*entityRecord](db, entityHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid entity repository wiring: %w", err)
		}
	}
	return &EntityStore{db: db, repo: repo}, nil
}

func (s *EntityStore) Begin(ctx context.Context) (core.UnitOfWork, error) {
	return s.begin(ctx)
}

func (s *EntityStore) begin(ctx context.Context) (*unitOfWork, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: entity store is not configured")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &unitOfWork{store: s, tx: tx}, nil
}

// Seed saves entities in a single transaction, typically metadata loaded at
// startup.
func (s *EntityStore) Seed(ctx context.Context, entities ...core.Entity) error {
	uow, err := s.begin(ctx)
	if err != nil {
		return err
	}
	for _, entity := range entities {
		if err := uow.Save(ctx, entity); err != nil {
			_ = uow.Rollback(ctx)
			return err
		}
	}
	return uow.Commit(ctx)
}

// Count returns the number of committed entities of kind.
func (s *EntityStore) Count(ctx context.Context, kind core.EntityKind) (int, error) {
	if s == nil || s.repo == nil {
		return 0, fmt.Errorf("sqlstore: entity store is not configured")
	}
	_, total, err := s.repo.List(ctx,
		repository.SelectBy("kind", "=", string(kind)),
		repository.SelectPaginate(1, 0),
	)
	return total, err
}

type unitOfWork struct {
	store  *EntityStore
	tx     bun.Tx
	mu     sync.Mutex
	closed bool
}

func (u *unitOfWork) Get(ctx context.Context, kind core.EntityKind, uid string) (core.Entity, error) {
	snapshot, err := u.snapshot(ctx, kind, uid)
	if err != nil {
		return nil, err
	}
	return snapshot.decode()
}

func (u *unitOfWork) snapshot(ctx context.Context, kind core.EntityKind, uid string) (entitySnapshot, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return entitySnapshot{}, core.ErrUnitOfWorkClosed
	}
	record, err := u.find(ctx, kind, uid)
	if err != nil {
		return entitySnapshot{}, err
	}
	return entitySnapshot{Kind: record.Kind, UID: record.UID, Body: record.Body}, nil
}

func (u *unitOfWork) Save(ctx context.Context, entity core.Entity) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return core.ErrUnitOfWorkClosed
	}
	snapshot, err := encodeEntity(entity)
	if err != nil {
		return err
	}
	kind := core.EntityKind(snapshot.Kind)
	if _, err := u.find(ctx, kind, snapshot.UID); err == nil {
		return fmt.Errorf("sqlstore: %s %q: %w", kind, snapshot.UID, core.ErrEntityAlreadyPresent)
	} else if !errors.Is(err, core.ErrEntityNotFound) {
		return err
	}

	now := time.Now().UTC()
	programUID, ownerUID := lookupColumns(core.CloneEntity(entity))
	record := &entityRecord{
		ID:         uuid.NewString(),
		Kind:       snapshot.Kind,
		UID:        snapshot.UID,
		ProgramUID: programUID,
		OwnerUID:   ownerUID,
		Body:       snapshot.Body,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := u.store.repo.CreateTx(ctx, u.tx, record); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlstore: %s %q: %w", kind, snapshot.UID, core.ErrEntityAlreadyPresent)
		}
		return err
	}
	return u.replaceAttributes(ctx, snapshot.UID, attributeValues(core.CloneEntity(entity)))
}

func (u *unitOfWork) Update(ctx context.Context, entity core.Entity) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return core.ErrUnitOfWorkClosed
	}
	snapshot, err := encodeEntity(entity)
	if err != nil {
		return err
	}
	programUID, ownerUID := lookupColumns(core.CloneEntity(entity))
	res, err := u.tx.NewUpdate().
		Model((*entityRecord)(nil)).
		Set("body = ?", snapshot.Body).
		Set("program_uid = ?", programUID).
		Set("owner_uid = ?", ownerUID).
		Set("updated_at = ?", time.Now().UTC()).
		Where("kind = ?", snapshot.Kind).
		Where("uid = ?", snapshot.UID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("sqlstore: %s %q: %w", snapshot.Kind, snapshot.UID, core.ErrEntityNotFound)
	}
	if core.EntityKind(snapshot.Kind) != core.EntityTrackedEntity {
		return nil
	}
	return u.replaceAttributes(ctx, snapshot.UID, attributeValues(core.CloneEntity(entity)))
}

func (u *unitOfWork) Delete(ctx context.Context, kind core.EntityKind, uid string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return core.ErrUnitOfWorkClosed
	}
	uid = strings.TrimSpace(uid)
	res, err := u.tx.NewDelete().
		Model((*entityRecord)(nil)).
		Where("kind = ?", string(kind)).
		Where("uid = ?", uid).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("sqlstore: %s %q: %w", kind, uid, core.ErrEntityNotFound)
	}
	if kind != core.EntityTrackedEntity {
		return nil
	}
	return u.replaceAttributes(ctx, uid, nil)
}

func (u *unitOfWork) IsAttributeValueUnique(ctx context.Context, attributeUID string, value string, ownerUID string) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return false, core.ErrUnitOfWorkClosed
	}
	exists, err := u.tx.NewSelect().
		Model((*attributeValueRecord)(nil)).
		Where("?TableAlias.attribute_uid = ?", strings.TrimSpace(attributeUID)).
		Where("?TableAlias.value = ?", value).
		Where("?TableAlias.tracked_entity_uid <> ?", strings.TrimSpace(ownerUID)).
		Exists(ctx)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

func (u *unitOfWork) FindEnrollment(ctx context.Context, programUID string, trackedEntityUID string) (*core.Enrollment, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil, core.ErrUnitOfWorkClosed
	}
	record := &entityRecord{}
	err := u.tx.NewSelect().
		Model(record).
		Where("?TableAlias.kind = ?", string(core.EntityEnrollment)).
		Where("?TableAlias.program_uid = ?", strings.TrimSpace(programUID)).
		Where("?TableAlias.owner_uid = ?", strings.TrimSpace(trackedEntityUID)).
		OrderExpr("?TableAlias.created_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlstore: enrollment for %q in %q: %w", trackedEntityUID, programUID, core.ErrEntityNotFound)
		}
		return nil, err
	}
	entity, err := entitySnapshot{Kind: record.Kind, UID: record.UID, Body: record.Body}.decode()
	if err != nil {
		return nil, err
	}
	return entity.(*core.Enrollment), nil
}

func (u *unitOfWork) Commit(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return core.ErrUnitOfWorkClosed
	}
	u.closed = true
	return u.tx.Commit()
}

func (u *unitOfWork) Rollback(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil
	}
	u.closed = true
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// transaction exposes the open transaction to stores sharing the same db.
func (u *unitOfWork) transaction() (bun.Tx, *bun.DB, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return bun.Tx{}, nil, core.ErrUnitOfWorkClosed
	}
	return u.tx, u.store.db, nil
}

func (u *unitOfWork) find(ctx context.Context, kind core.EntityKind, uid string) (*entityRecord, error) {
	uid = strings.TrimSpace(uid)
	record := &entityRecord{}
	err := u.tx.NewSelect().
		Model(record).
		Where("?TableAlias.kind = ?", string(kind)).
		Where("?TableAlias.uid = ?", uid).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlstore: %s %q: %w", kind, uid, core.ErrEntityNotFound)
		}
		return nil, err
	}
	return record, nil
}

func (u *unitOfWork) replaceAttributes(ctx context.Context, trackedEntityUID string, values []core.AttributeValue) error {
	if _, err := u.tx.NewDelete().
		Model((*attributeValueRecord)(nil)).
		Where("tracked_entity_uid = ?", trackedEntityUID).
		Exec(ctx); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	now := time.Now().UTC()
	records := make([]*attributeValueRecord, 0, len(values))
	for _, value := range values {
		records = append(records, &attributeValueRecord{
			ID:               uuid.NewString(),
			TrackedEntityUID: trackedEntityUID,
			AttributeUID:     value.AttributeUID,
			Value:            value.Value,
			CreatedAt:        now,
		})
	}
	_, err := u.tx.NewInsert().Model(&records).Exec(ctx)
	return err
}
