package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-smsintake/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	ledgerStatusProcessing = "processing"
	ledgerStatusReleased   = "released"
	ledgerStatusParsed     = "parsed"
)

// LedgerStore is the durable core.MessageLedger. Claims rely on the unique
// message_key index: the first insert wins, and a stale or released claim can
// only be taken over by a conditional update.
type LedgerStore struct {
	db           *bun.DB
	repo         repository.Repository[*inboundMessageRecord]
	PollInterval time.Duration
	Now          func() time.Time
}

func NewLedgerStore(db *bun.DB, pollInterval time.Duration) (*LedgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*inboundMessageRecord](db, inboundMessageHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid inbound message repository wiring: %w", err)
		}
	}
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	return &LedgerStore{
		db:           db,
		repo:         repo,
		PollInterval: pollInterval,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *LedgerStore) Claim(ctx context.Context, msg core.InboundMessage, lease time.Duration) (core.LedgerClaim, error) {
	if s == nil || s.db == nil {
		return core.LedgerClaim{}, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	key := strings.TrimSpace(msg.IdentityKey())
	if key == "" || key == ":" {
		return core.LedgerClaim{}, fmt.Errorf("sqlstore: message identity is required")
	}
	if lease <= 0 {
		lease = time.Minute
	}
	now := s.now()
	leaseUntil := now.Add(lease)
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = now
	}

	claimID := uuid.NewString()
	record := &inboundMessageRecord{
		ID:             uuid.NewString(),
		MessageKey:     key,
		GatewayID:      strings.TrimSpace(msg.GatewayID),
		Originator:     strings.TrimSpace(msg.Originator),
		Payload:        append([]byte(nil), msg.Payload...),
		Status:         ledgerStatusProcessing,
		ClaimID:        claimID,
		LeaseExpiresAt: &leaseUntil,
		Attempts:       1,
		ResponseRefs:   []string{},
		ReceivedAt:     msg.ReceivedAt.UTC(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err := s.db.NewInsert().Model(record).Exec(ctx)
	if err == nil {
		return core.LedgerClaim{
			ClaimID:  claimID,
			Key:      key,
			Accepted: true,
			Message:  messageFromRecord(record),
		}, nil
	}
	if !isUniqueViolation(err) {
		return core.LedgerClaim{}, err
	}

	res, err := s.db.NewUpdate().
		Model((*inboundMessageRecord)(nil)).
		Set("status = ?", ledgerStatusProcessing).
		Set("claim_id = ?", claimID).
		Set("attempts = attempts + 1").
		Set("lease_expires_at = ?", leaseUntil).
		Set("updated_at = ?", now).
		Where("message_key = ?", key).
		WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.
				Where("status = ?", ledgerStatusReleased).
				WhereOr("(status = ? AND lease_expires_at < ?)", ledgerStatusProcessing, now)
		}).
		Exec(ctx)
	if err != nil {
		return core.LedgerClaim{}, err
	}
	affected, _ := res.RowsAffected()

	existing, err := s.get(ctx, key)
	if err != nil {
		return core.LedgerClaim{}, err
	}
	claim := core.LedgerClaim{
		Key:     key,
		Message: messageFromRecord(existing),
	}
	if affected > 0 && existing.ClaimID == claimID {
		claim.ClaimID = claimID
		claim.Accepted = true
		return claim, nil
	}
	if existing.Status == ledgerStatusParsed {
		outcome := outcomeFromRecord(existing)
		claim.Outcome = &outcome
	}
	return claim, nil
}

func (s *LedgerStore) MarkParsed(ctx context.Context, claimID string, outcome core.ResponseOutcome) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: ledger store is not configured")
	}
	return s.markParsed(ctx, s.db, claimID, outcome)
}

// MarkParsedIn records the outcome inside the transaction of a unit of work
// opened by an EntityStore on the same database.
func (s *LedgerStore) MarkParsedIn(ctx context.Context, uow core.UnitOfWork, claimID string, outcome core.ResponseOutcome) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: ledger store is not configured")
	}
	unit, ok := uow.(interface {
		transaction() (bun.Tx, *bun.DB, error)
	})
	if !ok {
		return core.ErrNotTransactional
	}
	tx, db, err := unit.transaction()
	if err != nil {
		return err
	}
	if db != s.db {
		return core.ErrNotTransactional
	}
	return s.markParsed(ctx, tx, claimID, outcome)
}

func (s *LedgerStore) markParsed(ctx context.Context, db bun.IDB, claimID string, outcome core.ResponseOutcome) error {
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return fmt.Errorf("sqlstore: claim id is required")
	}
	outcome = outcome.Normalize()
	refs := outcome.Refs
	if refs == nil {
		refs = []string{}
	}
	code := int(outcome.Code)
	now := s.now()
	record := &inboundMessageRecord{
		Status:       ledgerStatusParsed,
		ResponseCode: &code,
		SubmissionID: outcome.SubmissionID,
		ResponseRefs: refs,
		ParsedAt:     &now,
		UpdatedAt:    now,
	}
	res, err := db.NewUpdate().
		Model(record).
		Column("status", "claim_id", "lease_expires_at", "response_code", "submission_id", "response_refs", "parsed_at", "updated_at").
		Where("claim_id = ?", claimID).
		Where("status = ?", ledgerStatusProcessing).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireHeld(res, claimID)
}

func (s *LedgerStore) Release(ctx context.Context, claimID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: ledger store is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return fmt.Errorf("sqlstore: claim id is required")
	}
	res, err := s.db.NewUpdate().
		Model((*inboundMessageRecord)(nil)).
		Set("status = ?", ledgerStatusReleased).
		Set("claim_id = ''").
		Set("lease_expires_at = NULL").
		Set("updated_at = ?", s.now()).
		Where("claim_id = ?", claimID).
		Where("status = ?", ledgerStatusProcessing).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireHeld(res, claimID)
}

func (s *LedgerStore) IsParsed(ctx context.Context, key string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	return s.db.NewSelect().
		Model((*inboundMessageRecord)(nil)).
		Where("?TableAlias.message_key = ?", strings.TrimSpace(key)).
		Where("?TableAlias.status = ?", ledgerStatusParsed).
		Exists(ctx)
}

func (s *LedgerStore) GetOutcome(ctx context.Context, key string) (core.ResponseOutcome, error) {
	if s == nil || s.db == nil {
		return core.ResponseOutcome{}, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	record, err := s.get(ctx, key)
	if err != nil {
		return core.ResponseOutcome{}, err
	}
	if record.Status != ledgerStatusParsed {
		return core.ResponseOutcome{}, fmt.Errorf("sqlstore: outcome for %q: %w", key, core.ErrMessageNotFound)
	}
	return outcomeFromRecord(record), nil
}

// Await polls until the message is parsed, its claim is released or its lease
// runs out, or ctx ends. An expired lease yields core.ErrLeaseExpired.
func (s *LedgerStore) Await(ctx context.Context, key string) (core.ResponseOutcome, error) {
	if s == nil || s.db == nil {
		return core.ResponseOutcome{}, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()
	for {
		record, err := s.get(ctx, key)
		if err != nil {
			return core.ResponseOutcome{}, err
		}
		switch record.Status {
		case ledgerStatusParsed:
			return outcomeFromRecord(record), nil
		case ledgerStatusReleased:
			return core.ResponseOutcome{}, fmt.Errorf("sqlstore: await %q: %w", key, core.ErrClaimNotHeld)
		case ledgerStatusProcessing:
			if record.LeaseExpiresAt != nil && !record.LeaseExpiresAt.After(s.now()) {
				return core.ResponseOutcome{}, fmt.Errorf("sqlstore: await %q: %w", key, core.ErrLeaseExpired)
			}
		}
		select {
		case <-ctx.Done():
			return core.ResponseOutcome{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *LedgerStore) ListUnparsed(ctx context.Context, limit int) ([]core.InboundMessage, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.status <> ?", ledgerStatusParsed)
		}),
		repository.OrderBy("received_at ASC"),
	}
	if limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(limit, 0))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.InboundMessage, 0, len(records))
	for _, record := range records {
		out = append(out, messageFromRecord(record))
	}
	return out, nil
}

func (s *LedgerStore) Prune(ctx context.Context, parsedBefore time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*inboundMessageRecord)(nil)).
		Where("status = ?", ledgerStatusParsed).
		Where("parsed_at < ?", parsedBefore.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

// Message returns the ledger copy of the message stored under key.
func (s *LedgerStore) Message(ctx context.Context, key string) (core.InboundMessage, error) {
	record, err := s.get(ctx, key)
	if err != nil {
		return core.InboundMessage{}, err
	}
	return messageFromRecord(record), nil
}

func (s *LedgerStore) get(ctx context.Context, key string) (*inboundMessageRecord, error) {
	record := &inboundMessageRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.message_key = ?", strings.TrimSpace(key)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlstore: inbound message %q: %w", key, core.ErrMessageNotFound)
		}
		return nil, err
	}
	return record, nil
}

func (s *LedgerStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func requireHeld(res sql.Result, claimID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("sqlstore: claim %s: %w", claimID, core.ErrClaimNotHeld)
	}
	return nil
}

func messageFromRecord(record *inboundMessageRecord) core.InboundMessage {
	msg := core.InboundMessage{
		ID:         messageIDFromKey(record),
		GatewayID:  record.GatewayID,
		Originator: record.Originator,
		Payload:    append([]byte(nil), record.Payload...),
		ReceivedAt: record.ReceivedAt.UTC(),
		Parsed:     record.Status == ledgerStatusParsed,
	}
	if msg.Parsed {
		if record.ResponseCode != nil {
			msg.ParsedResponseCode = core.ResponseCode(*record.ResponseCode)
		}
		if record.ParsedAt != nil {
			msg.ParsedAt = record.ParsedAt.UTC()
		}
	}
	return msg
}

// messageIDFromKey recovers the gateway id. Keys derived from the originator
// and payload hash carry no gateway id.
func messageIDFromKey(record *inboundMessageRecord) string {
	derived := core.InboundMessage{Originator: record.Originator, Payload: record.Payload}
	if record.MessageKey == derived.IdentityKey() {
		return ""
	}
	return record.MessageKey
}

func outcomeFromRecord(record *inboundMessageRecord) core.ResponseOutcome {
	code := core.ResponseInternalFailure
	if record.ResponseCode != nil {
		code = core.ResponseCode(*record.ResponseCode)
	}
	return core.NewOutcome(code, record.SubmissionID, record.ResponseRefs...).Normalize()
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
