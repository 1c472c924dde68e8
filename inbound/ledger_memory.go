package inbound

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-smsintake/core"
)

type ledgerStatus string

const (
	ledgerStatusProcessing ledgerStatus = "processing"
	ledgerStatusReleased   ledgerStatus = "released"
	ledgerStatusParsed     ledgerStatus = "parsed"
)

type ledgerEntry struct {
	Message        core.InboundMessage
	Status         ledgerStatus
	ClaimID        string
	Attempts       int
	LeaseExpiresAt time.Time
	Outcome        *core.ResponseOutcome
	changed        chan struct{}
}

// MemoryLedger is an in-process core.MessageLedger. Claim is an atomic
// check-and-set per identity key.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]*ledgerEntry
	claims  map[string]string
	nextID  int
	Now     func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		entries: map[string]*ledgerEntry{},
		claims:  map[string]string{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *MemoryLedger) Claim(_ context.Context, msg core.InboundMessage, lease time.Duration) (core.LedgerClaim, error) {
	if l == nil {
		return core.LedgerClaim{}, inboundInternal("inbound: ledger is nil", nil)
	}
	key := msg.IdentityKey()
	if strings.TrimSpace(key) == "" || key == ":" {
		return core.LedgerClaim{}, inboundBadInput("inbound: message identity is required", nil)
	}
	now := l.now()
	if lease <= 0 {
		lease = time.Minute
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	entry, exists := l.entries[key]
	if !exists {
		if msg.ReceivedAt.IsZero() {
			msg.ReceivedAt = now
		}
		msg.Parsed = false
		entry = &ledgerEntry{Message: msg, changed: make(chan struct{})}
		l.entries[key] = entry
	}

	switch entry.Status {
	case ledgerStatusParsed:
		outcome := *entry.Outcome
		return core.LedgerClaim{Key: key, Message: entry.Message, Outcome: &outcome}, nil
	case ledgerStatusProcessing:
		if now.Before(entry.LeaseExpiresAt) {
			return core.LedgerClaim{Key: key, Message: entry.Message}, nil
		}
	}

	if entry.ClaimID != "" {
		delete(l.claims, entry.ClaimID)
	}
	claimID := l.nextClaimID()
	entry.Status = ledgerStatusProcessing
	entry.ClaimID = claimID
	entry.Attempts++
	entry.LeaseExpiresAt = now.Add(lease)
	l.claims[claimID] = key
	return core.LedgerClaim{ClaimID: claimID, Key: key, Accepted: true, Message: entry.Message}, nil
}

func (l *MemoryLedger) MarkParsed(_ context.Context, claimID string, outcome core.ResponseOutcome) error {
	if l == nil {
		return inboundInternal("inbound: ledger is nil", nil)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, err := l.heldLocked(claimID)
	if err != nil {
		return err
	}
	outcome = outcome.Normalize()
	entry.Status = ledgerStatusParsed
	entry.Outcome = &outcome
	entry.ClaimID = ""
	entry.LeaseExpiresAt = time.Time{}
	entry.Message.Parsed = true
	entry.Message.ParsedResponseCode = outcome.Code
	entry.Message.ParsedAt = l.now()
	delete(l.claims, claimID)
	entry.notifyLocked()
	return nil
}

// MarkParsedIn defers MarkParsed to the commit of uow, which must support
// commit hooks. The claim is checked now and again when the hook runs.
func (l *MemoryLedger) MarkParsedIn(ctx context.Context, uow core.UnitOfWork, claimID string, outcome core.ResponseOutcome) error {
	if l == nil {
		return inboundInternal("inbound: ledger is nil", nil)
	}
	hooks, ok := uow.(core.CommitHooks)
	if !ok {
		return core.ErrNotTransactional
	}
	l.mu.Lock()
	_, err := l.heldLocked(claimID)
	l.mu.Unlock()
	if err != nil {
		return err
	}
	return hooks.OnCommit(func(ctx context.Context) error {
		return l.MarkParsed(ctx, claimID, outcome)
	})
}

func (l *MemoryLedger) Release(_ context.Context, claimID string) error {
	if l == nil {
		return inboundInternal("inbound: ledger is nil", nil)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, err := l.heldLocked(claimID)
	if err != nil {
		return err
	}
	entry.Status = ledgerStatusReleased
	entry.ClaimID = ""
	entry.LeaseExpiresAt = time.Time{}
	delete(l.claims, claimID)
	entry.notifyLocked()
	return nil
}

func (l *MemoryLedger) IsParsed(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[strings.TrimSpace(key)]
	return ok && entry.Status == ledgerStatusParsed, nil
}

func (l *MemoryLedger) GetOutcome(_ context.Context, key string) (core.ResponseOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[strings.TrimSpace(key)]
	if !ok || entry.Status != ledgerStatusParsed {
		return core.ResponseOutcome{}, fmt.Errorf("inbound: outcome for %q: %w", key, core.ErrMessageNotFound)
	}
	return *entry.Outcome, nil
}

// Await blocks until the message identified by key is parsed, its claim is
// released or its lease runs out, or ctx ends. An expired lease yields
// core.ErrLeaseExpired so the caller can claim the message itself.
func (l *MemoryLedger) Await(ctx context.Context, key string) (core.ResponseOutcome, error) {
	key = strings.TrimSpace(key)
	for {
		l.mu.Lock()
		entry, ok := l.entries[key]
		if !ok {
			l.mu.Unlock()
			return core.ResponseOutcome{}, fmt.Errorf("inbound: await %q: %w", key, core.ErrMessageNotFound)
		}
		switch entry.Status {
		case ledgerStatusParsed:
			outcome := *entry.Outcome
			l.mu.Unlock()
			return outcome, nil
		case ledgerStatusReleased:
			l.mu.Unlock()
			return core.ResponseOutcome{}, fmt.Errorf("inbound: await %q: %w", key, core.ErrClaimNotHeld)
		}
		remaining := entry.LeaseExpiresAt.Sub(l.now())
		if remaining <= 0 {
			l.mu.Unlock()
			return core.ResponseOutcome{}, fmt.Errorf("inbound: await %q: %w", key, core.ErrLeaseExpired)
		}
		changed := entry.changed
		l.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return core.ResponseOutcome{}, ctx.Err()
		case <-changed:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (l *MemoryLedger) ListUnparsed(_ context.Context, limit int) ([]core.InboundMessage, error) {
	l.mu.Lock()
	out := []core.InboundMessage{}
	for _, entry := range l.entries {
		if entry.Status != ledgerStatusParsed {
			out = append(out, entry.Message)
		}
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemoryLedger) Prune(_ context.Context, parsedBefore time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, entry := range l.entries {
		if entry.Status == ledgerStatusParsed && entry.Message.ParsedAt.Before(parsedBefore) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Message returns the ledger copy of the message stored under key.
func (l *MemoryLedger) Message(key string) (core.InboundMessage, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[strings.TrimSpace(key)]
	if !ok {
		return core.InboundMessage{}, false
	}
	return entry.Message, true
}

func (l *MemoryLedger) heldLocked(claimID string) (*ledgerEntry, error) {
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return nil, inboundBadInput("inbound: claim id is required", nil)
	}
	key, ok := l.claims[claimID]
	if !ok {
		return nil, fmt.Errorf("inbound: claim %s: %w", claimID, core.ErrClaimNotHeld)
	}
	entry, exists := l.entries[key]
	if !exists || entry.ClaimID != claimID || entry.Status != ledgerStatusProcessing {
		delete(l.claims, claimID)
		return nil, fmt.Errorf("inbound: claim %s: %w", claimID, core.ErrClaimNotHeld)
	}
	return entry, nil
}

func (l *MemoryLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *MemoryLedger) nextClaimID() string {
	l.nextID++
	return fmt.Sprintf("claim_%d", l.nextID)
}

func (e *ledgerEntry) notifyLocked() {
	close(e.changed)
	e.changed = make(chan struct{})
}
