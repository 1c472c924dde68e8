package query

import (
	"context"
	"errors"
	"strings"

	"github.com/goliatone/go-smsintake/core"
)

// LedgerReader is the read side of core.MessageLedger.
type LedgerReader interface {
	IsParsed(ctx context.Context, key string) (bool, error)
	GetOutcome(ctx context.Context, key string) (core.ResponseOutcome, error)
	ListUnparsed(ctx context.Context, limit int) ([]core.InboundMessage, error)
}

type GetOutcomeQuery struct {
	reader LedgerReader
}

func NewGetOutcomeQuery(reader LedgerReader) *GetOutcomeQuery {
	return &GetOutcomeQuery{reader: reader}
}

func (q *GetOutcomeQuery) Query(ctx context.Context, msg GetOutcomeMessage) (core.ResponseOutcome, error) {
	if q == nil || q.reader == nil {
		return core.ResponseOutcome{}, queryDependencyError("query: ledger reader is required")
	}
	outcome, err := q.reader.GetOutcome(ctx, strings.TrimSpace(msg.MessageKey))
	if err != nil {
		if errors.Is(err, core.ErrMessageNotFound) {
			return core.ResponseOutcome{}, queryNotFoundError(err, msg.MessageKey)
		}
		return core.ResponseOutcome{}, err
	}
	return outcome, nil
}

type MessageStatusQuery struct {
	reader LedgerReader
}

func NewMessageStatusQuery(reader LedgerReader) *MessageStatusQuery {
	return &MessageStatusQuery{reader: reader}
}

func (q *MessageStatusQuery) Query(ctx context.Context, msg MessageStatusMessage) (MessageStatus, error) {
	if q == nil || q.reader == nil {
		return MessageStatus{}, queryDependencyError("query: ledger reader is required")
	}
	key := strings.TrimSpace(msg.MessageKey)
	parsed, err := q.reader.IsParsed(ctx, key)
	if err != nil {
		return MessageStatus{}, err
	}
	status := MessageStatus{MessageKey: key, Parsed: parsed}
	if !parsed {
		return status, nil
	}
	outcome, err := q.reader.GetOutcome(ctx, key)
	if err != nil {
		return MessageStatus{}, err
	}
	status.Outcome = &outcome
	return status, nil
}

type ListUnparsedQuery struct {
	reader LedgerReader
}

func NewListUnparsedQuery(reader LedgerReader) *ListUnparsedQuery {
	return &ListUnparsedQuery{reader: reader}
}

func (q *ListUnparsedQuery) Query(ctx context.Context, msg ListUnparsedMessage) ([]core.InboundMessage, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: ledger reader is required")
	}
	return q.reader.ListUnparsed(ctx, msg.Limit)
}
