package persistence

import (
	"context"
	"errors"

	"MarginIndexer/internal/event"
	"MarginIndexer/internal/ledger"
	"MarginIndexer/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNotFound is returned by point lookups for absent records.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyProcessed is returned by Commit when the changeset's
	// idempotency key was committed before.
	ErrAlreadyProcessed = errors.New("event already processed")
)

// Reader is the read side of the indexed state. Returned records are copies
// owned by the caller.
type Reader interface {
	GetAccount(ctx context.Context, id string) (*ledger.MarginAccount, error)
	GetTokenValue(ctx context.Context, id string) (*ledger.TokenValue, error)
	// ListTokenValues returns the slots of one account ordered by market id.
	ListTokenValues(ctx context.Context, accountID string) ([]*ledger.TokenValue, error)
	// ListUpdateTransactions returns a slot's audit trail in arrival order.
	ListUpdateTransactions(ctx context.Context, tokenValueID string) ([]string, error)
	GetAsset(ctx context.Context, token common.Address) (*state.Asset, error)
	// GetMarketToken resolves a market id to its token address.
	GetMarketToken(ctx context.Context, marketID uint64) (common.Address, error)
	GetMarketRiskInfo(ctx context.Context, marketID uint64) (*state.MarketRiskInfo, error)
	GetGlobals(ctx context.Context, margin common.Address) (*state.ProtocolGlobals, error)
	GetTransaction(ctx context.Context, id string) (*ledger.Transaction, error)
}

// Store is the durable state of the indexer.
type Store interface {
	Reader

	// Commit writes every record of cs and its processed-event row
	// atomically. Nothing is written on error.
	Commit(ctx context.Context, cs *Changeset) error

	// IsDuplicate reports whether an idempotency key was committed.
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)

	// LoadCursor returns the position of the last committed event and up to
	// recent idempotency keys, newest last. It returns nil on a fresh store.
	LoadCursor(ctx context.Context, recent int) (*Cursor, error)

	// ListEnvelopes returns up to limit committed envelopes with sequence
	// >= from, in sequence order.
	ListEnvelopes(ctx context.Context, from int64, limit int) ([]event.EventEnvelope, error)

	Ping(ctx context.Context) error
	Close() error
}

// Cursor is the restart point of the indexer.
type Cursor struct {
	Sequence   int64
	Position   event.LogPosition
	StateHash  [32]byte
	RecentKeys []string
}
