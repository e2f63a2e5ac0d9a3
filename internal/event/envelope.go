package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDeposit
	EventTypeWithdraw
	EventTypeTransfer
	EventTypeBuy
	EventTypeSell
	EventTypeTrade
	EventTypeLiquidate
	EventTypeVaporize
	EventTypeExpirySet
	EventTypeAddMarket
	EventTypeRemoveMarket
	EventTypeSetEarningsRate
	EventTypeSetLiquidationSpread
	EventTypeSetMarginRatio
	EventTypeSetMinBorrowedValue
	EventTypeSetMarginPremium
	EventTypeSetSpreadPremium
	EventTypeSetIsClosing
)

var eventTypeNames = map[EventType]string{
	EventTypeDeposit:              "Deposit",
	EventTypeWithdraw:             "Withdraw",
	EventTypeTransfer:             "Transfer",
	EventTypeBuy:                  "Buy",
	EventTypeSell:                 "Sell",
	EventTypeTrade:                "Trade",
	EventTypeLiquidate:            "Liquidate",
	EventTypeVaporize:             "Vaporize",
	EventTypeExpirySet:            "ExpirySet",
	EventTypeAddMarket:            "AddMarket",
	EventTypeRemoveMarket:         "RemoveMarket",
	EventTypeSetEarningsRate:      "SetEarningsRate",
	EventTypeSetLiquidationSpread: "SetLiquidationSpread",
	EventTypeSetMarginRatio:       "SetMarginRatio",
	EventTypeSetMinBorrowedValue:  "SetMinBorrowedValue",
	EventTypeSetMarginPremium:     "SetMarginPremium",
	EventTypeSetSpreadPremium:     "SetSpreadPremium",
	EventTypeSetIsClosing:         "SetIsClosing",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) (EventType, bool) {
	for et, name := range eventTypeNames {
		if name == s {
			return et, true
		}
	}
	return EventTypeUnknown, false
}

// LogMeta locates a decoded log on chain. Every event embeds it.
type LogMeta struct {
	// Contract that emitted the log
	Contract common.Address

	BlockNumber    uint64
	BlockTimestamp uint64 // unix seconds
	TxHash         common.Hash
	TxIndex        uint64
	LogIndex       uint64
}

// IdempotencyKey returns the stable dedup key: "<txHash>-<logIndex>".
func (m LogMeta) IdempotencyKey() string {
	return fmt.Sprintf("%s-%d", strings.ToLower(m.TxHash.Hex()), m.LogIndex)
}

// Log returns the log metadata.
func (m LogMeta) Log() LogMeta {
	return m
}

// Position returns the total-order key of the log.
func (m LogMeta) Position() LogPosition {
	return LogPosition{BlockNumber: m.BlockNumber, TxIndex: m.TxIndex, LogIndex: m.LogIndex}
}

// Time returns the block timestamp.
func (m LogMeta) Time() time.Time {
	return time.Unix(int64(m.BlockTimestamp), 0).UTC()
}

// LogPosition orders logs by block, then transaction index, then log index.
type LogPosition struct {
	BlockNumber uint64
	TxIndex     uint64
	LogIndex    uint64
}

// Less reports whether p comes strictly before o.
func (p LogPosition) Less(o LogPosition) bool {
	if p.BlockNumber != o.BlockNumber {
		return p.BlockNumber < o.BlockNumber
	}
	if p.TxIndex != o.TxIndex {
		return p.TxIndex < o.TxIndex
	}
	return p.LogIndex < o.LogIndex
}

func (p LogPosition) String() string {
	return fmt.Sprintf("%d:%d:%d", p.BlockNumber, p.TxIndex, p.LogIndex)
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Log returns the chain location of the event
	Log() LogMeta
}

// BalanceEvent is an event that sets one or more (account, market) balances.
type BalanceEvent interface {
	Event

	// BalanceUpdates returns the updates in declaration order. Later updates
	// touching the same account must observe earlier ones.
	BalanceUpdates() []BalanceUpdate
}

// Par is the protocol's signed-magnitude par value: Sign true means >= 0.
type Par struct {
	Sign  bool
	Value *uint256.Int
}

// NewPar builds a Par from a signed int64, for tests and fixtures.
func NewPar(v int64) Par {
	if v < 0 {
		return Par{Sign: false, Value: uint256.NewInt(uint64(-v))}
	}
	return Par{Sign: true, Value: uint256.NewInt(uint64(v))}
}

// AccountRef identifies a margin account by owner and sub-account number.
type AccountRef struct {
	Owner  common.Address
	Number *uint256.Int
}

// NumberString returns the decimal sub-account number ("0" when unset).
func (a AccountRef) NumberString() string {
	if a.Number == nil {
		return "0"
	}
	return a.Number.Dec()
}

// BalanceUpdate is one (account, market, new par) triple extracted from an event.
type BalanceUpdate struct {
	Account  AccountRef
	MarketID uint64
	NewPar   Par
}

// EventEnvelope wraps every applied event in the output stream
type EventEnvelope struct {
	// Local monotonic sequence assigned by the indexer
	Sequence int64

	// Stable idempotency key from the log
	IdempotencyKey string

	EventType EventType

	Log LogMeta

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}
