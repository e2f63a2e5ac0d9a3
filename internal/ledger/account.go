package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// MarginAccount is the projected state of one (owner, sub-account number) pair.
// HasBorrowValue, HasSupplyValue and HasExpiration cache whether the matching
// set is non-empty and are recomputed on every mutation of that set.
type MarginAccount struct {
	ID     string
	Owner  common.Address
	Number *uint256.Int

	BorrowMarketIDs     MarketSet
	SupplyMarketIDs     MarketSet
	ExpirationMarketIDs MarketSet

	HasBorrowValue bool
	HasSupplyValue bool
	HasExpiration  bool

	LastUpdatedBlockNumber uint64
	LastUpdatedTimestamp   uint64
}

// AccountID derives the stable account key "<owner>-<number>" with the owner
// in lower-case hex and the number in base 10.
func AccountID(owner common.Address, number *uint256.Int) string {
	n := "0"
	if number != nil {
		n = number.Dec()
	}
	return fmt.Sprintf("%s-%s", strings.ToLower(owner.Hex()), n)
}

// NewMarginAccount returns a zero-initialized account.
func NewMarginAccount(owner common.Address, number *uint256.Int) *MarginAccount {
	if number == nil {
		number = new(uint256.Int)
	}
	return &MarginAccount{
		ID:     AccountID(owner, number),
		Owner:  owner,
		Number: new(uint256.Int).Set(number),
	}
}

// Touch records the block that last updated the account.
func (a *MarginAccount) Touch(blockNumber, blockTimestamp uint64) {
	a.LastUpdatedBlockNumber = blockNumber
	a.LastUpdatedTimestamp = blockTimestamp
}

// Clone returns a deep copy.
func (a *MarginAccount) Clone() *MarginAccount {
	c := *a
	if a.Number != nil {
		c.Number = new(uint256.Int).Set(a.Number)
	}
	c.BorrowMarketIDs = a.BorrowMarketIDs.Clone()
	c.SupplyMarketIDs = a.SupplyMarketIDs.Clone()
	c.ExpirationMarketIDs = a.ExpirationMarketIDs.Clone()
	return &c
}

// TokenValue is the balance slot of one account in one market.
type TokenValue struct {
	ID        string
	AccountID string
	MarketID  uint64
	Token     common.Address

	// Signed par balance, overwritten by every applied update
	ValuePar decimal.Decimal

	// Audit trail. The full list lives in an append-only log read through
	// the store; a loaded slot carries only its length plus the entries
	// recorded since it was loaded.
	UpdateCount           int64
	PendingTransactions   []string
	LastUpdateTransaction string

	// Set while an expiration is armed
	ExpirationTimestamp *uint64
	ExpiryAddress       *common.Address
}

// TokenValueID derives the slot key "<accountID>-<marketID>".
func TokenValueID(accountID string, marketID uint64) string {
	return fmt.Sprintf("%s-%d", accountID, marketID)
}

// NewTokenValue returns a zero-balance slot with an empty audit trail.
func NewTokenValue(accountID string, marketID uint64, token common.Address) *TokenValue {
	return &TokenValue{
		ID:        TokenValueID(accountID, marketID),
		AccountID: accountID,
		MarketID:  marketID,
		Token:     token,
		ValuePar:  decimal.Zero,
	}
}

// RecordTransaction appends txID to the audit trail. Duplicates are kept.
func (tv *TokenValue) RecordTransaction(txID string) {
	tv.PendingTransactions = append(tv.PendingTransactions, txID)
	tv.UpdateCount++
	tv.LastUpdateTransaction = txID
}

// FirstPendingOrdinal is the 1-based trail position of the first pending
// entry.
func (tv *TokenValue) FirstPendingOrdinal() int64 {
	return tv.UpdateCount - int64(len(tv.PendingTransactions)) + 1
}

// Persisted returns a copy with the pending entries dropped, as a store
// holds it after commit.
func (tv *TokenValue) Persisted() *TokenValue {
	c := tv.Clone()
	c.PendingTransactions = nil
	return c
}

// IsExpiring reports whether an expiration is armed.
func (tv *TokenValue) IsExpiring() bool {
	return tv.ExpirationTimestamp != nil
}

// Clone returns a deep copy.
func (tv *TokenValue) Clone() *TokenValue {
	c := *tv
	if tv.PendingTransactions != nil {
		c.PendingTransactions = append([]string(nil), tv.PendingTransactions...)
	}
	if tv.ExpirationTimestamp != nil {
		ts := *tv.ExpirationTimestamp
		c.ExpirationTimestamp = &ts
	}
	if tv.ExpiryAddress != nil {
		addr := *tv.ExpiryAddress
		c.ExpiryAddress = &addr
	}
	return &c
}

// Transaction is the registry entry for a chain transaction.
type Transaction struct {
	ID          string // lower-case tx hash
	BlockNumber uint64
	Timestamp   uint64
}

// TransactionID returns the registry key of a tx hash.
func TransactionID(hash common.Hash) string {
	return strings.ToLower(hash.Hex())
}
