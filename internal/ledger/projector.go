package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Transition describes the set movements caused by one balance projection.
type Transition struct {
	MarketID uint64
	OldPar   decimal.Decimal
	NewPar   decimal.Decimal

	BorrowEntered bool
	BorrowExited  bool
	SupplyEntered bool
	SupplyExited  bool
}

// Changed reports whether any set membership moved.
func (t Transition) Changed() bool {
	return t.BorrowEntered || t.BorrowExited || t.SupplyEntered || t.SupplyExited
}

// Projector applies balance and expiration updates to an account and one of
// its token-value slots. It holds no state besides the supply-tracking mode.
type Projector struct {
	trackSupply bool
}

func NewProjector(trackSupply bool) *Projector {
	return &Projector{trackSupply: trackSupply}
}

// TrackSupply reports whether supply sets are maintained.
func (p *Projector) TrackSupply() bool {
	return p.trackSupply
}

// ApplyBalance moves the market between the account's borrow and supply sets
// according to the sign change from tv.ValuePar to newPar, then overwrites
// tv.ValuePar. Zero is non-negative for borrow and non-positive for supply.
func (p *Projector) ApplyBalance(account *MarginAccount, tv *TokenValue, newPar decimal.Decimal) Transition {
	oldPar := tv.ValuePar
	marketID := tv.MarketID
	t := Transition{MarketID: marketID, OldPar: oldPar, NewPar: newPar}

	switch {
	case oldPar.IsNegative() && !newPar.IsNegative():
		account.BorrowMarketIDs.Remove(marketID)
		t.BorrowExited = true
	case !oldPar.IsNegative() && newPar.IsNegative():
		account.BorrowMarketIDs.Add(marketID)
		t.BorrowEntered = true
	}
	account.HasBorrowValue = account.BorrowMarketIDs.Len() > 0

	if p.trackSupply {
		switch {
		case !oldPar.IsPositive() && newPar.IsPositive():
			account.SupplyMarketIDs.Add(marketID)
			t.SupplyEntered = true
		case oldPar.IsPositive() && !newPar.IsPositive():
			account.SupplyMarketIDs.Remove(marketID)
			t.SupplyExited = true
		}
		account.HasSupplyValue = account.SupplyMarketIDs.Len() > 0
	}

	tv.ValuePar = newPar
	return t
}

// ApplyExpiry arms or clears the expiration of tv. A zero expiry clears it;
// any other value arms it, overwriting the previous timestamp and setter.
// It returns true when an expiration is armed afterwards.
func (p *Projector) ApplyExpiry(account *MarginAccount, tv *TokenValue, expiry uint64, setter common.Address) bool {
	if expiry == 0 {
		account.ExpirationMarketIDs.Remove(tv.MarketID)
		account.HasExpiration = account.ExpirationMarketIDs.Len() > 0
		tv.ExpirationTimestamp = nil
		tv.ExpiryAddress = nil
		return false
	}

	account.ExpirationMarketIDs.Add(tv.MarketID)
	account.HasExpiration = true
	ts := expiry
	addr := setter
	tv.ExpirationTimestamp = &ts
	tv.ExpiryAddress = &addr
	return true
}
