package ledger

import (
	"errors"
	"fmt"
)

// ErrInvariantViolation is returned when projected state is inconsistent.
var ErrInvariantViolation = errors.New("ledger invariant violation")

// InvariantValidator checks the consistency of an account and its slots
// after a projection.
type InvariantValidator struct {
	trackSupply bool
}

func NewInvariantValidator(trackSupply bool) *InvariantValidator {
	return &InvariantValidator{trackSupply: trackSupply}
}

// ValidateAccount verifies each cached boolean matches its set.
func (v *InvariantValidator) ValidateAccount(a *MarginAccount) error {
	if a.HasBorrowValue != (a.BorrowMarketIDs.Len() > 0) {
		return fmt.Errorf("%w: account %s hasBorrowValue=%t with %d borrow markets",
			ErrInvariantViolation, a.ID, a.HasBorrowValue, a.BorrowMarketIDs.Len())
	}
	if a.HasSupplyValue != (a.SupplyMarketIDs.Len() > 0) {
		return fmt.Errorf("%w: account %s hasSupplyValue=%t with %d supply markets",
			ErrInvariantViolation, a.ID, a.HasSupplyValue, a.SupplyMarketIDs.Len())
	}
	if a.HasExpiration != (a.ExpirationMarketIDs.Len() > 0) {
		return fmt.Errorf("%w: account %s hasExpiration=%t with %d expiring markets",
			ErrInvariantViolation, a.ID, a.HasExpiration, a.ExpirationMarketIDs.Len())
	}
	if !v.trackSupply && a.SupplyMarketIDs.Len() > 0 {
		return fmt.Errorf("%w: account %s has supply markets with supply tracking off",
			ErrInvariantViolation, a.ID)
	}
	return nil
}

// ValidateTokenValue verifies the slot's sign and expiration agree with the
// account's set memberships.
func (v *InvariantValidator) ValidateTokenValue(a *MarginAccount, tv *TokenValue) error {
	if tv.AccountID != a.ID {
		return fmt.Errorf("%w: token value %s belongs to %s, not %s",
			ErrInvariantViolation, tv.ID, tv.AccountID, a.ID)
	}

	m := tv.MarketID
	if tv.ValuePar.IsNegative() != a.BorrowMarketIDs.Contains(m) {
		return fmt.Errorf("%w: market %d par %s disagrees with borrow set of %s",
			ErrInvariantViolation, m, tv.ValuePar, a.ID)
	}
	if v.trackSupply && tv.ValuePar.IsPositive() != a.SupplyMarketIDs.Contains(m) {
		return fmt.Errorf("%w: market %d par %s disagrees with supply set of %s",
			ErrInvariantViolation, m, tv.ValuePar, a.ID)
	}
	if tv.IsExpiring() != a.ExpirationMarketIDs.Contains(m) {
		return fmt.Errorf("%w: market %d expiration disagrees with expiration set of %s",
			ErrInvariantViolation, m, a.ID)
	}
	if tv.IsExpiring() && *tv.ExpirationTimestamp == 0 {
		return fmt.Errorf("%w: market %d armed with zero expiration", ErrInvariantViolation, m)
	}
	return nil
}
