package core

import (
	"fmt"

	"MarginIndexer/internal/event"
	"MarginIndexer/internal/ledger"
	fpmath "MarginIndexer/internal/math"
	"MarginIndexer/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

// transitions collects what one event did to the membership sets.
type transitions struct {
	balance []ledger.Transition
	expiry  []bool // true = armed
}

func (ix *Indexer) dispatch(u *unitOfWork, evt event.Event) (transitions, error) {
	var t transitions

	if err := ix.checkSource(evt); err != nil {
		return t, err
	}

	switch e := evt.(type) {
	case event.BalanceEvent:
		return ix.applyBalances(u, e)
	case *event.ExpirySet:
		armed, err := ix.applyExpiry(u, e)
		if err != nil {
			return t, err
		}
		t.expiry = append(t.expiry, armed)
		return t, nil
	case *event.AddMarket:
		return t, ix.addMarket(u, e)
	case *event.RemoveMarket:
		return t, ix.removeMarket(u, e)
	case *event.SetEarningsRate:
		return t, ix.updateGlobals(u, func(g *state.ProtocolGlobals) { g.SetEarningsRate(e.Value) })
	case *event.SetLiquidationSpread:
		return t, ix.updateGlobals(u, func(g *state.ProtocolGlobals) { g.SetLiquidationSpread(e.Value) })
	case *event.SetMarginRatio:
		return t, ix.updateGlobals(u, func(g *state.ProtocolGlobals) { g.SetMarginRatio(e.Value) })
	case *event.SetMinBorrowedValue:
		return t, ix.updateGlobals(u, func(g *state.ProtocolGlobals) { g.SetMinBorrowedValue(e.Value) })
	case *event.SetMarginPremium:
		return t, ix.updateRisk(u, e.MarketID, func(r *state.MarketRiskInfo) { r.SetMarginPremium(e.Value) })
	case *event.SetSpreadPremium:
		return t, ix.updateRisk(u, e.MarketID, func(r *state.MarketRiskInfo) { r.SetSpreadPremium(e.Value) })
	case *event.SetIsClosing:
		return t, ix.updateRisk(u, e.MarketID, func(r *state.MarketRiskInfo) { r.SetIsClosing(e.IsClosing) })
	default:
		return t, fmt.Errorf("%w: %T", ErrUnknownEvent, evt)
	}
}

// checkSource rejects events emitted by a contract other than the one
// configured for their type. A zero configured address disables the check.
func (ix *Indexer) checkSource(evt event.Event) error {
	want := ix.cfg.MarginAddress
	if evt.EventType() == event.EventTypeExpirySet {
		want = ix.cfg.ExpiryAddress
	}
	if want == (common.Address{}) {
		return nil
	}
	if got := evt.Log().Contract; got != want {
		return fmt.Errorf("%w: %s emitted by %s, want %s",
			ErrInvalidSource, evt.EventType(), got.Hex(), want.Hex())
	}
	return nil
}

// applyBalances projects every update in declaration order. Updates on the
// same account share the handle held by the unit of work.
func (ix *Indexer) applyBalances(u *unitOfWork, e event.BalanceEvent) (transitions, error) {
	var t transitions
	for _, upd := range e.BalanceUpdates() {
		asset, err := u.assetForMarket(upd.MarketID)
		if err != nil {
			return t, err
		}
		account, err := u.account(upd.Account)
		if err != nil {
			return t, err
		}
		tv, err := u.tokenValue(account, asset)
		if err != nil {
			return t, err
		}

		newPar := fpmath.ToDecimal(upd.NewPar.Value, upd.NewPar.Sign, uint64(asset.Decimals))
		tr := ix.projector.ApplyBalance(account, tv, newPar)
		t.balance = append(t.balance, tr)

		ix.logger.Debug().
			Str("account", account.ID).
			Uint64("market", upd.MarketID).
			Str("value_par", newPar.String()).
			Bool("set_changed", tr.Changed()).
			Msg("balance updated")
	}
	return t, nil
}

func (ix *Indexer) applyExpiry(u *unitOfWork, e *event.ExpirySet) (bool, error) {
	asset, err := u.assetForMarket(e.MarketID)
	if err != nil {
		return false, err
	}
	account, err := u.account(e.Account)
	if err != nil {
		return false, err
	}
	tv, err := u.tokenValue(account, asset)
	if err != nil {
		return false, err
	}

	armed := ix.projector.ApplyExpiry(account, tv, e.Time, e.Contract)
	ix.logger.Debug().
		Str("account", account.ID).
		Uint64("market", e.MarketID).
		Uint64("expiry", e.Time).
		Bool("armed", armed).
		Msg("expiration updated")
	return armed, nil
}

func (ix *Indexer) addMarket(u *unitOfWork, e *event.AddMarket) error {
	a, err := u.asset(e.Token)
	if err != nil {
		return err
	}
	// A token keeps the market it was first listed under. Listing it again
	// under the same id restores a removed mapping; any other id is ignored.
	switch {
	case a == nil:
		a = state.NewAsset(e.Token, e.MarketID, state.TokenMetadata{
			Name:     e.Name,
			Symbol:   e.Symbol,
			Decimals: e.Decimals,
		})
		u.cs.PutAsset(a)
		u.cs.MapMarket(e.MarketID, e.Token)
	case a.MarketID == e.MarketID:
		u.cs.MapMarket(e.MarketID, e.Token)
	default:
		ix.logger.Warn().
			Uint64("market", e.MarketID).
			Uint64("listed_market", a.MarketID).
			Str("token", a.Address.Hex()).
			Msg("token already listed under another market, mapping ignored")
	}

	g, err := u.globals(ix.cfg.MarginAddress)
	if err != nil {
		return err
	}
	if e.MarketID+1 > g.NumberOfMarkets {
		g.NumberOfMarkets = e.MarketID + 1
	}

	ix.logger.Info().
		Uint64("market", e.MarketID).
		Str("token", a.Address.Hex()).
		Str("symbol", a.Symbol).
		Uint8("decimals", a.Decimals).
		Msg("market added")
	return nil
}

func (ix *Indexer) removeMarket(u *unitOfWork, e *event.RemoveMarket) error {
	if _, err := u.marketToken(e.MarketID); err != nil {
		return err
	}
	u.cs.UnmapMarket(e.MarketID)
	ix.logger.Info().Uint64("market", e.MarketID).Msg("market removed")
	return nil
}

func (ix *Indexer) updateGlobals(u *unitOfWork, set func(*state.ProtocolGlobals)) error {
	g, err := u.globals(ix.cfg.MarginAddress)
	if err != nil {
		return err
	}
	set(g)
	return nil
}

func (ix *Indexer) updateRisk(u *unitOfWork, marketID uint64, set func(*state.MarketRiskInfo)) error {
	r, err := u.riskInfo(marketID)
	if err != nil {
		return err
	}
	set(r)
	return nil
}
