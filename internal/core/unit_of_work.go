package core

import (
	"context"
	"errors"
	"fmt"

	"MarginIndexer/internal/event"
	"MarginIndexer/internal/ledger"
	"MarginIndexer/internal/persistence"
	"MarginIndexer/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

// unitOfWork resolves records for one event. Reads go to the changeset
// first so every sub-update sees the in-flight handles of earlier ones;
// nothing reaches the store until the changeset is committed.
type unitOfWork struct {
	ctx   context.Context
	store persistence.Reader
	cs    *persistence.Changeset
	meta  event.LogMeta

	tx *ledger.Transaction
}

func newUnitOfWork(ctx context.Context, store persistence.Reader, meta event.LogMeta) *unitOfWork {
	return &unitOfWork{
		ctx:   ctx,
		store: store,
		cs:    persistence.NewChangeset(),
		meta:  meta,
	}
}

// account returns the account of ref, creating it zero-initialized, and
// stamps it with the current block.
func (u *unitOfWork) account(ref event.AccountRef) (*ledger.MarginAccount, error) {
	id := ledger.AccountID(ref.Owner, ref.Number)
	a, ok := u.cs.Account(id)
	if !ok {
		stored, err := u.store.GetAccount(u.ctx, id)
		switch {
		case err == nil:
			a = stored
		case errors.Is(err, persistence.ErrNotFound):
			a = ledger.NewMarginAccount(ref.Owner, ref.Number)
		default:
			return nil, fmt.Errorf("load account %s: %w", id, err)
		}
	}
	a.Touch(u.meta.BlockNumber, u.meta.BlockTimestamp)
	u.cs.PutAccount(a)
	return a, nil
}

// transaction returns the registry entry of the current tx.
func (u *unitOfWork) transaction() (*ledger.Transaction, error) {
	if u.tx != nil {
		return u.tx, nil
	}
	id := ledger.TransactionID(u.meta.TxHash)
	t, err := u.store.GetTransaction(u.ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, persistence.ErrNotFound):
		t = &ledger.Transaction{ID: id, BlockNumber: u.meta.BlockNumber, Timestamp: u.meta.BlockTimestamp}
		u.cs.PutTransaction(t)
	default:
		return nil, fmt.Errorf("load transaction %s: %w", id, err)
	}
	u.tx = t
	return t, nil
}

// tokenValue returns the slot of account in asset's market and appends the
// current transaction to its audit trail.
func (u *unitOfWork) tokenValue(account *ledger.MarginAccount, asset *state.Asset) (*ledger.TokenValue, error) {
	tx, err := u.transaction()
	if err != nil {
		return nil, err
	}

	id := ledger.TokenValueID(account.ID, asset.MarketID)
	tv, ok := u.cs.TokenValue(id)
	if !ok {
		stored, err := u.store.GetTokenValue(u.ctx, id)
		switch {
		case err == nil:
			tv = stored
		case errors.Is(err, persistence.ErrNotFound):
			tv = ledger.NewTokenValue(account.ID, asset.MarketID, asset.Address)
		default:
			return nil, fmt.Errorf("load token value %s: %w", id, err)
		}
	}
	tv.RecordTransaction(tx.ID)
	u.cs.PutTokenValue(tv)
	return tv, nil
}

// marketToken resolves a market id, honoring mappings staged by this event.
func (u *unitOfWork) marketToken(marketID uint64) (common.Address, error) {
	if token, staged, removed := u.cs.MarketToken(marketID); staged {
		if removed {
			return common.Address{}, fmt.Errorf("%w: market %d removed", ErrMissingReference, marketID)
		}
		return token, nil
	}
	token, err := u.store.GetMarketToken(u.ctx, marketID)
	if errors.Is(err, persistence.ErrNotFound) {
		return common.Address{}, fmt.Errorf("%w: market %d not registered", ErrMissingReference, marketID)
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("load market %d: %w", marketID, err)
	}
	return token, nil
}

// asset loads an asset by token address; nil when absent.
func (u *unitOfWork) asset(token common.Address) (*state.Asset, error) {
	if a, ok := u.cs.Asset(token); ok {
		return a, nil
	}
	a, err := u.store.GetAsset(u.ctx, token)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load asset %s: %w", token.Hex(), err)
	}
	return a, nil
}

// assetForMarket resolves market id -> token -> asset.
func (u *unitOfWork) assetForMarket(marketID uint64) (*state.Asset, error) {
	token, err := u.marketToken(marketID)
	if err != nil {
		return nil, err
	}
	a, err := u.asset(token)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: token %s of market %d", ErrMissingReference, token.Hex(), marketID)
	}
	return a, nil
}

// globals returns the protocol singleton, creating it with zero values.
func (u *unitOfWork) globals(margin common.Address) (*state.ProtocolGlobals, error) {
	if g := u.cs.Globals(); g != nil {
		return g, nil
	}
	g, err := u.store.GetGlobals(u.ctx, margin)
	switch {
	case err == nil:
	case errors.Is(err, persistence.ErrNotFound):
		g = state.NewProtocolGlobals(margin)
	default:
		return nil, fmt.Errorf("load globals: %w", err)
	}
	u.cs.PutGlobals(g)
	return g, nil
}

// riskInfo returns the risk record of a market, creating it when the market
// is registered.
func (u *unitOfWork) riskInfo(marketID uint64) (*state.MarketRiskInfo, error) {
	if r, ok := u.cs.RiskInfo(marketID); ok {
		return r, nil
	}
	r, err := u.store.GetMarketRiskInfo(u.ctx, marketID)
	switch {
	case err == nil:
	case errors.Is(err, persistence.ErrNotFound):
		token, err := u.marketToken(marketID)
		if err != nil {
			return nil, err
		}
		r = state.NewMarketRiskInfo(marketID, token)
	default:
		return nil, fmt.Errorf("load risk info %d: %w", marketID, err)
	}
	u.cs.PutRiskInfo(r)
	return r, nil
}
