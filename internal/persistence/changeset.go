package persistence

import (
	"MarginIndexer/internal/event"
	"MarginIndexer/internal/ledger"
	"MarginIndexer/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

// Changeset collects every write of one event. Records are kept in first-put
// order so that hashing and commit order are deterministic.
type Changeset struct {
	Envelope event.EventEnvelope

	accounts     map[string]*ledger.MarginAccount
	accountOrder []string

	tokenValues map[string]*ledger.TokenValue
	tvOrder     []string

	assets     map[common.Address]*state.Asset
	assetOrder []common.Address

	marketTokens   map[uint64]common.Address
	removedMarkets map[uint64]struct{}
	marketOrder    []uint64

	riskInfos map[uint64]*state.MarketRiskInfo
	riskOrder []uint64

	globals *state.ProtocolGlobals

	transactions map[string]*ledger.Transaction
	txOrder      []string
}

func NewChangeset() *Changeset {
	return &Changeset{
		accounts:       make(map[string]*ledger.MarginAccount),
		tokenValues:    make(map[string]*ledger.TokenValue),
		assets:         make(map[common.Address]*state.Asset),
		marketTokens:   make(map[uint64]common.Address),
		removedMarkets: make(map[uint64]struct{}),
		riskInfos:      make(map[uint64]*state.MarketRiskInfo),
		transactions:   make(map[string]*ledger.Transaction),
	}
}

// Account returns the in-flight handle for id, if staged.
func (cs *Changeset) Account(id string) (*ledger.MarginAccount, bool) {
	a, ok := cs.accounts[id]
	return a, ok
}

func (cs *Changeset) PutAccount(a *ledger.MarginAccount) {
	if _, ok := cs.accounts[a.ID]; !ok {
		cs.accountOrder = append(cs.accountOrder, a.ID)
	}
	cs.accounts[a.ID] = a
}

// Accounts returns the staged accounts in first-put order.
func (cs *Changeset) Accounts() []*ledger.MarginAccount {
	out := make([]*ledger.MarginAccount, 0, len(cs.accountOrder))
	for _, id := range cs.accountOrder {
		out = append(out, cs.accounts[id])
	}
	return out
}

func (cs *Changeset) TokenValue(id string) (*ledger.TokenValue, bool) {
	tv, ok := cs.tokenValues[id]
	return tv, ok
}

func (cs *Changeset) PutTokenValue(tv *ledger.TokenValue) {
	if _, ok := cs.tokenValues[tv.ID]; !ok {
		cs.tvOrder = append(cs.tvOrder, tv.ID)
	}
	cs.tokenValues[tv.ID] = tv
}

func (cs *Changeset) TokenValues() []*ledger.TokenValue {
	out := make([]*ledger.TokenValue, 0, len(cs.tvOrder))
	for _, id := range cs.tvOrder {
		out = append(out, cs.tokenValues[id])
	}
	return out
}

func (cs *Changeset) Asset(token common.Address) (*state.Asset, bool) {
	a, ok := cs.assets[token]
	return a, ok
}

func (cs *Changeset) PutAsset(a *state.Asset) {
	if _, ok := cs.assets[a.Address]; !ok {
		cs.assetOrder = append(cs.assetOrder, a.Address)
	}
	cs.assets[a.Address] = a
}

func (cs *Changeset) Assets() []*state.Asset {
	out := make([]*state.Asset, 0, len(cs.assetOrder))
	for _, addr := range cs.assetOrder {
		out = append(out, cs.assets[addr])
	}
	return out
}

func (cs *Changeset) trackMarket(marketID uint64) {
	_, mapped := cs.marketTokens[marketID]
	_, removed := cs.removedMarkets[marketID]
	if !mapped && !removed {
		cs.marketOrder = append(cs.marketOrder, marketID)
	}
}

// MapMarket stages a market id to token mapping.
func (cs *Changeset) MapMarket(marketID uint64, token common.Address) {
	cs.trackMarket(marketID)
	delete(cs.removedMarkets, marketID)
	cs.marketTokens[marketID] = token
}

// UnmapMarket stages the deletion of a market mapping.
func (cs *Changeset) UnmapMarket(marketID uint64) {
	cs.trackMarket(marketID)
	delete(cs.marketTokens, marketID)
	cs.removedMarkets[marketID] = struct{}{}
}

// MarketToken reports a staged mapping. staged is false when the changeset
// has no opinion about marketID; removed is true when it stages a deletion.
func (cs *Changeset) MarketToken(marketID uint64) (token common.Address, staged bool, removed bool) {
	if t, ok := cs.marketTokens[marketID]; ok {
		return t, true, false
	}
	if _, ok := cs.removedMarkets[marketID]; ok {
		return common.Address{}, true, true
	}
	return common.Address{}, false, false
}

// MarketChange is a staged mapping write or deletion.
type MarketChange struct {
	MarketID uint64
	Token    common.Address
	Removed  bool
}

func (cs *Changeset) MarketChanges() []MarketChange {
	out := make([]MarketChange, 0, len(cs.marketOrder))
	for _, id := range cs.marketOrder {
		if t, ok := cs.marketTokens[id]; ok {
			out = append(out, MarketChange{MarketID: id, Token: t})
		} else {
			out = append(out, MarketChange{MarketID: id, Removed: true})
		}
	}
	return out
}

func (cs *Changeset) RiskInfo(marketID uint64) (*state.MarketRiskInfo, bool) {
	r, ok := cs.riskInfos[marketID]
	return r, ok
}

func (cs *Changeset) PutRiskInfo(r *state.MarketRiskInfo) {
	if _, ok := cs.riskInfos[r.MarketID]; !ok {
		cs.riskOrder = append(cs.riskOrder, r.MarketID)
	}
	cs.riskInfos[r.MarketID] = r
}

func (cs *Changeset) RiskInfos() []*state.MarketRiskInfo {
	out := make([]*state.MarketRiskInfo, 0, len(cs.riskOrder))
	for _, id := range cs.riskOrder {
		out = append(out, cs.riskInfos[id])
	}
	return out
}

func (cs *Changeset) Globals() *state.ProtocolGlobals {
	return cs.globals
}

func (cs *Changeset) PutGlobals(g *state.ProtocolGlobals) {
	cs.globals = g
}

func (cs *Changeset) Transaction(id string) (*ledger.Transaction, bool) {
	t, ok := cs.transactions[id]
	return t, ok
}

func (cs *Changeset) PutTransaction(t *ledger.Transaction) {
	if _, ok := cs.transactions[t.ID]; !ok {
		cs.txOrder = append(cs.txOrder, t.ID)
	}
	cs.transactions[t.ID] = t
}

func (cs *Changeset) Transactions() []*ledger.Transaction {
	out := make([]*ledger.Transaction, 0, len(cs.txOrder))
	for _, id := range cs.txOrder {
		out = append(out, cs.transactions[id])
	}
	return out
}

// Empty reports whether no record was staged.
func (cs *Changeset) Empty() bool {
	return len(cs.accountOrder) == 0 && len(cs.tvOrder) == 0 && len(cs.assetOrder) == 0 &&
		len(cs.marketOrder) == 0 && len(cs.riskOrder) == 0 && cs.globals == nil &&
		len(cs.txOrder) == 0
}
