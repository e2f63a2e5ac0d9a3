package persistence

import (
	"context"
	"sort"
	"sync"

	"MarginIndexer/internal/event"
	"MarginIndexer/internal/ledger"
	"MarginIndexer/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/puzpuzpuz/xsync/v4"
)

// MemoryStore keeps all state in process. It backs tests and the "memory"
// store backend. Commits hold the write lock so readers never observe half
// an event.
type MemoryStore struct {
	mu sync.RWMutex

	accounts     *xsync.Map[string, *ledger.MarginAccount]
	tokenValues  *xsync.Map[string, *ledger.TokenValue]
	trails       *xsync.Map[string, []string]
	byAccount    *xsync.Map[string, []string]
	assets       *xsync.Map[common.Address, *state.Asset]
	marketTokens *xsync.Map[uint64, common.Address]
	riskInfos    *xsync.Map[uint64, *state.MarketRiskInfo]
	globals      *xsync.Map[common.Address, *state.ProtocolGlobals]
	transactions *xsync.Map[string, *ledger.Transaction]
	processed    *xsync.Map[string, int64]

	envelopes []event.EventEnvelope
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     xsync.NewMap[string, *ledger.MarginAccount](),
		tokenValues:  xsync.NewMap[string, *ledger.TokenValue](),
		trails:       xsync.NewMap[string, []string](),
		byAccount:    xsync.NewMap[string, []string](),
		assets:       xsync.NewMap[common.Address, *state.Asset](),
		marketTokens: xsync.NewMap[uint64, common.Address](),
		riskInfos:    xsync.NewMap[uint64, *state.MarketRiskInfo](),
		globals:      xsync.NewMap[common.Address, *state.ProtocolGlobals](),
		transactions: xsync.NewMap[string, *ledger.Transaction](),
		processed:    xsync.NewMap[string, int64](),
	}
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*ledger.MarginAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts.Load(id)
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) GetTokenValue(_ context.Context, id string) (*ledger.TokenValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tv, ok := s.tokenValues.Load(id)
	if !ok {
		return nil, ErrNotFound
	}
	return tv.Clone(), nil
}

func (s *MemoryStore) ListTokenValues(_ context.Context, accountID string) ([]*ledger.TokenValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, _ := s.byAccount.Load(accountID)
	out := make([]*ledger.TokenValue, 0, len(ids))
	for _, id := range ids {
		if tv, ok := s.tokenValues.Load(id); ok {
			out = append(out, tv.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out, nil
}

func (s *MemoryStore) ListUpdateTransactions(_ context.Context, tokenValueID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.tokenValues.Load(tokenValueID); !ok {
		return nil, ErrNotFound
	}
	trail, _ := s.trails.Load(tokenValueID)
	return append([]string{}, trail...), nil
}

func (s *MemoryStore) GetAsset(_ context.Context, token common.Address) (*state.Asset, error) {
	a, ok := s.assets.Load(token)
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) GetMarketToken(_ context.Context, marketID uint64) (common.Address, error) {
	t, ok := s.marketTokens.Load(marketID)
	if !ok {
		return common.Address{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) GetMarketRiskInfo(_ context.Context, marketID uint64) (*state.MarketRiskInfo, error) {
	r, ok := s.riskInfos.Load(marketID)
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) GetGlobals(_ context.Context, margin common.Address) (*state.ProtocolGlobals, error) {
	g, ok := s.globals.Load(margin)
	if !ok {
		return nil, ErrNotFound
	}
	return g.Clone(), nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, id string) (*ledger.Transaction, error) {
	t, ok := s.transactions.Load(id)
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

func (s *MemoryStore) Commit(_ context.Context, cs *Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cs.Envelope.IdempotencyKey
	if _, dup := s.processed.Load(key); dup {
		return ErrAlreadyProcessed
	}

	for _, a := range cs.Accounts() {
		s.accounts.Store(a.ID, a.Clone())
	}
	for _, tv := range cs.TokenValues() {
		if _, exists := s.tokenValues.Load(tv.ID); !exists {
			ids, _ := s.byAccount.Load(tv.AccountID)
			s.byAccount.Store(tv.AccountID, append(append([]string(nil), ids...), tv.ID))
		}
		if len(tv.PendingTransactions) > 0 {
			trail, _ := s.trails.Load(tv.ID)
			s.trails.Store(tv.ID, append(append([]string(nil), trail...), tv.PendingTransactions...))
		}
		s.tokenValues.Store(tv.ID, tv.Persisted())
	}
	for _, a := range cs.Assets() {
		s.assets.Store(a.Address, a.Clone())
	}
	for _, m := range cs.MarketChanges() {
		if m.Removed {
			s.marketTokens.Delete(m.MarketID)
		} else {
			s.marketTokens.Store(m.MarketID, m.Token)
		}
	}
	for _, r := range cs.RiskInfos() {
		s.riskInfos.Store(r.MarketID, r.Clone())
	}
	if g := cs.Globals(); g != nil {
		s.globals.Store(g.ID, g.Clone())
	}
	for _, t := range cs.Transactions() {
		c := *t
		s.transactions.Store(t.ID, &c)
	}

	s.processed.Store(key, cs.Envelope.Sequence)
	s.envelopes = append(s.envelopes, cs.Envelope)
	return nil
}

func (s *MemoryStore) IsDuplicate(_ string, idempotencyKey string) (bool, error) {
	_, ok := s.processed.Load(idempotencyKey)
	return ok, nil
}

func (s *MemoryStore) LoadCursor(_ context.Context, recent int) (*Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.envelopes) == 0 {
		return nil, nil
	}

	last := s.envelopes[len(s.envelopes)-1]
	start := len(s.envelopes) - recent
	if start < 0 {
		start = 0
	}
	keys := make([]string, 0, len(s.envelopes)-start)
	for _, env := range s.envelopes[start:] {
		keys = append(keys, env.IdempotencyKey)
	}
	return &Cursor{
		Sequence:   last.Sequence,
		Position:   last.Log.Position(),
		StateHash:  last.StateHash,
		RecentKeys: keys,
	}, nil
}

func (s *MemoryStore) ListEnvelopes(_ context.Context, from int64, limit int) ([]event.EventEnvelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]event.EventEnvelope, 0)
	for _, env := range s.envelopes {
		if len(out) >= limit {
			break
		}
		if env.Sequence >= from {
			out = append(out, env)
		}
	}
	return out, nil
}

// Envelopes returns the committed event log in commit order.
func (s *MemoryStore) Envelopes() []event.EventEnvelope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]event.EventEnvelope(nil), s.envelopes...)
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
